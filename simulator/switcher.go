package simulator

// A Switcher decides how fast data flows between the Nodes
// of a switched network, and in particular what happens
// when a Node is oversubscribed.
type Switcher interface {
	// SwitchedRates computes the transfer rate of every
	// connection in place.
	//
	// On entry, mat holds 1 wherever a Node has data for
	// another Node and 0 everywhere else. On return, it
	// holds the rate between every pair of Nodes.
	SwitchedRates(mat *ConnMat)
}

// A GreedyDropSwitcher models a switch where a Node spreads
// its upload bandwidth evenly over the connections it is
// sending on, and an oversubscribed receiver drops incoming
// data uniformly.
//
// This amounts to normalizing the rows of the connection
// matrix and then the columns.
type GreedyDropSwitcher struct {
	SendRates []float64
	RecvRates []float64
}

// NewGreedyDropSwitcher creates a GreedyDropSwitcher where
// every Node uploads and downloads at the same rate.
func NewGreedyDropSwitcher(numNodes int, rate float64) *GreedyDropSwitcher {
	rates := make([]float64, numNodes)
	for i := range rates {
		rates[i] = rate
	}
	return &GreedyDropSwitcher{
		SendRates: rates,
		RecvRates: rates,
	}
}

// NumNodes gets the number of nodes the switch expects.
func (g *GreedyDropSwitcher) NumNodes() int {
	return len(g.SendRates)
}

// SwitchedRates performs the switching algorithm.
func (g *GreedyDropSwitcher) SwitchedRates(mat *ConnMat) {
	if mat.NumNodes() != g.NumNodes() {
		panic("unexpected number of nodes")
	}

	for src := 0; src < g.NumNodes(); src++ {
		if numDests := mat.SumSource(src); numDests > 0 {
			mat.ScaleSource(src, g.SendRates[src]/numDests)
		}
	}

	// Receivers keep the same share of every sender's
	// traffic when they are over capacity.
	for dst := 0; dst < g.NumNodes(); dst++ {
		if incoming := mat.SumDest(dst); incoming > g.RecvRates[dst] {
			mat.ScaleDest(dst, g.RecvRates[dst]/incoming)
		}
	}
}
