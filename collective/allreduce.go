package collective

// An Allreducer is an algorithm that applies an Op to
// vectors distributed across ranks, so that every rank
// ends up with the same reduced vector.
//
// Allreduce is called inside a collective round that the
// Comm has already started, and may only use the round's
// messaging methods (Bcast, SendTo, Recv, RecvFrom).
type Allreducer interface {
	Allreduce(c *Comm, data []float64, op Op) []float64
}

// A NaiveAllreducer sends every vector from every rank to
// every other rank.
type NaiveAllreducer struct{}

// Allreduce gathers all vectors on every rank and reduces
// them in rank order.
//
// Reducing in rank order means every rank performs the
// exact same floating-point operations, so the results are
// bitwise identical.
func (n NaiveAllreducer) Allreduce(c *Comm, data []float64, op Op) []float64 {
	gatheredVecs := make([][]float64, c.Size())

	c.Bcast(data)

	for i := 0; i < len(gatheredVecs)-1; i++ {
		incoming, source := c.Recv()
		gatheredVecs[source] = incoming
	}

	gatheredVecs[c.Rank()] = data

	return op.Reduce(c.Handle(), gatheredVecs...)
}

// A TreeAllreducer arranges the ranks in a binary tree
// rooted at rank 0, reduces up the tree, and then sends
// the result back down.
type TreeAllreducer struct{}

// Allreduce reduces data along the tree and returns the
// root's result.
func (t TreeAllreducer) Allreduce(c *Comm, data []float64, op Op) []float64 {
	parent, children := positionInTree(c.Rank(), c.Size())

	// Children are combined in rank order for the same
	// reason as in NaiveAllreducer.
	messages := [][]float64{data}
	for _, child := range children {
		messages = append(messages, c.RecvFrom(child))
	}

	finalVector := op.Reduce(c.Handle(), messages...)
	if parent >= 0 {
		c.SendTo(parent, finalVector)
		finalVector = c.RecvFrom(parent)
	}

	for _, child := range children {
		c.SendTo(child, finalVector)
	}

	return finalVector
}

// positionInTree returns the parent and children of a rank
// in a binary heap layout.
//
// The root has parent -1. Leaves have no children.
func positionInTree(rank, size int) (parent int, children []int) {
	parent = -1
	if rank > 0 {
		parent = (rank - 1) / 2
	}
	for _, child := range []int{2*rank + 1, 2*rank + 2} {
		if child < size {
			children = append(children, child)
		}
	}
	return
}
