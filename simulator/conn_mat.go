package simulator

// A ConnMat is a connectivity matrix between the Nodes of a
// network.
//
// Entry (src, dst) is the rate at which data flows from the
// source Node (row) to the destination Node (column).
type ConnMat struct {
	numNodes int
	rates    []float64
}

// NewConnMat creates an all-zero connection matrix.
func NewConnMat(numNodes int) *ConnMat {
	return &ConnMat{
		numNodes: numNodes,
		rates:    make([]float64, numNodes*numNodes),
	}
}

// NumNodes returns the number of nodes.
func (c *ConnMat) NumNodes() int {
	return c.numNodes
}

// Get an entry in the matrix.
func (c *ConnMat) Get(src, dst int) float64 {
	c.checkIndex(src)
	c.checkIndex(dst)
	return c.rates[src*c.numNodes+dst]
}

// Set an entry in the matrix.
func (c *ConnMat) Set(src, dst int, value float64) {
	c.checkIndex(src)
	c.checkIndex(dst)
	c.rates[src*c.numNodes+dst] = value
}

// SumDest sums a column of the matrix, which is the total
// rate flowing into dst.
func (c *ConnMat) SumDest(dst int) float64 {
	c.checkIndex(dst)
	var sum float64
	for src := 0; src < c.numNodes; src++ {
		sum += c.rates[src*c.numNodes+dst]
	}
	return sum
}

// SumSource sums a row of the matrix, which is the total
// rate flowing out of src.
func (c *ConnMat) SumSource(src int) float64 {
	c.checkIndex(src)
	var sum float64
	for _, r := range c.rates[src*c.numNodes : (src+1)*c.numNodes] {
		sum += r
	}
	return sum
}

// ScaleDest scales a column of the matrix.
func (c *ConnMat) ScaleDest(dst int, scale float64) {
	c.checkIndex(dst)
	for src := 0; src < c.numNodes; src++ {
		c.rates[src*c.numNodes+dst] *= scale
	}
}

// ScaleSource scales a row of the matrix.
func (c *ConnMat) ScaleSource(src int, scale float64) {
	c.checkIndex(src)
	row := c.rates[src*c.numNodes : (src+1)*c.numNodes]
	for i := range row {
		row[i] *= scale
	}
}

func (c *ConnMat) checkIndex(i int) {
	if i < 0 || i >= c.numNodes {
		panic("index out of bounds")
	}
}
