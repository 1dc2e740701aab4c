package collective

// AllReduceInPlace combines data elementwise across all
// ranks with op and overwrites data with the result.
//
// Every rank must pass a vector of the same length. With a
// single rank, or an empty vector, this does nothing and
// does not start a collective round.
func (c *Comm) AllReduceInPlace(data []float64, op Op) {
	if c.Size() == 1 || len(data) == 0 {
		return
	}
	c.beginRound()
	result := c.allreducer.Allreduce(c, data, op)
	if len(result) != len(data) {
		panic("allreducer returned a vector of the wrong length")
	}
	copy(data, result)
}

// Barrier blocks until every rank has called Barrier for
// the current round.
//
// Arrivals are gathered up a binary tree to rank 0, which
// then releases the ranks back down the tree.
func (c *Comm) Barrier() {
	if c.Size() == 1 {
		return
	}
	c.beginRound()
	parent, children := positionInTree(c.Rank(), c.Size())
	for _, child := range children {
		c.RecvFrom(child)
	}
	if parent >= 0 {
		c.SendTo(parent, nil)
		c.RecvFrom(parent)
	}
	for _, child := range children {
		c.SendTo(child, nil)
	}
	c.logger.Debug("barrier released", "rank", c.Rank(), "round", c.round)
}
