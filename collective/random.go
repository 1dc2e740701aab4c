package collective

import "math/rand"

// RandNormal draws n samples from a normal distribution
// such that every rank gets the same samples.
//
// Only the master draws from rng; the samples reach the
// other ranks through a sum-allreduce in which they
// contribute zeros. rng may be nil on non-master ranks.
func (c *Comm) RandNormal(rng *rand.Rand, n int, loc, scale float64) []float64 {
	return c.masterSample(n, func() float64 {
		return loc + scale*rng.NormFloat64()
	})
}

// RandUniform is like RandNormal, but samples uniformly
// from [low, high).
func (c *Comm) RandUniform(rng *rand.Rand, n int, low, high float64) []float64 {
	return c.masterSample(n, func() float64 {
		return low + (high-low)*rng.Float64()
	})
}

func (c *Comm) masterSample(n int, draw func() float64) []float64 {
	sample := make([]float64, n)
	if c.IsMaster() {
		for i := range sample {
			sample[i] = draw()
		}
	}
	c.AllReduceInPlace(sample, Sum)
	return sample
}
