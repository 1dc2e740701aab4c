package collective

import (
	"errors"
	"fmt"
)

// AxisNone asks ReduceDistributed to reduce every element
// of every shard on every rank to a single scalar.
const AxisNone = -1

// ErrAllAbsent is returned on every rank when a
// cross-rank reduction has no data at all to reduce.
var ErrAllAbsent = errors.New("all contributions to the reduction are absent")

// A Reduction is the result of ReduceDistributed.
type Reduction struct {
	// Global is identical on every rank. It is a scalar for
	// AxisNone and has a shard's shape for axis 0.
	Global *Tensor

	// Local has one entry per input shard for axis > 0.
	// Entries for absent shards are nil.
	Local []*Tensor
}

// ReduceDistributed reduces a list of shards held by this
// rank, where a nil shard is an absent contribution (data
// this rank does not own).
//
// The axis argument selects what is reduced:
//
//   - AxisNone: all present elements of all shards of all
//     ranks are folded into one scalar.
//   - 0: present shards are combined elementwise, then
//     combined elementwise across ranks.
//   - axis > 0: each present shard is reduced along
//     dimension axis-1. No communication happens and the
//     result differs between ranks.
//
// AxisNone and 0 are collective calls. If no rank has any
// present shard, every rank gets ErrAllAbsent.
func (c *Comm) ReduceDistributed(shards []*Tensor, op Op, axis int) (*Reduction, error) {
	switch {
	case axis == AxisNone:
		return c.reduceAll(shards, op)
	case axis == 0:
		return c.reduceAcross(shards, op)
	case axis > 0:
		return reduceLocal(shards, op, axis-1)
	default:
		return nil, fmt.Errorf("invalid reduction axis: %d", axis)
	}
}

func (c *Comm) reduceAll(shards []*Tensor, op Op) (*Reduction, error) {
	value := op.Identity
	var present int
	for _, shard := range shards {
		if shard != nil {
			value = op.Apply(value, shard.Reduce(op))
			present = 1
		}
	}

	if _, err := c.agreePresence(present, 0, op); err != nil {
		return nil, err
	}

	result := []float64{value}
	c.AllReduceInPlace(result, op)
	return &Reduction{Global: Scalar(result[0])}, nil
}

func (c *Comm) reduceAcross(shards []*Tensor, op Op) (*Reduction, error) {
	var shape []int
	var local [][]float64
	for _, shard := range shards {
		if shard != nil {
			if shape == nil {
				shape = shard.Shape
			}
			local = append(local, shard.Data)
		}
	}

	present := 0
	if len(local) > 0 {
		present = 1
	}
	numDims, err := c.agreePresence(present, len(shape), op)
	if err != nil {
		return nil, err
	}

	// Ranks without data learn the shape from the others.
	dims := make([]float64, numDims)
	for i, x := range shape {
		dims[i] = float64(x)
	}
	c.AllReduceInPlace(dims, Max)
	shape = make([]int, len(dims))
	for i, x := range dims {
		shape[i] = int(x)
	}

	var data []float64
	if len(local) > 0 {
		data = op.Reduce(c.Handle(), local...)
	} else {
		data = make([]float64, numElements(shape))
		for i := range data {
			data[i] = op.Identity
		}
	}
	c.AllReduceInPlace(data, op)

	global, err := NewTensor(shape, data)
	if err != nil {
		return nil, err
	}
	return &Reduction{Global: global}, nil
}

// agreePresence checks, collectively, that at least one
// rank has data, and returns the largest dimension count
// reported by any rank.
func (c *Comm) agreePresence(present, numDims int, op Op) (int, error) {
	meta := []float64{float64(present), float64(numDims)}
	c.AllReduceInPlace(meta, Max)
	if meta[0] == 0 {
		c.logger.Warn("reduction with no data on any rank", "rank", c.Rank(), "op", op.Name)
		return 0, ErrAllAbsent
	}
	return int(meta[1]), nil
}

func reduceLocal(shards []*Tensor, op Op, axis int) (*Reduction, error) {
	res := make([]*Tensor, len(shards))
	for i, shard := range shards {
		if shard == nil {
			continue
		}
		reduced, err := shard.ReduceAxis(axis, op)
		if err != nil {
			return nil, fmt.Errorf("reduce shard %d: %w", i, err)
		}
		res[i] = reduced
	}
	return &Reduction{Local: res}, nil
}

// SumDistributed is ReduceDistributed with Sum.
func (c *Comm) SumDistributed(shards []*Tensor, axis int) (*Reduction, error) {
	return c.ReduceDistributed(shards, Sum, axis)
}

// MinDistributed is ReduceDistributed with Min.
func (c *Comm) MinDistributed(shards []*Tensor, axis int) (*Reduction, error) {
	return c.ReduceDistributed(shards, Min, axis)
}

// MaxDistributed is ReduceDistributed with Max.
func (c *Comm) MaxDistributed(shards []*Tensor, axis int) (*Reduction, error) {
	return c.ReduceDistributed(shards, Max, axis)
}

// ProdDistributed is ReduceDistributed with Prod.
func (c *Comm) ProdDistributed(shards []*Tensor, axis int) (*Reduction, error) {
	return c.ReduceDistributed(shards, Prod, axis)
}
