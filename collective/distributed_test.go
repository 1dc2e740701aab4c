package collective

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
)

func TestReduceDistributedScalar(t *testing.T) {
	for _, numNodes := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("Nodes=%d", numNodes), func(t *testing.T) {
			sums := make([]float64, numNodes)
			mins := make([]float64, numNodes)
			maxes := make([]float64, numNodes)
			runRanks(t, numNodes, true, func(c *Comm) {
				shards := []*Tensor{Scalar(float64(c.Rank() + 1))}
				for _, x := range []struct {
					out []float64
					op  Op
				}{{sums, Sum}, {mins, Min}, {maxes, Max}} {
					res, err := c.ReduceDistributed(shards, x.op, AxisNone)
					if err != nil {
						t.Error(err)
						return
					}
					x.out[c.Rank()] = res.Global.Value()
				}
			})
			for rank := 0; rank < numNodes; rank++ {
				if expected := float64(numNodes * (numNodes + 1) / 2); sums[rank] != expected {
					t.Errorf("rank %d: sum %f, expected %f", rank, sums[rank], expected)
				}
				if mins[rank] != 1 {
					t.Errorf("rank %d: min %f, expected 1", rank, mins[rank])
				}
				if maxes[rank] != float64(numNodes) {
					t.Errorf("rank %d: max %f, expected %d", rank, maxes[rank], numNodes)
				}
			}
		})
	}
}

// TestReduceDistributedAbsent gives only some ranks data,
// for a mix of shards per rank.
func TestReduceDistributedAbsent(t *testing.T) {
	const numNodes = 5
	results := make([]float64, numNodes)
	runRanks(t, numNodes, true, func(c *Comm) {
		var shards []*Tensor
		if c.Rank()%2 == 0 {
			shards = []*Tensor{nil, Vector(1, 2, 3), nil, Vector(float64(c.Rank()))}
		} else {
			shards = []*Tensor{nil, nil}
		}
		res, err := c.ProdDistributed(shards, AxisNone)
		if err != nil {
			t.Error(err)
			return
		}
		results[c.Rank()] = res.Global.Value()
	})
	// Ranks 0, 2 and 4 contribute 6*rank each.
	for rank, x := range results {
		if x != 0 {
			t.Errorf("rank %d: expected product 0 (rank 0 holds a zero) but got %f", rank, x)
		}
	}

	runRanks(t, numNodes, true, func(c *Comm) {
		var shards []*Tensor
		if c.Rank()%2 == 0 {
			shards = []*Tensor{Vector(1, 2, 3), nil, Vector(float64(c.Rank()))}
		}
		res, err := c.SumDistributed(shards, AxisNone)
		if err != nil {
			t.Error(err)
			return
		}
		results[c.Rank()] = res.Global.Value()
	})
	for rank, x := range results {
		if expected := 3*6.0 + 0 + 2 + 4; x != expected {
			t.Errorf("rank %d: expected sum %f but got %f", rank, expected, x)
		}
	}
}

func TestReduceDistributedAxis0(t *testing.T) {
	const numNodes = 4
	results := make([]*Tensor, numNodes)
	runRanks(t, numNodes, true, func(c *Comm) {
		r := float64(c.Rank())
		shards := []*Tensor{Vector(r, 2*r, 3*r)}
		if c.Rank() == 2 {
			// Ranks may own no data for the slot at all.
			shards = []*Tensor{nil}
		}
		res, err := c.SumDistributed(shards, 0)
		if err != nil {
			t.Error(err)
			return
		}
		results[c.Rank()] = res.Global
	})
	expected := []float64{4, 8, 12}
	for rank, res := range results {
		if len(res.Shape) != 1 || res.Shape[0] != 3 {
			t.Errorf("rank %d: unexpected shape %v", rank, res.Shape)
			continue
		}
		for i, x := range expected {
			if res.Data[i] != x {
				t.Errorf("rank %d: expected %v but got %v", rank, expected, res.Data)
				break
			}
		}
	}
}

func TestReduceDistributedAxis0MultiShard(t *testing.T) {
	maxes := make([]*Tensor, 3)
	runRanks(t, 3, false, func(c *Comm) {
		r := float64(c.Rank())
		a, _ := NewTensor([]int{2, 2}, []float64{r, 0, 0, -r})
		b, _ := NewTensor([]int{2, 2}, []float64{0, r, 0, 0})
		res, err := c.MaxDistributed([]*Tensor{a, nil, b}, 0)
		if err != nil {
			t.Error(err)
			return
		}
		maxes[c.Rank()] = res.Global
	})
	for rank, res := range maxes {
		if !sameShape(res.Shape, []int{2, 2}) {
			t.Fatalf("rank %d: unexpected shape %v", rank, res.Shape)
		}
		expected := []float64{2, 2, 0, 0}
		for i, x := range expected {
			if res.Data[i] != x {
				t.Errorf("rank %d: expected %v but got %v", rank, expected, res.Data)
				break
			}
		}
	}
}

func TestReduceDistributedLocalAxis(t *testing.T) {
	runRanks(t, 3, true, func(c *Comm) {
		m, _ := NewTensor([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
		res, err := c.MinDistributed([]*Tensor{m, nil}, 2)
		if err != nil {
			t.Error(err)
			return
		}
		if len(res.Local) != 2 || res.Local[1] != nil {
			t.Errorf("absent shard should map to nil: %v", res.Local)
			return
		}
		if !sameShape(res.Local[0].Shape, []int{2}) || res.Local[0].Data[0] != 1 ||
			res.Local[0].Data[1] != 4 {
			t.Errorf("unexpected row minima: %v", res.Local[0])
		}
		if c.Round() != 0 {
			t.Errorf("local reduction started %d collective rounds", c.Round())
		}
		if _, err := c.SumDistributed([]*Tensor{m}, 3); err == nil {
			t.Error("expected axis out of range error")
		}
	})
}

func TestReduceDistributedAllAbsent(t *testing.T) {
	for _, axis := range []int{AxisNone, 0} {
		errs := make([]error, 4)
		runRanks(t, 4, true, func(c *Comm) {
			_, errs[c.Rank()] = c.SumDistributed([]*Tensor{nil, nil}, axis)
			// The communicator stays usable after the error.
			c.Barrier()
		})
		for rank, err := range errs {
			if !errors.Is(err, ErrAllAbsent) {
				t.Errorf("axis %d rank %d: expected ErrAllAbsent but got %v", axis, rank, err)
			}
		}
	}
}

func TestTensorReduceAxis(t *testing.T) {
	tensor, err := NewTensor([]int{2, 3, 2}, []float64{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	})
	if err != nil {
		t.Fatal(err)
	}
	for axis, expected := range [][]float64{
		{8, 10, 12, 14, 16, 18},
		{9, 12, 27, 30},
		{3, 7, 11, 15, 19, 23},
	} {
		res, err := tensor.ReduceAxis(axis, Sum)
		if err != nil {
			t.Fatal(err)
		}
		for i, x := range expected {
			if res.Data[i] != x {
				t.Errorf("axis %d: expected %v but got %v", axis, expected, res.Data)
				break
			}
		}
	}
	if _, err := NewTensor([]int{2, 2}, []float64{1}); err == nil {
		t.Error("expected shape mismatch error")
	}
}

func TestRandSynchronized(t *testing.T) {
	const numNodes = 6
	normals := make([][]float64, numNodes)
	uniforms := make([][]float64, numNodes)
	runRanks(t, numNodes, true, func(c *Comm) {
		var rng *rand.Rand
		if c.IsMaster() {
			rng = rand.New(rand.NewSource(1))
		}
		normals[c.Rank()] = c.RandNormal(rng, 10, 5, 2)
		uniforms[c.Rank()] = c.RandUniform(rng, 10, -1, 1)
	})
	for rank := 1; rank < numNodes; rank++ {
		for i := range normals[0] {
			if normals[rank][i] != normals[0][i] || uniforms[rank][i] != uniforms[0][i] {
				t.Fatalf("rank %d disagrees with the master at sample %d", rank, i)
			}
		}
	}
	for _, x := range uniforms[0] {
		if x < -1 || x >= 1 {
			t.Errorf("uniform sample %f out of range", x)
		}
	}
}
