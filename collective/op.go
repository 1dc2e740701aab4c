package collective

import (
	"math"

	"github.com/unixpickle/lockstep/simulator"
)

// FlopTime is the amount of virtual time it takes to
// perform a single floating-point operation.
const FlopTime = 1e-9

// An Op is an associative and commutative binary operator
// used to combine values across ranks.
type Op struct {
	Name string

	// Identity is the value x for which Apply(x, y) == y.
	// It stands in for ranks which have nothing to add.
	Identity float64

	Apply func(x, y float64) float64
}

var (
	Sum = Op{Name: "SUM", Identity: 0, Apply: func(x, y float64) float64 { return x + y }}
	Min = Op{Name: "MIN", Identity: math.Inf(1), Apply: math.Min}
	Max = Op{Name: "MAX", Identity: math.Inf(-1), Apply: math.Max}

	Prod = Op{Name: "PROD", Identity: 1, Apply: func(x, y float64) float64 { return x * y }}
)

// NewOp creates a caller-defined reduction operator.
//
// The result is only well defined if apply is associative
// and commutative, since the allreducers combine values in
// whatever order they arrive.
func NewOp(name string, identity float64, apply func(x, y float64) float64) Op {
	return Op{Name: name, Identity: identity, Apply: apply}
}

// Reduce combines vectors elementwise and returns a new
// vector.
//
// If h is non-nil, the computation is charged FlopTime of
// virtual time per combined element.
func (o Op) Reduce(h *simulator.Handle, vecs ...[]float64) []float64 {
	if len(vecs) == 0 {
		return nil
	}
	for _, v := range vecs[1:] {
		if len(v) != len(vecs[0]) {
			panic("mismatching lengths")
		}
	}
	res := append([]float64{}, vecs[0]...)
	for _, v := range vecs[1:] {
		for i, x := range v {
			res[i] = o.Apply(res[i], x)
		}
	}

	if h != nil {
		h.Sleep(FlopTime * float64(len(vecs)*len(vecs[0])))
	}

	return res
}

// Fold reduces a whole vector to a single value, starting
// from the identity.
func (o Op) Fold(vec []float64) float64 {
	res := o.Identity
	for _, x := range vec {
		res = o.Apply(res, x)
	}
	return res
}
