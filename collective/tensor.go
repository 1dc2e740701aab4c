package collective

import "fmt"

// A Tensor is a dense, row-major array of float64 values.
type Tensor struct {
	Shape []int
	Data  []float64
}

// NewTensor creates a Tensor, checking that data has as
// many elements as shape describes.
func NewTensor(shape []int, data []float64) (*Tensor, error) {
	if n := numElements(shape); n != len(data) {
		return nil, fmt.Errorf("tensor shape %v needs %d elements but got %d", shape, n, len(data))
	}
	return &Tensor{Shape: append([]int{}, shape...), Data: data}, nil
}

// Scalar creates a zero-dimensional Tensor.
func Scalar(x float64) *Tensor {
	return &Tensor{Data: []float64{x}}
}

// Vector creates a one-dimensional Tensor.
func Vector(values ...float64) *Tensor {
	return &Tensor{Shape: []int{len(values)}, Data: values}
}

// Len gets the number of elements.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Value gets the only element of a one-element Tensor.
func (t *Tensor) Value() float64 {
	if len(t.Data) != 1 {
		panic(fmt.Sprintf("tensor of shape %v is not a scalar", t.Shape))
	}
	return t.Data[0]
}

// Reduce folds every element of the Tensor with op.
func (t *Tensor) Reduce(op Op) float64 {
	return op.Fold(t.Data)
}

// ReduceAxis folds the Tensor along one axis, returning a
// Tensor with that axis removed.
func (t *Tensor) ReduceAxis(axis int, op Op) (*Tensor, error) {
	if axis < 0 || axis >= len(t.Shape) {
		return nil, fmt.Errorf("axis %d out of range for shape %v", axis, t.Shape)
	}
	outer := numElements(t.Shape[:axis])
	n := t.Shape[axis]
	inner := numElements(t.Shape[axis+1:])

	out := make([]float64, outer*inner)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			acc := op.Identity
			for k := 0; k < n; k++ {
				acc = op.Apply(acc, t.Data[(o*n+k)*inner+i])
			}
			out[o*inner+i] = acc
		}
	}

	shape := append(append([]int{}, t.Shape[:axis]...), t.Shape[axis+1:]...)
	return &Tensor{Shape: shape, Data: out}, nil
}

func numElements(shape []int) int {
	n := 1
	for _, x := range shape {
		n *= x
	}
	return n
}
