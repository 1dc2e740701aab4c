package engine

import (
	"fmt"
	"math"
)

// SupportMask marks the elements of a stack of 2-D frames
// that fall within a centred disk covering the fraction
// frac of each frame's area.
//
// The shape must be [layers, height, width]. The disk is
// centred on the geometric centre (n-1)/2 of each frame
// axis, so masks of even-sized frames are symmetric too.
func SupportMask(shape []int, frac float64) (*Storage, error) {
	if len(shape) != 3 {
		return nil, fmt.Errorf("support mask needs a 3-D shape but got %v", shape)
	}
	layers, height, width := shape[0], shape[1], shape[2]
	if layers < 0 || height < 0 || width < 0 {
		return nil, fmt.Errorf("invalid shape %v", shape)
	}
	limit := frac * float64(height*width)
	frame := make([]bool, height*width)
	for i := 0; i < height; i++ {
		x := float64(i) - float64(height-1)/2
		for j := 0; j < width; j++ {
			y := float64(j) - float64(width-1)/2
			frame[i*width+j] = math.Pi*(x*x+y*y) < limit
		}
	}
	mask := make([]bool, 0, layers*len(frame))
	for l := 0; l < layers; l++ {
		mask = append(mask, frame...)
	}
	return &Storage{
		Shape: append([]int{}, shape...),
		Data:  mask,
	}, nil
}
