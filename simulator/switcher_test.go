package simulator

import (
	"math"
	"testing"
)

func TestGreedyDropSwitcher(t *testing.T) {
	switcher := &GreedyDropSwitcher{
		SendRates: []float64{1.0, 2.0, 3.0},
		RecvRates: []float64{2.0, 1.0, 1.0},
	}
	inputMatrices := [][]float64{
		{
			0.0, 1.0, 0.0,
			0.0, 0.0, 1.0,
			1.0, 0.0, 0.0,
		},
		{
			1.0, 0.0, 0.0,
			1.0, 0.0, 0.0,
			1.0, 0.0, 0.0,
		},
		{
			1.0, 1.0, 1.0,
			1.0, 1.0, 1.0,
			1.0, 1.0, 1.0,
		},
	}
	outputMatrices := [][]float64{
		{
			0.0, 1.0, 0.0,
			0.0, 0.0, 1.0,
			2.0, 0.0, 0.0,
		},
		{
			1.0 / 3.0, 0.0, 0.0,
			2.0 / 3.0, 0.0, 0.0,
			3.0 / 3.0, 0.0, 0.0,
		},
		{
			1.0 / 3.0, 1.0 / 6.0, 1.0 / 6.0,
			2.0 / 3.0, 2.0 / 6.0, 2.0 / 6.0,
			3.0 / 3.0, 3.0 / 6.0, 3.0 / 6.0,
		},
	}
	for i, input := range inputMatrices {
		output := outputMatrices[i]
		mat := &ConnMat{numNodes: 3, rates: append([]float64{}, input...)}
		switcher.SwitchedRates(mat)
		for j, actual := range mat.rates {
			if math.Abs(actual-output[j]) > 0.001 {
				t.Errorf("test %d: expected %v but got %v", i, output, mat.rates)
				break
			}
		}
	}
}

func TestGreedyDropSwitcherUniform(t *testing.T) {
	switcher := NewGreedyDropSwitcher(4, 2.5)
	if switcher.NumNodes() != 4 {
		t.Fatalf("expected 4 nodes but got %d", switcher.NumNodes())
	}
	for i := 0; i < 4; i++ {
		if switcher.SendRates[i] != 2.5 || switcher.RecvRates[i] != 2.5 {
			t.Errorf("node %d: unexpected rates %f, %f", i, switcher.SendRates[i],
				switcher.RecvRates[i])
		}
	}
}
