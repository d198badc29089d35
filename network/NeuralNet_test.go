package network

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// newTestMLP returns a small MultiHeadMLP with every learnable set to
// the argument constant value. Bias units are always created at zero
// regardless of the weight initializer, so every learnable is set
// explicitly after construction.
func newTestMLP(t *testing.T, value float64) NeuralNet {
	net, err := NewMultiHeadMLP(3, 1, 2, G.NewGraph(), []int{4},
		[]bool{true}, G.Zeroes(), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("could not create network: %v", err)
	}

	for _, learnable := range net.Learnables() {
		backing := make([]float64, learnable.Shape().TotalSize())
		for i := range backing {
			backing[i] = value
		}
		filled := tensor.New(tensor.WithBacking(backing),
			tensor.WithShape(learnable.Shape()...))
		if err := G.Let(learnable, filled); err != nil {
			t.Fatalf("could not set learnable value: %v", err)
		}
	}
	return net
}

func TestSetCopiesWeights(t *testing.T) {
	source := newTestMLP(t, 1.0)
	dest := newTestMLP(t, 0.0)

	if err := Set(dest, source); err != nil {
		t.Fatalf("could not set weights: %v", err)
	}

	for i, learnable := range dest.Learnables() {
		for j, w := range learnable.Value().Data().([]float64) {
			if w != 1.0 {
				t.Errorf("learnable %v weight %v not copied: expected 1.0, "+
					"got %v", i, j, w)
			}
		}
	}
}

func TestPolyakAveragesWeights(t *testing.T) {
	taus := []float64{0.0, 0.5, 1.0}

	for _, tau := range taus {
		source := newTestMLP(t, 1.0)
		dest := newTestMLP(t, 0.0)

		if err := Polyak(dest, source, tau); err != nil {
			t.Fatalf("could not average weights: %v", err)
		}

		// dest <- (1 - tau) * 0 + tau * 1 = tau
		for i, learnable := range dest.Learnables() {
			for j, w := range learnable.Value().Data().([]float64) {
				if math.Abs(w-tau) > 1e-12 {
					t.Errorf("tau %v: learnable %v weight %v: expected %v, "+
						"got %v", tau, i, j, tau, w)
				}
			}
		}
	}
}

func TestPolyakRepeatedCallsConverge(t *testing.T) {
	source := newTestMLP(t, 1.0)
	dest := newTestMLP(t, 0.0)

	// With a fixed source, n averaging steps shrink the gap between
	// dest and source by a factor of (1 - tau)^n
	tau := 0.5
	n := 5
	for i := 0; i < n; i++ {
		if err := Polyak(dest, source, tau); err != nil {
			t.Fatalf("could not average weights: %v", err)
		}
	}

	expected := 1.0 - math.Pow(1.0-tau, float64(n))
	for i, learnable := range dest.Learnables() {
		for j, w := range learnable.Value().Data().([]float64) {
			if math.Abs(w-expected) > 1e-12 {
				t.Errorf("learnable %v weight %v: expected %v, got %v", i, j,
					expected, w)
			}
		}
	}
}

func TestPolyakLeavesSourceUntouched(t *testing.T) {
	source := newTestMLP(t, 1.0)
	dest := newTestMLP(t, 0.0)

	if err := Polyak(dest, source, 0.5); err != nil {
		t.Fatalf("could not average weights: %v", err)
	}

	for i, learnable := range source.Learnables() {
		for j, w := range learnable.Value().Data().([]float64) {
			if w != 1.0 {
				t.Errorf("learnable %v weight %v modified: expected 1.0, "+
					"got %v", i, j, w)
			}
		}
	}
}
