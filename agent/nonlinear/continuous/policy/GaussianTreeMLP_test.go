package policy

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r1"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/softrl/softrl/environment"
	"github.com/softrl/softrl/environment/pointmass"
	"github.com/softrl/softrl/network"
)

// newPointMass returns a point mass environment with a deterministic
// starting state
func newPointMass(t *testing.T) environment.Environment {
	bounds := []r1.Interval{
		{Min: 0.1, Max: 0.1},
		{Min: 0.0, Max: 0.0},
	}
	starter := environment.NewUniformStarter(bounds, 14)
	task := pointmass.NewReach(starter, 1.0, 100)

	pm, _, err := pointmass.New(task, 0.99)
	if err != nil {
		t.Fatalf("could not create environment: %v", err)
	}
	return pm
}

// newZeroPolicy returns a batch-1 GaussianTreeMLP whose weights are all
// zero, so that the policy distribution is N(0, exp(0) + stdOffset) in
// every state
func newZeroPolicy(t *testing.T, env environment.Environment,
	batchSize int) *GaussianTreeMLP {
	pol, err := NewGaussianTreeMLP(
		env,
		batchSize,
		[]int{2},
		[]bool{true},
		[]*network.Activation{network.ReLU()},
		[][]int{{2}, {2}},
		[][]bool{{true}, {true}},
		[][]*network.Activation{
			{network.ReLU()},
			{network.ReLU()},
		},
		G.Zeroes(),
		14,
	)
	if err != nil {
		t.Fatalf("could not create policy: %v", err)
	}
	return pol.(*GaussianTreeMLP)
}

func TestGaussianLogPdf(t *testing.T) {
	env := newPointMass(t)
	pol := newZeroPolicy(t, env, 1)
	defer pol.Close()

	action := 0.5
	if _, err := pol.LogPdfOf([]float64{0.1, 0.0},
		[]float64{action}); err != nil {
		t.Fatalf("could not set log PDF inputs: %v", err)
	}

	if err := pol.vm.RunAll(); err != nil {
		t.Fatalf("could not run policy VM: %v", err)
	}
	defer pol.vm.Reset()

	// With all-zero weights the policy is N(0, 1 + stdOffset)
	std := math.Exp(0.0) + stdOffset
	expected := -0.5*math.Pow(action/std, 2) - math.Log(std) -
		0.5*math.Log(2*math.Pi)

	logProb := pol.LogPdfVal().Data().([]float64)
	if len(logProb) != 1 {
		t.Fatalf("expected a single log probability, got %v", len(logProb))
	}
	if math.Abs(logProb[0]-expected) > 1e-8 {
		t.Errorf("incorrect log probability: expected %v, got %v", expected,
			logProb[0])
	}
}

func TestGaussianSampleIsReparameterized(t *testing.T) {
	env := newPointMass(t)
	pol := newZeroPolicy(t, env, 1)
	defer pol.Close()

	// Fix the noise input so the sample is a deterministic function of
	// the mean and standard deviation
	noise := 0.3
	if err := pol.Network().SetInput([]float64{0.1, 0.0}); err != nil {
		t.Fatalf("could not set states: %v", err)
	}
	noiseTensor := tensor.NewDense(tensor.Float64, []int{1, 1},
		tensor.WithBacking([]float64{noise}))
	if err := G.Let(pol.epsilon, noiseTensor); err != nil {
		t.Fatalf("could not set noise: %v", err)
	}

	if err := pol.vm.RunAll(); err != nil {
		t.Fatalf("could not run policy VM: %v", err)
	}
	defer pol.vm.Reset()

	// sample = μ + σ * ɛ = 0 + (1 + stdOffset) * noise
	expected := (math.Exp(0.0) + stdOffset) * noise
	sample := pol.SampleVal().Data().([]float64)
	if math.Abs(sample[0]-expected) > 1e-12 {
		t.Errorf("incorrect sample: expected %v, got %v", expected, sample[0])
	}
}

func TestGaussianSelectActionEvalReturnsMean(t *testing.T) {
	env := newPointMass(t)
	pol := newZeroPolicy(t, env, 1)
	defer pol.Close()

	pol.Eval()
	if !pol.IsEval() {
		t.Fatal("policy not in evaluation mode after Eval()")
	}

	step := env.Reset()
	for i := 0; i < 3; i++ {
		action := pol.SelectAction(step)
		if action.Len() != 1 {
			t.Fatalf("expected 1-dimensional action, got %v", action.Len())
		}
		if action.AtVec(0) != 0.0 {
			t.Errorf("evaluation mode action is not the mean: got %v",
				action.AtVec(0))
		}
	}
}

func TestGaussianCloneWithBatchCopiesWeights(t *testing.T) {
	env := newPointMass(t)
	pol := newZeroPolicy(t, env, 1)
	defer pol.Close()

	clone, err := pol.CloneWithBatch(4)
	if err != nil {
		t.Fatalf("could not clone policy: %v", err)
	}
	defer clone.Close()

	if clone.Network().BatchSize() != 4 {
		t.Errorf("expected clone batch size 4, got %v",
			clone.Network().BatchSize())
	}

	cloneLearnables := clone.Network().Learnables()
	for i, learnable := range pol.Network().Learnables() {
		orig := learnable.Value().Data().([]float64)
		cloned := cloneLearnables[i].Value().Data().([]float64)
		for j := range orig {
			if orig[j] != cloned[j] {
				t.Errorf("learnable %v weight %v not copied: expected %v, "+
					"got %v", i, j, orig[j], cloned[j])
			}
		}
	}
}
