package policy

import (
	"testing"

	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"

	"github.com/softrl/softrl/network"
	ts "github.com/softrl/softrl/timestep"
)

func newTestGreedy(t *testing.T, init G.InitWFn) *GreedyMLP {
	net, err := network.NewMultiHeadMLP(2, 1, 3, G.NewGraph(), []int{4},
		[]bool{true}, init, []*network.Activation{network.ReLU()})
	if err != nil {
		t.Fatalf("could not create action-value network: %v", err)
	}

	pol, err := NewGreedy(net)
	if err != nil {
		t.Fatalf("could not create greedy policy: %v", err)
	}
	return pol.(*GreedyMLP)
}

func TestGreedyDeterminism(t *testing.T) {
	pol := newTestGreedy(t, G.GlorotU(1.0))
	defer pol.Close()

	obs := mat.NewVecDense(2, []float64{0.25, -0.75})

	first, info, err := pol.GetAction(obs)
	if err != nil {
		t.Fatalf("could not select action: %v", err)
	}
	if len(info) != 0 {
		t.Errorf("expected empty info map, got %v", info)
	}

	for i := 0; i < 10; i++ {
		action, _, err := pol.GetAction(obs)
		if err != nil {
			t.Fatalf("could not select action: %v", err)
		}
		if action != first {
			t.Errorf("action selection not deterministic: got %v then %v",
				first, action)
		}
	}
}

func TestGreedyTieBreaksLowestIndex(t *testing.T) {
	// All-zero weights give every action the same value
	pol := newTestGreedy(t, G.Zeroes())
	defer pol.Close()

	obs := mat.NewVecDense(2, []float64{1.0, 1.0})
	action, _, err := pol.GetAction(obs)
	if err != nil {
		t.Fatalf("could not select action: %v", err)
	}
	if action != 0 {
		t.Errorf("expected lowest maximizing action 0, got %v", action)
	}
}

func TestGreedySelectAction(t *testing.T) {
	pol := newTestGreedy(t, G.GlorotU(1.0))
	defer pol.Close()

	obs := mat.NewVecDense(2, []float64{0.5, 0.5})
	step := ts.New(ts.Mid, 0.0, 0.99, obs, 1)

	action := pol.SelectAction(step)
	if action.Len() != 1 {
		t.Fatalf("expected 1-dimensional action, got %v", action.Len())
	}

	index := int(action.AtVec(0))
	if index < 0 || index > 2 {
		t.Errorf("selected action %v out of range [0, 2]", index)
	}
}

func TestGreedyCloneRequiresBatchOne(t *testing.T) {
	pol := newTestGreedy(t, G.GlorotU(1.0))
	defer pol.Close()

	if _, err := pol.CloneWithBatch(32); err == nil {
		t.Error("expected error when cloning with batch size > 1")
	}

	clone, err := pol.Clone()
	if err != nil {
		t.Fatalf("could not clone policy: %v", err)
	}
	defer clone.Close()
}
