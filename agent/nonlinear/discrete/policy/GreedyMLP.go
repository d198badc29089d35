// Package policy implements action-value based policies for discrete
// action spaces using Gorgonia neural network function approximation.
package policy

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"

	"github.com/softrl/softrl/agent"
	env "github.com/softrl/softrl/environment"
	"github.com/softrl/softrl/network"
	ts "github.com/softrl/softrl/timestep"
	"github.com/softrl/softrl/utils/floatutils"
)

// GreedyMLP implements a greedy policy over the outputs of an
// action-value network. Given an environment with N actions, the
// neural network produces N outputs, each predicting the value of a
// distinct action, and the policy always selects the action of
// maximum predicted value. Value ties are broken by the lowest action
// index, so the policy is a pure function of the network's current
// weights and the observation.
//
// GreedyMLP holds its own VM: each call to GetAction() or
// SelectAction() sets the observation as the network input, runs the
// graph, and reads off the predicted action values. No gradient is
// tracked.
type GreedyMLP struct {
	net network.NeuralNet
	vm  G.VM
}

// NewGreedyMLP creates and returns a new GreedyMLP with a freshly
// initialized action-value network. The hiddenSizes parameter defines
// the number of nodes in each hidden layer, the biases parameter
// outlines which layers should include bias units, and the
// activations parameter determines the activation function for each
// layer. A final linear layer is always added so that the number of
// network outputs equals the number of actions in the environment.
func NewGreedyMLP(e env.Environment, hiddenSizes []int, biases []bool,
	init G.InitWFn, activations []*network.Activation) (agent.NNPolicy,
	error) {
	if e.ActionSpec().Cardinality != env.Discrete {
		return nil, fmt.Errorf("newgreedymlp: actions must be discrete")
	}

	numActions := int(e.ActionSpec().UpperBound.AtVec(0)) + 1
	features := e.ObservationSpec().Shape.Len()

	net, err := network.NewMultiHeadMLP(features, 1, numActions,
		G.NewGraph(), hiddenSizes, biases, init, activations)
	if err != nil {
		return nil, fmt.Errorf("newgreedymlp: could not create action-value "+
			"network: %v", err)
	}

	return NewGreedy(net)
}

// NewGreedy returns a new GreedyMLP that selects actions greedily
// with respect to the argument action-value network. The network must
// have a batch size of 1.
func NewGreedy(net network.NeuralNet) (agent.NNPolicy, error) {
	if net.BatchSize() != 1 {
		return nil, fmt.Errorf("newgreedy: action selection requires a "+
			"batch size of 1 \n\twant(1)\n\thave(%v)", net.BatchSize())
	}

	return &GreedyMLP{
		net: net,
		vm:  G.NewTapeMachine(net.Graph()),
	}, nil
}

// GetAction returns the index of the maximum-valued action at the
// argument observation, together with an (empty) auxiliary info map.
func (g *GreedyMLP) GetAction(obs mat.Vector) (int, map[string]interface{},
	error) {
	input := make([]float64, obs.Len())
	for i := range input {
		input[i] = obs.AtVec(i)
	}
	if err := g.net.SetInput(input); err != nil {
		return 0, nil, fmt.Errorf("getaction: could not set "+
			"observation: %v", err)
	}

	if err := g.vm.RunAll(); err != nil {
		return 0, nil, fmt.Errorf("getaction: could not run action-value "+
			"network: %v", err)
	}
	defer g.vm.Reset()

	actionValues := g.net.Output()[0].Data().([]float64)
	_, maxIndices := floatutils.MaxSlice(actionValues)

	return maxIndices[0], map[string]interface{}{}, nil
}

// SelectAction selects the greedy action at the argument timestep
func (g *GreedyMLP) SelectAction(t ts.TimeStep) *mat.VecDense {
	action, _, err := g.GetAction(t.Observation)
	if err != nil {
		panic(fmt.Sprintf("selectaction: %v", err))
	}
	return mat.NewVecDense(1, []float64{float64(action)})
}

// Eval sets the policy to evaluation mode. A greedy policy behaves
// identically in evaluation and training modes.
func (g *GreedyMLP) Eval() {}

// Train sets the policy to training mode
func (g *GreedyMLP) Train() {}

// IsEval returns whether the policy is in evaluation mode
func (g *GreedyMLP) IsEval() bool { return true }

// Network returns the action-value network of the policy
func (g *GreedyMLP) Network() network.NeuralNet {
	return g.net
}

// Clone clones a GreedyMLP
func (g *GreedyMLP) Clone() (agent.NNPolicy, error) {
	return g.CloneWithBatch(1)
}

// CloneWithBatch clones a GreedyMLP. Greedy policies only support a
// batch size of 1.
func (g *GreedyMLP) CloneWithBatch(batch int) (agent.NNPolicy, error) {
	if batch != 1 {
		return nil, fmt.Errorf("clonewithbatch: greedy policies require a "+
			"batch size of 1 \n\twant(1)\n\thave(%v)", batch)
	}

	net, err := g.net.Clone()
	if err != nil {
		return nil, fmt.Errorf("clonewithbatch: could not clone "+
			"action-value network: %v", err)
	}
	return NewGreedy(net)
}

// Close cleans up the policy's resources
func (g *GreedyMLP) Close() error {
	return g.vm.Close()
}
