// Package network implements neural networks on Gorgonia computational
// graphs
package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NeuralNet implements a neural network on a Gorgonia computational
// graph. A NeuralNet only populates a graph with the operations of its
// forward pass. It has no VM of its own; an external VM is needed to
// run the graph.
type NeuralNet interface {
	// Graph returns the computational graph that the network is
	// built on
	Graph() *G.ExprGraph

	// Clone and CloneWithBatch clone the network to a new
	// computational graph, with the same or a new input batch size
	Clone() (NeuralNet, error)
	CloneWithBatch(int) (NeuralNet, error)

	// cloneWithInputTo clones the network to the graph g, using the
	// argument nodes as the network input. If multiple input nodes
	// are given, they are concatenated along the given axis first.
	cloneWithInputTo(axis int, inputs []*G.Node,
		g *G.ExprGraph) (NeuralNet, error)

	// BatchSize returns the number of samples in input batches
	BatchSize() int

	// Features returns the number of features in a single input sample
	Features() int

	// OutputLayers returns the number of output layers. For example, a
	// TreeMLP has one output layer per leaf network.
	OutputLayers() int

	// Input returns the node of the computational graph that holds
	// the network input
	Input() *G.Node

	// SetInput sets the value of the network's input node. The input
	// slice should be constructed in row major order.
	SetInput([]float64) error

	// Learnables returns the learnable nodes of the network and Model
	// returns those nodes together with their gradients
	Learnables() G.Nodes
	Model() []G.ValueGrad

	// Prediction returns the nodes of the computational graph that
	// store the network predictions, and Output returns the values of
	// those nodes after a VM has run the graph
	Prediction() []*G.Node
	Output() []G.Value
}

// CloneWithInputsTo clones a NeuralNet to the computational graph g,
// using the argument nodes as the cloned network's input. If multiple
// input nodes are given, they are first concatenated along axis. All
// input nodes must already exist in g.
//
// This is how networks are composed on a single graph: for example, a
// critic can be replicated into a policy's graph with the policy's
// sampled actions as part of the critic's input, so that gradients
// flow through the critic evaluation into the policy's parameters.
func CloneWithInputsTo(net NeuralNet, axis int, inputs []*G.Node,
	g *G.ExprGraph) (NeuralNet, error) {
	return net.cloneWithInputTo(axis, inputs, g)
}

// Set sets the weights of dest to be equal to the weights of source.
// The networks must have identical structure.
func Set(dest, source NeuralNet) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if len(nodes) != len(sourceNodes) {
		return fmt.Errorf("set: networks do not have the same number of "+
			"learnables \n\twant(%v) \n\thave(%v)", len(sourceNodes),
			len(nodes))
	}

	for i, destLearnable := range nodes {
		sourceLearnable := sourceNodes[i].Clone()
		err := G.Let(destLearnable, sourceLearnable.(*G.Node).Value())
		if err != nil {
			return err
		}
	}
	return nil
}

// Polyak sets the weights of dest to be the Polyak average between its
// existing weights and the weights of source:
//
//	dest <- (1 - tau) * dest + tau * source
//
// computed elementwise with no gradient tracked. With tau == 0, dest
// is untouched; with tau == 1, dest becomes an exact copy of source.
func Polyak(dest, source NeuralNet, tau float64) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if len(nodes) != len(sourceNodes) {
		return fmt.Errorf("polyak: networks do not have the same number of "+
			"learnables \n\twant(%v) \n\thave(%v)", len(sourceNodes),
			len(nodes))
	}

	for i := range nodes {
		weights := nodes[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return err
		}

		sourceWeights, err = sourceWeights.MulScalar(tau, true)
		if err != nil {
			return err
		}

		var newWeights *tensor.Dense
		newWeights, err = weights.Add(sourceWeights)
		if err != nil {
			return err
		}

		err = G.Let(nodes[i], newWeights)
		if err != nil {
			return err
		}
	}
	return nil
}
