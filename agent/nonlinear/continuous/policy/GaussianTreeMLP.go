// Package policy implements policies using function approximation
// using Gorgonia. Many of these policies use neural network function
// approximators.
package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/softrl/softrl/agent"
	"github.com/softrl/softrl/environment"
	"github.com/softrl/softrl/network"
	"github.com/softrl/softrl/timestep"
	"github.com/softrl/softrl/utils/floatutils"
)

// For stability, the standard deviation of the Gaussian distribution
// should be offset from 0.
const stdOffset float64 = 1e-3

// GaussianTreeMLP implements a Gaussian policy parameterized by a
// tree MLP. The MLP has a single root network. The root network breaks
// off into two leaf networks. One predicts the mean, and the other
// the log standard deviation. See the network.TreeMLP struct for
// more details.
//
// Actions are sampled in-graph with the reparameterization trick.
// Noise ɛ ~ N(0, 1) is drawn externally and placed in an input node
// of the policy's computational graph, and the graph computes
// action := μ + σ ∘ ɛ. Since the sampled action is a node of the
// computational graph, gradients can be computed through the action
// selection process, e.g. for constructing losses that maximize some
// learned function of the sampled actions.
//
// Given a number of continuous actions in a number of states, the
// GaussianTreeMLP can also calculate the log probability of selecting
// each of these actions in each corresponding state, in which case no
// gradient flows through the action selection process. This is useful
// for constructing policy gradients in a similar way to Vanilla
// Policy Gradient or REINFORCE.
type GaussianTreeMLP struct {
	vm  G.VM
	net network.NeuralNet

	mean    *G.Node
	std     *G.Node
	meanVal G.Value
	stdVal  G.Value

	// In-graph action sampling
	epsilon          *G.Node
	sample           *G.Node
	sampleVal        G.Value
	sampleLogPdfNode *G.Node
	sampleLogPdfVal  G.Value

	// Log probability of externally given actions
	externActions *G.Node
	logPdfNode    *G.Node
	logPdfVal     G.Value

	normal     distmv.Rander
	actionDims int
	batchSize  int

	eval bool

	// Data needed to clone the policy
	env             environment.Environment
	rootHiddenSizes []int
	rootBiases      []bool
	rootActivations []*network.Activation
	leafHiddenSizes [][]int
	leafBiases      [][]bool
	leafActivations [][]*network.Activation
	init            G.InitWFn
	seed            uint64
}

// NewGaussianTreeMLP returns a new GaussianTreeMLP policy. The
// Gaussian policy will select actions from the argument environment.
// The neural network parameterization of the Gaussian policy is
// defined by rootHiddenSizes, rootBiases, rootActivations,
// leafHiddenSizes, leafBiases, and leafActivations. See the
// network.TreeMLP struct for details on what each of these parameters
// defines.
//
// When batchSize > 1, the policy computes action samples and log
// probabilities for batches of states, but actions cannot be selected
// on each timestep with SelectAction(). Only when batchSize = 1 can
// actions be selected at each timestep. When a policy is created with
// batchSize > 1, it is assumed that the weights of the policy will be
// learned instead of using the policy for action selection.
//
// The init parameter determines the weight initialization scheme for
// the neural net and the seed parameter determines the seed of the
// policy's noise sampler.
func NewGaussianTreeMLP(env environment.Environment, batchSize int,
	rootHiddenSizes []int, rootBiases []bool,
	rootActivations []*network.Activation, leafHiddenSizes [][]int,
	leafBiases [][]bool, leafActivations [][]*network.Activation,
	init G.InitWFn, seed uint64) (agent.Sampler, error) {

	if env.ActionSpec().Cardinality != environment.Continuous {
		panic("newGaussianTreeMLP: actions should be continuous")
	}
	if len(leafHiddenSizes) != 2 {
		panic("newGaussianTreeMLP: gaussian policy requires 2 leaf " +
			"networks only")
	}

	features := env.ObservationSpec().Shape.Len()
	actionDims := env.ActionSpec().Shape.Len()

	net, err := network.NewTreeMLP(
		features,
		batchSize,
		actionDims,
		G.NewGraph(),
		rootHiddenSizes,
		rootBiases,
		rootActivations,
		leafHiddenSizes,
		leafBiases,
		leafActivations,
		init,
	)
	if err != nil {
		return nil, fmt.Errorf("newGaussianTreeMLP: could not create "+
			"policy network: %v", err)
	}
	g := net.Graph()

	// Calculate the standard deviation and offset it for numerical
	// stability
	mean := net.Prediction()[0]
	logStd := net.Prediction()[1]
	std := G.Must(G.Exp(logStd))
	std = G.Must(G.Add(G.NewConstant(stdOffset), std))

	// Sample actions in-graph by transforming externally drawn noise
	epsilon := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithName("StdNormalNoise"),
		G.WithShape(batchSize, actionDims),
		G.WithInit(G.Zeroes()),
	)
	sample := G.Must(G.Add(mean, G.Must(G.HadamardProd(std, epsilon))))
	sampleLogPdfNode := logPdf(mean, std, sample)

	// Calculate log probability of externally given actions
	externActions := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithName("InputActions"),
		G.WithShape(batchSize, actionDims),
		G.WithInit(G.Zeroes()),
	)
	logPdfNode := logPdf(mean, std, externActions)

	// Create standard normal for noise generation
	means := make([]float64, actionDims)
	stds := mat.NewDiagDense(actionDims, floatutils.Ones(actionDims))
	source := rand.NewSource(seed)
	normal, ok := distmv.NewNormal(means, stds, source)
	if !ok {
		panic("newGaussianTreeMLP: could not create standard normal for " +
			"noise generation")
	}

	pol := &GaussianTreeMLP{
		net: net,

		mean: mean,
		std:  std,

		epsilon:          epsilon,
		sample:           sample,
		sampleLogPdfNode: sampleLogPdfNode,

		externActions: externActions,
		logPdfNode:    logPdfNode,

		normal:     normal,
		actionDims: actionDims,
		batchSize:  batchSize,

		env:             env,
		rootHiddenSizes: rootHiddenSizes,
		rootBiases:      rootBiases,
		rootActivations: rootActivations,
		leafHiddenSizes: leafHiddenSizes,
		leafBiases:      leafBiases,
		leafActivations: leafActivations,
		init:            init,
		seed:            seed,
	}

	// Record values of Gorgonia nodes
	G.Read(pol.sample, &pol.sampleVal)
	G.Read(pol.sampleLogPdfNode, &pol.sampleLogPdfVal)
	G.Read(pol.logPdfNode, &pol.logPdfVal)
	G.Read(mean, &pol.meanVal)
	G.Read(std, &pol.stdVal)

	// Policy can select actions at each timestep only if using a batch
	// size of 1.
	if net.BatchSize() == 1 {
		pol.vm = G.NewTapeMachine(g)
	}

	return pol, nil
}

// logPdf adds nodes to the computational graph of mean/std/actions for
// computing the log probability of actions given nodes mean and std
// which hold the mean and standard deviation of the policy
// respectively. The nodes mean, std, and actions should all have shape
// (batch, actionDims). The log probability is summed over the action
// dimensions, resulting in a node of shape (batch).
func logPdf(mean, std, actions *G.Node) *G.Node {
	graph := mean.Graph()
	if graph != std.Graph() || graph != actions.Graph() {
		panic("logPdf: all nodes must share the same graph")
	}

	negativeHalf := G.NewConstant(-0.5)
	two := G.NewConstant(2.0)
	halfLog2Pi := G.NewConstant(0.5 * math.Log(2*math.Pi))

	// Calculate -(1/2) * ((A - μ) / σ)^2 elementwise
	exponent := G.Must(G.Sub(actions, mean))
	exponent = G.Must(G.HadamardDiv(exponent, std))
	exponent = G.Must(G.Pow(exponent, two))
	exponent = G.Must(G.HadamardProd(negativeHalf, exponent))

	// The policy covariance is diagonal, so the joint log probability
	// over the action dimensions is the sum of the per-dimension
	// log probabilities
	terms := G.Must(G.Add(G.Must(G.Log(std)), halfLog2Pi))
	logProb := G.Must(G.Sub(exponent, terms))
	logProb = G.Must(G.Sum(logProb, 1))

	return logProb
}

// LogPdfOf sets the state and action inputs of the policy's
// computational graph to the argument states and actions (s and a
// respectively) so that when a VM of the policy is run, the log
// probability of actions a taken in states s will be computed and
// stored in the policy's associated log PDF node, which is returned.
//
// The reason this function does not return the log PDF of actions is
// because this would require running the policy's VM, which does
// not contain any loss function. The log PDF of actions is generally
// needed in loss functions, and a separate, external VM will be needed
// to calculate the loss of the policy using the log PDF and update
// the weights accordingly.
func (g *GaussianTreeMLP) LogPdfOf(s, a []float64) (*G.Node, error) {
	if err := g.Network().SetInput(s); err != nil {
		return nil, fmt.Errorf("logPdfOf: could not set states: %v", err)
	}

	actionsTensor := tensor.NewDense(tensor.Float64,
		[]int{g.batchSize, g.actionDims},
		tensor.WithBacking(a),
	)
	if err := G.Let(g.externActions, actionsTensor); err != nil {
		return nil, fmt.Errorf("logPdfOf: could not set actions: %v", err)
	}

	return g.LogPdfNode(), nil
}

// Resample sets the state input of the policy's computational graph to
// the argument states and fills the policy's noise input with freshly
// drawn standard normal noise, so that the next run of the graph
// computes a new action sample for each state. States should be
// constructed in row major order.
func (g *GaussianTreeMLP) Resample(states []float64) error {
	if err := g.Network().SetInput(states); err != nil {
		return fmt.Errorf("resample: could not set states: %v", err)
	}

	noise := make([]float64, g.batchSize*g.actionDims)
	for i := 0; i < g.batchSize; i++ {
		g.normal.Rand(noise[i*g.actionDims : (i+1)*g.actionDims])
	}
	noiseTensor := tensor.NewDense(tensor.Float64,
		[]int{g.batchSize, g.actionDims},
		tensor.WithBacking(noise),
	)
	if err := G.Let(g.epsilon, noiseTensor); err != nil {
		return fmt.Errorf("resample: could not set noise: %v", err)
	}

	return nil
}

// SelectAction selects and returns an action at the argument timestep
// t. If the policy is in evaluation mode, the mean action is returned.
// Otherwise, an action is sampled from the policy's distribution.
func (g *GaussianTreeMLP) SelectAction(t timestep.TimeStep) *mat.VecDense {
	if size := g.Network().BatchSize(); size != 1 {
		panic(fmt.Sprintf("selectAction: action selection can only be done "+
			"with a policy with batch size 1 \n\twant(1) \n\thave(%v)", size))
	}

	obs := make([]float64, t.Observation.Len())
	for i := range obs {
		obs[i] = t.Observation.AtVec(i)
	}
	if err := g.Resample(obs); err != nil {
		panic(fmt.Sprintf("selectAction: %v", err))
	}

	if err := g.vm.RunAll(); err != nil {
		panic(fmt.Sprintf("selectAction: could not run policy VM: %v", err))
	}
	defer g.vm.Reset()

	if g.eval {
		return mat.NewVecDense(g.actionDims, g.meanVal.Data().([]float64))
	}
	return mat.NewVecDense(g.actionDims, g.sampleVal.Data().([]float64))
}

// Eval sets the policy to evaluation mode
func (g *GaussianTreeMLP) Eval() { g.eval = true }

// Train sets the policy to training mode
func (g *GaussianTreeMLP) Train() { g.eval = false }

// IsEval returns whether the policy is in evaluation mode
func (g *GaussianTreeMLP) IsEval() bool { return g.eval }

// SampleNode returns the node holding actions sampled from the policy
func (g *GaussianTreeMLP) SampleNode() *G.Node {
	return g.sample
}

// SampleVal returns the value of the node returned by SampleNode()
func (g *GaussianTreeMLP) SampleVal() G.Value {
	return g.sampleVal
}

// SampleLogPdfNode returns the node holding the log probability of
// the actions held in the node returned by SampleNode()
func (g *GaussianTreeMLP) SampleLogPdfNode() *G.Node {
	return g.sampleLogPdfNode
}

// SampleLogPdfVal returns the value of the node returned by
// SampleLogPdfNode()
func (g *GaussianTreeMLP) SampleLogPdfVal() G.Value {
	return g.sampleLogPdfVal
}

// LogPdfNode returns the node that will hold the log probability
// of externally given actions when the computational graph is run.
func (g *GaussianTreeMLP) LogPdfNode() *G.Node {
	return g.logPdfNode
}

// LogPdfVal returns the value of the node returned by LogPdfNode()
func (g *GaussianTreeMLP) LogPdfVal() G.Value {
	return g.logPdfVal
}

// Mean returns the node holding the mean of the policy's distribution
func (g *GaussianTreeMLP) Mean() *G.Node {
	return g.mean
}

// StdDev returns the node holding the standard deviation of the
// policy's distribution
func (g *GaussianTreeMLP) StdDev() *G.Node {
	return g.std
}

// Clone clones a GaussianTreeMLP
func (g *GaussianTreeMLP) Clone() (agent.NNPolicy, error) {
	return g.CloneWithBatch(g.batchSize)
}

// CloneWithBatch clones a GaussianTreeMLP with a new batch size. The
// clone shares no weights with the original policy; the weights are
// copied.
func (g *GaussianTreeMLP) CloneWithBatch(batch int) (agent.NNPolicy, error) {
	newPol, err := NewGaussianTreeMLP(g.env, batch, g.rootHiddenSizes,
		g.rootBiases, g.rootActivations, g.leafHiddenSizes, g.leafBiases,
		g.leafActivations, g.init, g.seed)
	if err != nil {
		return nil, fmt.Errorf("clonewithbatch: %v", err)
	}

	if err := network.Set(newPol.Network(), g.Network()); err != nil {
		return nil, fmt.Errorf("clonewithbatch: could not copy weights: %v",
			err)
	}

	clone := newPol.(*GaussianTreeMLP)
	clone.eval = g.eval
	return clone, nil
}

// Network returns the network of the GaussianTreeMLP
func (g *GaussianTreeMLP) Network() network.NeuralNet {
	return g.net
}

// Close cleans up the policy's resources
func (g *GaussianTreeMLP) Close() error {
	if g.vm != nil {
		return g.vm.Close()
	}
	return nil
}
