// Package sac implements the Soft Actor-Critic algorithm for
// continuous action spaces:
//
// https://arxiv.org/abs/1801.01290
//
// SAC learns a stochastic policy that maximizes the expected
// discounted return together with the policy's entropy. Two critics
// estimate the soft action values, and the minimum of the two is used
// in the policy improvement step to reduce overestimation bias.
// Bootstrapped critic targets are computed with slowly updated
// Polyak-averaged target critics.
package sac

import (
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/softrl/softrl/agent"
	"github.com/softrl/softrl/agent/nonlinear/continuous/policy"
	"github.com/softrl/softrl/environment"
	"github.com/softrl/softrl/expreplay"
	"github.com/softrl/softrl/network"
	ts "github.com/softrl/softrl/timestep"
	"github.com/softrl/softrl/utils/floatutils"
)

// SAC implements the Soft Actor-Critic algorithm.
//
// On each gradient step, SAC performs, in strict order: a gradient
// step on each critic toward its soft Bellman target, a gradient step
// on the policy toward higher expected soft value, an (optional)
// gradient step on the entropy coefficient, and a Polyak update of the
// target critics. All four use the same sampled minibatch.
type SAC struct {
	// Action selection policy with batch size 1
	behaviour agent.Sampler

	// Policy whose weights are adapted. The policy's graph also holds
	// replicas of both critics so that the actor objective can
	// differentiate through the critic evaluation of the sampled
	// actions.
	trainPolicy  agent.Sampler
	policyVM     G.VM
	policySolver G.Solver
	qf1Replica   network.NeuralNet
	qf2Replica   network.NeuralNet
	alphaInput   *G.Node
	actorLossVal *G.Value

	// Policy used to sample next actions for the critic targets
	samplePolicy   agent.Sampler
	samplePolicyVM G.VM

	// Critics and their update graphs
	qf1        network.NeuralNet
	qf2        network.NeuralNet
	qf1VM      G.VM
	qf2VM      G.VM
	qf1Solver  G.Solver
	qf2Solver  G.Solver
	qf1Targets *G.Node
	qf2Targets *G.Node
	qf1LossVal *G.Value
	qf2LossVal *G.Value

	// Target critics, updated only by Polyak averaging
	targetQf1   network.NeuralNet
	targetQf2   network.NeuralNet
	targetQf1VM G.VM
	targetQf2VM G.VM

	// Optional Polyak-averaged policy copy
	targetPolicy agent.NNPolicy

	// Entropy coefficient bookkeeping
	alpha             float64
	autoEntropyTuning bool
	targetEntropy     float64
	logAlpha          *G.Node
	alphaLogPdf       *G.Node
	alphaLossVal      G.Value
	alphaVM           G.VM
	alphaSolver       G.Solver

	// Target network update schedule
	tau                  float64
	targetUpdateInterval int
	gradientSteps        int

	rewardScale float64

	replay      expreplay.ExperienceReplayer
	batchSize   int
	numFeatures int
	actionDims  int

	// Keep track of previous states and actions to add to the replay
	// buffer
	prevStep   ts.TimeStep
	prevAction mat.Vector
	nextStep   ts.TimeStep

	// Running histories of completed-episode returns and successes
	episodeReturns []float64
	successes      []bool

	eval bool
}

// New creates and returns a new SAC agent
func New(env environment.Environment, config GaussianTreeMLPConfig,
	seed uint64) (*SAC, error) {
	// Ensure environment has continuous actions
	if env.ActionSpec().Cardinality != environment.Continuous {
		return nil, fmt.Errorf("sac: cannot use non-continuous actions")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("sac: %v", err)
	}

	batchSize := config.BatchSize()
	numFeatures := env.ObservationSpec().Shape.Len()
	actionDims := env.ActionSpec().Shape.Len()
	init := config.InitWFn.InitWFn()

	// Policy whose weights are learned
	trainPol, err := policy.NewGaussianTreeMLP(
		env,
		batchSize,
		config.RootLayers,
		config.RootBiases,
		config.RootActivations,
		config.LeafLayers,
		config.LeafBiases,
		config.LeafActivations,
		init,
		seed,
	)
	if err != nil {
		return nil, fmt.Errorf("sac: could not create policy: %v", err)
	}
	trainPolicy := trainPol.(agent.Sampler)

	// Behaviour policy for action selection and a batch policy for
	// sampling the next actions of the critic targets. Cloning keeps
	// all three policies at identical initial weights.
	behaviourClone, err := trainPolicy.CloneWithBatch(1)
	if err != nil {
		return nil, fmt.Errorf("sac: could not create behaviour "+
			"policy: %v", err)
	}
	behaviour := behaviourClone.(agent.Sampler)

	sampleClone, err := trainPolicy.Clone()
	if err != nil {
		return nil, fmt.Errorf("sac: could not create sampling "+
			"policy: %v", err)
	}
	samplePolicy := sampleClone.(agent.Sampler)
	samplePolicyVM := G.NewTapeMachine(samplePolicy.Network().Graph())

	// Critics map the concatenated state-action vector to a scalar
	// soft action value. Each critic gets a distinct name so that
	// replicas of both can later share the policy's graph.
	qf1, qf1Targets, qf1LossVal, qf1VM, err := newCritic(env, config, "Qf1")
	if err != nil {
		return nil, fmt.Errorf("sac: could not create first critic: %v", err)
	}
	qf2, qf2Targets, qf2LossVal, qf2VM, err := newCritic(env, config, "Qf2")
	if err != nil {
		return nil, fmt.Errorf("sac: could not create second critic: %v", err)
	}

	// Target critics are snapshots of the live critics at construction
	targetQf1, err := network.NewNamedMultiHeadMLP(numFeatures+actionDims,
		batchSize, 1, G.NewGraph(), config.QfLayers, config.QfBiases, init,
		config.QfActivations, "Qf1")
	if err != nil {
		return nil, fmt.Errorf("sac: could not create first target "+
			"critic: %v", err)
	}
	if err := network.Set(targetQf1, qf1); err != nil {
		return nil, fmt.Errorf("sac: could not snapshot first critic: %v", err)
	}
	targetQf2, err := network.NewNamedMultiHeadMLP(numFeatures+actionDims,
		batchSize, 1, G.NewGraph(), config.QfLayers, config.QfBiases, init,
		config.QfActivations, "Qf2")
	if err != nil {
		return nil, fmt.Errorf("sac: could not create second target "+
			"critic: %v", err)
	}
	if err := network.Set(targetQf2, qf2); err != nil {
		return nil, fmt.Errorf("sac: could not snapshot second critic: %v",
			err)
	}
	targetQf1VM := G.NewTapeMachine(targetQf1.Graph())
	targetQf2VM := G.NewTapeMachine(targetQf2.Graph())

	// Replicate both critics into the policy's graph, evaluated at the
	// policy's in-graph action sample. Gradient then flows through the
	// critic evaluation and the entropy term into the policy weights.
	gPolicy := trainPolicy.Network().Graph()
	criticInputs := []*G.Node{
		trainPolicy.Network().Input(),
		trainPolicy.SampleNode(),
	}
	qf1Replica, err := network.CloneWithInputsTo(qf1, 1, criticInputs, gPolicy)
	if err != nil {
		return nil, fmt.Errorf("sac: could not replicate first critic: %v",
			err)
	}
	qf2Replica, err := network.CloneWithInputsTo(qf2, 1, criticInputs, gPolicy)
	if err != nil {
		return nil, fmt.Errorf("sac: could not replicate second critic: %v",
			err)
	}

	// Actor objective: mean(α log π(a|s) - min(Q1(s,a), Q2(s,a)))
	alphaInput := G.NewScalar(gPolicy, tensor.Float64, G.WithName("alpha"),
		G.WithValue(config.Alpha))
	q1 := G.Must(G.Ravel(qf1Replica.Prediction()[0]))
	q2 := G.Must(G.Ravel(qf2Replica.Prediction()[0]))
	minQ := elemMin(q1, q2)

	entropyTerm := G.Must(G.Mul(alphaInput, trainPolicy.SampleLogPdfNode()))
	actorLoss := G.Must(G.Mean(G.Must(G.Sub(entropyTerm, minQ))))

	// The Read output must be bound to a pointer that outlives this
	// function so that the loss is visible after every VM run
	actorLossVal := new(G.Value)
	G.Read(actorLoss, actorLossVal)

	policyLearnables := trainPolicy.Network().Learnables()
	if _, err := G.Grad(actorLoss, policyLearnables...); err != nil {
		return nil, fmt.Errorf("sac: could not compute policy gradient: %v",
			err)
	}
	policyVM := G.NewTapeMachine(gPolicy, G.BindDualValues(policyLearnables...))

	// Optional Polyak-averaged policy copy
	var targetPolicy agent.NNPolicy
	if config.TargetPolicy {
		targetPolicy, err = trainPolicy.Clone()
		if err != nil {
			return nil, fmt.Errorf("sac: could not create target policy: %v",
				err)
		}
	}

	// Entropy coefficient: fixed scalar, or learned through its log
	// on a dedicated graph when automatic tuning is enabled
	sac := &SAC{
		behaviour: behaviour,

		trainPolicy:  trainPolicy,
		policyVM:     policyVM,
		policySolver: config.PolicySolver.Create(),
		qf1Replica:   qf1Replica,
		qf2Replica:   qf2Replica,
		alphaInput:   alphaInput,
		actorLossVal: actorLossVal,

		samplePolicy:   samplePolicy,
		samplePolicyVM: samplePolicyVM,

		qf1:        qf1,
		qf2:        qf2,
		qf1VM:      qf1VM,
		qf2VM:      qf2VM,
		// Each critic gets its own solver instance so that optimizer
		// state does not cross between the two
		qf1Solver:  config.QfSolver.Create(),
		qf2Solver:  config.QfSolver.Create(),
		qf1Targets: qf1Targets,
		qf2Targets: qf2Targets,
		qf1LossVal: qf1LossVal,
		qf2LossVal: qf2LossVal,

		targetQf1:   targetQf1,
		targetQf2:   targetQf2,
		targetQf1VM: targetQf1VM,
		targetQf2VM: targetQf2VM,

		targetPolicy: targetPolicy,

		alpha:             config.Alpha,
		autoEntropyTuning: config.AutoEntropyTuning,

		tau:                  config.Tau,
		targetUpdateInterval: config.TargetUpdateInterval,

		rewardScale: config.RewardScale,

		batchSize:   batchSize,
		numFeatures: numFeatures,
		actionDims:  actionDims,
	}

	if config.AutoEntropyTuning {
		sac.targetEntropy = config.TargetEntropy
		if sac.targetEntropy == 0 {
			sac.targetEntropy = -float64(actionDims)
		}

		gAlpha := G.NewGraph()
		sac.logAlpha = G.NewScalar(gAlpha, tensor.Float64,
			G.WithName("logAlpha"), G.WithValue(math.Log(config.Alpha)))
		sac.alphaLogPdf = G.NewVector(gAlpha, tensor.Float64,
			G.WithShape(batchSize), G.WithName("logPdf"),
			G.WithInit(G.Zeroes()))

		// Objective: mean(-α (log π(a|s) + target entropy))
		targetEntropy := G.NewConstant(sac.targetEntropy)
		alphaLoss := G.Must(G.Mul(sac.logAlpha,
			G.Must(G.Add(sac.alphaLogPdf, targetEntropy))))
		alphaLoss = G.Must(G.Mean(G.Must(G.Neg(alphaLoss))))
		G.Read(alphaLoss, &sac.alphaLossVal)

		if _, err := G.Grad(alphaLoss, sac.logAlpha); err != nil {
			return nil, fmt.Errorf("sac: could not compute entropy "+
				"coefficient gradient: %v", err)
		}
		sac.alphaVM = G.NewTapeMachine(gAlpha,
			G.BindDualValues(sac.logAlpha))
		sac.alphaSolver = config.AlphaSolver.Create()
	}

	sac.replay, err = config.ExpReplay.Create(numFeatures, actionDims,
		int64(seed))
	if err != nil {
		return nil, fmt.Errorf("sac: could not create experience replay "+
			"buffer: %v", err)
	}

	return sac, nil
}

// newCritic returns a new critic network on its own graph together
// with the Bellman target input node, a pointer to the critic's loss
// value, which is populated on every run of the update graph, and a
// VM that runs the critic's update graph.
func newCritic(env environment.Environment, config GaussianTreeMLPConfig,
	name string) (network.NeuralNet, *G.Node, *G.Value, G.VM, error) {
	batchSize := config.BatchSize()
	numFeatures := env.ObservationSpec().Shape.Len()
	actionDims := env.ActionSpec().Shape.Len()

	qf, err := network.NewNamedMultiHeadMLP(
		numFeatures+actionDims,
		batchSize,
		1,
		G.NewGraph(),
		config.QfLayers,
		config.QfBiases,
		config.InitWFn.InitWFn(),
		config.QfActivations,
		name,
	)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	g := qf.Graph()
	targets := G.NewVector(g, tensor.Float64, G.WithShape(batchSize),
		G.WithName(name+"Targets"), G.WithInit(G.Zeroes()))

	// Loss: (1/2) MSE(Q(s,a), target)
	pred := G.Must(G.Ravel(qf.Prediction()[0]))
	loss := G.Must(G.Sub(pred, targets))
	loss = G.Must(G.Square(loss))
	loss = G.Must(G.Mean(loss))
	loss = G.Must(G.Mul(G.NewConstant(0.5), loss))

	lossVal := new(G.Value)
	G.Read(loss, lossVal)

	if _, err := G.Grad(loss, qf.Learnables()...); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("could not compute critic "+
			"gradient: %v", err)
	}
	vm := G.NewTapeMachine(g, G.BindDualValues(qf.Learnables()...))

	return qf, targets, lossVal, vm, nil
}

// elemMin returns a node computing the elementwise minimum of a and b
// as min(a, b) = (a + b - |a - b|) / 2
func elemMin(a, b *G.Node) *G.Node {
	sum := G.Must(G.Add(a, b))
	diff := G.Must(G.Abs(G.Must(G.Sub(a, b))))
	min := G.Must(G.Sub(sum, diff))
	return G.Must(G.Mul(G.NewConstant(0.5), min))
}

// TrainOnce performs one training iteration given a batch of newly
// collected trajectories. The paths' transitions are pushed into the
// replay buffer, the histories of episode returns and successes are
// extended with entries for completed episodes, and a single gradient
// step is performed on one minibatch sampled from the buffer. The
// returned value is the running mean of completed-episode returns,
// for monitoring only.
func (s *SAC) TrainOnce(itr int, paths []Path) (float64, error) {
	for _, path := range paths {
		if path.Complete {
			s.episodeReturns = append(s.episodeReturns,
				path.UndiscountedReturn())
			s.successes = append(s.successes, path.Success)
		}
		for _, transition := range path.Transitions {
			if err := s.replay.Add(transition); err != nil {
				return 0, fmt.Errorf("trainonce: could not add transition "+
					"to replay buffer: %v", err)
			}
		}
	}

	if err := s.Step(); err != nil {
		return 0, fmt.Errorf("trainonce: %v", err)
	}

	if len(s.episodeReturns) == 0 {
		return 0, nil
	}
	return floatutils.Mean(s.episodeReturns), nil
}

// Step updates the weights of the agent's policies and critics by
// performing one SAC gradient step on a minibatch sampled from the
// replay buffer. If the buffer does not yet hold enough samples, Step
// is a no-op.
func (s *SAC) Step() error {
	S, A, R, discounts, NextS, _, err := s.replay.Sample()
	if expreplay.IsEmptyBuffer(err) || expreplay.IsInsufficientSamples(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("step: could not sample from replay buffer: %v",
			err)
	}

	if err := s.updateCritics(S, A, R, discounts, NextS); err != nil {
		return fmt.Errorf("step: %v", err)
	}

	logPdf, err := s.updateActor(S)
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}

	if s.autoEntropyTuning {
		if err := s.updateAlpha(logPdf); err != nil {
			return fmt.Errorf("step: %v", err)
		}
	}

	s.gradientSteps++
	if s.gradientSteps%s.targetUpdateInterval == 0 {
		if err := s.syncTargets(); err != nil {
			return fmt.Errorf("step: %v", err)
		}
	}

	// Action selection and next-action sampling use the updated
	// policy weights
	err = network.Set(s.behaviour.Network(), s.trainPolicy.Network())
	if err != nil {
		return fmt.Errorf("step: could not sync behaviour policy: %v", err)
	}
	err = network.Set(s.samplePolicy.Network(), s.trainPolicy.Network())
	if err != nil {
		return fmt.Errorf("step: could not sync sampling policy: %v", err)
	}

	return nil
}

// updateCritics performs one gradient step on each critic toward its
// soft Bellman target:
//
//	target = scale * r + γ (Q'(s', a') - α log π(a'|s'))
//
// where a' is sampled from the live policy at s' and γ is the
// per-sample discount, which is 0 for terminal transitions so that the
// bootstrap term vanishes there.
func (s *SAC) updateCritics(S, A, R, discounts, NextS []float64) error {
	// Sample a' ~ π(·|s') and its log probability from one consistent
	// policy evaluation
	if err := s.samplePolicy.Resample(NextS); err != nil {
		return fmt.Errorf("updatecritics: could not condition policy on "+
			"next states: %v", err)
	}
	if err := s.samplePolicyVM.RunAll(); err != nil {
		return fmt.Errorf("updatecritics: could not sample next "+
			"actions: %v", err)
	}
	nextActions := copyData(s.samplePolicy.SampleVal())
	nextLogPdf := copyData(s.samplePolicy.SampleLogPdfVal())
	s.samplePolicyVM.Reset()

	// Evaluate the target critics at (s', a')
	nextInputs := s.stateActionInput(NextS, nextActions)
	if err := s.targetQf1.SetInput(nextInputs); err != nil {
		return fmt.Errorf("updatecritics: could not set first target "+
			"critic input: %v", err)
	}
	if err := s.targetQf2.SetInput(nextInputs); err != nil {
		return fmt.Errorf("updatecritics: could not set second target "+
			"critic input: %v", err)
	}
	if err := s.targetQf1VM.RunAll(); err != nil {
		return fmt.Errorf("updatecritics: could not run first target "+
			"critic: %v", err)
	}
	if err := s.targetQf2VM.RunAll(); err != nil {
		return fmt.Errorf("updatecritics: could not run second target "+
			"critic: %v", err)
	}
	q1Next := copyData(s.targetQf1.Output()[0])
	q2Next := copyData(s.targetQf2.Output()[0])
	s.targetQf1VM.Reset()
	s.targetQf2VM.Reset()

	// Per-critic Bellman targets. The per-sample discount from the
	// replay buffer is 0 on terminal transitions, zeroing the
	// bootstrap term.
	targets1 := make([]float64, s.batchSize)
	targets2 := make([]float64, s.batchSize)
	for i := 0; i < s.batchSize; i++ {
		entropy := s.alpha * nextLogPdf[i]
		reward := s.rewardScale * R[i]
		targets1[i] = reward + discounts[i]*(q1Next[i]-entropy)
		targets2[i] = reward + discounts[i]*(q2Next[i]-entropy)
	}

	inputs := s.stateActionInput(S, A)
	err := s.criticStep(s.qf1, s.qf1VM, s.qf1Solver, s.qf1Targets, targets1,
		inputs, s.qf1LossVal)
	if err != nil {
		return fmt.Errorf("updatecritics: first critic: %v", err)
	}
	err = s.criticStep(s.qf2, s.qf2VM, s.qf2Solver, s.qf2Targets, targets2,
		inputs, s.qf2LossVal)
	if err != nil {
		return fmt.Errorf("updatecritics: second critic: %v", err)
	}

	return nil
}

// criticStep performs one gradient step on a single critic
func (s *SAC) criticStep(qf network.NeuralNet, vm G.VM, solver G.Solver,
	targetsNode *G.Node, targets, inputs []float64, lossVal *G.Value) error {
	if err := qf.SetInput(inputs); err != nil {
		return fmt.Errorf("could not set input: %v", err)
	}

	targetsTensor := tensor.New(tensor.WithBacking(targets),
		tensor.WithShape(s.batchSize))
	if err := G.Let(targetsNode, targetsTensor); err != nil {
		return fmt.Errorf("could not set Bellman targets: %v", err)
	}

	if err := vm.RunAll(); err != nil {
		return fmt.Errorf("could not run update graph: %v", err)
	}
	defer vm.Reset()

	if err := checkLoss("critic", lossVal); err != nil {
		return err
	}

	return solver.Step(qf.Model())
}

// updateActor performs one gradient step on the policy toward higher
// expected soft value and returns the log probabilities of the
// sampled actions for use in the entropy coefficient update.
func (s *SAC) updateActor(S []float64) ([]float64, error) {
	// The replicas evaluate the sampled actions with the weights of
	// the freshly updated critics
	if err := network.Set(s.qf1Replica, s.qf1); err != nil {
		return nil, fmt.Errorf("updateactor: could not sync first critic "+
			"replica: %v", err)
	}
	if err := network.Set(s.qf2Replica, s.qf2); err != nil {
		return nil, fmt.Errorf("updateactor: could not sync second critic "+
			"replica: %v", err)
	}

	if err := s.trainPolicy.Resample(S); err != nil {
		return nil, fmt.Errorf("updateactor: could not condition policy on "+
			"states: %v", err)
	}
	if err := G.Let(s.alphaInput, s.alpha); err != nil {
		return nil, fmt.Errorf("updateactor: could not set entropy "+
			"coefficient: %v", err)
	}

	if err := s.policyVM.RunAll(); err != nil {
		return nil, fmt.Errorf("updateactor: could not run update "+
			"graph: %v", err)
	}
	defer s.policyVM.Reset()

	if err := checkLoss("actor", s.actorLossVal); err != nil {
		return nil, err
	}

	// The log probabilities are needed after the VM is reset, so copy
	logPdf := copyData(s.trainPolicy.SampleLogPdfVal())

	err := s.policySolver.Step(s.trainPolicy.Network().Model())
	if err != nil {
		return nil, fmt.Errorf("updateactor: could not step solver: %v", err)
	}

	return logPdf, nil
}

// updateAlpha performs one gradient step on the log of the entropy
// coefficient, minimizing E[-α (log π(a|s) + target entropy)]
func (s *SAC) updateAlpha(logPdf []float64) error {
	if floats.HasNaN(logPdf) {
		return fmt.Errorf("updatealpha: NaN in sampled log probabilities")
	}

	logPdfTensor := tensor.New(tensor.WithBacking(logPdf),
		tensor.WithShape(s.batchSize))
	if err := G.Let(s.alphaLogPdf, logPdfTensor); err != nil {
		return fmt.Errorf("updatealpha: could not set log "+
			"probabilities: %v", err)
	}

	if err := s.alphaVM.RunAll(); err != nil {
		return fmt.Errorf("updatealpha: could not run update graph: %v", err)
	}
	defer s.alphaVM.Reset()

	if err := checkLoss("alpha", &s.alphaLossVal); err != nil {
		return err
	}

	err := s.alphaSolver.Step([]G.ValueGrad{s.logAlpha})
	if err != nil {
		return fmt.Errorf("updatealpha: could not step solver: %v", err)
	}

	s.alpha = math.Exp(s.logAlpha.Value().Data().(float64))
	if math.IsNaN(s.alpha) || math.IsInf(s.alpha, 0) {
		return fmt.Errorf("updatealpha: entropy coefficient diverged "+
			"(α = %v)", s.alpha)
	}

	return nil
}

// syncTargets Polyak-updates the target critics (and the target
// policy, if one is maintained) toward the post-update live weights
func (s *SAC) syncTargets() error {
	if s.tau == 1.0 {
		if err := network.Set(s.targetQf1, s.qf1); err != nil {
			return fmt.Errorf("synctargets: %v", err)
		}
		if err := network.Set(s.targetQf2, s.qf2); err != nil {
			return fmt.Errorf("synctargets: %v", err)
		}
		if s.targetPolicy != nil {
			err := network.Set(s.targetPolicy.Network(),
				s.trainPolicy.Network())
			if err != nil {
				return fmt.Errorf("synctargets: %v", err)
			}
		}
		return nil
	}

	if err := network.Polyak(s.targetQf1, s.qf1, s.tau); err != nil {
		return fmt.Errorf("synctargets: %v", err)
	}
	if err := network.Polyak(s.targetQf2, s.qf2, s.tau); err != nil {
		return fmt.Errorf("synctargets: %v", err)
	}
	if s.targetPolicy != nil {
		err := network.Polyak(s.targetPolicy.Network(),
			s.trainPolicy.Network(), s.tau)
		if err != nil {
			return fmt.Errorf("synctargets: %v", err)
		}
	}
	return nil
}

// ObserveFirst observes and records the first episodic timestep
func (s *SAC) ObserveFirst(t ts.TimeStep) error {
	if !t.First() {
		fmt.Fprintf(os.Stderr, "Warning: ObserveFirst() should only be "+
			"called on the first timestep (current timestep = %d)\n", t.Number)
	}
	s.prevStep = ts.TimeStep{}
	s.prevAction = nil
	s.nextStep = t
	return nil
}

// Observe observes and records any timestep other than the first
// timestep
func (s *SAC) Observe(action mat.Vector, nextStep ts.TimeStep) error {
	// Add to replay buffer
	if !s.nextStep.First() {
		transition := ts.NewTransition(s.prevStep, s.prevAction, s.nextStep,
			action)
		if err := s.replay.Add(transition); err != nil {
			return fmt.Errorf("observe: could not add to replay buffer: %v",
				err)
		}
	}

	// Update internal variables
	s.prevStep = s.nextStep
	s.prevAction = action
	s.nextStep = nextStep

	// The final transition of an episode must enter the buffer as
	// well. Its next action is never taken, so zeroes are stored; the
	// critic target resamples the next action from the policy and, on
	// terminal steps, the transition's discount of 0 removes the
	// bootstrap term entirely.
	if nextStep.Last() {
		zero := mat.NewVecDense(s.actionDims, nil)
		transition := ts.NewTransition(s.prevStep, s.prevAction, s.nextStep,
			zero)
		if err := s.replay.Add(transition); err != nil {
			return fmt.Errorf("observe: could not add final transition to "+
				"replay buffer: %v", err)
		}
	}

	return nil
}

// EndEpisode performs cleanup at the end of an episode
func (s *SAC) EndEpisode() {}

// SelectAction returns an action at the argument timestep, selected
// by the behaviour policy. In evaluation mode, the mean action is
// returned; in training mode, an action is sampled from the policy's
// distribution.
func (s *SAC) SelectAction(t ts.TimeStep) *mat.VecDense {
	return s.behaviour.SelectAction(t)
}

// EpisodeReturns returns the history of completed-episode returns
func (s *SAC) EpisodeReturns() []float64 {
	return s.episodeReturns
}

// Successes returns the history of completed-episode success
// indicators
func (s *SAC) Successes() []bool {
	return s.successes
}

// Alpha returns the current value of the entropy coefficient
func (s *SAC) Alpha() float64 {
	return s.alpha
}

// Eval sets the agent to evaluation mode
func (s *SAC) Eval() {
	s.eval = true
	s.behaviour.Eval()
}

// Train sets the agent to training mode
func (s *SAC) Train() {
	s.eval = false
	s.behaviour.Train()
}

// IsEval returns whether the agent is in evaluation mode
func (s *SAC) IsEval() bool { return s.eval }

// Close cleans up the agent's resources
func (s *SAC) Close() error {
	vms := []G.VM{s.policyVM, s.samplePolicyVM, s.qf1VM, s.qf2VM,
		s.targetQf1VM, s.targetQf2VM}
	if s.alphaVM != nil {
		vms = append(vms, s.alphaVM)
	}

	var firstErr error
	for _, vm := range vms {
		if err := vm.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.behaviour.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// stateActionInput builds the row major input of a critic network by
// concatenating each state with the action taken in it
func (s *SAC) stateActionInput(states, actions []float64) []float64 {
	rowLen := s.numFeatures + s.actionDims
	inputs := make([]float64, s.batchSize*rowLen)
	for i := 0; i < s.batchSize; i++ {
		copy(inputs[i*rowLen:], states[i*s.numFeatures:(i+1)*s.numFeatures])
		copy(inputs[i*rowLen+s.numFeatures:],
			actions[i*s.actionDims:(i+1)*s.actionDims])
	}
	return inputs
}

// checkLoss returns an error if the argument loss value is NaN or
// infinite. Numerical divergence halts the run rather than silently
// continuing.
func checkLoss(name string, lossVal *G.Value) error {
	loss := (*lossVal).Data().(float64)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return fmt.Errorf("%v loss diverged (loss = %v)", name, loss)
	}
	return nil
}

// copyData returns a copy of the float64 data held in a Gorgonia value
func copyData(v G.Value) []float64 {
	data := v.Data().([]float64)
	out := make([]float64, len(data))
	copy(out, data)
	return out
}
