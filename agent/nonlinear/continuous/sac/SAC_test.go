package sac

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r1"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/softrl/softrl/environment"
	"github.com/softrl/softrl/environment/pointmass"
	"github.com/softrl/softrl/expreplay"
	"github.com/softrl/softrl/initwfn"
	"github.com/softrl/softrl/network"
	"github.com/softrl/softrl/solver"
	ts "github.com/softrl/softrl/timestep"
)

func newPointMass(t *testing.T) environment.Environment {
	bounds := []r1.Interval{
		{Min: -0.1, Max: 0.1},
		{Min: 0.0, Max: 0.0},
	}
	starter := environment.NewUniformStarter(bounds, 14)
	task := pointmass.NewReach(starter, 1.0, 50)

	pm, _, err := pointmass.New(task, 0.99)
	if err != nil {
		t.Fatalf("could not create environment: %v", err)
	}
	return pm
}

// newTestConfig returns a small agent configuration suitable for fast
// tests. The minCapacity and sampleSize parameters control when the
// replay buffer becomes sampleable and how large sampled minibatches
// are.
func newTestConfig(t *testing.T, autoEntropyTuning bool, minCapacity,
	sampleSize int) GaussianTreeMLPConfig {
	adam := func() *solver.Solver {
		s, err := solver.NewDefaultAdam(0.001, 1)
		if err != nil {
			t.Fatalf("could not create solver: %v", err)
		}
		return s
	}
	init, err := initwfn.NewGlorotN(1.0)
	if err != nil {
		t.Fatalf("could not create weight initializer: %v", err)
	}

	return GaussianTreeMLPConfig{
		RootLayers:      []int{4},
		RootBiases:      []bool{true},
		RootActivations: []*network.Activation{network.ReLU()},

		LeafLayers:      [][]int{{4}, {4}},
		LeafBiases:      [][]bool{{true}, {true}},
		LeafActivations: [][]*network.Activation{
			{network.ReLU()},
			{network.ReLU()},
		},

		QfLayers:      []int{4},
		QfBiases:      []bool{true},
		QfActivations: []*network.Activation{network.ReLU()},

		InitWFn:      init,
		PolicySolver: adam(),
		QfSolver:     adam(),
		AlphaSolver:  adam(),

		ExpReplay: expreplay.Config{
			RemoveMethod:      expreplay.Fifo,
			SampleMethod:      expreplay.Uniform,
			RemoveSize:        1,
			SampleSize:        sampleSize,
			MaxReplayCapacity: 1000,
			MinReplayCapacity: minCapacity,
		},

		Alpha:                0.2,
		AutoEntropyTuning:    autoEntropyTuning,
		RewardScale:          1.0,
		Tau:                  1.0,
		TargetUpdateInterval: 1,
	}
}

// fill runs the agent-environment loop until the replay buffer holds
// at least n transitions
func fill(t *testing.T, agent *SAC, env environment.Environment, n int) {
	step := env.Reset()
	if err := agent.ObserveFirst(step); err != nil {
		t.Fatalf("could not observe first timestep: %v", err)
	}

	for agent.replay.Capacity() < n {
		action := agent.SelectAction(step)
		step, _ = env.Step(action)
		if err := agent.Observe(action, step); err != nil {
			t.Fatalf("could not observe timestep: %v", err)
		}

		if step.Last() {
			step = env.Reset()
			if err := agent.ObserveFirst(step); err != nil {
				t.Fatalf("could not observe first timestep: %v", err)
			}
		}
	}
}

// learnableData returns a copy of the weights of every learnable of a
// network
func learnableData(net network.NeuralNet) [][]float64 {
	var data [][]float64
	for _, learnable := range net.Learnables() {
		data = append(data, copyData(learnable.Value()))
	}
	return data
}

// bellmanError computes the first critic's soft Bellman loss on a
// fixed batch of transitions without changing any weights
func bellmanError(t *testing.T, agent *SAC, S, A, R, discounts,
	NextS []float64) float64 {
	if err := agent.samplePolicy.Resample(NextS); err != nil {
		t.Fatalf("could not condition policy on next states: %v", err)
	}
	if err := agent.samplePolicyVM.RunAll(); err != nil {
		t.Fatalf("could not sample next actions: %v", err)
	}
	nextActions := copyData(agent.samplePolicy.SampleVal())
	nextLogPdf := copyData(agent.samplePolicy.SampleLogPdfVal())
	agent.samplePolicyVM.Reset()

	nextInputs := agent.stateActionInput(NextS, nextActions)
	if err := agent.targetQf1.SetInput(nextInputs); err != nil {
		t.Fatalf("could not set target critic input: %v", err)
	}
	if err := agent.targetQf1VM.RunAll(); err != nil {
		t.Fatalf("could not run target critic: %v", err)
	}
	qNext := copyData(agent.targetQf1.Output()[0])
	agent.targetQf1VM.Reset()

	targets := make([]float64, agent.batchSize)
	for i := range targets {
		targets[i] = agent.rewardScale*R[i] +
			discounts[i]*(qNext[i]-agent.alpha*nextLogPdf[i])
	}

	inputs := agent.stateActionInput(S, A)
	if err := agent.qf1.SetInput(inputs); err != nil {
		t.Fatalf("could not set critic input: %v", err)
	}
	targetsTensor := tensor.New(tensor.WithBacking(targets),
		tensor.WithShape(agent.batchSize))
	if err := G.Let(agent.qf1Targets, targetsTensor); err != nil {
		t.Fatalf("could not set Bellman targets: %v", err)
	}
	if err := agent.qf1VM.RunAll(); err != nil {
		t.Fatalf("could not run critic graph: %v", err)
	}
	loss := (*agent.qf1LossVal).Data().(float64)
	agent.qf1VM.Reset()

	return loss
}

func TestConfigValidation(t *testing.T) {
	env := newPointMass(t)

	conf := newTestConfig(t, false, 4, 0)
	if _, err := New(env, conf, 14); err == nil {
		t.Error("expected error for batch size below 1")
	}

	conf = newTestConfig(t, false, 4, 4)
	conf.LeafLayers = [][]int{{4}}
	conf.LeafBiases = [][]bool{{true}}
	conf.LeafActivations = [][]*network.Activation{{network.ReLU()}}
	if _, err := New(env, conf, 14); err == nil {
		t.Error("expected error for policy without exactly 2 leaf networks")
	}

	conf = newTestConfig(t, false, 4, 4)
	conf.Tau = 1.5
	if _, err := New(env, conf, 14); err == nil {
		t.Error("expected error for tau outside [0, 1]")
	}

	conf = newTestConfig(t, false, 4, 4)
	conf.TargetUpdateInterval = 0
	if _, err := New(env, conf, 14); err == nil {
		t.Error("expected error for non-positive target update interval")
	}

	conf = newTestConfig(t, true, 4, 4)
	conf.AlphaSolver = nil
	if _, err := New(env, conf, 14); err == nil {
		t.Error("expected error for entropy tuning without a solver")
	}
}

func TestStepNoOpBelowMinCapacity(t *testing.T) {
	env := newPointMass(t)
	conf := newTestConfig(t, false, 10, 4)

	agent, err := New(env, conf, 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	fill(t, agent, env, 5)

	before := learnableData(agent.trainPolicy.Network())
	if err := agent.Step(); err != nil {
		t.Fatalf("step failed: %v", err)
	}

	if agent.gradientSteps != 0 {
		t.Error("gradient step taken before buffer reached minimum capacity")
	}
	after := learnableData(agent.trainPolicy.Network())
	for i := range before {
		for j := range before[i] {
			if before[i][j] != after[i][j] {
				t.Fatal("policy weights changed before buffer reached " +
					"minimum capacity")
			}
		}
	}
}

func TestStepUpdatesWeights(t *testing.T) {
	env := newPointMass(t)
	conf := newTestConfig(t, false, 4, 4)

	agent, err := New(env, conf, 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	fill(t, agent, env, 8)

	policyBefore := learnableData(agent.trainPolicy.Network())
	qf1Before := learnableData(agent.qf1)
	qf2Before := learnableData(agent.qf2)

	if err := agent.Step(); err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if agent.gradientSteps != 1 {
		t.Fatalf("expected 1 gradient step, got %v", agent.gradientSteps)
	}

	changed := func(before [][]float64, net network.NeuralNet) bool {
		after := learnableData(net)
		for i := range before {
			for j := range before[i] {
				if before[i][j] != after[i][j] {
					return true
				}
			}
		}
		return false
	}
	if !changed(policyBefore, agent.trainPolicy.Network()) {
		t.Error("policy weights unchanged after gradient step")
	}
	if !changed(qf1Before, agent.qf1) {
		t.Error("first critic weights unchanged after gradient step")
	}
	if !changed(qf2Before, agent.qf2) {
		t.Error("second critic weights unchanged after gradient step")
	}
}

func TestTargetCriticsTrackLiveCritics(t *testing.T) {
	env := newPointMass(t)

	// With tau = 1 and an update interval of 1, each gradient step
	// copies the live critics into the target critics exactly
	conf := newTestConfig(t, false, 4, 4)

	agent, err := New(env, conf, 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	fill(t, agent, env, 8)
	if err := agent.Step(); err != nil {
		t.Fatalf("step failed: %v", err)
	}

	pairs := []struct {
		name         string
		live, target network.NeuralNet
	}{
		{"first", agent.qf1, agent.targetQf1},
		{"second", agent.qf2, agent.targetQf2},
	}
	for _, pair := range pairs {
		live := learnableData(pair.live)
		target := learnableData(pair.target)
		for i := range live {
			for j := range live[i] {
				if live[i][j] != target[i][j] {
					t.Fatalf("%v target critic does not match its live "+
						"critic after a full copy", pair.name)
				}
			}
		}
	}
}

func TestFixedAlphaUnchangedByStep(t *testing.T) {
	env := newPointMass(t)
	conf := newTestConfig(t, false, 4, 4)

	agent, err := New(env, conf, 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	if agent.Alpha() != conf.Alpha {
		t.Fatalf("expected entropy coefficient %v, got %v", conf.Alpha,
			agent.Alpha())
	}

	fill(t, agent, env, 8)
	for i := 0; i < 3; i++ {
		if err := agent.Step(); err != nil {
			t.Fatalf("step failed: %v", err)
		}
	}

	if agent.Alpha() != conf.Alpha {
		t.Errorf("entropy coefficient changed without automatic tuning: "+
			"expected %v, got %v", conf.Alpha, agent.Alpha())
	}
}

func TestCriticRegressionLossDecreases(t *testing.T) {
	env := newPointMass(t)
	conf := newTestConfig(t, false, 4, 4)

	agent, err := New(env, conf, 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	// A fixed regression problem: one batch of state-action inputs and
	// targets
	inputs := []float64{
		0.1, 0.0, 0.5,
		-0.3, 0.2, -0.1,
		0.7, -0.4, 0.9,
		-1.0, 0.1, 0.3,
	}
	targets := []float64{-0.9, -1.3, -0.3, -2.0}

	step := func() float64 {
		err := agent.criticStep(agent.qf1, agent.qf1VM, agent.qf1Solver,
			agent.qf1Targets, targets, inputs, agent.qf1LossVal)
		if err != nil {
			t.Fatalf("critic step failed: %v", err)
		}
		return (*agent.qf1LossVal).Data().(float64)
	}

	initial := step()
	var final float64
	for i := 0; i < 50; i++ {
		final = step()
	}

	if final >= initial {
		t.Errorf("critic loss did not decrease on a fixed regression "+
			"problem: initial %v, final %v", initial, final)
	}
}

func TestTargetEntropyDefault(t *testing.T) {
	env := newPointMass(t)
	conf := newTestConfig(t, true, 4, 4)

	agent, err := New(env, conf, 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	// The default target entropy is the negative action dimension
	if agent.targetEntropy != -1.0 {
		t.Errorf("expected default target entropy -1, got %v",
			agent.targetEntropy)
	}
}

func TestObserveAddsTransitions(t *testing.T) {
	env := newPointMass(t)
	conf := newTestConfig(t, false, 4, 4)

	agent, err := New(env, conf, 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	step := env.Reset()
	if err := agent.ObserveFirst(step); err != nil {
		t.Fatalf("could not observe first timestep: %v", err)
	}

	// The first Observe call has no completed transition to add
	action := agent.SelectAction(step)
	step, _ = env.Step(action)
	if err := agent.Observe(action, step); err != nil {
		t.Fatalf("could not observe timestep: %v", err)
	}
	if agent.replay.Capacity() != 0 {
		t.Fatalf("expected empty buffer after one observation, got "+
			"capacity %v", agent.replay.Capacity())
	}

	action = agent.SelectAction(step)
	step, _ = env.Step(action)
	if err := agent.Observe(action, step); err != nil {
		t.Fatalf("could not observe timestep: %v", err)
	}
	if agent.replay.Capacity() != 1 {
		t.Errorf("expected 1 buffered transition after two observations, "+
			"got %v", agent.replay.Capacity())
	}
}

func TestTrainOnceRecordsEpisodeReturns(t *testing.T) {
	env := newPointMass(t)
	conf := newTestConfig(t, false, 4, 4)

	agent, err := New(env, conf, 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	// Roll out one short path
	var path Path
	step := env.Reset()
	for i := 0; i < 6; i++ {
		action := agent.SelectAction(step)
		nextStep, _ := env.Step(action)
		nextAction := agent.SelectAction(nextStep)
		path.Transitions = append(path.Transitions,
			ts.NewTransition(step, action, nextStep, nextAction))
		step = nextStep
	}
	path.Complete = true

	mean, err := agent.TrainOnce(0, []Path{path})
	if err != nil {
		t.Fatalf("train iteration failed: %v", err)
	}

	returns := agent.EpisodeReturns()
	if len(returns) != 1 {
		t.Fatalf("expected 1 recorded episode return, got %v", len(returns))
	}
	if returns[0] != path.UndiscountedReturn() {
		t.Errorf("recorded return %v does not match path return %v",
			returns[0], path.UndiscountedReturn())
	}
	if mean != returns[0] {
		t.Errorf("expected mean return %v, got %v", returns[0], mean)
	}
	if agent.gradientSteps != 1 {
		t.Errorf("expected 1 gradient step, got %v", agent.gradientSteps)
	}
}

func TestStepRecordsFiniteLosses(t *testing.T) {
	env := newPointMass(t)
	conf := newTestConfig(t, false, 4, 4)

	agent, err := New(env, conf, 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	fill(t, agent, env, 8)
	if err := agent.Step(); err != nil {
		t.Fatalf("step failed: %v", err)
	}

	losses := []struct {
		name string
		val  *G.Value
	}{
		{"first critic", agent.qf1LossVal},
		{"second critic", agent.qf2LossVal},
		{"actor", agent.actorLossVal},
	}
	for _, l := range losses {
		if l.val == nil || *l.val == nil {
			t.Fatalf("%v loss not recorded after a gradient step", l.name)
		}
		loss := (*l.val).Data().(float64)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			t.Errorf("%v loss is not finite: %v", l.name, loss)
		}
	}
}

func TestCriticStepsAreIndependent(t *testing.T) {
	env := newPointMass(t)
	conf := newTestConfig(t, false, 4, 4)

	agent, err := New(env, conf, 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	inputs := []float64{
		0.1, 0.0, 0.5,
		-0.3, 0.2, -0.1,
		0.7, -0.4, 0.9,
		-1.0, 0.1, 0.3,
	}
	targets := []float64{-0.9, -1.3, -0.3, -2.0}

	unchanged := func(before [][]float64, net network.NeuralNet) bool {
		after := learnableData(net)
		for i := range before {
			for j := range before[i] {
				if before[i][j] != after[i][j] {
					return false
				}
			}
		}
		return true
	}

	qf2Before := learnableData(agent.qf2)
	err = agent.criticStep(agent.qf1, agent.qf1VM, agent.qf1Solver,
		agent.qf1Targets, targets, inputs, agent.qf1LossVal)
	if err != nil {
		t.Fatalf("first critic step failed: %v", err)
	}
	if !unchanged(qf2Before, agent.qf2) {
		t.Error("updating the first critic changed the second critic's " +
			"weights")
	}

	qf1Before := learnableData(agent.qf1)
	err = agent.criticStep(agent.qf2, agent.qf2VM, agent.qf2Solver,
		agent.qf2Targets, targets, inputs, agent.qf2LossVal)
	if err != nil {
		t.Fatalf("second critic step failed: %v", err)
	}
	if !unchanged(qf1Before, agent.qf1) {
		t.Error("updating the second critic changed the first critic's " +
			"weights")
	}
}

func TestStepPolyakUpdatesTargets(t *testing.T) {
	env := newPointMass(t)
	conf := newTestConfig(t, false, 4, 4)
	conf.Tau = 0.25

	agent, err := New(env, conf, 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	fill(t, agent, env, 8)

	targetBefore1 := learnableData(agent.targetQf1)
	targetBefore2 := learnableData(agent.targetQf2)
	if err := agent.Step(); err != nil {
		t.Fatalf("step failed: %v", err)
	}

	// target <- (1 - tau) * target + tau * live, with the live weights
	// taken after the critic's gradient step
	pairs := []struct {
		name   string
		live   network.NeuralNet
		target network.NeuralNet
		before [][]float64
	}{
		{"first", agent.qf1, agent.targetQf1, targetBefore1},
		{"second", agent.qf2, agent.targetQf2, targetBefore2},
	}
	for _, pair := range pairs {
		live := learnableData(pair.live)
		target := learnableData(pair.target)
		for i := range live {
			for j := range live[i] {
				expected := (1.0-conf.Tau)*pair.before[i][j] +
					conf.Tau*live[i][j]
				if math.Abs(target[i][j]-expected) > 1e-12 {
					t.Fatalf("%v target critic: learnable %v weight %v: "+
						"expected %v, got %v", pair.name, i, j, expected,
						target[i][j])
				}
			}
		}
	}

	for i := 0; i < 4; i++ {
		if err := agent.Step(); err != nil {
			t.Fatalf("step failed: %v", err)
		}
	}
	if agent.gradientSteps != 5 {
		t.Errorf("expected 5 gradient steps, got %v", agent.gradientSteps)
	}
}

func TestStepReducesHeldOutBellmanError(t *testing.T) {
	env := newPointMass(t)
	conf := newTestConfig(t, false, 4, 4)
	conf.Tau = 0.05
	qfSolver, err := solver.NewDefaultAdam(0.01, 1)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}
	conf.QfSolver = qfSolver

	agent, err := New(env, conf, 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	fill(t, agent, env, 32)

	// Fix one sampled batch as the evaluation batch
	S, A, R, discounts, NextS, _, err := agent.replay.Sample()
	if err != nil {
		t.Fatalf("could not sample evaluation batch: %v", err)
	}

	initial := bellmanError(t, agent, S, A, R, discounts, NextS)
	for i := 0; i < 50; i++ {
		if err := agent.Step(); err != nil {
			t.Fatalf("step failed: %v", err)
		}
	}
	final := bellmanError(t, agent, S, A, R, discounts, NextS)

	if final >= initial {
		t.Errorf("Bellman error on the evaluation batch did not decrease "+
			"after training: initial %v, final %v", initial, final)
	}
}
