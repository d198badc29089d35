package sac

import (
	"fmt"

	"github.com/softrl/softrl/agent"
	env "github.com/softrl/softrl/environment"
	"github.com/softrl/softrl/expreplay"
	"github.com/softrl/softrl/initwfn"
	"github.com/softrl/softrl/network"
	"github.com/softrl/softrl/solver"
)

// GaussianTreeMLPConfig implements a configuration for a SAC agent
// with a Gaussian policy. The Gaussian policy is parameterized by a
// neural network which has a single input and a single root network.
// The root network then splits off into two leaf networks - one for
// the mean and one for the log standard deviation of the policy. See
// the policy.GaussianTreeMLP struct for more details. The action
// dimensions may be n-dimensional.
//
// The two critics are multi-head MLPs with a single output head,
// taking the concatenated state-action vector as input.
type GaussianTreeMLPConfig struct {
	// Policy neural net
	RootLayers      []int
	RootBiases      []bool
	RootActivations []*network.Activation

	LeafLayers      [][]int
	LeafBiases      [][]bool
	LeafActivations [][]*network.Activation

	// Critic neural nets. Both critics share the same architecture
	// but not the same parameters.
	QfLayers      []int
	QfBiases      []bool
	QfActivations []*network.Activation

	// Weight init function for all neural nets
	InitWFn *initwfn.InitWFn

	PolicySolver *solver.Solver
	QfSolver     *solver.Solver

	// AlphaSolver adjusts the entropy coefficient when
	// AutoEntropyTuning is enabled
	AlphaSolver *solver.Solver

	// Experience replay parameters
	ExpReplay expreplay.Config

	// Alpha is the entropy coefficient. When AutoEntropyTuning is
	// enabled, Alpha is only the initial value of the coefficient.
	Alpha             float64
	AutoEntropyTuning bool

	// TargetEntropy is the entropy target for automatic entropy
	// tuning. If 0, it defaults to the negative of the action
	// dimensionality.
	TargetEntropy float64

	// RewardScale scales rewards in the critic update target
	RewardScale float64

	Tau                  float64
	TargetUpdateInterval int

	// TargetPolicy determines whether a Polyak-averaged copy of the
	// policy is maintained alongside the target critics
	TargetPolicy bool
}

// BatchSize gets the batch size for the agent generated by this config
func (g GaussianTreeMLPConfig) BatchSize() int {
	return g.ExpReplay.BatchSize()
}

// Validate checks a Config to ensure it is a valid configuration
func (g GaussianTreeMLPConfig) Validate() error {
	if g.BatchSize() <= 0 {
		return fmt.Errorf("cannot have batch size %v < 1", g.BatchSize())
	}

	if len(g.LeafLayers) != 2 {
		return fmt.Errorf("gaussian policy requires 2 leaf networks "+
			"\n\twant(2)\n\thave(%v)", len(g.LeafLayers))
	}

	if g.Tau < 0.0 || g.Tau > 1.0 {
		return fmt.Errorf("tau must be in [0, 1] \n\thave(%v)", g.Tau)
	}

	if g.TargetUpdateInterval <= 0 {
		return fmt.Errorf("target networks must be updated at least every "+
			"1 gradient step \n\thave(%v)", g.TargetUpdateInterval)
	}

	if g.Alpha <= 0 {
		return fmt.Errorf("entropy coefficient must be positive "+
			"\n\thave(%v)", g.Alpha)
	}

	if g.RewardScale <= 0 {
		return fmt.Errorf("reward scale must be positive \n\thave(%v)",
			g.RewardScale)
	}

	if g.PolicySolver == nil || g.QfSolver == nil {
		return fmt.Errorf("policy and critic solvers must be non-nil")
	}

	if g.AutoEntropyTuning && g.AlphaSolver == nil {
		return fmt.Errorf("alpha solver must be non-nil when automatic " +
			"entropy tuning is enabled")
	}

	return nil
}

// ValidAgent returns true if the argument agent can be constructed
// from the Config and false otherwise.
func (g GaussianTreeMLPConfig) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*SAC)
	return ok
}

// CreateAgent creates and returns the agent determined by the
// configuration
func (g GaussianTreeMLPConfig) CreateAgent(e env.Environment,
	seed uint64) (agent.Agent, error) {
	return New(e, g, seed)
}
