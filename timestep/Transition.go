package timestep

import (
	"gonum.org/v1/gonum/mat"
)

// Transition packages together a single transition of the
// agent-environment interaction: taking Action in State resulted in
// Reward and NextState. The Discount field holds the discount to apply
// to the value of NextState when bootstrapping; it is 0 if NextState
// is terminal.
type Transition struct {
	State    mat.Vector
	Action   mat.Vector
	Reward   float64
	Discount float64

	NextState  mat.Vector
	NextAction mat.Vector
}

// NewTransition packages separate timesteps t and nextT into a single
// Transition
func NewTransition(t TimeStep, action mat.Vector, nextT TimeStep,
	nextAction mat.Vector) Transition {
	return Transition{
		State:      t.Observation,
		Action:     action,
		Reward:     nextT.Reward,
		Discount:   nextT.Discount,
		NextState:  nextT.Observation,
		NextAction: nextAction,
	}
}
