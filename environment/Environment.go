// Package environment outlines the interfaces and structs needed to
// implement concrete environments
package environment

import (
	"gonum.org/v1/gonum/mat"

	"github.com/softrl/softrl/timestep"
)

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() mat.Vector
}

// Ender determines when and how episodes end. An Ender modifies the
// final TimeStep of an episode in-place to reflect how the episode
// ended: a terminal state sets the TimeStep's discount to 0, while a
// step-limit cutoff leaves the discount untouched so that the final
// state's value may still be bootstrapped.
type Ender interface {
	// End returns whether the argument timestep is the last in the
	// episode, modifying the timestep in-place if so
	End(*timestep.TimeStep) bool
}

// Task implements the reward scheme for taking actions in some
// environment, along with the starting state distribution and the
// episode termination conditions of the task.
type Task interface {
	Starter
	Ender

	// GetReward returns the reward for taking an action in some state,
	// resulting in some next state
	GetReward(state, action, nextState mat.Vector) float64

	// AtGoal returns whether the argument state is a goal state
	AtGoal(state mat.Matrix) bool

	// Min and Max return the minimum and maximum attainable rewards
	Min() float64
	Max() float64

	RewardSpec() Spec
}

// Environment implements a simulated environment, which includes a
// Task to complete
type Environment interface {
	Task
	Reset() timestep.TimeStep // Resets between episodes
	Step(action mat.Vector) (timestep.TimeStep, bool)
	DiscountSpec() Spec
	ObservationSpec() Spec
	ActionSpec() Spec
}
