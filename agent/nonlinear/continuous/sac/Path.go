package sac

import (
	ts "github.com/softrl/softrl/timestep"
)

// Path is a normalized trajectory of agent-environment interaction.
// A Path holds the transitions of (a suffix of) a single episode
// together with bookkeeping about how the episode ended.
type Path struct {
	Transitions []ts.Transition

	// Complete denotes whether the path holds a full episode, from the
	// first step to the last
	Complete bool

	// Success denotes whether the episode ended with the task solved,
	// e.g. the environment's goal state was reached
	Success bool
}

// UndiscountedReturn returns the sum of rewards along the path
func (p Path) UndiscountedReturn() float64 {
	var total float64
	for _, transition := range p.Transitions {
		total += transition.Reward
	}
	return total
}
