// Package pointmass implements a minimal continuous-state,
// continuous-action environment in which a unit point mass moves along
// a line under an applied force. The environment state consists of the
// mass's position and velocity, both of which are bounded by the
// constants defined in this package. Actions are one-dimensional
// forces, clipped to the legal action range.
//
// The point mass follows simple Euler-integrated dynamics:
//
//	velocity += Dt * force
//	position += Dt * velocity
//
// This environment is deliberately small. It exists so that
// continuous-action agents can be run and tested end-to-end without
// pulling in a physics engine.
package pointmass

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	env "github.com/softrl/softrl/environment"
	ts "github.com/softrl/softrl/timestep"
	"github.com/softrl/softrl/utils/floatutils"
)

const (
	MinPosition float64 = -2.0
	MaxPosition float64 = 2.0
	MaxSpeed    float64 = 4.0

	MinContinuousAction float64 = -1.0
	MaxContinuousAction float64 = 1.0

	// Dt is the Euler integration timestep
	Dt float64 = 0.05

	// Power scales actions into applied forces
	Power float64 = 10.0
)

// PointMass implements the point mass environment with continuous
// actions. Actions outside the legal action range are clipped to stay
// within that range.
type PointMass struct {
	env.Task
	positionBounds r1.Interval
	speedBounds    r1.Interval
	actionBounds   r1.Interval
	lastStep       ts.TimeStep
	discount       float64
}

// New creates a new point mass environment with the argument task and
// discount, returning the environment and the first timestep
func New(t env.Task, discount float64) (env.Environment, ts.TimeStep, error) {
	positionBounds := r1.Interval{Min: MinPosition, Max: MaxPosition}
	speedBounds := r1.Interval{Min: -MaxSpeed, Max: MaxSpeed}
	actionBounds := r1.Interval{
		Min: MinContinuousAction,
		Max: MaxContinuousAction,
	}

	state := t.Start()
	if err := validateState(state, positionBounds, speedBounds); err != nil {
		return nil, ts.TimeStep{}, fmt.Errorf("new: %v", err)
	}

	firstStep := ts.New(ts.First, 0.0, discount, state, 0)

	pm := &PointMass{
		Task:           t,
		positionBounds: positionBounds,
		speedBounds:    speedBounds,
		actionBounds:   actionBounds,
		lastStep:       firstStep,
		discount:       discount,
	}

	return pm, firstStep, nil
}

// Reset resets the environment and returns a starting state drawn from
// the environment Starter
func (p *PointMass) Reset() ts.TimeStep {
	state := p.Start()
	if err := validateState(state, p.positionBounds,
		p.speedBounds); err != nil {
		panic(fmt.Sprintf("reset: %v", err))
	}

	startStep := ts.New(ts.First, 0.0, p.discount, state, 0)
	p.lastStep = startStep

	return startStep
}

// Step takes one environmental step given action a and returns the next
// timestep and whether that timestep is the last in the episode
func (p *PointMass) Step(a mat.Vector) (ts.TimeStep, bool) {
	if a.Len() != 1 {
		panic(fmt.Sprintf("step: actions must be 1-dimensional \n\twant(1)"+
			"\n\thave(%v)", a.Len()))
	}

	force := floatutils.ClipInterval(a.AtVec(0), p.actionBounds)

	state := p.lastStep.Observation
	position, velocity := state.AtVec(0), state.AtVec(1)

	velocity += Dt * Power * force
	velocity = floatutils.ClipInterval(velocity, p.speedBounds)

	position += Dt * velocity
	position = floatutils.ClipInterval(position, p.positionBounds)

	// The mass stops dead when it hits a wall
	if position <= p.positionBounds.Min || position >= p.positionBounds.Max {
		velocity = 0.0
	}

	nextState := mat.NewVecDense(2, []float64{position, velocity})
	reward := p.GetReward(state, a, nextState)

	nextStep := ts.New(ts.Mid, reward, p.discount, nextState,
		p.lastStep.Number+1)
	last := p.End(&nextStep)

	p.lastStep = nextStep
	return nextStep, last
}

// ObservationSpec returns the observation specification of the
// environment
func (p *PointMass) ObservationSpec() env.Spec {
	shape := mat.NewVecDense(2, nil)
	lowerBound := mat.NewVecDense(2, []float64{p.positionBounds.Min,
		p.speedBounds.Min})
	upperBound := mat.NewVecDense(2, []float64{p.positionBounds.Max,
		p.speedBounds.Max})

	return env.NewSpec(shape, env.Observation, lowerBound, upperBound,
		env.Continuous)
}

// ActionSpec returns the action specification of the environment
func (p *PointMass) ActionSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{p.actionBounds.Min})
	upperBound := mat.NewVecDense(1, []float64{p.actionBounds.Max})

	return env.NewSpec(shape, env.Action, lowerBound, upperBound,
		env.Continuous)
}

// DiscountSpec returns the discounting specification of the environment
func (p *PointMass) DiscountSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	bound := mat.NewVecDense(1, []float64{p.discount})

	return env.NewSpec(shape, env.Discount, bound, bound, env.Continuous)
}

// validateState ensures that a state observation falls within the legal
// state bounds
func validateState(state mat.Vector, positionBounds,
	speedBounds r1.Interval) error {
	if state.Len() != 2 {
		return fmt.Errorf("state must have two dimensions \n\twant(2)"+
			"\n\thave(%v)", state.Len())
	}

	position, velocity := state.AtVec(0), state.AtVec(1)
	if position < positionBounds.Min || position > positionBounds.Max {
		return fmt.Errorf("position %v out of bounds %v", position,
			positionBounds)
	}
	if velocity < speedBounds.Min || velocity > speedBounds.Max {
		return fmt.Errorf("velocity %v out of bounds %v", velocity,
			speedBounds)
	}
	return nil
}
