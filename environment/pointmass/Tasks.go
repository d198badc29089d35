package pointmass

import (
	"math"

	"gonum.org/v1/gonum/mat"

	env "github.com/softrl/softrl/environment"
	ts "github.com/softrl/softrl/timestep"
)

const (
	// GoalPosition is a commonly used goal x position
	GoalPosition float64 = 1.0

	// GoalRadius determines how close to the goal position the mass
	// must be for the goal to be considered reached
	GoalRadius float64 = 0.05
)

// Reach implements the task of moving the point mass to a goal
// position. Rewards are the negative absolute distance between the
// mass and the goal, so that the maximum attainable return is achieved
// by moving to the goal as quickly as possible and staying there.
//
// Episodes end at a terminal state when the mass comes to within
// GoalRadius of the goal position, or at a cutoff after a step limit.
type Reach struct {
	env.Starter
	stepLimit env.Ender
	goalX     float64
}

// NewReach creates and returns a new Reach task given a Starter, which
// determines starting states; the goal x position; and the maximum
// number of episode steps.
func NewReach(s env.Starter, goalX float64, episodeSteps int) *Reach {
	return &Reach{
		Starter:   s,
		stepLimit: env.NewStepLimit(episodeSteps),
		goalX:     goalX,
	}
}

// GetReward returns the reward for taking an action in a state,
// resulting in a given next state
func (r *Reach) GetReward(_ mat.Vector, _ mat.Vector,
	nextState mat.Vector) float64 {
	return -math.Abs(nextState.AtVec(0) - r.goalX)
}

// AtGoal returns whether the argument state is a goal state
func (r *Reach) AtGoal(state mat.Matrix) bool {
	return math.Abs(state.At(0, 0)-r.goalX) <= GoalRadius
}

// End determines whether the argument timestep ends the episode,
// modifying the timestep in-place if so. Reaching the goal is a
// terminal state and zeroes the timestep's discount; running out the
// step limit is a cutoff and leaves the discount untouched.
func (r *Reach) End(t *ts.TimeStep) bool {
	if r.AtGoal(t.Observation) {
		t.StepType = ts.Last
		t.Discount = 0.0
		return true
	}

	return r.stepLimit.End(t)
}

// Min returns the minimum attainable reward over all timesteps
func (r *Reach) Min() float64 {
	return -(MaxPosition - MinPosition)
}

// Max returns the maximum attainable reward over all timesteps
func (r *Reach) Max() float64 { return 0.0 }

// RewardSpec returns the reward specification of the Task
func (r *Reach) RewardSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{r.Min()})
	upperBound := mat.NewVecDense(1, []float64{r.Max()})

	return env.NewSpec(shape, env.Reward, lowerBound, upperBound,
		env.Continuous)
}
