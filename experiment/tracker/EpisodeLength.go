package tracker

import (
	ts "github.com/softrl/softrl/timestep"
)

// EpisodeLength tracks and saves the number of timesteps in each
// episode of an experiment. Only completed episodes are recorded.
type EpisodeLength struct {
	currentLength  int
	episodeLengths []float64
	filename       string
}

// NewEpisodeLength creates and returns a new *EpisodeLength Tracker
// which saves its data to the file at filename
func NewEpisodeLength(filename string) Tracker {
	return &EpisodeLength{filename: filename}
}

// Track tracks the number of timesteps seen in the current episode,
// caching the episode's length when the episode ends
func (e *EpisodeLength) Track(step ts.TimeStep) {
	if step.First() {
		e.currentLength = 0
		return
	}

	e.currentLength++
	if step.Last() {
		e.episodeLengths = append(e.episodeLengths, float64(e.currentLength))
		e.currentLength = 0
	}
}

// Lengths returns the episode lengths tracked so far
func (e *EpisodeLength) Lengths() []float64 {
	return e.episodeLengths
}

// Save saves the data tracked by the EpisodeLength Tracker to disk
func (e *EpisodeLength) Save() error {
	return save(e.filename, e.episodeLengths)
}
