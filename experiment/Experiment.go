// Package experiment implements functionality for running an experiment
package experiment

import (
	"github.com/softrl/softrl/experiment/tracker"
	ts "github.com/softrl/softrl/timestep"
)

// Experiment outlines structs that can run experiments. Experiments
// track environment TimeSteps, caching data about each TimeStep in
// RAM to be later saved to disk. The Save() function will then take
// all cached data and save it to disk. This is usually performed
// after an experiment has been run. The Run() method will run all
// episodes until the maximum timestep limit is reached, or some other
// ending condition is reached. The RunEpisode() function will run a
// single episode.
//
// In order to save data, Experiments use Trackers. Trackers determine
// which data generated during the experiment is saved. Experiments
// send each TimeStep to Trackers using the Tracker's Track() method.
// The Tracker then determines which data from the TimeStep it caches
// and saves. New Trackers can be registered with an Experiment through
// the constructor or through an Experiment's Register() function.
type Experiment interface {
	Run() error

	// RunEpisode runs a single episode, returning whether the
	// experiment's timestep limit has been reached
	RunEpisode() (bool, error)

	// Save all tracked data to disk
	Save() error

	// Register adds a new tracker.Tracker to the (possibly already
	// running) experiment. Useful to track data only after a
	// specified event.
	Register(t tracker.Tracker)

	// track caches the current timestep's data in each Tracker
	track(ts.TimeStep)
}
