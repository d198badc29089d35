package expreplay

import (
	"fmt"
	"math/rand"

	"github.com/softrl/softrl/utils/intutils"
)

// SelectorType describes the types of Selectors that are available
type SelectorType string

// Available selector types
const (
	Uniform SelectorType = "Uniform"
	Fifo    SelectorType = "Fifo"
)

// CreateSelector returns a new Selector of the given type which
// selects batches of size samples.
func CreateSelector(t SelectorType, samples int, seed int64) Selector {
	switch t {
	case Uniform:
		return NewUniformSelector(samples, seed)
	case Fifo:
		return NewFifoSelector(samples)
	}
	panic(fmt.Sprintf("createselector: no such selector type %v", t))
}

// Selector implements functionality for choosing how data should be
// sampled and/or removed from an experience replay buffer
type Selector interface {
	// choose selects the indices at which data should be sampled from
	// the experience replay buffer
	choose(c orderedSampler) []int

	// BatchSize returns the number of elements that will be selected
	BatchSize() int

	// registerAsRemover registers a Selector as a remover
	//
	// Some Selectors require different behaviour if they are removers,
	// so they should be notified if they become a remover to add this
	// additional behaviour
	registerAsRemover()
}

// uniformSelector is a Selector which selects data from an experience
// replay buffer uniformly randomly
type uniformSelector struct {
	samples int
	rng     *rand.Rand
}

// NewUniformSelector returns a new Selector which selects data
// uniformly randomly from an experience replay buffer
func NewUniformSelector(samples int, seed int64) Selector {
	source := rand.NewSource(seed)
	rng := rand.New(source)

	return &uniformSelector{samples: samples, rng: rng}
}

// registerAsRemover implements Selector interface
func (u *uniformSelector) registerAsRemover() {}

// BatchSize gets the number of samples in a batch drawn from the buffer
func (u *uniformSelector) BatchSize() int {
	return u.samples
}

// choose selects a number of indices at which to draw data from the
// buffer. Indices are drawn with replacement.
func (u *uniformSelector) choose(c orderedSampler) []int {
	from := c.sampleFrom()
	selected := make([]int, u.BatchSize())
	for i := 0; i < u.BatchSize(); i++ {
		selected[i] = from[u.rng.Intn(len(from))]
	}

	return selected
}

// fifoSelector is a Selector which selects data from an experience
// replay buffer as first-in-first-out.
type fifoSelector struct {
	samples int
	remover bool
}

// NewFifoSelector returns a new Selector which draws data from an
// experience replay buffer FiFo.
func NewFifoSelector(samples int) Selector {
	return &fifoSelector{samples: samples, remover: false}
}

// registerAsRemover implements Selector interface
func (f *fifoSelector) registerAsRemover() {
	f.remover = true
}

// BatchSize gets the number of samples in a batch drawn from the buffer
func (f *fifoSelector) BatchSize() int {
	return f.samples
}

// choose selects a number of indices at which to draw data from the
// buffer
func (f *fifoSelector) choose(c orderedSampler) []int {
	n := intutils.Min(f.BatchSize(), c.Capacity())
	selected := make([]int, n)
	insertOrder := c.insertOrder(n)

	for i := 0; i < n; i++ {
		selected[i] = insertOrder[i]

		if f.remover {
			// In a FiFo remover, the indices at which data was first
			// added get freed first, so we can remove these from the
			// ordering of inserted indices
			c.removeFront()
		}
	}

	return selected
}
