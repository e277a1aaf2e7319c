package device

import (
	"context"
	"errors"
)

// ErrKernelPanic wraps a panic recovered from a kernel body.
var ErrKernelPanic = errors.New("device: kernel panicked")

// Kernel is the body of a data-parallel launch. It is invoked once per item
// index in [0, items) with no ordering guarantee between items.
type Kernel func(item int)

// Backend schedules kernels onto a device and reports its capabilities.
type Backend interface {
	Name() string

	// MaxWorkGroupSize is the largest number of lanes that may cooperate
	// in one work-group (share scratch state and synchronize).
	MaxWorkGroupSize() int

	// SubGroupSize is the native vector width in float64 lanes.
	SubGroupSize() int

	// Submit enqueues a launch of items kernel invocations. The launch
	// starts only after every event in deps completed successfully; a failed
	// dependency fails the launch without running it.
	Submit(ctx context.Context, name string, items int, kernel Kernel, deps ...*Event) *Event

	// Synchronize blocks until every submitted launch has finished.
	Synchronize()
}

// Event tracks the completion of one submitted launch.
type Event struct {
	done chan struct{}
	err  error
}

func newEvent() *Event {
	return &Event{done: make(chan struct{})}
}

// CompletedEvent returns an event that is already finished with err.
func CompletedEvent(err error) *Event {
	e := newEvent()
	e.finish(err)
	return e
}

func (e *Event) finish(err error) {
	e.err = err
	close(e.done)
}

// Done is closed once the launch has finished.
func (e *Event) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the launch finishes and returns its error.
// A nil event is treated as complete.
func (e *Event) Wait() error {
	if e == nil {
		return nil
	}
	<-e.done
	return e.err
}

// WaitAll waits for every event and returns the first error in argument order.
func WaitAll(events ...*Event) error {
	var first error
	for _, e := range events {
		if err := e.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
