package sim

import "errors"

// ErrEngineNotRunning is returned when an engine is stepped or queried before
// Start or after Stop.
var ErrEngineNotRunning = errors.New("engine not running")

// ErrEngineDiscarded is returned when Start is called on an engine that has
// already been stopped. Engines cannot be restarted.
var ErrEngineDiscarded = errors.New("engine already stopped and discarded")

// An Engine runs the intersection one tick at a time.
type Engine interface {
	Hookable

	// Start allocates the lane workers. Calling it on a running engine does
	// nothing.
	Start() error

	// Step runs one tick and returns its snapshot.
	Step() (*TrafficSnapshot, error)

	// State returns a snapshot of the current tick without advancing time.
	State() (*TrafficSnapshot, error)

	// Stop releases all the workers. Calling it more than once does nothing.
	Stop()

	// IsRunning tells whether the engine has been started and not stopped.
	IsRunning() bool

	// Kind names the execution model.
	Kind() string
}
