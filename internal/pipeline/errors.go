package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by Publish before the pipeline has started.
	ErrNotReady = errors.New("pipeline: publisher not ready")

	// ErrStopped is returned by Publish once the pipeline is stopping.
	ErrStopped = errors.New("pipeline: stopped")

	// ErrOverloaded is returned when a publish has been back pressured for
	// longer than the configured maximum retry duration.
	ErrOverloaded = errors.New("pipeline: transport overloaded")

	// ErrTransportLost is returned by the poller when its transport handle
	// is closed while the pipeline is still running.
	ErrTransportLost = errors.New("pipeline: transport lost")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("pipeline: already started")
)

// TeardownError reports a resource that failed to close during Stop.
type TeardownError struct {
	Resource string
	Err      error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("close %s: %v", e.Resource, e.Err)
}

func (e *TeardownError) Unwrap() error {
	return e.Err
}
