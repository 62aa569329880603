package correlation

import "errors"

var (
	// ErrStore wraps failures of the correlation or result store.
	ErrStore = errors.New("correlation store failure")

	// ErrPublish wraps failures to put an envelope on the bus.
	ErrPublish = errors.New("publish failed")

	// ErrUnknownTask is returned for a task the correlator cannot route.
	ErrUnknownTask = errors.New("unknown task")
)
