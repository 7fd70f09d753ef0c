package reports

import "errors"

var (
	ErrQueueFull    = errors.New("report queue full")
	ErrQueueStopped = errors.New("report queue stopped")
)
