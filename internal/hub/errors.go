package hub

import "errors"

var (
	ErrEncodeFailed = errors.New("failed to encode event")
	ErrNoConnection = errors.New("participant has no connection")
)
