package session

import "errors"

var ErrInvalidSessionID = errors.New("session id must be a positive integer")
