package app

import "errors"

var (
	ErrLocalAPI          = errors.New("local API server failed")
	ErrStreamUnavailable = errors.New("pbx event stream unavailable")
)
