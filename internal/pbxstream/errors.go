package pbxstream

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// ConnectError means the session never reached the subscription step.
type ConnectError struct {
	Endpoint   string
	StatusCode int
	Status     string
	Err        error
}

func (e *ConnectError) Error() string {
	if e == nil {
		return "stream connect failed"
	}
	msg := "stream connect to " + e.Endpoint + " failed"
	if e.Status != "" {
		msg += ": " + e.Status
	} else if e.StatusCode != 0 {
		msg += fmt.Sprintf(": http status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DecodeError covers one unreadable inbound frame; the session continues.
type DecodeError struct {
	Frame string
	Err   error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "frame decode failed"
	}
	if e.Err == nil {
		return "frame decode failed"
	}
	return "frame decode failed: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TransportError ends a streaming session: a read or write on the socket
// failed or the remote closed it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "stream transport failed"
	}
	return "stream " + e.Op + " failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsAuthRejected reports whether the upgrade was refused because the
// credential was not accepted.
func IsAuthRejected(err error) bool {
	var connectErr *ConnectError
	if !errors.As(err, &connectErr) {
		return false
	}
	return connectErr.StatusCode == http.StatusUnauthorized || connectErr.StatusCode == http.StatusForbidden
}

func IsRemoteClose(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}
