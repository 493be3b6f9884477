package common

import (
	"errors"
	"fmt"

	"github.com/chromedp/cdproto"
)

var (
	// ErrTimedOut is returned when a command's local wait elapses
	// before the browser replies. The command may still complete on
	// the browser side; its late reply is dropped.
	ErrTimedOut = errors.New("timed out")

	// ErrSessionClosed is returned for commands issued against, or
	// pending during, session teardown.
	ErrSessionClosed = errors.New("session closed")

	// ErrConnectionClosed is returned when the underlying websocket
	// is gone before a frame could be sent.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNoDialogPresent is returned when dialog state is read or
	// resolved while no javascript dialog is open.
	ErrNoDialogPresent = errors.New("no dialog present")

	// ErrNoMatchingLogEntry is returned when a network log query
	// matches nothing, distinguishing it from an empty-but-successful
	// result set.
	ErrNoMatchingLogEntry = errors.New("no matching network log entry")

	// ErrTargetCrashed is returned once a session's target has
	// crashed; every subsequent command fails with it.
	ErrTargetCrashed = errors.New("target crashed")
)

// ProtocolError is a command failure reported by the browser itself:
// the reply carried an error object instead of a result.
type ProtocolError struct {
	Method  string
	Code    int64
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error for %s (code %d): %s", e.Method, e.Code, e.Message)
}

func protocolError(method string, cdpErr *cdproto.Error) *ProtocolError {
	return &ProtocolError{
		Method:  method,
		Code:    cdpErr.Code,
		Message: cdpErr.Message,
	}
}
