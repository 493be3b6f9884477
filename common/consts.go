package common

import "time"

const (
	// DefaultTimeout bounds a single command round trip when the
	// caller doesn't override it.
	DefaultTimeout time.Duration = 30 * time.Second

	// wsWriteTimeout bounds one websocket frame write.
	wsWriteTimeout = 10 * time.Second
)
