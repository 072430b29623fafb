package ubus

import "github.com/pkg/errors"

var (
	// ErrConnectionFailed is returned by every call made on connection broken by transport or framing failure.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrConnectionBusy is returned when connection is called from inside a callback of another call.
	ErrConnectionBusy = errors.New("connection busy")

	// ErrNotFound is returned when lookup finds no object.
	ErrNotFound = errors.New("object not found")

	// ErrUnknownMethod is returned when object has no method of requested name.
	ErrUnknownMethod = errors.New("unknown method")
)
