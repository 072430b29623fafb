package ubus

import "fmt"

// StatusCode is the status reported by the bus at the end of request.
type StatusCode int32

// Status codes.
const (
	StatusOK StatusCode = iota
	StatusInvalidCommand
	StatusInvalidArgument
	StatusMethodNotFound
	StatusNotFound
	StatusNoData
	StatusPermissionDenied
	StatusTimeout
	StatusNotSupported
	StatusUnknownError
	StatusConnectionFailed
	StatusNoMemory
	StatusParseError
	StatusSystemError
)

var statusNames = []string{
	"OK",
	"INVALID_COMMAND",
	"INVALID_ARGUMENT",
	"METHOD_NOT_FOUND",
	"NOT_FOUND",
	"NO_DATA",
	"PERMISSION_DENIED",
	"TIMEOUT",
	"NOT_SUPPORTED",
	"UNKNOWN_ERROR",
	"CONNECTION_FAILED",
	"NO_MEMORY",
	"PARSE_ERROR",
	"SYSTEM_ERROR",
}

func (s StatusCode) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("STATUS(%d)", int32(s))
}

// StatusError is returned when the bus reports non-zero status.
type StatusError struct {
	Code StatusCode
}

func (e StatusError) Error() string {
	return fmt.Sprintf("ubus returned status %d (%s)", int32(e.Code), e.Code)
}
