package wire

import "github.com/pkg/errors"

var (
	// ErrInvalidData is returned (wrapped) for every structurally invalid input.
	ErrInvalidData = errors.New("invalid data")

	// ErrBufferOverflow is returned when encoded output does not fit the destination buffer.
	ErrBufferOverflow = errors.New("buffer overflow")
)

func invalidData(msg string) error {
	return errors.Wrap(ErrInvalidData, msg)
}

func invalidDataf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidData, format, args...)
}
