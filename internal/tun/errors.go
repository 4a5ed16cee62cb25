package tun

import (
	"errors"
	"fmt"
)

// Kind classifies a device error.
type Kind int

const (
	// KindInvalidArgument is a caller mistake caught before any syscall.
	KindInvalidArgument Kind = iota + 1
	// KindIO is an operating system failure (open, ioctl, read, write).
	KindIO
	// KindInvalidState means the kernel returned data this package cannot decode.
	KindInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindIO:
		return "I/O error"
	case KindInvalidState:
		return "invalid state"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidArgument, ErrIO and ErrInvalidState match any *Error of that kind
	// with errors.Is.
	ErrInvalidArgument = errors.New("invalid argument")
	ErrIO              = errors.New("I/O error")
	ErrInvalidState    = errors.New("invalid state")

	// ErrClosed is wrapped by every operation on a closed device.
	ErrClosed = errors.New("device is closed")

	// ErrUnsupported is returned by the system kernel on non-Linux builds.
	ErrUnsupported = errors.New("TUN/TAP devices are only supported on Linux")
)

// Error describes a failed device operation.
type Error struct {
	Op   string // e.g. "failed to set the interface MTU"
	Path string // control node path, when relevant
	Kind Kind
	Err  error // underlying OS error, nil for argument errors
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind matches against ErrInvalidArgument, ErrIO and ErrInvalidState.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidArgument:
		return e.Kind == KindInvalidArgument
	case ErrIO:
		return e.Kind == KindIO
	case ErrInvalidState:
		return e.Kind == KindInvalidState
	}
	return false
}

func invalidArgument(format string, args ...any) error {
	return &Error{Op: fmt.Sprintf(format, args...), Kind: KindInvalidArgument}
}

func invalidState(msg string) error {
	return &Error{Op: msg, Kind: KindInvalidState}
}

func ioError(op string, err error) error {
	return &Error{Op: op, Kind: KindIO, Err: err}
}

// IsInvalidArgument reports whether err is an argument error.
func IsInvalidArgument(err error) bool { return errors.Is(err, ErrInvalidArgument) }

// IsClosed reports whether err came from an operation on a closed device.
func IsClosed(err error) bool { return errors.Is(err, ErrClosed) }
