package cameraframework

import (
	"errors"
	"fmt"

	"github.com/likelystudying/camera-framework/internal/acquire"
	"github.com/likelystudying/camera-framework/internal/capture"
)

var (
	// ErrPrecondition matches every *PreconditionError via errors.Is.
	ErrPrecondition = errors.New("camera-framework: operation not allowed in current state")

	// ErrReadFailure is wrapped by sources for a read that produced no frame.
	ErrReadFailure = capture.ErrReadFailure

	// ErrNotSupported is returned when the source lacks an optional capability.
	ErrNotSupported = capture.ErrNotSupported

	// ErrTooManyFailures ends a session whose source kept failing, when
	// Options.MaxConsecutiveFailures is set.
	ErrTooManyFailures = acquire.ErrTooManyFailures
)

// DeviceOpenError reports that the source could not acquire a device.
type DeviceOpenError struct {
	Index int
	Err   error
}

func (e *DeviceOpenError) Error() string {
	return fmt.Sprintf("camera-framework: open device %d: %v", e.Index, e.Err)
}

func (e *DeviceOpenError) Unwrap() error { return e.Err }

// PreconditionError reports an operation invoked from a state that does not
// allow it. The controller state is left unchanged.
type PreconditionError struct {
	Op    string
	State State
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("camera-framework: %s not allowed while %s", e.Op, e.State)
}

// Is makes errors.Is(err, ErrPrecondition) true.
func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition
}
