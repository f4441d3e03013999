package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when an action does not apply to the
	// current state. The session is left untouched.
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrTierLocked        = errors.New("quality tier cannot change while recording")
	ErrUnknownTier       = errors.New("unknown quality tier")
)

// DeviceAccessError means the camera or microphone was denied or is
// unavailable. Starting again may succeed.
type DeviceAccessError struct {
	Op  string
	Err error
}

func (e *DeviceAccessError) Error() string {
	return fmt.Sprintf("device access: %s: %v", e.Op, e.Err)
}

func (e *DeviceAccessError) Unwrap() error {
	return e.Err
}

func deviceError(op string, err error) error {
	var de *DeviceAccessError
	if errors.As(err, &de) {
		return err
	}
	return &DeviceAccessError{Op: op, Err: err}
}

func transitionError(action string, from State) error {
	return fmt.Errorf("%s while %s: %w", action, from, ErrInvalidTransition)
}
