// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import "errors"

// ErrInvalidState is returned when a frame operation is called
// in the wrong orchestrator state. The state is left unchanged.
var ErrInvalidState = errors.New("invalid frame state")

// FatalError is a device failure the engine can not recover from.
// Only stale and suboptimal swapchains are recovered from, everything
// else ends up here and the process is expected to terminate.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return e.Op + "(): " + e.Err.Error()
}

// Unwrap returns the underlying device error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is or wraps a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

func fatal(op string, err error) error {
	if err == nil || IsFatal(err) {
		return err
	}
	return &FatalError{Op: op, Err: err}
}
