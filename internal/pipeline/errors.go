package pipeline

import (
	"errors"
	"fmt"
)

// ErrStageNotConfigured is returned when a Stages field is nil
var ErrStageNotConfigured = errors.New("stage not configured")

// StageError attributes a pipeline failure to the stage that produced it
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// PanicError is a recovered panic from inside a stage
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// FailedStage returns the stage name carried by err, if any
func FailedStage(err error) (string, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// IsPanic reports whether err originates from a recovered panic
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
