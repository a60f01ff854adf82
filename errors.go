package linkage

import (
	"errors"
	"fmt"
)

var (
	ErrNotSetup      = errors.New("linkage: system offsets are stale, call Setup")
	ErrForeignEntity = errors.New("linkage: entity does not belong to the system")
	ErrDuplicate     = errors.New("linkage: entity already registered")
	ErrInvalidStep   = errors.New("linkage: time step must be positive and finite")
	ErrUnstable      = errors.New("linkage: state is not finite")
)

// StepError reports the step and time at which the system failed.
type StepError struct {
	Step    int
	Time    float64
	Wrapped error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("linkage: step %d at t=%.6f: %v", e.Step, e.Time, e.Wrapped)
}

func (e *StepError) Unwrap() error {
	return e.Wrapped
}
