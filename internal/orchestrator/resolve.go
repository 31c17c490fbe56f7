package orchestrator

import (
	"errors"
	"fmt"

	"github.com/kingrea/contenta/internal/job"
	"github.com/kingrea/contenta/internal/step"
)

// ErrInvalidStartStep is returned when the requested start step is malformed,
// out of range or not registered.
var ErrInvalidStartStep = errors.New("invalid start step")

// ErrInvalidJobID is returned for job ids that do not match YYMMDDHHMM-NNNN.
var ErrInvalidJobID = errors.New("invalid job id")

// StartupError is any failure before the first step runs: bad arguments,
// missing or invalid job data, or failed config validation.
type StartupError struct {
	Stage string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup (%s): %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// StepError is a fatal step outcome that aborted the run.
type StepError struct {
	ID    string
	Label string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step [%s] %s: %v", e.ID, e.Label, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ValidateJobID checks the job id shape.
func ValidateJobID(id string) error {
	if !job.ValidID(id) {
		return &StartupError{Stage: "arguments", Err: fmt.Errorf("%w %q: expected YYMMDDHHMM-NNNN", ErrInvalidJobID, id)}
	}
	return nil
}

// ValidateStartStep checks, in order, the id format, that its main part does
// not exceed the highest defined step, and that it is registered.
func ValidateStartStep(reg *step.Registry, id string) error {
	invalid := func(format string, args ...any) error {
		return &StartupError{Stage: "arguments", Err: fmt.Errorf("%w %q: %s", ErrInvalidStartStep, id, fmt.Sprintf(format, args...))}
	}
	if !step.ValidID(id) {
		return invalid("expected SS or SS-N")
	}
	parsed, err := step.ParseID(id)
	if err != nil {
		return invalid("%v", err)
	}
	if highest := reg.MaxOrdinal(); parsed.Main > highest {
		return invalid("highest defined step is %02d", highest)
	}
	if !reg.Has(id) {
		return invalid("not a registered step")
	}
	return nil
}

// Resolve computes the run-list. In single mode it is exactly [start]; in
// continuous mode it is the registry slice from start to the end, in
// registry order.
func Resolve(reg *step.Registry, start string, single bool) ([]step.Descriptor, error) {
	idx := reg.Index(start)
	if idx < 0 {
		return nil, fmt.Errorf("%w %q: not a registered step", ErrInvalidStartStep, start)
	}
	all := reg.Descriptors()
	if single {
		return []step.Descriptor{all[idx]}, nil
	}
	return all[idx:], nil
}
