package step

import (
	"fmt"
	"time"
)

// Status enumerates step run outcomes.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// ParseStatus maps a status string reported by an external step onto Status.
func ParseStatus(value string) (Status, error) {
	switch Status(value) {
	case StatusSuccess, StatusError, StatusSkipped:
		return Status(value), nil
	default:
		return "", fmt.Errorf("step: unknown status %q", value)
	}
}

// Result captures the outcome of one step invocation. Exactly one of the
// three statuses applies; Err is only set for StatusError.
type Result struct {
	Status  Status
	Reason  string
	Payload map[string]any
	Err     error
	Elapsed time.Duration
}

// Success builds a successful result carrying an optional payload.
func Success(payload map[string]any) Result {
	return Result{Status: StatusSuccess, Payload: payload}
}

// Skipped builds a deliberate non-error outcome.
func Skipped(format string, args ...any) Result {
	return Result{Status: StatusSkipped, Reason: fmt.Sprintf(format, args...)}
}

// Failed builds an error outcome from err.
func Failed(err error) Result {
	if err == nil {
		err = fmt.Errorf("step failed without an error")
	}
	return Result{Status: StatusError, Reason: err.Error(), Err: err}
}

// OK reports whether the pipeline may continue after this result.
func (r Result) OK() bool {
	return r.Status == StatusSuccess || r.Status == StatusSkipped
}

// String renders the outcome for log lines.
func (r Result) String() string {
	if r.Reason == "" {
		return string(r.Status)
	}
	return fmt.Sprintf("%s (%s)", r.Status, r.Reason)
}
