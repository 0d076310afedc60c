package snapcheck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrLaunch      = errors.New("launch failed")
	ErrNavigation  = errors.New("navigation failed")
	ErrIdleTimeout = errors.New("network idle wait failed")
	ErrCapture     = errors.New("capture failed")
	ErrTimeout     = errors.New("timeout")
)

// Step names a stage of a check.
type Step string

const (
	StepLaunch   Step = "launch"
	StepNavigate Step = "navigate"
	StepIdle     Step = "idle"
	StepCapture  Step = "capture"
)

// StepError is returned by Checker.Run. It matches its class sentinel, ErrTimeout when
// the step ran out of time, and the underlying engine error.
type StepError struct {
	Step    Step
	Class   error
	Timeout bool
	Err     error
}

func newStepError(step Step, class error, err error) *StepError {
	return &StepError{Step: step, Class: class, Timeout: isTimeoutError(err), Err: err}
}

func (e *StepError) Error() string {
	return e.Err.Error()
}

func (e *StepError) Unwrap() []error {
	errs := []error{e.Class, e.Err}
	if e.Timeout {
		errs = append(errs, ErrTimeout)
	}
	return errs
}

// IsLaunchError reports whether err happened before the page existed.
func IsLaunchError(err error) bool {
	return errors.Is(err, ErrLaunch)
}

// IsTimeout reports whether err is a timeout of any step.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || isTimeoutError(err)
}

// IsConnectionRefused reports whether the browser could not connect to the target.
func IsConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	msg := getFullErrorMessage(err)
	return strings.Contains(msg, "ERR_CONNECTION_REFUSED") ||
		strings.Contains(msg, "connection refused")
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errMessage := strings.ToLower(getFullErrorMessage(err))
	return strings.Contains(errMessage, "context deadline exceeded") ||
		strings.Contains(errMessage, "timeout") ||
		strings.Contains(errMessage, "timed out")
}

func getFullErrorMessage(err error) string {
	var sb strings.Builder
	for err != nil {
		sb.WriteString(err.Error())
		err = errors.Unwrap(err)
		if err != nil {
			sb.WriteString(" | ")
		}
	}
	return sb.String()
}

// timeoutError is what engines return when a bounded wait runs out.
func timeoutError(what string, d time.Duration) error {
	return fmt.Errorf("%s: timeout %s exceeded: %w", what, d, context.DeadlineExceeded)
}
