package collector

import (
	"errors"
	"fmt"
)

// RunErrorCode categorizes run-terminating failures.
type RunErrorCode string

const (
	// ErrCodeLaunchFailed indicates the browser could not be started.
	ErrCodeLaunchFailed RunErrorCode = "LAUNCH_FAILED"

	// ErrCodeInstrumentationFailed indicates the monitor or listeners could
	// not be installed before navigation.
	ErrCodeInstrumentationFailed RunErrorCode = "INSTRUMENTATION_FAILED"

	// ErrCodeNavigationFailed indicates the page could not be loaded.
	ErrCodeNavigationFailed RunErrorCode = "NAVIGATION_FAILED"

	// ErrCodePageTimeout indicates the page did not load and settle within
	// the configured page timeout.
	ErrCodePageTimeout RunErrorCode = "PAGE_TIMEOUT"
)

// RunError terminates a collection run. The browser has always been released
// by the time a RunError is returned.
type RunError struct {
	// Code identifies the failure category.
	Code RunErrorCode

	// RunID identifies the failed run. Empty if no run was started.
	RunID string

	// URL is the target of the run.
	URL string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.URL)
}

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error {
	return e.Err
}

// Code returns the RunErrorCode of err, or "" if err is not a RunError.
func Code(err error) RunErrorCode {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsPageTimeout reports whether err is a page timeout.
func IsPageTimeout(err error) bool {
	return Code(err) == ErrCodePageTimeout
}
