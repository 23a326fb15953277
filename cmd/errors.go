package cmd

import (
	"errors"
	"fmt"
)

const (
	exitFailure    = 1
	exitViolations = 2
)

// ExitError carries a process exit code through cobra's error return.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ViolationsFoundError reports that an audit or analysis found exposed lines.
type ViolationsFoundError struct {
	Devices    int
	Violations int
}

func (e *ViolationsFoundError) Error() string {
	if e.Devices == 0 {
		return fmt.Sprintf("%d line(s) accept telnet", e.Violations)
	}
	return fmt.Sprintf("%d line(s) on %d device(s) accept telnet", e.Violations, e.Devices)
}

func exitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code != 0 {
		return exitErr.Code
	}
	var violations *ViolationsFoundError
	if errors.As(err, &violations) {
		return exitViolations
	}
	return exitFailure
}
