package errors

import (
	"errors"
	"fmt"
)

// Connection taxonomy
var (
	// ErrConnection covers jump host unreachable or jump host authentication failure.
	ErrConnection = errors.New("jump host connection failed")
	// ErrNoJumpSession is returned by per-device operations when the run is degraded.
	ErrNoJumpSession = errors.New("no jump host session")
	// ErrTunnel indicates the per-device channel through the jump host could not be opened.
	ErrTunnel = errors.New("device tunnel failed")
	// ErrAuth indicates the device rejected SSH authentication.
	ErrAuth = errors.New("device ssh authentication failed")
	// ErrCommandTimeout indicates a remote command exceeded its deadline.
	ErrCommandTimeout = errors.New("command timed out")
	// ErrCommand indicates a remote command could not be executed or returned garbage.
	ErrCommand = errors.New("command failed")
	// ErrUnreachable indicates an ICMP ping saw 100% packet loss.
	ErrUnreachable = errors.New("host unreachable")
)

// Audit run errors
var (
	ErrAudit             = errors.New("audit aborted")
	ErrRunInProgress     = errors.New("audit run already in progress")
	ErrNoActiveRun       = errors.New("no audit run in progress")
	ErrInvalidTransition = errors.New("invalid run state transition")
	ErrStopRequested     = errors.New("audit stop requested")
	ErrPhaseOrder        = errors.New("device result phase recorded out of order")
	ErrResultFinalized   = errors.New("device result already finalized")
)

// Inventory errors
var (
	ErrEmptyInventory = errors.New("inventory contains no devices")
	ErrInvalidDevice  = errors.New("invalid device record")
	ErrNoIPDefined    = errors.New("device has no ip defined")
)

// Persistence errors
var (
	ErrReportNotFound  = errors.New("audit report not found")
	ErrIntegrityFailed = errors.New("results integrity verification failed")
	ErrInvalidRunID    = errors.New("invalid run ID")
	ErrSerialization   = errors.New("serialization failed")
)

// DeviceError is a routine per-device failure. It unwraps to both its Kind
// (one of the taxonomy sentinels above) and the underlying cause.
type DeviceError struct {
	Hostname string
	Kind     error
	Err      error
}

func (e *DeviceError) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Hostname, e.Kind)
	case e.Hostname == "":
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Hostname, e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewDeviceError builds a DeviceError of the given kind.
func NewDeviceError(hostname string, kind, err error) *DeviceError {
	return &DeviceError{Hostname: hostname, Kind: kind, Err: err}
}

// AuditError terminates a run. It is raised only when no device passed a gate.
type AuditError struct {
	Reason string
}

func (e *AuditError) Error() string {
	return e.Reason
}

func (e *AuditError) Is(target error) bool {
	return target == ErrAudit
}
