package audit

import (
	"fmt"
	"strings"
	"time"

	sharedErrors "github.com/khanhnv2901/lineaudit/internal/shared/errors"
)

// DeviceAuditResult is the outcome of auditing one device. Its gates are
// recorded in strict order: reachability, then authentication, then collection.
// Once collection finishes or a failure is recorded the result is final.
type DeviceAuditResult struct {
	hostname         string
	ip               string
	icmpChecked      bool
	icmpReachable    bool
	sshChecked       bool
	sshAuthenticated bool
	collected        bool
	violations       []LineViolation
	failureReason    FailureReason
	failureDetail    string
	driver           string
	checkedAt        time.Time
	finalized        bool
}

// NewDeviceAuditResult creates an empty result for a device.
func NewDeviceAuditResult(hostname, ip string) (*DeviceAuditResult, error) {
	if strings.TrimSpace(hostname) == "" {
		return nil, fmt.Errorf("%w: hostname cannot be empty", sharedErrors.ErrInvalidDevice)
	}
	return &DeviceAuditResult{
		hostname:  hostname,
		ip:        ip,
		checkedAt: time.Now().UTC(),
	}, nil
}

// ReconstructResult rebuilds a result from persisted data.
func ReconstructResult(hostname, ip string, icmpReachable, sshAuthenticated, collected bool,
	violations []LineViolation, reason FailureReason, detail, driver string, checkedAt time.Time) *DeviceAuditResult {
	return &DeviceAuditResult{
		hostname:         hostname,
		ip:               ip,
		icmpChecked:      icmpReachable || reason == FailureICMP,
		icmpReachable:    icmpReachable,
		sshChecked:       sshAuthenticated || reason == FailureSSHAuth || reason == FailureTunnel,
		sshAuthenticated: sshAuthenticated,
		collected:        collected,
		violations:       violations,
		failureReason:    reason,
		failureDetail:    detail,
		driver:           driver,
		checkedAt:        checkedAt,
		finalized:        collected || reason != FailureNone,
	}
}

// Business methods

// MarkReachable records the ICMP gate.
func (r *DeviceAuditResult) MarkReachable(reachable bool) error {
	if r.finalized {
		return sharedErrors.ErrResultFinalized
	}
	if r.icmpChecked {
		return fmt.Errorf("%w: reachability already recorded for %s", sharedErrors.ErrPhaseOrder, r.hostname)
	}
	r.icmpChecked = true
	r.icmpReachable = reachable
	return nil
}

// MarkAuthenticated records the SSH authentication gate. It requires a reachable device.
func (r *DeviceAuditResult) MarkAuthenticated(ok bool) error {
	if r.finalized {
		return sharedErrors.ErrResultFinalized
	}
	if !r.icmpReachable {
		return fmt.Errorf("%w: %s is not icmp reachable", sharedErrors.ErrPhaseOrder, r.hostname)
	}
	if r.sshChecked {
		return fmt.Errorf("%w: authentication already recorded for %s", sharedErrors.ErrPhaseOrder, r.hostname)
	}
	r.sshChecked = true
	r.sshAuthenticated = ok
	return nil
}

// MarkCollected records a successful collection and finalizes the result.
func (r *DeviceAuditResult) MarkCollected(driver string, violations []LineViolation) error {
	if r.finalized {
		return sharedErrors.ErrResultFinalized
	}
	if !r.sshAuthenticated {
		return fmt.Errorf("%w: %s is not ssh authenticated", sharedErrors.ErrPhaseOrder, r.hostname)
	}
	r.collected = true
	r.driver = driver
	r.violations = append([]LineViolation(nil), violations...)
	r.checkedAt = time.Now().UTC()
	r.finalized = true
	return nil
}

// Fail records a per-device failure and finalizes the result.
func (r *DeviceAuditResult) Fail(reason FailureReason, detail string) error {
	if r.finalized {
		return sharedErrors.ErrResultFinalized
	}
	if reason == FailureNone {
		return fmt.Errorf("%w: failure reason required", sharedErrors.ErrInvalidDevice)
	}
	r.failureReason = reason
	r.failureDetail = detail
	r.checkedAt = time.Now().UTC()
	r.finalized = true
	return nil
}

// HasViolations reports whether collection found telnet exposure.
func (r *DeviceAuditResult) HasViolations() bool {
	return len(r.violations) > 0
}

// Getters

func (r *DeviceAuditResult) Hostname() string {
	return r.hostname
}

func (r *DeviceAuditResult) IP() string {
	return r.ip
}

func (r *DeviceAuditResult) ICMPReachable() bool {
	return r.icmpReachable
}

func (r *DeviceAuditResult) SSHAuthenticated() bool {
	return r.sshAuthenticated
}

func (r *DeviceAuditResult) Collected() bool {
	return r.collected
}

func (r *DeviceAuditResult) Violations() []LineViolation {
	out := make([]LineViolation, len(r.violations))
	copy(out, r.violations)
	return out
}

func (r *DeviceAuditResult) FailureReason() FailureReason {
	return r.failureReason
}

func (r *DeviceAuditResult) FailureDetail() string {
	return r.failureDetail
}

func (r *DeviceAuditResult) Driver() string {
	return r.driver
}

func (r *DeviceAuditResult) CheckedAt() time.Time {
	return r.checkedAt
}

func (r *DeviceAuditResult) Finalized() bool {
	return r.finalized
}
