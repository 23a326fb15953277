package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestDeviceErrorUnwrapsKindAndCause(t *testing.T) {
	cause := errors.New("handshake failed")
	err := fmt.Errorf("collect: %w", NewDeviceError("rtr1", ErrAuth, cause))

	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected errors.Is(err, ErrAuth)")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is(err, cause)")
	}
	if errors.Is(err, ErrTunnel) {
		t.Fatalf("did not expect ErrTunnel")
	}

	var devErr *DeviceError
	if !errors.As(err, &devErr) || devErr.Hostname != "rtr1" {
		t.Fatalf("expected DeviceError for rtr1, got %v", devErr)
	}
}

func TestDeviceErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *DeviceError
		want string
	}{
		{"kind only", NewDeviceError("rtr1", ErrNoIPDefined, nil), "rtr1: device has no ip defined"},
		{"no hostname", NewDeviceError("", ErrCommand, errors.New("eof")), "command failed: eof"},
		{"full", NewDeviceError("sw2", ErrTunnel, errors.New("refused")), "sw2: device tunnel failed: refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Fatalf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuditErrorIsErrAudit(t *testing.T) {
	err := fmt.Errorf("reachability: %w", &AuditError{Reason: "No routers ICMP reachable"})
	if !errors.Is(err, ErrAudit) {
		t.Fatal("expected AuditError to match ErrAudit")
	}
	var auditErr *AuditError
	if !errors.As(err, &auditErr) || auditErr.Error() != "No routers ICMP reachable" {
		t.Fatalf("unexpected audit error: %v", auditErr)
	}
}
