package audit

import (
	"context"
	"time"

	"github.com/khanhnv2901/lineaudit/internal/domain/audit"
	"github.com/khanhnv2901/lineaudit/internal/domain/device"
	"github.com/khanhnv2901/lineaudit/internal/infrastructure/connection"
)

// ConnectionManager is what the orchestrator needs from the transport layer.
type ConnectionManager interface {
	OpenJumpSession(ctx context.Context) (connection.Session, error)
	Ping(ctx context.Context, session connection.Session, ip string) (bool, error)
	PingLocal(ctx context.Context, ip string) (bool, error)
	Authenticate(ctx context.Context, session connection.Session, dev device.Device) error
	Collect(ctx context.Context, session connection.Session, dev device.Device) (connection.Collection, error)
}

// Analyzer turns line configuration text into violations.
type Analyzer interface {
	Analyze(text string) []audit.LineViolation
}

// Observer receives run and device events, typically for metrics.
type Observer interface {
	RunStarted()
	RunFinished(outcome string)
	DevicePhase(phase, result string)
	Violation(reason string)
	PhaseObserved(phase string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) RunStarted() {}
func (nopObserver) RunFinished(string) {}
func (nopObserver) DevicePhase(string, string) {}
func (nopObserver) Violation(string) {}
func (nopObserver) PhaseObserved(string, time.Duration) {}
