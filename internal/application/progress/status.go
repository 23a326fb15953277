package progress

// RunState is the run-level state machine driven by the caller's verbs and
// the worker's progress.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateStarting  RunState = "starting"
	StateRunning   RunState = "running"
	StatePausing   RunState = "pausing"
	StatePaused    RunState = "paused"
	StateResuming  RunState = "resuming"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
	StateStopped   RunState = "stopped"
)

// Active reports whether a run occupies the tracker.
func (s RunState) Active() bool {
	switch s {
	case StateStarting, StateRunning, StatePausing, StatePaused, StateResuming:
		return true
	}
	return false
}

func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateStopped
}

// DeviceStatus is the per-device status shown to operators.
type DeviceStatus string

const (
	StatusPending        DeviceStatus = "pending"
	StatusSkipped        DeviceStatus = "skipped"
	StatusPinging        DeviceStatus = "pinging"
	StatusUnreachable    DeviceStatus = "unreachable"
	StatusReachable      DeviceStatus = "reachable"
	StatusAuthenticating DeviceStatus = "authenticating"
	StatusAuthFailed     DeviceStatus = "auth_failed"
	StatusAuthenticated  DeviceStatus = "authenticated"
	StatusCollecting     DeviceStatus = "collecting"
	StatusCollectFailed  DeviceStatus = "collect_failed"
	StatusClean          DeviceStatus = "clean"
	StatusExposed        DeviceStatus = "exposed"
	StatusStopped        DeviceStatus = "stopped"
)

// Category buckets a finished device for the success/warning/failure counters.
type Category string

const (
	CategoryNone    Category = ""
	CategorySuccess Category = "success"
	CategoryWarning Category = "warning"
	CategoryFailure Category = "failure"
)

func (s DeviceStatus) Category() Category {
	switch s {
	case StatusClean:
		return CategorySuccess
	case StatusExposed:
		return CategoryWarning
	case StatusSkipped, StatusUnreachable, StatusAuthFailed, StatusCollectFailed, StatusStopped:
		return CategoryFailure
	}
	return CategoryNone
}
