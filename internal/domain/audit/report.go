package audit

import "time"

// RunReport is what a ResultSink receives once a run finishes.
type RunReport struct {
	RunID      string
	Operator   string
	Outcome    RunOutcome
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    RunSummary
	Results    []*DeviceAuditResult
}

// Duration is the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
