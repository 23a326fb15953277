package api

import (
	"time"

	"github.com/khanhnv2901/lineaudit/internal/application/progress"
	"github.com/khanhnv2901/lineaudit/internal/domain/audit"
)

type snapshotView struct {
	Current progress.Snapshot  `json:"current"`
	Last    *progress.Snapshot `json:"last,omitempty"`
}

type reportView struct {
	RunID           string             `json:"run_id"`
	Operator        string             `json:"operator,omitempty"`
	Outcome         audit.RunOutcome   `json:"outcome"`
	Reason          string             `json:"reason,omitempty"`
	Error           string             `json:"error,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
	DurationSeconds float64            `json:"duration_seconds"`
	Summary         audit.RunSummary   `json:"summary"`
	Results         []deviceResultView `json:"results"`
}

type deviceResultView struct {
	Hostname         string                `json:"hostname"`
	IP               string                `json:"ip,omitempty"`
	ICMPReachable    bool                  `json:"icmp_reachable"`
	SSHAuthenticated bool                  `json:"ssh_authenticated"`
	Collected        bool                  `json:"collected"`
	Violations       []audit.LineViolation `json:"violations"`
	FailureReason    audit.FailureReason   `json:"failure_reason,omitempty"`
	FailureDetail    string                `json:"failure_detail,omitempty"`
	Driver           string                `json:"driver,omitempty"`
}

func newReportView(report *audit.RunReport, runErr error) reportView {
	view := reportView{
		RunID:           report.RunID,
		Operator:        report.Operator,
		Outcome:         report.Outcome,
		Reason:          report.Reason,
		StartedAt:       report.StartedAt,
		FinishedAt:      report.FinishedAt,
		DurationSeconds: report.Duration().Seconds(),
		Summary:         report.Summary,
		Results:         make([]deviceResultView, 0, len(report.Results)),
	}
	if runErr != nil {
		view.Error = runErr.Error()
	}
	for _, res := range report.Results {
		if res == nil {
			continue
		}
		violations := res.Violations()
		if violations == nil {
			violations = []audit.LineViolation{}
		}
		view.Results = append(view.Results, deviceResultView{
			Hostname:         res.Hostname(),
			IP:               res.IP(),
			ICMPReachable:    res.ICMPReachable(),
			SSHAuthenticated: res.SSHAuthenticated(),
			Collected:        res.Collected(),
			Violations:       violations,
			FailureReason:    res.FailureReason(),
			FailureDetail:    res.FailureDetail(),
			Driver:           res.Driver(),
		})
	}
	return view
}
