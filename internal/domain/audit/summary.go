package audit

// RunSummary aggregates a run's device results.
type RunSummary struct {
	Total            int                     `json:"total"`
	ICMPReachable    int                     `json:"icmp_reachable"`
	SSHAuthOK        int                     `json:"ssh_auth_ok"`
	Collected        int                     `json:"collected"`
	WithViolations   int                     `json:"with_violations"`
	TotalViolations  int                     `json:"total_violations"`
	FailedICMP       int                     `json:"failed_icmp"`
	FailedSSH        int                     `json:"failed_ssh"`
	FailedCollection int                     `json:"failed_collection"`
	Failures         map[FailureReason]int   `json:"failures"`
	ByReason         map[ViolationReason]int `json:"violations_by_reason"`
}

// Summarize counts results. Every device in a run carries exactly one result,
// so Total is len(results). Collected counts results with no failure reason.
func Summarize(results []*DeviceAuditResult) RunSummary {
	summary := RunSummary{
		Total:    len(results),
		Failures: make(map[FailureReason]int),
		ByReason: make(map[ViolationReason]int),
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		if r.ICMPReachable() {
			summary.ICMPReachable++
		}
		if r.SSHAuthenticated() {
			summary.SSHAuthOK++
		}

		switch r.FailureReason() {
		case FailureNone:
			if r.Collected() {
				summary.Collected++
			}
		case FailureICMP:
			summary.FailedICMP++
		case FailureSSHAuth, FailureTunnel:
			summary.FailedSSH++
		case FailureCollection:
			summary.FailedCollection++
		}
		if reason := r.FailureReason(); reason != FailureNone {
			summary.Failures[reason]++
		}

		if r.HasViolations() {
			summary.WithViolations++
			for _, v := range r.Violations() {
				summary.TotalViolations++
				summary.ByReason[v.Reason]++
			}
		}
	}

	return summary
}
