package audit

// Phase is the run-level audit stage.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseJumpHost     Phase = "jump_host"
	PhaseReachability Phase = "reachability"
	PhaseSSHAuth      Phase = "ssh_auth"
	PhaseCollection   Phase = "collection"
	PhaseSummarizing  Phase = "summarizing"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
	PhaseStopped      Phase = "stopped"
)

// RunOutcome is the user-visible terminal state of a run.
type RunOutcome string

const (
	OutcomeCompleted RunOutcome = "completed"
	OutcomeFailed    RunOutcome = "failed"
	OutcomeStopped   RunOutcome = "stopped"
)

// TerminalPhase maps an outcome to the phase the run ends in.
func (o RunOutcome) TerminalPhase() Phase {
	switch o {
	case OutcomeFailed:
		return PhaseFailed
	case OutcomeStopped:
		return PhaseStopped
	default:
		return PhaseCompleted
	}
}

// FailureReason is the per-device failure code recorded on a DeviceAuditResult.
type FailureReason string

const (
	FailureNone       FailureReason = ""
	FailureNoIP       FailureReason = "NO_IP_DEFINED"
	FailureICMP       FailureReason = "ICMP_UNREACHABLE"
	FailureTunnel     FailureReason = "TUNNEL_FAILED"
	FailureSSHAuth    FailureReason = "SSH_AUTH_FAILED"
	FailureCollection FailureReason = "COLLECTION_FAILED"
	FailureStopped    FailureReason = "AUDIT_STOPPED"
)
