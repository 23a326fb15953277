package audit

// ViolationReason classifies why a physical line accepts telnet.
type ViolationReason string

const (
	ReasonExplicitTelnet          ViolationReason = "explicit_telnet"
	ReasonTransportAll            ViolationReason = "transport_all"
	ReasonDefaultNoTransportInput ViolationReason = "default_no_transport_input"
)

// LineBlock is one physical line stanza: the declaration identifier and the
// directive lines that followed it.
type LineBlock struct {
	LineID      string
	Declaration string
	Directives  []string
}

// LineViolation is a physical line that accepts plaintext telnet, explicitly or by default.
type LineViolation struct {
	LineID  string          `json:"line_id"`
	Reason  ViolationReason `json:"reason"`
	Snippet string          `json:"snippet"`
}
