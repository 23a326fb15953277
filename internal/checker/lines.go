package checker

import (
	"regexp"
	"strings"

	"github.com/khanhnv2901/lineaudit/internal/domain/audit"
)

var (
	// Any "line ..." stanza header. Only numeric/slot identifiers are physical lines;
	// "line con 0", "line aux 0" and "line vty 0 4" are matched here but discarded.
	lineDeclaration = regexp.MustCompile(`(?i)^line\s+(.+?)\s*$`)
	physicalLineID  = regexp.MustCompile(`^\d+(?:/\d+)*(?:\s+\d+(?:/\d+)*)?$`)
	transportInput  = regexp.MustCompile(`(?i)^transport\s+input\b(.*)$`)
)

// TelnetExposureAnalyzer classifies line configuration text. It is stateless.
type TelnetExposureAnalyzer struct{}

// Analyze implements the orchestrator's analyzer contract.
func (TelnetExposureAnalyzer) Analyze(text string) []audit.LineViolation {
	return AnalyzeTelnetExposure(text)
}

// AnalyzeTelnetExposure returns the violations found in text, in block order.
// Empty input yields an empty list.
func AnalyzeTelnetExposure(text string) []audit.LineViolation {
	violations := make([]audit.LineViolation, 0)
	for _, block := range ParseLineBlocks(text) {
		if v, ok := ClassifyBlock(block); ok {
			violations = append(violations, v)
		}
	}
	return violations
}

// ParseLineBlocks splits text into physical line blocks. A block runs from its
// declaration to the next line declaration of any kind, or end of input.
// Blank lines and "!" separators are skipped.
func ParseLineBlocks(text string) []audit.LineBlock {
	var (
		blocks  []audit.LineBlock
		current *audit.LineBlock
	)

	flush := func() {
		if current != nil {
			blocks = append(blocks, *current)
			current = nil
		}
	}

	for _, raw := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(strings.TrimRight(raw, "\r"))
		if trimmed == "" || strings.HasPrefix(trimmed, "!") {
			continue
		}

		if m := lineDeclaration.FindStringSubmatch(trimmed); m != nil {
			flush()
			id := strings.Join(strings.Fields(m[1]), " ")
			if physicalLineID.MatchString(id) {
				current = &audit.LineBlock{LineID: id, Declaration: trimmed}
			}
			continue
		}

		if current != nil {
			current.Directives = append(current.Directives, trimmed)
		}
	}
	flush()

	return blocks
}

// ClassifyBlock applies the priority rules to one block.
func ClassifyBlock(block audit.LineBlock) (audit.LineViolation, bool) {
	var (
		found     bool
		telnetDir string
		allDir    string
	)

	for _, directive := range block.Directives {
		m := transportInput.FindStringSubmatch(directive)
		if m == nil {
			continue
		}
		found = true
		for _, proto := range strings.Fields(strings.ToLower(m[1])) {
			switch proto {
			case "telnet":
				if telnetDir == "" {
					telnetDir = directive
				}
			case "all":
				if allDir == "" {
					allDir = directive
				}
			}
		}
	}

	switch {
	case !found:
		return audit.LineViolation{
			LineID:  block.LineID,
			Reason:  audit.ReasonDefaultNoTransportInput,
			Snippet: block.Declaration,
		}, true
	case telnetDir != "":
		return audit.LineViolation{
			LineID:  block.LineID,
			Reason:  audit.ReasonExplicitTelnet,
			Snippet: block.Declaration + "\n " + telnetDir,
		}, true
	case allDir != "":
		return audit.LineViolation{
			LineID:  block.LineID,
			Reason:  audit.ReasonTransportAll,
			Snippet: block.Declaration + "\n " + allDir,
		}, true
	}
	return audit.LineViolation{}, false
}
