package json

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/khanhnv2901/lineaudit/internal/domain/audit"
	"github.com/khanhnv2901/lineaudit/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/lineaudit/internal/shared/errors"
	"github.com/khanhnv2901/lineaudit/internal/shared/security"
)

// reportDTO is the on-disk shape of results.json
type reportDTO struct {
	RunID           string            `json:"run_id"`
	Operator        string            `json:"operator,omitempty"`
	Outcome         string            `json:"outcome"`
	Reason          string            `json:"reason,omitempty"`
	StartedAt       string            `json:"started_at"`
	FinishedAt      string            `json:"finished_at"`
	DurationSeconds float64           `json:"duration_seconds"`
	Summary         audit.RunSummary  `json:"summary"`
	Results         []deviceResultDTO `json:"results"`
}

type deviceResultDTO struct {
	Hostname         string                `json:"hostname"`
	IP               string                `json:"ip,omitempty"`
	ICMPReachable    bool                  `json:"icmp_reachable"`
	SSHAuthenticated bool                  `json:"ssh_authenticated"`
	Collected        bool                  `json:"collected"`
	Violations       []audit.LineViolation `json:"violations"`
	FailureReason    string                `json:"failure_reason,omitempty"`
	FailureDetail    string                `json:"failure_detail,omitempty"`
	Driver           string                `json:"driver,omitempty"`
	CheckedAt        string                `json:"checked_at"`
}

// ReportRepository stores one results.json per run under resultsDir/<run_id>/
// together with a sha256sum-format digest sidecar.
type ReportRepository struct {
	resultsDir string
	mu         sync.RWMutex
}

// NewReportRepository creates the results directory if needed.
func NewReportRepository(resultsDir string) (*ReportRepository, error) {
	if resultsDir == "" {
		return nil, fmt.Errorf("results directory cannot be empty")
	}
	if err := os.MkdirAll(resultsDir, constants.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	return &ReportRepository{resultsDir: resultsDir}, nil
}

// Consume writes the report and its digest. The report file is replaced
// atomically so readers never see a partial document.
func (r *ReportRepository) Consume(ctx context.Context, report *audit.RunReport) error {
	if report == nil {
		return fmt.Errorf("%w: nil report", sharedErrors.ErrSerialization)
	}
	reportPath, err := r.reportPath(report.RunID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(toDTO(report), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", sharedErrors.ErrSerialization, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(reportPath), constants.DefaultDirPerm); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	if err := writeFileAtomic(reportPath, data); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	sum := sha256.Sum256(data)
	digest := fmt.Sprintf("%s  %s\n", hex.EncodeToString(sum[:]), filepath.Base(reportPath))
	if err := writeFileAtomic(reportPath+constants.DigestSuffix, []byte(digest)); err != nil {
		return fmt.Errorf("failed to save digest: %w", err)
	}
	return nil
}

// FindByRunID loads a stored report.
func (r *ReportRepository) FindByRunID(ctx context.Context, runID string) (*audit.RunReport, error) {
	reportPath, err := r.reportPath(runID)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	data, err := os.ReadFile(reportPath)
	r.mu.RUnlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", sharedErrors.ErrReportNotFound, runID)
		}
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	var dto reportDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("%w: %v", sharedErrors.ErrSerialization, err)
	}
	return fromDTO(dto), nil
}

// VerifyIntegrity recomputes the report digest and compares it with the
// sidecar. A mismatch is reported as false without an error.
func (r *ReportRepository) VerifyIntegrity(ctx context.Context, runID string) (bool, error) {
	reportPath, err := r.reportPath(runID)
	if err != nil {
		return false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := os.ReadFile(reportPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("%w: %s", sharedErrors.ErrReportNotFound, runID)
		}
		return false, fmt.Errorf("failed to read report: %w", err)
	}
	sidecar, err := os.ReadFile(reportPath + constants.DigestSuffix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("%w: digest for %s", sharedErrors.ErrReportNotFound, runID)
		}
		return false, fmt.Errorf("failed to read digest: %w", err)
	}

	fields := strings.Fields(string(sidecar))
	if len(fields) == 0 {
		return false, fmt.Errorf("%w: empty digest file", sharedErrors.ErrIntegrityFailed)
	}
	sum := sha256.Sum256(data)
	return strings.EqualFold(fields[0], hex.EncodeToString(sum[:])), nil
}

// ReportPath returns the results.json location for runID.
func (r *ReportRepository) ReportPath(runID string) (string, error) {
	return r.reportPath(runID)
}

func (r *ReportRepository) reportPath(runID string) (string, error) {
	if !security.ValidRunID(runID) {
		return "", fmt.Errorf("%w: %q", sharedErrors.ErrInvalidRunID, runID)
	}
	return security.ResolveWithin(r.resultsDir, runID, constants.ResultsFilename)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(constants.DefaultFilePerm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Helper methods for DTO conversion

func toDTO(report *audit.RunReport) reportDTO {
	dto := reportDTO{
		RunID:           report.RunID,
		Operator:        report.Operator,
		Outcome:         string(report.Outcome),
		Reason:          report.Reason,
		StartedAt:       report.StartedAt.Format(time.RFC3339),
		FinishedAt:      report.FinishedAt.Format(time.RFC3339),
		DurationSeconds: report.Duration().Seconds(),
		Summary:         report.Summary,
		Results:         make([]deviceResultDTO, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		if res == nil {
			continue
		}
		violations := res.Violations()
		if violations == nil {
			violations = []audit.LineViolation{}
		}
		dto.Results = append(dto.Results, deviceResultDTO{
			Hostname:         res.Hostname(),
			IP:               res.IP(),
			ICMPReachable:    res.ICMPReachable(),
			SSHAuthenticated: res.SSHAuthenticated(),
			Collected:        res.Collected(),
			Violations:       violations,
			FailureReason:    string(res.FailureReason()),
			FailureDetail:    res.FailureDetail(),
			Driver:           res.Driver(),
			CheckedAt:        res.CheckedAt().Format(time.RFC3339),
		})
	}
	return dto
}

func fromDTO(dto reportDTO) *audit.RunReport {
	started, _ := time.Parse(time.RFC3339, dto.StartedAt)
	finished, _ := time.Parse(time.RFC3339, dto.FinishedAt)

	report := &audit.RunReport{
		RunID:      dto.RunID,
		Operator:   dto.Operator,
		Outcome:    audit.RunOutcome(dto.Outcome),
		Reason:     dto.Reason,
		StartedAt:  started,
		FinishedAt: finished,
		Summary:    dto.Summary,
		Results:    make([]*audit.DeviceAuditResult, 0, len(dto.Results)),
	}
	for _, r := range dto.Results {
		checked, _ := time.Parse(time.RFC3339, r.CheckedAt)
		report.Results = append(report.Results, audit.ReconstructResult(
			r.Hostname, r.IP, r.ICMPReachable, r.SSHAuthenticated, r.Collected,
			r.Violations, audit.FailureReason(r.FailureReason), r.FailureDetail, r.Driver, checked,
		))
	}
	return report
}
