package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/khanhnv2901/lineaudit/internal/application/progress"
	"github.com/khanhnv2901/lineaudit/internal/checker"
	"github.com/khanhnv2901/lineaudit/internal/domain/audit"
	sharedErrors "github.com/khanhnv2901/lineaudit/internal/shared/errors"
)

// auditCmd is the parent command for audit runs and report handling
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run and inspect telnet exposure audits",
	Long: `Audit the numbered physical line stanzas of every inventoried device.
The con, aux and vty management lines are not physical lines and are ignored.

Each device is pinged from the jump host, authenticated over an SSH tunnel
through the jump host, and its line configuration is collected and checked
for lines that accept plaintext telnet, explicitly or by default.`,
}

var auditRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Audit every device in the inventory",
	Long: `Run a full audit against the inventory.

The first Ctrl+C asks the run to stop at the next device boundary; devices that
were not audited are recorded as AUDIT_STOPPED and the report is still written.

Exit status is 0 when no line accepts telnet, 2 when violations were found and
1 when the run failed or was stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		if appCtx.Operator == "" {
			return errors.New("operator identity is required (use --operator or set USER env)")
		}
		if appCtx.Config.Inventory == "" {
			return errors.New("--inventory is required (or set inventory in the config file)")
		}

		services, err := appCtx.Services()
		if err != nil {
			return err
		}

		showProgress, _ := cmd.Flags().GetBool("progress")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go stopOnSignal(ctx, services.Orchestrator, cmd.ErrOrStderr())

		report, runErr := executeRun(ctx, services.Orchestrator, cmd.ErrOrStderr(), showProgress && !asJSON)
		if report == nil {
			return runErr
		}

		path, _ := services.Reports.ReportPath(report.RunID)
		if asJSON {
			if err := writeReportJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		} else {
			printRunSummary(cmd.OutOrStdout(), report, path)
		}
		return runResult(report, runErr)
	},
}

var auditAnalyzeCmd = &cobra.Command{
	Use:   "analyze <file|->",
	Short: "Check saved line configuration text for telnet exposure",
	Long: `Run the telnet exposure analyzer over saved "show running-config" output.

Use "-" to read from stdin. Exit status is 2 when any line accepts telnet.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		var in io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()
			in = f
		}

		return analyzeConfig(in, cmd.OutOrStdout(), asJSON)
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a stored report against its sha256 sidecar",
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		runID, _ := cmd.Flags().GetString("run-id")
		if runID == "" {
			return errors.New("--run-id is required")
		}

		services, err := appCtx.Services()
		if err != nil {
			return err
		}
		return verifyReport(cmd.Context(), services.Reports, runID, cmd.OutOrStdout())
	},
}

var auditShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the summary of a stored report",
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		runID, _ := cmd.Flags().GetString("run-id")
		if runID == "" {
			return errors.New("--run-id is required")
		}

		services, err := appCtx.Services()
		if err != nil {
			return err
		}
		report, err := services.Reports.FindByRunID(cmd.Context(), runID)
		if err != nil {
			if errors.Is(err, sharedErrors.ErrReportNotFound) {
				return fmt.Errorf("no report found for run %s", runID)
			}
			return fmt.Errorf("failed to load report: %w", err)
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return writeReportJSON(cmd.OutOrStdout(), report)
		}
		path, _ := services.Reports.ReportPath(runID)
		printRunSummary(cmd.OutOrStdout(), report, path)
		return nil
	},
}

// auditRunner is the part of the orchestrator the run command drives.
type auditRunner interface {
	Start(ctx context.Context) (string, error)
	Stop() error
	Subscribe() (<-chan progress.Snapshot, func())
	Wait(ctx context.Context) (*audit.RunReport, error)
}

type reportStore interface {
	VerifyIntegrity(ctx context.Context, runID string) (bool, error)
	ReportPath(runID string) (string, error)
}

func executeRun(ctx context.Context, runner auditRunner, progressOut io.Writer, showProgress bool) (*audit.RunReport, error) {
	var printer *progressPrinter
	if showProgress {
		updates, unsubscribe := runner.Subscribe()
		defer unsubscribe()
		printer = newProgressPrinter(progressOut, "audit")
		printer.Start()
		printer.Follow(updates)
	}

	if _, err := runner.Start(ctx); err != nil {
		if printer != nil {
			printer.Stop()
		}
		return nil, err
	}

	report, err := runner.Wait(ctx)
	if printer != nil {
		printer.Stop()
	}
	return report, err
}

// stopOnSignal turns the first SIGINT/SIGTERM into a graceful stop. A second
// signal falls through to the default handler.
func stopOnSignal(ctx context.Context, runner auditRunner, out io.Writer) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		fmt.Fprintf(out, "\n%s Received %v, stopping after the current device...\n", colorWarn("→"), sig)
		_ = runner.Stop()
	case <-ctx.Done():
	}
}

// runResult maps a finished run onto the command's error and exit status.
func runResult(report *audit.RunReport, runErr error) error {
	if runErr != nil {
		return runErr
	}
	switch report.Outcome {
	case audit.OutcomeFailed:
		return &ExitError{Code: exitFailure, Err: fmt.Errorf("audit failed: %s", report.Reason)}
	case audit.OutcomeStopped:
		return &ExitError{Code: exitFailure, Err: errors.New(strings.ToLower(report.Reason))}
	}
	if report.Summary.TotalViolations > 0 {
		return &ViolationsFoundError{Devices: report.Summary.WithViolations, Violations: report.Summary.TotalViolations}
	}
	return nil
}

func printRunSummary(out io.Writer, report *audit.RunReport, path string) {
	s := report.Summary

	fmt.Fprintf(out, "\n%s Run %s %s", colorInfo("→"), report.RunID, formatOutcomeWithColor(report.Outcome))
	if report.Reason != "" {
		fmt.Fprintf(out, ": %s", report.Reason)
	}
	fmt.Fprintf(out, " (%s)\n", report.Duration().Round(time.Millisecond))

	fmt.Fprintf(out, "  Devices:        %d\n", s.Total)
	fmt.Fprintf(out, "  ICMP reachable: %d (failed %d)\n", s.ICMPReachable, s.FailedICMP)
	fmt.Fprintf(out, "  SSH auth OK:    %d (failed %d)\n", s.SSHAuthOK, s.FailedSSH)
	fmt.Fprintf(out, "  Collected:      %d (failed %d)\n", s.Collected, s.FailedCollection)
	fmt.Fprintf(out, "  Exposed:        %d device(s), %d line(s)\n", s.WithViolations, s.TotalViolations)

	if len(s.ByReason) > 0 {
		reasons := make([]string, 0, len(s.ByReason))
		for reason := range s.ByReason {
			reasons = append(reasons, string(reason))
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Fprintf(out, "    %-28s %d\n", reason, s.ByReason[audit.ViolationReason(reason)])
		}
	}

	var rows []*audit.DeviceAuditResult
	for _, r := range report.Results {
		if r != nil && (r.HasViolations() || r.FailureReason() != audit.FailureNone) {
			rows = append(rows, r)
		}
	}
	if len(rows) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "HOSTNAME\tIP\tRESULT\tDETAIL")
		for _, r := range rows {
			if r.HasViolations() {
				for _, v := range r.Violations() {
					fmt.Fprintf(w, "%s\t%s\t%s\tline %s\n", r.Hostname(), r.IP(), colorWarn(string(v.Reason)), v.LineID)
				}
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Hostname(), r.IP(), colorError(string(r.FailureReason())), r.FailureDetail())
		}
		_ = w.Flush()
	}

	if path != "" {
		fmt.Fprintf(out, "\n%s Report written to %s\n", colorInfo("→"), path)
	}
}

func analyzeConfig(in io.Reader, out io.Writer, asJSON bool) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}

	violations := checker.AnalyzeTelnetExposure(string(data))

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(violations); err != nil {
			return fmt.Errorf("failed to encode violations: %w", err)
		}
	} else if len(violations) == 0 {
		fmt.Fprintf(out, "%s No physical line accepts telnet\n", colorSuccess("✓"))
	} else {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LINE\tREASON")
		for _, v := range violations {
			fmt.Fprintf(w, "%s\t%s\n", v.LineID, colorWarn(string(v.Reason)))
		}
		_ = w.Flush()
		for _, v := range violations {
			fmt.Fprintf(out, "\n%s\n", v.Snippet)
		}
	}

	if len(violations) > 0 {
		return &ViolationsFoundError{Violations: len(violations)}
	}
	return nil
}

func verifyReport(ctx context.Context, store reportStore, runID string, out io.Writer) error {
	valid, err := store.VerifyIntegrity(ctx, runID)
	if err != nil {
		if errors.Is(err, sharedErrors.ErrReportNotFound) {
			return fmt.Errorf("no report found for run %s", runID)
		}
		return fmt.Errorf("failed to verify report: %w", err)
	}

	path, _ := store.ReportPath(runID)
	if !valid {
		fmt.Fprintf(out, "%s Report integrity verification FAILED: %s\n", colorError("✗"), path)
		fmt.Fprintf(out, "%s WARNING: The report may have been tampered with!\n", colorError("✗"))
		return sharedErrors.ErrIntegrityFailed
	}

	fmt.Fprintf(out, "%s Report integrity verified: %s\n", colorSuccess("✓"), path)
	return nil
}

func writeReportJSON(out io.Writer, report *audit.RunReport) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		RunID      string                           `json:"run_id"`
		Operator   string                           `json:"operator,omitempty"`
		Outcome    audit.RunOutcome                 `json:"outcome"`
		Reason     string                           `json:"reason,omitempty"`
		Summary    audit.RunSummary                 `json:"summary"`
		Violations map[string][]audit.LineViolation `json:"violations"`
	}{
		RunID:      report.RunID,
		Operator:   report.Operator,
		Outcome:    report.Outcome,
		Reason:     report.Reason,
		Summary:    report.Summary,
		Violations: violationsByHost(report),
	})
}

func violationsByHost(report *audit.RunReport) map[string][]audit.LineViolation {
	out := make(map[string][]audit.LineViolation)
	for _, r := range report.Results {
		if r != nil && r.HasViolations() {
			out[r.Hostname()] = r.Violations()
		}
	}
	return out
}

func init() {
	auditRunCmd.Flags().StringP("inventory", "i", "", "inventory file (.yaml, .yml or .csv)")
	auditRunCmd.Flags().String("jump-host", "", "jump host address (overrides jump_host.address)")
	auditRunCmd.Flags().Int("concurrency", 0, "devices audited in parallel per phase (overrides audit.concurrency)")
	auditRunCmd.Flags().Int("timeout", 0, "per-command timeout in seconds (overrides commands.timeout_secs)")
	auditRunCmd.Flags().Bool("local-ping-fallback", false, "ping from this host when the jump host is unavailable")
	auditRunCmd.Flags().Bool("progress", true, "show a live progress line")
	auditRunCmd.Flags().Bool("json", false, "print the run summary as JSON")

	auditAnalyzeCmd.Flags().Bool("json", false, "print violations as JSON")

	auditVerifyCmd.Flags().String("run-id", "", "run ID to verify")
	auditShowCmd.Flags().String("run-id", "", "run ID to show")
	auditShowCmd.Flags().Bool("json", false, "print the report summary as JSON")

	auditCmd.AddCommand(auditRunCmd)
	auditCmd.AddCommand(auditAnalyzeCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditShowCmd)
}
