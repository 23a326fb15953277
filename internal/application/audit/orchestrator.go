package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khanhnv2901/lineaudit/internal/application/progress"
	"github.com/khanhnv2901/lineaudit/internal/checker"
	"github.com/khanhnv2901/lineaudit/internal/domain/audit"
	"github.com/khanhnv2901/lineaudit/internal/domain/device"
	"github.com/khanhnv2901/lineaudit/internal/infrastructure/connection"
	sharedErrors "github.com/khanhnv2901/lineaudit/internal/shared/errors"
)

const (
	reasonNoneReachable     = "No routers ICMP reachable"
	reasonNoneAuthenticated = "No routers SSH authenticated"
	reasonStopped           = "Audit stopped by operator"
)

// Options tune a run. The zero value audits one device at a time through the
// jump host only.
type Options struct {
	Concurrency       int
	LocalPingFallback bool
	Operator          string
	Credentials       device.Credentials
}

// Dependencies are the collaborators of the orchestrator. Tracker and Logger
// may be nil.
type Dependencies struct {
	Inventory   device.Inventory
	Connections ConnectionManager
	Analyzer    Analyzer
	Sink        audit.ResultSink
	Tracker     *progress.Tracker
	Observer    Observer
	Logger      *zap.Logger
}

// Orchestrator runs at most one audit at a time on a background worker.
type Orchestrator struct {
	inventory device.Inventory
	conn      ConnectionManager
	analyzer  Analyzer
	sink      audit.ResultSink
	tracker   *progress.Tracker
	observer  Observer
	logger    *zap.Logger
	opts      Options
	newRunID  func() string

	mu         sync.Mutex
	running    bool
	done       chan struct{}
	lastReport *audit.RunReport
	lastErr    error
}

func NewOrchestrator(deps Dependencies, opts Options) *Orchestrator {
	o := &Orchestrator{
		inventory: deps.Inventory,
		conn:      deps.Connections,
		analyzer:  deps.Analyzer,
		sink:      deps.Sink,
		tracker:   deps.Tracker,
		observer:  deps.Observer,
		logger:    deps.Logger,
		opts:      opts,
		newRunID:  uuid.NewString,
	}
	if o.tracker == nil {
		o.tracker = progress.NewTracker()
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.sink == nil {
		o.sink = audit.SinkFunc(func(context.Context, *audit.RunReport) error { return nil })
	}
	return o
}

func (o *Orchestrator) Tracker() *progress.Tracker {
	return o.tracker
}

// Start loads the inventory and launches the worker. It returns once the run
// is registered; progress is observed through the tracker.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return "", sharedErrors.ErrRunInProgress
	}

	devices, err := o.loadDevices(ctx)
	if err != nil {
		return "", err
	}

	hostnames := make([]string, len(devices))
	for i, d := range devices {
		hostnames[i] = d.Hostname
	}

	runID := o.newRunID()
	if err := o.tracker.Start(runID, hostnames); err != nil {
		return "", err
	}

	o.running = true
	o.done = make(chan struct{})
	o.lastReport, o.lastErr = nil, nil

	// The run outlives the caller's request.
	go o.work(context.WithoutCancel(ctx), runID, devices, o.done)

	o.logger.Info("audit run started",
		zap.String("run_id", runID),
		zap.Int("devices", len(devices)),
	)
	return runID, nil
}

func (o *Orchestrator) loadDevices(ctx context.Context) ([]device.Device, error) {
	if o.inventory == nil {
		return nil, sharedErrors.ErrEmptyInventory
	}
	devices, err := o.inventory.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	if len(devices) == 0 {
		return nil, sharedErrors.ErrEmptyInventory
	}

	seen := make(map[string]struct{}, len(devices))
	out := make([]device.Device, 0, len(devices))
	for _, d := range devices {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[d.Hostname]; dup {
			return nil, fmt.Errorf("%w: duplicate hostname %s", sharedErrors.ErrInvalidDevice, d.Hostname)
		}
		seen[d.Hostname] = struct{}{}
		out = append(out, d.WithDefaults(o.opts.Credentials))
	}
	return out, nil
}

func (o *Orchestrator) Pause() error {
	return o.tracker.RequestPause()
}

func (o *Orchestrator) Resume() error {
	return o.tracker.RequestResume()
}

// Stop asks the worker to finish at its next suspension point. Devices that
// have not been audited by then are recorded as AUDIT_STOPPED.
func (o *Orchestrator) Stop() error {
	return o.tracker.RequestStop()
}

func (o *Orchestrator) CurrentSnapshot() progress.Snapshot {
	return o.tracker.Snapshot()
}

// LastSnapshot is the final tracker snapshot of the previous run.
func (o *Orchestrator) LastSnapshot() (progress.Snapshot, bool) {
	return o.tracker.LastSnapshot()
}

// Subscribe streams tracker snapshots until the returned cancel is called.
func (o *Orchestrator) Subscribe() (<-chan progress.Snapshot, func()) {
	return o.tracker.Subscribe()
}

// LastReport returns the report and error of the most recent finished run.
func (o *Orchestrator) LastReport() (*audit.RunReport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastReport, o.lastErr
}

// Wait blocks until the current run finishes. Without an active run it
// returns the last result immediately.
func (o *Orchestrator) Wait(ctx context.Context) (*audit.RunReport, error) {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.LastReport()
}

// Run is Start followed by Wait.
func (o *Orchestrator) Run(ctx context.Context) (*audit.RunReport, error) {
	if _, err := o.Start(ctx); err != nil {
		return nil, err
	}
	return o.Wait(ctx)
}

func (o *Orchestrator) work(ctx context.Context, runID string, devices []device.Device, done chan struct{}) {
	defer close(done)

	report, err := o.execute(ctx, runID, devices)

	o.tracker.Reset()
	o.mu.Lock()
	o.lastReport, o.lastErr = report, err
	o.running = false
	o.mu.Unlock()
}

// run holds the per-run device results. Each device goroutine touches only
// its own entry.
type run struct {
	id      string
	devices []device.Device
	results map[string]*audit.DeviceAuditResult
	session connection.Session
}

func (r *run) result(dev device.Device) *audit.DeviceAuditResult {
	return r.results[dev.Hostname]
}

func (r *run) ordered() []*audit.DeviceAuditResult {
	out := make([]*audit.DeviceAuditResult, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, r.results[d.Hostname])
	}
	return out
}

// pending returns the devices whose result is still open and satisfies keep.
func (r *run) pending(keep func(*audit.DeviceAuditResult) bool) []device.Device {
	var out []device.Device
	for _, d := range r.devices {
		if res := r.results[d.Hostname]; !res.Finalized() && keep(res) {
			out = append(out, d)
		}
	}
	return out
}

func (o *Orchestrator) execute(ctx context.Context, runID string, devices []device.Device) (*audit.RunReport, error) {
	started := time.Now().UTC()
	r := &run{id: runID, devices: devices, results: make(map[string]*audit.DeviceAuditResult, len(devices))}
	for _, d := range devices {
		res, err := audit.NewDeviceAuditResult(d.Hostname, d.IP)
		if err != nil {
			return nil, err
		}
		r.results[d.Hostname] = res
	}

	o.tracker.MarkRunning()
	o.observer.RunStarted()

	r.session = o.jumpHostPhase(ctx)
	if r.session != nil {
		defer func() {
			if err := r.session.Close(); err != nil {
				o.logger.Debug("close jump session", zap.Error(err))
			}
		}()
	}

	err := o.reachabilityPhase(ctx, r)
	if err == nil {
		err = o.sshAuthPhase(ctx, r)
	}
	if err == nil {
		err = o.collectionPhase(ctx, r)
	}

	outcome, reason := audit.OutcomeCompleted, ""
	var runErr error
	switch {
	case err == nil:
	case errors.Is(err, sharedErrors.ErrStopRequested):
		outcome, reason = audit.OutcomeStopped, reasonStopped
	default:
		outcome, reason, runErr = audit.OutcomeFailed, err.Error(), err
	}

	o.closeUnfinished(r)

	report := o.summarize(r, outcome, reason, started)
	if sinkErr := o.consume(ctx, report); sinkErr != nil && runErr == nil {
		runErr = sinkErr
	}

	o.tracker.Finish(outcome, reason)
	o.observer.RunFinished(string(outcome))

	o.logger.Info("audit run finished",
		zap.String("run_id", runID),
		zap.String("outcome", string(outcome)),
		zap.String("reason", reason),
		zap.Int("collected", report.Summary.Collected),
		zap.Int("with_violations", report.Summary.WithViolations),
		zap.Duration("duration", report.Duration()),
	)
	return report, runErr
}

// closeUnfinished marks every device that never reached a verdict.
func (o *Orchestrator) closeUnfinished(r *run) {
	for _, d := range r.devices {
		res := r.result(d)
		if res.Finalized() {
			continue
		}
		o.check(res.Fail(audit.FailureStopped, "run ended before the device was audited"))
		o.tracker.UpdateDevice(d.Hostname, progress.StatusStopped, "", true)
	}
}

func (o *Orchestrator) summarize(r *run, outcome audit.RunOutcome, reason string, started time.Time) *audit.RunReport {
	o.tracker.SetPhase(audit.PhaseSummarizing)
	results := r.ordered()
	return &audit.RunReport{
		RunID:      r.id,
		Operator:   o.opts.Operator,
		Outcome:    outcome,
		Reason:     reason,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Summary:    audit.Summarize(results),
		Results:    results,
	}
}

func (o *Orchestrator) consume(ctx context.Context, report *audit.RunReport) error {
	if err := o.sink.Consume(ctx, report); err != nil {
		o.logger.Error("result sink failed", zap.String("run_id", report.RunID), zap.Error(err))
		return fmt.Errorf("consume results: %w", err)
	}
	return nil
}

func (o *Orchestrator) jumpHostPhase(ctx context.Context) connection.Session {
	defer o.timePhase(audit.PhaseJumpHost)()
	o.tracker.SetPhase(audit.PhaseJumpHost)

	session, err := o.conn.OpenJumpSession(ctx)
	if err != nil {
		o.observer.DevicePhase(string(audit.PhaseJumpHost), "failed")
		o.logger.Warn("jump host unavailable, continuing in degraded mode", zap.Error(err))
		msg := "jump host unavailable"
		if o.opts.LocalPingFallback {
			msg += ", pinging locally"
		}
		o.tracker.SetMessage(msg)
		return nil
	}
	o.observer.DevicePhase(string(audit.PhaseJumpHost), "ok")
	return session
}

func (o *Orchestrator) reachabilityPhase(ctx context.Context, r *run) error {
	defer o.timePhase(audit.PhaseReachability)()
	o.tracker.SetPhase(audit.PhaseReachability)

	if err := o.fanOut(ctx, r.devices, func(ctx context.Context, dev device.Device) {
		o.guard(r, dev, audit.FailureICMP, progress.StatusUnreachable, func() {
			o.checkReachability(ctx, r, dev)
		})
	}); err != nil {
		return err
	}

	for _, res := range r.results {
		if res.ICMPReachable() {
			return nil
		}
	}
	return &sharedErrors.AuditError{Reason: reasonNoneReachable}
}

func (o *Orchestrator) checkReachability(ctx context.Context, r *run, dev device.Device) {
	res := r.result(dev)
	phase := string(audit.PhaseReachability)

	if !dev.UsableIP() {
		detail, status := sharedErrors.ErrNoIPDefined.Error(), "no ip defined"
		if dev.HasIP() {
			detail = fmt.Sprintf("malformed ip %q", dev.IP)
			status = detail
		}
		o.check(res.Fail(audit.FailureNoIP, detail))
		o.tracker.UpdateDevice(dev.Hostname, progress.StatusSkipped, status, true)
		o.observer.DevicePhase(phase, "skipped")
		return
	}

	o.tracker.UpdateDevice(dev.Hostname, progress.StatusPinging, "", false)
	ok, err := o.ping(ctx, r.session, dev.IP)
	o.check(res.MarkReachable(ok))
	if !ok {
		detail := "100% packet loss"
		if err != nil {
			detail = err.Error()
		}
		o.check(res.Fail(audit.FailureICMP, detail))
		o.tracker.UpdateDevice(dev.Hostname, progress.StatusUnreachable, detail, true)
		o.observer.DevicePhase(phase, "failed")
		o.logger.Debug("device unreachable",
			zap.String("hostname", dev.Hostname),
			zap.String("ip", dev.IP),
			zap.String("detail", detail),
		)
		return
	}

	o.tracker.UpdateDevice(dev.Hostname, progress.StatusReachable, "", false)
	o.observer.DevicePhase(phase, "ok")
}

func (o *Orchestrator) ping(ctx context.Context, session connection.Session, ip string) (bool, error) {
	if session != nil {
		return o.conn.Ping(ctx, session, ip)
	}
	if o.opts.LocalPingFallback {
		return o.conn.PingLocal(ctx, ip)
	}
	return false, sharedErrors.ErrNoJumpSession
}

func (o *Orchestrator) sshAuthPhase(ctx context.Context, r *run) error {
	defer o.timePhase(audit.PhaseSSHAuth)()
	o.tracker.SetPhase(audit.PhaseSSHAuth)

	candidates := r.pending(func(res *audit.DeviceAuditResult) bool { return res.ICMPReachable() })
	if err := o.fanOut(ctx, candidates, func(ctx context.Context, dev device.Device) {
		o.guard(r, dev, audit.FailureSSHAuth, progress.StatusAuthFailed, func() {
			o.checkAuth(ctx, r, dev)
		})
	}); err != nil {
		return err
	}

	for _, res := range r.results {
		if res.SSHAuthenticated() {
			return nil
		}
	}
	return &sharedErrors.AuditError{Reason: reasonNoneAuthenticated}
}

func (o *Orchestrator) checkAuth(ctx context.Context, r *run, dev device.Device) {
	res := r.result(dev)
	phase := string(audit.PhaseSSHAuth)
	o.tracker.UpdateDevice(dev.Hostname, progress.StatusAuthenticating, "", false)

	var err error
	if r.session == nil {
		err = sharedErrors.NewDeviceError(dev.Hostname, sharedErrors.ErrTunnel, sharedErrors.ErrNoJumpSession)
	} else {
		err = o.conn.Authenticate(ctx, r.session, dev)
	}

	if err != nil {
		reason := audit.FailureSSHAuth
		if errors.Is(err, sharedErrors.ErrTunnel) && !errors.Is(err, sharedErrors.ErrAuth) {
			reason = audit.FailureTunnel
		}
		o.check(res.MarkAuthenticated(false))
		o.check(res.Fail(reason, err.Error()))
		o.tracker.UpdateDevice(dev.Hostname, progress.StatusAuthFailed, err.Error(), true)
		o.observer.DevicePhase(phase, "failed")
		o.logger.Info("device authentication failed",
			zap.String("hostname", dev.Hostname),
			zap.String("reason", string(reason)),
			zap.Error(err),
		)
		return
	}

	o.check(res.MarkAuthenticated(true))
	o.tracker.UpdateDevice(dev.Hostname, progress.StatusAuthenticated, "", false)
	o.observer.DevicePhase(phase, "ok")
}

func (o *Orchestrator) collectionPhase(ctx context.Context, r *run) error {
	defer o.timePhase(audit.PhaseCollection)()
	o.tracker.SetPhase(audit.PhaseCollection)

	candidates := r.pending(func(res *audit.DeviceAuditResult) bool { return res.SSHAuthenticated() })
	return o.fanOut(ctx, candidates, func(ctx context.Context, dev device.Device) {
		o.guard(r, dev, audit.FailureCollection, progress.StatusCollectFailed, func() {
			o.collect(ctx, r, dev)
		})
	})
}

func (o *Orchestrator) collect(ctx context.Context, r *run, dev device.Device) {
	res := r.result(dev)
	phase := string(audit.PhaseCollection)
	o.tracker.UpdateDevice(dev.Hostname, progress.StatusCollecting, "", false)

	col, err := o.conn.Collect(ctx, r.session, dev)
	if err != nil {
		o.check(res.Fail(audit.FailureCollection, err.Error()))
		o.tracker.UpdateDevice(dev.Hostname, progress.StatusCollectFailed, err.Error(), true)
		o.observer.DevicePhase(phase, "failed")
		o.logger.Warn("collection failed", zap.String("hostname", dev.Hostname), zap.Error(err))
		return
	}

	violations := o.analyzer.Analyze(col.Output)
	o.check(res.MarkCollected(col.Driver, violations))
	for _, v := range violations {
		o.observer.Violation(string(v.Reason))
	}
	o.observer.DevicePhase(phase, "ok")

	if len(violations) == 0 {
		o.tracker.UpdateDevice(dev.Hostname, progress.StatusClean, "", true)
		return
	}
	ids := make([]string, len(violations))
	for i, v := range violations {
		ids[i] = v.LineID
	}
	o.tracker.UpdateDevice(dev.Hostname, progress.StatusExposed,
		fmt.Sprintf("telnet exposed on line %s", strings.Join(ids, ", ")), true)
	o.logger.Info("telnet exposure found",
		zap.String("hostname", dev.Hostname),
		zap.Int("violations", len(violations)),
		zap.String("driver", col.Driver),
	)
}

// fanOut walks devices through the pause/stop gate, one device per gate check.
func (o *Orchestrator) fanOut(ctx context.Context, devices []device.Device, fn func(context.Context, device.Device)) error {
	runner := &checker.Runner{Concurrency: o.opts.Concurrency}
	return runner.Run(ctx, devices, o.tracker.WaitGate, func(ctx context.Context, _ int, dev device.Device) {
		fn(ctx, dev)
	})
}

// guard converts a panic while auditing one device into a failure for that
// device alone.
func (o *Orchestrator) guard(r *run, dev device.Device, reason audit.FailureReason, status progress.DeviceStatus, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			detail := fmt.Sprintf("internal error: %v", p)
			o.logger.Error("device audit panicked", zap.String("hostname", dev.Hostname), zap.Any("panic", p))
			if res := r.result(dev); !res.Finalized() {
				o.check(res.Fail(reason, detail))
			}
			o.tracker.UpdateDevice(dev.Hostname, status, detail, true)
		}
	}()
	fn()
}

func (o *Orchestrator) timePhase(phase audit.Phase) func() {
	start := time.Now()
	return func() {
		o.observer.PhaseObserved(string(phase), time.Since(start))
	}
}

// check logs result-ordering errors. They indicate a bug, never a device fault.
func (o *Orchestrator) check(err error) {
	if err != nil {
		o.logger.Error("device result update rejected", zap.Error(err))
	}
}
