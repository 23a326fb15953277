package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/khanhnv2901/lineaudit/internal/domain/audit"
	sharedErrors "github.com/khanhnv2901/lineaudit/internal/shared/errors"
)

// DeviceProgress is one row of the per-device status map.
type DeviceProgress struct {
	Hostname  string       `json:"hostname"`
	Status    DeviceStatus `json:"status"`
	Detail    string       `json:"detail,omitempty"`
	Completed bool         `json:"completed"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Snapshot is an immutable copy of the tracker state.
type Snapshot struct {
	RunID            string           `json:"run_id,omitempty"`
	State            RunState         `json:"state"`
	Phase            audit.Phase      `json:"phase"`
	Message          string           `json:"message,omitempty"`
	Paused           bool             `json:"paused"`
	StopRequested    bool             `json:"stop_requested"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	FinishedAt       *time.Time       `json:"finished_at,omitempty"`
	TotalDevices     int              `json:"total_devices"`
	CompletedDevices int              `json:"completed_devices"`
	Success          int              `json:"success"`
	Warning          int              `json:"warning"`
	Failure          int              `json:"failure"`
	Devices          []DeviceProgress `json:"devices"`
}

// Percent is the share of completed devices, 0 to 100.
func (s Snapshot) Percent() float64 {
	if s.TotalDevices == 0 {
		return 0
	}
	return float64(s.CompletedDevices) * 100 / float64(s.TotalDevices)
}

// Tracker holds the state of at most one run. The worker is the only writer
// of device state; callers only issue pause/resume/stop and read snapshots.
type Tracker struct {
	mu sync.Mutex

	runID    string
	state    RunState
	phase    audit.Phase
	message  string
	started  time.Time
	finished time.Time

	paused   bool
	stopped  bool
	resumeCh chan struct{}
	stopCh   chan struct{}

	order     []string
	devices   map[string]*DeviceProgress
	completed int
	counts    map[Category]int

	subscribers map[chan Snapshot]struct{}
	last        *Snapshot
	now         func() time.Time
}

func NewTracker() *Tracker {
	t := &Tracker{
		subscribers: make(map[chan Snapshot]struct{}),
		now:         time.Now,
	}
	t.clear()
	return t
}

func (t *Tracker) clear() {
	t.runID = ""
	t.state = StateIdle
	t.phase = audit.PhaseIdle
	t.message = ""
	t.started = time.Time{}
	t.finished = time.Time{}
	t.paused = false
	t.stopped = false
	t.resumeCh = nil
	t.stopCh = make(chan struct{})
	t.order = nil
	t.devices = make(map[string]*DeviceProgress)
	t.completed = 0
	t.counts = make(map[Category]int)
}

// Start registers a new run with its devices, all pending.
func (t *Tracker) Start(runID string, hostnames []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateIdle {
		return fmt.Errorf("%w: tracker is %s", sharedErrors.ErrRunInProgress, t.state)
	}

	t.clear()
	t.runID = runID
	t.state = StateStarting
	t.started = t.now()
	for _, h := range hostnames {
		if _, dup := t.devices[h]; dup {
			continue
		}
		t.order = append(t.order, h)
		t.devices[h] = &DeviceProgress{Hostname: h, Status: StatusPending, UpdatedAt: t.started}
	}
	t.broadcast()
	return nil
}

// MarkRunning moves a starting run into running.
func (t *Tracker) MarkRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateStarting {
		t.state = StateRunning
		t.broadcast()
	}
}

func (t *Tracker) SetPhase(phase audit.Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phase
	t.broadcast()
}

// SetMessage attaches an operator-facing note to the run, such as degraded mode.
func (t *Tracker) SetMessage(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.message = message
	t.broadcast()
}

// UpdateDevice records a status change. Once a device has been completed
// further updates are ignored; the return value reports whether the update
// was applied.
func (t *Tracker) UpdateDevice(hostname string, status DeviceStatus, detail string, completed bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.devices[hostname]
	if !ok || d.Completed {
		return false
	}

	d.Status = status
	d.Detail = detail
	d.UpdatedAt = t.now()
	if completed {
		d.Completed = true
		t.completed++
		cat := status.Category()
		if cat == CategoryNone {
			cat = CategoryFailure
		}
		t.counts[cat]++
	}
	t.broadcast()
	return true
}

// RequestPause arms the pause gate. The worker parks at its next suspension
// point, at which time the state becomes paused.
func (t *Tracker) RequestPause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StatePausing, StatePaused:
		return nil
	case StateStarting, StateRunning, StateResuming:
	default:
		return t.inactiveErr("pause")
	}
	if t.stopped {
		return fmt.Errorf("%w: stop already requested", sharedErrors.ErrInvalidTransition)
	}

	t.paused = true
	t.resumeCh = make(chan struct{})
	t.state = StatePausing
	t.broadcast()
	return nil
}

// RequestResume releases a pause.
func (t *Tracker) RequestResume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StatePausing, StatePaused:
	case StateStarting, StateRunning, StateResuming:
		return nil
	default:
		return t.inactiveErr("resume")
	}

	t.release()
	t.state = StateResuming
	t.broadcast()
	return nil
}

// RequestStop sets the cooperative stop flag. A paused worker is woken so it
// can observe it. Repeated calls are no-ops.
func (t *Tracker) RequestStop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.Active() {
		return t.inactiveErr("stop")
	}
	if t.stopped {
		return nil
	}
	t.stopped = true
	close(t.stopCh)
	t.release()
	t.broadcast()
	return nil
}

func (t *Tracker) release() {
	if t.paused {
		t.paused = false
		close(t.resumeCh)
		t.resumeCh = nil
	}
}

func (t *Tracker) inactiveErr(verb string) error {
	if t.state == StateIdle || t.state.Terminal() {
		return fmt.Errorf("%w: cannot %s", sharedErrors.ErrNoActiveRun, verb)
	}
	return fmt.Errorf("%w: cannot %s while %s", sharedErrors.ErrInvalidTransition, verb, t.state)
}

// WaitGate is the worker's suspension point. It blocks while paused and
// returns ErrStopRequested once stop has been requested.
func (t *Tracker) WaitGate(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.stopped {
			t.mu.Unlock()
			return sharedErrors.ErrStopRequested
		}
		if !t.paused {
			if t.state == StateResuming || t.state == StateStarting {
				t.state = StateRunning
				t.broadcast()
			}
			t.mu.Unlock()
			return nil
		}
		if t.state != StatePaused {
			t.state = StatePaused
			t.broadcast()
		}
		resume, stop := t.resumeCh, t.stopCh
		t.mu.Unlock()

		select {
		case <-resume:
		case <-stop:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Finish moves the run into its terminal state.
func (t *Tracker) Finish(outcome audit.RunOutcome, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch outcome {
	case audit.OutcomeCompleted:
		t.state = StateCompleted
	case audit.OutcomeStopped:
		t.state = StateStopped
	default:
		t.state = StateFailed
	}
	t.phase = outcome.TerminalPhase()
	t.message = message
	t.finished = t.now()
	t.release()
	t.broadcast()
}

// Reset returns the tracker to idle. The final snapshot of the run stays
// available through LastSnapshot.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateIdle {
		return
	}
	snap := t.snapshotLocked()
	t.last = &snap
	t.clear()
	t.broadcast()
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// LastSnapshot is the final snapshot of the most recently reset run.
func (t *Tracker) LastSnapshot() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return Snapshot{}, false
	}
	return *t.last, true
}

func (t *Tracker) snapshotLocked() Snapshot {
	s := Snapshot{
		RunID:            t.runID,
		State:            t.state,
		Phase:            t.phase,
		Message:          t.message,
		Paused:           t.paused,
		StopRequested:    t.stopped,
		TotalDevices:     len(t.order),
		CompletedDevices: t.completed,
		Success:          t.counts[CategorySuccess],
		Warning:          t.counts[CategoryWarning],
		Failure:          t.counts[CategoryFailure],
		Devices:          make([]DeviceProgress, 0, len(t.order)),
	}
	if !t.started.IsZero() {
		started := t.started
		s.StartedAt = &started
	}
	if !t.finished.IsZero() {
		finished := t.finished
		s.FinishedAt = &finished
	}
	for _, h := range t.order {
		s.Devices = append(s.Devices, *t.devices[h])
	}
	return s
}

// Subscribe returns a channel of snapshots emitted on every change. Slow
// subscribers miss updates rather than blocking the worker.
func (t *Tracker) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)
	t.mu.Lock()
	t.subscribers[ch] = struct{}{}
	t.mu.Unlock()
	return ch, func() {
		t.mu.Lock()
		if _, ok := t.subscribers[ch]; ok {
			delete(t.subscribers, ch)
			close(ch)
		}
		t.mu.Unlock()
	}
}

func (t *Tracker) broadcast() {
	if len(t.subscribers) == 0 {
		return
	}
	snap := t.snapshotLocked()
	for ch := range t.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}
