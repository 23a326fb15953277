package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap/zaptest"

	"github.com/khanhnv2901/lineaudit/internal/application/progress"
	"github.com/khanhnv2901/lineaudit/internal/domain/audit"
	sharedErrors "github.com/khanhnv2901/lineaudit/internal/shared/errors"
)

type fakeAudit struct {
	mu         sync.Mutex
	startErr   error
	verbErr    error
	snapshot   progress.Snapshot
	last       *progress.Snapshot
	report     *audit.RunReport
	reportErr  error
	starts     int
	verbs      []string
	subscribed chan chan progress.Snapshot
}

func newFakeAudit() *fakeAudit {
	return &fakeAudit{
		snapshot:   progress.Snapshot{State: progress.StateIdle, Phase: audit.PhaseIdle},
		subscribed: make(chan chan progress.Snapshot, 4),
	}
}

func (f *fakeAudit) Start(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return "", f.startErr
	}
	f.snapshot.RunID = "run-1"
	f.snapshot.State = progress.StateStarting
	return "run-1", nil
}

func (f *fakeAudit) verb(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verbs = append(f.verbs, name)
	return f.verbErr
}

func (f *fakeAudit) Pause() error  { return f.verb("pause") }
func (f *fakeAudit) Resume() error { return f.verb("resume") }
func (f *fakeAudit) Stop() error   { return f.verb("stop") }

func (f *fakeAudit) CurrentSnapshot() progress.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeAudit) LastSnapshot() (progress.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return progress.Snapshot{}, false
	}
	return *f.last, true
}

func (f *fakeAudit) LastReport() (*audit.RunReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.report, f.reportErr
}

func (f *fakeAudit) Subscribe() (<-chan progress.Snapshot, func()) {
	ch := make(chan progress.Snapshot, 4)
	f.subscribed <- ch
	return ch, func() {}
}

type fakeReports struct {
	reports map[string]*audit.RunReport
	valid   bool
}

func (f *fakeReports) FindByRunID(_ context.Context, runID string) (*audit.RunReport, error) {
	if runID == "../etc" {
		return nil, sharedErrors.ErrInvalidRunID
	}
	report, ok := f.reports[runID]
	if !ok {
		return nil, sharedErrors.ErrReportNotFound
	}
	return report, nil
}

func (f *fakeReports) VerifyIntegrity(_ context.Context, runID string) (bool, error) {
	if _, ok := f.reports[runID]; !ok {
		return false, sharedErrors.ErrReportNotFound
	}
	return f.valid, nil
}

func sampleReport(runID string) *audit.RunReport {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	exposed := audit.ReconstructResult("r1", "10.0.0.1", true, true, true,
		[]audit.LineViolation{{LineID: "0/0/1", Reason: audit.ReasonExplicitTelnet, Snippet: "line 0/0/1\n transport input telnet"}},
		audit.FailureNone, "", "shell", started)
	down := audit.ReconstructResult("r2", "10.0.0.2", false, false, false, nil, audit.FailureICMP, "100% packet loss", "", started)
	results := []*audit.DeviceAuditResult{exposed, down}
	return &audit.RunReport{
		RunID:      runID,
		Outcome:    audit.OutcomeCompleted,
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Summary:    audit.Summarize(results),
		Results:    results,
	}
}

func newTestServer(t *testing.T, cfg Config) (*Server, *fakeAudit) {
	t.Helper()
	fa := newFakeAudit()
	if cfg.Audit == nil {
		cfg.Audit = fa
	}
	cfg.Logger = zaptest.NewLogger(t)
	return NewServer(cfg), fa
}

func do(t *testing.T, h http.Handler, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusCreated, map[string]string{"status": "ok"})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected application/json content-type, got %s", got)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestWriteErrorInternal(t *testing.T) {
	s := &Server{cfg: Config{Logger: zaptest.NewLogger(t)}}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	s.writeError(rr, req, http.StatusInternalServerError, errors.New("boom"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "internal server error") || strings.Contains(rr.Body.String(), "boom") {
		t.Fatalf("expected sanitized message, got %s", rr.Body.String())
	}
}

func TestWriteErrorClient(t *testing.T) {
	s := &Server{}
	rr := httptest.NewRecorder()
	s.writeError(rr, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusBadRequest, errors.New("bad input"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "bad input") {
		t.Fatalf("expected original error message, got %s", rr.Body.String())
	}
}

func TestWriteStreamChunk(t *testing.T) {
	s := &Server{}
	rr := httptest.NewRecorder()
	if !s.writeStreamChunk(rr, []byte("hello")) {
		t.Fatal("expected writeStreamChunk to succeed")
	}
	if rr.Body.String() != "hello" {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}

	if s.writeStreamChunk(&failingWriter{}, []byte("fail")) {
		t.Fatalf("expected writeStreamChunk to fail")
	}
}

type failingWriter struct{}

func (f *failingWriter) Header() http.Header { return http.Header{} }
func (f *failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("write failed")
}
func (f *failingWriter) WriteHeader(statusCode int) {}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{sharedErrors.ErrRunInProgress, http.StatusConflict},
		{sharedErrors.ErrNoActiveRun, http.StatusConflict},
		{fmt.Errorf("pause: %w", sharedErrors.ErrInvalidTransition), http.StatusConflict},
		{sharedErrors.ErrEmptyInventory, http.StatusBadRequest},
		{sharedErrors.NewDeviceError("r1", sharedErrors.ErrInvalidDevice, nil), http.StatusBadRequest},
		{sharedErrors.ErrInvalidRunID, http.StatusBadRequest},
		{sharedErrors.ErrReportNotFound, http.StatusNotFound},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHandleStart(t *testing.T) {
	srv, fa := newTestServer(t, Config{})

	rr := do(t, srv, http.MethodPost, "/api/v1/audit/start", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp startResponse
	decode(t, rr, &resp)
	if resp.RunID != "run-1" || resp.State != string(progress.StateStarting) {
		t.Fatalf("unexpected response %+v", resp)
	}

	fa.startErr = sharedErrors.ErrRunInProgress
	if rr := do(t, srv, http.MethodPost, "/api/v1/audit/start", nil); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a second run, got %d", rr.Code)
	}

	fa.startErr = sharedErrors.ErrEmptyInventory
	if rr := do(t, srv, http.MethodPost, "/api/v1/audit/start", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty inventory, got %d", rr.Code)
	}

	if rr := do(t, srv, http.MethodGet, "/api/v1/audit/start", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestControlVerbs(t *testing.T) {
	srv, fa := newTestServer(t, Config{})

	for _, verb := range []string{"pause", "resume", "stop"} {
		rr := do(t, srv, http.MethodPost, "/api/v1/audit/"+verb, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", verb, rr.Code)
		}
	}
	if got := strings.Join(fa.verbs, ","); got != "pause,resume,stop" {
		t.Fatalf("unexpected verbs %q", got)
	}

	fa.verbErr = sharedErrors.ErrNoActiveRun
	rr := do(t, srv, http.MethodPost, "/api/v1/audit/pause", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 without a run, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), sharedErrors.ErrNoActiveRun.Error()) {
		t.Fatalf("expected error message in body, got %s", rr.Body.String())
	}
}

func TestHandleSnapshot(t *testing.T) {
	srv, fa := newTestServer(t, Config{})

	var view snapshotView
	decode(t, do(t, srv, http.MethodGet, "/api/v1/audit/snapshot", nil), &view)
	if view.Current.State != progress.StateIdle || view.Last != nil {
		t.Fatalf("unexpected idle view %+v", view)
	}

	fa.last = &progress.Snapshot{RunID: "prev", State: progress.StateCompleted, TotalDevices: 2, CompletedDevices: 2}
	view = snapshotView{}
	decode(t, do(t, srv, http.MethodGet, "/api/v1/audit/snapshot", nil), &view)
	if view.Last == nil || view.Last.RunID != "prev" || view.Last.CompletedDevices != 2 {
		t.Fatalf("expected last snapshot, got %+v", view.Last)
	}
}

func TestHandleReport(t *testing.T) {
	reports := &fakeReports{reports: map[string]*audit.RunReport{"stored": sampleReport("stored")}}
	srv, fa := newTestServer(t, Config{Reports: reports})

	if rr := do(t, srv, http.MethodGet, "/api/v1/audit/report", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any run, got %d", rr.Code)
	}

	fa.report = sampleReport("live")
	fa.reportErr = errors.New("sink: disk full")
	rr := do(t, srv, http.MethodGet, "/api/v1/audit/report", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var view reportView
	decode(t, rr, &view)
	if view.RunID != "live" || view.Error != "sink: disk full" || view.DurationSeconds != 90 {
		t.Fatalf("unexpected view %+v", view)
	}
	if len(view.Results) != 2 || len(view.Results[0].Violations) != 1 {
		t.Fatalf("unexpected results %+v", view.Results)
	}
	if view.Results[1].FailureReason != audit.FailureICMP || view.Results[1].Violations == nil {
		t.Fatalf("unexpected failed result %+v", view.Results[1])
	}
	if view.Summary.Total != 2 || view.Summary.WithViolations != 1 {
		t.Fatalf("unexpected summary %+v", view.Summary)
	}

	view = reportView{}
	decode(t, do(t, srv, http.MethodGet, "/api/v1/audit/report?run_id=stored", nil), &view)
	if view.RunID != "stored" || view.Error != "" {
		t.Fatalf("unexpected stored view %+v", view)
	}

	if rr := do(t, srv, http.MethodGet, "/api/v1/audit/report?run_id=missing", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/api/v1/audit/report?run_id=../etc", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandleVerify(t *testing.T) {
	reports := &fakeReports{reports: map[string]*audit.RunReport{"stored": sampleReport("stored")}, valid: true}
	srv, _ := newTestServer(t, Config{Reports: reports})

	var resp verifyResponse
	decode(t, do(t, srv, http.MethodGet, "/api/v1/audit/verify?run_id=stored", nil), &resp)
	if !resp.Valid || resp.RunID != "stored" {
		t.Fatalf("unexpected verify response %+v", resp)
	}

	if rr := do(t, srv, http.MethodGet, "/api/v1/audit/verify", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without run_id, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/api/v1/audit/verify?run_id=nope", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

type failingHealth struct{}

func (failingHealth) Check(context.Context) error { return errors.New("results dir unwritable") }

func TestHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("lineaudit_runs_total 1\n"))
	})
	srv, _ := newTestServer(t, Config{Metrics: metrics, AuthToken: "secret"})

	if rr := do(t, srv, http.MethodGet, "/api/v1/health", nil); rr.Code != http.StatusOK {
		t.Fatalf("health should not need auth, got %d", rr.Code)
	}
	rr := do(t, srv, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "lineaudit_runs_total") {
		t.Fatalf("unexpected metrics response %d %s", rr.Code, rr.Body.String())
	}

	unhealthy, _ := newTestServer(t, Config{Health: failingHealth{}})
	if rr := do(t, unhealthy, http.MethodGet, "/api/v1/health", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestAuthToken(t *testing.T) {
	srv, _ := newTestServer(t, Config{AuthToken: "secret"})

	if rr := do(t, srv, http.MethodGet, "/api/v1/audit/snapshot", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/api/v1/audit/snapshot", map[string]string{"X-Auth-Token": "wrong"}); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a wrong token, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/api/v1/audit/snapshot", map[string]string{"X-Auth-Token": "secret"}); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/api/v1/audit/snapshot?token=secret", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("query token is only accepted on the websocket route, got %d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, Config{RateLimit: 1, RateBurst: 1})

	if rr := do(t, srv, http.MethodGet, "/api/v1/health", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/api/v1/health", nil); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	other := map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}
	if rr := do(t, srv, http.MethodGet, "/api/v1/health", other); rr.Code != http.StatusOK {
		t.Fatalf("expected a different client to pass, got %d", rr.Code)
	}
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, Config{CORSOrigins: []string{"https://ops.example.com"}})

	rr := do(t, srv, http.MethodOptions, "/api/v1/audit/start", map[string]string{"Origin": "https://ops.example.com"})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	rr = do(t, srv, http.MethodGet, "/api/v1/health", map[string]string{"Origin": "https://evil.example.com"})
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow origin, got %q", got)
	}
}

func TestRequestIDPropagates(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	rr := do(t, srv, http.MethodGet, "/api/v1/health", map[string]string{"X-Request-ID": "abc-123"})
	if got := rr.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
}

func readEvent(t *testing.T, r *bufio.Reader) progress.Snapshot {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && data != "":
			if event != "progress" {
				t.Fatalf("unexpected event %q", event)
			}
			var snap progress.Snapshot
			if err := json.Unmarshal([]byte(data), &snap); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			return snap
		}
	}
}

func TestStreamSSE(t *testing.T) {
	srv, fa := newTestServer(t, Config{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/audit/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if first := readEvent(t, reader); first.State != progress.StateIdle {
		t.Fatalf("expected baseline snapshot, got %+v", first)
	}

	updates := <-fa.subscribed
	updates <- progress.Snapshot{RunID: "run-1", State: progress.StateRunning, Phase: audit.PhaseReachability}

	next := readEvent(t, reader)
	if next.RunID != "run-1" || next.Phase != audit.PhaseReachability {
		t.Fatalf("unexpected update %+v", next)
	}
}

func TestStreamWebSocket(t *testing.T) {
	srv, fa := newTestServer(t, Config{AuthToken: "secret"})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws/progress?token=secret"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	var first progress.Snapshot
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read baseline: %v", err)
	}
	if first.State != progress.StateIdle {
		t.Fatalf("unexpected baseline %+v", first)
	}

	updates := <-fa.subscribed
	updates <- progress.Snapshot{RunID: "run-1", State: progress.StatePaused, Paused: true}

	var next progress.Snapshot
	if err := wsjson.Read(ctx, conn, &next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if !next.Paused || next.State != progress.StatePaused {
		t.Fatalf("unexpected update %+v", next)
	}

	close(updates)
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("expected normal closure, got %v", err)
	}
}
