package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/khanhnv2901/lineaudit/internal/api/middleware"
	"github.com/khanhnv2901/lineaudit/internal/application/progress"
	"github.com/khanhnv2901/lineaudit/internal/domain/audit"
)

// AuditService is the run control surface. The audit orchestrator satisfies it.
type AuditService interface {
	Start(ctx context.Context) (string, error)
	Pause() error
	Resume() error
	Stop() error
	CurrentSnapshot() progress.Snapshot
	LastSnapshot() (progress.Snapshot, bool)
	LastReport() (*audit.RunReport, error)
	Subscribe() (<-chan progress.Snapshot, func())
}

// ReportService reads persisted run reports.
type ReportService interface {
	FindByRunID(ctx context.Context, runID string) (*audit.RunReport, error)
	VerifyIntegrity(ctx context.Context, runID string) (bool, error)
}

// HealthService reports whether the server can do useful work.
type HealthService interface {
	Check(ctx context.Context) error
}

// Config wires the server to its services. Nil Metrics disables /metrics.
type Config struct {
	Audit       AuditService
	Reports     ReportService
	Health      HealthService
	Metrics     http.Handler
	AuthToken   string
	Logger      *zap.Logger
	CORSOrigins []string // Allowed CORS origins (empty = allow all)
	RateLimit   int      // Requests per second per IP (0 = disabled)
	RateBurst   int      // Burst size for rate limiter
	// KeepAlive is the SSE comment interval; zero disables keepalives.
	KeepAlive time.Duration
}

// Server is the HTTP control surface over one audit orchestrator.
type Server struct {
	cfg      Config
	mux      *http.ServeMux
	handler  http.Handler
	limiters *clientLimiters
	origins  map[string]struct{}
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	srv := &Server{
		cfg: cfg,
		mux: http.NewServeMux(),
	}
	if cfg.RateLimit > 0 {
		srv.limiters = newClientLimiters(cfg.RateLimit, cfg.RateBurst)
	}
	if len(cfg.CORSOrigins) > 0 {
		srv.origins = make(map[string]struct{}, len(cfg.CORSOrigins))
		for _, o := range cfg.CORSOrigins {
			srv.origins[strings.TrimRight(o, "/")] = struct{}{}
		}
	}
	srv.routes()
	// RequestID -> logging -> rate limit -> CORS -> mux (auth is per route)
	srv.handler = middleware.RequestID(srv.withLogging(srv.withRateLimit(srv.withCORS(srv.mux))))
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.Handle("/api/v1/health", http.HandlerFunc(s.handleHealth))

	s.mux.Handle("/api/v1/audit/start", s.withAuth(http.HandlerFunc(s.handleStart)))
	s.mux.Handle("/api/v1/audit/pause", s.withAuth(http.HandlerFunc(s.handlePause)))
	s.mux.Handle("/api/v1/audit/resume", s.withAuth(http.HandlerFunc(s.handleResume)))
	s.mux.Handle("/api/v1/audit/stop", s.withAuth(http.HandlerFunc(s.handleStop)))
	s.mux.Handle("/api/v1/audit/snapshot", s.withAuth(http.HandlerFunc(s.handleSnapshot)))
	s.mux.Handle("/api/v1/audit/report", s.withAuth(http.HandlerFunc(s.handleReport)))
	s.mux.Handle("/api/v1/audit/verify", s.withAuth(http.HandlerFunc(s.handleVerify)))
	s.mux.Handle("/api/v1/audit/stream", s.withAuth(http.HandlerFunc(s.handleStream)))
	s.mux.Handle("/api/v1/ws/progress", s.withAuth(http.HandlerFunc(s.handleWebSocket)))

	if s.cfg.Metrics != nil {
		s.mux.Handle("/metrics", s.cfg.Metrics)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	if s.cfg.Health != nil {
		if err := s.cfg.Health.Check(r.Context()); err != nil {
			s.writeError(w, r, http.StatusServiceUnavailable, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.limiters == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddress(r)
		if !s.limiters.allow(client) {
			s.requestLogger(r).Warn("rate_limited", zap.String("client", client))
			w.Header().Set("Retry-After", "1")
			s.writeError(w, r, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowedOrigin returns the value for Access-Control-Allow-Origin, or "" when
// the origin is not on the list.
func (s *Server) allowedOrigin(origin string) string {
	if s.origins == nil {
		return "*"
	}
	if _, ok := s.origins[origin]; ok {
		return origin
	}
	return ""
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if s.origins != nil {
			h.Add("Vary", "Origin")
		}
		if allow := s.allowedOrigin(r.Header.Get("Origin")); allow != "" {
			h.Set("Access-Control-Allow-Origin", allow)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-Auth-Token, "+middleware.RequestIDHeader)
			h.Set("Access-Control-Max-Age", "3600")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.requestLogger(r).Info("http_request",
			zap.String("remote", clientAddress(r)),
			zap.Int("status", rec.status),
			zap.Int64("bytes", rec.bytes),
			zap.Duration("elapsed", time.Since(began)),
		)
	})
}

// withAuth guards a route with the shared token. The websocket route also
// accepts ?token= since browsers cannot set headers on an upgrade.
func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.cfg.AuthToken == "" {
		return next
	}
	want := []byte(s.cfg.AuthToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		if token == "" && r.URL.Path == "/api/v1/ws/progress" {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			s.writeError(w, r, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status and size for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += int64(n)
	return n, err
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	rec.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.requestLogger(r).Error("request_failed", zap.Error(err), zap.Int("status", status))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	if s.cfg.Logger == nil {
		return zap.NewNop()
	}
	return s.cfg.Logger.With(
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}
