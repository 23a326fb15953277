package api

import (
	"errors"
	"net/http"

	sharedErrors "github.com/khanhnv2901/lineaudit/internal/shared/errors"
)

var errNoReport = errors.New("no finished audit run")

type startResponse struct {
	RunID string `json:"run_id"`
	State string `json:"state"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}
	runID, err := s.cfg.Audit.Start(r.Context())
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	snap := s.cfg.Audit.CurrentSnapshot()
	writeJSON(w, http.StatusAccepted, startResponse{RunID: runID, State: string(snap.State)})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.cfg.Audit.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.cfg.Audit.Resume)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.cfg.Audit.Stop)
}

// control runs a pause/resume/stop verb and answers with the resulting snapshot.
func (s *Server) control(w http.ResponseWriter, r *http.Request, verb func() error) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}
	if err := verb(); err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Audit.CurrentSnapshot())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	view := snapshotView{Current: s.cfg.Audit.CurrentSnapshot()}
	if last, ok := s.cfg.Audit.LastSnapshot(); ok {
		view.Last = &last
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}

	if runID := r.URL.Query().Get("run_id"); runID != "" {
		if s.cfg.Reports == nil {
			s.writeError(w, r, http.StatusNotFound, errors.New("report store not available"))
			return
		}
		report, err := s.cfg.Reports.FindByRunID(r.Context(), runID)
		if err != nil {
			s.writeError(w, r, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, newReportView(report, nil))
		return
	}

	report, runErr := s.cfg.Audit.LastReport()
	if report == nil {
		s.writeError(w, r, http.StatusNotFound, errNoReport)
		return
	}
	writeJSON(w, http.StatusOK, newReportView(report, runErr))
}

type verifyResponse struct {
	RunID string `json:"run_id"`
	Valid bool   `json:"valid"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	if s.cfg.Reports == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("report store not available"))
		return
	}
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("run_id is required"))
		return
	}
	valid, err := s.cfg.Reports.VerifyIntegrity(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{RunID: runID, Valid: valid})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sharedErrors.ErrRunInProgress),
		errors.Is(err, sharedErrors.ErrNoActiveRun),
		errors.Is(err, sharedErrors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, sharedErrors.ErrEmptyInventory),
		errors.Is(err, sharedErrors.ErrInvalidDevice),
		errors.Is(err, sharedErrors.ErrInvalidRunID):
		return http.StatusBadRequest
	case errors.Is(err, sharedErrors.ErrReportNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
