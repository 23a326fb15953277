package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/khanhnv2901/lineaudit/internal/application/progress"
)

const wsWriteTimeout = 5 * time.Second

// handleStream pushes progress snapshots as server-sent events. The current
// snapshot is sent first so a late subscriber has a baseline.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	updates, cancel := s.cfg.Audit.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if !s.writeEvent(w, r, s.cfg.Audit.CurrentSnapshot()) {
		return
	}
	flusher.Flush()

	var keepAlive <-chan time.Time
	if s.cfg.KeepAlive > 0 {
		ticker := time.NewTicker(s.cfg.KeepAlive)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	ctx := r.Context()
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if !s.writeEvent(w, r, snap) {
				return
			}
			flusher.Flush()
		case <-keepAlive:
			if !s.writeStreamChunk(w, []byte(": keepalive\n\n")) {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writeEvent(w http.ResponseWriter, r *http.Request, snap progress.Snapshot) bool {
	payload, err := json.Marshal(snap)
	if err != nil {
		s.requestLogger(r).Error("failed to marshal snapshot", zap.Error(err))
		return true
	}
	for _, chunk := range [][]byte{[]byte("event: progress\n"), []byte("data: "), payload, []byte("\n\n")} {
		if !s.writeStreamChunk(w, chunk) {
			return false
		}
	}
	return true
}

func (s *Server) writeStreamChunk(w http.ResponseWriter, data []byte) bool {
	if _, err := w.Write(data); err != nil {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Error("failed to write stream chunk", zap.Error(err))
		}
		return false
	}
	return true
}

// handleWebSocket is the websocket flavour of handleStream. Inbound frames are
// discarded; the stream ends when the peer closes or the run is unsubscribed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: len(s.cfg.CORSOrigins) == 0,
		OriginPatterns:     s.cfg.CORSOrigins,
	})
	if err != nil {
		s.requestLogger(r).Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	updates, cancel := s.cfg.Audit.Subscribe()
	defer cancel()

	ctx := conn.CloseRead(r.Context())

	if err := s.writeFrame(ctx, conn, s.cfg.Audit.CurrentSnapshot()); err != nil {
		return
	}

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := s.writeFrame(ctx, conn, snap); err != nil {
				s.requestLogger(r).Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, snap progress.Snapshot) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, snap)
}
