package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/harunnryd/freestream/pkg/alert"
	"github.com/harunnryd/freestream/pkg/errorsx"
	"github.com/harunnryd/freestream/pkg/normalize"
	"github.com/harunnryd/freestream/pkg/orchestrator"
	"github.com/harunnryd/freestream/pkg/queue"
	"github.com/harunnryd/freestream/pkg/tts"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type eventResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, s.cfg.MaxBodyBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ev, err := normalize.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.submit(w, r, ev)
}

// submit answers quickly whatever the outcome: dropped events are not an
// error for the sender, a full queue is.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, ev normalize.Event) {
	job, err := s.deps.Ingest.Submit(r.Context(), ev)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, eventResponse{Status: "queued", JobID: job.ID})
	case normalize.IsDrop(err):
		var de *normalize.DropError
		errors.As(err, &de)
		writeJSON(w, http.StatusOK, eventResponse{Status: "dropped", Reason: string(de.Reason)})
	case errors.Is(err, queue.ErrFull), errors.Is(err, queue.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, eventResponse{Status: "rejected", Reason: string(errorsx.Reason(err))})
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type queueItem struct {
	ID        string          `json:"id"`
	EventType alert.EventType `json:"event_type"`
	Platform  alert.Platform  `json:"platform"`
	Text      string          `json:"text"`
	CreatedAt time.Time       `json:"created_at"`
}

type queueResponse struct {
	orchestrator.Status
	Queued []queueItem  `json:"queued"`
	Stats  *queue.Stats `json:"stats,omitempty"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	resp := queueResponse{Status: s.deps.Control.Status(), Queued: []queueItem{}}
	if s.deps.Queue != nil {
		for _, j := range s.deps.Queue.Snapshot() {
			resp.Queued = append(resp.Queued, queueItem{
				ID:        j.ID,
				EventType: j.EventType,
				Platform:  j.Platform,
				Text:      j.RenderedText,
				CreatedAt: j.CreatedAt,
			})
		}
		st := s.deps.Queue.Stats()
		resp.Stats = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deps.Control.Skip()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "skipped": nil})
		return
	}
	s.log.Info("operator_skip", "job_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "skipped": id})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	n := s.deps.Control.ClearQueue(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "cleared": n})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "audioID")
	id = strings.TrimSuffix(id, ".wav")
	id = strings.TrimSuffix(id, ".mp3")
	if id == "" || strings.ContainsAny(id, `/\.`) {
		http.NotFound(w, r)
		return
	}
	entry, ok := s.deps.Audio.Lookup(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", entry.Handle.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	http.ServeContent(w, r, id+entry.Handle.Extension(), entry.CreatedAt, bytes.NewReader(entry.Data))
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, s.cfg.MaxBodyBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fields := map[string]any{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
			return
		}
	}
	kind, _ := fields["type"].(string)
	if kind == "" {
		kind = string(alert.EventBits)
	}
	ev, err := normalize.Inject(kind, fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.log.Info("test_event_injected", "event_type", string(ev.Type()))
	s.submit(w, r, ev)
}

type ttsTestRequest struct {
	Text  string  `json:"text" validate:"max=1000"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed" validate:"omitempty,gte=0.5,lte=2"`
}

func (s *Server) handleTTSTest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Speaker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "tts not configured"})
		return
	}
	body, err := readBody(r, s.cfg.MaxBodyBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req ttsTestRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
			return
		}
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		req.Text = "This is a test message from FreeStream."
	}
	h, err := s.deps.Speaker.Synthesize(r.Context(), req.Text, tts.Voice{Name: req.Voice, Speed: req.Speed})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, tts.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"status": "error", "error": err.Error(), "reason": string(errorsx.Reason(err))})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"audio_id":    h.ID,
		"audio_url":   "/api/audio/" + h.ID,
		"duration_ms": h.Duration.Milliseconds(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.deps.Control != nil {
		st := s.deps.Control.Status()
		resp["state"] = st.State
		resp["queue_size"] = st.QueueSize
	}
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func readBody(r *http.Request, max int64) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, max+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > max {
		return nil, fmt.Errorf("body exceeds %d bytes", max)
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
