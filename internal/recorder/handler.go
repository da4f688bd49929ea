package recorder

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"livedownload/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the recording control surface over HTTP using go-chi.
type Handler struct {
	mgr     *Manager
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Manager, Logger, and
// optional Metrics. Metrics may be nil to disable metric recording (e.g. in
// tests).
func NewHandler(mgr *Manager, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{mgr: mgr, log: log, metrics: m}
}

type checkResponse struct {
	Type string `json:"type"`
	Live bool   `json:"live"`
}

type startRequest struct {
	URL   string `json:"url"`
	Name  string `json:"name"`
	Codec string `json:"codec,omitempty"`
}

type startResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	ID              string `json:"id,omitempty"`
	State           string `json:"state"`
	URL             string `json:"url"`
	Name            string `json:"name"`
	TotalSegments   int    `json:"total_segments"`
	PendingSegments int    `json:"pending_segments"`
	Batches         int    `json:"batches"`
	FailedBatches   int    `json:"failed_batches"`
	SkippedBatches  int    `json:"skipped_batches"`
	ElapsedSeconds  int    `json:"elapsed_seconds"`
}

func toStatusResponse(id string, st Status) statusResponse {
	return statusResponse{
		ID:              id,
		State:           st.State.String(),
		URL:             st.URL,
		Name:            st.BaseName,
		TotalSegments:   st.TotalSegments,
		PendingSegments: st.PendingSegments,
		Batches:         st.Batches,
		FailedBatches:   st.FailedBatches,
		SkippedBatches:  st.SkippedBatches,
		ElapsedSeconds:  int(st.Elapsed / time.Second),
	}
}

// CheckStream handles GET /streams/check?url=. It reports whether the URL is
// a recordable live stream and how it classified.
func (h *Handler) CheckStream(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	t, live := h.mgr.Check(r.Context(), rawURL)
	writeJSON(w, http.StatusOK, checkResponse{Type: t.String(), Live: live})
}

// StartRecording handles POST /recordings.
// Body: { "url": "...", "name": "stream", "codec": "avc1.64001f" }.
func (h *Handler) StartRecording(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid start body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.URL == "" || req.Name == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	id, err := h.mgr.StartRecording(r.Context(), req.URL, sanitizeName(req.Name), req.Codec)
	if err != nil {
		switch {
		case errors.Is(err, ErrStreamNotLive):
			h.log.Info("start rejected, stream not live", slog.String("url", req.URL))
			w.WriteHeader(http.StatusConflict)
		case errors.Is(err, ErrStorageUnavailable):
			h.log.Error("start rejected, storage unavailable", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		default:
			h.log.Error("start recording failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	h.log.Info("recording started", slog.String("id", id), slog.String("url", req.URL))
	writeJSON(w, http.StatusCreated, startResponse{ID: id})
}

// StopRecording handles POST /recordings/{id}/stop. The stop is cooperative;
// the response only acknowledges the request, the session finalizes on its
// own control loop.
func (h *Handler) StopRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.mgr.StopRecording(id); err != nil {
		if errors.Is(err, ErrRecordingNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.log.Error("stop recording failed", slog.String("id", id), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.log.Info("stop requested", slog.String("id", id))
	w.WriteHeader(http.StatusAccepted)
}

// GetRecording handles GET /recordings/{id}.
func (h *Handler) GetRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := h.mgr.Get(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(id, st))
}

// ListRecordings handles GET /recordings.
func (h *Handler) ListRecordings(w http.ResponseWriter, r *http.Request) {
	statuses := h.mgr.List()
	out := make([]statusResponse, 0, len(statuses))
	for id, st := range statuses {
		out = append(out, toStatusResponse(id, st))
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var invalidNameChars = regexp.MustCompile(`[/\\:*?"<>|]`)

// sanitizeName strips filesystem-hostile characters from a requested base
// name and collapses whitespace, mirroring how download names are cleaned
// before file handles are created.
func sanitizeName(name string) string {
	name = invalidNameChars.ReplaceAllString(name, "_")
	name = strings.Join(strings.Fields(name), " ")
	if len(name) > 200 {
		name = name[:200]
	}
	if name == "" {
		name = "recording"
	}
	return name
}
