// Package v1 implements the HTTP surface over scheduler.Manager: adding
// and removing downloads, starting and stopping them individually or in
// bulk, updating the observed requirements, and reading back state.
package v1

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tinoosan/streamctl/internal/data"
	"github.com/tinoosan/streamctl/internal/scheduler"
	"github.com/tinoosan/streamctl/internal/telemetry"
)

// Handler serves the v1 API against a single Manager.
type Handler struct {
	l   *slog.Logger
	mgr *scheduler.Manager
	tel *telemetry.Telemetry
}

// NewHandler constructs a Handler. tel may be nil; every span-wrapped
// call falls through to the Manager call directly in that case.
func NewHandler(l *slog.Logger, mgr *scheduler.Manager, tel *telemetry.Telemetry) *Handler {
	return &Handler{l: l, mgr: mgr, tel: tel}
}

// addDownloadRequest is the wire shape accepted by POST /v1/downloads.
type addDownloadRequest struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	URI            string          `json:"uri"`
	StreamKeys     []string        `json:"streamKeys,omitempty"`
	CacheKey       string          `json:"cacheKey,omitempty"`
	CustomMetadata json.RawMessage `json:"customMetadata,omitempty"`
}

// stopRequest is the wire shape accepted by the stop endpoints. Reason
// is an application-defined code; 0 (NONE) means "resume" and is
// rejected here as it would be by the scheduler itself.
type stopRequest struct {
	Reason int `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeErr(w http.ResponseWriter, status int, err error) {
	markErr(w, err)
	http.Error(w, err.Error(), status)
}

// ListDownloads handles GET /v1/downloads.
func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.GetAllDownloadStates())
}

// GetDownload handles GET /v1/downloads/{id}.
func (h *Handler) GetDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok := h.mgr.GetDownloadState(id)
	if !ok {
		writeErr(w, http.StatusNotFound, data.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// AddDownload handles POST /v1/downloads: create-or-update a download's
// fetch parameters.
func (h *Handler) AddDownload(w http.ResponseWriter, r *http.Request) {
	var req addDownloadRequest
	if err := decodeJSONStrict(w, r, &req, 1<<20, "application/json"); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" {
		writeErr(w, http.StatusBadRequest, ErrMissingID)
		return
	}
	if req.Type == "" {
		writeErr(w, http.StatusBadRequest, ErrMissingType)
		return
	}
	if req.URI == "" {
		writeErr(w, http.StatusBadRequest, ErrMissingURI)
		return
	}

	action := data.Action{
		ID:             req.ID,
		Type:           req.Type,
		URI:            req.URI,
		StreamKeys:     req.StreamKeys,
		CacheKey:       req.CacheKey,
		CustomMetadata: req.CustomMetadata,
	}
	if err := h.instrument(r, "add_download", func() error { return h.mgr.AddDownload(action) }); err != nil {
		h.writeManagerErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

// RemoveDownload handles DELETE /v1/downloads/{id}.
func (h *Handler) RemoveDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.instrument(r, "remove_download", func() error { return h.mgr.RemoveDownload(id) }); err != nil {
		h.writeManagerErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

// StartDownload handles POST /v1/downloads/{id}/start.
func (h *Handler) StartDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.instrument(r, "start_download", func() error { return h.mgr.StartDownload(id) }); err != nil {
		h.writeManagerErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

// StopDownload handles POST /v1/downloads/{id}/stop.
func (h *Handler) StopDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req stopRequest
	if err := decodeJSONStrict(w, r, &req, 1<<16, "application/json"); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.Reason == data.ManualStopReasonNone {
		writeErr(w, http.StatusBadRequest, ErrStopReason)
		return
	}
	if err := h.instrument(r, "stop_download", func() error { return h.mgr.StopDownload(id, req.Reason) }); err != nil {
		h.writeManagerErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

// StartDownloads handles POST /v1/downloads/start: resume every download.
func (h *Handler) StartDownloads(w http.ResponseWriter, r *http.Request) {
	if err := h.instrument(r, "start_downloads", h.mgr.StartDownloads); err != nil {
		h.writeManagerErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

// StopDownloads handles POST /v1/downloads/stop: stop every download.
func (h *Handler) StopDownloads(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := decodeJSONStrict(w, r, &req, 1<<16, "application/json"); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.Reason == data.ManualStopReasonNone {
		writeErr(w, http.StatusBadRequest, ErrStopReason)
		return
	}
	if err := h.instrument(r, "stop_downloads", func() error { return h.mgr.StopDownloads(req.Reason) }); err != nil {
		h.writeManagerErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

// SetRequirements handles PUT /v1/requirements.
func (h *Handler) SetRequirements(w http.ResponseWriter, r *http.Request) {
	var req data.Requirements
	if err := decodeJSONStrict(w, r, &req, 1<<16, "application/json"); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := h.instrument(r, "set_requirements", func() error { return h.mgr.SetRequirements(req) }); err != nil {
		h.writeManagerErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

// instrument wraps a Manager call in a "controller.<op>" span carrying
// the request's context, falling through directly when h.tel is nil.
func (h *Handler) instrument(r *http.Request, op string, fn func() error) error {
	return h.tel.InstrumentControllerCall(r.Context(), op, func(context.Context) error {
		return fn()
	})
}

// writeManagerErr maps a scheduler.Manager error to an HTTP status.
// Every current Manager error is a post-Release or invalid-input
// rejection, never a "resource missing" case.
func (h *Handler) writeManagerErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrReleased):
		writeErr(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, scheduler.ErrInvalidStopReason):
		writeErr(w, http.StatusBadRequest, err)
	default:
		writeErr(w, http.StatusInternalServerError, err)
	}
}

// Healthz reports liveness unconditionally: the process is up and
// serving.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports readiness: the observer thread has completed its
// initial load() pass and the index-backed snapshot set is trustworthy.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if !h.mgr.IsInitialized() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
