package api

import (
	"encoding/json"
	"net/http"

	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/download"
	apperrors "github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/errors"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/queue"
)

type DownloadHandlers struct {
	svc *download.Service
}

func NewDownloadHandlers(svc *download.Service) *DownloadHandlers {
	return &DownloadHandlers{svc: svc}
}

// CreateResponse is returned for a newly queued download.
type CreateResponse struct {
	Item *queue.Item `json:"item"`
}

// ListResponse wraps the queue snapshot.
type ListResponse struct {
	Items []*queue.Item `json:"items"`
	Count int           `json:"count"`
}

// ReorderRequest names two queue positions to swap.
type ReorderRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// ConcurrencyRequest adjusts the download concurrency bound.
type ConcurrencyRequest struct {
	MaxConcurrent int `json:"max_concurrent"`
}

// Create handles POST /api/v1/downloads
func (h *DownloadHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req download.AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	item, err := h.svc.Add(req)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, CreateResponse{Item: item})
}

// List handles GET /api/v1/downloads
func (h *DownloadHandlers) List(w http.ResponseWriter, r *http.Request) {
	items := h.svc.Items()
	apperrors.WriteJSON(w, http.StatusOK, ListResponse{Items: items, Count: len(items)})
}

// Get handles GET /api/v1/downloads/{id}
func (h *DownloadHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	item, err := h.svc.Get(id)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, item)
}

// Remove handles DELETE /api/v1/downloads/{id}
func (h *DownloadHandlers) Remove(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Remove(id); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Cancel handles POST /api/v1/downloads/{id}/cancel
func (h *DownloadHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	h.itemAction(w, r, h.svc.Cancel)
}

// Pause handles POST /api/v1/downloads/{id}/pause
func (h *DownloadHandlers) Pause(w http.ResponseWriter, r *http.Request) {
	h.itemAction(w, r, h.svc.Pause)
}

// Resume handles POST /api/v1/downloads/{id}/resume
func (h *DownloadHandlers) Resume(w http.ResponseWriter, r *http.Request) {
	h.itemAction(w, r, h.svc.Resume)
}

// Retry handles POST /api/v1/downloads/{id}/retry
func (h *DownloadHandlers) Retry(w http.ResponseWriter, r *http.Request) {
	h.itemAction(w, r, h.svc.Retry)
}

func (h *DownloadHandlers) itemAction(w http.ResponseWriter, r *http.Request, action func(string) error) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	if err := action(id); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	item, err := h.svc.Get(id)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, item)
}

// Reorder handles POST /api/v1/downloads/reorder
func (h *DownloadHandlers) Reorder(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.BadRequest("invalid request body"))
		return
	}
	if err := h.svc.Reorder(req.From, req.To); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	h.List(w, r)
}

// SetConcurrency handles PUT /api/v1/settings/concurrency
func (h *DownloadHandlers) SetConcurrency(w http.ResponseWriter, r *http.Request) {
	var req ConcurrencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.BadRequest("invalid request body"))
		return
	}
	if err := h.svc.SetMaxConcurrent(req.MaxConcurrent); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, h.svc.Status())
}

// Health handles GET /health
func (h *DownloadHandlers) Health(w http.ResponseWriter, r *http.Request) {
	status := h.svc.Status()
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"pipeline": status,
	})
}
