package api

import (
	"context"
	"net/http"
	"strconv"

	apperrors "github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/errors"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/history"
)

// HistoryLister is the read side of the history store.
type HistoryLister interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

type HistoryHandlers struct {
	store HistoryLister
}

func NewHistoryHandlers(store HistoryLister) *HistoryHandlers {
	return &HistoryHandlers{store: store}
}

// HistoryResponse wraps a page of history entries.
type HistoryResponse struct {
	Entries []history.Entry `json:"entries"`
	Count   int             `json:"count"`
}

// List handles GET /api/v1/history?limit=N
func (h *HistoryHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			apperrors.WriteError(w, apperrors.BadRequest("limit must be a positive integer"))
			return
		}
		limit = n
	}

	entries, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		apperrors.WriteError(w, apperrors.Internal("failed to load history").WithCause(err))
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	apperrors.WriteJSON(w, http.StatusOK, HistoryResponse{Entries: entries, Count: len(entries)})
}
