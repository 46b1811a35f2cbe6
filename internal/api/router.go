package api

import (
	"net/http"

	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/download"
	apperrors "github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/errors"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/middleware"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/websocket"
)

type Router struct {
	mux       *http.ServeMux
	handler   http.Handler
	downloads *DownloadHandlers
	history   *HistoryHandlers
	ws        *websocket.Handler
	metrics   http.Handler
}

func NewRouter(svc *download.Service, historyHandlers *HistoryHandlers, wsHandler *websocket.Handler, metrics http.Handler) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		downloads: NewDownloadHandlers(svc),
		history:   historyHandlers,
		ws:        wsHandler,
		metrics:   metrics,
	}
	r.setupRoutes()
	r.handler = middleware.Chain(r.mux,
		middleware.RequestLog,
		middleware.Recoverer,
		middleware.Gzip,
	)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	// Health check
	r.mux.HandleFunc("GET /health", r.downloads.Health)

	// Queue routes
	r.mux.HandleFunc("POST /api/v1/downloads", r.downloads.Create)
	r.mux.HandleFunc("GET /api/v1/downloads", r.downloads.List)
	r.mux.HandleFunc("GET /api/v1/downloads/{id}", r.downloads.Get)
	r.mux.HandleFunc("DELETE /api/v1/downloads/{id}", r.downloads.Remove)
	r.mux.HandleFunc("POST /api/v1/downloads/{id}/cancel", r.downloads.Cancel)
	r.mux.HandleFunc("POST /api/v1/downloads/{id}/pause", r.downloads.Pause)
	r.mux.HandleFunc("POST /api/v1/downloads/{id}/resume", r.downloads.Resume)
	r.mux.HandleFunc("POST /api/v1/downloads/{id}/retry", r.downloads.Retry)
	r.mux.HandleFunc("POST /api/v1/downloads/reorder", r.downloads.Reorder)

	// Settings
	r.mux.HandleFunc("PUT /api/v1/settings/concurrency", r.downloads.SetConcurrency)

	// History
	if r.history != nil {
		r.mux.HandleFunc("GET /api/v1/history", r.history.List)
	}

	// Progress stream
	if r.ws != nil {
		r.mux.HandleFunc("GET /api/v1/ws", r.ws.ServeWS)
	}

	// Metrics exposition
	if r.metrics != nil {
		r.mux.Handle("GET /metrics", r.metrics)
	}
}

// requireID pulls the {id} path value, writing the error response itself
// when it is absent.
func requireID(w http.ResponseWriter, req *http.Request) (string, bool) {
	id := req.PathValue("id")
	if id == "" {
		apperrors.WriteError(w, apperrors.BadRequest("missing download id"))
		return "", false
	}
	return id, true
}
