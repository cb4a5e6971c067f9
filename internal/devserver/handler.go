package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eugenenazirov/bundle-launcher/internal/buildconfig"
	"github.com/eugenenazirov/bundle-launcher/internal/storage"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// ReloadEvent is broadcast to live reload clients after a successful rebuild.
const ReloadEvent = "reload"

// Handler serves build output and the /__bundle endpoints.
type Handler struct {
	storage    storage.Storage
	hub        *Hub
	contentDir string
	mountPath  string
	liveReload bool

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler constructs a Handler for the dev server settings of a resolved
// configuration.
func NewHandler(dev buildconfig.ResolvedDevServer, store storage.Storage, hub *Hub, opts ...HandlerOption) *Handler {
	h := &Handler{
		storage:    store,
		hub:        hub,
		contentDir: dev.ContentRoot,
		mountPath:  mountPath(dev.PublicPath),
		liveReload: dev.LiveReload,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Reload notifies connected browsers that new bundles are available.
func (h *Handler) Reload() int {
	if !h.liveReload {
		return 0
	}
	return h.hub.Broadcast(Event{Name: ReloadEvent, Data: h.clock().Format(time.RFC3339Nano)})
}

// mountPath reduces a public path, which may be an absolute URL, to the
// slash-terminated path prefix served locally.
func mountPath(publicPath string) string {
	p := publicPath
	if u, err := url.Parse(publicPath); err == nil && u.Host != "" {
		p = u.Path
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func (h *Handler) staticHandler() http.Handler {
	files := http.FileServer(http.Dir(h.contentDir))
	if h.mountPath != "/" {
		files = http.StripPrefix(strings.TrimSuffix(h.mountPath, "/"), files)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		files.ServeHTTP(w, r)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	_ = r
	snapshot, err := h.storage.Get()
	if err != nil && !errors.Is(err, storage.ErrNoBuild) {
		writeInternalError(w, err)
		return
	}

	resp := statusResponse{
		Snapshot:    snapshot,
		ContentRoot: h.contentDir,
		PublicPath:  h.mountPath,
		LiveReload:  h.liveReload,
		Clients:     h.hub.Subscribers(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !h.liveReload {
		writeError(w, http.StatusNotFound, "Live reload disabled", "enable devServer.hot to receive reload events")
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type statusResponse struct {
	storage.Snapshot
	ContentRoot string `json:"contentRoot"`
	PublicPath  string `json:"publicPath"`
	LiveReload  bool   `json:"liveReload"`
	Clients     int    `json:"clients"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{
		Error:   message,
		Details: details,
	})
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
