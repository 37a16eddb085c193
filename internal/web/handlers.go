package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/cjeanneret/stillcam/internal/catalog"
	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/future"
	"github.com/cjeanneret/stillcam/internal/logic/session"
	"github.com/rs/zerolog"
)

// Command is an asynchronous camera operation.
type Command func() *future.Future[struct{}]

// Camera is the part of the session controller exposed over HTTP.
type Camera interface {
	Resume() *future.Future[struct{}]
	Pause() *future.Future[struct{}]
	Capture() *future.Future[struct{}]
	CaptureBurst(n int) *future.Future[struct{}]
	StartContinuous() *future.Future[struct{}]
	StopContinuous() *future.Future[struct{}]
	Switch() *future.Future[struct{}]
	Status() session.Status
}

// ImageLister lists catalogued images, newest first.
type ImageLister interface {
	List(ctx context.Context, limit int) ([]catalog.Entry, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBurst         = 100
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Camera      Camera
	Images      ImageLister
	BurstSize   int
	// CommandTimeout bounds the wait on a command before its outcome is
	// reported on the status stream.
	CommandTimeout time.Duration
	staticFS       fs.FS
	log            zerolog.Logger
}

// NewHandlers creates handlers with the given dependencies. A nil camera
// makes every command return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, cam Camera, images ImageLister, burstSize int, staticFS fs.FS) *Handlers {
	if burstSize <= 0 {
		burstSize = 10
	}
	return &Handlers{
		Broadcaster:    broadcaster,
		Camera:         cam,
		Images:         images,
		BurstSize:      burstSize,
		CommandTimeout: 30 * time.Second,
		staticFS:       staticFS,
		log:            debug.Component("web"),
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

// HandleState returns the last controller snapshot.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if h.Camera == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.Camera.Status())
}

// HandleImages lists catalogued images; ?limit= bounds the result.
func (h *Handlers) HandleImages(w http.ResponseWriter, r *http.Request) {
	if h.Images == nil {
		http.Error(w, "catalog not configured", http.StatusServiceUnavailable)
		return
	}
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 || v > maxListLimit {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = v
	}
	entries, err := h.Images.List(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("list images")
		http.Error(w, "catalog unavailable", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Command returns a handler that starts op and answers 202 Accepted. The
// outcome is reported on the status stream.
func (h *Handlers) Command(name string, op func(Camera) *future.Future[struct{}]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Camera == nil {
			http.Error(w, "camera not configured", http.StatusServiceUnavailable)
			return
		}
		h.start(w, name, func() *future.Future[struct{}] { return op(h.Camera) })
	}
}

type burstRequest struct {
	Count int `json:"count"`
}

// HandleBurst starts a burst; the optional JSON body {"count": n} overrides
// the configured size.
func (h *Handlers) HandleBurst(w http.ResponseWriter, r *http.Request) {
	if h.Camera == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}
	req := burstRequest{Count: h.BurstSize}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Count < 1 || req.Count > maxBurst {
		http.Error(w, "count must be between 1 and 100", http.StatusBadRequest)
		return
	}
	n := req.Count
	h.start(w, "burst", func() *future.Future[struct{}] { return h.Camera.CaptureBurst(n) })
}

func (h *Handlers) start(w http.ResponseWriter, name string, cmd Command) {
	f := cmd()
	go h.report(name, f)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "command": name})
}

func (h *Handlers) report(name string, f *future.Future[struct{}]) {
	_, err := f.GetTimeout(h.CommandTimeout)
	if err != nil {
		h.log.Warn().Err(err).Str(debug.FieldCommand, name).Msg("command failed")
		h.Broadcaster.Broadcast("error", name+" failed: "+err.Error())
	} else {
		h.Broadcaster.Broadcast("info", name+" done")
	}
	h.Broadcaster.BroadcastStatus(h.Camera.Status())
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			_, _ = w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
