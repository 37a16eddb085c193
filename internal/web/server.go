package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Options configures the server.
type Options struct {
	Addr      string
	BurstSize int
	// CommandLimit is the number of camera commands accepted per client and
	// minute. 0 disables the limit.
	CommandLimit int
}

// Server wraps the HTTP server and handlers.
type Server struct {
	addr         string
	commandLimit int
	handlers     *Handlers
	thumbs       *ThumbnailHub
	log          zerolog.Logger
}

// NewServer creates a server for the given camera, catalog and thumbnail hub.
func NewServer(opts Options, broadcaster *StatusBroadcaster, cam Camera, images ImageLister, thumbs *ThumbnailHub) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("sub static fs: %w", err)
	}
	return &Server{
		addr:         opts.Addr,
		commandLimit: opts.CommandLimit,
		handlers:     NewHandlers(broadcaster, cam, images, opts.BurstSize, subFS),
		thumbs:       thumbs,
		log:          debug.Component("web"),
	}, nil
}

// Handlers exposes the request handlers.
func (s *Server) Handlers() *Handlers { return s.handlers }

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	h := s.handlers
	r.Group(func(r chi.Router) {
		if s.commandLimit > 0 {
			r.Use(httprate.LimitByIP(s.commandLimit, time.Minute))
		}
		r.Post("/resume", h.Command("resume", Camera.Resume))
		r.Post("/pause", h.Command("pause", Camera.Pause))
		r.Post("/capture", h.Command("capture", Camera.Capture))
		r.Post("/burst", h.HandleBurst)
		r.Post("/continuous/start", h.Command("continuous-start", Camera.StartContinuous))
		r.Post("/continuous/stop", h.Command("continuous-stop", Camera.StopContinuous))
		r.Post("/switch", h.Command("switch", Camera.Switch))
	})

	r.Get("/state", h.HandleState)
	r.Get("/images", h.HandleImages)
	r.Get("/status/stream", h.HandleStatusStream)
	if s.thumbs != nil {
		r.Handle("/thumbnails/ws", s.thumbs)
	}
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	r.Get("/", h.ServeIndex)

	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("web server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.thumbs != nil {
			s.thumbs.Close()
		}
		return srv.Shutdown(shutdownCtx)
	}
}
