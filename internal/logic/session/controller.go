// Package session owns the capture device and its session. Every mutation
// runs as a command on one dispatcher goroutine; device callbacks are
// received on a second goroutine which only resolves futures, feeds the
// pairing queue and enqueues commands.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/dispatch"
	"github.com/cjeanneret/stillcam/internal/future"
	"github.com/cjeanneret/stillcam/internal/hw/device"
	"github.com/cjeanneret/stillcam/internal/hw/sensors"
	"github.com/cjeanneret/stillcam/internal/logic/correlate"
	"github.com/cjeanneret/stillcam/internal/logic/request"
	"github.com/cjeanneret/stillcam/internal/metrics"
	"github.com/rs/zerolog"
)

// Config holds the controller tunables.
type Config struct {
	DefaultFacing    device.Facing
	PreviewMax       device.Size
	ImageMax         device.Size
	JPEGQuality      int
	PairingQueueSize int
	CallbackTimeout  time.Duration
	JPEGMaxImages    int
	RawMaxImages     int
}

// DefaultConfig returns the settings of a phone-class device.
func DefaultConfig() Config {
	return Config{
		DefaultFacing:    device.FacingBack,
		PreviewMax:       device.Size{Width: 1440, Height: 1080},
		ImageMax:         device.Size{Width: 4032, Height: 3024},
		JPEGQuality:      request.DefaultQuality,
		PairingQueueSize: correlate.DefaultCapacity,
		CallbackTimeout:  5 * time.Second,
		JPEGMaxImages:    5,
		RawMaxImages:     3,
	}
}

// Shutter gives feedback when a still capture starts. Trigger must not
// block.
type Shutter interface {
	Trigger()
}

// Status is a snapshot of the controller, published after every command.
type Status struct {
	Phase       string      `json:"phase"`
	DeviceID    string      `json:"device_id,omitempty"`
	Facing      string      `json:"facing,omitempty"`
	PreviewSize device.Size `json:"preview_size"`
	ImageSize   device.Size `json:"image_size"`
	Continuous  bool        `json:"continuous"`
	LastError   string      `json:"last_error,omitempty"`
}

// Option customises a Controller.
type Option func(*Controller)

// WithSensors sets the orientation and location sources used for stills.
func WithSensors(o sensors.Orientation, l sensors.Location) Option {
	return func(c *Controller) {
		c.orientation = o
		c.location = l
	}
}

// WithPersistHandler sets the handler receiving matched pairs.
func WithPersistHandler(h correlate.Handler) Option {
	return func(c *Controller) { c.persist = h }
}

// WithShutter sets the capture-started feedback.
func WithShutter(s Shutter) Option {
	return func(c *Controller) { c.shutter = s }
}

// WithStatusListener registers fn to receive every published Status. fn
// runs on the dispatcher goroutine and must not block.
func WithStatusListener(fn func(Status)) Option {
	return func(c *Controller) { c.listeners = append(c.listeners, fn) }
}

// pending holds the futures the callback goroutine may resolve for the
// current device generation.
type pending struct {
	gen        uint64
	deviceID   string
	desc       device.Descriptor
	device     *future.Future[device.Device]
	descriptor *future.Future[device.Descriptor]
	session    *future.Future[device.Session]
}

// state is only reached from commands running on the dispatcher.
type state struct {
	phase Phase
	gen   uint64
	wait  pending

	desc    device.Descriptor
	dev     device.Device
	sess    device.Session
	display device.DisplaySurface
	raw     device.ImageReader
	jpeg    device.ImageReader

	previewSize device.Size
	imageSize   device.Size
	thumbnail   *device.Size
	builder     *request.Builder
	continuous  bool
}

// Controller is the device and session lifecycle manager.
type Controller struct {
	cfg  Config
	mgr  device.Manager
	dir  device.Directory
	log  zerolog.Logger
	conf *dispatch.Confined[*state]

	orientation sensors.Orientation
	location    sensors.Location
	persist     correlate.Handler
	shutter     Shutter
	listeners   []func(Status)

	deviceEvents  chan device.DeviceEvent
	sessionEvents chan device.SessionEvent
	captureEvents chan device.CaptureEvent
	bindings      chan pending
	images        chan device.Image
	rawFrames     chan device.Image

	pairing    *correlate.Queue
	correlator *correlate.Correlator
	persistQ   *dispatch.Queue

	displayMu sync.Mutex
	displayF  *future.Future[device.DisplaySurface]

	phase  atomic.Int32
	status atomic.Pointer[Status]

	cancel   context.CancelFunc
	stopped  chan struct{}
	wg       sync.WaitGroup
	shutOnce sync.Once
}

// New starts the dispatcher, callback and correlation goroutines.
func New(cfg Config, mgr device.Manager, dir device.Directory, opts ...Option) *Controller {
	def := DefaultConfig()
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = def.CallbackTimeout
	}
	if cfg.JPEGMaxImages <= 0 {
		cfg.JPEGMaxImages = def.JPEGMaxImages
	}
	if cfg.RawMaxImages <= 0 {
		cfg.RawMaxImages = def.RawMaxImages
	}
	if cfg.PreviewMax.IsZero() {
		cfg.PreviewMax = def.PreviewMax
	}
	if cfg.ImageMax.IsZero() {
		cfg.ImageMax = def.ImageMax
	}

	c := &Controller{
		cfg:           cfg,
		mgr:           mgr,
		dir:           dir,
		log:           debug.Component("session"),
		deviceEvents:  make(chan device.DeviceEvent, 4),
		sessionEvents: make(chan device.SessionEvent, 4),
		captureEvents: make(chan device.CaptureEvent, 64),
		bindings:      make(chan pending),
		images:        make(chan device.Image, cfg.JPEGMaxImages),
		rawFrames:     make(chan device.Image, cfg.RawMaxImages),
		pairing:       correlate.NewQueue(cfg.PairingQueueSize),
		persistQ:      dispatch.NewQueue("persist"),
		displayF:      future.New[device.DisplaySurface](),
		stopped:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.persist == nil {
		c.persist = func(_ context.Context, p correlate.Pair) {
			c.log.Debug().Str(debug.FieldRequest, p.Result.RequestID).Msg("no persistence handler, pair discarded")
		}
	}
	c.conf = dispatch.NewConfined(dispatch.NewQueue("camera"), &state{})
	c.correlator = correlate.NewCorrelator(c.pairing, c.images, c.persistQ, c.persist)
	c.status.Store(&Status{Phase: PhaseClosed.String()})

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		defer close(c.stopped)
		c.callbacks(ctx)
	}()
	go func() {
		defer c.wg.Done()
		if err := c.correlator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error().Err(err).Msg("correlator stopped")
		}
	}()
	go func() {
		defer c.wg.Done()
		c.drainRaw(ctx)
	}()
	return c
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase { return Phase(c.phase.Load()) }

// Status returns the last published snapshot.
func (c *Controller) Status() Status { return *c.status.Load() }

// SurfaceAvailable hands over the display surface. It may be called from
// any goroutine, before or after the preview size is requested.
func (c *Controller) SurfaceAvailable(s device.DisplaySurface) {
	c.displayMu.Lock()
	defer c.displayMu.Unlock()
	if !c.displayF.Set(s) {
		c.displayF = future.Resolved(s)
	}
}

// SurfaceDestroyed withdraws the display surface.
func (c *Controller) SurfaceDestroyed() {
	c.displayMu.Lock()
	defer c.displayMu.Unlock()
	if c.displayF.IsDone() {
		c.displayF = future.New[device.DisplaySurface]()
	}
}

func (c *Controller) displayFuture() *future.Future[device.DisplaySurface] {
	c.displayMu.Lock()
	defer c.displayMu.Unlock()
	return c.displayF
}

// Shutdown closes the device, lets queued commands and persistence finish
// and stops every goroutine. Later commands fail with ErrClosed.
func (c *Controller) Shutdown(ctx context.Context) error {
	var err error
	c.shutOnce.Do(func() {
		if _, cerr := c.Close().Wait(ctx); cerr != nil && !errors.Is(cerr, ErrClosed) {
			err = fmt.Errorf("close device: %w", cerr)
		}
		c.conf.Queue().Close()
		c.cancel()
		c.wg.Wait()
		c.persistQ.Close()
		c.log.Info().Msg("controller stopped")
	})
	return err
}

// call runs fn as a named command and publishes the resulting status.
func (c *Controller) call(name string, fn func(s *state) error) *future.Future[struct{}] {
	f := dispatch.Call(c.conf, name, func(s *state) (struct{}, error) {
		err := fn(s)
		if err != nil {
			c.log.Warn().Err(err).Str(debug.FieldCommand, name).Msg("command failed")
		}
		c.publish(s, err)
		return struct{}{}, err
	})
	if _, done, err := f.TryGet(); done && errors.Is(err, dispatch.ErrClosed) {
		return future.Failed[struct{}](fmt.Errorf("%s: %w", name, ErrClosed))
	}
	return f
}

func (c *Controller) setPhase(s *state, to Phase) error {
	from := s.phase
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidState)
	}
	s.phase = to
	c.phase.Store(int32(to))
	metrics.LifecycleTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	c.log.Debug().
		Str(debug.FieldOldState, from.String()).
		Str(debug.FieldNewState, to.String()).
		Str(debug.FieldDevice, s.desc.ID).
		Msg("phase transition")
	return nil
}

func (c *Controller) publish(s *state, err error) {
	st := &Status{
		Phase:       s.phase.String(),
		PreviewSize: s.previewSize,
		ImageSize:   s.imageSize,
		Continuous:  s.continuous,
	}
	if s.phase != PhaseClosed {
		st.DeviceID = s.desc.ID
		st.Facing = s.desc.Facing.String()
	}
	if err != nil {
		st.LastError = err.Error()
	}
	c.status.Store(st)
	for _, fn := range c.listeners {
		fn(*st)
	}
}

// bind hands the futures of the current generation to the callback
// goroutine.
func (c *Controller) bind(p pending) bool {
	select {
	case c.bindings <- p:
		return true
	case <-c.stopped:
		return false
	}
}

func (c *Controller) drainRaw(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.rawFrames:
			metrics.PreviewFramesTotal.Inc()
		}
	}
}
