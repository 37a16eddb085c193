// Package sim is an in-process capture backend. It honours the callback
// contract of package device: results arrive later, on other goroutines,
// with capture metadata and image buffers delivered independently of each
// other.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/hw/device"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownDevice = errors.New("sim: unknown device")
	ErrDeviceClosed  = errors.New("sim: device closed")
	ErrSessionClosed = errors.New("sim: session closed")
	ErrBurstTooLarge = errors.New("sim: burst exceeds the device limit")
	ErrNotOpen       = errors.New("sim: no device is open")
)

// Config tunes the simulated timings.
type Config struct {
	Descriptors    []device.Descriptor
	OpenDelay      time.Duration
	ConfigureDelay time.Duration
	FrameInterval  time.Duration // repeating request period
	Jitter         time.Duration // max random delay per delivered event
	MaxBurst       int           // 0 means unlimited
	Seed           uint64
}

// DefaultConfig returns timings close to a real device.
func DefaultConfig() Config {
	return Config{
		Descriptors:    DefaultDescriptors(),
		OpenDelay:      30 * time.Millisecond,
		ConfigureDelay: 20 * time.Millisecond,
		FrameInterval:  33 * time.Millisecond,
		Jitter:         5 * time.Millisecond,
		MaxBurst:       32,
		Seed:           1,
	}
}

// Stats counts what the backend accepted.
type Stats struct {
	Opens          int64
	Sessions       int64
	StillRequests  int64
	PreviewFrames  int64
	ImagesRendered int64
}

// Manager implements device.Manager.
type Manager struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	order    []string
	descs    map[string]device.Descriptor
	current  *Device
	seed     uint64
	closed   bool
	failOpen bool
	reject   bool
	failCaps bool

	opens, sessions, stills, previews, rendered atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager returns a backend exposing cfg.Descriptors.
func NewManager(cfg Config) *Manager {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 33 * time.Millisecond
	}
	if cfg.Descriptors == nil {
		cfg.Descriptors = DefaultDescriptors()
	}
	m := &Manager{
		cfg:   cfg,
		log:   debug.Component("sim"),
		descs: make(map[string]device.Descriptor),
		seed:  cfg.Seed,
		done:  make(chan struct{}),
	}
	for _, d := range cfg.Descriptors {
		if _, dup := m.descs[d.ID]; !dup {
			m.order = append(m.order, d.ID)
		}
		m.descs[d.ID] = d
	}
	return m
}

func (m *Manager) DeviceIDs() ([]string, error) {
	return append([]string(nil), m.order...), nil
}

func (m *Manager) Descriptor(id string) (device.Descriptor, error) {
	d, ok := m.descs[id]
	if !ok {
		return device.Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return d, nil
}

// Open simulates an asynchronous open. The outcome is delivered on events
// after the configured delay.
func (m *Manager) Open(id string, events chan<- device.DeviceEvent) error {
	if _, ok := m.descs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrDeviceClosed
	}
	m.wg.Add(1)
	m.mu.Unlock()
	m.opens.Add(1)

	go func() {
		defer m.wg.Done()
		if !m.sleep(m.cfg.OpenDelay) {
			return
		}
		m.mu.Lock()
		fail := m.failOpen
		m.mu.Unlock()
		if fail {
			m.log.Debug().Str(debug.FieldDevice, id).Msg("open failed (injected)")
			m.send(events, device.DeviceEvent{Kind: device.DeviceError, DeviceID: id, Code: 1})
			return
		}
		dev := newDevice(m, id, events)
		m.mu.Lock()
		m.current = dev
		m.mu.Unlock()
		m.log.Debug().Str(debug.FieldDevice, id).Msg("device opened")
		m.send(events, device.DeviceEvent{Kind: device.DeviceOpened, DeviceID: id, Device: dev})
	}()
	return nil
}

// NewImageReader creates a reader surface. Frames are pushed to images by
// the session that targets it.
func (m *Manager) NewImageReader(size device.Size, format device.Format, maxImages int, images chan<- device.Image) (device.ImageReader, error) {
	if size.IsZero() {
		return nil, fmt.Errorf("sim: reader size must not be zero")
	}
	if images == nil {
		return nil, fmt.Errorf("sim: reader needs an image channel")
	}
	return &Reader{
		id:        "reader-" + uuid.New().String(),
		size:      size,
		format:    format,
		maxImages: maxImages,
		images:    images,
		done:      make(chan struct{}),
	}, nil
}

// SetFailOpen makes subsequent opens report a device error.
func (m *Manager) SetFailOpen(fail bool) {
	m.mu.Lock()
	m.failOpen = fail
	m.mu.Unlock()
}

// SetRejectSessions makes subsequent session configurations fail.
func (m *Manager) SetRejectSessions(reject bool) {
	m.mu.Lock()
	m.reject = reject
	m.mu.Unlock()
}

// SetFailCaptures makes processed requests report a capture failure and
// produce no buffers.
func (m *Manager) SetFailCaptures(fail bool) {
	m.mu.Lock()
	m.failCaps = fail
	m.mu.Unlock()
}

// InjectFault closes the open device and reports kind (disconnected or
// error) on its event channel.
func (m *Manager) InjectFault(kind device.DeviceEventKind) error {
	if kind != device.DeviceDisconnected && kind != device.DeviceError {
		return fmt.Errorf("sim: %s is not a fault", kind)
	}
	m.mu.Lock()
	dev := m.current
	m.mu.Unlock()
	if dev == nil {
		return ErrNotOpen
	}
	m.log.Info().Str(debug.FieldDevice, dev.id).Str("kind", kind.String()).Msg("injecting device fault")
	_ = dev.Close()
	m.send(dev.events, device.DeviceEvent{Kind: kind, DeviceID: dev.id, Code: 4})
	return nil
}

// Stats returns the counters collected so far.
func (m *Manager) Stats() Stats {
	return Stats{
		Opens:          m.opens.Load(),
		Sessions:       m.sessions.Load(),
		StillRequests:  m.stills.Load(),
		PreviewFrames:  m.previews.Load(),
		ImagesRendered: m.rendered.Load(),
	}
}

// Close stops every pending delivery and waits for the backend goroutines.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	dev := m.current
	m.mu.Unlock()

	close(m.done)
	if dev != nil {
		_ = dev.Close()
	}
	m.wg.Wait()
	return nil
}

func (m *Manager) nextSeed() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seed++
	return m.seed
}

func (m *Manager) forget(d *Device) {
	m.mu.Lock()
	if m.current == d {
		m.current = nil
	}
	m.mu.Unlock()
}

// sleep waits d unless the manager is closed first.
func (m *Manager) sleep(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-m.done:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) send(events chan<- device.DeviceEvent, ev device.DeviceEvent) {
	select {
	case events <- ev:
	case <-m.done:
	}
}
