package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/hw/device"
)

// Device implements device.Device.
type Device struct {
	m      *Manager
	id     string
	events chan<- device.DeviceEvent

	mu      sync.Mutex
	closed  bool
	session *Session
	done    chan struct{}
}

func newDevice(m *Manager, id string, events chan<- device.DeviceEvent) *Device {
	return &Device{m: m, id: id, events: events, done: make(chan struct{})}
}

func (d *Device) ID() string { return d.id }

// CreateSession replaces any previous session of this device. The result
// is delivered on events.
func (d *Device) CreateSession(outputs []device.Surface, events chan<- device.SessionEvent) error {
	if len(outputs) == 0 {
		return fmt.Errorf("sim: session needs at least one output")
	}
	for _, o := range outputs {
		if o == nil {
			return fmt.Errorf("sim: nil output surface")
		}
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDeviceClosed
	}
	prev := d.session
	d.session = nil
	d.m.wg.Add(1)
	d.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	outs := append([]device.Surface(nil), outputs...)
	go func() {
		defer d.m.wg.Done()
		if !d.m.sleep(d.m.cfg.ConfigureDelay) {
			return
		}
		d.m.mu.Lock()
		reject := d.m.reject
		d.m.mu.Unlock()

		if reject {
			d.m.log.Debug().Str(debug.FieldDevice, d.id).Msg("session rejected (injected)")
			d.sendSession(events, device.SessionEvent{Kind: device.SessionConfigureFailed, DeviceID: d.id})
			return
		}

		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return
		}
		s := newSession(d, outs)
		d.session = s
		d.mu.Unlock()
		d.m.sessions.Add(1)
		d.sendSession(events, device.SessionEvent{Kind: device.SessionConfigured, DeviceID: d.id, Session: s})
	}()
	return nil
}

func (d *Device) sendSession(events chan<- device.SessionEvent, ev device.SessionEvent) {
	select {
	case events <- ev:
	case <-d.done:
	case <-d.m.done:
	}
}

// Close releases the device and its session. No event is delivered for a
// requested close.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	s := d.session
	d.session = nil
	close(d.done)
	d.mu.Unlock()

	if s != nil {
		_ = s.Close()
	}
	d.m.forget(d)
	d.m.log.Debug().Str(debug.FieldDevice, d.id).Msg("device closed")
	return nil
}

// Reader implements device.ImageReader.
type Reader struct {
	id        string
	size      device.Size
	format    device.Format
	maxImages int
	images    chan<- device.Image

	once   sync.Once
	done   chan struct{}
	closed atomic.Bool
}

func (r *Reader) ID() string               { return r.id }
func (r *Reader) Kind() device.SurfaceKind { return device.SurfaceReader }
func (r *Reader) Size() device.Size        { return r.size }
func (r *Reader) Format() device.Format    { return r.format }

// MaxImages returns the buffer count requested at creation.
func (r *Reader) MaxImages() int { return r.maxImages }

// Closed reports whether Close was called.
func (r *Reader) Closed() bool { return r.closed.Load() }

func (r *Reader) Close() error {
	r.once.Do(func() {
		r.closed.Store(true)
		close(r.done)
	})
	return nil
}

func (r *Reader) deliver(img device.Image, abort <-chan struct{}) {
	select {
	case r.images <- img:
	case <-r.done:
	case <-abort:
	}
}

// Display is a drawable surface that only counts the frames drawn to it.
type Display struct {
	id     string
	mu     sync.Mutex
	size   device.Size
	frames atomic.Int64
}

// NewDisplay returns a display surface named id.
func NewDisplay(id string) *Display {
	return &Display{id: id}
}

func (s *Display) ID() string               { return s.id }
func (s *Display) Kind() device.SurfaceKind { return device.SurfaceDisplay }

func (s *Display) Size() device.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Display) SetBufferSize(size device.Size) {
	s.mu.Lock()
	s.size = size
	s.mu.Unlock()
}

// Frames returns the number of frames drawn so far.
func (s *Display) Frames() int64 { return s.frames.Load() }
