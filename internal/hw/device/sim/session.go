package sim

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/hw/device"
	"github.com/google/uuid"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Rendered frames are scaled down to this width; Image.Width and Height
// still report the reader size.
const renderWidth = 160

type job struct {
	req    device.Request
	events chan<- device.CaptureEvent
}

type captureItem struct {
	events chan<- device.CaptureEvent
	ev     device.CaptureEvent
}

type bufferItem struct {
	reader *Reader
	img    device.Image
}

// Session implements device.Session. Requests are processed one at a time
// by a worker goroutine. Capture events and image buffers are emitted by two
// independent goroutines with random delays, so the two streams interleave
// arbitrarily while each keeps its own order.
type Session struct {
	dev     *Device
	id      string
	outputs []device.Surface

	mu        sync.Mutex
	pending   []job
	repeating *job
	closed    bool
	frame     int64

	wake  chan struct{}
	meta  chan captureItem
	bufs  chan bufferItem
	done  chan struct{}
	wg    sync.WaitGroup
}

func newSession(d *Device, outputs []device.Surface) *Session {
	s := &Session{
		dev:     d,
		id:      uuid.New().String(),
		outputs: outputs,
		wake:    make(chan struct{}, 1),
		meta:    make(chan captureItem, 256),
		bufs:    make(chan bufferItem, 256),
		done:    make(chan struct{}),
	}
	jitter := d.m.cfg.Jitter
	s.wg.Add(3)
	go s.work()
	go s.emitCaptures(rand.New(rand.NewPCG(d.m.nextSeed(), 1)), jitter)
	go s.emitBuffers(rand.New(rand.NewPCG(d.m.nextSeed(), 2)), jitter)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Outputs() []device.Surface {
	return append([]device.Surface(nil), s.outputs...)
}

func (s *Session) validate(req device.Request) error {
	if len(req.Targets) == 0 {
		return fmt.Errorf("sim: request %s has no target", req.ID)
	}
	for _, t := range req.Targets {
		bound := false
		for _, o := range s.outputs {
			if o.ID() == t.ID() {
				bound = true
				break
			}
		}
		if !bound {
			return fmt.Errorf("sim: request target %s is not a session output", t.ID())
		}
	}
	return nil
}

func (s *Session) SetRepeating(req device.Request, events chan<- device.CaptureEvent) error {
	if err := s.validate(req); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.repeating = &job{req: req, events: events}
	s.signal()
	return nil
}

func (s *Session) StopRepeating() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.repeating = nil
	return nil
}

func (s *Session) Capture(req device.Request, events chan<- device.CaptureEvent) error {
	return s.CaptureBurst([]device.Request{req}, events)
}

// CaptureBurst queues every request or none of them.
func (s *Session) CaptureBurst(reqs []device.Request, events chan<- device.CaptureEvent) error {
	if len(reqs) == 0 {
		return fmt.Errorf("sim: empty burst")
	}
	if limit := s.dev.m.cfg.MaxBurst; limit > 0 && len(reqs) > limit {
		return fmt.Errorf("%w: %d > %d", ErrBurstTooLarge, len(reqs), limit)
	}
	for _, r := range reqs {
		if err := s.validate(r); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	for _, r := range reqs {
		s.pending = append(s.pending, job{req: r, events: events})
	}
	s.signal()
	return nil
}

// Close aborts queued requests and undelivered events, then waits for the
// session goroutines.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = nil
	s.repeating = nil
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) work() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.dev.m.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if len(s.pending) > 0 {
			j := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			s.process(j)
			continue
		}
		var tick <-chan time.Time
		if s.repeating != nil {
			tick = ticker.C
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-tick:
			s.mu.Lock()
			rep := s.repeating
			s.mu.Unlock()
			if rep != nil {
				s.process(*rep)
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) process(j job) {
	m := s.dev.m
	s.frame++
	now := time.Now()
	res := device.CaptureResult{
		RequestID:   j.req.ID,
		Template:    j.req.Template,
		FrameNumber: s.frame,
		Timestamp:   now,
	}
	if j.req.JPEG != nil {
		res.JPEGOrientation = j.req.JPEG.Orientation
		if j.req.JPEG.Location != nil {
			loc := *j.req.JPEG.Location
			res.Location = &loc
		}
	}
	if j.req.Template == device.TemplateStillCapture {
		m.stills.Add(1)
	} else {
		m.previews.Add(1)
	}

	if !s.queueCapture(j.events, device.CaptureEvent{Kind: device.CaptureStarted, Result: res}) {
		return
	}

	m.mu.Lock()
	fail := m.failCaps
	m.mu.Unlock()
	if fail {
		s.queueCapture(j.events, device.CaptureEvent{Kind: device.CaptureFailed, Result: res})
		return
	}

	for _, t := range j.req.Targets {
		switch out := t.(type) {
		case *Display:
			out.frames.Add(1)
		case *Reader:
			img := device.Image{
				Width:     out.size.Width,
				Height:    out.size.Height,
				Format:    out.format,
				Timestamp: now,
				ReaderID:  out.id,
			}
			quality := jpeg.DefaultQuality
			if j.req.JPEG != nil && j.req.JPEG.Quality > 0 {
				quality = j.req.JPEG.Quality
			}
			data, err := render(out.size, out.format, quality, s.frame)
			if err != nil {
				m.log.Warn().Err(err).Str(debug.FieldSession, s.id).Msg("render failed")
				continue
			}
			img.Data = data
			m.rendered.Add(1)
			select {
			case s.bufs <- bufferItem{reader: out, img: img}:
			case <-s.done:
				return
			}
		}
	}
	s.queueCapture(j.events, device.CaptureEvent{Kind: device.CaptureCompleted, Result: res})
}

func (s *Session) queueCapture(events chan<- device.CaptureEvent, ev device.CaptureEvent) bool {
	if events == nil {
		return true
	}
	select {
	case s.meta <- captureItem{events: events, ev: ev}:
		return true
	case <-s.done:
		return false
	}
}

// render produces the encoded bytes of one frame, stamped with its frame
// number.
func render(size device.Size, format device.Format, quality int, frame int64) ([]byte, error) {
	w := renderWidth
	h := size.Height * renderWidth / size.Width
	if size.Width < renderWidth {
		w, h = size.Width, size.Height
	}
	if h <= 0 {
		h = 1
	}
	if format != device.FormatJPEG {
		return make([]byte, w*h*3/2), nil
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(4), Y: fixed.I(14)},
	}
	d.DrawString(fmt.Sprintf("#%d", frame))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Session) emitCaptures(rng *rand.Rand, jitter time.Duration) {
	defer s.wg.Done()
	for {
		select {
		case it := <-s.meta:
			if !s.pause(rng, jitter) {
				return
			}
			select {
			case it.events <- it.ev:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) emitBuffers(rng *rand.Rand, jitter time.Duration) {
	defer s.wg.Done()
	for {
		select {
		case it := <-s.bufs:
			if !s.pause(rng, jitter) {
				return
			}
			it.reader.deliver(it.img, s.done)
		case <-s.done:
			return
		}
	}
}

func (s *Session) pause(rng *rand.Rand, jitter time.Duration) bool {
	if jitter <= 0 {
		return true
	}
	t := time.NewTimer(time.Duration(rng.Int64N(int64(jitter))))
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.done:
		return false
	}
}
