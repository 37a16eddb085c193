package session

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/future"
	"github.com/cjeanneret/stillcam/internal/hw/device"
	"github.com/cjeanneret/stillcam/internal/logic/request"
	"github.com/cjeanneret/stillcam/internal/metrics"
)

// Open opens the device registered for facing.
func (c *Controller) Open(facing device.Facing) *future.Future[struct{}] {
	return c.call("open", func(s *state) error {
		desc, ok := c.dir.ByFacing(facing)
		if !ok {
			return fmt.Errorf("open %s: %w", facing, ErrNoDevice)
		}
		return c.open(s, desc)
	})
}

// OpenID opens the device with the given id.
func (c *Controller) OpenID(id string) *future.Future[struct{}] {
	return c.call("open", func(s *state) error {
		desc, ok := c.dir.ByID(id)
		if !ok {
			return fmt.Errorf("open %s: %w", id, ErrNoDevice)
		}
		return c.open(s, desc)
	})
}

// SetPreviewSize selects the display and raw-frame size bounded by
// maxW x maxH. It waits for the display surface.
func (c *Controller) SetPreviewSize(maxW, maxH int) *future.Future[struct{}] {
	return c.call("set-preview-size", func(s *state) error {
		return c.setPreviewSize(s, maxW, maxH)
	})
}

// SetImageSize selects the still size bounded by maxW x maxH and creates
// the JPEG reader.
func (c *Controller) SetImageSize(maxW, maxH int) *future.Future[struct{}] {
	return c.call("set-image-size", func(s *state) error {
		return c.setImageSize(s, maxW, maxH)
	})
}

// Configure creates the session over the prepared outputs.
func (c *Controller) Configure() *future.Future[struct{}] {
	return c.call("configure", c.configure)
}

// StartPreview starts the repeating preview request.
func (c *Controller) StartPreview() *future.Future[struct{}] {
	return c.call("start-preview", c.startPreview)
}

// StopPreview stops every repeating request.
func (c *Controller) StopPreview() *future.Future[struct{}] {
	return c.call("stop-preview", func(s *state) error {
		if s.phase != PhasePreviewing {
			return invalid("stop preview", s.phase)
		}
		if err := s.sess.StopRepeating(); err != nil {
			return fmt.Errorf("stop repeating: %w", err)
		}
		s.continuous = false
		return c.setPhase(s, PhaseReady)
	})
}

// Capture submits one still request.
func (c *Controller) Capture() *future.Future[struct{}] {
	return c.call("capture", func(s *state) error {
		return c.capture(s, "single", func() error {
			return s.sess.Capture(s.builder.Still(), c.captureEvents)
		})
	})
}

// CaptureBurst submits n copies of the still request as one atomic batch.
func (c *Controller) CaptureBurst(n int) *future.Future[struct{}] {
	return c.call("capture-burst", func(s *state) error {
		if n <= 0 {
			return fmt.Errorf("burst of %d: %w", n, ErrInvalidState)
		}
		return c.capture(s, "burst", func() error {
			reqs := request.Burst(s.builder.Still(), n)
			if err := s.sess.CaptureBurst(reqs, c.captureEvents); err != nil {
				return err
			}
			metrics.CapturesTotal.WithLabelValues("burst").Add(float64(n - 1))
			return nil
		})
	})
}

// StartContinuous repeats the still request until StopContinuous.
func (c *Controller) StartContinuous() *future.Future[struct{}] {
	return c.call("start-continuous", func(s *state) error {
		return c.capture(s, "continuous", func() error {
			if err := s.sess.SetRepeating(s.builder.Still(), c.captureEvents); err != nil {
				return err
			}
			s.continuous = true
			return nil
		})
	})
}

// StopContinuous goes back to the plain preview request.
func (c *Controller) StopContinuous() *future.Future[struct{}] {
	return c.call("stop-continuous", func(s *state) error {
		if s.phase != PhasePreviewing {
			return invalid("stop continuous", s.phase)
		}
		if !s.continuous {
			return nil
		}
		if err := s.sess.SetRepeating(s.builder.Preview(), c.captureEvents); err != nil {
			return fmt.Errorf("restart preview: %w", err)
		}
		s.continuous = false
		return nil
	})
}

// Close releases the session, the device and the readers. Closing a
// closed controller does nothing.
func (c *Controller) Close() *future.Future[struct{}] {
	return c.call("close", func(s *state) error {
		c.teardown(s, ErrClosed)
		return nil
	})
}

// Pause is Close, named after the owner going to the background.
func (c *Controller) Pause() *future.Future[struct{}] {
	return c.Close()
}

// Resume opens the default device and brings it up to previewing.
func (c *Controller) Resume() *future.Future[struct{}] {
	return c.call("resume", func(s *state) error {
		switch s.phase {
		case PhasePreviewing:
			return nil
		case PhaseClosed:
		default:
			return invalid("resume", s.phase)
		}
		desc, ok := c.dir.ByFacing(c.cfg.DefaultFacing)
		if !ok {
			if desc, ok = c.dir.Default(); !ok {
				return fmt.Errorf("resume: %w", ErrNoDevice)
			}
		}
		return c.bringUp(s, desc)
	})
}

// Switch closes the current device and brings up the one facing the other
// way. Nothing happens when there is no such device.
func (c *Controller) Switch() *future.Future[struct{}] {
	return c.call("switch", func(s *state) error {
		cur := s.desc.ID
		if s.phase == PhaseClosed {
			d, ok := c.dir.ByFacing(c.cfg.DefaultFacing)
			if !ok {
				d, _ = c.dir.Default()
			}
			cur = d.ID
		}
		other, ok := c.dir.Other(cur)
		if !ok || other.ID == cur {
			c.log.Info().Str(debug.FieldDevice, cur).Msg("no other device to switch to")
			return nil
		}
		c.teardown(s, ErrClosed)
		return c.bringUp(s, other)
	})
}

func (c *Controller) bringUp(s *state, desc device.Descriptor) error {
	steps := []func() error{
		func() error { return c.open(s, desc) },
		func() error { return c.setPreviewSize(s, c.cfg.PreviewMax.Width, c.cfg.PreviewMax.Height) },
		func() error { return c.setImageSize(s, c.cfg.ImageMax.Width, c.cfg.ImageMax.Height) },
		func() error { return c.configure(s) },
		func() error { return c.startPreview(s) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			c.teardown(s, ErrClosed)
			return err
		}
	}
	return nil
}

func (c *Controller) open(s *state, desc device.Descriptor) error {
	if s.phase != PhaseClosed {
		return invalid("open", s.phase)
	}
	if err := c.setPhase(s, PhaseOpening); err != nil {
		return err
	}
	s.gen++
	s.desc = desc
	s.wait = pending{
		gen:        s.gen,
		deviceID:   desc.ID,
		desc:       desc,
		device:     future.New[device.Device](),
		descriptor: future.New[device.Descriptor](),
	}
	if !c.bind(s.wait) {
		c.teardown(s, ErrClosed)
		return fmt.Errorf("open %s: %w", desc.ID, ErrClosed)
	}

	c.log.Info().Str(debug.FieldDevice, desc.ID).Str("facing", desc.Facing.String()).Msg("opening device")
	if err := c.mgr.Open(desc.ID, c.deviceEvents); err != nil {
		c.teardown(s, ErrClosed)
		return fmt.Errorf("open %s: %w", desc.ID, err)
	}

	dev, err := s.wait.device.GetTimeout(c.cfg.CallbackTimeout)
	if err == nil {
		_, err = s.wait.descriptor.GetTimeout(c.cfg.CallbackTimeout)
	}
	if err != nil {
		s.wait.device.CancelCause(false, err)
		c.teardown(s, err)
		return fmt.Errorf("open %s: %w", desc.ID, err)
	}
	s.dev = dev
	return c.setPhase(s, PhaseOpen)
}

func (c *Controller) setPreviewSize(s *state, maxW, maxH int) error {
	if s.phase != PhaseOpen {
		return invalid("set preview size", s.phase)
	}
	size, ok := request.OptimalSize(s.desc.Sizes(device.SurfaceDisplay), maxW, maxH)
	if !ok {
		return fmt.Errorf("preview %dx%d: %w", maxW, maxH, request.ErrNoSuitableSize)
	}

	display, err := c.displayFuture().GetTimeout(c.cfg.CallbackTimeout)
	if err != nil {
		return fmt.Errorf("wait for display surface: %w", err)
	}
	display.SetBufferSize(size)
	s.display = display

	if s.raw != nil {
		_ = s.raw.Close()
		s.raw = nil
	}
	if s.desc.SupportsFormat(device.FormatYUV420) {
		raw, err := c.mgr.NewImageReader(size, device.FormatYUV420, c.cfg.RawMaxImages, c.rawFrames)
		if err != nil {
			return fmt.Errorf("create raw reader: %w", err)
		}
		s.raw = raw
	}
	s.previewSize = size
	c.log.Debug().Str(debug.FieldDevice, s.desc.ID).Stringer("size", size).Bool("raw", s.raw != nil).Msg("preview size set")
	return nil
}

func (c *Controller) setImageSize(s *state, maxW, maxH int) error {
	if s.phase != PhaseOpen {
		return invalid("set image size", s.phase)
	}
	size, ok := request.OptimalSize(s.desc.Sizes(device.SurfaceReader), maxW, maxH)
	if !ok {
		return fmt.Errorf("image %dx%d: %w", maxW, maxH, request.ErrNoSuitableSize)
	}
	if !s.desc.SupportsFormat(device.FormatJPEG) {
		return fmt.Errorf("device %s has no jpeg output: %w", s.desc.ID, request.ErrNoSuitableSize)
	}

	if s.jpeg != nil {
		_ = s.jpeg.Close()
		s.jpeg = nil
	}
	reader, err := c.mgr.NewImageReader(size, device.FormatJPEG, c.cfg.JPEGMaxImages, c.images)
	if err != nil {
		return fmt.Errorf("create jpeg reader: %w", err)
	}
	s.jpeg = reader
	c.correlator.Expect(reader.ID())

	s.thumbnail = nil
	if thumb, ok := request.ThumbnailSize(s.desc.ThumbnailSizes, maxW, maxH); ok {
		s.thumbnail = &thumb
	}
	s.imageSize = size
	c.log.Debug().Str(debug.FieldDevice, s.desc.ID).Stringer("size", size).Msg("image size set")
	return nil
}

func (c *Controller) configure(s *state) error {
	if s.phase != PhaseOpen {
		return invalid("configure", s.phase)
	}
	var outputs []device.Surface
	for _, o := range []device.Surface{s.display, s.raw, s.jpeg} {
		if o != nil {
			outputs = append(outputs, o)
		}
	}
	if len(outputs) == 0 {
		return fmt.Errorf("configure: no output surface: %w", ErrInvalidState)
	}
	if err := c.setPhase(s, PhaseConfiguring); err != nil {
		return err
	}

	s.wait.session = future.New[device.Session]()
	if !c.bind(s.wait) {
		c.teardown(s, ErrClosed)
		return fmt.Errorf("configure: %w", ErrClosed)
	}
	if err := s.dev.CreateSession(outputs, c.sessionEvents); err != nil {
		cause := fmt.Errorf("%w: %w", ErrSessionConfigure, err)
		c.teardown(s, cause)
		return cause
	}

	sess, err := s.wait.session.GetTimeout(c.cfg.CallbackTimeout)
	if err != nil {
		s.wait.session.CancelCause(false, err)
		c.teardown(s, err)
		return fmt.Errorf("configure: %w", err)
	}
	s.sess = sess
	s.builder = &request.Builder{
		Descriptor:  s.desc,
		Display:     s.display,
		Quality:     c.cfg.JPEGQuality,
		Thumbnail:   s.thumbnail,
		Orientation: c.orientation,
		Location:    c.location,
	}
	if s.raw != nil {
		s.builder.Raw = s.raw
	}
	if s.jpeg != nil {
		s.builder.JPEG = s.jpeg
	}
	c.log.Info().Str(debug.FieldDevice, s.desc.ID).Str(debug.FieldSession, sess.ID()).Int("outputs", len(outputs)).Msg("session configured")
	return c.setPhase(s, PhaseReady)
}

func (c *Controller) startPreview(s *state) error {
	if s.phase != PhaseReady {
		return invalid("start preview", s.phase)
	}
	if err := s.sess.SetRepeating(s.builder.Preview(), c.captureEvents); err != nil {
		return fmt.Errorf("start repeating: %w", err)
	}
	return c.setPhase(s, PhasePreviewing)
}

// capture runs submit inside the Previewing -> Capturing -> Previewing
// window.
func (c *Controller) capture(s *state, mode string, submit func() error) error {
	if s.phase != PhasePreviewing {
		return invalid(mode+" capture", s.phase)
	}
	if s.jpeg == nil {
		return fmt.Errorf("%s capture: no jpeg output: %w", mode, ErrInvalidState)
	}
	if err := c.setPhase(s, PhaseCapturing); err != nil {
		return err
	}
	err := submit()
	if perr := c.setPhase(s, PhasePreviewing); perr != nil && err == nil {
		err = perr
	}
	if err != nil {
		return fmt.Errorf("%s capture: %w", mode, err)
	}
	metrics.CapturesTotal.WithLabelValues(mode).Inc()
	return nil
}

// teardown releases everything of the current generation: session before
// device, then the readers. Pending futures fail with cause.
func (c *Controller) teardown(s *state, cause error) {
	if s.phase == PhaseClosed {
		return
	}
	if err := c.setPhase(s, PhaseClosing); err != nil {
		c.log.Error().Err(err).Msg("teardown")
	}
	if cause == nil {
		cause = ErrClosed
	}
	c.failPending(s.wait, cause)
	c.bind(pending{gen: s.gen})
	s.wait = pending{}

	if s.sess != nil {
		if err := s.sess.Close(); err != nil {
			c.log.Warn().Err(err).Msg("close session")
		}
		s.sess = nil
	}
	if s.dev != nil {
		if err := s.dev.Close(); err != nil {
			c.log.Warn().Err(err).Msg("close device")
		}
		s.dev = nil
	}
	if s.raw != nil {
		_ = s.raw.Close()
		s.raw = nil
	}
	if s.jpeg != nil {
		_ = s.jpeg.Close()
		s.jpeg = nil
	}
	c.correlator.Expect("")
	if n := c.pairing.Drain(); n > 0 {
		c.log.Debug().Int("dropped", n).Msg("stale capture metadata discarded")
	}

	s.display = nil
	s.builder = nil
	s.thumbnail = nil
	s.continuous = false
	s.previewSize = device.Size{}
	s.imageSize = device.Size{}

	ev := c.log.Info()
	if !errors.Is(cause, ErrClosed) {
		ev = c.log.Warn().Err(cause)
	}
	ev.Str(debug.FieldDevice, s.desc.ID).Msg("device released")
	if err := c.setPhase(s, PhaseClosed); err != nil {
		c.log.Error().Err(err).Msg("teardown")
	}
}
