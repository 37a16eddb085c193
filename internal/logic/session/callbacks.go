package session

import (
	"context"
	"fmt"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/hw/device"
	"github.com/cjeanneret/stillcam/internal/metrics"
)

// callbacks is the only reader of the device event channels.
func (c *Controller) callbacks(ctx context.Context) {
	var cur pending
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-c.bindings:
			cur = p
		case ev := <-c.deviceEvents:
			c.onDevice(cur, ev)
		case ev := <-c.sessionEvents:
			c.onSession(cur, ev)
		case ev := <-c.captureEvents:
			c.onCapture(ev)
		}
	}
}

func (c *Controller) onDevice(cur pending, ev device.DeviceEvent) {
	log := c.log.With().Str(debug.FieldDevice, ev.DeviceID).Str("event", ev.Kind.String()).Logger()
	current := cur.deviceID != "" && cur.deviceID == ev.DeviceID

	switch ev.Kind {
	case device.DeviceOpened:
		if current && cur.device != nil && cur.device.Set(ev.Device) {
			if cur.descriptor != nil {
				cur.descriptor.Set(cur.desc)
			}
			log.Debug().Msg("device opened")
			return
		}
		log.Warn().Msg("nobody waits for this device anymore, closing it")
		if ev.Device != nil {
			_ = ev.Device.Close()
		}

	case device.DeviceDisconnected, device.DeviceError:
		if !current {
			log.Debug().Msg("ignoring fault of a released device")
			return
		}
		metrics.DeviceFaultsTotal.WithLabelValues(ev.Kind.String()).Inc()
		cause := fmt.Errorf("%w: device %s %s (code %d)", ErrDeviceFault, ev.DeviceID, ev.Kind, ev.Code)
		log.Error().Int("code", ev.Code).Msg("device fault")
		c.failPending(cur, cause)
		c.forceTeardown(cur.gen, cause)

	case device.DeviceClosed:
		log.Debug().Msg("device closed")
	}
}

func (c *Controller) onSession(cur pending, ev device.SessionEvent) {
	current := cur.deviceID != "" && cur.deviceID == ev.DeviceID
	switch ev.Kind {
	case device.SessionConfigured:
		if current && cur.session != nil && cur.session.Set(ev.Session) {
			return
		}
		c.log.Warn().Str(debug.FieldDevice, ev.DeviceID).Msg("nobody waits for this session anymore, closing it")
		if ev.Session != nil {
			_ = ev.Session.Close()
		}

	case device.SessionConfigureFailed:
		if !current {
			return
		}
		metrics.DeviceFaultsTotal.WithLabelValues("configure_failed").Inc()
		cause := fmt.Errorf("%w: device %s rejected the outputs", ErrSessionConfigure, ev.DeviceID)
		if cur.session != nil {
			cur.session.Fail(cause)
		}
		c.forceTeardown(cur.gen, cause)

	case device.SessionClosed:
		c.log.Debug().Str(debug.FieldDevice, ev.DeviceID).Msg("session closed")
	}
}

func (c *Controller) onCapture(ev device.CaptureEvent) {
	if ev.Result.Template != device.TemplateStillCapture {
		return
	}
	switch ev.Kind {
	case device.CaptureStarted:
		if c.shutter != nil {
			c.shutter.Trigger()
		}
	case device.CaptureCompleted:
		c.pairing.Put(ev.Result)
	case device.CaptureFailed:
		metrics.DeviceFaultsTotal.WithLabelValues("capture_failed").Inc()
		c.log.Warn().
			Str(debug.FieldRequest, ev.Result.RequestID).
			Int64(debug.FieldFrame, ev.Result.FrameNumber).
			Msg("still capture failed")
	}
}

func (c *Controller) failPending(p pending, cause error) {
	if p.device != nil {
		p.device.Fail(cause)
	}
	if p.descriptor != nil {
		p.descriptor.Fail(cause)
	}
	if p.session != nil {
		p.session.Fail(cause)
	}
}

// forceTeardown enqueues the release of generation gen. It is a no-op when
// that generation was already released.
func (c *Controller) forceTeardown(gen uint64, cause error) {
	err := c.conf.Do("forced-teardown", func(s *state) {
		if s.gen != gen || s.phase == PhaseClosed {
			return
		}
		c.teardown(s, cause)
		c.publish(s, cause)
	})
	if err != nil {
		c.log.Debug().Err(err).Msg("dispatcher gone, teardown skipped")
	}
}
