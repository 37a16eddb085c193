// Package shutter gives physical feedback when a still capture starts by
// pulsing an indicator line (LED or buzzer) wired to a GPIO pin.
package shutter

import (
	"time"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/dispatch"
	"github.com/cjeanneret/stillcam/internal/hw/gpio"
	"github.com/rs/zerolog"
)

// Indicator pulses one pin per Trigger. Pulses run on their own queue so
// Trigger never blocks the caller.
//
// Sequence per pulse:
// 1. pin to the active level
// 2. hold for the pulse duration
// 3. pin back to the idle level
type Indicator struct {
	gpio      gpio.Driver
	pin       int
	pulse     time.Duration
	activeLow bool
	queue     *dispatch.Queue
	log       zerolog.Logger
}

// NewIndicator configures pin as an output at its idle level.
func NewIndicator(g gpio.Driver, pin int, pulse time.Duration, activeLow bool) *Indicator {
	ind := &Indicator{
		gpio:      g,
		pin:       pin,
		pulse:     pulse,
		activeLow: activeLow,
		queue:     dispatch.NewQueue("shutter"),
		log:       debug.Component("shutter"),
	}
	_ = g.SetupPin(pin, gpio.Output)
	_ = g.WritePin(pin, ind.idle())
	return ind
}

func (i *Indicator) idle() gpio.Level {
	if i.activeLow {
		return gpio.High
	}
	return gpio.Low
}

// Trigger schedules one pulse.
func (i *Indicator) Trigger() {
	if err := i.queue.Execute("pulse", i.fire); err != nil {
		i.log.Debug().Err(err).Msg("indicator closed, pulse skipped")
	}
}

// Pulse drives one pulse synchronously.
func (i *Indicator) Pulse() error {
	return i.run()
}

func (i *Indicator) fire() {
	if err := i.run(); err != nil {
		i.log.Warn().Err(err).Int("pin", i.pin).Msg("indicator pulse failed")
	}
}

func (i *Indicator) run() error {
	i.log.Trace().Int("pin", i.pin).Dur("pulse", i.pulse).Msg("pulse")
	if err := i.gpio.WritePin(i.pin, !i.idle()); err != nil {
		return err
	}
	time.Sleep(i.pulse)
	return i.gpio.WritePin(i.pin, i.idle())
}

// Close waits for scheduled pulses and leaves the pin idle.
func (i *Indicator) Close() error {
	i.queue.Close()
	return i.gpio.WritePin(i.pin, i.idle())
}
