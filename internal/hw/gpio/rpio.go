package gpio

import (
	"fmt"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/rs/zerolog"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver is the Raspberry Pi implementation using go-rpio.
type RPiDriver struct {
	log  zerolog.Logger
	pins map[int]rpio.Pin
}

// NewRPiRealDriver maps the GPIO memory. Requires a Raspberry Pi with
// access to /dev/gpiomem or root.
func NewRPiRealDriver() (*RPiDriver, error) {
	log := debug.Component("gpio")
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	log.Info().Msg("GPIO memory mapped (go-rpio)")
	return &RPiDriver{log: log, pins: make(map[int]rpio.Pin)}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	r.log.Trace().Int("pin", pin).Stringer("mode", mode).Msg("setup pin")

	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
	r.pins[pin] = p
	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	p, ok := r.pins[pin]
	if !ok {
		if err := r.SetupPin(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	p, ok := r.pins[pin]
	if !ok {
		if err := r.SetupPin(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}
	if p.Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

// Close puts every used pin back to input, the safe state.
func (r *RPiDriver) Close() error {
	for pin, p := range r.pins {
		r.log.Debug().Int("pin", pin).Msg("resetting pin to input")
		p.Input()
	}
	return rpio.Close()
}
