// Package gpio drives the pins used for capture feedback.
package gpio

import (
	"sync"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/rs/zerolog"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

func (m PinMode) String() string {
	if m == Output {
		return "output"
	}
	return "input"
}

// Driver defines the abstract interface for controlling GPIOs, so a
// Raspberry Pi implementation and a mock are interchangeable.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// MockDriver keeps pin levels in memory and logs every access. Used off
// the Pi and in the simulated setup.
type MockDriver struct {
	log    zerolog.Logger
	mu     sync.Mutex
	levels map[int]Level
}

// NewDriver returns a MockDriver when mock is true, the go-rpio driver
// otherwise.
func NewDriver(mock bool) (Driver, error) {
	if mock {
		log := debug.Component("gpio")
		log.Info().Msg("using mock GPIO driver")
		return NewMockDriver(), nil
	}
	return NewRPiRealDriver()
}

// NewMockDriver returns an in-memory driver.
func NewMockDriver() *MockDriver {
	return &MockDriver{log: debug.Component("gpio"), levels: make(map[int]Level)}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	m.log.Trace().Int("pin", pin).Stringer("mode", mode).Msg("setup pin")
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	m.log.Trace().Int("pin", pin).Stringer("level", level).Msg("write pin")
	m.mu.Lock()
	m.levels[pin] = level
	m.mu.Unlock()
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

func (m *MockDriver) Close() error {
	m.log.Trace().Msg("close (mock)")
	return nil
}
