package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when a command is not allowed in the
	// current phase.
	ErrInvalidState = errors.New("session: invalid state")
	// ErrDeviceFault is the failure of every future pending when the
	// device reports a disconnect or an error.
	ErrDeviceFault = errors.New("session: device fault")
	// ErrSessionConfigure is returned when the device rejects a session.
	ErrSessionConfigure = errors.New("session: configuration failed")
	// ErrClosed fails futures still pending at teardown and commands
	// issued after Shutdown.
	ErrClosed = errors.New("session: closed")
	// ErrNoDevice is returned when no eligible device has the wanted facing.
	ErrNoDevice = errors.New("session: no eligible device")
)

// Phase is the lifecycle position of the device and its session.
type Phase int

const (
	PhaseClosed Phase = iota
	PhaseOpening
	PhaseOpen
	PhaseConfiguring
	PhaseReady
	PhasePreviewing
	PhaseCapturing
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseClosed:
		return "closed"
	case PhaseOpening:
		return "opening"
	case PhaseOpen:
		return "open"
	case PhaseConfiguring:
		return "configuring"
	case PhaseReady:
		return "ready"
	case PhasePreviewing:
		return "previewing"
	case PhaseCapturing:
		return "capturing"
	case PhaseClosing:
		return "closing"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// transitions lists the phases reachable from each phase.
var transitions = map[Phase][]Phase{
	PhaseClosed:      {PhaseOpening},
	PhaseOpening:     {PhaseOpen, PhaseClosing},
	PhaseOpen:        {PhaseConfiguring, PhaseClosing},
	PhaseConfiguring: {PhaseReady, PhaseClosing},
	PhaseReady:       {PhasePreviewing, PhaseClosing},
	PhasePreviewing:  {PhaseReady, PhaseCapturing, PhaseClosing},
	PhaseCapturing:   {PhasePreviewing, PhaseClosing},
	PhaseClosing:     {PhaseClosed},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

func invalid(op string, p Phase) error {
	return fmt.Errorf("%s in phase %s: %w", op, p, ErrInvalidState)
}
