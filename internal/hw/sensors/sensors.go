// Package sensors provides the device orientation and location readings
// used when building still-capture requests.
package sensors

import (
	"sync"
	"time"

	"github.com/cjeanneret/stillcam/internal/hw/device"
)

// OrientationUnknown is returned when the device is lying flat or no
// reading is available yet.
const OrientationUnknown = -1

// Orientation reports the current device rotation in degrees (0..359).
type Orientation interface {
	Rotation() int
}

// Location reports the last known position without blocking.
type Location interface {
	LastKnown() (device.Location, bool)
}

// FixedOrientation always returns the same rotation.
type FixedOrientation int

func (o FixedOrientation) Rotation() int { return int(o) }

// Tracker holds the latest readings pushed by an external source. It
// satisfies both Orientation and Location.
type Tracker struct {
	mu       sync.RWMutex
	rotation int
	loc      device.Location
	hasFix   bool
}

// NewTracker returns a Tracker with an unknown orientation and no fix.
func NewTracker() *Tracker {
	return &Tracker{rotation: OrientationUnknown}
}

// SetRotation records a new orientation reading. Negative values mean
// unknown.
func (t *Tracker) SetRotation(deg int) {
	if deg < 0 {
		deg = OrientationUnknown
	} else {
		deg %= 360
	}
	t.mu.Lock()
	t.rotation = deg
	t.mu.Unlock()
}

// SetLocation records a new fix.
func (t *Tracker) SetLocation(lat, lon float64) {
	t.mu.Lock()
	t.loc = device.Location{Latitude: lat, Longitude: lon, Time: time.Now()}
	t.hasFix = true
	t.mu.Unlock()
}

// ClearLocation forgets the current fix.
func (t *Tracker) ClearLocation() {
	t.mu.Lock()
	t.hasFix = false
	t.mu.Unlock()
}

func (t *Tracker) Rotation() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rotation
}

func (t *Tracker) LastKnown() (device.Location, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loc, t.hasFix
}
