// Package request builds the preview and still-capture requests submitted
// to a session, and selects output sizes for them.
package request

import (
	"errors"

	"github.com/cjeanneret/stillcam/internal/hw/device"
	"github.com/cjeanneret/stillcam/internal/hw/sensors"
)

// ErrNoSuitableSize is returned when no supported size matches the
// requested bound.
var ErrNoSuitableSize = errors.New("request: no supported size matches the bound")

// OptimalSize returns the first candidate, in device order, whose aspect
// ratio equals maxW/maxH and which fits within the bound. The ratio is
// compared with exact single precision equality, so a size that is only
// approximately proportional never matches.
func OptimalSize(candidates []device.Size, maxW, maxH int) (device.Size, bool) {
	if maxW <= 0 || maxH <= 0 {
		return device.Size{}, false
	}
	ratio := float32(maxW) / float32(maxH)
	for _, s := range candidates {
		if s.Height == 0 {
			continue
		}
		if float32(s.Width)/float32(s.Height) == ratio && s.Width <= maxW && s.Height <= maxH {
			return s, true
		}
	}
	return device.Size{}, false
}

// JPEGOrientation returns the rotation to store in a still image so it is
// upright relative to the device. An unknown reading yields 0.
func JPEGOrientation(desc device.Descriptor, rotation int) int {
	if rotation == sensors.OrientationUnknown {
		return 0
	}
	r := (rotation + 45) / 90 * 90
	if desc.Facing == device.FacingFront {
		r = -r
	}
	return (desc.SensorOrientation + r + 360) % 360
}

// DisplayRotation returns the rotation to apply to preview buffers for a
// display turned by displayDegrees. Front devices are mirrored.
func DisplayRotation(desc device.Descriptor, displayDegrees int) int {
	switch displayDegrees {
	case 0, 90, 180, 270:
	default:
		displayDegrees = 0
	}
	if desc.Facing == device.FacingFront {
		return (360 - (desc.SensorOrientation+displayDegrees)%360) % 360
	}
	return (desc.SensorOrientation - displayDegrees + 360) % 360
}
