package request

import (
	"github.com/cjeanneret/stillcam/internal/hw/device"
	"github.com/cjeanneret/stillcam/internal/hw/sensors"
	"github.com/google/uuid"
)

// DefaultQuality is the JPEG quality of still requests.
const DefaultQuality = 100

// Builder assembles requests for one configured session. A nil Raw reader
// means the device has no raw preview stream.
type Builder struct {
	Descriptor device.Descriptor
	Display    device.Surface
	Raw        device.Surface
	JPEG       device.Surface
	Quality    int
	Thumbnail  *device.Size

	Orientation sensors.Orientation
	Location    sensors.Location
}

func (b *Builder) previewTargets() []device.Surface {
	targets := make([]device.Surface, 0, 3)
	if b.Display != nil {
		targets = append(targets, b.Display)
	}
	if b.Raw != nil {
		targets = append(targets, b.Raw)
	}
	return targets
}

// Preview returns the repeating preview request.
func (b *Builder) Preview() device.Request {
	return device.Request{
		ID:       uuid.New().String(),
		Template: device.TemplatePreview,
		Targets:  b.previewTargets(),
	}
}

// Still returns a still-capture request. The location is read without
// blocking and omitted when no fix is known.
func (b *Builder) Still() device.Request {
	rotation := sensors.OrientationUnknown
	if b.Orientation != nil {
		rotation = b.Orientation.Rotation()
	}
	var loc *device.Location
	if b.Location != nil {
		if l, ok := b.Location.LastKnown(); ok {
			loc = &l
		}
	}
	quality := b.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	targets := b.previewTargets()
	if b.JPEG != nil {
		targets = append(targets, b.JPEG)
	}
	var thumb *device.Size
	if b.Thumbnail != nil {
		t := *b.Thumbnail
		thumb = &t
	}
	return device.Request{
		ID:       uuid.New().String(),
		Template: device.TemplateStillCapture,
		Targets:  targets,
		JPEG: &device.JPEGSettings{
			Orientation:   JPEGOrientation(b.Descriptor, rotation),
			Quality:       quality,
			Location:      loc,
			ThumbnailSize: thumb,
		},
	}
}

// Burst replicates req n times. Every copy gets its own id so results can
// be told apart; n <= 0 yields nil.
func Burst(req device.Request, n int) []device.Request {
	if n <= 0 {
		return nil
	}
	out := make([]device.Request, n)
	for i := range out {
		r := req
		r.ID = uuid.New().String()
		out[i] = r
	}
	return out
}

// ThumbnailSize picks the thumbnail size for stills bounded by maxW x maxH,
// using the same rule as OptimalSize.
func ThumbnailSize(supported []device.Size, maxW, maxH int) (device.Size, bool) {
	return OptimalSize(supported, maxW, maxH)
}
