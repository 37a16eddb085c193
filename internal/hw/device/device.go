// Package device describes the callback-based capture API the orchestrator
// drives. Implementations deliver results asynchronously as tagged events on
// channels supplied by the caller, one channel type per lifecycle phase.
package device

import (
	"fmt"
	"time"
)

// Facing is the direction a device's lens points to.
type Facing int

const (
	FacingBack Facing = iota
	FacingFront
	FacingExternal
)

func (f Facing) String() string {
	switch f {
	case FacingBack:
		return "back"
	case FacingFront:
		return "front"
	case FacingExternal:
		return "external"
	default:
		return fmt.Sprintf("facing(%d)", int(f))
	}
}

// ParseFacing parses "back", "front" or "external".
func ParseFacing(s string) (Facing, error) {
	switch s {
	case "back", "":
		return FacingBack, nil
	case "front":
		return FacingFront, nil
	case "external":
		return FacingExternal, nil
	default:
		return 0, fmt.Errorf("unknown facing %q", s)
	}
}

// Size is a resolution in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// IsZero reports whether s is unset.
func (s Size) IsZero() bool { return s.Width == 0 && s.Height == 0 }

// Format tags the pixel layout of an output buffer.
type Format int

const (
	FormatUnknown Format = iota
	FormatJPEG
	FormatYUV420 // planar YUV_420_888
	FormatPrivate
)

func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatYUV420:
		return "yuv420"
	case FormatPrivate:
		return "private"
	default:
		return "unknown"
	}
}

// SurfaceKind selects which list of supported output sizes applies.
type SurfaceKind int

const (
	SurfaceDisplay SurfaceKind = iota // preview texture
	SurfaceReader                     // image reader (JPEG or raw frames)
)

// Surface is an output target a session can write to.
type Surface interface {
	ID() string
	Kind() SurfaceKind
	Size() Size
}

// DisplaySurface is the drawable target supplied by the display provider.
type DisplaySurface interface {
	Surface
	SetBufferSize(Size)
}

// Location is a geo-tag attached to a capture.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude,omitempty"`
	Time      time.Time `json:"time,omitempty"`
}

// Image is one output buffer delivered by an ImageReader.
type Image struct {
	Width     int
	Height    int
	Format    Format
	Data      []byte
	Timestamp time.Time
	ReaderID  string
}

// ImageReader is a Surface whose frames are delivered to the channel given
// at creation.
type ImageReader interface {
	Surface
	Format() Format
	Close() error
}

// Manager enumerates devices and opens them.
type Manager interface {
	DeviceIDs() ([]string, error)
	Descriptor(id string) (Descriptor, error)
	// Open starts an asynchronous open. The outcome arrives on events.
	Open(id string, events chan<- DeviceEvent) error
	// NewImageReader creates an output surface delivering frames to images.
	NewImageReader(size Size, format Format, maxImages int, images chan<- Image) (ImageReader, error)
}

// Device is an acquired capture device.
type Device interface {
	ID() string
	// CreateSession binds the device to a fixed set of outputs. The outcome
	// arrives on events.
	CreateSession(outputs []Surface, events chan<- SessionEvent) error
	Close() error
}

// Session is a configured binding between a device and its outputs.
type Session interface {
	ID() string
	Outputs() []Surface
	// SetRepeating replaces the current repeating request.
	SetRepeating(req Request, events chan<- CaptureEvent) error
	StopRepeating() error
	Capture(req Request, events chan<- CaptureEvent) error
	// CaptureBurst submits reqs as one atomic batch: all of them are
	// accepted or none is.
	CaptureBurst(reqs []Request, events chan<- CaptureEvent) error
	Close() error
}
