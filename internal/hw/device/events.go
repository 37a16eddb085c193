package device

import "time"

// DeviceEventKind tags a DeviceEvent.
type DeviceEventKind int

const (
	DeviceOpened DeviceEventKind = iota
	DeviceDisconnected
	DeviceError
	DeviceClosed
)

func (k DeviceEventKind) String() string {
	switch k {
	case DeviceOpened:
		return "opened"
	case DeviceDisconnected:
		return "disconnected"
	case DeviceError:
		return "error"
	case DeviceClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DeviceEvent is delivered for open results and asynchronous faults.
type DeviceEvent struct {
	Kind     DeviceEventKind
	DeviceID string
	Device   Device
	Code     int // backend error code for DeviceError
}

// SessionEventKind tags a SessionEvent.
type SessionEventKind int

const (
	SessionConfigured SessionEventKind = iota
	SessionConfigureFailed
	SessionClosed
)

func (k SessionEventKind) String() string {
	switch k {
	case SessionConfigured:
		return "configured"
	case SessionConfigureFailed:
		return "configure_failed"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionEvent is delivered for session configuration results.
type SessionEvent struct {
	Kind     SessionEventKind
	DeviceID string
	Session  Session
}

// CaptureEventKind tags a CaptureEvent.
type CaptureEventKind int

const (
	CaptureStarted CaptureEventKind = iota
	CaptureCompleted
	CaptureFailed
)

func (k CaptureEventKind) String() string {
	switch k {
	case CaptureStarted:
		return "started"
	case CaptureCompleted:
		return "completed"
	case CaptureFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CaptureResult is the metadata a device reports for one processed request.
type CaptureResult struct {
	RequestID       string
	Template        Template
	FrameNumber     int64
	Timestamp       time.Time
	JPEGOrientation int
	Location        *Location
}

// CaptureEvent is delivered for every processed request.
type CaptureEvent struct {
	Kind   CaptureEventKind
	Result CaptureResult
}
