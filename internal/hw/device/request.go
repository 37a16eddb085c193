package device

// Template selects the device-side tuning of a request.
type Template int

const (
	TemplatePreview Template = iota
	TemplateStillCapture
)

func (t Template) String() string {
	switch t {
	case TemplatePreview:
		return "preview"
	case TemplateStillCapture:
		return "still_capture"
	default:
		return "unknown"
	}
}

// JPEGSettings are the still-capture specific request fields.
type JPEGSettings struct {
	Orientation   int
	Quality       int
	Location      *Location // nil when no fix was available
	ThumbnailSize *Size     // nil disables thumbnail generation
}

// Request is an immutable capture request descriptor.
type Request struct {
	ID       string
	Template Template
	Targets  []Surface
	JPEG     *JPEGSettings // set for TemplateStillCapture
}

// HasTarget reports whether r writes to s.
func (r Request) HasTarget(s Surface) bool {
	if s == nil {
		return false
	}
	for _, t := range r.Targets {
		if t.ID() == s.ID() {
			return true
		}
	}
	return false
}
