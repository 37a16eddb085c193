package device

import (
	"fmt"
	"strings"
)

// HardwareLevel is the capability tier a device reports.
type HardwareLevel int

const (
	LevelLegacy HardwareLevel = iota
	LevelLimited
	LevelFull
	LevelThree
	LevelExternal
)

// sortedLevels is the capability ordering, lowest first. External devices
// are not part of it.
var sortedLevels = []HardwareLevel{LevelLegacy, LevelLimited, LevelFull, LevelThree}

func (l HardwareLevel) String() string {
	switch l {
	case LevelLegacy:
		return "legacy"
	case LevelLimited:
		return "limited"
	case LevelFull:
		return "full"
	case LevelThree:
		return "level3"
	case LevelExternal:
		return "external"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseHardwareLevel parses the names returned by HardwareLevel.String.
func ParseHardwareLevel(s string) (HardwareLevel, error) {
	switch strings.ToLower(s) {
	case "legacy":
		return LevelLegacy, nil
	case "limited":
		return LevelLimited, nil
	case "full", "":
		return LevelFull, nil
	case "level3", "level_3", "3":
		return LevelThree, nil
	case "external":
		return LevelExternal, nil
	default:
		return 0, fmt.Errorf("unknown hardware level %q", s)
	}
}

// Descriptor holds the static facts of one device.
type Descriptor struct {
	ID                string
	Facing            Facing
	SensorOrientation int
	HardwareLevel     HardwareLevel
	OutputSizes       map[SurfaceKind][]Size
	OutputFormats     []Format
	ThumbnailSizes    []Size
}

// SupportsLevel reports whether the device level is at least required.
// A level outside the ordering (external) only satisfies itself.
func (d Descriptor) SupportsLevel(required HardwareLevel) bool {
	if required == d.HardwareLevel {
		return true
	}
	for _, l := range sortedLevels {
		if required == l {
			return true
		} else if d.HardwareLevel == l {
			return false
		}
	}
	return false
}

// SupportsFormat reports whether readers of format f can be attached.
func (d Descriptor) SupportsFormat(f Format) bool {
	for _, have := range d.OutputFormats {
		if have == f {
			return true
		}
	}
	return false
}

// Sizes returns the supported output sizes for a surface kind, in device order.
func (d Descriptor) Sizes(kind SurfaceKind) []Size {
	return d.OutputSizes[kind]
}

// Directory is the immutable facing -> device mapping built once at startup.
type Directory struct {
	byFacing map[Facing]Descriptor
	byID     map[string]Descriptor
}

// Enumerate reads every device from m once and keeps the eligible ones,
// keyed by facing. When two devices share a facing the later one wins.
func Enumerate(m Manager, minLevel HardwareLevel) (Directory, error) {
	ids, err := m.DeviceIDs()
	if err != nil {
		return Directory{}, fmt.Errorf("list devices: %w", err)
	}
	dir := Directory{
		byFacing: make(map[Facing]Descriptor),
		byID:     make(map[string]Descriptor),
	}
	for _, id := range ids {
		desc, err := m.Descriptor(id)
		if err != nil {
			return Directory{}, fmt.Errorf("describe device %s: %w", id, err)
		}
		if !desc.SupportsLevel(minLevel) {
			continue
		}
		if desc.Facing != FacingBack && desc.Facing != FacingFront {
			continue
		}
		if prev, ok := dir.byFacing[desc.Facing]; ok {
			delete(dir.byID, prev.ID)
		}
		dir.byFacing[desc.Facing] = desc
		dir.byID[desc.ID] = desc
	}
	return dir, nil
}

// NewDirectory builds a Directory from already known descriptors.
func NewDirectory(descs ...Descriptor) Directory {
	dir := Directory{
		byFacing: make(map[Facing]Descriptor),
		byID:     make(map[string]Descriptor),
	}
	for _, d := range descs {
		dir.byFacing[d.Facing] = d
		dir.byID[d.ID] = d
	}
	return dir
}

// ByFacing returns the device registered for f.
func (d Directory) ByFacing(f Facing) (Descriptor, bool) {
	desc, ok := d.byFacing[f]
	return desc, ok
}

// ByID returns the descriptor of a registered device.
func (d Directory) ByID(id string) (Descriptor, bool) {
	desc, ok := d.byID[id]
	return desc, ok
}

// Default returns the back device, else the front one.
func (d Directory) Default() (Descriptor, bool) {
	if desc, ok := d.byFacing[FacingBack]; ok {
		return desc, true
	}
	return d.ByFacing(FacingFront)
}

// Other returns the device on the opposite side of id.
func (d Directory) Other(id string) (Descriptor, bool) {
	cur, ok := d.byID[id]
	if !ok {
		return d.Default()
	}
	want := FacingFront
	if cur.Facing == FacingFront {
		want = FacingBack
	}
	return d.ByFacing(want)
}

// Len returns the number of registered devices.
func (d Directory) Len() int { return len(d.byFacing) }
