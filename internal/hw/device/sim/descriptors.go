package sim

import "github.com/cjeanneret/stillcam/internal/hw/device"

// DefaultDescriptors returns a back and a front device resembling a
// typical phone module.
func DefaultDescriptors() []device.Descriptor {
	display := []device.Size{
		{Width: 1920, Height: 1080},
		{Width: 1440, Height: 1080},
		{Width: 1280, Height: 720},
		{Width: 640, Height: 480},
	}
	reader := []device.Size{
		{Width: 4032, Height: 3024},
		{Width: 1920, Height: 1080},
		{Width: 1440, Height: 1080},
		{Width: 640, Height: 480},
	}
	thumbs := []device.Size{
		{},
		{Width: 320, Height: 240},
		{Width: 256, Height: 144},
	}
	return []device.Descriptor{
		{
			ID:                "0",
			Facing:            device.FacingBack,
			SensorOrientation: 90,
			HardwareLevel:     device.LevelFull,
			OutputSizes: map[device.SurfaceKind][]device.Size{
				device.SurfaceDisplay: display,
				device.SurfaceReader:  reader,
			},
			OutputFormats:  []device.Format{device.FormatJPEG, device.FormatYUV420, device.FormatPrivate},
			ThumbnailSizes: thumbs,
		},
		{
			ID:                "1",
			Facing:            device.FacingFront,
			SensorOrientation: 270,
			HardwareLevel:     device.LevelFull,
			OutputSizes: map[device.SurfaceKind][]device.Size{
				device.SurfaceDisplay: display,
				device.SurfaceReader:  reader[1:],
			},
			OutputFormats:  []device.Format{device.FormatJPEG, device.FormatPrivate},
			ThumbnailSizes: thumbs,
		},
	}
}
