package persist

import (
	"bytes"
	"fmt"
	"image"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
)

// Thumbnail is the downscaled preview of a persisted image.
type Thumbnail struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	JPEG   []byte `json:"-"`
}

// ThumbnailSink receives thumbnails once their image is persisted.
type ThumbnailSink interface {
	PublishThumbnail(t Thumbnail)
}

// makeThumbnail prefers the thumbnail embedded in the EXIF block and falls
// back to decoding the full image scaled down by 1/sample.
func makeThumbnail(data []byte, sample int) (image.Image, error) {
	if x, err := exif.Decode(bytes.NewReader(data)); err == nil {
		if raw, err := x.JpegThumbnail(); err == nil {
			if img, _, err := image.Decode(bytes.NewReader(raw)); err == nil {
				return img, nil
			}
		}
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if sample <= 1 {
		return src, nil
	}
	b := src.Bounds()
	w, h := max(b.Dx()/sample, 1), max(b.Dy()/sample, 1)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst, nil
}

// rotate turns img clockwise by deg, a multiple of 90.
func rotate(img image.Image, deg int) image.Image {
	deg = ((deg % 360) + 360) % 360
	if deg == 0 || deg%90 != 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var dst *image.RGBA
	if deg == 180 {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			switch deg {
			case 90:
				dst.Set(h-1-y, x, c)
			case 180:
				dst.Set(w-1-x, h-1-y, c)
			case 270:
				dst.Set(y, w-1-x, c)
			}
		}
	}
	return dst
}
