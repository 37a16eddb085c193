// Package persist writes paired still images to storage, records them in
// the catalog and publishes a thumbnail. It runs on its own executor and
// never touches device or session state.
package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"strings"
	"time"

	"github.com/cjeanneret/stillcam/internal/catalog"
	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/logic/correlate"
	"github.com/cjeanneret/stillcam/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultSample is the thumbnail downscale factor used when the image has
// no embedded thumbnail.
const DefaultSample = 16

const maxNameAttempts = 10

// Catalog records persisted images.
type Catalog interface {
	Insert(ctx context.Context, e catalog.Entry) (int64, error)
}

// Pipeline persists pairs. Failures are logged and counted, never returned.
type Pipeline struct {
	storage Storage
	catalog Catalog
	sink    ThumbnailSink
	sample  int
	now     func() time.Time
	log     zerolog.Logger
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithThumbnailSink publishes thumbnails to sink.
func WithThumbnailSink(sink ThumbnailSink) Option {
	return func(p *Pipeline) { p.sink = sink }
}

// WithSample sets the fallback thumbnail downscale factor.
func WithSample(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.sample = n
		}
	}
}

// WithClock replaces time.Now for file naming.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline returns a pipeline writing to storage and cat. cat may be nil.
func NewPipeline(storage Storage, cat Catalog, opts ...Option) *Pipeline {
	p := &Pipeline{
		storage: storage,
		catalog: cat,
		sample:  DefaultSample,
		now:     time.Now,
		log:     debug.Component("persist"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// FileName returns the image file name for t, IMG_yyyyMMddHHmmssSSS.jpeg.
func FileName(t time.Time) string {
	return fmt.Sprintf("IMG_%s%03d.jpeg", t.Format("20060102150405"), t.Nanosecond()/int(time.Millisecond))
}

// Persist handles one pair; it has the correlate.Handler signature.
func (p *Pipeline) Persist(ctx context.Context, pair correlate.Pair) {
	res, img := pair.Result, pair.Image
	log := p.log.With().Str(debug.FieldRequest, res.RequestID).Int64(debug.FieldFrame, res.FrameNumber).Logger()

	taken := p.now()
	name, path, err := p.write(taken, img.Data)
	metrics.IncPersist("write", err)
	if err != nil {
		log.Error().Err(err).Msg("failed to save image")
		return
	}
	log.Info().Str(debug.FieldPath, path).Int("bytes", len(img.Data)).Msg("image saved")

	if p.catalog != nil {
		entry := catalog.Entry{
			Title:       strings.TrimSuffix(name, ".jpeg"),
			DisplayName: name,
			Path:        path,
			DateTaken:   taken,
			Width:       img.Width,
			Height:      img.Height,
			Orientation: res.JPEGOrientation,
		}
		if loc := res.Location; loc != nil {
			lat, lon := loc.Latitude, loc.Longitude
			entry.Latitude, entry.Longitude = &lat, &lon
		}
		_, err := p.catalog.Insert(ctx, entry)
		metrics.IncPersist("catalog", err)
		if err != nil {
			log.Warn().Err(err).Str(debug.FieldPath, path).Msg("failed to catalog image")
		}
	}

	if p.sink == nil {
		return
	}
	thumb, err := p.thumbnail(img.Data, res.JPEGOrientation)
	metrics.IncPersist("thumbnail", err)
	if err != nil {
		log.Warn().Err(err).Str(debug.FieldPath, path).Msg("failed to build thumbnail")
		return
	}
	thumb.Name, thumb.Path = name, path
	p.sink.PublishThumbnail(thumb)
}

func (p *Pipeline) write(t time.Time, data []byte) (name, path string, err error) {
	base := strings.TrimSuffix(FileName(t), ".jpeg")
	for i := 0; i < maxNameAttempts; i++ {
		name = base + ".jpeg"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.jpeg", base, i)
		}
		path, err = p.storage.Write(name, data)
		if !errors.Is(err, ErrExists) {
			return name, path, err
		}
	}
	return "", "", fmt.Errorf("no free name for %s: %w", base, err)
}

func (p *Pipeline) thumbnail(data []byte, orientation int) (Thumbnail, error) {
	img, err := makeThumbnail(data, p.sample)
	if err != nil {
		return Thumbnail{}, err
	}
	img = rotate(img, orientation)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return Thumbnail{}, fmt.Errorf("encode thumbnail: %w", err)
	}
	b := img.Bounds()
	return Thumbnail{Width: b.Dx(), Height: b.Dy(), JPEG: buf.Bytes()}, nil
}
