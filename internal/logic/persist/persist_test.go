package persist

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/stillcam/internal/catalog"
	"github.com/cjeanneret/stillcam/internal/hw/device"
	"github.com/cjeanneret/stillcam/internal/logic/correlate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

type sinkRecorder struct {
	mu     sync.Mutex
	thumbs []Thumbnail
}

func (s *sinkRecorder) PublishThumbnail(t Thumbnail) {
	s.mu.Lock()
	s.thumbs = append(s.thumbs, t)
	s.mu.Unlock()
}

type failingStorage struct{ err error }

func (f failingStorage) Write(string, []byte) (string, error) { return "", f.err }

type catalogRecorder struct {
	entries []catalog.Entry
	err     error
}

func (c *catalogRecorder) Insert(_ context.Context, e catalog.Entry) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.entries = append(c.entries, e)
	return int64(len(c.entries)), nil
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 10, 19, 8, 30, 15, 123_000_000, time.UTC)
	return func() time.Time { return t }
}

func TestFileName(t *testing.T) {
	got := FileName(time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC))
	assert.Equal(t, "IMG_20260102030405006.jpeg", got)
}

func TestPersist_WritesCatalogsAndPublishes(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewDirStorage(filepath.Join(dir, "DCIM", "Camera"))
	require.NoError(t, err)
	cat, err := catalog.Open(filepath.Join(dir, "catalog.db"), catalog.DefaultConfig())
	require.NoError(t, err)
	defer cat.Close()
	sink := &sinkRecorder{}

	p := NewPipeline(storage, cat, WithThumbnailSink(sink), WithClock(fixedClock()))
	data := encodeTestJPEG(t, 320, 240)
	p.Persist(context.Background(), correlate.Pair{
		Result: device.CaptureResult{
			RequestID:       "r1",
			JPEGOrientation: 90,
			Location:        &device.Location{Latitude: 46.2, Longitude: 6.1},
		},
		Image: device.Image{Width: 320, Height: 240, Format: device.FormatJPEG, Data: data},
	})

	path := filepath.Join(dir, "DCIM", "Camera", "IMG_20261019083015123.jpeg")
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, written)

	entries, err := cat.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "IMG_20261019083015123", entries[0].Title)
	assert.Equal(t, "IMG_20261019083015123.jpeg", entries[0].DisplayName)
	assert.Equal(t, path, entries[0].Path)
	assert.Equal(t, 90, entries[0].Orientation)
	require.NotNil(t, entries[0].Longitude)
	assert.InDelta(t, 6.1, *entries[0].Longitude, 1e-9)

	require.Len(t, sink.thumbs, 1)
	th := sink.thumbs[0]
	assert.Equal(t, path, th.Path)
	assert.Equal(t, 15, th.Width, "320x240 / 16 rotated by 90")
	assert.Equal(t, 20, th.Height)
	_, err = jpeg.Decode(bytes.NewReader(th.JPEG))
	assert.NoError(t, err)
}

func TestPersist_SameMillisecondGetsSuffix(t *testing.T) {
	storage, err := NewDirStorage(t.TempDir())
	require.NoError(t, err)
	cat := &catalogRecorder{}
	p := NewPipeline(storage, cat, WithClock(fixedClock()))

	data := encodeTestJPEG(t, 32, 24)
	for i := 0; i < 3; i++ {
		p.Persist(context.Background(), correlate.Pair{Image: device.Image{Data: data}})
	}

	require.Len(t, cat.entries, 3)
	assert.Equal(t, "IMG_20261019083015123.jpeg", cat.entries[0].DisplayName)
	assert.Equal(t, "IMG_20261019083015123_1.jpeg", cat.entries[1].DisplayName)
	assert.Equal(t, "IMG_20261019083015123_2.jpeg", cat.entries[2].DisplayName)
	assert.Nil(t, cat.entries[0].Latitude)
}

func TestPersist_StorageFailureIsSwallowed(t *testing.T) {
	cat := &catalogRecorder{}
	sink := &sinkRecorder{}
	p := NewPipeline(failingStorage{err: errors.New("disk full")}, cat, WithThumbnailSink(sink))

	assert.NotPanics(t, func() {
		p.Persist(context.Background(), correlate.Pair{Image: device.Image{Data: []byte{1, 2, 3}}})
	})
	assert.Empty(t, cat.entries)
	assert.Empty(t, sink.thumbs)
}

func TestPersist_CatalogFailureStillPublishes(t *testing.T) {
	storage, err := NewDirStorage(t.TempDir())
	require.NoError(t, err)
	sink := &sinkRecorder{}
	p := NewPipeline(storage, &catalogRecorder{err: errors.New("locked")}, WithThumbnailSink(sink), WithSample(4))

	p.Persist(context.Background(), correlate.Pair{Image: device.Image{Data: encodeTestJPEG(t, 64, 48)}})
	require.Len(t, sink.thumbs, 1)
	assert.Equal(t, 16, sink.thumbs[0].Width)
	assert.Equal(t, 12, sink.thumbs[0].Height)
}

func TestPersist_CorruptImageSkipsThumbnail(t *testing.T) {
	storage, err := NewDirStorage(t.TempDir())
	require.NoError(t, err)
	cat := &catalogRecorder{}
	sink := &sinkRecorder{}
	p := NewPipeline(storage, cat, WithThumbnailSink(sink))

	p.Persist(context.Background(), correlate.Pair{Image: device.Image{Data: []byte("not a jpeg")}})
	assert.Len(t, cat.entries, 1, "the file is still saved and catalogued")
	assert.Empty(t, sink.thumbs)
}

func TestRotate(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	red := color.RGBA{R: 255, A: 255}
	src.Set(0, 0, red)

	cases := []struct {
		deg        int
		w, h       int
		redX, redY int
	}{
		{0, 3, 2, 0, 0},
		{90, 2, 3, 1, 0},
		{180, 3, 2, 2, 1},
		{270, 2, 3, 0, 2},
		{-90, 2, 3, 0, 2},
	}
	for _, c := range cases {
		out := rotate(src, c.deg)
		b := out.Bounds()
		assert.Equal(t, c.w, b.Dx(), "deg=%d", c.deg)
		assert.Equal(t, c.h, b.Dy(), "deg=%d", c.deg)
		r, _, _, _ := out.At(c.redX, c.redY).RGBA()
		assert.Equal(t, uint32(0xffff), r, "deg=%d", c.deg)
	}
}

func TestDirStorage_RefusesOverwrite(t *testing.T) {
	s, err := NewDirStorage(t.TempDir())
	require.NoError(t, err)
	_, err = s.Write("a.jpeg", []byte("one"))
	require.NoError(t, err)
	_, err = s.Write("a.jpeg", []byte("two"))
	assert.ErrorIs(t, err, ErrExists)
}
