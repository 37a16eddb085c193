package correlate

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/dispatch"
	"github.com/cjeanneret/stillcam/internal/hw/device"
	"github.com/cjeanneret/stillcam/internal/metrics"
	"github.com/rs/zerolog"
)

// Pair is one still image matched with the metadata of its request.
type Pair struct {
	Result device.CaptureResult
	Image  device.Image
}

// Handler consumes a matched pair on the persistence executor.
type Handler func(ctx context.Context, p Pair)

// Correlator matches each encoded image with the oldest queued metadata
// record. It assumes at most one still request is outstanding per pairing
// window: records and buffers are matched purely by arrival order.
type Correlator struct {
	queue  *Queue
	images <-chan device.Image
	exec   dispatch.Executor
	handle Handler
	log    zerolog.Logger

	reader atomic.Pointer[string]
}

// NewCorrelator returns a correlator reading images and handing pairs to
// handle through exec.
func NewCorrelator(q *Queue, images <-chan device.Image, exec dispatch.Executor, handle Handler) *Correlator {
	return &Correlator{
		queue:  q,
		images: images,
		exec:   exec,
		handle: handle,
		log:    debug.Component("correlate"),
	}
}

// Expect restricts pairing to images coming from the reader with the given
// id. An empty id drops every image.
func (c *Correlator) Expect(readerID string) {
	c.reader.Store(&readerID)
}

func (c *Correlator) expected(img device.Image) bool {
	id := c.reader.Load()
	return id != nil && *id != "" && *id == img.ReaderID
}

// Run pairs images until ctx is done or the image channel is closed.
func (c *Correlator) Run(ctx context.Context) error {
	for {
		var img device.Image
		select {
		case <-ctx.Done():
			return ctx.Err()
		case im, ok := <-c.images:
			if !ok {
				return nil
			}
			img = im
		}

		if !c.expected(img) {
			c.log.Debug().Str("reader", img.ReaderID).Msg("dropping image from a released reader")
			continue
		}

		res, err := c.queue.Take(ctx)
		if errors.Is(err, ErrFlushed) {
			c.log.Debug().Msg("pairing window reset, dropping image")
			continue
		}
		if err != nil {
			return err
		}

		metrics.PairedTotal.Inc()
		p := Pair{Result: res, Image: img}
		c.log.Debug().
			Str(debug.FieldRequest, res.RequestID).
			Int64(debug.FieldFrame, res.FrameNumber).
			Msg("paired capture metadata with image")
		pctx := context.WithoutCancel(ctx)
		if err := c.exec.Execute("persist", func() { c.handle(pctx, p) }); err != nil {
			c.log.Error().Err(err).Str(debug.FieldRequest, res.RequestID).Msg("persistence executor rejected pair")
		}
	}
}
