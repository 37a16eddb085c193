// Package correlate pairs still-capture metadata with the encoded buffers
// that arrive independently from the device.
package correlate

import (
	"context"
	"errors"
	"sync"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/hw/device"
	"github.com/cjeanneret/stillcam/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultCapacity bounds the pairing queue when no size is configured.
const DefaultCapacity = 32

// ErrFlushed is returned by Take when the queue was drained while waiting.
var ErrFlushed = errors.New("correlate: pairing queue flushed")

// Queue is the bounded FIFO of capture metadata waiting for a buffer.
type Queue struct {
	ch  chan device.CaptureResult
	log zerolog.Logger

	mu      sync.Mutex
	flushed chan struct{}
}

// NewQueue returns a queue holding at most capacity records.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		ch:      make(chan device.CaptureResult, capacity),
		log:     debug.Component("correlate"),
		flushed: make(chan struct{}),
	}
}

// Put appends r without blocking. It reports false when the queue was full
// and r was dropped.
func (q *Queue) Put(r device.CaptureResult) bool {
	select {
	case q.ch <- r:
		return true
	default:
		metrics.PairingDropsTotal.Inc()
		q.log.Warn().
			Str(debug.FieldRequest, r.RequestID).
			Int64(debug.FieldFrame, r.FrameNumber).
			Msg("pairing queue full, capture metadata dropped")
		return false
	}
}

// Take removes the oldest record, blocking until one is available, the
// queue is drained or ctx is done.
func (q *Queue) Take(ctx context.Context) (device.CaptureResult, error) {
	q.mu.Lock()
	flushed := q.flushed
	q.mu.Unlock()
	select {
	case r := <-q.ch:
		return r, nil
	case <-flushed:
		return device.CaptureResult{}, ErrFlushed
	case <-ctx.Done():
		return device.CaptureResult{}, ctx.Err()
	}
}

// Drain discards every queued record and returns how many were dropped.
// Pending Take calls return ErrFlushed.
func (q *Queue) Drain() int {
	q.mu.Lock()
	close(q.flushed)
	q.flushed = make(chan struct{})
	q.mu.Unlock()

	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued records.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
