// Package dispatch runs commands one at a time, in arrival order, on a
// dedicated goroutine.
package dispatch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrClosed is returned when submitting to a queue that was closed.
var ErrClosed = errors.New("dispatch: queue closed")

// Executor is the execution context abstraction: it accepts named tasks
// and runs them somewhere else.
type Executor interface {
	Execute(name string, fn func()) error
}

type command struct {
	name string
	fn   func()
}

// Queue is a single-consumer FIFO executor with an unbounded mailbox.
// Commands never run concurrently with each other.
type Queue struct {
	name string
	log  zerolog.Logger

	mu     sync.Mutex
	items  []command
	closed bool

	wake chan struct{}
	done chan struct{}
}

// NewQueue starts the worker goroutine of a new queue.
func NewQueue(name string) *Queue {
	q := &Queue{
		name: name,
		log:  debug.Component("dispatch").With().Str("queue", name).Logger(),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Execute enqueues fn. It never blocks on the worker.
func (q *Queue) Execute(name string, fn func()) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("%s %q: %w", q.name, name, ErrClosed)
	}
	q.items = append(q.items, command{name: name, fn: fn})
	depth := len(q.items)
	q.mu.Unlock()

	metrics.DispatchQueueDepth.WithLabelValues(q.name).Set(float64(depth))
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of queued, not yet started commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting commands, lets the queued and in-flight ones finish
// in order, then waits for the worker goroutine to exit. It must not be
// called from a command running on this queue.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

// Done is closed when the worker goroutine has exited.
func (q *Queue) Done() <-chan struct{} { return q.done }

func (q *Queue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				q.log.Debug().Msg("queue drained, worker exiting")
				return
			}
			<-q.wake
			continue
		}
		cmd := q.items[0]
		q.items[0] = command{}
		q.items = q.items[1:]
		depth := len(q.items)
		q.mu.Unlock()

		metrics.DispatchQueueDepth.WithLabelValues(q.name).Set(float64(depth))
		q.run(cmd)
	}
}

func (q *Queue) run(cmd command) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			q.log.Error().Str(debug.FieldCommand, cmd.name).Interface("panic", r).Msg("command panicked")
		}
		metrics.IncCommand(q.name, cmd.name, err)
	}()
	q.log.Trace().Str(debug.FieldCommand, cmd.name).Msg("running command")
	cmd.fn()
}
