// Package future provides a single-assignment value cell that is set once
// from any goroutine and awaited from any number of goroutines.
package future

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Future.
type State int32

const (
	Pending State = iota
	Completing
	Completed
	Cancelled
	Interrupted
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Completing:
		return "completing"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is one of the final states.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Interrupted
}

var (
	// ErrTimeout is returned by GetTimeout when the deadline passes while the
	// future is still pending. It never matches ErrCancelled.
	ErrTimeout = errors.New("future: timeout waiting for result")
	// ErrCancelled matches every *CancelledError.
	ErrCancelled = errors.New("future: cancelled")
)

// CancelledError is returned when reading a cancelled or interrupted future.
type CancelledError struct {
	Interrupted bool
	Cause       error
}

func (e *CancelledError) Error() string {
	msg := "future: cancelled"
	if e.Interrupted {
		msg = "future: interrupted"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CancelledError) Unwrap() error { return e.Cause }

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// Future is a single-assignment cell. The zero value is not usable; use New.
//
// The winning writer moves the state Pending -> Completing with a CAS, stores
// the value, then publishes the terminal state and closes done. Readers only
// look at the value after done is closed.
type Future[T any] struct {
	state atomic.Int32
	done  chan struct{}
	value T
	err   error
}

// New returns a pending future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already completed with v.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Set(v)
	return f
}

// Failed returns a future already completed with err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Fail(err)
	return f
}

// Set completes the future with v. It returns false when another writer
// got there first; in that case it waits until that writer is finished.
func (f *Future[T]) Set(v T) bool {
	return f.complete(v, nil, Completed)
}

// Fail completes the future with a failure marker. Get returns err.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	if err == nil {
		err = errors.New("future: failed")
	}
	return f.complete(zero, err, Completed)
}

// Cancel moves a pending future to Cancelled (or Interrupted). It is a
// no-op returning false when the future is already terminal.
func (f *Future[T]) Cancel(interrupt bool) bool {
	return f.CancelCause(interrupt, nil)
}

// CancelCause is Cancel with a cause attached to the CancelledError.
func (f *Future[T]) CancelCause(interrupt bool, cause error) bool {
	var zero T
	final := Cancelled
	if interrupt {
		final = Interrupted
	}
	return f.complete(zero, &CancelledError{Interrupted: interrupt, Cause: cause}, final)
}

func (f *Future[T]) complete(v T, err error, final State) bool {
	if f.state.CompareAndSwap(int32(Pending), int32(Completing)) {
		f.value = v
		f.err = err
		f.state.Store(int32(final))
		close(f.done)
		return true
	}
	// Someone else is completing; wait so the caller never observes a
	// half-written future after a failed Set.
	<-f.done
	return false
}

// Get blocks until the future is terminal.
func (f *Future[T]) Get() (T, error) {
	<-f.done
	return f.value, f.err
}

// GetTimeout blocks for at most d. It returns ErrTimeout if the future is
// still not terminal when d elapses.
func (f *Future[T]) GetTimeout(d time.Duration) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
	}
	if d <= 0 {
		var zero T
		return zero, ErrTimeout
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.value, f.err
	case <-timer.C:
		var zero T
		return zero, ErrTimeout
	}
}

// Wait blocks until the future is terminal or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryGet returns the result without blocking. ok is false while pending.
func (f *Future[T]) TryGet() (v T, ok bool, err error) {
	select {
	case <-f.done:
		return f.value, true, f.err
	default:
		return v, false, nil
	}
}

// Done is closed once the future is terminal.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// State returns the current state.
func (f *Future[T]) State() State { return State(f.state.Load()) }

// IsDone reports whether the future reached a terminal state.
func (f *Future[T]) IsDone() bool { return f.State().Terminal() }

// IsCancelled reports whether the future was cancelled or interrupted.
func (f *Future[T]) IsCancelled() bool {
	s := f.State()
	return s == Cancelled || s == Interrupted
}
