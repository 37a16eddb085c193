package dispatch

import (
	"fmt"

	"github.com/cjeanneret/stillcam/internal/future"
)

// Confined binds a state value to a Queue. The state can only be reached
// from functions submitted through Do or Call, so every access happens on
// the queue's goroutine.
type Confined[S any] struct {
	q     *Queue
	state S
}

// NewConfined hands state over to q.
func NewConfined[S any](q *Queue, state S) *Confined[S] {
	return &Confined[S]{q: q, state: state}
}

// Queue returns the owning queue.
func (c *Confined[S]) Queue() *Queue { return c.q }

// Do enqueues fn; it runs later on the owning goroutine.
func (c *Confined[S]) Do(name string, fn func(S)) error {
	return c.q.Execute(name, func() { fn(c.state) })
}

// Call enqueues fn and returns a future resolved with its result. The
// future is created on the calling goroutine, before the command is queued.
// If the queue is closed the future is already failed.
func Call[S, T any](c *Confined[S], name string, fn func(S) (T, error)) *future.Future[T] {
	f := future.New[T]()
	err := c.Do(name, func(s S) {
		defer func() {
			if r := recover(); r != nil {
				f.Fail(fmt.Errorf("%s: panic: %v", name, r))
				panic(r)
			}
		}()
		v, err := fn(s)
		if err != nil {
			f.Fail(err)
			return
		}
		f.Set(v)
	})
	if err != nil {
		f.Fail(err)
	}
	return f
}
