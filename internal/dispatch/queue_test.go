package dispatch

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQueue_RunsInArrivalOrder(t *testing.T) {
	q := NewQueue("test")
	defer q.Close()

	var (
		mu  sync.Mutex
		got []int
	)
	const n = 500
	for i := 0; i < n; i++ {
		i := i
		require.NoError(t, q.Execute("append", func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	q.Close()

	require.Len(t, got, n)
	for i, v := range got {
		require.Equal(t, i, v, "command %d ran out of order", i)
	}
}

func TestQueue_NeverConcurrent(t *testing.T) {
	q := NewQueue("test")

	var (
		running atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = q.Execute("probe", func() {
					if running.Add(1) != 1 {
						overlap.Store(true)
					}
					time.Sleep(10 * time.Microsecond)
					running.Add(-1)
				})
			}
		}()
	}
	wg.Wait()
	q.Close()

	assert.False(t, overlap.Load(), "two commands ran at the same time")
}

func TestQueue_CloseDrainsQueuedCommands(t *testing.T) {
	q := NewQueue("test")

	release := make(chan struct{})
	var ran atomic.Int32
	require.NoError(t, q.Execute("block", func() {
		<-release
		ran.Add(1)
	}))
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Execute("after", func() { ran.Add(1) }))
	}

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a command was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
	assert.Equal(t, int32(4), ran.Load())
}

func TestQueue_RejectsAfterClose(t *testing.T) {
	q := NewQueue("test")
	q.Close()

	err := q.Execute("late", func() { t.Error("must not run") })
	assert.ErrorIs(t, err, ErrClosed)

	select {
	case <-q.Done():
	default:
		t.Fatal("worker still running after Close")
	}
}

func TestQueue_RecoversPanics(t *testing.T) {
	q := NewQueue("test")
	defer q.Close()

	require.NoError(t, q.Execute("panic", func() { panic("boom") }))
	done := make(chan struct{})
	require.NoError(t, q.Execute("after", func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queue stopped after a panicking command")
	}
}

func TestConfined_CallResolvesFuture(t *testing.T) {
	q := NewQueue("confined")
	defer q.Close()

	type counter struct{ n int }
	c := NewConfined(q, &counter{})

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Do("inc", func(s *counter) { s.n++ }))
	}
	f := Call(c, "read", func(s *counter) (int, error) { return s.n, nil })

	v, err := f.GetTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 10, v)
}

func TestConfined_CallPropagatesError(t *testing.T) {
	q := NewQueue("confined")
	defer q.Close()

	boom := errors.New("boom")
	c := NewConfined(q, struct{}{})
	f := Call(c, "fail", func(struct{}) (int, error) { return 0, boom })

	_, err := f.GetTimeout(time.Second)
	assert.ErrorIs(t, err, boom)
}

func TestConfined_CallPanicFailsFuture(t *testing.T) {
	q := NewQueue("confined")
	defer q.Close()

	c := NewConfined(q, struct{}{})
	f := Call(c, "explode", func(struct{}) (int, error) { panic("kaboom") })

	_, err := f.GetTimeout(time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestConfined_CallOnClosedQueue(t *testing.T) {
	q := NewQueue("confined")
	q.Close()

	c := NewConfined(q, struct{}{})
	f := Call(c, "late", func(struct{}) (int, error) { return 1, nil })

	_, err := f.GetTimeout(time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}
