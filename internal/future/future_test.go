package future

import (
	"context"
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

func TestSet_ThenGet(t *testing.T) {
	f := New[int]()
	assert.Equal(t, Pending, f.State())
	assert.False(t, f.IsDone())

	require.True(t, f.Set(7))
	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, Completed, f.State())
	assert.True(t, f.IsDone())
	assert.False(t, f.IsCancelled())
}

func TestSet_OnlyOnce(t *testing.T) {
	f := New[string]()
	require.True(t, f.Set("first"))
	assert.False(t, f.Set("second"))
	assert.False(t, f.Fail(errors.New("late")))
	assert.False(t, f.Cancel(true))

	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestSet_ConcurrentExactlyOneWins(t *testing.T) {
	for round := 0; round < 50; round++ {
		f := New[int]()
		const writers = 32

		var (
			wins    atomic.Int32
			start   = make(chan struct{})
			wg      sync.WaitGroup
			winning atomic.Int32
		)
		for i := 1; i <= writers; i++ {
			wg.Add(1)
			go func(v int) {
				defer wg.Done()
				<-start
				if f.Set(v) {
					wins.Add(1)
					winning.Store(int32(v))
				} else {
					// A loser must only return once the value is published.
					assert.True(t, f.IsDone())
				}
			}(i)
		}

		readers := make([]int, 8)
		var rg sync.WaitGroup
		for i := range readers {
			rg.Add(1)
			go func(i int) {
				defer rg.Done()
				v, err := f.Get()
				assert.NoError(t, err)
				readers[i] = v
			}(i)
		}

		close(start)
		wg.Wait()
		rg.Wait()

		require.Equal(t, int32(1), wins.Load(), "exactly one Set must succeed")
		for _, v := range readers {
			assert.Equal(t, int(winning.Load()), v)
		}
	}
}

func TestGetTimeout_PendingReturnsTimeoutNotCancelled(t *testing.T) {
	f := New[int]()
	_, err := f.GetTimeout(10 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.False(t, errors.Is(err, ErrCancelled))
	assert.Equal(t, Pending, f.State())
}

func TestGetTimeout_ZeroOnPending(t *testing.T) {
	f := New[int]()
	_, err := f.GetTimeout(0)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestGetTimeout_ResolvedBeforeDeadline(t *testing.T) {
	f := New[int]()
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.Set(3)
	}()
	v, err := f.GetTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name      string
		interrupt bool
		want      State
	}{
		{"cancel", false, Cancelled},
		{"interrupt", true, Interrupted},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := New[int]()
			require.True(t, f.Cancel(tc.interrupt))
			assert.Equal(t, tc.want, f.State())
			assert.True(t, f.IsCancelled())
			assert.False(t, f.Set(1))

			_, err := f.Get()
			require.ErrorIs(t, err, ErrCancelled)
			assert.False(t, errors.Is(err, ErrTimeout))

			var ce *CancelledError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.interrupt, ce.Interrupted)
		})
	}
}

func TestCancelCause_CarriesCause(t *testing.T) {
	cause := errors.New("device went away")
	f := New[int]()
	require.True(t, f.CancelCause(false, cause))

	_, err := f.Get()
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "device went away")
}

func TestCancel_NoOpWhenTerminal(t *testing.T) {
	f := Resolved(5)
	assert.False(t, f.Cancel(false))
	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestFail(t *testing.T) {
	boom := errors.New("boom")
	f := Failed[int](boom)
	_, err := f.Get()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Completed, f.State())
	assert.False(t, f.IsCancelled())

	g := New[int]()
	require.True(t, g.Fail(nil))
	_, err = g.Get()
	assert.Error(t, err)
}

func TestWait_ContextCancelled(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Pending, f.State())
}

func TestTryGet(t *testing.T) {
	f := New[int]()
	_, ok, _ := f.TryGet()
	assert.False(t, ok)

	f.Set(9)
	v, ok, err := f.TryGet()
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 9, v)
}

func TestDone_ClosedOnTerminal(t *testing.T) {
	f := New[struct{}]()
	select {
	case <-f.Done():
		t.Fatal("done closed while pending")
	default:
	}
	f.Cancel(false)
	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed after cancel")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "completing", Completing.String())
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "cancelled", Cancelled.String())
	assert.Equal(t, "interrupted", Interrupted.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.False(t, Completing.Terminal())
}
