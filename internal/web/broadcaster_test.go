package web

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan string) StatusEvent {
	t.Helper()
	select {
	case msg := <-ch:
		var evt StatusEvent
		require.NoError(t, json.Unmarshal([]byte(msg), &evt))
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
	return StatusEvent{}
}

func TestBroadcaster_LogEvent(t *testing.T) {
	b := NewStatusBroadcaster()
	b.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Broadcast("warn", "hello")

	evt := receive(t, ch)
	assert.Equal(t, StatusEvent{Time: "2024-05-01T12:00:00Z", Kind: "log", Level: "warn", Msg: "hello"}, evt)
}

func TestBroadcaster_StatusEvent(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.BroadcastStatus(map[string]any{"phase": "previewing"})

	evt := receive(t, ch)
	assert.Equal(t, "status", evt.Kind)
	assert.JSONEq(t, `{"phase":"previewing"}`, string(evt.Data))
	assert.NotEmpty(t, evt.Time)
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewStatusBroadcaster()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()
	assert.Equal(t, 2, b.Clients())

	b.Broadcast("info", "multi")

	for _, ch := range []<-chan string{ch1, ch2} {
		assert.Equal(t, "multi", receive(t, ch).Msg)
	}
}

func TestBroadcaster_UnsubscribeClosesChannelOnce(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
	assert.Equal(t, 0, b.Clients())
	assert.NotPanics(t, func() { b.Broadcast("info", "after unsub") })
}

func TestBroadcaster_FullChannelDropsMessage(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < 64; i++ {
		b.Broadcast("info", "fill")
	}
	b.Broadcast("info", "overflow")

	assert.Len(t, ch, 64)
}

func TestBroadcastWriter_PlainLine(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	w := BroadcastWriter(b)
	in := []byte("  trimmed message  \n")
	n, err := w.Write(in)
	require.NoError(t, err)
	assert.Equal(t, len(in), n)

	evt := receive(t, ch)
	assert.Equal(t, "info", evt.Level)
	assert.Equal(t, "trimmed message", evt.Msg)
}

func TestBroadcastWriter_ZerologLine(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	w := BroadcastWriter(b)
	_, err := w.Write([]byte(`{"level":"error","component":"session","message":"device fault"}` + "\n"))
	require.NoError(t, err)

	evt := receive(t, ch)
	assert.Equal(t, "error", evt.Level)
	assert.Equal(t, "session: device fault", evt.Msg)
}

func TestBroadcastWriter_EmptyWriteIgnored(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	_, _ = BroadcastWriter(b).Write([]byte("   \n\n"))

	select {
	case <-ch:
		t.Error("expected no message for whitespace-only write")
	case <-time.After(50 * time.Millisecond):
	}
}
