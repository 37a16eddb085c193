package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// StatusEvent is one message of the SSE stream. Kind is "log" for log lines
// and "status" for controller snapshots carried in Data.
type StatusEvent struct {
	Time  string          `json:"t"`
	Kind  string          `json:"kind"`
	Level string          `json:"l,omitempty"`
	Msg   string          `json:"msg,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StatusBroadcaster distributes events to every SSE client.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	now     func() time.Time
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
		now:     time.Now,
	}
}

// Subscribe returns a channel of encoded events and its cleanup function,
// to be called when the client goes away.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Clients returns the number of subscribers.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends a log line to all clients.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.send(StatusEvent{Kind: "log", Level: level, Msg: msg})
}

// BroadcastStatus sends a JSON snapshot to all clients.
func (b *StatusBroadcaster) BroadcastStatus(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	b.send(StatusEvent{Kind: "status", Data: data})
}

// send never blocks: slow clients miss events.
func (b *StatusBroadcaster) send(evt StatusEvent) {
	evt.Time = b.now().Format(time.RFC3339)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// BroadcastWriter adapts the broadcaster to io.Writer so it can receive the
// process log. zerolog JSON lines keep their level and message; anything
// else is forwarded as an info line.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		level, msg := "info", line
		var rec struct {
			Level     string `json:"level"`
			Message   string `json:"message"`
			Component string `json:"component"`
		}
		if json.Unmarshal([]byte(line), &rec) == nil && rec.Message != "" {
			if rec.Level != "" {
				level = rec.Level
			}
			msg = rec.Message
			if rec.Component != "" {
				msg = rec.Component + ": " + msg
			}
		}
		w.b.Broadcast(level, msg)
	}
	return len(p), nil
}
