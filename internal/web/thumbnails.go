package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/logic/persist"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait   = 5 * time.Second
	pingPeriod  = 30 * time.Second
	clientQueue = 8
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ThumbnailHub pushes every persisted thumbnail to the connected viewers.
// Each thumbnail is a JSON text frame with its metadata followed by a binary
// frame holding the JPEG.
type ThumbnailHub struct {
	mu      sync.Mutex
	clients map[*thumbClient]struct{}
	last    *persist.Thumbnail
	log     zerolog.Logger
}

type thumbClient struct {
	conn *websocket.Conn
	send chan persist.Thumbnail
	done chan struct{}
}

// NewThumbnailHub creates an empty hub.
func NewThumbnailHub() *ThumbnailHub {
	return &ThumbnailHub{
		clients: make(map[*thumbClient]struct{}),
		log:     debug.Component("thumbnails"),
	}
}

// PublishThumbnail queues t for every client. Clients whose queue is full
// miss it.
func (h *ThumbnailHub) PublishThumbnail(t persist.Thumbnail) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &t
	for c := range h.clients {
		select {
		case c.send <- t:
		default:
			h.log.Debug().Str("thumbnail", t.Name).Msg("viewer too slow, thumbnail skipped")
		}
	}
}

// Last returns the most recent thumbnail.
func (h *ThumbnailHub) Last() (persist.Thumbnail, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return persist.Thumbnail{}, false
	}
	return *h.last, true
}

// Clients returns the number of connected viewers.
func (h *ThumbnailHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams thumbnails until the viewer
// disconnects. The latest thumbnail is sent first.
func (h *ThumbnailHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &thumbClient{
		conn: conn,
		send: make(chan persist.Thumbnail, clientQueue),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.last != nil {
		c.send <- *h.last
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("viewer connected")

	go c.readPump()
	c.writePump(r.Context().Done())

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = conn.Close()
	h.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("viewer disconnected")
}

// readPump discards incoming frames; it only notices the close.
func (c *thumbClient) readPump() {
	defer close(c.done)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *thumbClient) writePump(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case t := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(t); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, t.JPEG); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		case <-stop:
			return
		}
	}
}

// Close disconnects every viewer.
func (h *ThumbnailHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close()
	}
}
