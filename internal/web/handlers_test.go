package web

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/cjeanneret/stillcam/internal/catalog"
	"github.com/cjeanneret/stillcam/internal/future"
	"github.com/cjeanneret/stillcam/internal/logic/persist"
	"github.com/cjeanneret/stillcam/internal/logic/session"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCamera records commands and resolves them with err.
type fakeCamera struct {
	mu     sync.Mutex
	calls  []string
	bursts []int
	err    error
	status session.Status
}

func (c *fakeCamera) run(name string) *future.Future[struct{}] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
	if c.err != nil {
		return future.Failed[struct{}](c.err)
	}
	return future.Resolved(struct{}{})
}

func (c *fakeCamera) Resume() *future.Future[struct{}]          { return c.run("resume") }
func (c *fakeCamera) Pause() *future.Future[struct{}]           { return c.run("pause") }
func (c *fakeCamera) Capture() *future.Future[struct{}]         { return c.run("capture") }
func (c *fakeCamera) StartContinuous() *future.Future[struct{}] { return c.run("continuous-start") }
func (c *fakeCamera) StopContinuous() *future.Future[struct{}]  { return c.run("continuous-stop") }
func (c *fakeCamera) Switch() *future.Future[struct{}]          { return c.run("switch") }

func (c *fakeCamera) CaptureBurst(n int) *future.Future[struct{}] {
	c.mu.Lock()
	c.bursts = append(c.bursts, n)
	c.mu.Unlock()
	return c.run("burst")
}

func (c *fakeCamera) Status() session.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeCamera) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type fakeImages struct {
	entries []catalog.Entry
	err     error
	limit   int
}

func (f *fakeImages) List(_ context.Context, limit int) ([]catalog.Entry, error) {
	f.limit = limit
	return f.entries, f.err
}

var testStatic = fstest.MapFS{
	"index.html": &fstest.MapFile{Data: []byte("<!DOCTYPE html><html><body>stillcam</body></html>")},
}

func newTestServer(t *testing.T, cam Camera, images ImageLister, limit int) (*Server, *StatusBroadcaster) {
	t.Helper()
	b := NewStatusBroadcaster()
	srv, err := NewServer(Options{Addr: ":0", BurstSize: 4, CommandLimit: limit}, b, cam, images, NewThumbnailHub())
	require.NoError(t, err)
	srv.handlers.staticFS = testStatic
	return srv, b
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// ---------- Commands ----------

func TestCommands_RouteToCamera(t *testing.T) {
	cam := &fakeCamera{}
	srv, _ := newTestServer(t, cam, nil, 0)
	mux := srv.Mux()

	paths := []struct {
		path string
		want string
	}{
		{"/resume", "resume"},
		{"/pause", "pause"},
		{"/capture", "capture"},
		{"/continuous/start", "continuous-start"},
		{"/continuous/stop", "continuous-stop"},
		{"/switch", "switch"},
	}
	for _, p := range paths {
		w := do(t, mux, http.MethodPost, p.path, "")
		require.Equal(t, http.StatusAccepted, w.Code, p.path)
		assert.JSONEq(t, `{"status":"accepted","command":"`+p.want+`"}`, w.Body.String())
	}

	want := make([]string, 0, len(paths))
	for _, p := range paths {
		want = append(want, p.want)
	}
	assert.Equal(t, want, cam.recorded())
}

func TestCommands_GetNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCamera{}, nil, 0)
	w := do(t, srv.Mux(), http.MethodGet, "/capture", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCommands_NilCamera(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil, 0)
	mux := srv.Mux()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, mux, http.MethodPost, "/capture", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, mux, http.MethodPost, "/burst", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, mux, http.MethodGet, "/state", "").Code)
}

func TestCommands_OutcomeIsBroadcast(t *testing.T) {
	cam := &fakeCamera{err: errors.New("invalid state"), status: session.Status{Phase: "closed"}}
	srv, b := newTestServer(t, cam, nil, 0)
	ch, unsub := b.Subscribe()
	defer unsub()

	w := do(t, srv.Mux(), http.MethodPost, "/capture", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	evt := receive(t, ch)
	assert.Equal(t, "error", evt.Level)
	assert.Equal(t, "capture failed: invalid state", evt.Msg)

	evt = receive(t, ch)
	assert.Equal(t, "status", evt.Kind)
	assert.JSONEq(t, `{"phase":"closed","preview_size":{"width":0,"height":0},"image_size":{"width":0,"height":0},"continuous":false}`, string(evt.Data))
}

func TestCommands_RateLimited(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCamera{}, nil, 2)
	mux := srv.Mux()

	assert.Equal(t, http.StatusAccepted, do(t, mux, http.MethodPost, "/capture", "").Code)
	assert.Equal(t, http.StatusAccepted, do(t, mux, http.MethodPost, "/capture", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, mux, http.MethodPost, "/capture", "").Code)
	assert.Equal(t, http.StatusOK, do(t, mux, http.MethodGet, "/state", "").Code, "reads are not limited")
}

// ---------- Burst ----------

func TestHandleBurst(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		code  int
		count int
	}{
		{"default_size", "", http.StatusAccepted, 4},
		{"explicit", `{"count": 10}`, http.StatusAccepted, 10},
		{"zero", `{"count": 0}`, http.StatusBadRequest, 0},
		{"too_large", `{"count": 101}`, http.StatusBadRequest, 0},
		{"invalid_json", "not json", http.StatusBadRequest, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cam := &fakeCamera{}
			srv, _ := newTestServer(t, cam, nil, 0)
			w := do(t, srv.Mux(), http.MethodPost, "/burst", tc.body)
			assert.Equal(t, tc.code, w.Code)
			if tc.code == http.StatusAccepted {
				assert.Equal(t, []int{tc.count}, cam.bursts)
			} else {
				assert.Empty(t, cam.bursts)
			}
		})
	}
}

// ---------- State and images ----------

func TestHandleState(t *testing.T) {
	cam := &fakeCamera{status: session.Status{Phase: "previewing", DeviceID: "0", Facing: "back"}}
	srv, _ := newTestServer(t, cam, nil, 0)

	w := do(t, srv.Mux(), http.MethodGet, "/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"phase":"previewing"`)
	assert.Contains(t, w.Body.String(), `"device_id":"0"`)
}

func TestHandleImages(t *testing.T) {
	taken := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	images := &fakeImages{entries: []catalog.Entry{{ID: 1, Title: "IMG_1", DisplayName: "IMG_1.jpeg", DateTaken: taken}}}
	srv, _ := newTestServer(t, &fakeCamera{}, images, 0)
	mux := srv.Mux()

	w := do(t, mux, http.MethodGet, "/images", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultListLimit, images.limit)
	assert.Contains(t, w.Body.String(), `"display_name":"IMG_1.jpeg"`)

	w = do(t, mux, http.MethodGet, "/images?limit=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, images.limit)

	for _, bad := range []string{"0", "-1", "501", "abc"} {
		w = do(t, mux, http.MethodGet, "/images?limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestHandleImages_EmptyAndError(t *testing.T) {
	images := &fakeImages{}
	srv, _ := newTestServer(t, &fakeCamera{}, images, 0)
	w := do(t, srv.Mux(), http.MethodGet, "/images", "")
	assert.Equal(t, "[]\n", w.Body.String())

	images.err = errors.New("disk I/O error")
	w = do(t, srv.Mux(), http.MethodGet, "/images", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	srv, _ = newTestServer(t, &fakeCamera{}, nil, 0)
	w = do(t, srv.Mux(), http.MethodGet, "/images", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ---------- Index, metrics ----------

func TestServeIndex(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCamera{}, nil, 0)
	w := do(t, srv.Mux(), http.MethodGet, "/", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "<html>")
}

func TestEmbeddedIndex(t *testing.T) {
	b := NewStatusBroadcaster()
	srv, err := NewServer(Options{}, b, &fakeCamera{}, nil, nil)
	require.NoError(t, err)
	w := do(t, srv.Mux(), http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stillcam")
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCamera{}, nil, 0)
	w := do(t, srv.Mux(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

// ---------- Streams ----------

func TestStatusStream(t *testing.T) {
	srv, b := newTestServer(t, &fakeCamera{}, nil, 0)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/status/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.Eventually(t, func() bool { return b.Clients() == 1 }, time.Second, 5*time.Millisecond)
	b.Broadcast("info", "streamed")

	for {
		line, err = r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	assert.Contains(t, line, `"msg":"streamed"`)
}

func TestThumbnailSocket(t *testing.T) {
	hub := NewThumbnailHub()
	hub.PublishThumbnail(persist.Thumbnail{Name: "IMG_1.jpeg", Width: 2, Height: 1, JPEG: []byte{0xff, 0xd8}})

	ts := httptest.NewServer(hub)
	defer ts.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var meta persist.Thumbnail
	require.NoError(t, conn.ReadJSON(&meta))
	assert.Equal(t, "IMG_1.jpeg", meta.Name)
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, []byte{0xff, 0xd8}, data)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	hub.PublishThumbnail(persist.Thumbnail{Name: "IMG_2.jpeg", JPEG: []byte{1}})
	require.NoError(t, conn.ReadJSON(&meta))
	assert.Equal(t, "IMG_2.jpeg", meta.Name)

	last, ok := hub.Last()
	require.True(t, ok)
	assert.Equal(t, "IMG_2.jpeg", last.Name)
}
