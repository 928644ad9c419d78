package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/CK6170/Intellispec-go/acquisition"
	"github.com/CK6170/Intellispec-go/internal/metrics"
	"github.com/CK6170/Intellispec-go/models"
)

type stubLink struct {
	lines chan []byte
	lost  chan error
	once  sync.Once
}

func newStubLink() *stubLink {
	return &stubLink{lines: make(chan []byte, 8), lost: make(chan error, 1)}
}

func (l *stubLink) Lines() <-chan []byte { return l.lines }
func (l *stubLink) Lost() <-chan error   { return l.lost }
func (l *stubLink) Write([]byte) error   { return nil }

func (l *stubLink) Close() error {
	l.once.Do(func() { close(l.lines) })
	return nil
}

type harness struct {
	srv   *Server
	ctrl  *acquisition.Controller
	mu    sync.Mutex
	links map[string]*stubLink
	dials []string
}

func newHarness(t *testing.T, cachePath string) *harness {
	t.Helper()
	h := &harness{links: map[string]*stubLink{}}
	m := metrics.New()
	h.ctrl = acquisition.New(acquisition.Options{
		Serial:  models.SERIAL{PORT: "COM1"},
		Metrics: m,
		Dialer: func(_ context.Context, ser models.SERIAL) (acquisition.Link, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.dials = append(h.dials, ser.PORT)
			if ser.PORT == "COM404" {
				return nil, errors.New("no such device")
			}
			l := newStubLink()
			h.links[ser.PORT] = l
			return l, nil
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h.srv = New(Options{
		Controller: h.ctrl,
		Serial:     models.SERIAL{PORT: "COM1"},
		Metrics:    m,
		PortCache:  cachePath,
		ListPorts: func() []models.PortInfo {
			return []models.PortInfo{{Name: "COM3", IsUSB: true, VID: "2341", PID: "0043"}}
		},
	})
	return h
}

func (h *harness) link(port string) *stubLink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.links[port]
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndPorts(t *testing.T) {
	h := newHarness(t, "")

	rec := h.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[HealthResponse](t, rec).OK)

	rec = h.do(t, http.MethodGet, "/api/ports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ports := decode[PortsResponse](t, rec)
	require.Len(t, ports.Ports, 1)
	assert.Equal(t, "COM3", ports.Ports[0].Name)
	assert.Empty(t, ports.LastPort)
}

func TestWorkflowOverHTTP(t *testing.T) {
	h := newHarness(t, "")

	rec := h.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[acquisition.Status](t, rec)
	assert.Equal(t, models.Disconnected, st.Phase)

	rec = h.do(t, http.MethodPost, "/api/calibrate", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_connected", decode[APIError](t, rec).Code)

	rec = h.do(t, http.MethodPost, "/api/connect", `{"port":"COM3"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st = decode[acquisition.Status](t, rec)
	assert.Equal(t, models.Idle, st.Phase)
	assert.Equal(t, "COM3", st.Port)
	assert.True(t, st.ActionsEnabled)

	rec = h.do(t, http.MethodPost, "/api/calibrate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.Calibrating, decode[acquisition.Status](t, rec).Phase)

	rec = h.do(t, http.MethodPost, "/api/measure", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "busy", decode[APIError](t, rec).Code)

	rec = h.do(t, http.MethodPost, "/api/disconnect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.Disconnected, decode[acquisition.Status](t, rec).Phase)
}

func TestConnectErrors(t *testing.T) {
	h := newHarness(t, "")

	rec := h.do(t, http.MethodPost, "/api/connect", `{"port":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", decode[APIError](t, rec).Code)

	rec = h.do(t, http.MethodPost, "/api/connect", `{"port":"COM404"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	apiErr := decode[APIError](t, rec)
	assert.Equal(t, "connection", apiErr.Code)
	assert.Contains(t, apiErr.Error, "no such device")
}

func TestConnectWarnsAboutUnlistedPort(t *testing.T) {
	h := newHarness(t, "")
	core, logs := observer.New(zap.WarnLevel)
	h.srv.logger = zap.New(core)

	rec := h.do(t, http.MethodPost, "/api/connect", `{"port":"COM7"}`)
	require.Equal(t, http.StatusOK, rec.Code, "unlisted ports are still tried")
	warned := logs.FilterMessage("Port not among enumerated ports").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "COM7", warned[0].ContextMap()["port"])

	rec = h.do(t, http.MethodPost, "/api/connect", `{"port":"com3"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("Port not among enumerated ports").Len())
}

func TestConnectUsesLastPort(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "ports.json")
	h := newHarness(t, cache)

	rec := h.do(t, http.MethodPost, "/api/connect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "COM1", decode[acquisition.Status](t, rec).Port, "configured port when nothing cached")

	rec = h.do(t, http.MethodPost, "/api/connect", `{"port":"COM7"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/connect", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "COM7", decode[acquisition.Status](t, rec).Port)

	rec = h.do(t, http.MethodGet, "/api/ports", "")
	assert.Equal(t, "COM7", decode[PortsResponse](t, rec).LastPort)

	reloaded := NewPortCache(cache)
	assert.Equal(t, "COM7", reloaded.Get(serialKey(models.SERIAL{})))
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{models.ErrBusy, http.StatusConflict, "busy"},
		{models.ErrNotConnected, http.StatusConflict, "not_connected"},
		{models.ErrConnection, http.StatusBadGateway, "connection"},
		{models.ErrConnectionLost, http.StatusBadGateway, "io"},
		{acquisition.ErrStopped, http.StatusServiceUnavailable, "stopped"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, code := errorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, "")
	rec := h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "intellispec_phase")
}

func TestStaticWebDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>intellispec</html>"), 0o644))
	abs, err := ResolveWebDir(dir)
	require.NoError(t, err)

	h := newHarness(t, "")
	h.srv = New(Options{Controller: h.ctrl, WebDir: abs})

	rec := h.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "intellispec")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = h.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err = ResolveWebDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestWebSocketStream(t *testing.T) {
	h := newHarness(t, "")
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.srv.Forward(ctx)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/acquisition"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello struct {
		Type string             `json:"type"`
		Data acquisition.Status `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "status", hello.Type)
	assert.Equal(t, models.Disconnected, hello.Data.Phase)

	require.Eventually(t, func() bool { return h.srv.hub.Len() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.ctrl.Connect(context.Background(), "COM3"))
	require.NoError(t, h.ctrl.Measure())
	h.link("COM3").lines <- []byte("Voltage: 1.25")

	for {
		var ev models.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Kind == models.EventSnapshot {
			require.NotNil(t, ev.Snapshot)
			assert.Equal(t, 1.25, ev.Snapshot.Voltage)
			assert.Equal(t, models.Measuring, ev.Phase)
			return
		}
	}
}
