package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/ringwire/internal/observability"
	"github.com/danmuck/ringwire/internal/testutil/testlog"
)

type fakeStatus struct {
	addrs []net.Addr
	conns int
}

func (f *fakeStatus) ActiveConnections() int { return f.conns }
func (f *fakeStatus) Addrs() []net.Addr      { return f.addrs }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthRoute(t *testing.T) {
	testlog.Start(t)
	a := New(&fakeStatus{}, nil, "test", log.Logger)
	rec := get(t, a.Handler(), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestReadyReflectsListeners(t *testing.T) {
	testlog.Start(t)
	st := &fakeStatus{}
	a := New(st, nil, "test", log.Logger)
	if rec := get(t, a.Handler(), "/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("no listeners: status=%d", rec.Code)
	}

	st.addrs = []net.Addr{&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2345}}
	st.conns = 3
	rec := get(t, a.Handler(), "/ready")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var body struct {
		Ready       bool     `json:"ready"`
		Listeners   []string `json:"listeners"`
		Connections int      `json:"connections"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Ready || len(body.Listeners) != 1 || body.Listeners[0] != "127.0.0.1:2345" || body.Connections != 3 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestMetricsRouteExposesRingwireCollectors(t *testing.T) {
	testlog.Start(t)
	a := New(&fakeStatus{}, nil, "test", log.Logger)
	observability.RecordFrame(observability.DirectionSent, "REQUEST_FINISH", 8)
	rec := get(t, a.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ringwire_frames_total") {
		t.Fatalf("metrics output missing ringwire_frames_total")
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	testlog.Start(t)
	a := New(&fakeStatus{}, []string{"http://dash.local"}, "test", log.Logger)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://dash.local")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://dash.local" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	a := New(&fakeStatus{}, nil, "test", log.Logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, addr) }()

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get(fmt.Sprintf("http://%s/health", addr))
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("admin never came up: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("admin did not stop")
	}
}

func TestRequestsLogToGivenLogger(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	logger := zerolog.New(&buf).With().Str("app", "ringwire").Logger()
	a := New(&fakeStatus{}, nil, "test", logger)
	if rec := get(t, a.Handler(), "/missing"); rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
	line := buf.String()
	if !strings.Contains(line, `"message":"admin_request"`) || !strings.Contains(line, `"app":"ringwire"`) {
		t.Fatalf("request not logged through tagged logger: %q", line)
	}
}
