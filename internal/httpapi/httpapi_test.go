package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/bridge"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/color"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/document"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/queue"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/relay"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/state"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type echoExecutor struct{}

func (echoExecutor) Query(_ context.Context, resource string) ([]string, error) {
	return []string{"query " + resource}, nil
}

func (echoExecutor) Command(_ context.Context, path string, _ document.Map, _ string) ([]string, error) {
	return []string{"command " + path}, nil
}

func (echoExecutor) Create(_ context.Context, path string, _ document.Map) ([]string, error) {
	return []string{"create " + path}, nil
}

type fixture struct {
	srv      *Server
	registry *relay.Registry
	store    *state.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	log := testLogger()
	store := state.NewStore(state.Options{DeviceTypes: []string{"Room"}, Gamut: color.GamutC}, log)
	doc, err := document.Parse([]byte(`{"lights":{"1":{"name":"Desk","state":{"on":true,"bri":10}}},"groups":{},"sensors":{}}`))
	if err != nil {
		t.Fatal(err)
	}
	store.ApplyPoll(doc)

	registry := relay.NewRegistry()
	out := queue.New(queue.DefaultCapacity)
	handler := relay.NewHandler(relay.HandlerConfig{Version: "test"}, echoExecutor{}, store, registry, out, log)

	stats := Stats{
		Poll:       func() bridge.PollStats { return bridge.PollStats{Polls: 7} },
		Restarts:   func() uint64 { return 2 },
		QueueDepth: out.Len,
	}
	srv := NewServer(Config{Version: "test", WriteTimeout: time.Second}, handler, registry, store, stats, log)
	return fixture{srv: srv, registry: registry, store: store}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	rec := get(t, f.srv.Handler(), "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Version != "test" || resp.Devices != 1 || resp.Clients != 0 {
		t.Errorf("status = %+v", resp)
	}
	if resp.Poll == nil || resp.Poll.Polls != 7 {
		t.Errorf("poll = %+v, want 7 polls", resp.Poll)
	}
	if resp.WatchdogRestarts == nil || *resp.WatchdogRestarts != 2 {
		t.Errorf("watchdog_restarts = %v, want 2", resp.WatchdogRestarts)
	}
	if resp.Delivered != nil {
		t.Errorf("delivered = %v, want omitted", *resp.Delivered)
	}
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		path string
		code int
		want string
	}{
		{"/api/snapshot", http.StatusOK, `"Desk"`},
		{"/api/snapshot/lights", http.StatusOK, `"Desk"`},
		{"/api/snapshot/groups", http.StatusOK, `{}`},
		{"/api/snapshot/scenes", http.StatusNotFound, `unknown category`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, f.srv.Handler(), tt.path)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %s, want it to contain %s", rec.Body.String(), tt.want)
			}
		})
	}
}

func TestWebSocketSession(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := transport.DialWS(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", testLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	banner, err := conn.ReadLine()
	if err != nil {
		t.Fatalf("read banner: %v", err)
	}
	if banner != relay.Banner("test") {
		t.Errorf("banner = %q", banner)
	}

	replay, err := conn.ReadLine()
	if err != nil {
		t.Fatalf("read replay: %v", err)
	}
	if !strings.HasPrefix(replay, `{"light":{"id":"1"`) {
		t.Errorf("replay = %q", replay)
	}

	if err := conn.WriteLine("lights"); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := conn.ReadLine()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply != "query lights" {
		t.Errorf("reply = %q", reply)
	}

	clients := get(t, f.srv.Handler(), "/api/clients").Body.String()
	if !strings.Contains(clients, `"transport":"websocket"`) {
		t.Errorf("clients = %s", clients)
	}

	conn.WriteLine("close")
	deadline := time.Now().Add(2 * time.Second)
	for f.registry.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := f.registry.Len(); n != 0 {
		t.Errorf("registry holds %d clients after close", n)
	}
}
