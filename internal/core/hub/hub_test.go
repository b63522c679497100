package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientURL(t *testing.T) {
	c := NewClient("10.0.0.2", "abc", 0, testLogger())
	tests := []struct {
		path string
		want string
	}{
		{"", "http://10.0.0.2/api/abc"},
		{"lights", "http://10.0.0.2/api/abc/lights"},
		{"/lights/1/state", "http://10.0.0.2/api/abc/lights/1/state"},
	}
	for _, tt := range tests {
		if got := c.URL(tt.path); got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestGetObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/key/lights" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"1":{"state":{"on":true,"bri":200}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", time.Second, testLogger())
	got, err := c.GetObject(context.Background(), "lights")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if _, ok := got["1"]; !ok {
		t.Errorf("missing light 1 in %v", got)
	}
}

func TestGetHubErrorReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"error":{"type":1,"address":"/","description":"unauthorized user"}}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad", time.Second, testLogger())
	_, err := c.Get(context.Background(), "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Type != 1 || apiErr.Description != "unauthorized user" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestGetHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", time.Second, testLogger())
	if _, err := c.Get(context.Background(), ""); err == nil {
		t.Fatal("expected error for HTTP 503")
	}
}

func TestPutSendsBody(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`[{"success":{"/lights/1/state/bri":200}}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", time.Second, testLogger())
	acks, err := c.Put(context.Background(), "lights/1/state", map[string]any{"bri": 200})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if gotBody["bri"] != float64(200) {
		t.Errorf("body = %v", gotBody)
	}
	if len(acks) != 1 || acks[0].Success["/lights/1/state/bri"] != float64(200) {
		t.Errorf("acks = %+v", acks)
	}
}

func TestDiscover(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    string
		wantErr error
	}{
		{"first", `[{"id":"a","internalipaddress":"192.168.1.20"},{"id":"b","internalipaddress":"192.168.1.21"}]`, "192.168.1.20", nil},
		{"empty", `[]`, "", ErrDiscoveryEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.reply))
			}))
			defer srv.Close()

			got, err := Discover(context.Background(), srv.URL, time.Second)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Discover = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPairRetriesUntilLinkButton(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["devicetype"] != "HTTPBridge" {
			t.Errorf("devicetype = %q", body["devicetype"])
		}
		if calls.Add(1) < 3 {
			w.Write([]byte(`[{"error":{"type":101,"address":"","description":"link button not pressed"}}]`))
			return
		}
		w.Write([]byte(`[{"success":{"username":"newkey"}}]`))
	}))
	defer srv.Close()

	key, err := Pair(context.Background(), srv.URL, "HTTPBridge", 5*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if key != "newkey" {
		t.Errorf("key = %q", key)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestPairCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"error":{"type":101,"address":"","description":"link button not pressed"}}]`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := Pair(ctx, srv.URL, "HTTPBridge", time.Hour, testLogger()); err == nil {
		t.Fatal("expected error after cancellation")
	}
}
