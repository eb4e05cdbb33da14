package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/streampilot/bot"
	"github.com/onnwee/streampilot/overlay"
	"github.com/onnwee/streampilot/telemetry"
)

type fakeManager struct {
	startResult bot.StartResult
	stopResult  bot.StopResult
	startErr    error
	running     map[string]bool

	lastStarted string
	lastStopped string
}

func (m *fakeManager) Start(ctx context.Context, channel string) (bot.StartResult, error) {
	m.lastStarted = channel
	return m.startResult, m.startErr
}

func (m *fakeManager) Stop(ctx context.Context, channel string) (bot.StopResult, error) {
	m.lastStopped = channel
	return m.stopResult, nil
}

func (m *fakeManager) Status(channel string) bool { return m.running[channel] }

func (m *fakeManager) Running() map[string]time.Time {
	out := make(map[string]time.Time)
	for ch, on := range m.running {
		if on {
			out[ch] = time.Now()
		}
	}
	return out
}

func newTestMux(t *testing.T, m BotManager, reg OverlayRegistry) http.Handler {
	t.Helper()
	telemetry.Init()
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	t.Setenv("ADMIN_TOKEN", "")
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewMux(ctx, nil, m, reg)
}

func TestBotStartEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		result     bot.StartResult
		wantStatus int
	}{
		{"started", bot.StartStarted, http.StatusOK},
		{"already running", bot.StartAlreadyRunning, http.StatusOK},
		{"unauthorized", bot.StartUnauthorized, http.StatusForbidden},
		{"connect error", bot.StartConnectError, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm := &fakeManager{startResult: tt.result}
			mux := newTestMux(t, fm, overlay.NewRegistry())

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bot/start?channel=SomeStreamer", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var body startResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Result != string(tt.result) {
				t.Errorf("result = %q, want %q", body.Result, tt.result)
			}
			if fm.lastStarted != "somestreamer" {
				t.Errorf("started channel = %q, want lowercased", fm.lastStarted)
			}
		})
	}
}

func TestBotStartValidation(t *testing.T) {
	fm := &fakeManager{startResult: bot.StartStarted}
	mux := newTestMux(t, fm, overlay.NewRegistry())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bot/start", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing channel: status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bot/start?channel=x", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET start: status = %d, want 405", rec.Code)
	}
}

func TestBotStopAndStatusEndpoints(t *testing.T) {
	fm := &fakeManager{stopResult: bot.StopStopped, running: map[string]bool{"somestreamer": true}}
	mux := newTestMux(t, fm, overlay.NewRegistry())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bot/stop?channel=SomeStreamer", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rec.Code)
	}
	if fm.lastStopped != "somestreamer" {
		t.Errorf("stopped channel = %q", fm.lastStopped)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bot/status?channel=somestreamer", nil))
	var body struct {
		Running bool `json:"running"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Running {
		t.Error("status should report running")
	}
}

func TestOverlayEndpointDefaults(t *testing.T) {
	fm := &fakeManager{running: map[string]bool{}}
	reg := overlay.NewRegistry()
	mux := newTestMux(t, fm, reg)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/overlay/somestreamer", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body overlayState
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Overlay != overlay.Placeholder {
		t.Errorf("overlay = %q, want placeholder", body.Overlay)
	}
	if body.Running {
		t.Error("running should be false with no session")
	}
}

func TestOverlayEndpointAfterPublish(t *testing.T) {
	fm := &fakeManager{running: map[string]bool{"somestreamer": true}}
	reg := overlay.NewRegistry()
	reg.Publish("somestreamer", "@viewer hello there")
	mux := newTestMux(t, fm, reg)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/overlay/SomeStreamer", nil))
	var body overlayState
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Overlay != "@viewer hello there" || !body.Running {
		t.Errorf("body = %+v", body)
	}
}

func TestOverlayManualPublish(t *testing.T) {
	fm := &fakeManager{running: map[string]bool{"somestreamer": true}}
	reg := overlay.NewRegistry()
	mux := newTestMux(t, fm, reg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/overlay/somestreamer",
		strings.NewReader(`{"text":"  Raid incoming! "}`))
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body overlayState
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Overlay != "Raid incoming!" {
		t.Errorf("overlay = %q, want trimmed text", body.Overlay)
	}
	if text, _ := reg.Read("somestreamer"); text != "Raid incoming!" {
		t.Errorf("registry holds %q after publish", text)
	}
}

func TestOverlayManualPublishValidation(t *testing.T) {
	fm := &fakeManager{}
	mux := newTestMux(t, fm, overlay.NewRegistry())

	tests := []struct {
		name string
		body string
	}{
		{"empty text", `{"text":"   "}`},
		{"missing text", `{}`},
		{"bad json", `{"text":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/overlay/somestreamer",
				strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/overlay/somestreamer", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE status = %d, want 405", rec.Code)
	}
}

func TestOverlayPublishRequiresAdmin(t *testing.T) {
	fm := &fakeManager{}
	reg := overlay.NewRegistry()
	telemetry.Init()
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	t.Setenv("ADMIN_TOKEN", "sekret")
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	mux := NewMux(ctx, nil, fm, reg)

	// Reads stay public.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/overlay/somestreamer", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", rec.Code)
	}

	// Writes need the admin token.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/overlay/somestreamer",
		strings.NewReader(`{"text":"hi"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated POST status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/overlay/somestreamer",
		strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("X-Admin-Token", "sekret")
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated POST status = %d, want 200", rec.Code)
	}
	if text, _ := reg.Read("somestreamer"); text != "hi" {
		t.Errorf("registry holds %q after authed publish", text)
	}
}

func TestStatusEndpoint(t *testing.T) {
	fm := &fakeManager{running: map[string]bool{"alpha": true, "beta": true}}
	mux := newTestMux(t, fm, overlay.NewRegistry())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var body struct {
		Sessions map[string]string `json:"sessions"`
		Count    int               `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || len(body.Sessions) != 2 {
		t.Errorf("body = %+v", body)
	}
}

func TestCorrelationIDHeader(t *testing.T) {
	fm := &fakeManager{running: map[string]bool{}}
	mux := newTestMux(t, fm, overlay.NewRegistry())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("generated correlation ID missing from response")
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	mux.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("correlation ID = %q, want the one supplied", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	fm := &fakeManager{}
	mux := newTestMux(t, fm, overlay.NewRegistry())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/status", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("CORS headers missing on preflight")
	}
}

func TestOverlaySSEStream(t *testing.T) {
	fm := &fakeManager{running: map[string]bool{"somestreamer": true}}
	reg := overlay.NewRegistry()
	mux := newTestMux(t, fm, reg)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/overlay/somestreamer/live")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	events := make(chan overlayState, 4)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			payload, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var st overlayState
			if err := json.Unmarshal([]byte(payload), &st); err != nil {
				continue
			}
			events <- st
		}
	}()

	// First event carries the current value right away.
	select {
	case st := <-events:
		if st.Overlay != overlay.Placeholder || !st.Running {
			t.Fatalf("initial event = %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial SSE event")
	}

	reg.Publish("somestreamer", "@viewer fresh reply")

	select {
	case st := <-events:
		if st.Overlay != "@viewer fresh reply" {
			t.Fatalf("update event = %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("published update never arrived on the stream")
	}
}
