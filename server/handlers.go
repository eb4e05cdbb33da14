package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/streampilot/bot"
	"github.com/onnwee/streampilot/db"
	"github.com/onnwee/streampilot/telemetry"
)

// BotManager is the slice of the session manager the handlers drive.
type BotManager interface {
	Start(ctx context.Context, channel string) (bot.StartResult, error)
	Stop(ctx context.Context, channel string) (bot.StopResult, error)
	Status(channel string) bool
	Running() map[string]time.Time
}

// OverlayRegistry is the slice of the overlay store the handlers drive.
type OverlayRegistry interface {
	Read(channel string) (string, time.Time)
	Publish(channel, text string)
	Subscribe(ctx context.Context, channel string) <-chan string
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db       *sql.DB
	manager  BotManager
	registry OverlayRegistry
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(dbx *sql.DB, manager BotManager, registry OverlayRegistry) *Handlers {
	return &Handlers{db: dbx, manager: manager, registry: registry}
}

// startResponse is the body for session lifecycle endpoints.
type startResponse struct {
	Channel string `json:"channel"`
	Result  string `json:"result"`
}

// HandleBotStart starts a chat session for ?channel=.
func (h *Handlers) HandleBotStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	channel, ok := requireChannelQuery(w, r)
	if !ok {
		return
	}
	res, err := h.manager.Start(r.Context(), channel)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("bot start failed", "channel", channel, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, statusForStart(res), startResponse{Channel: channel, Result: string(res)})
}

// HandleBotStop stops the chat session for ?channel=.
func (h *Handlers) HandleBotStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	channel, ok := requireChannelQuery(w, r)
	if !ok {
		return
	}
	res, err := h.manager.Stop(r.Context(), channel)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("bot stop failed", "channel", channel, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{Channel: channel, Result: string(res)})
}

// HandleBotStatus reports whether the session for ?channel= is live.
func (h *Handlers) HandleBotStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	channel, ok := requireChannelQuery(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel": channel,
		"running": h.manager.Status(channel),
	})
}

// statusForStart maps a start outcome to an HTTP status. Unauthorized and
// connection failures are reported on the admin surface, not hidden behind 200.
func statusForStart(res bot.StartResult) int {
	switch res {
	case bot.StartUnauthorized:
		return http.StatusForbidden
	case bot.StartConnectError:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

// HandleSettings reads or replaces the feature toggles at /settings/{channel}.
func (h *Handlers) HandleSettings(w http.ResponseWriter, r *http.Request) {
	channel, ok := channelFromPath(w, r, "/settings/")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		s, err := db.GetSettings(r.Context(), h.db, channel)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, s)
	case http.MethodPost, http.MethodPut:
		var s db.Settings
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if err := db.UpsertSettings(r.Context(), h.db, channel, s); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, s)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// subscriptionRequest is the write body for /subscriptions/{channel}, fed by
// the billing webhook relay.
type subscriptionRequest struct {
	Email  string `json:"email"`
	Status string `json:"status"`
}

// HandleSubscription records a subscription state change at
// /subscriptions/{channel}, or reports the stored status on GET.
func (h *Handlers) HandleSubscription(w http.ResponseWriter, r *http.Request) {
	channel, ok := channelFromPath(w, r, "/subscriptions/")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		status, err := db.SubscriptionStatus(r.Context(), h.db, channel)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"channel": channel, "status": status})
	case http.MethodPost:
		var req subscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if err := db.UpsertSubscription(r.Context(), h.db, channel, req.Email, req.Status); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"channel": channel, "status": req.Status})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleUsage aggregates AI usage at /usage/{channel}?days=N (default 30).
func (h *Handlers) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	channel, ok := channelFromPath(w, r, "/usage/")
	if !ok {
		return
	}
	days := parseIntQuery(r, "days", 30)
	if days <= 0 || days > 365 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days)
	u, err := db.GetUsageSummary(r.Context(), h.db, channel, since)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel": channel,
		"days":    days,
		"calls":   u.Calls,
		"tokens":  u.Tokens,
	})
}

// overlayState is one overlay payload, mirrored in the SSE events.
type overlayState struct {
	Running bool   `json:"running"`
	Overlay string `json:"overlay"`
}

// HandleOverlayDispatcher routes /overlay/{channel} and /overlay/{channel}/live.
func (h *Handlers) HandleOverlayDispatcher(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/overlay/")
	if channel, okSuffix := strings.CutSuffix(rest, "/live"); okSuffix {
		if channel = normalizePathChannel(channel); channel == "" {
			http.Error(w, "missing channel", http.StatusBadRequest)
			return
		}
		h.handleOverlaySSE(w, r, channel)
		return
	}
	channel := normalizePathChannel(rest)
	if channel == "" {
		http.Error(w, "missing channel", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
		text, _ := h.registry.Read(channel)
		writeJSON(w, http.StatusOK, overlayState{Running: h.manager.Status(channel), Overlay: text})
	case http.MethodPost:
		h.handleOverlayPublish(w, r, channel)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// overlayPublishRequest is the write body for POST /overlay/{channel}.
type overlayPublishRequest struct {
	Text string `json:"text"`
}

// handleOverlayPublish lets the streamer push arbitrary overlay text outside
// the AI pipeline. Admin-authed; every connected viewer sees the update.
func (h *Handlers) handleOverlayPublish(w http.ResponseWriter, r *http.Request, channel string) {
	var req overlayPublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		http.Error(w, "missing text", http.StatusBadRequest)
		return
	}
	h.registry.Publish(channel, req.Text)
	telemetry.LoggerWithCorr(r.Context()).Info("overlay published", "channel", channel)
	writeJSON(w, http.StatusOK, overlayState{Running: h.manager.Status(channel), Overlay: req.Text})
}

// handleOverlaySSE streams overlay updates using Server-Sent Events. The
// subscription delivers the current value immediately, then every update;
// heartbeats keep intermediaries from closing the idle stream.
func (h *Handlers) handleOverlaySSE(w http.ResponseWriter, r *http.Request, channel string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	updates := h.registry.Subscribe(ctx, channel)
	telemetry.AddOverlayViewers(1)
	defer telemetry.AddOverlayViewers(-1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	enc := json.NewEncoder(w)
	writeEvent := func(text string) bool {
		if _, err := w.Write([]byte("data: ")); err != nil {
			return false
		}
		if err := enc.Encode(overlayState{Running: h.manager.Status(channel), Overlay: text}); err != nil {
			return false
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case text, open := <-updates:
			if !open {
				return
			}
			if !writeEvent(text) {
				return
			}
		case <-heartbeat.C:
			text, _ := h.registry.Read(channel)
			if !writeEvent(text) {
				return
			}
		}
	}
}

// HandleStatus reports the live session inventory.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	running := h.manager.Running()
	sessions := make(map[string]string, len(running))
	for ch, at := range running {
		sessions[ch] = at.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"schema", func() error {
			var n int
			return h.db.QueryRowContext(r.Context(),
				"SELECT COUNT(*) FROM subscriptions").Scan(&n)
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
