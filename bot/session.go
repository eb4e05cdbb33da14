package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/streampilot/cooldown"
	"github.com/onnwee/streampilot/telemetry"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Session is one live connection bound to exactly one channel. Owned
// exclusively by the Manager; message handling is single-threaded per session
// because the IRC client invokes callbacks sequentially.
type Session struct {
	Channel   string
	CreatedAt time.Time

	conn   Conn
	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32
	done   chan struct{}

	cfg       Config
	auth      Authorizer
	replier   Replier
	overlay   OverlayPublisher
	cooldowns *cooldown.Tracker
	rec       Recorder
	log       *slog.Logger
}

// State reports the session's current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// stop marks the session deliberately stopped and tears down the connection.
// The in-flight AI call, if any, sees the context cancellation and its result
// is discarded. Safe to call more than once.
func (s *Session) stop() {
	s.state.Store(int32(StateStopped))
	s.cancel()
	if err := s.conn.Disconnect(); err != nil {
		s.log.Debug("disconnect", slog.Any("err", err))
	}
}

// handleMessage dispatches one inbound chat line. Events for one channel are
// processed strictly in arrival order; any suspension here (the AI call) delays
// only this channel's queue.
func (s *Session) handleMessage(msg twitch.PrivateMessage) {
	// Never react to our own messages; a bot that answers itself loops.
	if strings.EqualFold(msg.User.Name, s.cfg.BotUsername) {
		return
	}
	telemetry.MessagesDispatched.Inc()

	// Chat line sink is best effort: a failed insert is logged and dropped.
	if err := s.rec.RecordChatLine(s.ctx, s.Channel, msg.User.Name, msg.Message, formatBadges(msg.User.Badges), msg.User.Color); err != nil {
		s.log.Warn("record chat line", slog.Any("err", err))
	}

	m := MatchMessage(msg.User.Name, msg.Message)
	switch m.Kind {
	case MatchBuiltin:
		telemetry.CommandsMatched.Inc()
		s.conn.Say(s.Channel, m.Reply)
	case MatchAI:
		telemetry.CommandsMatched.Inc()
		s.handleAIPrompt(msg.User.Name, m.Prompt)
	}
}

// handleAIPrompt runs the toggle, cooldown, and generate pipeline for one
// candidate prompt. Every failure path is silent in chat by contract: throttled
// and failed attempts produce no reply and no overlay update, only metrics and
// the system log.
func (s *Session) handleAIPrompt(sender, prompt string) {
	toggles, err := s.auth.Toggles(s.ctx, s.Channel)
	if err != nil {
		// Toggle store unreachable: fall back to the defaults rather than
		// going dark for the whole channel.
		s.log.Warn("toggle lookup failed, assuming defaults", slog.Any("err", err))
	} else if !toggles.AIEnabled {
		return
	}

	if !s.cooldowns.Allow(s.Channel, "ai", s.cfg.AICooldown) {
		telemetry.AICallsThrottled.Inc()
		return
	}

	telemetry.AICallsStarted.Inc()
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.AITimeout)
	defer cancel()

	var reply Reply
	var genErr error
	telemetry.TimeFunc(telemetry.AICallDuration, func() {
		reply, genErr = s.replier.Generate(ctx, prompt)
	})

	if genErr != nil {
		telemetry.AICallsFailed.Inc()
		s.log.Warn("ai generate failed", slog.Any("err", genErr))
		if err := s.rec.RecordEvent(s.ctx, "ai_failure", s.Channel, genErr.Error()); err != nil {
			s.log.Debug("record ai failure", slog.Any("err", err))
		}
		// One usage record per attempt, failed ones included.
		if err := s.rec.RecordAIUsage(s.ctx, s.Channel, 0); err != nil {
			s.log.Debug("record ai usage", slog.Any("err", err))
		}
		return
	}

	// The session may have been stopped while the call was in flight; its
	// result is discarded rather than applied to a dead session.
	if s.ctx.Err() != nil {
		return
	}

	telemetry.AICallsSucceeded.Inc()
	if err := s.rec.RecordAIUsage(s.ctx, s.Channel, reply.Tokens); err != nil {
		s.log.Warn("record ai usage", slog.Any("err", err))
	}

	text := fmt.Sprintf("@%s %s", sender, reply.Text)
	s.conn.Say(s.Channel, text)
	s.overlay.Publish(s.Channel, text)
	telemetry.OverlayPublishes.Inc()
}

// formatBadges flattens the badge map to "name:version,..." for storage.
func formatBadges(badges map[string]int) string {
	if len(badges) == 0 {
		return ""
	}
	parts := make([]string, 0, len(badges))
	for k, v := range badges {
		parts = append(parts, fmt.Sprintf("%s:%d", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
