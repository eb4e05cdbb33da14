// Package bot runs one persistent Twitch chat session per subscribing channel
// and the registry that manages them. Each session consumes its channel's
// messages one at a time, matches commands, applies cooldowns, and on a
// successful AI reply speaks into chat and publishes the overlay text. Sessions
// for distinct channels run fully independently; a failure in one never
// affects another or the manager itself.
package bot

import (
	"context"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/streampilot/db"
)

// StartResult discriminates the outcome of a start request.
type StartResult string

const (
	StartStarted        StartResult = "started"
	StartAlreadyRunning StartResult = "already_running"
	StartUnauthorized   StartResult = "unauthorized"
	StartConnectError   StartResult = "connection_error"
)

// StopResult discriminates the outcome of a stop request.
type StopResult string

const (
	StopStopped    StopResult = "stopped"
	StopNotRunning StopResult = "not_running"
)

// Conn is the slice of the IRC client a session drives. *twitch.Client
// satisfies it; tests substitute a fake.
type Conn interface {
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
	OnConnect(callback func())
	OnPrivateMessage(callback func(message twitch.PrivateMessage))
}

// ConnFactory builds the IRC connection for a session.
type ConnFactory func(username, oauthToken string) Conn

// NewTwitchConn is the production ConnFactory.
func NewTwitchConn(username, oauthToken string) Conn {
	return twitch.NewClient(username, oauthToken)
}

// Authorizer answers entitlement and feature-toggle questions for a channel.
type Authorizer interface {
	IsAuthorized(ctx context.Context, channel string) (ok bool, reason string, err error)
	Toggles(ctx context.Context, channel string) (db.Settings, error)
}

// Replier generates one AI reply for one prompt.
type Replier interface {
	Generate(ctx context.Context, prompt string) (Reply, error)
}

// Reply mirrors ai.Reply without importing the provider package here.
type Reply struct {
	Text   string
	Tokens int
}

// OverlayPublisher receives the overlay text for a channel.
type OverlayPublisher interface {
	Publish(channel, text string)
}

// Recorder hands records to the external accounting and log sinks. All methods
// return errors so call sites can state their drop-on-error policy explicitly.
type Recorder interface {
	RecordChatLine(ctx context.Context, channel, username, message, badges, color string) error
	RecordAIUsage(ctx context.Context, channel string, tokens int) error
	RecordEvent(ctx context.Context, event, channel, detail string) error
}

// SessionStore persists the set of running channels so a restarted process can
// resume the sessions it was serving before it went down.
type SessionStore interface {
	SaveRunning(ctx context.Context, channels []string) error
	LoadRunning(ctx context.Context) ([]string, error)
}

// Config carries the credentials and tuning knobs shared by all sessions.
type Config struct {
	BotUsername string
	OAuthToken  string

	// AICooldown is the per-channel window between AI commands (default 5s).
	AICooldown time.Duration
	// AITimeout bounds one generate call (default 5s).
	AITimeout time.Duration
	// ConnectTimeout bounds connection establishment on start (default 10s).
	ConnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.AICooldown <= 0 {
		c.AICooldown = 5 * time.Second
	}
	if c.AITimeout <= 0 {
		c.AITimeout = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}
