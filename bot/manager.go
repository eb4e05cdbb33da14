package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/streampilot/cooldown"
	"github.com/onnwee/streampilot/telemetry"
)

// ManagerDeps are the collaborators a Manager wires into its sessions.
type ManagerDeps struct {
	Auth     Authorizer
	Replier  Replier
	Overlay  OverlayPublisher
	Recorder Recorder
	// Sessions, when set, persists the running-channel set across restarts.
	Sessions SessionStore
	// NewConn defaults to NewTwitchConn.
	NewConn ConnFactory
}

// Manager is the registry of all active chat sessions, keyed by channel
// identity. Start/stop/status for the same channel serialize on a per-channel
// lock; operations on different channels never block each other.
type Manager struct {
	cfg       Config
	deps      ManagerDeps
	cooldowns *cooldown.Tracker
	log       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
}

// NewManager builds an empty registry.
func NewManager(cfg Config, deps ManagerDeps) *Manager {
	if deps.NewConn == nil {
		deps.NewConn = NewTwitchConn
	}
	return &Manager{
		cfg:       cfg.withDefaults(),
		deps:      deps,
		cooldowns: cooldown.NewTracker(),
		log:       slog.Default().With(slog.String("component", "bot")),
		sessions:  make(map[string]*Session),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Start authorizes the channel, creates a session, and attempts connection
// establishment. Duplicate starts are an idempotent no-op reported as
// already_running. A failed connect registers nothing.
func (m *Manager) Start(ctx context.Context, channel string) (StartResult, error) {
	channel, err := normalizeChannel(channel)
	if err != nil {
		return "", err
	}
	ctx, span := telemetry.StartSpan(ctx, "bot", "session.start", telemetry.ChannelAttr(channel))
	defer span.End()

	unlock := m.lockChannel(channel)
	defer unlock()

	if m.get(channel) != nil {
		return StartAlreadyRunning, nil
	}

	// Missing credentials are fatal to this start call only, never to the
	// manager; the admin caller sees a connection error.
	if m.cfg.BotUsername == "" || m.cfg.OAuthToken == "" {
		m.log.Error("start refused: bot credentials not configured", slog.String("channel", channel))
		return StartConnectError, nil
	}

	ok, reason, err := m.deps.Auth.IsAuthorized(ctx, channel)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("authorize %s: %w", channel, err)
	}
	if !ok {
		m.log.Info("start denied", slog.String("channel", channel), slog.String("reason", reason))
		return StartUnauthorized, nil
	}

	s := m.newSession(channel)
	if err := m.connect(ctx, s); err != nil {
		m.log.Warn("connect failed", slog.String("channel", channel), slog.Any("err", err))
		return StartConnectError, nil
	}
	m.put(channel, s)
	m.persistRunning(ctx)
	telemetry.SessionsStarted.Inc()
	if err := m.deps.Recorder.RecordEvent(ctx, "session_start", channel, ""); err != nil {
		m.log.Debug("record session start", slog.Any("err", err))
	}
	m.log.Info("session started", slog.String("channel", channel))
	return StartStarted, nil
}

// Stop tears down the channel's connection and removes the session entry. An
// in-flight AI call for the session is abandoned via context cancellation.
func (m *Manager) Stop(ctx context.Context, channel string) (StopResult, error) {
	channel, err := normalizeChannel(channel)
	if err != nil {
		return "", err
	}
	unlock := m.lockChannel(channel)
	defer unlock()

	s := m.get(channel)
	if s == nil {
		return StopNotRunning, nil
	}
	s.stop()
	m.remove(channel, s)
	m.persistRunning(ctx)
	m.cooldowns.Reset(channel)
	telemetry.SessionsStopped.Inc()
	if err := m.deps.Recorder.RecordEvent(ctx, "session_stop", channel, ""); err != nil {
		m.log.Debug("record session stop", slog.Any("err", err))
	}
	m.log.Info("session stopped", slog.String("channel", channel))
	return StopStopped, nil
}

// Status reports whether a live session exists for the channel. Pure registry
// read; never touches the network.
func (m *Manager) Status(channel string) bool {
	channel, err := normalizeChannel(channel)
	if err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[channel] != nil
}

// Running returns a snapshot of channels with live sessions and their ages.
func (m *Manager) Running() map[string]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time, len(m.sessions))
	for ch, s := range m.sessions {
		out[ch] = s.CreatedAt
	}
	return out
}

// Resume restarts the sessions recorded by the previous process. Channels that
// fail to start are logged and skipped; the count of resumed sessions is
// returned. A manager without a session store resumes nothing.
func (m *Manager) Resume(ctx context.Context) (int, error) {
	if m.deps.Sessions == nil {
		return 0, nil
	}
	channels, err := m.deps.Sessions.LoadRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("load running channels: %w", err)
	}
	resumed := 0
	for _, ch := range channels {
		res, err := m.Start(ctx, ch)
		if err != nil {
			m.log.Warn("resume failed", slog.String("channel", ch), slog.Any("err", err))
			continue
		}
		if res == StartStarted {
			resumed++
		} else if res != StartAlreadyRunning {
			m.log.Warn("resume refused", slog.String("channel", ch), slog.String("result", string(res)))
		}
	}
	return resumed, nil
}

// persistRunning snapshots the registry into the session store. Best-effort;
// a write failure costs restart recovery, never the live session.
func (m *Manager) persistRunning(ctx context.Context) {
	if m.deps.Sessions == nil {
		return
	}
	running := m.Running()
	channels := make([]string, 0, len(running))
	for ch := range running {
		channels = append(channels, ch)
	}
	if err := m.deps.Sessions.SaveRunning(ctx, channels); err != nil {
		m.log.Warn("persist running channels", slog.Any("err", err))
	}
}

// StopAll tears down every session; used on shutdown. The persisted
// running-channel set is restored afterwards so the next process resumes the
// channels this one was serving.
func (m *Manager) StopAll(ctx context.Context) {
	running := m.Running()
	for ch := range running {
		if _, err := m.Stop(ctx, ch); err != nil {
			m.log.Warn("stop on shutdown", slog.String("channel", ch), slog.Any("err", err))
		}
	}
	if m.deps.Sessions == nil || len(running) == 0 {
		return
	}
	channels := make([]string, 0, len(running))
	for ch := range running {
		channels = append(channels, ch)
	}
	if err := m.deps.Sessions.SaveRunning(ctx, channels); err != nil {
		m.log.Warn("persist running channels on shutdown", slog.Any("err", err))
	}
}

func (m *Manager) newSession(channel string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		Channel:   channel,
		CreatedAt: time.Now(),
		conn:      m.deps.NewConn(m.cfg.BotUsername, m.cfg.OAuthToken),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		cfg:       m.cfg,
		auth:      m.deps.Auth,
		replier:   m.deps.Replier,
		overlay:   m.deps.Overlay,
		cooldowns: m.cooldowns,
		rec:       m.deps.Recorder,
		log:       m.log.With(slog.String("channel", channel)),
	}
}

// connect performs connection establishment for a freshly created session. On
// success the session is Connected and a watcher goroutine owns the rest of
// its connection lifetime; on failure the session is fully torn down and the
// registry is left untouched.
func (m *Manager) connect(ctx context.Context, s *Session) error {
	ready := make(chan struct{})
	var readyOnce sync.Once
	s.conn.OnConnect(func() {
		readyOnce.Do(func() { close(ready) })
	})
	s.conn.OnPrivateMessage(s.handleMessage)
	s.conn.Join(s.Channel)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.conn.Connect()
		close(s.done)
	}()

	select {
	case <-ready:
		s.state.Store(int32(StateConnected))
		go m.watch(s, errCh)
		return nil
	case err := <-errCh:
		s.state.Store(int32(StateDisconnected))
		s.cancel()
		if err == nil {
			err = errors.New("connection closed during handshake")
		}
		return err
	case <-time.After(m.cfg.ConnectTimeout):
		s.stop()
		return errors.New("connect timeout")
	case <-ctx.Done():
		s.stop()
		return ctx.Err()
	}
}

// watch waits for the connection to end. A deliberate stop has already cleaned
// up; anything else is an unrecoverable failure, and the session unregisters
// itself so the registry only ever holds live connections.
func (m *Manager) watch(s *Session, errCh <-chan error) {
	err := <-errCh
	if s.State() == StateStopped {
		return
	}
	s.state.Store(int32(StateDisconnected))
	s.cancel()

	unlock := m.lockChannel(s.Channel)
	m.remove(s.Channel, s)
	m.persistRunning(context.Background())
	unlock()

	telemetry.SessionFailures.Inc()
	m.log.Warn("session lost", slog.String("channel", s.Channel), slog.Any("err", err))
	if recErr := m.deps.Recorder.RecordEvent(context.Background(), "session_lost", s.Channel, errString(err)); recErr != nil {
		m.log.Debug("record session lost", slog.Any("err", recErr))
	}
}

// lockChannel acquires the per-channel mutex, creating it on first use.
func (m *Manager) lockChannel(channel string) (unlock func()) {
	m.mu.Lock()
	l, ok := m.locks[channel]
	if !ok {
		l = &sync.Mutex{}
		m.locks[channel] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *Manager) get(channel string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[channel]
}

func (m *Manager) put(channel string, s *Session) {
	m.mu.Lock()
	m.sessions[channel] = s
	telemetry.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()
}

// remove drops the entry only if it still points at s, so a watcher cleaning
// up a dead session can never evict a successor started in its place.
func (m *Manager) remove(channel string, s *Session) {
	m.mu.Lock()
	if m.sessions[channel] == s {
		delete(m.sessions, channel)
	}
	telemetry.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()
}

func normalizeChannel(channel string) (string, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		return "", errors.New("empty channel")
	}
	return channel, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
