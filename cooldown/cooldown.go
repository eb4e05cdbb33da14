// Package cooldown implements a per (channel, command) fixed-window rate limiter
// for chat commands. The window starts at the last allowed invocation; throttled
// attempts do not extend it, so spamming a command never pushes back the next
// allowed time.
package cooldown

import (
	"sync"
	"time"
)

// DefaultWindow is used when the caller passes a non-positive window.
const DefaultWindow = 5 * time.Second

// Tracker remembers the last allowed invocation per (channel, command) pair.
// Safe for concurrent use across sessions.
type Tracker struct {
	mu   sync.Mutex
	last map[key]time.Time

	// now is swappable in tests.
	now func() time.Time
}

type key struct {
	channel string
	command string
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{last: make(map[key]time.Time), now: time.Now}
}

// Allow reports whether the command may fire now for the channel, recording the
// invocation time if so. The first invocation for a pair is always allowed. A
// throttled attempt leaves the recorded time untouched.
func (t *Tracker) Allow(channel, command string, window time.Duration) bool {
	if window <= 0 {
		window = DefaultWindow
	}
	k := key{channel: channel, command: command}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if fired, ok := t.last[k]; ok && now.Sub(fired) < window {
		return false
	}
	t.last[k] = now

	// Opportunistic pruning keeps the map from growing without bound on
	// long-lived processes with churning channels.
	if len(t.last) > 4096 {
		t.prune(now)
	}
	return true
}

// Reset forgets all recorded invocations for a channel. Called when a session
// is torn down so a restarted channel begins with a clean slate.
func (t *Tracker) Reset(channel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.last {
		if k.channel == channel {
			delete(t.last, k)
		}
	}
}

// prune drops entries older than an hour. Caller must hold mu.
func (t *Tracker) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	for k, fired := range t.last {
		if fired.Before(cutoff) {
			delete(t.last, k)
		}
	}
}
