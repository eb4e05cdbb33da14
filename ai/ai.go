// Package ai wraps external text-generation APIs behind a single Client
// interface. Implementations are stateless request/response wrappers: they do
// not retry internally (retry policy belongs to the caller) and they respect
// the deadline on the supplied context so a slow upstream cannot stall a chat
// session's message loop.
package ai

import (
	"context"
	"errors"
	"time"
)

// systemPrompt keeps replies suitable for a public chat overlay.
const systemPrompt = "You are a Twitch streamer assistant. Keep replies short, funny, and engaging."

const (
	maxReplyTokens = 120
	temperature    = 0.8

	// DefaultTimeout bounds a generate call when the caller's context carries
	// no deadline of its own.
	DefaultTimeout = 5 * time.Second
)

// Reply is a generated reply plus a token count usable as a cost proxy for
// usage accounting. Tokens is the upstream-reported total when available,
// otherwise a rough estimate.
type Reply struct {
	Text   string
	Tokens int
}

// Client generates one reply for one prompt.
type Client interface {
	Generate(ctx context.Context, prompt string) (Reply, error)
}

// ErrEmptyReply is returned when the upstream answered successfully but with
// no usable text.
var ErrEmptyReply = errors.New("ai: upstream returned empty reply")

// withDefaultTimeout applies DefaultTimeout when ctx has no deadline.
func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}

// estimateTokens approximates token usage at four characters per token, the
// common rule of thumb for English chat text.
func estimateTokens(prompt, reply string) int {
	n := (len(prompt) + len(reply)) / 4
	if n < 1 {
		n = 1
	}
	return n
}
