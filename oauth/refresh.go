// Package oauth keeps the bot's stored chat credential fresh. A background
// refresher wakes on a jittered interval, checks the persisted token row, and
// refreshes it through the provider when its remaining lifetime falls inside
// the configured window. The interactive login flow that first stores a token
// lives outside this service.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/onnwee/streampilot/db"
)

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry, scope).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// StartRefresher launches a goroutine that periodically checks an oauth token row and refreshes it.
// provider: key in oauth_tokens table.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, dbx *sql.DB, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(jittered(interval)):
			}
			refreshOnce(ctx, dbx, provider, window, fn)
		}
	}()
}

// jittered adds ±20% scheduling diversity around the base interval.
func jittered(interval time.Duration) time.Duration {
	jitterRange := int64(interval / 5)
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter
	jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
	next := interval + jitter
	if next < interval/2 {
		next = interval / 2
	}
	return next
}

func refreshOnce(ctx context.Context, dbx *sql.DB, provider string, window time.Duration, fn RefreshFunc) {
	_, rt, exp, scope, err := db.GetOAuthToken(ctx, dbx, provider)
	if err != nil || rt == "" {
		return
	}
	if time.Until(exp) > window {
		return
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := fn(ctx2, rt)
	cancel()
	if err != nil {
		slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
		return
	}
	if newRT == "" {
		newRT = rt
	}
	if newScope == "" {
		newScope = scope
	}
	if err := db.UpsertOAuthToken(ctx, dbx, provider, newAT, newRT, newExp, strings.TrimSpace(newScope)); err != nil {
		slog.Warn("token persist failed", slog.String("provider", provider), slog.Any("err", err))
		return
	}
	slog.Info("token refreshed", slog.String("provider", provider))
}
