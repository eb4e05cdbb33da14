package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Settings are the per-channel feature toggles. Channels without a stored row
// get both features enabled, matching new-tenant behavior.
type Settings struct {
	AIEnabled    bool `json:"ai"`
	VoiceEnabled bool `json:"voice"`
}

// GetSettings returns the channel's toggles, defaulting to all-enabled when the
// channel has no row.
func GetSettings(ctx context.Context, dbx *sql.DB, channel string) (Settings, error) {
	s := Settings{AIEnabled: true, VoiceEnabled: true}
	err := dbx.QueryRowContext(ctx,
		`SELECT ai_enabled, voice_enabled FROM channel_settings WHERE channel=$1`, channel).
		Scan(&s.AIEnabled, &s.VoiceEnabled)
	if err == sql.ErrNoRows {
		return Settings{AIEnabled: true, VoiceEnabled: true}, nil
	}
	if err != nil {
		return s, fmt.Errorf("get settings for %s: %w", channel, err)
	}
	return s, nil
}

// UpsertSettings stores the channel's toggles wholesale.
func UpsertSettings(ctx context.Context, dbx *sql.DB, channel string, s Settings) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO channel_settings (channel, ai_enabled, voice_enabled, updated_at) VALUES ($1,$2,$3,NOW())
		 ON CONFLICT (channel) DO UPDATE SET ai_enabled=EXCLUDED.ai_enabled, voice_enabled=EXCLUDED.voice_enabled, updated_at=NOW()`,
		channel, s.AIEnabled, s.VoiceEnabled)
	if err != nil {
		return fmt.Errorf("upsert settings for %s: %w", channel, err)
	}
	return nil
}

// SubscriptionStatus returns the stored subscription status for a channel, or
// empty string when no record exists. The core only reads this; writes come
// from the billing webhook by way of UpsertSubscription.
func SubscriptionStatus(ctx context.Context, dbx *sql.DB, channel string) (string, error) {
	var status string
	err := dbx.QueryRowContext(ctx,
		`SELECT status FROM subscriptions WHERE channel=$1`, channel).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("subscription status for %s: %w", channel, err)
	}
	return status, nil
}

// UpsertSubscription records a subscription state change for a channel.
func UpsertSubscription(ctx context.Context, dbx *sql.DB, channel, email, status string) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO subscriptions (channel, email, status, updated_at) VALUES ($1,$2,$3,NOW())
		 ON CONFLICT (channel) DO UPDATE SET email=EXCLUDED.email, status=EXCLUDED.status, updated_at=NOW()`,
		channel, email, status)
	if err != nil {
		return fmt.Errorf("upsert subscription for %s: %w", channel, err)
	}
	return nil
}

// InsertAIUsage records one AI call attempt's token cost for the channel.
func InsertAIUsage(ctx context.Context, dbx *sql.DB, channel string, tokens int) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO ai_usage (channel, tokens, created_at) VALUES ($1,$2,NOW())`, channel, tokens)
	if err != nil {
		return fmt.Errorf("insert ai usage for %s: %w", channel, err)
	}
	return nil
}

// UsageSummary aggregates AI usage for a channel.
type UsageSummary struct {
	Calls  int `json:"calls"`
	Tokens int `json:"tokens"`
}

// GetUsageSummary totals AI calls and tokens for a channel since the given time.
func GetUsageSummary(ctx context.Context, dbx *sql.DB, channel string, since time.Time) (UsageSummary, error) {
	var u UsageSummary
	err := dbx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(tokens),0) FROM ai_usage WHERE channel=$1 AND created_at >= $2`,
		channel, since).Scan(&u.Calls, &u.Tokens)
	if err != nil {
		return u, fmt.Errorf("usage summary for %s: %w", channel, err)
	}
	return u, nil
}

// InsertChatMessage records one inbound chat line for the channel.
func InsertChatMessage(ctx context.Context, dbx *sql.DB, channel, username, message, badges, color string) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO chat_messages (channel, username, message, badges, color, created_at) VALUES ($1,$2,$3,$4,$5,NOW())`,
		channel, username, message, badges, color)
	if err != nil {
		return fmt.Errorf("insert chat message for %s: %w", channel, err)
	}
	return nil
}

// LogEvent appends a row to the system event log (session start/stop, AI
// failures). Best-effort at call sites; callers log and continue on error.
func LogEvent(ctx context.Context, dbx *sql.DB, event, channel, detail string) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO system_log (event, channel, detail, created_at) VALUES ($1,$2,$3,NOW())`,
		event, channel, detail)
	if err != nil {
		return fmt.Errorf("log event %s: %w", event, err)
	}
	return nil
}

// SetKV stores a small piece of process state under a well-known key.
func SetKV(ctx context.Context, dbx *sql.DB, key, value string) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES ($1,$2,NOW())
		 ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`,
		key, value)
	if err != nil {
		return fmt.Errorf("set kv %s: %w", key, err)
	}
	return nil
}

// GetKV returns the stored value for key; found is false when no row exists.
func GetKV(ctx context.Context, dbx *sql.DB, key string) (value string, found bool, err error) {
	err = dbx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get kv %s: %w", key, err)
	}
	return value, true, nil
}
