package bot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/onnwee/streampilot/db"
)

// DBRecorder is the production Recorder, writing chat lines, usage rows, and
// system events through the shared database handle.
type DBRecorder struct {
	DB *sql.DB
}

func (r DBRecorder) RecordChatLine(ctx context.Context, channel, username, message, badges, color string) error {
	return db.InsertChatMessage(ctx, r.DB, channel, username, message, badges, color)
}

func (r DBRecorder) RecordAIUsage(ctx context.Context, channel string, tokens int) error {
	return db.InsertAIUsage(ctx, r.DB, channel, tokens)
}

func (r DBRecorder) RecordEvent(ctx context.Context, event, channel, detail string) error {
	return db.LogEvent(ctx, r.DB, event, channel, detail)
}

// runningChannelsKey names the kv row holding the JSON list of channels with
// live sessions, written on every registry change and read back on boot.
const runningChannelsKey = "running_channels"

// DBSessionStore persists the running-channel set through the kv table.
type DBSessionStore struct {
	DB *sql.DB
}

func (s DBSessionStore) SaveRunning(ctx context.Context, channels []string) error {
	sort.Strings(channels)
	raw, err := json.Marshal(channels)
	if err != nil {
		return fmt.Errorf("encode running channels: %w", err)
	}
	return db.SetKV(ctx, s.DB, runningChannelsKey, string(raw))
}

func (s DBSessionStore) LoadRunning(ctx context.Context) ([]string, error) {
	raw, found, err := db.GetKV(ctx, s.DB, runningChannelsKey)
	if err != nil || !found {
		return nil, err
	}
	var channels []string
	if err := json.Unmarshal([]byte(raw), &channels); err != nil {
		return nil, fmt.Errorf("decode running channels: %w", err)
	}
	return channels, nil
}
