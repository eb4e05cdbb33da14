package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"
)

// openTestDB connects to TEST_PG_DSN and migrates; skips when unset.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	dbx, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := Migrate(context.Background(), dbx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = dbx.Close() })
	return dbx
}

func TestMigrateIdempotent(t *testing.T) {
	dbx := openTestDB(t)
	if err := Migrate(context.Background(), dbx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestSettingsDefaultAndRoundTrip(t *testing.T) {
	dbx := openTestDB(t)
	ctx := context.Background()
	ch := "settings-test-" + time.Now().Format("150405.000")

	s, err := GetSettings(ctx, dbx, ch)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if !s.AIEnabled || !s.VoiceEnabled {
		t.Errorf("default settings = %+v, want all enabled", s)
	}

	if err := UpsertSettings(ctx, dbx, ch, Settings{AIEnabled: false, VoiceEnabled: true}); err != nil {
		t.Fatalf("UpsertSettings: %v", err)
	}
	s, err = GetSettings(ctx, dbx, ch)
	if err != nil {
		t.Fatalf("GetSettings after upsert: %v", err)
	}
	if s.AIEnabled || !s.VoiceEnabled {
		t.Errorf("settings = %+v, want ai disabled voice enabled", s)
	}
}

func TestSubscriptionStatus(t *testing.T) {
	dbx := openTestDB(t)
	ctx := context.Background()
	ch := "subs-test-" + time.Now().Format("150405.000")

	status, err := SubscriptionStatus(ctx, dbx, ch)
	if err != nil {
		t.Fatalf("SubscriptionStatus: %v", err)
	}
	if status != "" {
		t.Errorf("status for unknown channel = %q, want empty", status)
	}

	if err := UpsertSubscription(ctx, dbx, ch, "owner@example.com", "active"); err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}
	status, _ = SubscriptionStatus(ctx, dbx, ch)
	if status != "active" {
		t.Errorf("status = %q, want active", status)
	}

	if err := UpsertSubscription(ctx, dbx, ch, "owner@example.com", "inactive"); err != nil {
		t.Fatalf("UpsertSubscription update: %v", err)
	}
	status, _ = SubscriptionStatus(ctx, dbx, ch)
	if status != "inactive" {
		t.Errorf("status = %q, want inactive", status)
	}
}

func TestAIUsageSummary(t *testing.T) {
	dbx := openTestDB(t)
	ctx := context.Background()
	ch := "usage-test-" + time.Now().Format("150405.000")
	since := time.Now().Add(-time.Minute)

	for _, n := range []int{10, 25} {
		if err := InsertAIUsage(ctx, dbx, ch, n); err != nil {
			t.Fatalf("InsertAIUsage: %v", err)
		}
	}
	u, err := GetUsageSummary(ctx, dbx, ch, since)
	if err != nil {
		t.Fatalf("GetUsageSummary: %v", err)
	}
	if u.Calls != 2 || u.Tokens != 35 {
		t.Errorf("summary = %+v, want 2 calls / 35 tokens", u)
	}
}

func TestKVRoundTrip(t *testing.T) {
	dbx := openTestDB(t)
	ctx := context.Background()
	key := "kv-test-" + time.Now().Format("150405.000")

	if _, found, err := GetKV(ctx, dbx, key); err != nil || found {
		t.Fatalf("GetKV before set = found %v, err %v", found, err)
	}
	if err := SetKV(ctx, dbx, key, `["alpha"]`); err != nil {
		t.Fatalf("SetKV: %v", err)
	}
	if err := SetKV(ctx, dbx, key, `["alpha","beta"]`); err != nil {
		t.Fatalf("SetKV overwrite: %v", err)
	}
	value, found, err := GetKV(ctx, dbx, key)
	if err != nil || !found {
		t.Fatalf("GetKV = found %v, err %v", found, err)
	}
	if value != `["alpha","beta"]` {
		t.Errorf("value = %q, want last write", value)
	}
}
