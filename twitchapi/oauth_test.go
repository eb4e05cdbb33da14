package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func withMockID(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	old := idBaseURL
	idBaseURL = srv.URL
	t.Cleanup(func() {
		idBaseURL = old
		srv.Close()
	})
}

func TestComputeExpiry(t *testing.T) {
	exp := ComputeExpiry(3600)
	if until := time.Until(exp); until < 59*time.Minute || until > 61*time.Minute {
		t.Errorf("expiry %v not ~1h out", until)
	}
	// Unknown lifetime falls back to an hour.
	exp = ComputeExpiry(0)
	if until := time.Until(exp); until < 59*time.Minute || until > 61*time.Minute {
		t.Errorf("default expiry %v not ~1h out", until)
	}
}

func TestRefreshToken(t *testing.T) {
	withMockID(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			http.NotFound(w, r)
			return
		}
		if got := r.FormValue("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		_ = json.NewEncoder(w).Encode(RefreshResult{
			AccessToken:  "new-access",
			RefreshToken: "new-refresh",
			ExpiresIn:    3600,
			Scope:        []string{"chat:read", "chat:edit"},
		})
	})

	res, err := RefreshToken(context.Background(), "id", "secret", "old-refresh")
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if res.AccessToken != "new-access" || res.RefreshToken != "new-refresh" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestRefreshTokenMissingParams(t *testing.T) {
	if _, err := RefreshToken(context.Background(), "", "secret", "rt"); err == nil {
		t.Error("expected error for missing client id")
	}
}

func TestValidateToken(t *testing.T) {
	withMockID(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "OAuth abc123" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(ValidateResult{Login: "botuser", UserID: "42", Scopes: []string{"chat:read"}})
	})

	// The oauth: prefix used by IRC must be stripped before validation.
	res, err := ValidateToken(context.Background(), "oauth:abc123")
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if res.Login != "botuser" {
		t.Errorf("Login = %q", res.Login)
	}
}

func TestValidateTokenRejected(t *testing.T) {
	withMockID(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if _, err := ValidateToken(context.Background(), "bad"); err == nil {
		t.Error("expected error for 401")
	}
}
