package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertOAuthToken stores or updates a provider's token pair, encrypting both
// tokens when ENCRYPTION_KEY is configured.
func UpsertOAuthToken(ctx context.Context, dbx *sql.DB, provider, access, refresh string, expiry time.Time, scope string) error {
	enc, err := getEncryptor()
	if err != nil {
		return err
	}
	encrypted := false
	if enc != nil {
		if access, err = enc.EncryptString(access); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = enc.EncryptString(refresh); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		encrypted = true
	}
	_, err = dbx.ExecContext(ctx,
		`INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at, scope, encrypted, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,NOW())
		 ON CONFLICT (provider) DO UPDATE SET
		   access_token=EXCLUDED.access_token,
		   refresh_token=EXCLUDED.refresh_token,
		   expires_at=EXCLUDED.expires_at,
		   scope=EXCLUDED.scope,
		   encrypted=EXCLUDED.encrypted,
		   updated_at=NOW()`,
		provider, access, refresh, expiry, scope, encrypted)
	if err != nil {
		return fmt.Errorf("upsert oauth token for %s: %w", provider, err)
	}
	return nil
}

// GetOAuthToken returns the stored token row for a provider, decrypting when
// the row was written with encryption enabled. Zero values when absent.
func GetOAuthToken(ctx context.Context, dbx *sql.DB, provider string) (access, refresh string, expiry time.Time, scope string, err error) {
	var encrypted bool
	row := dbx.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, COALESCE(encrypted, FALSE)
		 FROM oauth_tokens WHERE provider=$1`, provider)
	err = row.Scan(&access, &refresh, &expiry, &scope, &encrypted)
	if err == sql.ErrNoRows {
		return "", "", time.Time{}, "", nil
	}
	if err != nil {
		return "", "", time.Time{}, "", fmt.Errorf("get oauth token for %s: %w", provider, err)
	}
	if encrypted {
		enc, encErr := getEncryptor()
		if encErr != nil {
			return "", "", time.Time{}, "", encErr
		}
		if enc == nil {
			return "", "", time.Time{}, "", fmt.Errorf("token for %s is encrypted but ENCRYPTION_KEY is not set", provider)
		}
		if access, err = enc.DecryptString(access); err != nil {
			return "", "", time.Time{}, "", fmt.Errorf("decrypt access token: %w", err)
		}
		if refresh, err = enc.DecryptString(refresh); err != nil {
			return "", "", time.Time{}, "", fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return access, refresh, expiry, scope, nil
}
