package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestRoundTrip(t *testing.T) {
	enc, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, plain := range []string{"oauth:abc123", "short", ""} {
		sealed, err := enc.EncryptString(plain)
		if err != nil {
			t.Fatalf("EncryptString(%q): %v", plain, err)
		}
		got, err := enc.DecryptString(sealed)
		if err != nil {
			t.Fatalf("DecryptString: %v", err)
		}
		if got != plain {
			t.Errorf("round trip = %q, want %q", got, plain)
		}
	}
}

func TestEncryptProducesDistinctCiphertext(t *testing.T) {
	enc, _ := New(testKey(t))
	a, _ := enc.EncryptString("same value")
	b, _ := enc.EncryptString("same value")
	if a == b {
		t.Error("two encryptions of the same plaintext should differ (random nonce)")
	}
}

func TestTamperDetected(t *testing.T) {
	enc, _ := New(testKey(t))
	sealed, _ := enc.EncryptString("secret")
	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xff
	if _, err := enc.DecryptString(base64.StdEncoding.EncodeToString(raw)); err == nil {
		t.Error("expected authentication failure on tampered ciphertext")
	}
}

func TestBadKey(t *testing.T) {
	if _, err := New("not-base64!!"); err == nil {
		t.Error("expected error for invalid base64 key")
	}
	if _, err := New(base64.StdEncoding.EncodeToString([]byte("too short"))); err == nil {
		t.Error("expected error for wrong key length")
	}
}
