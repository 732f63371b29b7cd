package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey failed: %v", err)
	}

	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey failed: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("decrypted = %s, want %s", got, testKeyHex)
	}

	if strings.Contains(string(blob), testKeyHex) {
		t.Error("ciphertext blob leaks the plaintext key")
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "correct")
	if err != nil {
		t.Fatalf("EncryptKey failed: %v", err)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("decryption with wrong password should fail")
	}
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	if _, err := EncryptKey(testKeyHex, ""); err == nil {
		t.Error("empty password should fail")
	}
	if _, err := EncryptKey("not-hex", "pw"); err == nil {
		t.Error("non-hex key should fail")
	}
	if _, err := EncryptKey("abcd", "pw"); err == nil {
		t.Error("short key should fail")
	}
}

func TestLoadKey(t *testing.T) {
	t.Run("raw key takes precedence", func(t *testing.T) {
		got, err := LoadKey(KeyConfig{
			RawPrivateKey:    "0x" + testKeyHex,
			EncryptedKeyPath: "/nonexistent",
		})
		if err != nil {
			t.Fatalf("LoadKey failed: %v", err)
		}
		if got != testKeyHex {
			t.Errorf("key = %s, want %s", got, testKeyHex)
		}
	})

	t.Run("encrypted file", func(t *testing.T) {
		blob, err := EncryptKey(testKeyHex, "pw")
		if err != nil {
			t.Fatalf("EncryptKey failed: %v", err)
		}
		path := filepath.Join(t.TempDir(), "distributor.enc")
		if err := os.WriteFile(path, blob, 0o600); err != nil {
			t.Fatalf("write key file: %v", err)
		}

		got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
		if err != nil {
			t.Fatalf("LoadKey failed: %v", err)
		}
		if got != testKeyHex {
			t.Errorf("key = %s, want %s", got, testKeyHex)
		}
	})

	t.Run("no source", func(t *testing.T) {
		if _, err := LoadKey(KeyConfig{}); err == nil {
			t.Fatal("empty config should fail")
		}
	})

	t.Run("invalid raw hex", func(t *testing.T) {
		if _, err := LoadKey(KeyConfig{RawPrivateKey: "0xzz"}); err == nil {
			t.Fatal("invalid hex should fail")
		}
	})
}

func TestFeedHeadersDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key-1", Secret: "secret-1"}

	a := auth.FeedHeadersAt("GET", "/subscribe", 1_700_000_000)
	b := auth.FeedHeadersAt("GET", "/subscribe", 1_700_000_000)

	if a["X-FEED-SIGNATURE"] == "" {
		t.Fatal("missing signature header")
	}
	if a["X-FEED-SIGNATURE"] != b["X-FEED-SIGNATURE"] {
		t.Error("same inputs must produce the same signature")
	}
	if a["X-FEED-API-KEY"] != "key-1" || a["X-FEED-TIMESTAMP"] != "1700000000" {
		t.Errorf("headers = %v", a)
	}

	c := auth.FeedHeadersAt("GET", "/subscribe", 1_700_000_001)
	if a["X-FEED-SIGNATURE"] == c["X-FEED-SIGNATURE"] {
		t.Error("different timestamps must produce different signatures")
	}

	other := &HMACAuth{Key: "key-1", Secret: "secret-2"}
	d := other.FeedHeadersAt("GET", "/subscribe", 1_700_000_000)
	if a["X-FEED-SIGNATURE"] == d["X-FEED-SIGNATURE"] {
		t.Error("different secrets must produce different signatures")
	}
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "key-123456", Secret: "secret-123456"}
	s := auth.String()
	if strings.Contains(s, "123456") {
		t.Errorf("String leaks credentials: %s", s)
	}
}
