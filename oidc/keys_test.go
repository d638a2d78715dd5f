package oidc

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrGenerateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookie.key")

	key, err := LoadOrGenerateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != KeyLength {
		t.Fatalf("want %d byte key, got %d", KeyLength, len(key))
	}

	again, err := LoadOrGenerateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(key, again) {
		t.Error("key changed between loads")
	}
}

func TestLoadOrGenerateKeyBadSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookie.key")
	if err := os.WriteFile(path, []byte("too short"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadOrGenerateKey(path); err == nil {
		t.Error("want error for truncated key file, got none")
	}
}
