package oidc

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

// KeyLength is the size of the master cookie key, in bytes.
const KeyLength = 64

// LoadOrGenerateKey returns the master key used to authenticate and encrypt
// all cookies. On first run a fresh random key is generated and persisted at
// path; afterwards the same key is loaded, so sessions survive restarts.
func LoadOrGenerateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != KeyLength {
			return nil, fmt.Errorf("key file %s is %d bytes, want %d", path, len(key), KeyLength)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to read key file %s", path)
	}

	key = make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "failed to generate cookie key")
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, errors.Wrapf(err, "failed to write key file %s", path)
	}
	return key, nil
}

// deriveKey expands the master key into an independent subkey, so the cookie
// authentication and encryption keys never share material directly.
func deriveKey(master []byte, info string, size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		return nil, errors.Wrapf(err, "failed to derive %q key", info)
	}
	return out, nil
}
