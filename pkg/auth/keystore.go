// Package auth manages the audit signing key and admin API credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// KeyStore resolves the HMAC key that signs audit events. The key never
// appears in logs, errors or API responses.
type KeyStore interface {
	SigningKey(ctx context.Context) ([]byte, error)
}

const minKeyBytes = 16

// EnvKeyStore reads the signing key from an environment variable.
type EnvKeyStore struct {
	Var string
}

func (s EnvKeyStore) SigningKey(ctx context.Context) ([]byte, error) {
	name := strings.TrimSpace(s.Var)
	if name == "" {
		name = "AUDIT_SIGNING_KEY"
	}
	key := strings.TrimSpace(os.Getenv(name))
	if key == "" {
		return nil, fmt.Errorf("auth: %s not set", name)
	}
	if len(key) < minKeyBytes {
		return nil, fmt.Errorf("auth: %s too short, need at least %d bytes", name, minKeyBytes)
	}
	return []byte(key), nil
}

// FileKeyStore reads the signing key from a file, for mounted secrets.
type FileKeyStore struct {
	Path string
}

func (s FileKeyStore) SigningKey(ctx context.Context) ([]byte, error) {
	if strings.TrimSpace(s.Path) == "" {
		return nil, errors.New("auth: key file path required")
	}
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("auth: read key file: %w", err)
	}
	key := strings.TrimSpace(string(raw))
	if len(key) < minKeyBytes {
		return nil, fmt.Errorf("auth: key file too short, need at least %d bytes", minKeyBytes)
	}
	return []byte(key), nil
}
