package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// VaultKeyStore resolves the signing key from a Vault KV v2 secret.
type VaultKeyStore struct {
	Client     *http.Client
	Addr       string
	Token      string
	Namespace  string
	Mount      string
	SecretPath string
	Field      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

func (s VaultKeyStore) SigningKey(ctx context.Context) ([]byte, error) {
	addr := strings.TrimRight(strings.TrimSpace(s.Addr), "/")
	if addr == "" {
		return nil, errors.New("auth: vault addr required")
	}
	if strings.TrimSpace(s.Token) == "" {
		return nil, errors.New("auth: vault token required")
	}
	if strings.TrimSpace(s.SecretPath) == "" {
		return nil, errors.New("auth: vault secret path required")
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	mount := strings.Trim(s.Mount, "/")
	if mount == "" {
		mount = "secret"
	}
	field := strings.TrimSpace(s.Field)
	if field == "" {
		field = "signing_key"
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	retries := s.MaxRetries
	if retries < 0 {
		retries = 0
	}
	endpoint := addr + "/v1/" + mount + "/data/" + strings.Trim(s.SecretPath, "/")

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
		if err != nil {
			cancel()
			return nil, err
		}
		req.Header.Set("X-Vault-Token", s.Token)
		if strings.TrimSpace(s.Namespace) != "" {
			req.Header.Set("X-Vault-Namespace", s.Namespace)
		}
		resp, err := client.Do(req)
		if err != nil {
			cancel()
			lastErr = err
			if attempt < retries && s.RetryDelay > 0 {
				time.Sleep(s.RetryDelay)
				continue
			}
			break
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		cancel()
		if readErr != nil {
			lastErr = readErr
			if attempt < retries && s.RetryDelay > 0 {
				time.Sleep(s.RetryDelay)
				continue
			}
			break
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("auth: vault secret %q not found", s.SecretPath)
		}
		if resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("auth: vault secret lookup failed status=%d", resp.StatusCode)
			if attempt < retries && s.RetryDelay > 0 {
				time.Sleep(s.RetryDelay)
				continue
			}
			break
		}
		return parseVaultSigningKey(body, field)
	}
	if lastErr == nil {
		lastErr = errors.New("auth: vault secret lookup failed")
	}
	return nil, lastErr
}

func parseVaultSigningKey(body []byte, field string) ([]byte, error) {
	var payload struct {
		Data struct {
			Data map[string]string `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("auth: invalid vault response: %w", err)
	}
	key := strings.TrimSpace(payload.Data.Data[field])
	if key == "" {
		return nil, fmt.Errorf("auth: vault secret missing field %q", field)
	}
	if len(key) < minKeyBytes {
		return nil, fmt.Errorf("auth: vault signing key too short, need at least %d bytes", minKeyBytes)
	}
	return []byte(key), nil
}
