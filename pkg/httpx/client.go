package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// RequestJSON performs an outbound JSON request with bounded retry.
// Transport errors and 5xx responses retry after retryDelay; 4xx
// responses are returned to the caller untouched.
func RequestJSON(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string, retries int, retryDelay time.Duration) (int, []byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		status, respBody, retryable, err := attemptJSON(ctx, client, method, url, body, headers)
		if err == nil && !retryable {
			return status, respBody, nil
		}
		lastErr = err
		if attempt == retries {
			if err != nil {
				return 0, nil, err
			}
			return status, respBody, nil
		}
		time.Sleep(retryDelay)
	}
	return 0, nil, lastErr
}

func attemptJSON(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string) (int, []byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, false, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, true, err
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return 0, nil, true, readErr
	}
	return resp.StatusCode, respBody, resp.StatusCode >= 500, nil
}
