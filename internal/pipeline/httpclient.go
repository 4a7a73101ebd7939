package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/live-translate-lab/internal/logging"
)

const (
	defaultAttempts = 3
	backoffBase     = 200 * time.Millisecond
)

// backendClient wraps an http.Client with the retry policy shared by all
// pipeline backends: transport failures and 5xx responses retry with
// exponential backoff, 4xx responses fail immediately.
type backendClient struct {
	http     *http.Client
	attempts int
}

func newBackendClient(timeout time.Duration) *backendClient {
	return &backendClient{
		http:     &http.Client{Timeout: timeout},
		attempts: defaultAttempts,
	}
}

// do runs the request built by build, retrying per policy. build is called
// once per attempt because request bodies are consumed on send.
func (c *backendClient) do(ctx context.Context, op string, build func() (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			backoff := backoffBase << (attempt - 1)
			logging.Debugw("pipeline: retrying backend call", "op", op, "attempt", attempt+1, "backoff_ms", backoff.Milliseconds())
			select {
			case <-ctx.Done():
				return nil, &TransportError{Op: op, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("%s: build request: %w", op, err)
		}
		resp, err := c.http.Do(req.WithContext(ctx))
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, nil
		case resp.StatusCode >= 500:
			lastErr = &ServiceError{Op: op, Status: resp.StatusCode, Body: snippet(body)}
			continue
		default:
			return nil, &ServiceError{Op: op, Status: resp.StatusCode, Body: snippet(body)}
		}
	}
	if svcErr, ok := lastErr.(*ServiceError); ok {
		return nil, svcErr
	}
	return nil, &TransportError{Op: op, Err: lastErr}
}

// postJSON sends payload as a JSON body and returns the raw response.
func (c *backendClient) postJSON(ctx context.Context, op, url string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode payload: %w", op, err)
	}
	return c.do(ctx, op, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

// postWAV sends a multipart form with the audio under fileField plus any
// extra string fields.
func (c *backendClient) postWAV(ctx context.Context, op, url, fileField string, wav []byte, fields map[string]string, header http.Header) ([]byte, error) {
	return c.do(ctx, op, func() (*http.Request, error) {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		part, err := w.CreateFormFile(fileField, "segment.wav")
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(wav); err != nil {
			return nil, err
		}
		for k, v := range fields {
			if err := w.WriteField(k, v); err != nil {
				return nil, err
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequest(http.MethodPost, url, &body)
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		return req, nil
	})
}

func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
