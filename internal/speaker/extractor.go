package speaker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Extractor produces a voiceprint from a WAV clip. The production
// implementation calls the embedding sidecar; tests substitute fakes.
type Extractor interface {
	Extract(ctx context.Context, wav []byte) (Embedding, error)
}

// HTTPExtractor calls a speaker-embedding HTTP service with a multipart
// file upload and reads back the vector as JSON.
type HTTPExtractor struct {
	URL    string
	Client *http.Client
}

// NewHTTPExtractor builds an extractor against baseURL with a bounded
// request timeout.
func NewHTTPExtractor(baseURL string, timeout time.Duration) *HTTPExtractor {
	return &HTTPExtractor{
		URL:    baseURL,
		Client: &http.Client{Timeout: timeout},
	}
}

func (e *HTTPExtractor) Extract(ctx context.Context, wav []byte) (Embedding, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "clip.wav")
	if err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, &EmbeddingError{Op: "extract", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &EmbeddingError{Op: "extract", Err: fmt.Errorf("embedding service returned %d", resp.StatusCode)}
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &EmbeddingError{Op: "extract", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Embedding) == 0 {
		return nil, &EmbeddingError{Op: "extract", Err: fmt.Errorf("empty embedding in response")}
	}
	return Embedding(out.Embedding), nil
}
