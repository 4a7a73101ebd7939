package pipeline

import (
	"context"
	"time"
)

// Synthesizer turns text into spoken audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// TTSClient talks to a text-to-speech HTTP service that answers with WAV
// bytes.
type TTSClient struct {
	URL    string
	client *backendClient
}

func NewTTSClient(url string, timeout time.Duration) *TTSClient {
	return &TTSClient{URL: url, client: newBackendClient(timeout)}
}

func (t *TTSClient) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	payload := map[string]string{
		"text":     text,
		"language": language,
	}
	return t.client.postJSON(ctx, "tts", t.URL, payload)
}
