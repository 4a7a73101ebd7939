package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Transcriber converts a WAV clip to timed text spans.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (Transcription, error)
}

// WhisperClient talks to an OpenAI-compatible transcription endpoint.
type WhisperClient struct {
	URL      string
	APIKey   string
	Language string // hint; empty lets the model detect
	client   *backendClient
}

func NewWhisperClient(url, apiKey, language string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		URL:      url,
		APIKey:   apiKey,
		Language: language,
		client:   newBackendClient(timeout),
	}
}

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
}

func (w *WhisperClient) Transcribe(ctx context.Context, wav []byte) (Transcription, error) {
	fields := map[string]string{
		"model":           "whisper-1",
		"response_format": "verbose_json",
	}
	if w.Language != "" {
		fields["language"] = w.Language
	}
	var header http.Header
	if w.APIKey != "" {
		header = http.Header{"Authorization": []string{"Bearer " + w.APIKey}}
	}

	body, err := w.client.postWAV(ctx, "transcribe", w.URL, "file", wav, fields, header)
	if err != nil {
		return Transcription{}, err
	}

	var resp whisperResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Transcription{}, fmt.Errorf("transcribe: decode response: %w", err)
	}

	out := Transcription{Language: resp.Language, Duration: resp.Duration}
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		out.Spans = append(out.Spans, TranscriptionSpan{Text: text, Start: s.Start, End: s.End})
	}
	// some backends omit segment timing; fall back to one span covering
	// the whole clip
	if len(out.Spans) == 0 && strings.TrimSpace(resp.Text) != "" {
		out.Spans = []TranscriptionSpan{{Text: strings.TrimSpace(resp.Text), Start: 0, End: resp.Duration}}
	}
	return out, nil
}
