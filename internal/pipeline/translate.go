package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Translator translates text between language pairs.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// TranslationClient talks to a LibreTranslate-compatible endpoint.
type TranslationClient struct {
	URL    string
	client *backendClient
}

func NewTranslationClient(url string, timeout time.Duration) *TranslationClient {
	return &TranslationClient{URL: url, client: newBackendClient(timeout)}
}

func (t *TranslationClient) Translate(ctx context.Context, text, source, target string) (string, error) {
	payload := map[string]string{
		"q":      text,
		"source": source,
		"target": target,
		"format": "text",
	}
	body, err := t.client.postJSON(ctx, "translate", t.URL, payload)
	if err != nil {
		return "", err
	}
	var resp struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("translate: decode response: %w", err)
	}
	return resp.TranslatedText, nil
}
