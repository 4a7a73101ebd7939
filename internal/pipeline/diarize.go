package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Diarizer splits a clip into who-spoke-when spans with local speaker
// indices.
type Diarizer interface {
	Diarize(ctx context.Context, wav []byte) ([]DiarizationSpan, error)
}

// DiarizationClient talks to a diarization HTTP service via multipart
// upload.
type DiarizationClient struct {
	URL    string
	client *backendClient
}

func NewDiarizationClient(url string, timeout time.Duration) *DiarizationClient {
	return &DiarizationClient{URL: url, client: newBackendClient(timeout)}
}

type diarizationResponse struct {
	Segments []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Speaker int     `json:"speaker"`
	} `json:"segments"`
}

func (d *DiarizationClient) Diarize(ctx context.Context, wav []byte) ([]DiarizationSpan, error) {
	body, err := d.client.postWAV(ctx, "diarize", d.URL, "file", wav, nil, nil)
	if err != nil {
		return nil, err
	}
	var resp diarizationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("diarize: decode response: %w", err)
	}
	spans := make([]DiarizationSpan, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		spans = append(spans, DiarizationSpan{Start: s.Start, End: s.End, Speaker: s.Speaker})
	}
	return spans, nil
}
