package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/voxlane/voxlane/internal/config"
)

// Job is one transcription request handed to the downstream backend.
type Job struct {
	MediaURL     string `json:"media_url"`
	Language     string `json:"language,omitempty"`
	HighAccuracy bool   `json:"high_accuracy"`
}

// Result is the slice of the backend response this engine cares about: did it
// work, and how long was the audio actually billed for.
type Result struct {
	Success         bool    `json:"success"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Transcriber is the opaque downstream capability. The engine never retries
// it and never cancels it server-side.
type Transcriber interface {
	Transcribe(ctx context.Context, job Job) (Result, error)
}

// HTTPClient calls a JSON-over-HTTP transcription backend.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates an HTTPClient for the configured backend.
func NewHTTPClient(cfg config.TranscriberConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *HTTPClient) Transcribe(ctx context.Context, job Job) (Result, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return Result{}, fmt.Errorf("marshaling transcription job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/transcribe", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("building transcription request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("calling transcription backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("transcription backend returned %d after %s",
			resp.StatusCode, time.Since(start).Round(time.Millisecond))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decoding transcription response: %w", err)
	}
	return result, nil
}
