package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"coursejobs/internal/models"
)

// Client calls the speech-to-text service: POST /v1/transcriptions with
// {"media_url","language"} returning {"segments":[{"start","end","text"}]}.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type transcriptionRequest struct {
	MediaURL string `json:"media_url"`
	Language string `json:"language,omitempty"`
}

type transcriptionResponse struct {
	Segments []models.SubtitleSegment `json:"segments"`
}

func (c *Client) Transcribe(ctx context.Context, mediaURL, language string) ([]models.SubtitleSegment, error) {
	body, err := json.Marshal(transcriptionRequest{MediaURL: mediaURL, Language: language})
	if err != nil {
		return nil, fmt.Errorf("marshal transcription request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transcriptions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe %s: %w", mediaURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode transcription: %w", err)
	}
	if len(out.Segments) == 0 {
		return nil, fmt.Errorf("transcription of %s returned no segments", mediaURL)
	}
	return out.Segments, nil
}
