package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursejobs/internal/models"
)

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req transcriptionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://cdn.test/v.mp4", req.MediaURL)
		assert.Equal(t, "en", req.Language)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"segments": []map[string]any{{"start": 0, "end": 1.5, "text": "Hello"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "key", time.Second)
	segs, err := c.Transcribe(context.Background(), "https://cdn.test/v.mp4", "en")
	require.NoError(t, err)
	assert.Equal(t, []models.SubtitleSegment{{Start: 0, End: 1.5, Text: "Hello"}}, segs)
}

func TestTranscribe_Failures(t *testing.T) {
	status := http.StatusBadGateway
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"segments":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	_, err := c.Transcribe(context.Background(), "u", "en")
	assert.ErrorContains(t, err, "502")

	status = http.StatusOK
	_, err = c.Transcribe(context.Background(), "u", "en")
	assert.ErrorContains(t, err, "no segments")
}
