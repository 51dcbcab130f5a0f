package media

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"coursejobs/internal/models"
)

// RenderVTT writes segments as a WebVTT document.
func RenderVTT(segments []models.SubtitleSegment) []byte {
	var b bytes.Buffer
	b.WriteString("WEBVTT\n")
	cue := 0
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		cue++
		fmt.Fprintf(&b, "\n%d\n%s --> %s\n%s\n", cue, vttTimestamp(seg.Start), vttTimestamp(seg.End), text)
	}
	return b.Bytes()
}

func vttTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second)).Round(time.Millisecond)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, d/time.Millisecond)
}

// segmentsFromResult reads the segments stored in a completed artifact's result.
func segmentsFromResult(result map[string]any) ([]models.SubtitleSegment, error) {
	raw, ok := result["segments"]
	if !ok {
		return nil, fmt.Errorf("artifact result has no segments")
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode segments: %w", err)
	}
	var segments []models.SubtitleSegment
	if err := json.Unmarshal(buf, &segments); err != nil {
		return nil, fmt.Errorf("decode segments: %w", err)
	}
	return segments, nil
}
