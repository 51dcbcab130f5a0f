package models

import "time"

// ArtifactStatus is the lifecycle state of a derived media artifact.
type ArtifactStatus string

const (
	ArtifactPending    ArtifactStatus = "pending"
	ArtifactProcessing ArtifactStatus = "processing"
	ArtifactCompleted  ArtifactStatus = "completed"
	ArtifactFailed     ArtifactStatus = "failed"
)

// MediaSource is an uploaded video or audio asset.
type MediaSource struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	MediaURL string `json:"media_url"`
	Language string `json:"language"`
}

// MediaArtifact is a subtitle track derived from a media source.
// (source_id, language) is unique under media_artifacts_source_language_key.
type MediaArtifact struct {
	ID           string         `json:"id"`
	SourceID     string         `json:"source_id"`
	TenantID     string         `json:"tenant_id"`
	Language     string         `json:"language"`
	IsOriginal   bool           `json:"is_original"`
	Status       ArtifactStatus `json:"status"`
	Result       map[string]any `json:"result,omitempty"`
	ResultKey    *string        `json:"result_key,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// SubtitleSegment is one timed cue.
type SubtitleSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
