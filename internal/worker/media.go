package worker

import (
	"context"
	"errors"

	"coursejobs/internal/media"
	"coursejobs/internal/models"
)

// MediaPipeline runs subtitle generation inline.
type MediaPipeline interface {
	GenerateNow(ctx context.Context, sourceID string) (models.MediaArtifact, error)
	TranslateNow(ctx context.Context, sourceID, language string) (models.MediaArtifact, error)
}

// A conflict means the artifact is done or a live pipeline is working on it;
// an abandoned Processing artifact is restarted instead, so the job has
// nothing left to do.
func mediaSummary(art models.MediaArtifact, err error) (models.SideEffectSummary, error) {
	if errors.Is(err, media.ErrConflict) {
		return models.SideEffectSummary{"skipped": "artifact already processing or completed"}, nil
	}
	if err != nil {
		return nil, err
	}
	return models.SideEffectSummary{
		"artifact_id": art.ID,
		"language":    art.Language,
		"status":      string(art.Status),
	}, nil
}

func (h *Handlers) transcribeMedia(ctx context.Context, payload map[string]any) (models.SideEffectSummary, error) {
	sourceID, err := requireString(payload, "sourceId")
	if err != nil {
		return nil, err
	}
	return mediaSummary(h.media.GenerateNow(ctx, sourceID))
}

func (h *Handlers) translateSubtitles(ctx context.Context, payload map[string]any) (models.SideEffectSummary, error) {
	sourceID, err := requireString(payload, "sourceId")
	if err != nil {
		return nil, err
	}
	language, err := requireString(payload, "language")
	if err != nil {
		return nil, err
	}
	return mediaSummary(h.media.TranslateNow(ctx, sourceID, language))
}
