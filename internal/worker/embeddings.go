package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"coursejobs/internal/models"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

type ContentStore interface {
	GetLesson(ctx context.Context, lessonID string) (models.Lesson, error)
	CourseLessons(ctx context.Context, courseID string) ([]models.Lesson, error)
	EmbeddingHash(ctx context.Context, source models.EmbeddingSource, sourceID string) (string, bool, error)
	UpsertEmbedding(ctx context.Context, e models.ContentEmbedding) error
}

func contentHash(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func lessonText(l models.Lesson) string {
	return strings.TrimSpace(l.Title + "\n\n" + l.Content)
}

// embed stores a vector for text unless the stored one was built from the
// same text and model. It reports whether a new vector was written.
func (h *Handlers) embed(ctx context.Context, source models.EmbeddingSource, sourceID, tenantID, text string) (bool, error) {
	hash := contentHash(h.embedder.Model(), text)
	current, ok, err := h.content.EmbeddingHash(ctx, source, sourceID)
	if err != nil {
		return false, err
	}
	if ok && current == hash {
		return false, nil
	}
	vector, err := h.embedder.Embed(ctx, text)
	if err != nil {
		return false, fmt.Errorf("embed %s %s: %w", source, sourceID, err)
	}
	err = h.content.UpsertEmbedding(ctx, models.ContentEmbedding{
		SourceType:  source,
		SourceID:    sourceID,
		TenantID:    tenantID,
		ContentHash: hash,
		Model:       h.embedder.Model(),
		Vector:      vector,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (h *Handlers) generateLessonEmbeddings(ctx context.Context, payload map[string]any) (models.SideEffectSummary, error) {
	if h.embedder == nil {
		return nil, fmt.Errorf("embeddings: %w", ErrNotConfigured)
	}
	lessonID, err := requireString(payload, "lessonId")
	if err != nil {
		return nil, err
	}
	lesson, err := h.content.GetLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	written, err := h.embed(ctx, models.EmbeddingSourceLesson, lesson.ID, lesson.TenantID, lessonText(lesson))
	if err != nil {
		return nil, err
	}
	return models.SideEffectSummary{"lesson_id": lesson.ID, "embedded": written}, nil
}

// generateCourseEmbeddings refreshes every lesson of the course and a
// course-level vector built from the lesson outline.
func (h *Handlers) generateCourseEmbeddings(ctx context.Context, payload map[string]any) (models.SideEffectSummary, error) {
	if h.embedder == nil {
		return nil, fmt.Errorf("embeddings: %w", ErrNotConfigured)
	}
	courseID, err := requireString(payload, "courseId")
	if err != nil {
		return nil, err
	}
	lessons, err := h.content.CourseLessons(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if len(lessons) == 0 {
		return models.SideEffectSummary{"course_id": courseID, "skipped": "no lessons"}, nil
	}

	var (
		embedded, unchanged int
		outline             strings.Builder
	)
	for _, l := range lessons {
		written, err := h.embed(ctx, models.EmbeddingSourceLesson, l.ID, l.TenantID, lessonText(l))
		if err != nil {
			return nil, err
		}
		if written {
			embedded++
		} else {
			unchanged++
		}
		fmt.Fprintf(&outline, "%d. %s\n", l.Position, l.Title)
	}
	courseWritten, err := h.embed(ctx, models.EmbeddingSourceCourse, courseID, lessons[0].TenantID, outline.String())
	if err != nil {
		return nil, err
	}
	return models.SideEffectSummary{
		"course_id":        courseID,
		"lessons_embedded": embedded,
		"lessons_current":  unchanged,
		"course_embedded":  courseWritten,
	}, nil
}
