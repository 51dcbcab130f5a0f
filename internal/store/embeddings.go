package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"coursejobs/internal/models"
)

// GetLesson loads one lesson.
func (s *Store) GetLesson(ctx context.Context, lessonID string) (models.Lesson, error) {
	var l models.Lesson
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, course_id, title, content, position FROM lessons WHERE id = $1
	`, lessonID).Scan(&l.ID, &l.TenantID, &l.CourseID, &l.Title, &l.Content, &l.Position)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Lesson{}, fmt.Errorf("lesson %s: %w", lessonID, ErrNotFound)
	}
	if err != nil {
		return models.Lesson{}, fmt.Errorf("load lesson %s: %w", lessonID, err)
	}
	return l, nil
}

// CourseLessons lists a course's lessons in order.
func (s *Store) CourseLessons(ctx context.Context, courseID string) ([]models.Lesson, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, course_id, title, content, position
		FROM lessons WHERE course_id = $1 ORDER BY position, id
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("query lessons of course %s: %w", courseID, err)
	}
	defer rows.Close()

	var out []models.Lesson
	for rows.Next() {
		var l models.Lesson
		if err := rows.Scan(&l.ID, &l.TenantID, &l.CourseID, &l.Title, &l.Content, &l.Position); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// EmbeddingHash returns the content hash of the stored embedding, if any.
func (s *Store) EmbeddingHash(ctx context.Context, source models.EmbeddingSource, sourceID string) (string, bool, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `
		SELECT content_hash FROM content_embeddings WHERE source_type = $1 AND source_id = $2
	`, string(source), sourceID).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load embedding hash: %w", err)
	}
	return hash, true, nil
}

// UpsertEmbedding stores or replaces the embedding of a source.
func (s *Store) UpsertEmbedding(ctx context.Context, e models.ContentEmbedding) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO content_embeddings (source_type, source_id, tenant_id, content_hash, model, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT ON CONSTRAINT content_embeddings_source_key DO UPDATE
		SET content_hash = EXCLUDED.content_hash, model = EXCLUDED.model,
		    embedding = EXCLUDED.embedding, updated_at = NOW()
	`, string(e.SourceType), e.SourceID, e.TenantID, e.ContentHash, e.Model, e.Vector)
	if err != nil {
		return fmt.Errorf("upsert embedding %s/%s: %w", e.SourceType, e.SourceID, err)
	}
	return nil
}
