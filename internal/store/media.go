package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"coursejobs/internal/media"
	"coursejobs/internal/models"
)

// GetMediaSource loads an uploaded media asset.
func (s *Store) GetMediaSource(ctx context.Context, id string) (models.MediaSource, error) {
	var src models.MediaSource
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, media_url, language FROM media_sources WHERE id = $1
	`, id).Scan(&src.ID, &src.TenantID, &src.MediaURL, &src.Language)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MediaSource{}, fmt.Errorf("media source %s: %w", id, media.ErrNotFound)
	}
	if err != nil {
		return models.MediaSource{}, fmt.Errorf("load media source %s: %w", id, err)
	}
	return src, nil
}

// BeginArtifact creates the (source, language) artifact in Processing, or
// restarts one that is Pending, Failed, or Processing but untouched for
// staleAfter (its pipeline died). A Completed artifact or a live Processing
// one is left alone and media.ErrConflict is returned. The check and the
// write are one statement, so concurrent callers cannot both start the same
// artifact.
func (s *Store) BeginArtifact(ctx context.Context, a models.MediaArtifact, staleAfter time.Duration) (models.MediaArtifact, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO media_artifacts (id, source_id, tenant_id, language, is_original, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'processing', NOW(), NOW())
		ON CONFLICT ON CONSTRAINT media_artifacts_source_language_key DO UPDATE
		SET status = 'processing', error_message = NULL, result = NULL, result_key = NULL, updated_at = NOW()
		WHERE media_artifacts.status IN ('pending', 'failed')
		   OR (media_artifacts.status = 'processing'
		       AND media_artifacts.updated_at < NOW() - $6::float8 * INTERVAL '1 second')
		RETURNING `+artifactColumns,
		uuid.New().String(), a.SourceID, a.TenantID, a.Language, a.IsOriginal, staleAfter.Seconds())
	art, err := scanArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MediaArtifact{}, fmt.Errorf("artifact %s/%s: %w", a.SourceID, a.Language, media.ErrConflict)
	}
	if err != nil {
		return models.MediaArtifact{}, fmt.Errorf("begin artifact: %w", err)
	}
	return art, nil
}

// CompleteArtifact stores the pipeline result.
func (s *Store) CompleteArtifact(ctx context.Context, id string, result map[string]any, key string) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal artifact result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE media_artifacts
		SET status = 'completed', result = $2, result_key = $3, error_message = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, payload, key)
	if err != nil {
		return fmt.Errorf("complete artifact %s: %w", id, err)
	}
	return nil
}

// FailArtifact records why the pipeline stopped.
func (s *Store) FailArtifact(ctx context.Context, id, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE media_artifacts
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE id = $1
	`, id, message)
	if err != nil {
		return fmt.Errorf("fail artifact %s: %w", id, err)
	}
	return nil
}

// GetArtifact loads the artifact of a source in one language.
func (s *Store) GetArtifact(ctx context.Context, sourceID, language string) (models.MediaArtifact, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+artifactColumns+` FROM media_artifacts WHERE source_id = $1 AND language = $2
	`, sourceID, language)
	art, err := scanArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MediaArtifact{}, fmt.Errorf("artifact %s/%s: %w", sourceID, language, media.ErrNotFound)
	}
	if err != nil {
		return models.MediaArtifact{}, fmt.Errorf("load artifact: %w", err)
	}
	return art, nil
}

// ListArtifacts returns every artifact of a source, original first.
func (s *Store) ListArtifacts(ctx context.Context, sourceID string) ([]models.MediaArtifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+artifactColumns+` FROM media_artifacts
		WHERE source_id = $1
		ORDER BY is_original DESC, language
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var out []models.MediaArtifact
	for rows.Next() {
		art, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, art)
	}
	return out, rows.Err()
}

const artifactColumns = `id::text, source_id, tenant_id, language, is_original, status, result, result_key, error_message, created_at, updated_at`

func scanArtifact(row pgx.Row) (models.MediaArtifact, error) {
	var (
		a      models.MediaArtifact
		status string
		result []byte
		key    pgtype.Text
		errMsg pgtype.Text
	)
	if err := row.Scan(&a.ID, &a.SourceID, &a.TenantID, &a.Language, &a.IsOriginal, &status, &result, &key, &errMsg, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return models.MediaArtifact{}, err
	}
	decoded, err := decodeJSONMap(result)
	if err != nil {
		return models.MediaArtifact{}, err
	}
	a.Status = models.ArtifactStatus(status)
	a.Result = decoded
	a.ResultKey = textPtr(key)
	a.ErrorMessage = textPtr(errMsg)
	return a, nil
}
