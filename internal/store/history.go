package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"coursejobs/internal/models"
)

// CreateHistory inserts a Pending record for a newly enqueued job.
func (s *Store) CreateHistory(ctx context.Context, id string, jobType models.JobType, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal job data: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO job_history (id, job_type, job_data, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, NOW(), NOW())
	`, id, string(jobType), payload, models.StatusPending)
	if err != nil {
		return fmt.Errorf("insert job history: %w", err)
	}
	return nil
}

// ClaimHistory moves a record to Processing and bumps its attempt counter.
// Pending and Failed records can be claimed, and so can a Processing record
// not touched for staleAfter (its worker died). Staleness is judged against the
// database clock. When the claim is refused the record's current status is
// returned; it is empty when the record is missing.
func (s *Store) ClaimHistory(ctx context.Context, id string, staleAfter time.Duration) (bool, models.JobStatus, error) {
	var claimed, current pgtype.Text
	err := s.pool.QueryRow(ctx, `
		WITH claimed AS (
			UPDATE job_history
			SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
			WHERE id = $1
			  AND (status IN ('pending', 'failed')
			       OR (status = 'processing' AND updated_at < NOW() - $2::float8 * INTERVAL '1 second'))
			RETURNING status
		)
		SELECT (SELECT status FROM claimed), (SELECT status FROM job_history WHERE id = $1)
	`, id, staleAfter.Seconds()).Scan(&claimed, &current)
	if err != nil {
		return false, "", fmt.Errorf("claim job history %s: %w", id, err)
	}
	if claimed.Valid {
		return true, models.StatusProcessing, nil
	}
	return false, models.JobStatus(textValue(current)), nil
}

// CompleteHistory marks a record Completed with the attempt's duration.
func (s *Store) CompleteHistory(ctx context.Context, id string, duration time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_history
		SET status = $2, duration_ms = $3, error_message = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusCompleted, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("complete job history %s: %w", id, err)
	}
	return nil
}

// RetryHistory returns a record to Pending after a failed attempt that will be
// retried, keeping the error so the last failure stays visible.
func (s *Store) RetryHistory(ctx context.Context, id string, message string, duration time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_history
		SET status = $2, error_message = $3, duration_ms = $4, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusPending, message, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("retry job history %s: %w", id, err)
	}
	return nil
}

// FailHistory marks a record Failed once its job has run out of attempts.
func (s *Store) FailHistory(ctx context.Context, id string, message string, duration time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_history
		SET status = $2, error_message = $3, duration_ms = $4, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusFailed, message, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("fail job history %s: %w", id, err)
	}
	return nil
}

const historyColumns = `id::text, job_type, job_data, status, attempts, duration_ms, error_message, created_at, updated_at`

func scanHistory(row pgx.Row) (models.JobHistoryRecord, error) {
	var (
		rec      models.JobHistoryRecord
		jobType  string
		status   string
		data     []byte
		duration pgtype.Int8
		errMsg   pgtype.Text
	)
	if err := row.Scan(&rec.ID, &jobType, &data, &status, &rec.Attempts, &duration, &errMsg, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return models.JobHistoryRecord{}, err
	}
	jobData, err := decodeJSONMap(data)
	if err != nil {
		return models.JobHistoryRecord{}, err
	}
	rec.JobType = models.JobType(jobType)
	rec.Status = models.JobStatus(status)
	rec.JobData = jobData
	rec.DurationMs = int8Ptr(duration)
	rec.ErrorMessage = textPtr(errMsg)
	return rec, nil
}

// GetHistory fetches a record by id.
func (s *Store) GetHistory(ctx context.Context, id string) (models.JobHistoryRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+historyColumns+` FROM job_history WHERE id = $1`, id)
	rec, err := scanHistory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JobHistoryRecord{}, fmt.Errorf("job history %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.JobHistoryRecord{}, fmt.Errorf("scan job history: %w", err)
	}
	return rec, nil
}

// CountByStatus aggregates records per status. Statuses with no rows are reported as zero.
func (s *Store) CountByStatus(ctx context.Context) (models.StatusCounts, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM job_history GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count job history: %w", err)
	}
	defer rows.Close()

	counts := models.StatusCounts{
		models.StatusPending:    0,
		models.StatusProcessing: 0,
		models.StatusCompleted:  0,
		models.StatusFailed:     0,
	}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[models.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// PurgeTerminal deletes Completed and Failed records last updated before cutoff.
func (s *Store) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM job_history
		WHERE status IN ('completed', 'failed') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge job history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountStuckPending counts Pending records created before cutoff that were
// never claimed. Records waiting on a retry have attempts above zero.
func (s *Store) CountStuckPending(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM job_history WHERE status = 'pending' AND attempts = 0 AND created_at < $1
	`, cutoff).Scan(&n); err != nil {
		return 0, fmt.Errorf("count stuck pending: %w", err)
	}
	return n, nil
}

// StuckPending lists the oldest never-claimed Pending records created before cutoff.
func (s *Store) StuckPending(ctx context.Context, cutoff time.Time, limit int) ([]models.JobHistoryRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+historyColumns+` FROM job_history
		WHERE status = 'pending' AND attempts = 0 AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query stuck pending: %w", err)
	}
	defer rows.Close()

	var out []models.JobHistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck pending: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
