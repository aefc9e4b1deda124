package db

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxStoredErrorLength = 4000

// truncateErrorMessage bounds a stored cause without splitting a UTF-8 rune;
// Postgres rejects strings with a torn trailing sequence.
func truncateErrorMessage(cause string) string {
	msg := strings.TrimSpace(cause)
	if len(msg) <= maxStoredErrorLength {
		return msg
	}
	cut := maxStoredErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

type CreateEditionInput struct {
	SourceID    int64
	Subject     string
	RawHTML     *string
	PlainText   string
	Language    string
	Fingerprint string
	ReceivedAt  time.Time
}

// PendingEdition is a queue work item joined with its resolved source.
type PendingEdition struct {
	EditionID       int64
	EditionUUID     string
	SourceID        int64
	SourceName      string
	SourceWebsite   *string
	Subject         string
	PlainText       string
	Language        string
	ProcessAttempts int
	ReceivedAt      time.Time
}

type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

const editionColumns = `
	edition_id,
	edition_uuid::text,
	source_id,
	subject,
	raw_html,
	plain_text,
	language,
	fingerprint,
	processing_status,
	process_attempts,
	received_at,
	processing_started_at,
	processed_at,
	error_message,
	summary,
	read_time_minutes,
	created_at,
	updated_at
`

func scanEdition(row *Row) (*Edition, error) {
	var e Edition
	err := row.Scan(
		&e.EditionID,
		&e.EditionUUID,
		&e.SourceID,
		&e.Subject,
		&e.RawHTML,
		&e.PlainText,
		&e.Language,
		&e.Fingerprint,
		&e.ProcessingStatus,
		&e.ProcessAttempts,
		&e.ReceivedAt,
		&e.ProcessingStartedAt,
		&e.ProcessedAt,
		&e.ErrorMessage,
		&e.Summary,
		&e.ReadTimeMinutes,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *Pool) FindEditionByFingerprint(ctx context.Context, fingerprint string) (*Edition, error) {
	q := `SELECT` + editionColumns + `FROM feed.editions WHERE fingerprint = $1 LIMIT 1`

	edition, err := scanEdition(p.QueryRow(ctx, q, fingerprint))
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query edition by fingerprint: %w", err)
	}
	return edition, nil
}

// CreateEdition inserts a pending edition. The unique fingerprint constraint
// is the sole dedup mechanism: losing a concurrent race resolves to the
// existing edition with created=false instead of an error.
func (p *Pool) CreateEdition(ctx context.Context, input CreateEditionInput) (*Edition, bool, error) {
	q := `
INSERT INTO feed.editions (
	edition_uuid,
	source_id,
	subject,
	raw_html,
	plain_text,
	language,
	fingerprint,
	processing_status,
	process_attempts,
	received_at,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', 0, $8, $8, $8)
ON CONFLICT (fingerprint) DO NOTHING
RETURNING` + editionColumns

	language := strings.TrimSpace(strings.ToLower(input.Language))
	if language == "" {
		language = "und"
	}

	edition, err := scanEdition(p.QueryRow(ctx, q,
		uuid.NewString(),
		input.SourceID,
		strings.TrimSpace(input.Subject),
		input.RawHTML,
		input.PlainText,
		language,
		input.Fingerprint,
		input.ReceivedAt.UTC(),
	))
	if err != nil {
		if IsNoRows(err) {
			existing, lookupErr := p.FindEditionByFingerprint(ctx, input.Fingerprint)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			if existing == nil {
				return nil, false, fmt.Errorf("edition with fingerprint %q vanished after conflict", input.Fingerprint)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert edition: %w", err)
	}
	return edition, true, nil
}

// RecoverStaleEditions resets editions stuck in processing since before the
// cutoff back to pending. There is no heartbeat; this sweep is the sole crash
// recovery mechanism.
func (p *Pool) RecoverStaleEditions(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `
UPDATE feed.editions
SET processing_status = 'pending', updated_at = now()
WHERE processing_status = 'processing'
  AND processing_started_at IS NOT NULL
  AND processing_started_at < $1
`
	tag, err := p.Exec(ctx, q, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("recover stale editions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FetchPendingEditions selects the oldest-received pending editions still
// under the attempt cap, joined with their source.
func (p *Pool) FetchPendingEditions(ctx context.Context, limit, maxAttempts int) ([]PendingEdition, error) {
	const q = `
SELECT
	e.edition_id,
	e.edition_uuid::text,
	e.source_id,
	s.name,
	s.website_url,
	e.subject,
	e.plain_text,
	e.language,
	e.process_attempts,
	e.received_at
FROM feed.editions e
JOIN feed.sources s ON s.source_id = e.source_id
WHERE e.processing_status = 'pending'
  AND e.process_attempts < $2
ORDER BY e.received_at ASC, e.edition_id ASC
LIMIT $1
`

	rows, err := p.Query(ctx, q, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("query pending editions: %w", err)
	}
	defer rows.Close()

	items := make([]PendingEdition, 0, limit)
	for rows.Next() {
		var row PendingEdition
		if err := rows.Scan(
			&row.EditionID,
			&row.EditionUUID,
			&row.SourceID,
			&row.SourceName,
			&row.SourceWebsite,
			&row.Subject,
			&row.PlainText,
			&row.Language,
			&row.ProcessAttempts,
			&row.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending edition row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending editions: %w", err)
	}

	return items, nil
}

// MarkEditionProcessing claims one pending edition, incrementing its attempt
// counter in the same statement so the stale sweep stays correct. Returns the
// new attempt count, or false when another run already claimed the row.
func (p *Pool) MarkEditionProcessing(ctx context.Context, editionID int64, now time.Time) (int, bool, error) {
	const q = `
UPDATE feed.editions
SET
	processing_status = 'processing',
	process_attempts = process_attempts + 1,
	processing_started_at = $2,
	updated_at = $2
WHERE edition_id = $1
  AND processing_status = 'pending'
RETURNING process_attempts
`

	var attempts int
	err := p.QueryRow(ctx, q, editionID, now.UTC()).Scan(&attempts)
	if err != nil {
		if IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("mark edition processing: %w", err)
	}
	return attempts, true, nil
}

func (p *Pool) CompleteEdition(ctx context.Context, editionID int64, summary *string, readTimeMinutes *int, processedAt time.Time) error {
	const q = `
UPDATE feed.editions
SET
	processing_status = 'completed',
	summary = $2,
	read_time_minutes = $3,
	processed_at = $4,
	error_message = NULL,
	updated_at = $4
WHERE edition_id = $1
`
	if _, err := p.Exec(ctx, q, editionID, summary, readTimeMinutes, processedAt.UTC()); err != nil {
		return fmt.Errorf("complete edition: %w", err)
	}
	return nil
}

func (p *Pool) FailEdition(ctx context.Context, editionID int64, cause string, failedAt time.Time) error {
	const q = `
UPDATE feed.editions
SET
	processing_status = 'failed',
	error_message = $2,
	processed_at = $3,
	updated_at = $3
WHERE edition_id = $1
`

	msg := truncateErrorMessage(cause)

	if _, err := p.Exec(ctx, q, editionID, msg, failedAt.UTC()); err != nil {
		return fmt.Errorf("fail edition: %w", err)
	}
	return nil
}

// RequeueEdition reverts a processing edition to pending for a later batch.
// Attempts are kept; the cap is enforced at fetch time.
func (p *Pool) RequeueEdition(ctx context.Context, editionID int64, cause string, now time.Time) error {
	const q = `
UPDATE feed.editions
SET
	processing_status = 'pending',
	error_message = $2,
	updated_at = $3
WHERE edition_id = $1
`

	msg := truncateErrorMessage(cause)

	if _, err := p.Exec(ctx, q, editionID, msg, now.UTC()); err != nil {
		return fmt.Errorf("requeue edition: %w", err)
	}
	return nil
}

// ResetFailedEditions re-queues every failed edition with a fresh attempt budget.
func (p *Pool) ResetFailedEditions(ctx context.Context) (int64, error) {
	const q = `
UPDATE feed.editions
SET
	processing_status = 'pending',
	process_attempts = 0,
	error_message = NULL,
	updated_at = now()
WHERE processing_status = 'failed'
`
	tag, err := p.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("reset failed editions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkEditionPending manually re-queues a single edition by public UUID.
func (p *Pool) MarkEditionPending(ctx context.Context, editionUUID string) (bool, error) {
	const q = `
UPDATE feed.editions
SET
	processing_status = 'pending',
	process_attempts = 0,
	error_message = NULL,
	updated_at = now()
WHERE edition_uuid = $1::uuid
  AND processing_status <> 'pending'
`
	tag, err := p.Exec(ctx, q, strings.TrimSpace(editionUUID))
	if err != nil {
		return false, fmt.Errorf("mark edition pending: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Pool) GetQueueStats(ctx context.Context) (QueueStats, error) {
	const q = `
SELECT
	COUNT(*) FILTER (WHERE processing_status = 'pending'),
	COUNT(*) FILTER (WHERE processing_status = 'processing'),
	COUNT(*) FILTER (WHERE processing_status = 'completed'),
	COUNT(*) FILTER (WHERE processing_status = 'failed'),
	COUNT(*)
FROM feed.editions
`

	var stats QueueStats
	if err := p.QueryRow(ctx, q).Scan(
		&stats.Pending,
		&stats.Processing,
		&stats.Completed,
		&stats.Failed,
		&stats.Total,
	); err != nil {
		return QueueStats{}, fmt.Errorf("query queue stats: %w", err)
	}
	return stats, nil
}
