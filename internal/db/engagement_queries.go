package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SetVote upserts one user's vote on a byte and returns the previous value.
// The read and the write run in one transaction with the row locked so
// concurrent votes on the same (user, byte) pair serialize and counter
// deltas are never double-applied.
func (p *Pool) SetVote(ctx context.Context, userID string, byteID int64, value int, now time.Time) (int, error) {
	tx, err := p.BeginTx(ctx, TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin vote tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const lock = `
SELECT vote
FROM feed.user_engagements
WHERE user_id = $1 AND byte_id = $2
FOR UPDATE
`

	prev := 0
	err = tx.QueryRow(ctx, lock, strings.TrimSpace(userID), byteID).Scan(&prev)
	if err != nil && !IsNoRows(err) {
		return 0, fmt.Errorf("lock engagement row: %w", err)
	}

	const upsert = `
INSERT INTO feed.user_engagements (user_id, byte_id, vote, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, byte_id) DO UPDATE
SET vote = EXCLUDED.vote, updated_at = EXCLUDED.updated_at
`
	if _, err := tx.Exec(ctx, upsert, strings.TrimSpace(userID), byteID, value, now.UTC()); err != nil {
		return 0, fmt.Errorf("upsert vote: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit vote tx: %w", err)
	}
	return prev, nil
}

// RecordEngagementView accumulates one view and its dwell time on the
// per-user engagement record.
func (p *Pool) RecordEngagementView(ctx context.Context, userID string, byteID int64, dwellTimeMS int64, now time.Time) error {
	const q = `
INSERT INTO feed.user_engagements (user_id, byte_id, view_count, dwell_time_ms, updated_at)
VALUES ($1, $2, 1, $3, $4)
ON CONFLICT (user_id, byte_id) DO UPDATE
SET
	view_count = feed.user_engagements.view_count + 1,
	dwell_time_ms = feed.user_engagements.dwell_time_ms + EXCLUDED.dwell_time_ms,
	updated_at = EXCLUDED.updated_at
`
	if _, err := p.Exec(ctx, q, strings.TrimSpace(userID), byteID, dwellTimeMS, now.UTC()); err != nil {
		return fmt.Errorf("record engagement view: %w", err)
	}
	return nil
}

// ToggleSaved flips the saved flag and returns the new state.
func (p *Pool) ToggleSaved(ctx context.Context, userID string, byteID int64, now time.Time) (bool, error) {
	const q = `
INSERT INTO feed.user_engagements (user_id, byte_id, is_saved, updated_at)
VALUES ($1, $2, TRUE, $3)
ON CONFLICT (user_id, byte_id) DO UPDATE
SET is_saved = NOT feed.user_engagements.is_saved, updated_at = EXCLUDED.updated_at
RETURNING is_saved
`

	var saved bool
	if err := p.QueryRow(ctx, q, strings.TrimSpace(userID), byteID, now.UTC()).Scan(&saved); err != nil {
		return false, fmt.Errorf("toggle saved: %w", err)
	}
	return saved, nil
}

// NudgePreference shifts a user's category weight by delta, clamped to [0,1].
// A first vote seeds the weight from the neutral 0.5 midpoint.
func (p *Pool) NudgePreference(ctx context.Context, userID, category string, delta float64, now time.Time) error {
	const q = `
INSERT INTO feed.user_preferences (user_id, category, weight, updated_at)
VALUES ($1, $2, LEAST(1.0, GREATEST(0.0, 0.5 + $3)), $4)
ON CONFLICT (user_id, category) DO UPDATE
SET
	weight = LEAST(1.0, GREATEST(0.0, feed.user_preferences.weight + $3)),
	updated_at = EXCLUDED.updated_at
`
	if _, err := p.Exec(ctx, q, strings.TrimSpace(userID), strings.TrimSpace(strings.ToLower(category)), delta, now.UTC()); err != nil {
		return fmt.Errorf("nudge preference: %w", err)
	}
	return nil
}

func (p *Pool) ListPreferences(ctx context.Context, userID string) (map[string]float64, error) {
	const q = `
SELECT category, weight
FROM feed.user_preferences
WHERE user_id = $1
`

	rows, err := p.Query(ctx, q, strings.TrimSpace(userID))
	if err != nil {
		return nil, fmt.Errorf("query user preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[string]float64, 8)
	for rows.Next() {
		var category string
		var weight float64
		if err := rows.Scan(&category, &weight); err != nil {
			return nil, fmt.Errorf("scan preference row: %w", err)
		}
		prefs[category] = weight
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user preferences: %w", err)
	}
	return prefs, nil
}

// UpsertHistoryShown records exposure without asserting the user read the item.
// An existing read marker is preserved.
func (p *Pool) UpsertHistoryShown(ctx context.Context, userID string, byteID int64, now time.Time) error {
	const q = `
INSERT INTO feed.content_history (user_id, byte_id, shown_at, is_read)
VALUES ($1, $2, $3, FALSE)
ON CONFLICT (user_id, byte_id) DO UPDATE
SET shown_at = EXCLUDED.shown_at
`
	if _, err := p.Exec(ctx, q, strings.TrimSpace(userID), byteID, now.UTC()); err != nil {
		return fmt.Errorf("upsert history shown: %w", err)
	}
	return nil
}

// UpsertHistoryRead upgrades is_read monotonically; FALSE never overwrites TRUE.
func (p *Pool) UpsertHistoryRead(ctx context.Context, userID string, byteID int64, isRead bool, now time.Time) error {
	const q = `
INSERT INTO feed.content_history (user_id, byte_id, shown_at, is_read)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, byte_id) DO UPDATE
SET is_read = feed.content_history.is_read OR EXCLUDED.is_read
`
	if _, err := p.Exec(ctx, q, strings.TrimSpace(userID), byteID, now.UTC(), isRead); err != nil {
		return fmt.Errorf("upsert history read: %w", err)
	}
	return nil
}
