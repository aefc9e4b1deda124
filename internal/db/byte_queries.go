package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewContentByte is one validated unit produced by the extraction pipeline.
type NewContentByte struct {
	Content      string
	ByteType     string
	Author       *string
	Context      *string
	Category     string
	QualityScore float64
	IsSponsored  bool
}

const contentByteColumns = `
	byte_id,
	byte_uuid::text,
	edition_id,
	source_id,
	content,
	byte_type,
	author,
	context,
	category,
	quality_score,
	upvotes,
	downvotes,
	view_count,
	save_count,
	share_count,
	engagement_score,
	trending_score,
	is_sponsored,
	created_at,
	updated_at
`

func scanContentByte(row *Row) (*ContentByte, error) {
	var b ContentByte
	err := row.Scan(
		&b.ByteID,
		&b.ByteUUID,
		&b.EditionID,
		&b.SourceID,
		&b.Content,
		&b.ByteType,
		&b.Author,
		&b.Context,
		&b.Category,
		&b.QualityScore,
		&b.Upvotes,
		&b.Downvotes,
		&b.ViewCount,
		&b.SaveCount,
		&b.ShareCount,
		&b.EngagementScore,
		&b.TrendingScore,
		&b.IsSponsored,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// InsertContentBytes persists one edition's extracted units in a single
// transaction so a partial batch never becomes visible.
func (p *Pool) InsertContentBytes(ctx context.Context, editionID, sourceID int64, bytes []NewContentByte, now time.Time) (int, error) {
	if len(bytes) == 0 {
		return 0, nil
	}

	tx, err := p.BeginTx(ctx, TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin content bytes tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const q = `
INSERT INTO feed.content_bytes (
	byte_uuid,
	edition_id,
	source_id,
	content,
	byte_type,
	author,
	context,
	category,
	quality_score,
	is_sponsored,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
`

	inserted := 0
	ts := now.UTC()
	for _, b := range bytes {
		if _, err := tx.Exec(ctx, q,
			uuid.NewString(),
			editionID,
			sourceID,
			b.Content,
			b.ByteType,
			b.Author,
			b.Context,
			b.Category,
			b.QualityScore,
			b.IsSponsored,
			ts,
		); err != nil {
			return 0, fmt.Errorf("insert content byte: %w", err)
		}
		inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit content bytes tx: %w", err)
	}
	return inserted, nil
}

func (p *Pool) GetByteByUUID(ctx context.Context, byteUUID string) (*ContentByte, error) {
	q := `SELECT` + contentByteColumns + `FROM feed.content_bytes WHERE byte_uuid = $1::uuid LIMIT 1`

	b, err := scanContentByte(p.QueryRow(ctx, q, strings.TrimSpace(byteUUID)))
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query content byte by uuid: %w", err)
	}
	return b, nil
}

func (p *Pool) GetByteByID(ctx context.Context, byteID int64) (*ContentByte, error) {
	q := `SELECT` + contentByteColumns + `FROM feed.content_bytes WHERE byte_id = $1 LIMIT 1`

	b, err := scanContentByte(p.QueryRow(ctx, q, byteID))
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query content byte by id: %w", err)
	}
	return b, nil
}

// AdjustByteCounters applies signed deltas to a byte's engagement counters.
// Counters are floored at zero.
func (p *Pool) AdjustByteCounters(ctx context.Context, byteID int64, upDelta, downDelta, viewDelta, saveDelta, shareDelta int) error {
	const q = `
UPDATE feed.content_bytes
SET
	upvotes = GREATEST(0, upvotes + $2),
	downvotes = GREATEST(0, downvotes + $3),
	view_count = GREATEST(0, view_count + $4),
	save_count = GREATEST(0, save_count + $5),
	share_count = GREATEST(0, share_count + $6),
	updated_at = now()
WHERE byte_id = $1
`
	if _, err := p.Exec(ctx, q, byteID, upDelta, downDelta, viewDelta, saveDelta, shareDelta); err != nil {
		return fmt.Errorf("adjust byte counters: %w", err)
	}
	return nil
}

func (p *Pool) UpdateByteScores(ctx context.Context, byteID int64, engagementScore, trendingScore float64) error {
	const q = `
UPDATE feed.content_bytes
SET
	engagement_score = $2,
	trending_score = $3,
	updated_at = now()
WHERE byte_id = $1
`
	if _, err := p.Exec(ctx, q, byteID, engagementScore, trendingScore); err != nil {
		return fmt.Errorf("update byte scores: %w", err)
	}
	return nil
}
