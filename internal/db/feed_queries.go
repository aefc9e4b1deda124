package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Candidate orderings used by the feed modes.
const (
	FeedOrderRecency   = "recency"
	FeedOrderPopular   = "popular"
	FeedOrderTrending  = "trending"
	FeedOrderCandidate = "candidate"
)

// FeedCandidateQuery selects eligible bytes for one user.
type FeedCandidateQuery struct {
	UserID         string
	AllowSponsored bool
	CreatedAfter   *time.Time
	SubscribedOnly bool
	Order          string
	Limit          int
}

// FeedCandidate is one eligible content byte joined with its source.
type FeedCandidate struct {
	ByteID          int64
	ByteUUID        string
	EditionID       int64
	SourceID        int64
	SourceName      string
	Content         string
	ByteType        string
	Author          *string
	Context         *string
	Category        string
	QualityScore    float64
	Upvotes         int
	Downvotes       int
	ViewCount       int
	SaveCount       int
	ShareCount      int
	EngagementScore float64
	TrendingScore   float64
	IsSponsored     bool
	CreatedAt       time.Time
}

// Eligibility shared by every feed mode: never resurface a byte the user has
// read, voted on, or saved.
const feedEligibilityWhere = `
WHERE (NOT cb.is_sponsored OR $2)
  AND ($3::timestamptz IS NULL OR cb.created_at >= $3)
  AND (NOT $4 OR EXISTS (
		SELECT 1
		FROM feed.subscriptions sub
		WHERE sub.user_id = $1
		  AND sub.source_id = cb.source_id
		  AND sub.is_active
	))
  AND NOT EXISTS (
		SELECT 1
		FROM feed.content_history ch
		WHERE ch.user_id = $1
		  AND ch.byte_id = cb.byte_id
		  AND ch.is_read
	)
  AND NOT EXISTS (
		SELECT 1
		FROM feed.user_engagements ue
		WHERE ue.user_id = $1
		  AND ue.byte_id = cb.byte_id
		  AND (ue.vote <> 0 OR ue.is_saved)
	)
`

func (p *Pool) ListFeedCandidates(ctx context.Context, query FeedCandidateQuery) ([]FeedCandidate, error) {
	if query.Limit <= 0 {
		return nil, nil
	}

	var orderBy string
	switch query.Order {
	case FeedOrderRecency:
		orderBy = `ORDER BY cb.created_at DESC, cb.byte_id DESC`
	case FeedOrderPopular:
		// GREATEST floors heavily downvoted bytes at zero, matching the
		// in-process scorer; the raw score can go negative.
		orderBy = `ORDER BY (cb.quality_score * 0.4 + (GREATEST(cb.engagement_score, 0) / (GREATEST(cb.engagement_score, 0) + 25.0)) * 0.6) DESC, cb.byte_id DESC`
	case FeedOrderTrending:
		orderBy = `ORDER BY cb.trending_score DESC, cb.byte_id DESC`
	case FeedOrderCandidate:
		// Oversized candidate pool ordering for the personalized scorer.
		orderBy = `ORDER BY cb.quality_score DESC, cb.engagement_score DESC, cb.created_at DESC, cb.byte_id DESC`
	default:
		return nil, fmt.Errorf("unknown feed order %q", query.Order)
	}

	q := `
SELECT
	cb.byte_id,
	cb.byte_uuid::text,
	cb.edition_id,
	cb.source_id,
	s.name,
	cb.content,
	cb.byte_type,
	cb.author,
	cb.context,
	cb.category,
	cb.quality_score,
	cb.upvotes,
	cb.downvotes,
	cb.view_count,
	cb.save_count,
	cb.share_count,
	cb.engagement_score,
	cb.trending_score,
	cb.is_sponsored,
	cb.created_at
FROM feed.content_bytes cb
JOIN feed.sources s ON s.source_id = cb.source_id
` + feedEligibilityWhere + orderBy + `
LIMIT $5
`

	var createdAfter *time.Time
	if query.CreatedAfter != nil {
		utc := query.CreatedAfter.UTC()
		createdAfter = &utc
	}

	rows, err := p.Query(ctx, q,
		strings.TrimSpace(query.UserID),
		query.AllowSponsored,
		createdAfter,
		query.SubscribedOnly,
		query.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query feed candidates: %w", err)
	}
	defer rows.Close()

	items := make([]FeedCandidate, 0, query.Limit)
	for rows.Next() {
		var row FeedCandidate
		if err := rows.Scan(
			&row.ByteID,
			&row.ByteUUID,
			&row.EditionID,
			&row.SourceID,
			&row.SourceName,
			&row.Content,
			&row.ByteType,
			&row.Author,
			&row.Context,
			&row.Category,
			&row.QualityScore,
			&row.Upvotes,
			&row.Downvotes,
			&row.ViewCount,
			&row.SaveCount,
			&row.ShareCount,
			&row.EngagementScore,
			&row.TrendingScore,
			&row.IsSponsored,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan feed candidate row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed candidates: %w", err)
	}

	return items, nil
}

// CountEligibleBytes reports how many bytes the user could still be served.
func (p *Pool) CountEligibleBytes(ctx context.Context, userID string, allowSponsored bool) (int64, error) {
	q := `
SELECT COUNT(*)
FROM feed.content_bytes cb
` + feedEligibilityWhere

	var count int64
	if err := p.QueryRow(ctx, q, strings.TrimSpace(userID), allowSponsored, nil, false).Scan(&count); err != nil {
		return 0, fmt.Errorf("count eligible bytes: %w", err)
	}
	return count, nil
}

// GetUserSettings returns stored settings or defaults for an unknown user.
func (p *Pool) GetUserSettings(ctx context.Context, userID string) (*UserSettings, error) {
	const q = `
SELECT user_id, allow_sponsored, updated_at
FROM feed.user_settings
WHERE user_id = $1
LIMIT 1
`

	var row UserSettings
	err := p.QueryRow(ctx, q, strings.TrimSpace(userID)).Scan(&row.UserID, &row.AllowSponsored, &row.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return &UserSettings{UserID: strings.TrimSpace(userID)}, nil
		}
		return nil, fmt.Errorf("query user settings: %w", err)
	}
	return &row, nil
}
