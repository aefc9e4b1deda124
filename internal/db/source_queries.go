package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/solai17/bytefeed/internal/globaltime"
)

type CreateSourceInput struct {
	Name           string
	SenderIdentity string
	Domain         *string
	Category       string
}

func (p *Pool) FindSourceBySender(ctx context.Context, senderIdentity string) (*Source, error) {
	const q = `
SELECT
	source_id,
	source_uuid::text,
	name,
	sender_identity,
	domain,
	category,
	website_url,
	subscribe_url,
	is_curated,
	is_verified,
	subscriber_count,
	total_engagement,
	avg_engagement,
	created_at,
	updated_at
FROM feed.sources
WHERE sender_identity = $1
LIMIT 1
`

	var row Source
	err := p.QueryRow(ctx, q, normalizeSender(senderIdentity)).Scan(
		&row.SourceID,
		&row.SourceUUID,
		&row.Name,
		&row.SenderIdentity,
		&row.Domain,
		&row.Category,
		&row.WebsiteURL,
		&row.SubscribeURL,
		&row.IsCurated,
		&row.IsVerified,
		&row.SubscriberCount,
		&row.TotalEngagement,
		&row.AvgEngagement,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query source by sender: %w", err)
	}
	return &row, nil
}

// CreateSource inserts a Source for a first-seen sender. A concurrent insert
// of the same sender loses the unique race and resolves to the existing row.
func (p *Pool) CreateSource(ctx context.Context, input CreateSourceInput) (*Source, error) {
	const q = `
INSERT INTO feed.sources (
	source_uuid,
	name,
	sender_identity,
	domain,
	category,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (sender_identity) DO NOTHING
RETURNING
	source_id,
	source_uuid::text,
	name,
	sender_identity,
	domain,
	category,
	website_url,
	subscribe_url,
	is_curated,
	is_verified,
	subscriber_count,
	total_engagement,
	avg_engagement,
	created_at,
	updated_at
`

	sender := normalizeSender(input.SenderIdentity)
	category := strings.TrimSpace(strings.ToLower(input.Category))
	if category == "" {
		category = CategoryGeneral
	}

	var row Source
	err := p.QueryRow(ctx, q,
		uuid.NewString(),
		strings.TrimSpace(input.Name),
		sender,
		input.Domain,
		category,
		globaltime.UTC(),
	).Scan(
		&row.SourceID,
		&row.SourceUUID,
		&row.Name,
		&row.SenderIdentity,
		&row.Domain,
		&row.Category,
		&row.WebsiteURL,
		&row.SubscribeURL,
		&row.IsCurated,
		&row.IsVerified,
		&row.SubscriberCount,
		&row.TotalEngagement,
		&row.AvgEngagement,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			existing, lookupErr := p.FindSourceBySender(ctx, sender)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing == nil {
				return nil, fmt.Errorf("source %q vanished after conflict", sender)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("insert source: %w", err)
	}
	return &row, nil
}

// UpsertSubscription links a user to a source, bumping the source's
// subscriber count only when the link is new or was inactive.
func (p *Pool) UpsertSubscription(ctx context.Context, userID string, sourceID int64) (bool, error) {
	const q = `
INSERT INTO feed.subscriptions (user_id, source_id, is_active, created_at, updated_at)
VALUES ($1, $2, TRUE, $3, $3)
ON CONFLICT (user_id, source_id) DO UPDATE
SET is_active = TRUE, updated_at = EXCLUDED.updated_at
WHERE feed.subscriptions.is_active = FALSE
RETURNING TRUE
`

	var linked bool
	err := p.QueryRow(ctx, q, strings.TrimSpace(userID), sourceID, globaltime.UTC()).Scan(&linked)
	if err != nil {
		if IsNoRows(err) {
			// Already actively subscribed.
			return false, nil
		}
		return false, fmt.Errorf("upsert subscription: %w", err)
	}

	const bump = `
UPDATE feed.sources
SET subscriber_count = subscriber_count + 1, updated_at = now()
WHERE source_id = $1
`
	if _, err := p.Exec(ctx, bump, sourceID); err != nil {
		return true, fmt.Errorf("bump subscriber count: %w", err)
	}
	return true, nil
}

// UpdateSourceMetadata fills in a source's public identity discovered by the
// extraction pipeline. Existing non-empty values win.
func (p *Pool) UpdateSourceMetadata(ctx context.Context, sourceID int64, name, websiteURL, subscribeURL string) error {
	const q = `
UPDATE feed.sources
SET
	name = CASE WHEN $2 <> '' THEN $2 ELSE name END,
	website_url = COALESCE(website_url, NULLIF($3, '')),
	subscribe_url = COALESCE(subscribe_url, NULLIF($4, '')),
	updated_at = now()
WHERE source_id = $1
`
	if _, err := p.Exec(ctx, q, sourceID, strings.TrimSpace(name), strings.TrimSpace(websiteURL), strings.TrimSpace(subscribeURL)); err != nil {
		return fmt.Errorf("update source metadata: %w", err)
	}
	return nil
}

// RecomputeSourceEngagement refreshes a source's rolling engagement
// aggregates from its content bytes.
func (p *Pool) RecomputeSourceEngagement(ctx context.Context, sourceID int64) error {
	const q = `
UPDATE feed.sources s
SET
	total_engagement = agg.total,
	avg_engagement = agg.average,
	updated_at = now()
FROM (
	SELECT
		COALESCE(SUM(cb.engagement_score), 0)::bigint AS total,
		COALESCE(AVG(cb.engagement_score), 0) AS average
	FROM feed.content_bytes cb
	WHERE cb.source_id = $1
) agg
WHERE s.source_id = $1
`
	if _, err := p.Exec(ctx, q, sourceID); err != nil {
		return fmt.Errorf("recompute source engagement: %w", err)
	}
	return nil
}

func normalizeSender(raw string) string {
	return strings.TrimSpace(strings.ToLower(raw))
}
