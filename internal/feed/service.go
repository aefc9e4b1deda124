package feed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/solai17/bytefeed/internal/db"
	"github.com/solai17/bytefeed/internal/globaltime"
)

// Mode selects the feed's candidate set and ordering.
type Mode string

const (
	ModePersonalized Mode = "personalized"
	ModePopular      Mode = "popular"
	ModeTrending     Mode = "trending"
	ModeSubscribed   Mode = "subscribed"
	ModeNew          Mode = "new"
)

// ParseMode maps a wire value onto a Mode; empty defaults to personalized.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case "":
		return ModePersonalized, nil
	case ModePersonalized, ModePopular, ModeTrending, ModeSubscribed, ModeNew:
		return Mode(raw), nil
	default:
		return "", fmt.Errorf("unknown feed mode %q", raw)
	}
}

// Store is the read surface of the ranking engine plus the single exposure
// write, implemented by *db.Pool.
type Store interface {
	ListFeedCandidates(ctx context.Context, query db.FeedCandidateQuery) ([]db.FeedCandidate, error)
	ListPreferences(ctx context.Context, userID string) (map[string]float64, error)
	GetUserSettings(ctx context.Context, userID string) (*db.UserSettings, error)
	CountEligibleBytes(ctx context.Context, userID string, allowSponsored bool) (int64, error)
	UpsertHistoryShown(ctx context.Context, userID string, byteID int64, now time.Time) error
}

type Options struct {
	DefaultPageSize     int
	MaxPageSize         int
	CandidateMultiplier int
	DiversityCap        int
	RecencyWindow       time.Duration
	TrendingWindow      time.Duration
}

func (o Options) withDefaults() Options {
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = 20
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = 100
	}
	if o.CandidateMultiplier <= 0 {
		o.CandidateMultiplier = 5
	}
	if o.DiversityCap <= 0 {
		o.DiversityCap = 2
	}
	if o.RecencyWindow <= 0 {
		o.RecencyWindow = 30 * 24 * time.Hour
	}
	if o.TrendingWindow <= 0 {
		o.TrendingWindow = 24 * time.Hour
	}
	return o
}

// Item is one feed entry as served to callers.
type Item struct {
	ByteUUID        string    `json:"byte_uuid"`
	SourceName      string    `json:"source_name"`
	Content         string    `json:"content"`
	ByteType        string    `json:"byte_type"`
	Author          *string   `json:"author"`
	Context         *string   `json:"context"`
	Category        string    `json:"category"`
	QualityScore    float64   `json:"quality_score"`
	Upvotes         int       `json:"upvotes"`
	Downvotes       int       `json:"downvotes"`
	SaveCount       int       `json:"save_count"`
	EngagementScore float64   `json:"engagement_score"`
	IsSponsored     bool      `json:"is_sponsored"`
	CreatedAt       time.Time `json:"created_at"`
}

// Page is one feed response.
type Page struct {
	Items      []Item `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// NextItem is the one-at-a-time feed response.
type NextItem struct {
	Item      *Item `json:"item"`
	QueueSize int64 `json:"queue_size"`
}

type Service struct {
	store  Store
	opts   Options
	logger zerolog.Logger
	jitter func() float64
}

func NewService(store Store, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger,
		jitter: rand.Float64,
	}
}

// Page returns one ranked feed page. Every mode excludes bytes the user has
// read or acted on; sponsored bytes appear only for opted-in users.
func (s *Service) Page(ctx context.Context, userID string, mode Mode, pageSize int, cursor string) (Page, error) {
	pageSize = s.clampPageSize(pageSize)

	offset, err := decodeCursor(cursor, mode)
	if err != nil {
		return Page{}, err
	}

	settings, err := s.store.GetUserSettings(ctx, userID)
	if err != nil {
		return Page{}, fmt.Errorf("load user settings: %w", err)
	}

	var candidates []scoredCandidate
	switch mode {
	case ModePersonalized:
		candidates, err = s.personalizedCandidates(ctx, userID, settings.AllowSponsored, offset, pageSize)
	case ModePopular:
		candidates, err = s.orderedCandidates(ctx, userID, settings.AllowSponsored, offset, pageSize, db.FeedCandidateQuery{Order: db.FeedOrderPopular})
	case ModeTrending:
		createdAfter := globaltime.UTC().Add(-s.opts.TrendingWindow)
		candidates, err = s.orderedCandidates(ctx, userID, settings.AllowSponsored, offset, pageSize, db.FeedCandidateQuery{Order: db.FeedOrderTrending, CreatedAfter: &createdAfter})
	case ModeSubscribed:
		candidates, err = s.orderedCandidates(ctx, userID, settings.AllowSponsored, offset, pageSize, db.FeedCandidateQuery{Order: db.FeedOrderRecency, SubscribedOnly: true})
	case ModeNew:
		candidates, err = s.orderedCandidates(ctx, userID, settings.AllowSponsored, offset, pageSize, db.FeedCandidateQuery{Order: db.FeedOrderRecency})
	default:
		return Page{}, fmt.Errorf("unknown feed mode %q", mode)
	}
	if err != nil {
		return Page{}, err
	}

	page := Page{Items: make([]Item, 0, pageSize)}
	selected := candidates
	if len(selected) > pageSize {
		selected = selected[:pageSize]
		page.HasMore = true
	}
	for _, candidate := range selected {
		page.Items = append(page.Items, toItem(candidate.FeedCandidate))
	}
	if page.HasMore {
		page.NextCursor = encodeCursor(mode, offset+len(page.Items))
	}
	return page, nil
}

// personalizedCandidates fetches an oversized pool, scores it against the
// user's preferences and applies the diversity cap. Up to pageSize+1 items
// are returned so the caller can derive hasMore.
func (s *Service) personalizedCandidates(ctx context.Context, userID string, allowSponsored bool, offset, pageSize int) ([]scoredCandidate, error) {
	poolSize := (offset + pageSize) * s.opts.CandidateMultiplier
	pool, err := s.store.ListFeedCandidates(ctx, db.FeedCandidateQuery{
		UserID:         userID,
		AllowSponsored: allowSponsored,
		Order:          db.FeedOrderCandidate,
		Limit:          poolSize + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("list feed candidates: %w", err)
	}

	preferences, err := s.store.ListPreferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}

	ranked := rankCandidates(pool, preferences, globaltime.UTC(), s.opts.RecencyWindow, s.jitter)
	if offset >= len(ranked) {
		return nil, nil
	}
	rest := ranked[offset:]

	page := applyDiversity(rest, pageSize, s.opts.DiversityCap)
	if len(rest) > len(page) {
		// Sentinel overflow entry; Page trims it and sets hasMore.
		page = append(page, rest[len(rest)-1])
	}
	return page, nil
}

func (s *Service) orderedCandidates(ctx context.Context, userID string, allowSponsored bool, offset, pageSize int, query db.FeedCandidateQuery) ([]scoredCandidate, error) {
	query.UserID = userID
	query.AllowSponsored = allowSponsored
	query.Limit = offset + pageSize + 1

	rows, err := s.store.ListFeedCandidates(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list feed candidates: %w", err)
	}
	if offset >= len(rows) {
		return nil, nil
	}

	out := make([]scoredCandidate, 0, len(rows)-offset)
	for _, row := range rows[offset:] {
		out = append(out, scoredCandidate{FeedCandidate: row})
	}
	return out, nil
}

// Next serves the single best personalized item and records its exposure
// without asserting the user read it. An empty feed is not an error.
func (s *Service) Next(ctx context.Context, userID string) (NextItem, error) {
	settings, err := s.store.GetUserSettings(ctx, userID)
	if err != nil {
		return NextItem{}, fmt.Errorf("load user settings: %w", err)
	}

	candidates, err := s.personalizedCandidates(ctx, userID, settings.AllowSponsored, 0, 1)
	if err != nil {
		return NextItem{}, err
	}
	if len(candidates) == 0 {
		return NextItem{}, nil
	}
	top := candidates[0]

	queueSize, err := s.store.CountEligibleBytes(ctx, userID, settings.AllowSponsored)
	if err != nil {
		return NextItem{}, fmt.Errorf("count eligible bytes: %w", err)
	}

	if err := s.store.UpsertHistoryShown(ctx, userID, top.ByteID, globaltime.UTC()); err != nil {
		s.logger.Warn().Err(err).Str("byte_uuid", top.ByteUUID).Msg("record exposure")
	}

	item := toItem(top.FeedCandidate)
	return NextItem{Item: &item, QueueSize: queueSize}, nil
}

func (s *Service) clampPageSize(pageSize int) int {
	if pageSize <= 0 {
		return s.opts.DefaultPageSize
	}
	if pageSize > s.opts.MaxPageSize {
		return s.opts.MaxPageSize
	}
	return pageSize
}

func toItem(candidate db.FeedCandidate) Item {
	return Item{
		ByteUUID:        candidate.ByteUUID,
		SourceName:      candidate.SourceName,
		Content:         candidate.Content,
		ByteType:        candidate.ByteType,
		Author:          candidate.Author,
		Context:         candidate.Context,
		Category:        candidate.Category,
		QualityScore:    candidate.QualityScore,
		Upvotes:         candidate.Upvotes,
		Downvotes:       candidate.Downvotes,
		SaveCount:       candidate.SaveCount,
		EngagementScore: candidate.EngagementScore,
		IsSponsored:     candidate.IsSponsored,
		CreatedAt:       candidate.CreatedAt,
	}
}
