package engage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/solai17/bytefeed/internal/db"
	"github.com/solai17/bytefeed/internal/globaltime"
)

// ErrByteNotFound reports an engagement action against an unknown byte.
var ErrByteNotFound = errors.New("content byte not found")

// ErrInvalidVote reports a vote value outside {-1, 0, 1}.
var ErrInvalidVote = errors.New("vote must be -1, 0 or 1")

// Preference nudges applied on explicit votes. The asymmetry keeps one
// downvote from erasing a category a user otherwise engages with.
const (
	upvoteNudge   = 0.05
	downvoteNudge = -0.03
)

// Store is the persistence surface of the feedback loop, implemented by
// *db.Pool.
type Store interface {
	GetByteByUUID(ctx context.Context, byteUUID string) (*db.ContentByte, error)
	GetByteByID(ctx context.Context, byteID int64) (*db.ContentByte, error)
	SetVote(ctx context.Context, userID string, byteID int64, value int, now time.Time) (int, error)
	RecordEngagementView(ctx context.Context, userID string, byteID int64, dwellTimeMS int64, now time.Time) error
	ToggleSaved(ctx context.Context, userID string, byteID int64, now time.Time) (bool, error)
	AdjustByteCounters(ctx context.Context, byteID int64, upDelta, downDelta, viewDelta, saveDelta, shareDelta int) error
	UpdateByteScores(ctx context.Context, byteID int64, engagementScore, trendingScore float64) error
	NudgePreference(ctx context.Context, userID, category string, delta float64, now time.Time) error
	UpsertHistoryRead(ctx context.Context, userID string, byteID int64, isRead bool, now time.Time) error
	RecomputeSourceEngagement(ctx context.Context, sourceID int64) error
}

// VoteResult reports the byte's state after a vote landed.
type VoteResult struct {
	Vote      int `json:"vote"`
	Upvotes   int `json:"upvotes"`
	Downvotes int `json:"downvotes"`
}

type Service struct {
	store  Store
	logger zerolog.Logger
}

func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Vote sets a user's vote on a byte. Counters move by the delta between the
// previous and the new vote, so repeating a vote is a no-op and flipping one
// adjusts both sides. Votes beyond the counters also nudge the user's
// category preference and mark the byte read.
func (s *Service) Vote(ctx context.Context, userID, byteUUID string, value int) (VoteResult, error) {
	if value < -1 || value > 1 {
		return VoteResult{}, ErrInvalidVote
	}

	byteRow, err := s.lookupByte(ctx, byteUUID)
	if err != nil {
		return VoteResult{}, err
	}

	now := globaltime.UTC()
	prev, err := s.store.SetVote(ctx, userID, byteRow.ByteID, value, now)
	if err != nil {
		return VoteResult{}, fmt.Errorf("set vote: %w", err)
	}

	if prev != value {
		upDelta := voteSide(value, 1) - voteSide(prev, 1)
		downDelta := voteSide(value, -1) - voteSide(prev, -1)
		if err := s.store.AdjustByteCounters(ctx, byteRow.ByteID, upDelta, downDelta, 0, 0, 0); err != nil {
			return VoteResult{}, fmt.Errorf("adjust vote counters: %w", err)
		}

		switch value {
		case 1:
			s.nudge(ctx, userID, byteRow.Category, upvoteNudge, now)
		case -1:
			s.nudge(ctx, userID, byteRow.Category, downvoteNudge, now)
		}
	}

	if err := s.store.UpsertHistoryRead(ctx, userID, byteRow.ByteID, true, now); err != nil {
		return VoteResult{}, fmt.Errorf("mark byte read: %w", err)
	}

	updated, err := s.refreshScores(ctx, byteRow.ByteID, byteRow.SourceID)
	if err != nil {
		return VoteResult{}, err
	}

	return VoteResult{Vote: value, Upvotes: updated.Upvotes, Downvotes: updated.Downvotes}, nil
}

// View records one impression with its dwell time and bumps the byte's view
// counter. markRead upgrades the history record; is_read never downgrades, so
// a dwell-only view keeps the byte eligible for the feed.
func (s *Service) View(ctx context.Context, userID, byteUUID string, dwellTimeMS int64, markRead bool) error {
	if dwellTimeMS < 0 {
		dwellTimeMS = 0
	}

	byteRow, err := s.lookupByte(ctx, byteUUID)
	if err != nil {
		return err
	}

	now := globaltime.UTC()
	if err := s.store.RecordEngagementView(ctx, userID, byteRow.ByteID, dwellTimeMS, now); err != nil {
		return fmt.Errorf("record view: %w", err)
	}
	if err := s.store.AdjustByteCounters(ctx, byteRow.ByteID, 0, 0, 1, 0, 0); err != nil {
		return fmt.Errorf("adjust view counter: %w", err)
	}
	if err := s.store.UpsertHistoryRead(ctx, userID, byteRow.ByteID, markRead, now); err != nil {
		return fmt.Errorf("mark byte read: %w", err)
	}

	_, err = s.refreshScores(ctx, byteRow.ByteID, byteRow.SourceID)
	return err
}

// ToggleSave flips the user's saved flag and reports the new state.
func (s *Service) ToggleSave(ctx context.Context, userID, byteUUID string) (bool, error) {
	byteRow, err := s.lookupByte(ctx, byteUUID)
	if err != nil {
		return false, err
	}

	now := globaltime.UTC()
	saved, err := s.store.ToggleSaved(ctx, userID, byteRow.ByteID, now)
	if err != nil {
		return false, fmt.Errorf("toggle save: %w", err)
	}

	saveDelta := -1
	if saved {
		saveDelta = 1
	}
	if err := s.store.AdjustByteCounters(ctx, byteRow.ByteID, 0, 0, 0, saveDelta, 0); err != nil {
		return false, fmt.Errorf("adjust save counter: %w", err)
	}
	if err := s.store.UpsertHistoryRead(ctx, userID, byteRow.ByteID, true, now); err != nil {
		return false, fmt.Errorf("mark byte read: %w", err)
	}

	if _, err := s.refreshScores(ctx, byteRow.ByteID, byteRow.SourceID); err != nil {
		return false, err
	}
	return saved, nil
}

func (s *Service) lookupByte(ctx context.Context, byteUUID string) (*db.ContentByte, error) {
	// A malformed identifier would fail the uuid cast in the query; treat it
	// as a byte that does not exist.
	if _, err := uuid.Parse(strings.TrimSpace(byteUUID)); err != nil {
		return nil, ErrByteNotFound
	}

	byteRow, err := s.store.GetByteByUUID(ctx, byteUUID)
	if err != nil {
		return nil, fmt.Errorf("look up byte: %w", err)
	}
	if byteRow == nil {
		return nil, ErrByteNotFound
	}
	return byteRow, nil
}

// refreshScores recomputes the derived scores from the post-delta counters.
func (s *Service) refreshScores(ctx context.Context, byteID, sourceID int64) (*db.ContentByte, error) {
	updated, err := s.store.GetByteByID(ctx, byteID)
	if err != nil {
		return nil, fmt.Errorf("reload byte: %w", err)
	}
	if updated == nil {
		return nil, ErrByteNotFound
	}

	engagement := EngagementScore(updated.Upvotes, updated.Downvotes, updated.ViewCount, updated.SaveCount, updated.ShareCount)
	trending := TrendingScore(engagement, globaltime.Since(updated.CreatedAt))
	if err := s.store.UpdateByteScores(ctx, byteID, engagement, trending); err != nil {
		return nil, fmt.Errorf("update byte scores: %w", err)
	}

	// Source aggregates lag a little behind the byte scores; that is fine.
	if err := s.store.RecomputeSourceEngagement(ctx, sourceID); err != nil {
		s.logger.Warn().Err(err).Int64("source_id", sourceID).Msg("recompute source engagement")
	}

	updated.EngagementScore = engagement
	updated.TrendingScore = trending
	return updated, nil
}

func (s *Service) nudge(ctx context.Context, userID, category string, delta float64, now time.Time) {
	if err := s.store.NudgePreference(ctx, userID, category, delta, now); err != nil {
		s.logger.Warn().Err(err).Str("category", category).Msg("nudge preference")
	}
}

func voteSide(vote, side int) int {
	if vote == side {
		return 1
	}
	return 0
}
