package engage

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/solai17/bytefeed/internal/db"
)

type engagementKey struct {
	userID string
	byteID int64
}

type fakeEngageStore struct {
	bytes       map[int64]*db.ContentByte
	votes       map[engagementKey]int
	saved       map[engagementKey]bool
	views       map[engagementKey]int
	read        map[engagementKey]bool
	preferences map[string]float64

	sourceRecomputes int
}

func newFakeEngageStore(bytes ...*db.ContentByte) *fakeEngageStore {
	store := &fakeEngageStore{
		bytes:       map[int64]*db.ContentByte{},
		votes:       map[engagementKey]int{},
		saved:       map[engagementKey]bool{},
		views:       map[engagementKey]int{},
		read:        map[engagementKey]bool{},
		preferences: map[string]float64{},
	}
	for _, b := range bytes {
		store.bytes[b.ByteID] = b
	}
	return store
}

func (f *fakeEngageStore) GetByteByUUID(_ context.Context, byteUUID string) (*db.ContentByte, error) {
	for _, b := range f.bytes {
		if b.ByteUUID == byteUUID {
			return b, nil
		}
	}
	return nil, nil
}

func (f *fakeEngageStore) GetByteByID(_ context.Context, byteID int64) (*db.ContentByte, error) {
	return f.bytes[byteID], nil
}

func (f *fakeEngageStore) SetVote(_ context.Context, userID string, byteID int64, value int, _ time.Time) (int, error) {
	key := engagementKey{userID, byteID}
	prev := f.votes[key]
	f.votes[key] = value
	return prev, nil
}

func (f *fakeEngageStore) RecordEngagementView(_ context.Context, userID string, byteID int64, _ int64, _ time.Time) error {
	f.views[engagementKey{userID, byteID}]++
	return nil
}

func (f *fakeEngageStore) ToggleSaved(_ context.Context, userID string, byteID int64, _ time.Time) (bool, error) {
	key := engagementKey{userID, byteID}
	f.saved[key] = !f.saved[key]
	return f.saved[key], nil
}

func (f *fakeEngageStore) AdjustByteCounters(_ context.Context, byteID int64, upDelta, downDelta, viewDelta, saveDelta, shareDelta int) error {
	b := f.bytes[byteID]
	b.Upvotes = max0(b.Upvotes + upDelta)
	b.Downvotes = max0(b.Downvotes + downDelta)
	b.ViewCount = max0(b.ViewCount + viewDelta)
	b.SaveCount = max0(b.SaveCount + saveDelta)
	b.ShareCount = max0(b.ShareCount + shareDelta)
	return nil
}

func (f *fakeEngageStore) UpdateByteScores(_ context.Context, byteID int64, engagementScore, trendingScore float64) error {
	b := f.bytes[byteID]
	b.EngagementScore = engagementScore
	b.TrendingScore = trendingScore
	return nil
}

func (f *fakeEngageStore) NudgePreference(_ context.Context, userID, category string, delta float64, _ time.Time) error {
	key := userID + "/" + category
	weight, ok := f.preferences[key]
	if !ok {
		weight = 0.5
	}
	weight += delta
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}
	f.preferences[key] = weight
	return nil
}

func (f *fakeEngageStore) UpsertHistoryRead(_ context.Context, userID string, byteID int64, isRead bool, _ time.Time) error {
	key := engagementKey{userID, byteID}
	f.read[key] = f.read[key] || isRead
	return nil
}

func (f *fakeEngageStore) RecomputeSourceEngagement(_ context.Context, _ int64) error {
	f.sourceRecomputes++
	return nil
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

const testByteUUID = "3f2c7b9a-5d1e-4f6a-8c0d-2e9b7a4c1d5f"

func testByte() *db.ContentByte {
	return &db.ContentByte{
		ByteID:    1,
		ByteUUID:  testByteUUID,
		SourceID:  10,
		Category:  db.CategoryTech,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
}

func TestVote_CounterConservation(t *testing.T) {
	t.Parallel()

	store := newFakeEngageStore(testByte())
	svc := NewService(store, zerolog.Nop())
	ctx := context.Background()

	result, err := svc.Vote(ctx, "user-1", testByteUUID, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Upvotes != 1 || result.Downvotes != 0 {
		t.Fatalf("after upvote: %+v", result)
	}

	result, err = svc.Vote(ctx, "user-1", testByteUUID, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Upvotes != 0 || result.Downvotes != 1 {
		t.Fatalf("after flip: %+v", result)
	}

	result, err = svc.Vote(ctx, "user-1", testByteUUID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Upvotes != 0 || result.Downvotes != 0 {
		t.Fatalf("after clear, counters must return to zero: %+v", result)
	}
}

func TestVote_RepeatIsNoOp(t *testing.T) {
	t.Parallel()

	store := newFakeEngageStore(testByte())
	svc := NewService(store, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := svc.Vote(ctx, "user-1", testByteUUID, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Upvotes != 1 {
			t.Fatalf("repeat #%d must not double-count: %+v", i, result)
		}
	}
	if got := store.preferences["user-1/tech"]; math.Abs(got-0.55) > 1e-9 {
		t.Fatalf("preference must be nudged exactly once, got %f", got)
	}
}

func TestVote_NudgesPreference(t *testing.T) {
	t.Parallel()

	store := newFakeEngageStore(testByte())
	svc := NewService(store, zerolog.Nop())
	ctx := context.Background()

	if _, err := svc.Vote(ctx, "user-1", testByteUUID, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.preferences["user-1/tech"]; math.Abs(got-0.55) > 1e-9 {
		t.Fatalf("upvote nudge: got %f", got)
	}

	if _, err := svc.Vote(ctx, "user-1", testByteUUID, -1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.preferences["user-1/tech"]; math.Abs(got-0.52) > 1e-9 {
		t.Fatalf("downvote nudge: got %f", got)
	}
}

func TestVote_MarksReadAndRefreshesScores(t *testing.T) {
	t.Parallel()

	store := newFakeEngageStore(testByte())
	svc := NewService(store, zerolog.Nop())

	if _, err := svc.Vote(context.Background(), "user-1", testByteUUID, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.read[engagementKey{"user-1", 1}] {
		t.Fatalf("vote must mark the byte read")
	}
	if store.bytes[1].EngagementScore != 1.0 {
		t.Fatalf("engagement score after one upvote: %f", store.bytes[1].EngagementScore)
	}
	if store.bytes[1].TrendingScore <= 0 {
		t.Fatalf("trending score must be positive: %f", store.bytes[1].TrendingScore)
	}
	if store.sourceRecomputes == 0 {
		t.Fatalf("source aggregates must be recomputed")
	}
}

func TestVote_Invalid(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeEngageStore(testByte()), zerolog.Nop())
	if _, err := svc.Vote(context.Background(), "user-1", testByteUUID, 2); !errors.Is(err, ErrInvalidVote) {
		t.Fatalf("expected ErrInvalidVote, got %v", err)
	}
}

func TestVote_UnknownByte(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeEngageStore(), zerolog.Nop())

	// A well-formed identifier with no row behind it.
	if _, err := svc.Vote(context.Background(), "user-1", "8a1d0c4e-7b6f-4a2d-9e8c-5f3b1a0d7c2e", 1); !errors.Is(err, ErrByteNotFound) {
		t.Fatalf("expected ErrByteNotFound, got %v", err)
	}

	// An identifier that is not a UUID never reaches the store; the uuid
	// cast in the lookup would otherwise error instead of missing.
	if _, err := svc.Vote(context.Background(), "user-1", "missing", 1); !errors.Is(err, ErrByteNotFound) {
		t.Fatalf("expected ErrByteNotFound for malformed id, got %v", err)
	}
}

func TestView(t *testing.T) {
	t.Parallel()

	store := newFakeEngageStore(testByte())
	svc := NewService(store, zerolog.Nop())

	if err := svc.View(context.Background(), "user-1", testByteUUID, 4200, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.bytes[1].ViewCount != 1 {
		t.Fatalf("byte view counter: %d", store.bytes[1].ViewCount)
	}
	if store.views[engagementKey{"user-1", 1}] != 1 {
		t.Fatalf("per-user view not recorded")
	}
	if !store.read[engagementKey{"user-1", 1}] {
		t.Fatalf("view must mark the byte read")
	}
}

func TestView_DwellOnlyKeepsByteUnread(t *testing.T) {
	t.Parallel()

	store := newFakeEngageStore(testByte())
	svc := NewService(store, zerolog.Nop())
	ctx := context.Background()

	if err := svc.View(ctx, "user-1", testByteUUID, 800, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.bytes[1].ViewCount != 1 {
		t.Fatalf("byte view counter: %d", store.bytes[1].ViewCount)
	}
	if store.read[engagementKey{"user-1", 1}] {
		t.Fatalf("dwell-only view must not mark the byte read")
	}

	// Read upgrades monotonically; a later dwell-only view cannot undo it.
	if err := svc.View(ctx, "user-1", testByteUUID, 800, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.View(ctx, "user-1", testByteUUID, 800, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.read[engagementKey{"user-1", 1}] {
		t.Fatalf("is_read must never downgrade")
	}
}

func TestToggleSave(t *testing.T) {
	t.Parallel()

	store := newFakeEngageStore(testByte())
	svc := NewService(store, zerolog.Nop())
	ctx := context.Background()

	saved, err := svc.ToggleSave(ctx, "user-1", testByteUUID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !saved || store.bytes[1].SaveCount != 1 {
		t.Fatalf("first toggle must save: saved=%v count=%d", saved, store.bytes[1].SaveCount)
	}

	saved, err = svc.ToggleSave(ctx, "user-1", testByteUUID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved || store.bytes[1].SaveCount != 0 {
		t.Fatalf("second toggle must unsave: saved=%v count=%d", saved, store.bytes[1].SaveCount)
	}
}

func TestScoreFormulas(t *testing.T) {
	t.Parallel()

	score := EngagementScore(10, 4, 300, 2, 1)
	want := 10.0 - 2.0 + 3.0 + 4.0 + 3.0
	if math.Abs(score-want) > 1e-9 {
		t.Fatalf("engagement score: got %f want %f", score, want)
	}

	fresh := TrendingScore(score, time.Hour)
	old := TrendingScore(score, 48*time.Hour)
	if fresh <= old {
		t.Fatalf("trending must decay with age: fresh=%f old=%f", fresh, old)
	}

	if got := TrendingScore(score, -time.Hour); got != TrendingScore(score, 0) {
		t.Fatalf("negative age must clamp to zero, got %f", got)
	}
}
