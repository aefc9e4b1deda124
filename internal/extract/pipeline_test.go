package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/solai17/bytefeed/internal/db"
)

type stubProvider struct {
	name     string
	response string
	err      error
	calls    int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(_ context.Context, _ string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

const validResponse = `{
	"summary": "A newsletter about habits.",
	"read_time_minutes": 4,
	"bytes": [
		{
			"content": "Most behavior change fails because the cue stays while only the routine is attacked.",
			"type": "insight",
			"author": "James Clear",
			"category": "productivity",
			"quality_score": 0.85
		}
	]
}`

func testInput() Input {
	return Input{
		Subject:    "The habit loop",
		Text:       strings.Repeat("word ", 300),
		SourceName: "Habit Weekly",
	}
}

func newTestPipeline(providers ...Provider) *Pipeline {
	return NewPipeline(providers, Options{}, zerolog.Nop())
}

func TestExtract_FirstProviderWins(t *testing.T) {
	t.Parallel()

	first := &stubProvider{name: "first", response: validResponse}
	second := &stubProvider{name: "second", response: validResponse}

	result, err := newTestPipeline(first, second).Extract(context.Background(), testInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ProviderName != "first" {
		t.Fatalf("expected first provider to win, got %q", result.ProviderName)
	}
	if second.calls != 0 {
		t.Fatalf("second provider must not be called after a success, got %d calls", second.calls)
	}
	if len(result.Bytes) != 1 {
		t.Fatalf("expected 1 byte, got %d", len(result.Bytes))
	}
	if result.Summary != "A newsletter about habits." {
		t.Fatalf("unexpected summary: %q", result.Summary)
	}
	if result.ReadTimeMinutes != 4 {
		t.Fatalf("unexpected read time: %d", result.ReadTimeMinutes)
	}
}

func TestExtract_FallsThroughOnFailure(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		failing *stubProvider
	}{
		{name: "transport error", failing: &stubProvider{name: "bad", err: fmt.Errorf("upstream 503")}},
		{name: "empty output", failing: &stubProvider{name: "bad", response: "I found nothing of note."}},
		{name: "unparseable json", failing: &stubProvider{name: "bad", response: `{"bytes": [broken`}},
		{name: "zero bytes", failing: &stubProvider{name: "bad", response: `{"summary": "x", "bytes": []}`}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fallback := &stubProvider{name: "fallback", response: validResponse}
			result, err := newTestPipeline(tc.failing, fallback).Extract(context.Background(), testInput())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.ProviderName != "fallback" {
				t.Fatalf("expected fallback provider, got %q", result.ProviderName)
			}
			if tc.failing.calls != 1 {
				t.Fatalf("failing provider should be tried once, got %d", tc.failing.calls)
			}
		})
	}
}

func TestExtract_AllProvidersFailed(t *testing.T) {
	t.Parallel()

	first := &stubProvider{name: "first", err: fmt.Errorf("down")}
	second := &stubProvider{name: "second", response: "no json here"}

	_, err := newTestPipeline(first, second).Extract(context.Background(), testInput())
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
}

func TestExtract_NoProvidersConfigured(t *testing.T) {
	t.Parallel()

	_, err := newTestPipeline().Extract(context.Background(), testInput())
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
}

func TestExtract_ValidationFiltersAndDefaults(t *testing.T) {
	t.Parallel()

	response := `{
		"summary": "mixed quality",
		"bytes": [
			{"content": "too short", "quality_score": 0.9},
			{"content": "` + strings.Repeat("x", 600) + `", "quality_score": 0.9},
			{"content": "A perfectly fine insight that is long enough to keep.", "quality_score": 0.2},
			{"content": "Untyped but valid content that is comfortably inside all of the bounds.", "type": "prophecy", "category": "astrology", "quality_score": 1.7}
		]
	}`

	provider := &stubProvider{name: "only", response: response}
	result, err := newTestPipeline(provider).Extract(context.Background(), testInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Bytes) != 1 {
		t.Fatalf("expected exactly 1 surviving byte, got %d", len(result.Bytes))
	}

	kept := result.Bytes[0]
	if kept.ByteType != db.ByteTypeInsight {
		t.Fatalf("unknown type must default to insight, got %q", kept.ByteType)
	}
	if kept.Category != db.CategoryGeneral {
		t.Fatalf("unknown category must default to general, got %q", kept.Category)
	}
	if kept.QualityScore != 1.0 {
		t.Fatalf("quality must be clamped to 1.0, got %f", kept.QualityScore)
	}
	if kept.Author != nil {
		t.Fatalf("missing author must stay nil, got %v", *kept.Author)
	}
}

func TestExtract_MissingQualityRejected(t *testing.T) {
	t.Parallel()

	response := `{
		"summary": "no scores",
		"bytes": [
			{"content": "Long enough content but the model forgot to score it at all."}
		]
	}`

	provider := &stubProvider{name: "only", response: response}
	_, err := newTestPipeline(provider).Extract(context.Background(), testInput())
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected terminal failure when every byte is filtered and no fallback exists, got %v", err)
	}
}

func TestExtract_ReadTimeEstimatedWhenMissing(t *testing.T) {
	t.Parallel()

	response := `{
		"summary": "no read time",
		"bytes": [
			{"content": "A perfectly fine insight that is long enough to keep around.", "quality_score": 0.8}
		]
	}`

	provider := &stubProvider{name: "only", response: response}
	input := testInput()
	input.Text = strings.Repeat("word ", 450)

	result, err := newTestPipeline(provider).Extract(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ReadTimeMinutes != 3 {
		t.Fatalf("expected 450 words to estimate 3 minutes, got %d", result.ReadTimeMinutes)
	}
}

func TestExtract_SourceMetaOptional(t *testing.T) {
	t.Parallel()

	response := `{
		"summary": "with meta",
		"bytes": [
			{"content": "A perfectly fine insight that is long enough to keep around.", "quality_score": 0.8}
		],
		"source": {"name": "Habit Weekly", "website_url": "https://habitweekly.example", "subscribe_url": ""}
	}`

	provider := &stubProvider{name: "only", response: response}

	input := testInput()
	input.NeedSourceMeta = true
	result, err := newTestPipeline(provider).Extract(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SourceMeta == nil || result.SourceMeta.Name != "Habit Weekly" {
		t.Fatalf("expected source meta, got %+v", result.SourceMeta)
	}

	// The same response without the meta request must not surface it.
	provider2 := &stubProvider{name: "only", response: response}
	input.NeedSourceMeta = false
	result, err = newTestPipeline(provider2).Extract(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SourceMeta != nil {
		t.Fatalf("source meta must be dropped when not requested")
	}
}

func TestCategorizeSource(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{name: "only", response: `{"category": "Finance"}`}
	category, err := newTestPipeline(provider).CategorizeSource(context.Background(), "Money Matters", "markets and rates")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if category != db.CategoryFinance {
		t.Fatalf("unexpected category: %q", category)
	}
}

func TestCategorizeSource_UnknownCategoryFallsThrough(t *testing.T) {
	t.Parallel()

	first := &stubProvider{name: "first", response: `{"category": "horoscopes"}`}
	second := &stubProvider{name: "second", response: `{"category": "tech"}`}

	category, err := newTestPipeline(first, second).CategorizeSource(context.Background(), "Bits", "chips")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if category != db.CategoryTech {
		t.Fatalf("unexpected category: %q", category)
	}
}
