package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/solai17/bytefeed/internal/db"
)

type fakeStore struct {
	sources       map[string]*db.Source
	editions      map[string]*db.Edition
	subscriptions map[string]bool

	nextSourceID  int64
	nextEditionID int64

	createEditionCalls int
	createSourceCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sources:       map[string]*db.Source{},
		editions:      map[string]*db.Edition{},
		subscriptions: map[string]bool{},
	}
}

func (f *fakeStore) FindEditionByFingerprint(_ context.Context, fingerprint string) (*db.Edition, error) {
	return f.editions[fingerprint], nil
}

func (f *fakeStore) FindSourceBySender(_ context.Context, sender string) (*db.Source, error) {
	return f.sources[sender], nil
}

func (f *fakeStore) CreateSource(_ context.Context, input db.CreateSourceInput) (*db.Source, error) {
	f.createSourceCalls++
	if existing, ok := f.sources[input.SenderIdentity]; ok {
		return existing, nil
	}
	f.nextSourceID++
	source := &db.Source{
		SourceID:       f.nextSourceID,
		SourceUUID:     fmt.Sprintf("source-%d", f.nextSourceID),
		Name:           input.Name,
		SenderIdentity: input.SenderIdentity,
		Domain:         input.Domain,
		Category:       input.Category,
	}
	f.sources[input.SenderIdentity] = source
	return source, nil
}

func (f *fakeStore) CreateEdition(_ context.Context, input db.CreateEditionInput) (*db.Edition, bool, error) {
	f.createEditionCalls++
	if existing, ok := f.editions[input.Fingerprint]; ok {
		return existing, false, nil
	}
	f.nextEditionID++
	edition := &db.Edition{
		EditionID:   f.nextEditionID,
		EditionUUID: fmt.Sprintf("edition-%d", f.nextEditionID),
		SourceID:    input.SourceID,
		Subject:     input.Subject,
		PlainText:   input.PlainText,
		Language:    input.Language,
		Fingerprint: input.Fingerprint,
		ReceivedAt:  input.ReceivedAt,
	}
	f.editions[input.Fingerprint] = edition
	return edition, true, nil
}

func (f *fakeStore) UpsertSubscription(_ context.Context, userID string, sourceID int64) (bool, error) {
	key := fmt.Sprintf("%s/%d", userID, sourceID)
	if f.subscriptions[key] {
		return false, nil
	}
	f.subscriptions[key] = true
	return true, nil
}

type fakeCategorizer struct {
	category string
	err      error
	calls    int
}

func (f *fakeCategorizer) CategorizeSource(_ context.Context, _, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.category, nil
}

func habitRequest() Request {
	return Request{
		SenderIdentity: "Habit Weekly <news@habitweekly.example>",
		Subject:        "The habit loop",
		BodyText:       "Most behavior change fails because the cue stays while only the routine is attacked.",
		UserID:         "user-1",
	}
}

func TestIngestDocument_NewEdition(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	categorizer := &fakeCategorizer{category: db.CategoryProductivity}
	svc := NewService(store, categorizer, zerolog.Nop())

	result, err := svc.IngestDocument(context.Background(), habitRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsDuplicate {
		t.Fatalf("first ingest must not be a duplicate")
	}
	if !result.Subscribed {
		t.Fatalf("requesting user must be linked to the new source")
	}
	if result.SourceName != "Habit Weekly" {
		t.Fatalf("unexpected source name: %q", result.SourceName)
	}

	source := store.sources["Habit Weekly <news@habitweekly.example>"]
	if source == nil {
		t.Fatalf("source was not created")
	}
	if source.Category != db.CategoryProductivity {
		t.Fatalf("categorizer result not applied, got %q", source.Category)
	}
	if source.Domain == nil || *source.Domain != "habitweekly.example" {
		t.Fatalf("unexpected domain: %v", source.Domain)
	}
	if categorizer.calls != 1 {
		t.Fatalf("categorizer should run once for a new source, got %d", categorizer.calls)
	}
}

func TestIngestDocument_Idempotent(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := NewService(store, &fakeCategorizer{category: db.CategoryGeneral}, zerolog.Nop())

	first, err := svc.IngestDocument(context.Background(), habitRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Resend with cosmetic differences that normalization erases.
	resend := habitRequest()
	resend.Subject = "  THE HABIT LOOP "
	resend.UserID = "user-2"

	second, err := svc.IngestDocument(context.Background(), resend)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.IsDuplicate {
		t.Fatalf("resend must be reported as duplicate")
	}
	if second.EditionUUID != first.EditionUUID {
		t.Fatalf("duplicate must resolve to the original edition: %q vs %q", second.EditionUUID, first.EditionUUID)
	}
	if !second.Subscribed {
		t.Fatalf("a new user on the duplicate path must still be linked")
	}
	if store.createEditionCalls != 1 {
		t.Fatalf("duplicate must be rejected before the insert, got %d insert calls", store.createEditionCalls)
	}
	if len(store.editions) != 1 {
		t.Fatalf("expected a single stored edition, got %d", len(store.editions))
	}
}

func TestIngestDocument_CategorizerFailureFallsBackToGeneral(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	categorizer := &fakeCategorizer{err: fmt.Errorf("all providers down")}
	svc := NewService(store, categorizer, zerolog.Nop())

	result, err := svc.IngestDocument(context.Background(), habitRequest())
	if err != nil {
		t.Fatalf("categorizer failure must not block ingestion: %v", err)
	}

	source := store.sources["Habit Weekly <news@habitweekly.example>"]
	if source == nil {
		t.Fatalf("source was not created")
	}
	if source.Category != db.CategoryGeneral {
		t.Fatalf("expected general fallback, got %q", source.Category)
	}
	if result.EditionUUID == "" {
		t.Fatalf("edition must still be created")
	}
}

func TestIngestDocument_HTMLBody(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := NewService(store, nil, zerolog.Nop())

	req := habitRequest()
	req.BodyText = ""
	req.BodyHTML = `<html><body><article><h1>The habit loop</h1>` +
		`<p>Most behavior change fails because the cue stays while only the routine is attacked.</p>` +
		`<p>Design the environment first and the routine follows with far less willpower.</p>` +
		`</article></body></html>`

	result, err := svc.IngestDocument(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.editions) != 1 {
		t.Fatalf("expected one stored edition, got %d", len(store.editions))
	}
	edition := store.editions[firstKey(store.editions)]
	if !strings.Contains(edition.PlainText, "cue stays") {
		t.Fatalf("plain text not extracted from HTML: %q", edition.PlainText)
	}
	if strings.Contains(edition.PlainText, "<p>") {
		t.Fatalf("markup must be stripped: %q", edition.PlainText)
	}
	if result.IsDuplicate {
		t.Fatalf("unexpected duplicate")
	}
}

func TestIngestDocument_MissingBodyRejected(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeStore(), nil, zerolog.Nop())

	req := habitRequest()
	req.BodyText = "   "
	req.BodyHTML = ""

	if _, err := svc.IngestDocument(context.Background(), req); err == nil {
		t.Fatalf("expected error for empty body")
	}
}

func firstKey(editions map[string]*db.Edition) string {
	for key := range editions {
		return key
	}
	return ""
}
