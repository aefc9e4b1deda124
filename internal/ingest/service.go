package ingest

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/solai17/bytefeed/internal/db"
	"github.com/solai17/bytefeed/internal/globaltime"
	"github.com/solai17/bytefeed/internal/langdetect"
	"github.com/solai17/bytefeed/internal/reader"
	payloadschema "github.com/solai17/bytefeed/schema"
)

// Store is the persistence surface ingestion needs, implemented by *db.Pool.
type Store interface {
	FindEditionByFingerprint(ctx context.Context, fingerprint string) (*db.Edition, error)
	FindSourceBySender(ctx context.Context, senderIdentity string) (*db.Source, error)
	CreateSource(ctx context.Context, input db.CreateSourceInput) (*db.Source, error)
	CreateEdition(ctx context.Context, input db.CreateEditionInput) (*db.Edition, bool, error)
	UpsertSubscription(ctx context.Context, userID string, sourceID int64) (bool, error)
}

// Categorizer places a first-seen sender into a content category. Ingestion
// treats it as best-effort: any failure falls back to the general category.
type Categorizer interface {
	CategorizeSource(ctx context.Context, sourceName, sampleText string) (string, error)
}

// Request is one inbound newsletter document, already schema-validated.
type Request struct {
	SenderIdentity string
	SenderName     string
	Subject        string
	BodyText       string
	BodyHTML       string
	ReceivedAt     time.Time
	UserID         string
}

// Result reports where the document landed.
type Result struct {
	EditionUUID string `json:"edition_uuid"`
	SourceUUID  string `json:"source_uuid"`
	SourceName  string `json:"source_name"`
	IsDuplicate bool   `json:"is_duplicate"`
	Subscribed  bool   `json:"subscribed"`
}

// RequestFromDocument maps a validated wire payload onto a Request.
func RequestFromDocument(doc *payloadschema.InboundDocument) Request {
	req := Request{
		SenderIdentity: doc.SenderIdentity,
		Subject:        doc.Subject,
	}
	if doc.SenderName != nil {
		req.SenderName = *doc.SenderName
	}
	if doc.BodyText != nil {
		req.BodyText = *doc.BodyText
	}
	if doc.BodyHTML != nil {
		req.BodyHTML = *doc.BodyHTML
	}
	if doc.UserID != nil {
		req.UserID = *doc.UserID
	}
	if doc.ReceivedAt != nil {
		if ts, err := time.Parse(time.RFC3339, *doc.ReceivedAt); err == nil {
			req.ReceivedAt = ts.UTC()
		}
	}
	return req
}

type Service struct {
	store       Store
	categorizer Categorizer
	logger      zerolog.Logger
}

func NewService(store Store, categorizer Categorizer, logger zerolog.Logger) *Service {
	return &Service{
		store:       store,
		categorizer: categorizer,
		logger:      logger,
	}
}

// IngestDocument runs the deduplication gate and source resolver for one
// document. Duplicates are detected by content fingerprint before any write,
// and again on the edition insert itself, so concurrent resends of the same
// edition converge on a single row either way.
func (s *Service) IngestDocument(ctx context.Context, req Request) (Result, error) {
	sender := strings.TrimSpace(req.SenderIdentity)
	subject := strings.TrimSpace(req.Subject)
	if sender == "" {
		return Result{}, fmt.Errorf("sender identity is required")
	}
	if subject == "" {
		return Result{}, fmt.Errorf("subject is required")
	}

	plainText, rawHTML, err := resolveBody(req)
	if err != nil {
		return Result{}, err
	}

	fingerprint := Fingerprint(subject, plainText)

	existing, err := s.store.FindEditionByFingerprint(ctx, fingerprint)
	if err != nil {
		return Result{}, fmt.Errorf("look up fingerprint: %w", err)
	}
	if existing != nil {
		return s.duplicateResult(ctx, existing, sender, req.UserID)
	}

	source, err := s.resolveSource(ctx, sender, req.SenderName, subject, plainText)
	if err != nil {
		return Result{}, err
	}

	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = globaltime.UTC()
	}

	edition, created, err := s.store.CreateEdition(ctx, db.CreateEditionInput{
		SourceID:    source.SourceID,
		Subject:     subject,
		RawHTML:     rawHTML,
		PlainText:   plainText,
		Language:    langdetect.DetectISO6391(plainText),
		Fingerprint: fingerprint,
		ReceivedAt:  receivedAt,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create edition: %w", err)
	}
	if !created {
		// Lost the insert race to a concurrent resend.
		return s.duplicateResult(ctx, edition, sender, req.UserID)
	}

	subscribed, err := s.linkUser(ctx, req.UserID, source.SourceID)
	if err != nil {
		return Result{}, err
	}

	s.logger.Info().
		Str("edition_uuid", edition.EditionUUID).
		Str("source", source.Name).
		Str("language", edition.Language).
		Msg("edition ingested")

	return Result{
		EditionUUID: edition.EditionUUID,
		SourceUUID:  source.SourceUUID,
		SourceName:  source.Name,
		Subscribed:  subscribed,
	}, nil
}

func (s *Service) duplicateResult(ctx context.Context, edition *db.Edition, sender, userID string) (Result, error) {
	source, err := s.store.FindSourceBySender(ctx, sender)
	if err != nil {
		return Result{}, fmt.Errorf("resolve duplicate source: %w", err)
	}

	result := Result{
		EditionUUID: edition.EditionUUID,
		IsDuplicate: true,
	}
	if source != nil {
		result.SourceUUID = source.SourceUUID
		result.SourceName = source.Name

		subscribed, err := s.linkUser(ctx, userID, source.SourceID)
		if err != nil {
			return Result{}, err
		}
		result.Subscribed = subscribed
	}

	s.logger.Info().
		Str("edition_uuid", edition.EditionUUID).
		Msg("duplicate edition ignored")
	return result, nil
}

func (s *Service) resolveSource(ctx context.Context, sender, senderName, subject, plainText string) (*db.Source, error) {
	source, err := s.store.FindSourceBySender(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("look up source: %w", err)
	}
	if source != nil {
		return source, nil
	}

	name, address := splitSender(sender)
	if trimmed := strings.TrimSpace(senderName); trimmed != "" {
		name = trimmed
	}

	category := db.CategoryGeneral
	if s.categorizer != nil {
		sample := subject + "\n\n" + clipRunes(plainText, 500)
		got, err := s.categorizer.CategorizeSource(ctx, name, sample)
		if err != nil {
			s.logger.Warn().Err(err).Str("source", name).Msg("source categorization failed, using general")
		} else {
			category = got
		}
	}

	source, err = s.store.CreateSource(ctx, db.CreateSourceInput{
		Name:           name,
		SenderIdentity: sender,
		Domain:         senderDomain(address),
		Category:       category,
	})
	if err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}
	return source, nil
}

func (s *Service) linkUser(ctx context.Context, userID string, sourceID int64) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, nil
	}
	subscribed, err := s.store.UpsertSubscription(ctx, userID, sourceID)
	if err != nil {
		return false, fmt.Errorf("link subscription: %w", err)
	}
	return subscribed, nil
}

// resolveBody prefers caller-supplied plain text and falls back to readable
// text extracted from the HTML body.
func resolveBody(req Request) (plainText string, rawHTML *string, err error) {
	if text := reader.CleanText(req.BodyText); text != "" {
		html := strings.TrimSpace(req.BodyHTML)
		if html != "" {
			rawHTML = &html
		}
		return text, rawHTML, nil
	}

	html := strings.TrimSpace(req.BodyHTML)
	if html == "" {
		return "", nil, fmt.Errorf("document has no body")
	}

	extracted, err := reader.ExtractText(html)
	if err != nil {
		return "", nil, fmt.Errorf("extract text from HTML body: %w", err)
	}
	if extracted == "" {
		return "", nil, fmt.Errorf("HTML body has no readable text")
	}
	return extracted, &html, nil
}

// splitSender separates a display name from the address in forms like
// "Habit Weekly <news@habitweekly.example>". A bare address yields a name
// derived from its local part.
func splitSender(sender string) (name, address string) {
	if parsed, err := mail.ParseAddress(sender); err == nil {
		address = parsed.Address
		if parsed.Name != "" {
			return parsed.Name, address
		}
	} else {
		address = sender
	}

	local := address
	if at := strings.IndexByte(address, '@'); at > 0 {
		local = address[:at]
	}
	return humanizeLocalPart(local), address
}

func humanizeLocalPart(local string) string {
	words := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	for i, word := range words {
		runes := []rune(word)
		if len(runes) > 0 {
			runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
		}
		words[i] = string(runes)
	}
	if len(words) == 0 {
		return local
	}
	return strings.Join(words, " ")
}

func senderDomain(address string) *string {
	at := strings.LastIndexByte(address, '@')
	if at < 0 || at == len(address)-1 {
		return nil
	}
	domain := strings.ToLower(address[at+1:])
	return &domain
}

func clipRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
