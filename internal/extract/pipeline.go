package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/solai17/bytefeed/internal/db"
)

const (
	// Cap on how much edition text is sent to a provider.
	maxPromptTextRunes = 12000

	readingWordsPerMinute = 200
)

// Options bound content validation; zero values fall back to these defaults.
type Options struct {
	MinByteLength    int
	MaxByteLength    int
	QualityThreshold float64
}

func (o Options) withDefaults() Options {
	if o.MinByteLength <= 0 {
		o.MinByteLength = 30
	}
	if o.MaxByteLength <= o.MinByteLength {
		o.MaxByteLength = 500
	}
	if o.QualityThreshold <= 0 {
		o.QualityThreshold = 0.65
	}
	return o
}

// Input is one edition to extract from.
type Input struct {
	Subject        string
	Text           string
	Language       string
	SourceName     string
	NeedSourceMeta bool
}

// SourceMeta is the optional secondary result: a source's public identity.
type SourceMeta struct {
	Name         string
	WebsiteURL   string
	SubscribeURL string
}

// Result is a successful extraction.
type Result struct {
	Bytes           []db.NewContentByte
	Summary         string
	ReadTimeMinutes int
	SourceMeta      *SourceMeta
	ProviderName    string
}

// Pipeline runs the provider fallback chain and owns response repair,
// validation, and field defaulting.
type Pipeline struct {
	providers []Provider
	opts      Options
	logger    zerolog.Logger
}

func NewPipeline(providers []Provider, opts Options, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		providers: providers,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
}

// rawResponse mirrors the JSON shape requested from providers. Field-level
// damage is tolerated; only an unparseable envelope fails the provider.
type rawResponse struct {
	Summary         string    `json:"summary"`
	ReadTimeMinutes int       `json:"read_time_minutes"`
	Bytes           []rawByte `json:"bytes"`
	Source          *struct {
		Name         string `json:"name"`
		WebsiteURL   string `json:"website_url"`
		SubscribeURL string `json:"subscribe_url"`
	} `json:"source"`
}

type rawByte struct {
	Content      string   `json:"content"`
	Type         string   `json:"type"`
	Author       *string  `json:"author"`
	Context      *string  `json:"context"`
	Category     string   `json:"category"`
	QualityScore *float64 `json:"quality_score"`
}

// Extract tries each provider in order and returns the first usable result.
// All providers failing is terminal: the queue decides between retry and
// permanent failure, never this pipeline.
func (p *Pipeline) Extract(ctx context.Context, input Input) (Result, error) {
	if p == nil || len(p.providers) == 0 {
		return Result{}, fmt.Errorf("%w: no providers configured", ErrAllProvidersFailed)
	}

	prompt := buildExtractionPrompt(input, p.opts)

	var lastErr error
	for _, provider := range p.providers {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		response, err := provider.Complete(ctx, prompt)
		if err != nil {
			p.logger.Warn().Err(err).Str("provider", provider.Name()).Msg("extraction provider failed")
			lastErr = err
			continue
		}

		var parsed rawResponse
		if err := DecodeLoose(response, &parsed); err != nil {
			p.logger.Warn().Err(err).Str("provider", provider.Name()).Msg("extraction response unparseable")
			lastErr = fmt.Errorf("provider %s: %w", provider.Name(), err)
			continue
		}
		if len(parsed.Bytes) == 0 {
			lastErr = fmt.Errorf("provider %s returned no bytes", provider.Name())
			continue
		}

		result := p.buildResult(parsed, input)
		if len(result.Bytes) == 0 {
			lastErr = fmt.Errorf("provider %s: every byte failed validation", provider.Name())
			continue
		}
		result.ProviderName = provider.Name()
		p.logger.Info().
			Str("provider", provider.Name()).
			Int("bytes", len(result.Bytes)).
			Int("rejected", len(parsed.Bytes)-len(result.Bytes)).
			Msg("extraction succeeded")
		return result, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no provider produced output")
	}
	return Result{}, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

func (p *Pipeline) buildResult(parsed rawResponse, input Input) Result {
	validated := make([]db.NewContentByte, 0, len(parsed.Bytes))
	for _, raw := range parsed.Bytes {
		candidate, ok := validateByte(raw, p.opts)
		if !ok {
			continue
		}
		validated = append(validated, candidate)
	}

	summary := strings.TrimSpace(parsed.Summary)

	readTime := parsed.ReadTimeMinutes
	if readTime <= 0 {
		readTime = estimateReadTime(input.Text)
	}

	result := Result{
		Bytes:           validated,
		Summary:         summary,
		ReadTimeMinutes: readTime,
	}

	// Source metadata is best-effort; its absence never fails extraction.
	if input.NeedSourceMeta && parsed.Source != nil {
		meta := SourceMeta{
			Name:         strings.TrimSpace(parsed.Source.Name),
			WebsiteURL:   strings.TrimSpace(parsed.Source.WebsiteURL),
			SubscribeURL: strings.TrimSpace(parsed.Source.SubscribeURL),
		}
		if meta.Name != "" || meta.WebsiteURL != "" || meta.SubscribeURL != "" {
			result.SourceMeta = &meta
		}
	}

	return result
}

// CategorizeSource asks the chain to place a newly seen sender into one of
// the known categories. Callers must treat failure as non-fatal.
func (p *Pipeline) CategorizeSource(ctx context.Context, sourceName, sampleText string) (string, error) {
	if p == nil || len(p.providers) == 0 {
		return "", fmt.Errorf("%w: no providers configured", ErrAllProvidersFailed)
	}

	prompt := buildCategorizePrompt(sourceName, sampleText)

	var lastErr error
	for _, provider := range p.providers {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		response, err := provider.Complete(ctx, prompt)
		if err != nil {
			lastErr = err
			continue
		}

		var parsed struct {
			Category string `json:"category"`
		}
		if err := DecodeLoose(response, &parsed); err != nil {
			lastErr = err
			continue
		}

		category := normalizeCategory(parsed.Category)
		if category == "" {
			lastErr = fmt.Errorf("provider %s returned unknown category %q", provider.Name(), parsed.Category)
			continue
		}
		return category, nil
	}

	return "", fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

func buildExtractionPrompt(input Input, opts Options) string {
	var sb strings.Builder

	sb.WriteString("You extract short, self-contained insights from newsletter text.\n")
	sb.WriteString("Respond with a single JSON object and nothing else:\n")
	sb.WriteString(`{"summary": "...", "read_time_minutes": 3, "bytes": [{"content": "...", "type": "...", "author": null, "context": null, "category": "...", "quality_score": 0.8}]`)
	if input.NeedSourceMeta {
		sb.WriteString(`, "source": {"name": "...", "website_url": "...", "subscribe_url": "..."}`)
	}
	sb.WriteString("}\n")
	fmt.Fprintf(&sb, "Each byte content must be %d-%d characters and stand on its own.\n", opts.MinByteLength, opts.MaxByteLength)
	fmt.Fprintf(&sb, "Allowed types: %s.\n", strings.Join(db.KnownByteTypes(), ", "))
	fmt.Fprintf(&sb, "Allowed categories: %s.\n", strings.Join(db.KnownCategories(), ", "))
	sb.WriteString("Score quality_score in [0,1]; only include genuinely interesting units.\n")
	if input.NeedSourceMeta {
		sb.WriteString("If the text reveals the newsletter's public name or website, fill the source object; otherwise omit it.\n")
	}

	fmt.Fprintf(&sb, "\nNewsletter: %s\n", strings.TrimSpace(input.SourceName))
	fmt.Fprintf(&sb, "Subject: %s\n", strings.TrimSpace(input.Subject))
	if lang := strings.TrimSpace(input.Language); lang != "" && lang != "und" {
		fmt.Fprintf(&sb, "Language: %s\n", lang)
	}
	sb.WriteString("\n---\n")
	sb.WriteString(clipRunes(input.Text, maxPromptTextRunes))

	return sb.String()
}

func buildCategorizePrompt(sourceName, sampleText string) string {
	var sb strings.Builder

	sb.WriteString("Classify this newsletter into exactly one category.\n")
	fmt.Fprintf(&sb, "Allowed categories: %s.\n", strings.Join(db.KnownCategories(), ", "))
	sb.WriteString(`Respond with a single JSON object: {"category": "..."}` + "\n")
	fmt.Fprintf(&sb, "\nNewsletter: %s\n", strings.TrimSpace(sourceName))
	sb.WriteString("\n---\n")
	sb.WriteString(clipRunes(sampleText, 2000))

	return sb.String()
}

func estimateReadTime(text string) int {
	words := len(strings.Fields(text))
	minutes := (words + readingWordsPerMinute - 1) / readingWordsPerMinute
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

func clipRunes(text string, limit int) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) <= limit {
		return trimmed
	}
	return string(runes[:limit])
}
