package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/solai17/bytefeed/internal/db"
	"github.com/solai17/bytefeed/internal/extract"
	"github.com/solai17/bytefeed/internal/globaltime"
)

// Store is the persistence surface of the queue, implemented by *db.Pool.
type Store interface {
	RecoverStaleEditions(ctx context.Context, cutoff time.Time) (int64, error)
	FetchPendingEditions(ctx context.Context, limit, maxAttempts int) ([]db.PendingEdition, error)
	MarkEditionProcessing(ctx context.Context, editionID int64, now time.Time) (int, bool, error)
	InsertContentBytes(ctx context.Context, editionID, sourceID int64, bytes []db.NewContentByte, now time.Time) (int, error)
	CompleteEdition(ctx context.Context, editionID int64, summary *string, readTimeMinutes *int, processedAt time.Time) error
	RequeueEdition(ctx context.Context, editionID int64, cause string, now time.Time) error
	FailEdition(ctx context.Context, editionID int64, cause string, failedAt time.Time) error
	UpdateSourceMetadata(ctx context.Context, sourceID int64, name, websiteURL, subscribeURL string) error
	GetQueueStats(ctx context.Context) (db.QueueStats, error)
	ResetFailedEditions(ctx context.Context) (int64, error)
	MarkEditionPending(ctx context.Context, editionUUID string) (bool, error)
}

// Extractor produces content bytes from one edition's text.
type Extractor interface {
	Extract(ctx context.Context, input extract.Input) (extract.Result, error)
}

type Options struct {
	BatchSize   int
	MaxAttempts int
	StaleWindow time.Duration
	ItemDelay   time.Duration
	ItemTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.StaleWindow <= 0 {
		o.StaleWindow = 10 * time.Minute
	}
	if o.ItemTimeout <= 0 {
		o.ItemTimeout = 5 * time.Minute
	}
	return o
}

// BatchReport summarizes one ProcessBatch run.
type BatchReport struct {
	Recovered int64 `json:"recovered"`
	Fetched   int   `json:"fetched"`
	Completed int   `json:"completed"`
	Requeued  int   `json:"requeued"`
	Failed    int   `json:"failed"`
	Skipped   int   `json:"skipped"`
}

// Processor drains pending editions through the extraction pipeline.
type Processor struct {
	store     Store
	extractor Extractor
	opts      Options
	logger    zerolog.Logger
}

func NewProcessor(store Store, extractor Extractor, opts Options, logger zerolog.Logger) *Processor {
	return &Processor{
		store:     store,
		extractor: extractor,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
}

// ProcessBatch sweeps stale claims back to pending, then works through one
// batch of pending editions strictly in order of arrival. Items are isolated:
// a failing edition is requeued or failed and the batch moves on.
func (p *Processor) ProcessBatch(ctx context.Context) (BatchReport, error) {
	var report BatchReport

	cutoff := globaltime.UTC().Add(-p.opts.StaleWindow)
	recovered, err := p.store.RecoverStaleEditions(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("recover stale editions: %w", err)
	}
	report.Recovered = recovered
	if recovered > 0 {
		p.logger.Warn().Int64("count", recovered).Msg("recovered stale processing editions")
	}

	items, err := p.store.FetchPendingEditions(ctx, p.opts.BatchSize, p.opts.MaxAttempts)
	if err != nil {
		return report, fmt.Errorf("fetch pending editions: %w", err)
	}
	report.Fetched = len(items)

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if i > 0 && p.opts.ItemDelay > 0 {
			if err := sleepCtx(ctx, p.opts.ItemDelay); err != nil {
				return report, err
			}
		}

		p.processOne(ctx, item, &report)
	}

	return report, nil
}

func (p *Processor) processOne(ctx context.Context, item db.PendingEdition, report *BatchReport) {
	attempts, claimed, err := p.store.MarkEditionProcessing(ctx, item.EditionID, globaltime.UTC())
	if err != nil {
		p.logger.Error().Err(err).Str("edition_uuid", item.EditionUUID).Msg("claim edition")
		report.Skipped++
		return
	}
	if !claimed {
		// Another worker took it between fetch and claim.
		report.Skipped++
		return
	}

	itemCtx, cancel := context.WithTimeout(ctx, p.opts.ItemTimeout)
	defer cancel()

	result, err := p.extractor.Extract(itemCtx, extract.Input{
		Subject:        item.Subject,
		Text:           item.PlainText,
		Language:       item.Language,
		SourceName:     item.SourceName,
		NeedSourceMeta: item.SourceWebsite == nil,
	})
	if err != nil {
		p.handleFailure(ctx, item, attempts, err, report)
		return
	}

	now := globaltime.UTC()
	inserted, err := p.store.InsertContentBytes(ctx, item.EditionID, item.SourceID, result.Bytes, now)
	if err != nil {
		p.handleFailure(ctx, item, attempts, fmt.Errorf("persist bytes: %w", err), report)
		return
	}

	var summary *string
	if result.Summary != "" {
		summary = &result.Summary
	}
	var readTime *int
	if result.ReadTimeMinutes > 0 {
		readTime = &result.ReadTimeMinutes
	}
	if err := p.store.CompleteEdition(ctx, item.EditionID, summary, readTime, now); err != nil {
		p.handleFailure(ctx, item, attempts, fmt.Errorf("complete edition: %w", err), report)
		return
	}

	if meta := result.SourceMeta; meta != nil {
		if err := p.store.UpdateSourceMetadata(ctx, item.SourceID, meta.Name, meta.WebsiteURL, meta.SubscribeURL); err != nil {
			// Metadata enrichment is best-effort and never rolls back a completed edition.
			p.logger.Warn().Err(err).Int64("source_id", item.SourceID).Msg("update source metadata")
		}
	}

	report.Completed++
	p.logger.Info().
		Str("edition_uuid", item.EditionUUID).
		Str("provider", result.ProviderName).
		Int("bytes", inserted).
		Int("attempt", attempts).
		Msg("edition processed")
}

func (p *Processor) handleFailure(ctx context.Context, item db.PendingEdition, attempts int, cause error, report *BatchReport) {
	now := globaltime.UTC()

	if attempts >= p.opts.MaxAttempts {
		if err := p.store.FailEdition(ctx, item.EditionID, cause.Error(), now); err != nil {
			p.logger.Error().Err(err).Str("edition_uuid", item.EditionUUID).Msg("mark edition failed")
			report.Skipped++
			return
		}
		report.Failed++
		p.logger.Error().
			Str("edition_uuid", item.EditionUUID).
			Int("attempts", attempts).
			Err(cause).
			Msg("edition permanently failed")
		return
	}

	if err := p.store.RequeueEdition(ctx, item.EditionID, cause.Error(), now); err != nil {
		p.logger.Error().Err(err).Str("edition_uuid", item.EditionUUID).Msg("requeue edition")
		report.Skipped++
		return
	}
	report.Requeued++
	p.logger.Warn().
		Str("edition_uuid", item.EditionUUID).
		Int("attempt", attempts).
		Err(cause).
		Msg("edition requeued")
}

// Stats reports queue depth per processing state.
func (p *Processor) Stats(ctx context.Context) (db.QueueStats, error) {
	return p.store.GetQueueStats(ctx)
}

// ResetFailed moves every failed edition back to pending with a fresh
// attempt budget.
func (p *Processor) ResetFailed(ctx context.Context) (int64, error) {
	return p.store.ResetFailedEditions(ctx)
}

// ErrEditionNotResettable reports a requeue target that is missing or
// already pending.
var ErrEditionNotResettable = errors.New("edition not found or already pending")

// MarkPending requeues one failed edition by public id.
func (p *Processor) MarkPending(ctx context.Context, editionUUID string) error {
	reset, err := p.store.MarkEditionPending(ctx, editionUUID)
	if err != nil {
		return err
	}
	if !reset {
		return ErrEditionNotResettable
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
