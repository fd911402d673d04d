// Package ingest runs raw storefront products through normalization and the
// catalog upsert, one product at a time.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"catalog-ingest-service/internal/domain"
	"catalog-ingest-service/internal/normalize"
	"catalog-ingest-service/internal/source"
	"catalog-ingest-service/internal/store"
)

// RunStats counts what happened to the records of a run.
type RunStats struct {
	Seen              int `json:"seen"`
	Created           int `json:"created"`
	Skipped           int `json:"skipped"`
	SourceErrors      int `json:"source_errors"`
	StorageErrors     int `json:"storage_errors"`
	Variants          int `json:"variants"`
	CategoriesCreated int `json:"categories_created"`
}

func (s *RunStats) record(res Result, err error) {
	s.Seen++
	switch {
	case err == nil && res.Outcome == OutcomeCreated:
		s.Created++
		s.Variants += res.Variants
		s.CategoriesCreated += res.CategoriesCreated
	case err == nil && res.Outcome == OutcomeSkipped:
		s.Skipped++
	case source.IsSourceError(err):
		s.SourceErrors++
	default:
		s.StorageErrors++
	}
}

// Pipeline is the single writer of the catalog. Run and Ingest may be called
// from different goroutines; products are still persisted one at a time.
type Pipeline struct {
	normalizer *normalize.Normalizer
	upserter   *Upserter
	logger     *zap.Logger

	writeMu sync.Mutex

	statsMu sync.Mutex
	totals  RunStats
}

func NewPipeline(cs store.CatalogStorer, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		normalizer: normalize.New(),
		upserter:   NewUpserter(cs, logger),
		logger:     logger,
	}
}

// Run drains src until it is exhausted. Unreadable records and failed writes
// are logged, counted and skipped. Cancelling ctx stops the run before the
// next product; a product already being written is finished first.
func (p *Pipeline) Run(ctx context.Context, src source.Source) (RunStats, error) {
	log := p.logger.With(zap.String("run_id", uuid.NewString()))
	log.Info("Starting ingestion run")

	var stats RunStats
	for {
		if err := ctx.Err(); err != nil {
			log.Warn("Ingestion run interrupted", zap.Int("seen", stats.Seen), zap.Error(err))
			return stats, err
		}

		raw, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if source.IsSourceError(err) {
				log.Warn("Skipping unreadable record", zap.Error(err))
				p.account(&stats, Result{}, err)
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				log.Warn("Ingestion run interrupted", zap.Int("seen", stats.Seen), zap.Error(ctxErr))
				return stats, ctxErr
			}
			log.Error("Source failed, aborting run", zap.Error(err))
			return stats, fmt.Errorf("ingest: source failed: %w", err)
		}

		res, err := p.ingest(context.WithoutCancel(ctx), raw, log)
		p.account(&stats, res, err)
	}

	log.Info("Finished ingestion run",
		zap.Int("seen", stats.Seen),
		zap.Int("created", stats.Created),
		zap.Int("skipped", stats.Skipped),
		zap.Int("source_errors", stats.SourceErrors),
		zap.Int("storage_errors", stats.StorageErrors),
		zap.Int("variants", stats.Variants),
		zap.Int("categories_created", stats.CategoriesCreated),
	)
	return stats, nil
}

// Ingest persists a single pushed record.
func (p *Pipeline) Ingest(ctx context.Context, raw *domain.RawProduct) (Result, error) {
	res, err := p.ingest(ctx, raw, p.logger)
	p.account(nil, res, err)
	return res, err
}

// Totals returns the counters accumulated by every Run and Ingest call.
func (p *Pipeline) Totals() RunStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.totals
}

func (p *Pipeline) ingest(ctx context.Context, raw *domain.RawProduct, log *zap.Logger) (Result, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	n, err := p.normalizer.Normalize(raw)
	if err != nil {
		ref := ""
		if raw != nil {
			ref = raw.Handle
		}
		srcErr := &source.SourceError{Ref: ref, Err: err}
		log.Warn("Skipping malformed record", zap.Error(srcErr))
		return Result{}, srcErr
	}

	log.Info("Processing product", zap.String("handle", raw.Handle), zap.String("title", raw.Title))
	res, err := p.upserter.Upsert(ctx, n)
	if err != nil {
		log.Error("Product write rolled back", zap.String("handle", raw.Handle), zap.Error(err))
		return Result{}, err
	}
	if res.Outcome == OutcomeCreated {
		log.Info("Product ingested",
			zap.String("handle", raw.Handle),
			zap.Int64("product_id", res.ProductID),
			zap.Int("categories", res.Categories),
			zap.Int("variants", res.Variants),
		)
	}
	return res, nil
}

func (p *Pipeline) account(local *RunStats, res Result, err error) {
	if local != nil {
		local.record(res, err)
	}
	p.statsMu.Lock()
	p.totals.record(res, err)
	p.statsMu.Unlock()
}
