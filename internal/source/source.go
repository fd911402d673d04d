// Package source provides the adapters that yield raw storefront products to
// the ingestion pipeline.
package source

import (
	"context"
	"errors"
	"fmt"

	"catalog-ingest-service/internal/domain"
)

// Predefined errors for source operations
var (
	ErrProductNotFound = errors.New("source: product not found")
	ErrUpstream        = errors.New("source: storefront unavailable")
	ErrUnexpectedReply = errors.New("source: unexpected storefront response")
)

// Source yields raw products one at a time. Next returns io.EOF once the
// sequence is exhausted and a *SourceError for a record that could not be
// fetched or parsed; any other error ends the run. A Source is consumed once.
type Source interface {
	Next(ctx context.Context) (*domain.RawProduct, error)
}

// SourceError marks a single unreadable record. The run skips it and moves on.
type SourceError struct {
	Ref string // handle or file name
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source: record %q: %v", e.Ref, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsSourceError reports whether err marks a skippable record.
func IsSourceError(err error) bool {
	var srcErr *SourceError
	return errors.As(err, &srcErr)
}
