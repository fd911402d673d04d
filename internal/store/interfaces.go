package store

import (
	"context"

	"catalog-ingest-service/internal/domain"
)

// CatalogTx is one product's unit of work. Every write made through it
// becomes visible on Commit or is discarded on Rollback.
type CatalogTx interface {
	GetCategoryBySlug(ctx context.Context, slug string) (*domain.Category, error)
	CreateCategory(ctx context.Context, category *domain.Category) (*domain.Category, error)
	// InsertProductIfAbsent returns created=false, with no error, when a
	// product with the same slug already exists.
	InsertProductIfAbsent(ctx context.Context, product *domain.Product) (id int64, created bool, err error)
	LinkProductCategory(ctx context.Context, productID, categoryID int64) error
	InsertVariant(ctx context.Context, variant *domain.Variant) (int64, error)
	Commit() error
	Rollback() error
}

// CatalogStorer opens catalog transactions.
type CatalogStorer interface {
	BeginTx(ctx context.Context) (CatalogTx, error)
}

// CatalogCounts is a snapshot of how many rows each catalog table holds.
type CatalogCounts struct {
	Products   int64 `json:"products" db:"products"`
	Categories int64 `json:"categories" db:"categories"`
	Variants   int64 `json:"variants" db:"variants"`
}

// CatalogReader exposes read-only views used for reporting and health.
type CatalogReader interface {
	CountCatalog(ctx context.Context) (*CatalogCounts, error)
	Ping(ctx context.Context) error
}
