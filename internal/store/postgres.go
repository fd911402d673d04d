package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"catalog-ingest-service/internal/domain"
)

// Predefined errors for store operations
var (
	ErrCategoryNotFound   = errors.New("store: category not found")
	ErrCategorySlugExists = errors.New("store: category slug already exists")
	ErrVariantSKUExists   = errors.New("store: variant SKU already exists")
	ErrTxDone             = errors.New("store: transaction already committed or rolled back")
)

const uniqueViolation = "23505"

const (
	selectCategoryBySlugQuery = `
		SELECT id, name, slug
		FROM categories
		WHERE slug = $1;
	`
	insertCategoryQuery = `
		INSERT INTO categories (name, slug)
		VALUES ($1, $2)
		RETURNING id, name, slug;
	`
	insertProductQuery = `
		INSERT INTO products (name, slug, description, type, price, images, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (slug) DO NOTHING
		RETURNING id;
	`
	linkProductCategoryQuery = `
		INSERT INTO product_to_categories (product_id, category_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING;
	`
	insertVariantQuery = `
		INSERT INTO variants (product_id, size, color, image, sku, inventory, cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id;
	`
	countCatalogQuery = `
		SELECT
			(SELECT COUNT(*) FROM products) AS products,
			(SELECT COUNT(*) FROM categories) AS categories,
			(SELECT COUNT(*) FROM variants) AS variants;
	`
)

// PostgresStore implements CatalogStorer and CatalogReader using PostgreSQL.
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresStore creates a new PostgresStore instance.
func NewPostgresStore(db *sqlx.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) BeginTx(ctx context.Context) (CatalogTx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: BeginTx failed: %w", err)
	}
	return &PostgresTx{tx: tx}, nil
}

func (s *PostgresStore) CountCatalog(ctx context.Context) (*CatalogCounts, error) {
	var counts CatalogCounts
	if err := s.db.GetContext(ctx, &counts, countCatalogQuery); err != nil {
		return nil, fmt.Errorf("store: CountCatalog failed to scan row: %w", err)
	}
	return &counts, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Info("Closing database connection pool")
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database connection pool", zap.Error(err))
		return err
	}
	s.logger.Info("Database connection pool closed")
	return nil
}

// PostgresTx implements CatalogTx over a single *sqlx.Tx.
type PostgresTx struct {
	tx *sqlx.Tx
}

func (t *PostgresTx) GetCategoryBySlug(ctx context.Context, slug string) (*domain.Category, error) {
	var category domain.Category
	if err := t.tx.GetContext(ctx, &category, selectCategoryBySlugQuery, slug); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("store: GetCategoryBySlug failed to scan row: %w", err)
	}
	return &category, nil
}

func (t *PostgresTx) CreateCategory(ctx context.Context, category *domain.Category) (*domain.Category, error) {
	var created domain.Category
	err := t.tx.QueryRowxContext(ctx, insertCategoryQuery, category.Name, category.Slug).StructScan(&created)
	if err != nil {
		if isUniqueViolation(err, "slug") {
			return nil, ErrCategorySlugExists
		}
		return nil, fmt.Errorf("store: CreateCategory failed to scan row: %w", err)
	}
	return &created, nil
}

func (t *PostgresTx) InsertProductIfAbsent(ctx context.Context, product *domain.Product) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRowxContext(ctx, insertProductQuery,
		product.Name, product.Slug, product.Description, product.Type,
		product.Price, product.Images, product.Status,
	).Scan(&id)
	if err != nil {
		// ON CONFLICT DO NOTHING produces no row for an existing slug.
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("store: InsertProductIfAbsent failed to scan row: %w", err)
	}
	return id, true, nil
}

func (t *PostgresTx) LinkProductCategory(ctx context.Context, productID, categoryID int64) error {
	if _, err := t.tx.ExecContext(ctx, linkProductCategoryQuery, productID, categoryID); err != nil {
		return fmt.Errorf("store: LinkProductCategory failed to execute insert: %w", err)
	}
	return nil
}

func (t *PostgresTx) InsertVariant(ctx context.Context, variant *domain.Variant) (int64, error) {
	var id int64
	err := t.tx.QueryRowxContext(ctx, insertVariantQuery,
		variant.ProductID, variant.Size, variant.Color, variant.Image,
		variant.SKU, variant.Inventory, variant.Cost,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err, "sku") {
			return 0, ErrVariantSKUExists
		}
		return 0, fmt.Errorf("store: InsertVariant failed to scan row: %w", err)
	}
	return id, nil
}

func (t *PostgresTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ErrTxDone
		}
		return fmt.Errorf("store: Commit failed: %w", err)
	}
	return nil
}

func (t *PostgresTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ErrTxDone
		}
		return fmt.Errorf("store: Rollback failed: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique violation on a
// constraint or key mentioning column.
func isUniqueViolation(err error, column string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return strings.Contains(pqErr.Constraint, column) || strings.Contains(pqErr.Detail, "Key ("+column+")")
}
