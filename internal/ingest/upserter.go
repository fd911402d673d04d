package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"catalog-ingest-service/internal/domain"
	"catalog-ingest-service/internal/normalize"
	"catalog-ingest-service/internal/store"
)

// Outcome is the per-product result of an upsert.
type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Result describes what one upsert wrote.
type Result struct {
	Outcome           Outcome
	ProductID         int64
	Categories        int // distinct categories linked
	CategoriesCreated int
	Variants          int
}

// StorageError reports a failed write sequence. The product's transaction
// has been rolled back when it is returned.
type StorageError struct {
	Handle string
	Op     string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ingest: %s failed for product %q: %v", e.Op, e.Handle, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Upserter persists normalized products, one transaction per product.
// It is not safe for concurrent use.
type Upserter struct {
	store  store.CatalogStorer
	logger *zap.Logger
	// slug -> id of categories known to be committed
	categories map[string]int64
}

func NewUpserter(cs store.CatalogStorer, logger *zap.Logger) *Upserter {
	return &Upserter{
		store:      cs,
		logger:     logger,
		categories: make(map[string]int64),
	}
}

// Upsert writes the product, its category links and its variants atomically.
// A product whose slug already exists is skipped: nothing is written for it.
func (u *Upserter) Upsert(ctx context.Context, n *normalize.Normalized) (Result, error) {
	handle := n.Product.Slug
	tx, err := u.store.BeginTx(ctx)
	if err != nil {
		return Result{}, &StorageError{Handle: handle, Op: "begin", Err: err}
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := tx.Rollback(); err != nil && !errors.Is(err, store.ErrTxDone) {
			u.logger.Error("Failed to roll back product transaction", zap.String("handle", handle), zap.Error(err))
		}
	}()

	// Categories created here only become reusable once this transaction commits.
	pending := make(map[string]int64)
	categoryIDs := make([]int64, 0, len(n.Categories))
	linked := make(map[int64]struct{}, len(n.Categories))
	for _, category := range n.Categories {
		id, err := u.categoryID(ctx, tx, category, pending)
		if err != nil {
			return Result{}, &StorageError{Handle: handle, Op: "category get-or-create", Err: err}
		}
		if _, dup := linked[id]; dup {
			continue
		}
		linked[id] = struct{}{}
		categoryIDs = append(categoryIDs, id)
	}

	productID, created, err := tx.InsertProductIfAbsent(ctx, &n.Product)
	if err != nil {
		return Result{}, &StorageError{Handle: handle, Op: "product insert", Err: err}
	}
	if !created {
		u.logger.Info("Skipping product, slug already exists", zap.String("handle", handle), zap.String("title", n.Product.Name))
		return Result{Outcome: OutcomeSkipped}, nil
	}

	for _, categoryID := range categoryIDs {
		if err := tx.LinkProductCategory(ctx, productID, categoryID); err != nil {
			return Result{}, &StorageError{Handle: handle, Op: "category link", Err: err}
		}
	}

	for i := range n.Variants {
		variant := n.Variants[i]
		variant.ProductID = productID
		if _, err := tx.InsertVariant(ctx, &variant); err != nil {
			return Result{}, &StorageError{Handle: handle, Op: "variant insert", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, &StorageError{Handle: handle, Op: "commit", Err: err}
	}
	committed = true
	for slug, id := range pending {
		u.categories[slug] = id
	}

	return Result{
		Outcome:           OutcomeCreated,
		ProductID:         productID,
		Categories:        len(categoryIDs),
		CategoriesCreated: len(pending),
		Variants:          len(n.Variants),
	}, nil
}

// categoryID resolves a category by slug, creating it inside tx when absent.
func (u *Upserter) categoryID(ctx context.Context, tx store.CatalogTx, category domain.Category, pending map[string]int64) (int64, error) {
	if id, ok := u.categories[category.Slug]; ok {
		return id, nil
	}
	if id, ok := pending[category.Slug]; ok {
		return id, nil
	}

	existing, err := tx.GetCategoryBySlug(ctx, category.Slug)
	if err == nil {
		u.categories[category.Slug] = existing.ID
		return existing.ID, nil
	}
	if !errors.Is(err, store.ErrCategoryNotFound) {
		return 0, err
	}

	created, err := tx.CreateCategory(ctx, &category)
	if err != nil {
		return 0, err
	}
	pending[category.Slug] = created.ID
	return created.ID, nil
}
