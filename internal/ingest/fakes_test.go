package ingest

import (
	"context"
	"errors"
	"io"
	"sync"

	"catalog-ingest-service/internal/domain"
	"catalog-ingest-service/internal/store"
)

// memStore is an in-memory CatalogStorer. Writes made through a memTx only
// become visible to other transactions on Commit.
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	categories map[string]domain.Category
	products   map[string]int64
	links      map[[2]int64]struct{}
	variants   []domain.Variant

	// failVariantFor makes InsertVariant fail for the product with this slug.
	failVariantFor string
	rollbacks      int
}

func newMemStore() *memStore {
	return &memStore{
		categories: make(map[string]domain.Category),
		products:   make(map[string]int64),
		links:      make(map[[2]int64]struct{}),
	}
}

func (s *memStore) BeginTx(ctx context.Context) (store.CatalogTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memTx{
		s:          s,
		categories: make(map[string]domain.Category),
		products:   make(map[string]int64),
		links:      make(map[[2]int64]struct{}),
	}, nil
}

func (s *memStore) id() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

func (s *memStore) categoryIDs() map[int64]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[int64]struct{}, len(s.categories))
	for _, c := range s.categories {
		ids[c.ID] = struct{}{}
	}
	return ids
}

type memTx struct {
	s          *memStore
	categories map[string]domain.Category
	products   map[string]int64
	links      map[[2]int64]struct{}
	variants   []domain.Variant
	done       bool
}

func (t *memTx) GetCategoryBySlug(ctx context.Context, slug string) (*domain.Category, error) {
	if c, ok := t.categories[slug]; ok {
		return &c, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if c, ok := t.s.categories[slug]; ok {
		return &c, nil
	}
	return nil, store.ErrCategoryNotFound
}

func (t *memTx) CreateCategory(ctx context.Context, category *domain.Category) (*domain.Category, error) {
	created := domain.Category{ID: t.s.id(), Name: category.Name, Slug: category.Slug}
	t.categories[category.Slug] = created
	return &created, nil
}

func (t *memTx) InsertProductIfAbsent(ctx context.Context, product *domain.Product) (int64, bool, error) {
	if _, ok := t.products[product.Slug]; ok {
		return 0, false, nil
	}
	t.s.mu.Lock()
	_, exists := t.s.products[product.Slug]
	t.s.mu.Unlock()
	if exists {
		return 0, false, nil
	}
	id := t.s.id()
	t.products[product.Slug] = id
	return id, true, nil
}

func (t *memTx) LinkProductCategory(ctx context.Context, productID, categoryID int64) error {
	t.links[[2]int64{productID, categoryID}] = struct{}{}
	return nil
}

func (t *memTx) InsertVariant(ctx context.Context, variant *domain.Variant) (int64, error) {
	for slug, id := range t.products {
		if id == variant.ProductID && slug == t.s.failVariantFor {
			return 0, errors.New("variant rejected")
		}
	}
	v := *variant
	v.ID = t.s.id()
	t.variants = append(t.variants, v)
	return v.ID, nil
}

func (t *memTx) Commit() error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for slug, c := range t.categories {
		t.s.categories[slug] = c
	}
	for slug, id := range t.products {
		t.s.products[slug] = id
	}
	for link := range t.links {
		t.s.links[link] = struct{}{}
	}
	t.s.variants = append(t.s.variants, t.variants...)
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	t.s.mu.Lock()
	t.s.rollbacks++
	t.s.mu.Unlock()
	return nil
}

type step struct {
	raw *domain.RawProduct
	err error
}

// sliceSource yields its steps in order, then io.EOF.
type sliceSource struct {
	steps []step
	next  int
	// afterNext runs after each step is handed out.
	afterNext func(n int)
}

func (s *sliceSource) Next(ctx context.Context) (*domain.RawProduct, error) {
	if s.next >= len(s.steps) {
		return nil, io.EOF
	}
	st := s.steps[s.next]
	s.next++
	if s.afterNext != nil {
		s.afterNext(s.next)
	}
	return st.raw, st.err
}

func products(raws ...*domain.RawProduct) *sliceSource {
	src := &sliceSource{}
	for _, raw := range raws {
		src.steps = append(src.steps, step{raw: raw})
	}
	return src
}

func PtrTo[T any](v T) *T {
	return &v
}

func teeProduct() *domain.RawProduct {
	return &domain.RawProduct{
		Title:   "Tee",
		Handle:  "tee-1",
		Type:    "Shirts",
		Tags:    []string{"New"},
		Price:   1500,
		Images:  []string{"//cdn.example.com/tee.jpg"},
		Options: []domain.RawOption{{Name: "Size", Position: 1}},
		Variants: []domain.RawVariant{
			{Option1: PtrTo("M"), SKU: PtrTo("TEE-M"), Price: 1500},
		},
	}
}

func hoodieProduct() *domain.RawProduct {
	return &domain.RawProduct{
		Title:   "Hoodie",
		Handle:  "hoodie-2",
		Type:    "Shirts",
		Tags:    []string{"Warm", "new"},
		Price:   4200,
		Options: []domain.RawOption{{Name: "Color", Position: 1}, {Name: "Size", Position: 2}},
		Variants: []domain.RawVariant{
			{Option1: PtrTo("Black"), Option2: PtrTo("L"), SKU: PtrTo("HOOD-BL-L"), Price: 4200},
			{Option1: PtrTo("Grey"), Option2: PtrTo("L"), SKU: PtrTo("HOOD-GR-L"), Price: 4200},
		},
	}
}
