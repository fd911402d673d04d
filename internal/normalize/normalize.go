package normalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"catalog-ingest-service/internal/domain"
)

const (
	DefaultSize      = "One Size"
	DefaultColor     = "Default"
	DefaultInventory = 100
)

// ErrInvalidProduct wraps every validation failure of a raw record.
var ErrInvalidProduct = errors.New("normalize: invalid raw product")

// Normalized is one RawProduct mapped into insert-ready rows. Category IDs and
// the variants' ProductID are left zero for the upserter to fill.
type Normalized struct {
	Product    domain.Product
	Categories []domain.Category
	Variants   []domain.Variant
}

// Normalizer validates raw records and maps them into canonical form.
type Normalizer struct {
	validate *validator.Validate
}

func New() *Normalizer {
	return &Normalizer{validate: validator.New()}
}

// Validate reports whether raw is well-formed enough to be ingested.
func (n *Normalizer) Validate(raw *domain.RawProduct) error {
	if raw == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidProduct)
	}
	if err := n.validate.Struct(raw); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidProduct, err.Error())
	}
	return nil
}

// Normalize validates raw and converts it into a Normalized product.
func (n *Normalizer) Normalize(raw *domain.RawProduct) (*Normalized, error) {
	if err := n.Validate(raw); err != nil {
		return nil, err
	}

	images := make(domain.Images, 0, len(raw.Images))
	for _, url := range raw.Images {
		images = append(images, domain.ImageRef{URL: url})
	}

	positions := OptionPositions(raw.Options)
	variants := make([]domain.Variant, 0, len(raw.Variants))
	for _, rv := range raw.Variants {
		variants = append(variants, ResolveVariant(rv, positions))
	}

	return &Normalized{
		Product: domain.Product{
			Name:        raw.Title,
			Slug:        raw.Handle,
			Description: optional(raw.Description),
			Type:        optional(raw.Type),
			Price:       ScalePrice(raw.Price),
			Images:      images,
			Status:      domain.ProductStatusPublished,
		},
		Categories: CategoryLabels(raw.Type, raw.Tags),
		Variants:   variants,
	}, nil
}

// CategoryLabels returns the product type followed by its tags as categories,
// deduplicated by slug. The first name seen for a slug wins. Labels that are
// blank or slugify to nothing are dropped.
func CategoryLabels(productType string, tags []string) []domain.Category {
	labels := make([]string, 0, len(tags)+1)
	labels = append(labels, productType)
	labels = append(labels, tags...)

	seen := make(map[string]struct{}, len(labels))
	categories := make([]domain.Category, 0, len(labels))
	for _, label := range labels {
		name := strings.TrimSpace(label)
		if name == "" {
			continue
		}
		slug := Slugify(name)
		if slug == "" {
			continue
		}
		if _, dup := seen[slug]; dup {
			continue
		}
		seen[slug] = struct{}{}
		categories = append(categories, domain.Category{Name: name, Slug: slug})
	}
	return categories
}

// ScalePrice converts minor currency units to major units exactly.
func ScalePrice(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// OptionPositions maps each lowercased option name of one product to its
// variant field position.
func OptionPositions(options []domain.RawOption) map[string]int {
	positions := make(map[string]int, len(options))
	for _, opt := range options {
		positions[strings.ToLower(strings.TrimSpace(opt.Name))] = opt.Position
	}
	return positions
}

// ResolveVariant maps a raw variant using its product's option positions.
func ResolveVariant(rv domain.RawVariant, positions map[string]int) domain.Variant {
	v := domain.Variant{
		Size:      optionOr(rv, positions, "size", DefaultSize),
		Color:     optionOr(rv, positions, "color", DefaultColor),
		SKU:       nonEmpty(rv.SKU),
		Inventory: DefaultInventory,
		Cost:      ScalePrice(rv.Price),
	}
	// The product image list is never used as a fallback.
	if rv.FeaturedImage != nil && rv.FeaturedImage.Src != "" {
		src := rv.FeaturedImage.Src
		v.Image = &src
	}
	return v
}

func optionOr(rv domain.RawVariant, positions map[string]int, name, fallback string) string {
	pos, ok := positions[name]
	if !ok {
		return fallback
	}
	if value := rv.OptionValue(pos); value != "" {
		return value
	}
	return fallback
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	return optional(*s)
}
