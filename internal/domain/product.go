package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ProductStatusPublished is the status every ingested product is created with.
const ProductStatusPublished = "published"

// RawProduct is one storefront product document as served by the
// `/products/<handle>.js` endpoint or captured into a payload file.
type RawProduct struct {
	Title       string       `json:"title" validate:"required"`
	Handle      string       `json:"handle" validate:"required,max=256"`
	Description string       `json:"description"`
	Type        string       `json:"type"`
	Tags        []string     `json:"tags"`
	Price       int64        `json:"price" validate:"gte=0"` // minor units, e.g. cents
	Images      []string     `json:"images"`
	Options     []RawOption  `json:"options" validate:"dive"`
	Variants    []RawVariant `json:"variants" validate:"dive"`
}

// RawOption names one positional variant field (option1..option3).
type RawOption struct {
	Name     string `json:"name" validate:"required"`
	Position int    `json:"position" validate:"min=1,max=3"`
}

// RawVariant is a single purchasable combination of a RawProduct's options.
type RawVariant struct {
	Option1       *string   `json:"option1"`
	Option2       *string   `json:"option2"`
	Option3       *string   `json:"option3"`
	SKU           *string   `json:"sku"`
	Price         int64     `json:"price" validate:"gte=0"`
	FeaturedImage *RawImage `json:"featured_image"`
}

// RawImage is the subset of a storefront image object the pipeline reads.
type RawImage struct {
	Src string `json:"src"`
}

// OptionValue returns the variant's value for a 1-based option position,
// or "" when the position is unknown or unset.
func (v RawVariant) OptionValue(position int) string {
	var value *string
	switch position {
	case 1:
		value = v.Option1
	case 2:
		value = v.Option2
	case 3:
		value = v.Option3
	}
	if value == nil {
		return ""
	}
	return *value
}

// Category is a catalog category. Slug is the natural key, ID is a surrogate.
type Category struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
	Slug string `json:"slug" db:"slug"`
}

// ImageRef is one entry of a product's ordered image list.
type ImageRef struct {
	URL string `json:"url"`
}

// Images is stored as a jsonb array of {"url": ...} objects.
type Images []ImageRef

// Value implements driver.Valuer. The JSON is sent as text so that
// lib/pq does not encode it as bytea.
func (im Images) Value() (driver.Value, error) {
	if im == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]ImageRef(im))
	if err != nil {
		return nil, fmt.Errorf("domain: failed to encode images: %w", err)
	}
	return string(b), nil
}

// Product is the canonical, insert-ready product row.
type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Description *string         `json:"description,omitempty"`
	Type        *string         `json:"type,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Images      Images          `json:"images"`
	Status      string          `json:"status"`
}

// Variant is the canonical, insert-ready variant row.
type Variant struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Size      string          `json:"size"`
	Color     string          `json:"color"`
	Image     *string         `json:"image,omitempty"`
	SKU       *string         `json:"sku,omitempty"`
	Inventory int32           `json:"inventory"`
	Cost      decimal.Decimal `json:"cost"`
}
