package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// The records below only describe the tables for AutoMigrate. Reads and
// writes go through PostgresStore.

type categoryRecord struct {
	ID   int64  `gorm:"primaryKey"`
	Name string `gorm:"type:varchar(256);not null"`
	Slug string `gorm:"type:varchar(256);not null;uniqueIndex"`
}

func (categoryRecord) TableName() string { return "categories" }

type productRecord struct {
	ID          int64           `gorm:"primaryKey"`
	Name        string          `gorm:"type:varchar(256);not null"`
	Slug        string          `gorm:"type:varchar(256);not null;uniqueIndex"`
	Description *string         `gorm:"type:text"`
	Type        *string         `gorm:"type:varchar(256)"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Images      string          `gorm:"type:jsonb;not null;default:'[]'"`
	Status      string          `gorm:"type:varchar(20);not null;default:'draft'"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (productRecord) TableName() string { return "products" }

type productCategoryRecord struct {
	ProductID  int64           `gorm:"primaryKey;autoIncrement:false"`
	CategoryID int64           `gorm:"primaryKey;autoIncrement:false"`
	Product    *productRecord  `gorm:"foreignKey:ProductID"`
	Category   *categoryRecord `gorm:"foreignKey:CategoryID"`
}

func (productCategoryRecord) TableName() string { return "product_to_categories" }

type variantRecord struct {
	ID        int64           `gorm:"primaryKey"`
	ProductID int64           `gorm:"not null;index"`
	Product   *productRecord  `gorm:"foreignKey:ProductID"`
	Size      string          `gorm:"type:varchar(50);not null"`
	Color     string          `gorm:"type:varchar(50);not null"`
	Image     *string         `gorm:"type:varchar(1024)"`
	SKU       *string         `gorm:"column:sku;type:varchar(100);uniqueIndex"`
	Inventory int32           `gorm:"not null;default:0"`
	Cost      decimal.Decimal `gorm:"type:decimal(10,2);not null"`
}

func (variantRecord) TableName() string { return "variants" }

// schemaModels lists the catalog tables in dependency order.
func schemaModels() []any {
	return []any{&categoryRecord{}, &productRecord{}, &productCategoryRecord{}, &variantRecord{}}
}

// Migrate creates or extends the catalog tables over an existing connection.
func Migrate(ctx context.Context, db *sql.DB) error {
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("store: Migrate failed to open gorm session: %w", err)
	}
	if err := gdb.WithContext(ctx).AutoMigrate(schemaModels()...); err != nil {
		return fmt.Errorf("store: Migrate failed: %w", err)
	}
	return nil
}
