// Package store holds the gorm repositories for the system of record.
package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bosquejun/flashdrop/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// ProductStore persists products.
type ProductStore struct {
	db *gorm.DB
}

func NewProductStore(db *gorm.DB) *ProductStore {
	return &ProductStore{db: db}
}

// FindBySKU returns the product for sku or ErrNotFound.
func (s *ProductStore) FindBySKU(ctx context.Context, sku string) (*model.Product, error) {
	var p model.Product
	err := s.db.WithContext(ctx).Where("sku = ?", sku).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// List returns all products.
func (s *ProductStore) List(ctx context.Context) ([]model.Product, error) {
	var list []model.Product
	if err := s.db.WithContext(ctx).Order("sku").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// Upsert inserts or updates a product keyed by SKU. Created reports whether
// a new row was inserted, so callers can publish the right event.
func (s *ProductStore) Upsert(ctx context.Context, p *model.Product) (created bool, err error) {
	var existing model.Product
	err = s.db.WithContext(ctx).Where("sku = ?", p.SKU).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, err
	}

	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sku"}},
		UpdateAll: true,
	}).Save(p).Error; err != nil {
		return false, err
	}
	return false, nil
}

// DecrementAvailableStock applies one batched decrement to the denormalized
// available_stock snapshot. quantity is the aggregated sum for the SKU.
func (s *ProductStore) DecrementAvailableStock(ctx context.Context, sku string, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("store: decrement quantity must be > 0, got %d", quantity)
	}
	res := s.db.WithContext(ctx).Model(&model.Product{}).
		Where("sku = ?", sku).
		UpdateColumn("available_stock", gorm.Expr("MAX(available_stock - ?, 0)", quantity))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
