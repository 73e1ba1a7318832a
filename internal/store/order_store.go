package store

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/bosquejun/flashdrop/internal/model"
)

// ErrDuplicateOrder is returned when the (buyer, sku) unique index rejects
// an insert, i.e. the buyer already holds a completed order for the SKU.
var ErrDuplicateOrder = errors.New("store: duplicate order for buyer and sku")

// OrderStore persists orders. Rows are append-only per (buyer, sku).
type OrderStore struct {
	db *gorm.DB
}

func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{db: db}
}

// Insert writes a new order. A unique-index violation maps to
// ErrDuplicateOrder so the orchestrator can compensate and answer
// ALREADY_PURCHASED.
func (s *OrderStore) Insert(ctx context.Context, o *model.Order) error {
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateOrder
		}
		return err
	}
	return nil
}

// FindByBuyerAndSKU returns the buyer's order for sku or ErrNotFound.
func (s *OrderStore) FindByBuyerAndSKU(ctx context.Context, buyerID, sku string) (*model.Order, error) {
	var o model.Order
	err := s.db.WithContext(ctx).Where("buyer_id = ? AND sku = ?", buyerID, sku).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// ListByBuyer returns all orders for a buyer, newest first.
func (s *OrderStore) ListByBuyer(ctx context.Context, buyerID string) ([]model.Order, error) {
	var list []model.Order
	err := s.db.WithContext(ctx).Where("buyer_id = ?", buyerID).
		Order("created_at DESC").Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// isUniqueViolation matches sqlite's constraint error text. gorm.ErrDuplicatedKey
// is checked first for drivers that translate the error.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}
