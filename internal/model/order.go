package model

import (
	"time"

	"gorm.io/gorm"
)

// Order statuses. A flash-sale order is inserted directly as completed;
// pending/failed exist for the payment-capture flow outside this service.
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusFailed    = "failed"
)

// Order is one successful purchase. The composite unique index on
// (buyer_id, sku) enforces one order per buyer per SKU in the system of
// record, independent of the counter-based limit check.
type Order struct {
	ID        uint           `gorm:"primarykey" json:"-"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"-"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	BuyerID  string `gorm:"size:64;not null;uniqueIndex:idx_orders_buyer_sku,priority:1" json:"userId"`
	SKU      string `gorm:"size:64;not null;uniqueIndex:idx_orders_buyer_sku,priority:2" json:"productSKU"`
	Quantity int64  `gorm:"not null;default:1" json:"quantity"`

	// Price is the unit price at purchase time; TotalPrice = Price * Quantity.
	Price      int64  `gorm:"not null" json:"price"`
	TotalPrice int64  `gorm:"not null" json:"totalPrice"`
	Currency   string `gorm:"size:3;not null;default:USD" json:"currency"`

	Status           string    `gorm:"size:16;not null" json:"status"`
	PaymentMethod    string    `gorm:"size:32;not null" json:"paymentMethod"`
	PaymentReference string    `gorm:"size:255;not null" json:"paymentReference"`
	PurchasedAt      time.Time `gorm:"not null" json:"purchasedAt"`
}

func (Order) TableName() string { return "orders" }
