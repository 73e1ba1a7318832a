package model

import (
	"time"

	"gorm.io/gorm"
)

// Product is a flash-sale item: one SKU with a fixed stock sold inside the
// [StartDate, EndDate] window. AvailableStock is the denormalized snapshot
// in the system of record; real-time decrements run against Redis counters
// and are reconciled back here by the stream consumer.
type Product struct {
	ID        uint           `gorm:"primarykey" json:"-"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"-"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	SKU         string `gorm:"size:64;uniqueIndex;not null" json:"sku"`
	Name        string `gorm:"size:500;not null" json:"name"`
	Description string `gorm:"size:2000" json:"description,omitempty"`
	// Price is the unit price in minor units (cents).
	Price    int64  `gorm:"not null" json:"price"`
	Currency string `gorm:"size:3;not null;default:USD" json:"currency"`
	ImageURL string `gorm:"size:2048" json:"imageUrl,omitempty"`

	TotalStock     int64 `gorm:"not null;default:0" json:"totalStock"`
	AvailableStock int64 `gorm:"not null;default:0" json:"availableStock"`

	StartDate    time.Time `gorm:"not null" json:"startDate"`
	EndDate      time.Time `gorm:"not null" json:"endDate"`
	LimitPerUser int64     `gorm:"not null;default:1" json:"limitPerUser"`
}

func (Product) TableName() string { return "products" }

// SaleActiveAt reports whether the sale window covers t.
func (p *Product) SaleActiveAt(t time.Time) bool {
	return !t.Before(p.StartDate) && !t.After(p.EndDate)
}
