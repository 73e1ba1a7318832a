// Package product serves product reads through the cache-aside layer and
// owns the admin write path that keeps the reservation counters primed.
package product

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bosquejun/flashdrop/internal/apperr"
	"github.com/bosquejun/flashdrop/internal/cache"
	"github.com/bosquejun/flashdrop/internal/model"
	"github.com/bosquejun/flashdrop/internal/obs"
	"github.com/bosquejun/flashdrop/internal/reserve"
	"github.com/bosquejun/flashdrop/internal/store"
	"github.com/bosquejun/flashdrop/internal/stream"
)

// Domain is the product event stream name.
const Domain = "product"

// Product lifecycle actions on the event stream.
const (
	ActionCreated stream.Action = "created"
	ActionUpdated stream.Action = "updated"
	ActionDeleted stream.Action = "deleted"
)

// Repo is the slice of the product store the service needs.
type Repo interface {
	FindBySKU(ctx context.Context, sku string) (*model.Product, error)
	List(ctx context.Context) ([]model.Product, error)
	Upsert(ctx context.Context, p *model.Product) (created bool, err error)
}

type entityCache interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type publisher interface {
	Publish(ctx context.Context, action stream.Action, payload any, meta *stream.Metadata) error
}

// Stock is the live stock view for a SKU.
type Stock struct {
	AvailableStock int64 `json:"availableStock"`
	TotalStock     int64 `json:"totalStock"`
}

// SaleStatus is the frequently-polled sale projection.
type SaleStatus struct {
	SKU            string `json:"sku"`
	Status         string `json:"status"` // upcoming | active | ended
	StartDate      string `json:"startDate"`
	EndDate        string `json:"endDate"`
	AvailableStock int64  `json:"availableStock"`
	TotalStock     int64  `json:"totalStock"`
	LimitPerUser   int64  `json:"limitPerUser"`
}

// Service is the product read/admin service.
type Service struct {
	repo     Repo
	cache    entityCache
	counters reserve.Store
	events   publisher

	entityTTL time.Duration
	statusTTL time.Duration
	now       func() time.Time
}

func NewService(repo Repo, c entityCache, counters reserve.Store, events publisher, entityTTL, statusTTL time.Duration) *Service {
	return &Service{
		repo:      repo,
		cache:     c,
		counters:  counters,
		events:    events,
		entityTTL: entityTTL,
		statusTTL: statusTTL,
		now:       time.Now,
	}
}

// Get returns the product for sku, cache first.
func (s *Service) Get(ctx context.Context, sku string) (*model.Product, error) {
	key := cache.ProductKey(sku)
	var cached model.Product
	if hit, err := s.cache.GetJSON(ctx, key, &cached); err != nil {
		obs.Logger.Warn("product cache read failed, falling back to db", "sku", sku, "err", err)
	} else if hit {
		return &cached, nil
	}

	p, err := s.repo.FindBySKU(ctx, sku)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(http.StatusNotFound, apperr.CodeProductNotFound, "product not found")
		}
		return nil, apperr.Internal(err)
	}

	if err := s.cache.SetJSON(ctx, key, p, s.entityTTL); err != nil {
		obs.Logger.Warn("product cache write failed", "sku", sku, "err", err)
	}
	return p, nil
}

// List returns all products, cache first.
func (s *Service) List(ctx context.Context) ([]model.Product, error) {
	key := cache.ProductListKey()
	var cached []model.Product
	if hit, err := s.cache.GetJSON(ctx, key, &cached); err != nil {
		obs.Logger.Warn("product list cache read failed, falling back to db", "err", err)
	} else if hit {
		return cached, nil
	}

	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.cache.SetJSON(ctx, key, list, s.entityTTL); err != nil {
		obs.Logger.Warn("product list cache write failed", "err", err)
	}
	return list, nil
}

// GetStock returns the live stock view for a SKU.
func (s *Service) GetStock(ctx context.Context, sku string) (*Stock, error) {
	p, err := s.Get(ctx, sku)
	if err != nil {
		return nil, err
	}
	return s.stockFor(ctx, p), nil
}

// stockFor prefers the live reservation counter while the sale window is
// active (fresher than the system of record) and falls back to the
// denormalized snapshot otherwise.
func (s *Service) stockFor(ctx context.Context, p *model.Product) *Stock {
	available := p.AvailableStock
	if p.SaleActiveAt(s.now()) {
		if live, ok, err := s.counters.Stock(ctx, p.SKU); err != nil {
			obs.Logger.Warn("live stock read failed, using snapshot", "sku", p.SKU, "err", err)
		} else if ok {
			available = live
		}
	}
	return &Stock{AvailableStock: available, TotalStock: p.TotalStock}
}

// GetSaleStatus returns the sale projection, cached with the short TTL
// since clients poll it continuously.
func (s *Service) GetSaleStatus(ctx context.Context, sku string) (*SaleStatus, error) {
	key := cache.SaleStatusKey(sku)
	var cached SaleStatus
	if hit, err := s.cache.GetJSON(ctx, key, &cached); err != nil {
		obs.Logger.Warn("sale status cache read failed", "sku", sku, "err", err)
	} else if hit {
		return &cached, nil
	}

	p, err := s.Get(ctx, sku)
	if err != nil {
		return nil, err
	}
	stock := s.stockFor(ctx, p)

	status := &SaleStatus{
		SKU:            p.SKU,
		Status:         saleState(p, s.now()),
		StartDate:      p.StartDate.UTC().Format(time.RFC3339),
		EndDate:        p.EndDate.UTC().Format(time.RFC3339),
		AvailableStock: stock.AvailableStock,
		TotalStock:     stock.TotalStock,
		LimitPerUser:   p.LimitPerUser,
	}
	if err := s.cache.SetJSON(ctx, key, status, s.statusTTL); err != nil {
		obs.Logger.Warn("sale status cache write failed", "sku", sku, "err", err)
	}
	return status, nil
}

func saleState(p *model.Product, now time.Time) string {
	switch {
	case now.Before(p.StartDate):
		return "upcoming"
	case now.After(p.EndDate):
		return "ended"
	default:
		return "active"
	}
}

// Upsert writes a product to the system of record and publishes the
// lifecycle event that drives cache invalidation.
func (s *Service) Upsert(ctx context.Context, p *model.Product) error {
	if p.SKU == "" {
		return apperr.New(http.StatusBadRequest, apperr.CodeInvalidRequest, "sku is required")
	}
	if !p.EndDate.After(p.StartDate) {
		return apperr.New(http.StatusBadRequest, apperr.CodeInvalidRequest, "endDate must be after startDate")
	}
	if p.LimitPerUser <= 0 {
		p.LimitPerUser = 1
	}

	created, err := s.repo.Upsert(ctx, p)
	if err != nil {
		return apperr.Internal(err)
	}

	action := ActionUpdated
	if created {
		action = ActionCreated
	}
	if err := s.events.Publish(ctx, action, p, nil); err != nil {
		// Invalidation is best-effort; stale entries age out with the TTL.
		obs.Logger.Warn("product event publish failed", "sku", p.SKU, "action", string(action), "err", err)
	}
	return nil
}

// Prime loads the product from the system of record and seeds the
// reservation counters for its sale window. Counters expire a day after
// the window closes so late reconciliation still sees them.
func (s *Service) Prime(ctx context.Context, sku string) (*model.Product, error) {
	p, err := s.repo.FindBySKU(ctx, sku)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(http.StatusNotFound, apperr.CodeProductNotFound, "product not found")
		}
		return nil, apperr.Internal(err)
	}

	expireAt := p.EndDate.Add(24 * time.Hour)
	if err := s.counters.Prime(ctx, sku, p.AvailableStock, p.TotalStock, expireAt); err != nil {
		return nil, apperr.Internal(fmt.Errorf("prime counters: %w", err))
	}
	obs.Logger.Info("reservation counters primed",
		"sku", sku, "available", p.AvailableStock, "total", p.TotalStock)
	return p, nil
}

// RegisterInvalidators wires the cache-invalidation consumers onto the
// product stream: any lifecycle event clears the list key and, when a SKU
// is present, the per-SKU entries.
func (s *Service) RegisterInvalidators(st *stream.Stream) {
	for _, action := range []stream.Action{ActionCreated, ActionUpdated, ActionDeleted} {
		st.On(action, s.invalidateBatch)
	}
}

func (s *Service) invalidateBatch(ctx context.Context, batch []stream.Event) error {
	keys := []string{cache.ProductListKey()}
	for _, ev := range batch {
		var payload struct {
			SKU string `json:"sku"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.SKU == "" {
			continue
		}
		keys = append(keys, cache.ProductKey(payload.SKU), cache.SaleStatusKey(payload.SKU))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate product cache: %w", err)
	}
	obs.Logger.Debug("product cache invalidated", "keys", len(keys), "events", len(batch))
	return nil
}
