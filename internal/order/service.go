// Package order implements the purchase orchestration state machine and
// the order-side read and reconciliation paths.
package order

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bosquejun/flashdrop/internal/apperr"
	"github.com/bosquejun/flashdrop/internal/cache"
	"github.com/bosquejun/flashdrop/internal/model"
	"github.com/bosquejun/flashdrop/internal/obs"
	"github.com/bosquejun/flashdrop/internal/reserve"
	"github.com/bosquejun/flashdrop/internal/store"
	"github.com/bosquejun/flashdrop/internal/stream"
)

// Domain is the order event stream name.
const Domain = "order"

// ActionCompleted is published after an order is durably recorded.
const ActionCompleted stream.Action = "completed"

// CreateRequest is a purchase attempt for one SKU.
type CreateRequest struct {
	SKU      string `json:"productSKU" binding:"required"`
	Quantity int64  `json:"quantity"`
}

type productGetter interface {
	Get(ctx context.Context, sku string) (*model.Product, error)
}

// Repo is the slice of the order store the service needs.
type Repo interface {
	Insert(ctx context.Context, o *model.Order) error
	FindByBuyerAndSKU(ctx context.Context, buyerID, sku string) (*model.Order, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]model.Order, error)
}

type entityCache interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type publisher interface {
	Publish(ctx context.Context, action stream.Action, payload any, meta *stream.Metadata) error
}

// Service orchestrates purchases: validate window, reserve atomically,
// persist, publish, compensate on persistence failure.
type Service struct {
	products productGetter
	orders   Repo
	stock    reserve.Store
	events   publisher
	cache    entityCache

	entityTTL time.Duration
	now       func() time.Time
}

func NewService(products productGetter, orders Repo, stock reserve.Store, events publisher, c entityCache, entityTTL time.Duration) *Service {
	return &Service{
		products:  products,
		orders:    orders,
		stock:     stock,
		events:    events,
		cache:     c,
		entityTTL: entityTTL,
		now:       time.Now,
	}
}

// Create runs one purchase attempt end to end. The reservation and the
// order insert are deliberately two separate steps: the reservation is the
// fast atomic gate, the insert is the slower durable write, and the release
// script bounds the inconsistency window between them.
func (s *Service) Create(ctx context.Context, buyerID string, req CreateRequest) (*model.Order, error) {
	// Validating.
	p, err := s.products.Get(ctx, req.SKU)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if now.Before(p.StartDate) {
		return nil, apperr.New(http.StatusBadRequest, apperr.CodeFlashSaleNotStarted, "flash sale has not started")
	}
	if now.After(p.EndDate) {
		return nil, apperr.New(http.StatusBadRequest, apperr.CodeFlashSaleEnded, "flash sale has ended")
	}

	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}
	if qty > p.LimitPerUser {
		return nil, apperr.New(http.StatusBadRequest, apperr.CodeLimitExceeded,
			"you have reached the maximum purchase limit for this item")
	}

	// Reserving: the atomic check-and-decrement is the only synchronization
	// point between competing buyers.
	res, err := s.stock.Reserve(ctx, p.SKU, buyerID, qty, p.LimitPerUser)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	switch res.Status {
	case reserve.StatusLimitExceeded:
		return nil, apperr.New(http.StatusForbidden, apperr.CodeLimitExceeded,
			"you have reached the maximum purchase limit for this item")
	case reserve.StatusOutOfStock:
		return nil, apperr.New(http.StatusConflict, apperr.CodeOutOfStock,
			"this item is currently out of stock")
	}

	// Persisting.
	o := &model.Order{
		BuyerID:          buyerID,
		SKU:              p.SKU,
		Quantity:         qty,
		Price:            p.Price,
		TotalPrice:       p.Price * qty,
		Currency:         p.Currency,
		Status:           model.OrderStatusCompleted,
		PaymentMethod:    "credit_card",
		PaymentReference: uuid.New().String(),
		PurchasedAt:      now,
	}
	if err := s.orders.Insert(ctx, o); err != nil {
		// Compensating: this attempt's reservation must not outlive its
		// failed persistence. The duplicate case also releases, since the
		// persisted order already accounts for one earlier reservation.
		s.release(p.SKU, buyerID, qty)

		if errors.Is(err, store.ErrDuplicateOrder) {
			return nil, apperr.New(http.StatusConflict, apperr.CodeAlreadyPurchased,
				"you have already purchased this item")
		}
		return nil, apperr.Internal(err)
	}

	// Publishing: fire-and-forget relative to the caller. The order row is
	// the source of truth; the stream is only the reconciliation signal.
	go s.publishCompleted(o)

	return o, nil
}

// release runs on a detached context: the persist failure that triggered it
// may be the request context dying, and the rollback must still go through.
func (s *Service) release(sku, buyerID string, qty int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stockAfter, err := s.stock.Release(ctx, sku, buyerID, qty)
	if err != nil {
		// Not retried here: the caller already gets its own error and must
		// not block on repair. Logged with enough context for manual fixup.
		obs.Logger.Warn("reservation release failed, counters need manual repair",
			"sku", sku, "buyer", buyerID, "quantity", qty, "err", err)
		return
	}
	obs.Logger.Warn("order persistence failed, reservation rolled back",
		"sku", sku, "buyer", buyerID, "quantity", qty, "stockAfterRollback", stockAfter)
}

func (s *Service) publishCompleted(o *model.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.events.Publish(ctx, ActionCompleted, o, nil); err != nil {
		// Never unwinds the order; reconciliation picks the row up on the
		// next primed snapshot instead.
		obs.Logger.Error("order.completed publish failed",
			"sku", o.SKU, "buyer", o.BuyerID, "paymentReference", o.PaymentReference, "err", err)
	}
}

// Get returns the buyer's order for a SKU, cache first.
func (s *Service) Get(ctx context.Context, buyerID, sku string) (*model.Order, error) {
	key := cache.OrderKey(buyerID, sku)
	var cached model.Order
	if hit, err := s.cache.GetJSON(ctx, key, &cached); err != nil {
		obs.Logger.Warn("order cache read failed, falling back to db", "sku", sku, "err", err)
	} else if hit {
		return &cached, nil
	}

	o, err := s.orders.FindByBuyerAndSKU(ctx, buyerID, sku)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(http.StatusNotFound, apperr.CodeOrderNotFound, "order not found")
		}
		return nil, apperr.Internal(err)
	}
	if err := s.cache.SetJSON(ctx, key, o, s.entityTTL); err != nil {
		obs.Logger.Warn("order cache write failed", "sku", sku, "err", err)
	}
	return o, nil
}

// List returns all of the buyer's orders, cache first.
func (s *Service) List(ctx context.Context, buyerID string) ([]model.Order, error) {
	key := cache.OrderListKey(buyerID)
	var cached []model.Order
	if hit, err := s.cache.GetJSON(ctx, key, &cached); err != nil {
		obs.Logger.Warn("order list cache read failed, falling back to db", "err", err)
	} else if hit {
		return cached, nil
	}

	list, err := s.orders.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.cache.SetJSON(ctx, key, list, s.entityTTL); err != nil {
		obs.Logger.Warn("order list cache write failed", "err", err)
	}
	return list, nil
}
