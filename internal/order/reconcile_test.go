package order

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bosquejun/flashdrop/internal/cache"
	"github.com/bosquejun/flashdrop/internal/model"
	"github.com/bosquejun/flashdrop/internal/stream"
)

type fakeStockReconciler struct {
	mu    sync.Mutex
	calls []decrementCall
	err   error
}

type decrementCall struct {
	sku string
	qty int64
}

func (f *fakeStockReconciler) DecrementAvailableStock(_ context.Context, sku string, qty int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, decrementCall{sku: sku, qty: qty})
	return nil
}

func completedEvent(t *testing.T, id, buyer, sku, payRef string, qty int64) stream.Event {
	t.Helper()
	raw, err := json.Marshal(&model.Order{
		BuyerID:          buyer,
		SKU:              sku,
		Quantity:         qty,
		Status:           model.OrderStatusCompleted,
		PaymentReference: payRef,
		PurchasedAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("marshal order: %v", err)
	}
	return stream.Event{ID: id, Payload: raw}
}

func TestReconcilerAggregatesPerSKU(t *testing.T) {
	products := &fakeStockReconciler{}
	c := newMemCache()
	r := NewReconciler(products, c)

	batch := []stream.Event{
		completedEvent(t, "1-0", "buyer-a", "Z", "pay-1", 1),
		completedEvent(t, "2-0", "buyer-b", "Z", "pay-2", 2),
		completedEvent(t, "3-0", "buyer-c", "Z", "pay-3", 1),
	}
	if err := r.handleCompleted(context.Background(), batch); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(products.calls) != 1 {
		t.Fatalf("decrement calls = %d, want 1 (batched)", len(products.calls))
	}
	if products.calls[0].sku != "Z" || products.calls[0].qty != 4 {
		t.Fatalf("decrement = %+v, want {Z 4}", products.calls[0])
	}
}

func TestReconcilerDeduplicatesByPaymentReference(t *testing.T) {
	products := &fakeStockReconciler{}
	r := NewReconciler(products, newMemCache())

	batch := []stream.Event{
		completedEvent(t, "1-0", "buyer-a", "Z", "pay-1", 2),
		completedEvent(t, "1-1", "buyer-a", "Z", "pay-1", 2), // redelivered duplicate
	}
	if err := r.handleCompleted(context.Background(), batch); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if products.calls[0].qty != 2 {
		t.Fatalf("decrement qty = %d, want 2 (duplicate ignored)", products.calls[0].qty)
	}
}

func TestReconcilerSplitsAcrossSKUs(t *testing.T) {
	products := &fakeStockReconciler{}
	r := NewReconciler(products, newMemCache())

	batch := []stream.Event{
		completedEvent(t, "1-0", "buyer-a", "A", "pay-1", 1),
		completedEvent(t, "2-0", "buyer-b", "B", "pay-2", 3),
	}
	if err := r.handleCompleted(context.Background(), batch); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got := map[string]int64{}
	for _, c := range products.calls {
		got[c.sku] = c.qty
	}
	if got["A"] != 1 || got["B"] != 3 {
		t.Fatalf("decrements = %v, want A:1 B:3", got)
	}
}

func TestReconcilerErrorLeavesBatchUnacked(t *testing.T) {
	products := &fakeStockReconciler{err: errors.New("db down")}
	r := NewReconciler(products, newMemCache())

	batch := []stream.Event{completedEvent(t, "1-0", "buyer-a", "Z", "pay-1", 1)}
	if err := r.handleCompleted(context.Background(), batch); err == nil {
		t.Fatalf("want error so the stream redelivers, got nil")
	}
}

func TestReconcilerInvalidatesBuyerCaches(t *testing.T) {
	products := &fakeStockReconciler{}
	c := newMemCache()
	r := NewReconciler(products, c)
	ctx := context.Background()

	// Pre-populate the caches the handler must clear.
	_ = c.SetJSON(ctx, cache.OrderListKey("buyer-a"), []model.Order{}, time.Hour)
	_ = c.SetJSON(ctx, cache.OrderKey("buyer-a", "Z"), &model.Order{}, time.Hour)

	batch := []stream.Event{completedEvent(t, "1-0", "buyer-a", "Z", "pay-1", 1)}
	if err := r.handleCompleted(ctx, batch); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var v any
	if hit, _ := c.GetJSON(ctx, cache.OrderListKey("buyer-a"), &v); hit {
		t.Fatalf("order list cache not invalidated")
	}
	if hit, _ := c.GetJSON(ctx, cache.OrderKey("buyer-a", "Z"), &v); hit {
		t.Fatalf("order cache not invalidated")
	}
}

func TestReconcilerSkipsGarbageEvents(t *testing.T) {
	products := &fakeStockReconciler{}
	r := NewReconciler(products, newMemCache())

	batch := []stream.Event{
		{ID: "1-0", Payload: json.RawMessage(`not-json`)},
		completedEvent(t, "2-0", "buyer-a", "Z", "pay-1", 1),
	}
	if err := r.handleCompleted(context.Background(), batch); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(products.calls) != 1 || products.calls[0].qty != 1 {
		t.Fatalf("decrements = %+v, want one {Z 1}", products.calls)
	}
}
