package order

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bosquejun/flashdrop/internal/cache"
	"github.com/bosquejun/flashdrop/internal/model"
	"github.com/bosquejun/flashdrop/internal/obs"
	"github.com/bosquejun/flashdrop/internal/stream"
)

// stockReconciler applies the aggregated decrement to the system of
// record's denormalized stock snapshot.
type stockReconciler interface {
	DecrementAvailableStock(ctx context.Context, sku string, quantity int64) error
}

// Reconciler drains order.completed batches: one available_stock decrement
// per SKU per batch, plus invalidation of the affected buyers' order
// caches. Batching amortizes the reconciliation writes under burst load.
type Reconciler struct {
	products stockReconciler
	cache    entityCache
}

func NewReconciler(products stockReconciler, c entityCache) *Reconciler {
	return &Reconciler{products: products, cache: c}
}

// Register wires the reconciler onto the order stream.
func (r *Reconciler) Register(st *stream.Stream) {
	st.On(ActionCompleted, r.handleCompleted)
}

func (r *Reconciler) handleCompleted(ctx context.Context, batch []stream.Event) error {
	// De-duplicate by payment reference (unique per order) so a batch that
	// echoes the same order twice decrements once. Redelivery of a batch
	// that already half-applied can still double-decrement once; that is a
	// logged anomaly, not a correctness guarantee.
	seen := make(map[string]bool, len(batch))
	perSKU := make(map[string]int64)
	cacheKeys := make(map[string]bool)

	for _, ev := range batch {
		var o model.Order
		if err := json.Unmarshal(ev.Payload, &o); err != nil {
			obs.Logger.Warn("reconciler skipping undecodable order event", "id", ev.ID, "err", err)
			continue
		}
		if o.SKU == "" || o.Quantity <= 0 {
			obs.Logger.Warn("reconciler skipping invalid order event", "id", ev.ID, "sku", o.SKU)
			continue
		}
		if o.PaymentReference != "" && seen[o.PaymentReference] {
			continue
		}
		seen[o.PaymentReference] = true

		perSKU[o.SKU] += o.Quantity
		cacheKeys[cache.OrderKey(o.BuyerID, o.SKU)] = true
		cacheKeys[cache.OrderListKey(o.BuyerID)] = true
		cacheKeys[cache.SaleStatusKey(o.SKU)] = true
	}

	var firstErr error
	for sku, qty := range perSKU {
		if err := r.products.DecrementAvailableStock(ctx, sku, qty); err != nil {
			obs.Logger.Warn("stock reconciliation failed, batch will be redelivered",
				"sku", sku, "quantity", qty, "err", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("reconcile %s: %w", sku, err)
			}
			continue
		}
		obs.Logger.Info("stock reconciled", "sku", sku, "quantity", qty)
	}
	if firstErr != nil {
		// No ack: the stream redelivers the batch.
		return firstErr
	}

	keys := make([]string, 0, len(cacheKeys))
	for k := range cacheKeys {
		keys = append(keys, k)
	}
	if err := r.cache.Delete(ctx, keys...); err != nil {
		// Invalidation failure is not worth a redelivery (which would
		// re-decrement); stale entries age out with the TTL.
		obs.Logger.Warn("order cache invalidation failed", "keys", len(keys), "err", err)
	}
	return nil
}
