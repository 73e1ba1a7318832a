package cache

import (
	"fmt"
	"hash/fnv"
)

// ProductKey caches a single product document.
func ProductKey(sku string) string {
	return fmt.Sprintf("product:%s", sku)
}

// ProductListKey caches the full product listing.
func ProductListKey() string {
	return "products:list:all"
}

// SaleStatusKey caches the frequently-polled sale-status projection.
func SaleStatusKey(sku string) string {
	return fmt.Sprintf("product:%s:sale-status", sku)
}

// OrderKey caches a single (buyer, sku) order lookup. The pair is hashed so
// arbitrary buyer ids produce a fixed-shape key.
func OrderKey(buyerID, sku string) string {
	return fmt.Sprintf("order:%s", pairHash(buyerID, sku))
}

// OrderListKey caches a buyer's order listing.
func OrderListKey(buyerID string) string {
	return fmt.Sprintf("orders:list:%s", buyerID)
}

func pairHash(a, b string) string {
	h := fnv.New64a()
	h.Write([]byte(a))
	h.Write([]byte{0})
	h.Write([]byte(b))
	return fmt.Sprintf("%016x", h.Sum64())
}
