package reserve

import "fmt"

// The {sku} hash tag keeps a SKU's stock and buyers keys in the same Redis
// Cluster slot so the scripts can touch both.

// StockKey is the live available-stock counter for a SKU.
func StockKey(sku string) string {
	return fmt.Sprintf("product:{%s}:stock", sku)
}

// BuyersKey is the hash of buyer id -> cumulative reserved quantity.
func BuyersKey(sku string) string {
	return fmt.Sprintf("product:{%s}:buyers", sku)
}

// TotalKey holds the immutable total stock for the sale, primed alongside
// the counter for observability.
func TotalKey(sku string) string {
	return fmt.Sprintf("product:{%s}:total", sku)
}
