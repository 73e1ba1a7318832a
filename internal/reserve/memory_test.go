package reserve

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func primed(t *testing.T, sku string, stock int64) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	if err := s.Prime(context.Background(), sku, stock, stock, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("prime: %v", err)
	}
	return s
}

func TestReserveHappyPath(t *testing.T) {
	s := primed(t, "SKU-1", 5)

	res, err := s.Reserve(context.Background(), "SKU-1", "buyer-a", 2, 3)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Status != StatusReserved {
		t.Fatalf("status = %v, want RESERVED", res.Status)
	}
	if res.NewStock != 3 {
		t.Fatalf("new stock = %d, want 3", res.NewStock)
	}
	if got := s.BuyerCount("SKU-1", "buyer-a"); got != 2 {
		t.Fatalf("buyer count = %d, want 2", got)
	}
}

func TestReserveLimitExceeded(t *testing.T) {
	s := primed(t, "SKU-Y", 10)
	ctx := context.Background()

	res, err := s.Reserve(ctx, "SKU-Y", "buyer-a", 1, 2)
	if err != nil || res.Status != StatusReserved {
		t.Fatalf("first reserve = %v, %v", res.Status, err)
	}

	// 1 already held + 2 requested > limit 2.
	res, err = s.Reserve(ctx, "SKU-Y", "buyer-a", 2, 2)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if res.Status != StatusLimitExceeded {
		t.Fatalf("status = %v, want LIMIT_EXCEEDED", res.Status)
	}
	if got := s.BuyerCount("SKU-Y", "buyer-a"); got != 1 {
		t.Fatalf("buyer count after rejected attempt = %d, want 1", got)
	}
	if stock, _, _ := s.Stock(ctx, "SKU-Y"); stock != 9 {
		t.Fatalf("stock = %d, want 9 (no mutation on rejection)", stock)
	}
}

func TestReserveOutOfStock(t *testing.T) {
	s := primed(t, "SKU-2", 1)
	ctx := context.Background()

	if res, _ := s.Reserve(ctx, "SKU-2", "buyer-a", 2, 5); res.Status != StatusOutOfStock {
		t.Fatalf("status = %v, want OUT_OF_STOCK", res.Status)
	}
	if stock, _, _ := s.Stock(ctx, "SKU-2"); stock != 1 {
		t.Fatalf("stock = %d, want 1 (no mutation on rejection)", stock)
	}
}

func TestReserveLimitCheckedBeforeStock(t *testing.T) {
	// Limit rejection must win even when stock is also short, matching the
	// script's check order.
	s := primed(t, "SKU-3", 0)
	if res, _ := s.Reserve(context.Background(), "SKU-3", "buyer-a", 2, 1); res.Status != StatusLimitExceeded {
		t.Fatalf("status = %v, want LIMIT_EXCEEDED", res.Status)
	}
}

func TestReleaseRestoresCounters(t *testing.T) {
	s := primed(t, "SKU-4", 5)
	ctx := context.Background()

	if res, _ := s.Reserve(ctx, "SKU-4", "buyer-a", 2, 5); res.Status != StatusReserved {
		t.Fatalf("reserve failed")
	}

	stock, err := s.Release(ctx, "SKU-4", "buyer-a", 2)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if stock != 5 {
		t.Fatalf("stock after release = %d, want 5", stock)
	}
	if got := s.BuyerCount("SKU-4", "buyer-a"); got != 0 {
		t.Fatalf("buyer count after release = %d, want 0", got)
	}
}

func TestReleaseFloorsBuyerAtZero(t *testing.T) {
	s := primed(t, "SKU-5", 5)
	ctx := context.Background()

	if _, err := s.Release(ctx, "SKU-5", "ghost", 3); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := s.BuyerCount("SKU-5", "ghost"); got != 0 {
		t.Fatalf("buyer count = %d, want 0 (floored)", got)
	}
}

func TestConcurrentReserveNoOversell(t *testing.T) {
	const totalStock = 10
	s := primed(t, "SKU-X", totalStock)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var reserved int64

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			buyer := fmt.Sprintf("buyer-%d", n)
			res, err := s.Reserve(ctx, "SKU-X", buyer, 1, 1)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if res.Status == StatusReserved {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if reserved != totalStock {
		t.Fatalf("reserved = %d, want %d", reserved, totalStock)
	}
	stock, _, _ := s.Stock(ctx, "SKU-X")
	if stock != 0 {
		t.Fatalf("final stock = %d, want 0", stock)
	}
	if stock < 0 {
		t.Fatalf("stock went negative: %d", stock)
	}
}

func TestConcurrentSameBuyerRespectsLimit(t *testing.T) {
	const limit = 2
	s := primed(t, "SKU-L", 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Reserve(ctx, "SKU-L", "greedy", 1, limit)
		}()
	}
	wg.Wait()

	if got := s.BuyerCount("SKU-L", "greedy"); got != limit {
		t.Fatalf("buyer count = %d, want %d", got, limit)
	}
}

func TestConservationInvariant(t *testing.T) {
	const totalStock = 25
	s := primed(t, "SKU-C", totalStock)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			buyer := fmt.Sprintf("buyer-%d", n%40)
			res, err := s.Reserve(ctx, "SKU-C", buyer, 1, 2)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			// Release a third of successful reservations to exercise both
			// directions of the invariant.
			if res.Status == StatusReserved && n%3 == 0 {
				if _, err := s.Release(ctx, "SKU-C", buyer, 1); err != nil {
					t.Errorf("release: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	stock, _, _ := s.Stock(ctx, "SKU-C")
	if got := stock + s.ReservedTotal("SKU-C"); got != totalStock {
		t.Fatalf("stock(%d) + reserved(%d) = %d, want %d", stock, s.ReservedTotal("SKU-C"), got, totalStock)
	}
}

func TestTwoBuyersOneUnit(t *testing.T) {
	s := primed(t, "X", 1)
	ctx := context.Background()

	type outcome struct {
		res Result
		err error
	}
	results := make(chan outcome, 2)
	for _, buyer := range []string{"buyerA", "buyerB"} {
		go func(b string) {
			res, err := s.Reserve(ctx, "X", b, 1, 1)
			results <- outcome{res, err}
		}(buyer)
	}

	var reservedCount, outOfStockCount int
	for i := 0; i < 2; i++ {
		o := <-results
		if o.err != nil {
			t.Fatalf("reserve: %v", o.err)
		}
		switch o.res.Status {
		case StatusReserved:
			reservedCount++
		case StatusOutOfStock:
			outOfStockCount++
		}
	}

	if reservedCount != 1 || outOfStockCount != 1 {
		t.Fatalf("reserved=%d outOfStock=%d, want exactly one of each", reservedCount, outOfStockCount)
	}
	if stock, _, _ := s.Stock(ctx, "X"); stock != 0 {
		t.Fatalf("final stock = %d, want 0", stock)
	}
}
