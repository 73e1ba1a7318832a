package reserve

import (
	"context"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReserve: atomic "read buyer count, read stock, decide, mutate both".
// KEYS[1]=stock key, KEYS[2]=buyers hash; ARGV[1]=buyer, ARGV[2]=quantity,
// ARGV[3]=per-user limit.
// Returns -1 when the limit would be exceeded, -2 when stock is short,
// otherwise the stock level after the decrement.
const luaReserve = `
local stockKey = KEYS[1]
local buyersKey = KEYS[2]
local buyer = ARGV[1]
local qty = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local bought = tonumber(redis.call('HGET', buyersKey, buyer) or '0')
if bought + qty > limit then
  return -1
end

local stock = tonumber(redis.call('GET', stockKey) or '0')
if stock < qty then
  return -2
end

redis.call('DECRBY', stockKey, qty)
redis.call('HINCRBY', buyersKey, buyer, qty)
return stock - qty
`

// luaRelease: compensating rollback. Returns quantity to stock and lowers
// the buyer's count, floored at zero. Returns the stock level after the
// increment.
const luaRelease = `
local stockKey = KEYS[1]
local buyersKey = KEYS[2]
local buyer = ARGV[1]
local qty = tonumber(ARGV[2])

local stock = redis.call('INCRBY', stockKey, qty)
local bought = tonumber(redis.call('HGET', buyersKey, buyer) or '0')
if bought <= qty then
  redis.call('HDEL', buyersKey, buyer)
else
  redis.call('HINCRBY', buyersKey, buyer, -qty)
end
return stock
`

var (
	reserveScript = rd.NewScript(luaReserve)
	releaseScript = rd.NewScript(luaRelease)
)

// RedisStore runs the reservation scripts against Redis.
type RedisStore struct {
	rdb *rd.Client
}

func NewRedisStore(rdb *rd.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Reserve(ctx context.Context, sku, buyer string, quantity, limit int64) (Result, error) {
	if quantity < 1 {
		return Result{}, fmt.Errorf("reserve: quantity must be >= 1, got %d", quantity)
	}
	if limit < 0 {
		return Result{}, fmt.Errorf("reserve: limit must be >= 0, got %d", limit)
	}

	keys := []string{StockKey(sku), BuyersKey(sku)}
	res, err := reserveScript.Run(ctx, s.rdb, keys, buyer, quantity, limit).Int64()
	if err != nil {
		// Fail closed: an unreachable store is a hard error, not OUT_OF_STOCK.
		return Result{}, fmt.Errorf("reserve %s: %w", sku, err)
	}

	switch res {
	case -1:
		return Result{Status: StatusLimitExceeded}, nil
	case -2:
		return Result{Status: StatusOutOfStock}, nil
	default:
		return Result{Status: StatusReserved, NewStock: res}, nil
	}
}

func (s *RedisStore) Release(ctx context.Context, sku, buyer string, quantity int64) (int64, error) {
	if quantity < 1 {
		return 0, fmt.Errorf("release: quantity must be >= 1, got %d", quantity)
	}
	keys := []string{StockKey(sku), BuyersKey(sku)}
	stock, err := releaseScript.Run(ctx, s.rdb, keys, buyer, quantity).Int64()
	if err != nil {
		return 0, fmt.Errorf("release %s: %w", sku, err)
	}
	return stock, nil
}

// Prime seeds the counters for a sale window. Counters outlive the window
// by whatever margin the caller bakes into expireAt so late reconciliation
// still sees them.
func (s *RedisStore) Prime(ctx context.Context, sku string, available, total int64, expireAt time.Time) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, StockKey(sku), available, 0)
	pipe.Set(ctx, TotalKey(sku), total, 0)
	// Recreate the buyers hash with a zero sentinel so its expiry can be set
	// up front; a zero field does not affect the conservation sum.
	pipe.Del(ctx, BuyersKey(sku))
	pipe.HSet(ctx, BuyersKey(sku), sku, 0)
	pipe.PExpireAt(ctx, StockKey(sku), expireAt)
	pipe.PExpireAt(ctx, TotalKey(sku), expireAt)
	pipe.PExpireAt(ctx, BuyersKey(sku), expireAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("prime %s: %w", sku, err)
	}
	return nil
}

func (s *RedisStore) Stock(ctx context.Context, sku string) (int64, bool, error) {
	val, err := s.rdb.Get(ctx, StockKey(sku)).Int64()
	if err != nil {
		if err == rd.Nil {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stock %s: %w", sku, err)
	}
	return val, true, nil
}
