package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"

	"github.com/bosquejun/flashdrop/internal/apperr"
)

// buyerCookie carries the opaque buyer identity across requests. Identity
// resolution proper is out of scope; this is just a stable per-caller id.
const (
	buyerCookie  = "flashdrop_uid"
	buyerHeader  = "X-User-Id"
	buyerCtxKey  = "buyerID"
	adminHeader  = "X-Admin-Token"
	cookieMaxAge = 30 * 24 * 60 * 60
)

// buyerID returns the identity resolved for this request.
func buyerID(c *gin.Context) string {
	return c.GetString(buyerCtxKey)
}

// requireBuyer resolves the buyer identity from the session cookie or the
// X-User-Id header and rejects the request when neither is present.
func requireBuyer() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Cookie(buyerCookie)
		if id == "" {
			id = c.GetHeader(buyerHeader)
		}
		if id == "" {
			abort(c, apperr.New(http.StatusUnauthorized, apperr.CodeUnauthorized, "missing buyer identity"))
			return
		}
		c.Set(buyerCtxKey, id)
		c.Next()
	}
}

// requireAdmin gates the admin surface behind a static token.
func requireAdmin(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(adminHeader) != token {
			abort(c, apperr.New(http.StatusUnauthorized, apperr.CodeUnauthorized, "invalid admin token"))
			return
		}
		c.Next()
	}
}

// session issues the buyer cookie, reusing an existing one.
func session() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Cookie(buyerCookie)
		if id == "" {
			id = uuid.New().String()
			c.SetCookie(buyerCookie, id, cookieMaxAge, "/", "", false, true)
		}
		ok(c, http.StatusOK, gin.H{"userId": id})
	}
}

// luaRateLimit implements a sliding-window counter in one atomic step.
// KEYS[1]=window key; ARGV: now, window start, window seconds, member,
// limit. Returns -1 when the caller is over the limit.
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)
if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
else
  return -1
end
`

var rateLimitScript = rd.NewScript(luaRateLimit)

// rateLimit applies the sliding-window limit per buyer, falling back to the
// client IP when no identity was resolved. A Redis failure lets the request
// through: rate limiting degrades before availability does.
func rateLimit(rdb *rd.Client, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := buyerID(c)
		var key string
		if subject != "" {
			key = fmt.Sprintf("rate_limit:orders:user:%s", subject)
		} else {
			key = fmt.Sprintf("rate_limit:orders:ip:%s", c.ClientIP())
		}

		now := time.Now().Unix()
		windowSec := int64(window.Seconds())
		member := fmt.Sprintf("%d-%d", now, time.Now().UnixNano())

		res, err := rateLimitScript.Run(c.Request.Context(), rdb, []string{key},
			now, now-windowSec, windowSec, member, limit).Int()
		if err != nil {
			c.Next()
			return
		}
		if res < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   errorBody{Code: "RATE_LIMITED", Message: "too many requests, slow down"},
			})
			return
		}
		c.Next()
	}
}
