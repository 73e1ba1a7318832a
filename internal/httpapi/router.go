package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"

	"github.com/bosquejun/flashdrop/internal/apperr"
	"github.com/bosquejun/flashdrop/internal/config"
	"github.com/bosquejun/flashdrop/internal/model"
	"github.com/bosquejun/flashdrop/internal/order"
	"github.com/bosquejun/flashdrop/internal/product"
)

// ProductAPI is the product surface the router exposes.
type ProductAPI interface {
	Get(ctx context.Context, sku string) (*model.Product, error)
	List(ctx context.Context) ([]model.Product, error)
	GetStock(ctx context.Context, sku string) (*product.Stock, error)
	GetSaleStatus(ctx context.Context, sku string) (*product.SaleStatus, error)
	Upsert(ctx context.Context, p *model.Product) error
	Prime(ctx context.Context, sku string) (*model.Product, error)
}

// OrderAPI is the order surface the router exposes.
type OrderAPI interface {
	Create(ctx context.Context, buyerID string, req order.CreateRequest) (*model.Order, error)
	Get(ctx context.Context, buyerID, sku string) (*model.Order, error)
	List(ctx context.Context, buyerID string) ([]model.Order, error)
}

// Deps carries everything Setup wires into the router. RDB may be nil, in
// which case the rate limiter is skipped (tests, local runs without Redis).
type Deps struct {
	Products ProductAPI
	Orders   OrderAPI
	RDB      *rd.Client
	Cfg      config.AppConfig
}

// Setup registers every HTTP route.
func Setup(r *gin.Engine, d Deps) {
	r.GET("/healthz", func(c *gin.Context) {
		ok(c, http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")

	v1.POST("/auth/session", session())

	v1.GET("/products", listProducts(d.Products))
	v1.GET("/products/:sku", getProduct(d.Products))
	v1.GET("/products/:sku/stock", getStock(d.Products))
	v1.GET("/products/:sku/sale-status", getSaleStatus(d.Products))

	orders := v1.Group("/orders", requireBuyer())
	if d.RDB != nil {
		orders.POST("", rateLimit(d.RDB, d.Cfg.BuyRateLimit, d.Cfg.BuyRateWindow), createOrder(d.Orders))
	} else {
		orders.POST("", createOrder(d.Orders))
	}
	orders.GET("", listOrders(d.Orders))
	orders.GET("/:sku", getOrder(d.Orders))

	admin := v1.Group("/admin", requireAdmin(d.Cfg.AdminToken))
	admin.PUT("/products/:sku", upsertProduct(d.Products))
	admin.POST("/products/:sku/prime", primeProduct(d.Products))
}

func listProducts(api ProductAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := api.List(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, list)
	}
}

func getProduct(api ProductAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := api.Get(c.Request.Context(), c.Param("sku"))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, p)
	}
}

func getStock(api ProductAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		stock, err := api.GetStock(c.Request.Context(), c.Param("sku"))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, stock)
	}
}

func getSaleStatus(api ProductAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := api.GetSaleStatus(c.Request.Context(), c.Param("sku"))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, status)
	}
}

func createOrder(api OrderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req order.CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.New(http.StatusBadRequest, apperr.CodeInvalidRequest, err.Error()))
			return
		}
		o, err := api.Create(c.Request.Context(), buyerID(c), req)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusCreated, o)
	}
}

func getOrder(api OrderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := api.Get(c.Request.Context(), buyerID(c), c.Param("sku"))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, o)
	}
}

func listOrders(api OrderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := api.List(c.Request.Context(), buyerID(c))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, list)
	}
}

type upsertProductRequest struct {
	Name           string `json:"name" binding:"required"`
	Description    string `json:"description"`
	Price          int64  `json:"price" binding:"required,min=1"`
	Currency       string `json:"currency"`
	ImageURL       string `json:"imageUrl"`
	TotalStock     int64  `json:"totalStock" binding:"required,min=1"`
	AvailableStock *int64 `json:"availableStock"`
	StartDate      string `json:"startDate" binding:"required"`
	EndDate        string `json:"endDate" binding:"required"`
	LimitPerUser   int64  `json:"limitPerUser"`
}

func upsertProduct(api ProductAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req upsertProductRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.New(http.StatusBadRequest, apperr.CodeInvalidRequest, err.Error()))
			return
		}
		start, err := time.Parse(time.RFC3339, req.StartDate)
		if err != nil {
			fail(c, apperr.New(http.StatusBadRequest, apperr.CodeInvalidRequest, "startDate must be RFC3339"))
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndDate)
		if err != nil {
			fail(c, apperr.New(http.StatusBadRequest, apperr.CodeInvalidRequest, "endDate must be RFC3339"))
			return
		}

		currency := req.Currency
		if currency == "" {
			currency = "USD"
		}
		available := req.TotalStock
		if req.AvailableStock != nil {
			available = *req.AvailableStock
		}

		p := &model.Product{
			SKU:            c.Param("sku"),
			Name:           req.Name,
			Description:    req.Description,
			Price:          req.Price,
			Currency:       currency,
			ImageURL:       req.ImageURL,
			TotalStock:     req.TotalStock,
			AvailableStock: available,
			StartDate:      start,
			EndDate:        end,
			LimitPerUser:   req.LimitPerUser,
		}
		if err := api.Upsert(c.Request.Context(), p); err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, p)
	}
}

func primeProduct(api ProductAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := api.Prime(c.Request.Context(), c.Param("sku"))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{
			"sku":            p.SKU,
			"availableStock": p.AvailableStock,
			"totalStock":     p.TotalStock,
		})
	}
}
