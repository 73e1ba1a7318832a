package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bosquejun/flashdrop/internal/cache"
	"github.com/bosquejun/flashdrop/internal/config"
	"github.com/bosquejun/flashdrop/internal/httpapi"
	"github.com/bosquejun/flashdrop/internal/model"
	"github.com/bosquejun/flashdrop/internal/obs"
	"github.com/bosquejun/flashdrop/internal/order"
	"github.com/bosquejun/flashdrop/internal/product"
	"github.com/bosquejun/flashdrop/internal/relay"
	"github.com/bosquejun/flashdrop/internal/reserve"
	"github.com/bosquejun/flashdrop/internal/store"
	"github.com/bosquejun/flashdrop/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	obs.InitLogger(cfg.LogLevel)

	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	if err := db.AutoMigrate(&model.Product{}, &model.Order{}); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := cache.New(rdb)
	counters := reserve.NewRedisStore(rdb)
	productStore := store.NewProductStore(db)
	orderStore := store.NewOrderStore(db)

	orderStream := stream.New(rdb, order.Domain, cfg.OrderStreamGroup)
	productStream := stream.New(rdb, product.Domain, cfg.ProductStreamGroup)

	productSvc := product.NewService(productStore, c, counters, productStream,
		cfg.EntityCacheTTL, cfg.SaleStatusTTL)
	orderSvc := order.NewService(productSvc, orderStore, counters, orderStream,
		c, cfg.EntityCacheTTL)

	// Background consumers: reconciliation + cache invalidation run for the
	// process lifetime, blocking only on the stream for new messages.
	order.NewReconciler(productStore, c).Register(orderStream)
	productSvc.RegisterInvalidators(productStream)
	go orderStream.Listen(ctx, cfg.StreamBatchSize)
	go productStream.Listen(ctx, cfg.StreamBatchSize)

	if cfg.RelayEnabled {
		producer := relay.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		relayStream := stream.New(rdb, order.Domain, cfg.RelayGroup)
		relay.New(producer).Register(relayStream)
		go relayStream.Listen(ctx, cfg.StreamBatchSize)
	}

	r := gin.Default()
	httpapi.Setup(r, httpapi.Deps{
		Products: productSvc,
		Orders:   orderSvc,
		RDB:      rdb,
		Cfg:      cfg,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		obs.Logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http serve: %v", err)
		}
	}()

	<-ctx.Done()
	obs.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obs.Logger.Error("http shutdown", "err", err)
	}
}
