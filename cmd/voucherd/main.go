package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atikaazri/BirthdayCongrat/internal/api"
	"github.com/atikaazri/BirthdayCongrat/internal/config"
	"github.com/atikaazri/BirthdayCongrat/internal/ledger"
	"github.com/atikaazri/BirthdayCongrat/internal/lock"
	"github.com/atikaazri/BirthdayCongrat/internal/ratelimit"
	"github.com/atikaazri/BirthdayCongrat/internal/signature"
	"github.com/atikaazri/BirthdayCongrat/internal/token"
	"github.com/atikaazri/BirthdayCongrat/internal/voucher"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := buildService(ctx, cfg, log)
	if err != nil {
		log.Fatal("service init failed", zap.Error(err))
	}

	r := newRouter(cfg, svc, log)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// buildService assembles the voucher service. With a Redis address
// configured, the attempt window and the per-code redemption lock are shared
// across instances; without one, both are process-local, which is only safe
// while this process is the sole writer of the ledger file.
func buildService(ctx context.Context, cfg *config.Config, log *zap.Logger) (*voucher.Service, error) {
	engine, err := signature.New(cfg.Voucher.SecretKey)
	if err != nil {
		return nil, err
	}
	codec := token.NewCodec(engine, log)
	store := ledger.NewStore(cfg.Voucher.LedgerFile, cfg.Validity(), log)

	var (
		limiter ratelimit.Limiter
		locks   lock.Locker
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		limiter = ratelimit.NewRedis(rdb, cfg.RateLimit.MaxAttempts, cfg.RateLimit.WindowSec)
		locks = lock.NewRedis(rdb)
		log.Info("using shared Redis rate limiter and redemption lock",
			zap.String("addr", cfg.Redis.Addr))
	} else {
		limiter = ratelimit.NewMemory(cfg.RateLimit.MaxAttempts,
			time.Duration(cfg.RateLimit.WindowSec)*time.Second)
		locks = lock.NewMemory()
		log.Info("using process-local rate limiter and redemption lock")
	}

	return voucher.NewService(store, codec, limiter, locks, cfg.Validity(), log), nil
}

func newRouter(cfg *config.Config, svc api.VoucherService, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	ipLimit := api.NewIPRateLimiter(rate.Limit(cfg.Server.RedeemPerSec), cfg.Server.RedeemBurst)
	grp := r.Group("/api")
	pub := grp.Group("", ipLimit.Limit())
	admin := grp.Group("", api.AdminAuth(cfg.Server.AdminAPIKey))
	api.NewHandler(svc, log).Register(pub, admin)
	return r
}
