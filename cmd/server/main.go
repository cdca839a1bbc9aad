package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dropmail/backend/internal/auth/jwt"
	"dropmail/backend/internal/config"
	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/health"
	"dropmail/backend/internal/logger"
	"dropmail/backend/internal/middleware"
	"dropmail/backend/internal/mimeparse"
	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/objectstore"
	"dropmail/backend/internal/objectstore/filesystem"
	"dropmail/backend/internal/objectstore/s3"
	"dropmail/backend/internal/service"
	"dropmail/backend/internal/smtp"
	"dropmail/backend/internal/storage"
	"dropmail/backend/internal/storage/hybrid"
	"dropmail/backend/internal/storage/memory"
	"dropmail/backend/internal/storage/mongo"
	"dropmail/backend/internal/storage/postgres"
	"dropmail/backend/internal/storage/redis"
	httptransport "dropmail/backend/internal/transport/http"
)

// 本地原始邮件的保留时长，覆盖最长的地址有效期
var rawRetention = domain.Duration24Hours.Offset()

// main 启动 HTTP API、可选的 SMTP 入口与过期清理任务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.New(cfg.Log, "dropmail-api")
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting dropmail server",
		zap.String("domain", cfg.Mail.Domain),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := initializeStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}
	}()

	metrics := monitoring.NewMetrics()

	healthChecker := health.NewHealthChecker(log)
	healthChecker.AddReadiness("storage", store)

	// 原始邮件对象存储：配置了 bucket 时使用 S3，否则使用本地目录
	var objects objectstore.Store
	var rawDir *filesystem.Store
	if cfg.ObjectStore.Bucket != "" {
		s3Store, err := s3.New(ctx, cfg.ObjectStore, log)
		if err != nil {
			log.Fatal("failed to initialize s3 object store", zap.Error(err))
		}
		s3Store.SetMaxBytes(int64(cfg.Ingest.MaxRawBytes))
		objects = s3Store
		log.Info("using s3 object store", zap.String("bucket", s3Store.Bucket()))
	} else {
		rawDir, err = filesystem.NewStore(cfg.ObjectStore.RawDir, log)
		if err != nil {
			log.Fatal("failed to initialize raw mail directory", zap.Error(err))
		}
		objects = rawDir
		log.Info("using filesystem object store", zap.String("path", rawDir.BasePath()))
	}

	addresses := service.NewAddressService(store, cfg.Mail.Domain, log, metrics)
	inbox := service.NewInboxService(store, addresses, log, metrics)
	ingest := service.NewIngestService(objects, mimeparse.New(log), addresses, store, log,
		service.WithMaxRawBytes(cfg.Ingest.MaxRawBytes),
		service.WithIngestMetrics(metrics),
	)

	var tokens *jwt.Manager
	if cfg.Ingest.APISecret != "" {
		tokens = jwt.NewManager(cfg.Ingest.APISecret, cfg.Ingest.TokenIssuer, 0)
	}
	if cfg.Ingest.AllowUnauthenticated {
		log.Warn("ingest endpoint accepts unauthenticated requests")
	}
	triggerAuth := middleware.NewTriggerAuth(tokens, cfg.Ingest.AllowUnauthenticated, log)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:      cfg,
		Addresses:   addresses,
		Inbox:       inbox,
		Ingest:      ingest,
		TriggerAuth: triggerAuth,
		Metrics:     metrics,
		Health:      healthChecker,
		Logger:      log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var smtpServer *gosmtp.Server
	if cfg.SMTP.Enabled {
		limiter := smtp.NewConnectionLimiter(cfg.SMTP.MaxConns, cfg.SMTP.MaxRate)
		backend := smtp.NewBackend(addresses, objects, ingest, limiter, log, metrics)
		smtpServer = smtp.NewServer(backend, cfg.SMTP)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// SMTP 服务器 goroutine
	if smtpServer != nil {
		group.Go(func() error {
			log.Info("starting SMTP server",
				zap.String("address", cfg.SMTP.BindAddr),
				zap.String("domain", cfg.SMTP.Domain),
			)
			if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
				log.Error("SMTP server error", zap.Error(err))
				return err
			}
			return nil
		})
	}

	// 定时清理过期地址、邮件与本地原始邮件
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Cleanup.Interval)
		defer ticker.Stop()

		log.Info("starting expired data cleanup task", zap.Duration("interval", cfg.Cleanup.Interval))

		for {
			select {
			case <-groupCtx.Done():
				log.Info("cleanup task stopped")
				return nil
			case <-ticker.C:
				purgeExpired(groupCtx, addresses, inbox, rawDir, log)
			}
		}
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if smtpServer != nil {
			if err := smtpServer.Shutdown(shutdownCtx); err != nil {
				log.Warn("SMTP server shutdown warning", zap.Error(err))
			}
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// initializeStorage 按配置选择存储后端，启用 Redis 时包装为带地址缓存的混合存储
func initializeStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	var primary storage.Store

	switch strings.ToLower(cfg.Database.Type) {
	case "", "memory":
		primary = memory.NewStore()
		log.Info("using memory storage (development mode)")
	case "postgres", "postgresql":
		store, err := postgres.NewStore(cfg.Database.DSN, sqlOptions(cfg.Database))
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		primary = store
		log.Info("using postgres storage")
	case "mysql":
		store, err := postgres.NewMySQLStore(cfg.Database.DSN, sqlOptions(cfg.Database))
		if err != nil {
			return nil, fmt.Errorf("mysql: %w", err)
		}
		primary = store
		log.Info("using mysql storage")
	case "mongo", "mongodb":
		store, err := mongo.Open(ctx, cfg.Database.DSN, cfg.Database.Name, log)
		if err != nil {
			return nil, fmt.Errorf("mongo: %w", err)
		}
		primary = store
		log.Info("using mongodb storage")
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}

	if !cfg.Redis.Enabled {
		return primary, nil
	}

	client, err := redis.New(ctx, &cfg.Redis, log)
	if err != nil {
		_ = primary.Close()
		return nil, err
	}
	log.Info("address cache enabled",
		zap.String("redis", cfg.Redis.Address),
		zap.Duration("ttl", cfg.Redis.CacheTTL),
	)
	return hybrid.NewStore(primary, redis.NewAddressCache(client, cfg.Redis.CacheTTL), log), nil
}

func sqlOptions(db config.DatabaseConfig) postgres.Options {
	return postgres.Options{
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
	}
}

// purgeExpired 执行一轮清理，单项失败只记录日志
func purgeExpired(ctx context.Context, addresses *service.AddressService, inbox *service.InboxService, rawDir *filesystem.Store, log *zap.Logger) {
	if n, err := addresses.PurgeExpired(ctx); err != nil {
		log.Error("failed to purge expired addresses", zap.Error(err))
	} else if n > 0 {
		log.Info("expired addresses purged", zap.Int("count", n))
	}

	if n, err := inbox.PurgeExpired(ctx); err != nil {
		log.Error("failed to purge expired messages", zap.Error(err))
	} else if n > 0 {
		log.Info("expired messages purged", zap.Int("count", n))
	}

	if rawDir == nil {
		return
	}
	if n, err := rawDir.CleanupOlderThan(ctx, time.Now().Add(-rawRetention)); err != nil {
		log.Error("failed to cleanup raw mail files", zap.Error(err))
	} else if n > 0 {
		log.Info("raw mail files removed", zap.Int("count", n))
	}
}
