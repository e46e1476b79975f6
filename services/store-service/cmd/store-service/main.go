package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/servicebook/libs/config"
	"github.com/md-rashed-zaman/servicebook/libs/db"
	"github.com/md-rashed-zaman/servicebook/libs/httpx"
	"github.com/md-rashed-zaman/servicebook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/servicebook/libs/otel"
	"github.com/md-rashed-zaman/servicebook/libs/runtime"
	"github.com/md-rashed-zaman/servicebook/services/store-service/internal/handlers"
	"github.com/md-rashed-zaman/servicebook/services/store-service/internal/outbox"
	"github.com/md-rashed-zaman/servicebook/services/store-service/internal/service"
	"github.com/md-rashed-zaman/servicebook/services/store-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	ServiceName string `env:"SERVICE_NAME" env-default:"store-service" env-description:"service name used in logs and traces"`
	Port        string `env:"PORT" env-default:"8090" env-description:"HTTP listen port"`
	Driver      string `env:"STORE_DRIVER" env-default:"postgres" env-description:"postgres or memory"`
	DatabaseURL string `env:"DATABASE_URL" env-description:"postgres connection string (required for the postgres driver)"`
	Migrate     bool   `env:"DB_MIGRATE" env-default:"true" env-description:"apply the schema on startup"`

	DBMaxConns int32 `env:"DB_MAX_CONNS" env-default:"10"`
	DBMinConns int32 `env:"DB_MIN_CONNS" env-default:"1"`

	RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" env-default:"10s"`
	BodyLimit      int64         `env:"HTTP_BODY_LIMIT" env-default:"1048576"`
	ShutdownGrace  time.Duration `env:"SHUTDOWN_GRACE" env-default:"10s"`

	Outbox outbox.PublisherConfig
}

func main() {
	var cfg Config
	help := flag.Bool("h", false, "print the environment variables this service reads")
	flag.Parse()
	if *help {
		fmt.Println(config.Usage(&cfg))
		return
	}
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}
	if _, err := config.Port("PORT", cfg.Port); err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.ServiceName)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.ServiceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	var (
		store  service.Store
		checks []runtime.ReadyCheck
	)
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart and no events are published")
		store = storage.NewMemory()
	case "postgres":
		if cfg.DatabaseURL == "" {
			logger.Error("DATABASE_URL is required for the postgres driver")
			os.Exit(1)
		}
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		if cfg.Migrate {
			if err := storage.Migrate(ctx, pool); err != nil {
				logger.Error("schema migration failed", "err", err)
				os.Exit(1)
			}
		}
		outboxRepo := outbox.NewRepository()
		store = storage.NewStore(pool, outboxRepo)

		publisher := outbox.NewPublisher(pool, outboxRepo, logger, cfg.Outbox)
		g.Go(func() error {
			publisher.Run(gctx)
			return nil
		})
		checks = append(checks,
			runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
			runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.Outbox.Brokers)},
		)
	default:
		logger.Error("unknown STORE_DRIVER", "driver", cfg.Driver)
		os.Exit(1)
	}

	svc := service.New(store, logger)
	router := runtime.NewRouter(checks...)
	handlers.NewStoreHandler(svc, logger).Register(router)

	httpHandler := httpx.Chain(router,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(cfg.BodyLimit),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(httpHandler, "store"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		return runtime.Serve(gctx, logger, srv, cfg.ShutdownGrace)
	})

	if err := g.Wait(); err != nil {
		logger.Error("store-service stopped with error", "err", err)
		os.Exit(1)
	}
}
