package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/servicebook/libs/auth"
	"github.com/md-rashed-zaman/servicebook/libs/config"
	"github.com/md-rashed-zaman/servicebook/libs/httpx"
	"github.com/md-rashed-zaman/servicebook/libs/kafkax"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
	otelx "github.com/md-rashed-zaman/servicebook/libs/otel"
	"github.com/md-rashed-zaman/servicebook/libs/runtime"
	"github.com/md-rashed-zaman/servicebook/services/booking-service/internal/access"
	"github.com/md-rashed-zaman/servicebook/services/booking-service/internal/aggregator"
	"github.com/md-rashed-zaman/servicebook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/servicebook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/servicebook/services/booking-service/internal/profiles"
	"github.com/md-rashed-zaman/servicebook/services/booking-service/internal/storeclient"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

//go:embed assets/booking.v1.yaml
var openAPISpec embed.FS

type Config struct {
	ServiceName string `env:"SERVICE_NAME" env-default:"booking-service" env-description:"service name used in logs and traces"`
	Port        string `env:"PORT" env-default:"8083" env-description:"HTTP listen port"`

	Store  storeclient.Config
	Access access.Options
	Events events.Config

	ProfileAddr    string        `env:"PROFILE_GRPC_ADDR" env-description:"profile directory address; empty serves placeholder profiles"`
	ProfileTimeout time.Duration `env:"PROFILE_TIMEOUT" env-default:"2s"`

	JWTSecret string        `env:"JWT_SECRET" env-description:"HS256 secret; ignored when JWKS_URL is set"`
	JWKSURL   string        `env:"JWKS_URL" env-description:"RS256 key set of the identity provider"`
	JWKSTTL   time.Duration `env:"JWKS_CACHE_TTL" env-default:"5m"`

	DisplayTZ   string        `env:"DISPLAY_TZ" env-default:"UTC" env-description:"zone used for booking dates and times in responses"`
	SessionIdle time.Duration `env:"SESSION_IDLE" env-default:"30m" env-description:"drop consumer sessions unused for this long"`

	RedisAddr      string        `env:"REDIS_ADDR" env-description:"shared rate limit store; empty limits per replica"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" env-default:"0"`
	RateLimit      int           `env:"RATE_LIMIT_PER_MINUTE" env-default:"120"`
	RateLimitOpen  bool          `env:"RATE_LIMIT_FAIL_OPEN" env-default:"true"`
	RateLimitKey   string        `env:"RATE_LIMIT_PREFIX" env-default:"rl:booking"`
	CORS           httpx.CORSPolicy
	RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" env-default:"15s"`
	BodyLimit      int64         `env:"HTTP_BODY_LIMIT" env-default:"1048576"`
	ShutdownGrace  time.Duration `env:"SHUTDOWN_GRACE" env-default:"10s"`
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

	loc, err := time.LoadLocation(cfg.DisplayTZ)
	if err != nil {
		logger.Error("invalid DISPLAY_TZ", "tz", cfg.DisplayTZ, "err", err)
		os.Exit(1)
	}

	verifier, err := newVerifier(cfg)
	if err != nil {
		logger.Error("auth setup failed", "err", err)
		os.Exit(1)
	}

	var directory profiles.Directory = profiles.NewStatic()
	if addr := strings.TrimSpace(cfg.ProfileAddr); addr != "" {
		client, err := profiles.NewClient(addr, cfg.ProfileTimeout)
		if err != nil {
			logger.Error("profile client init failed; using placeholders", "err", err)
		} else {
			defer client.Close()
			directory = client
		}
	}

	store := storeclient.New(cfg.Store, nil)
	sessions := aggregator.NewSessions(func(actor lifecycle.Actor) *aggregator.Aggregator {
		return aggregator.New(actor, store, access.New(logger, cfg.Access), logger,
			aggregator.WithLocation(loc),
			aggregator.WithProfiles(directory),
		)
	})

	checks := []runtime.ReadyCheck{{Name: "store", Check: storeReady(cfg.Store.BaseURL)}}
	if strings.TrimSpace(cfg.Events.Brokers) != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.Events.Brokers)})
	}
	rateLimitMW, closeLimiter := newRateLimiter(cfg, logger, &checks)
	defer closeLimiter()

	router := runtime.NewRouter(checks...)
	router.Get("/openapi", func(w http.ResponseWriter, _ *http.Request) {
		data, err := openAPISpec.ReadFile("assets/booking.v1.yaml")
		if err != nil {
			http.Error(w, "openapi not available", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(data)
	})
	handlers.NewBookingHandler(sessions, logger).Register(router, verifier)

	httpHandler := httpx.Chain(router,
		httpx.WithCORS(cfg.CORS),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(cfg.BodyLimit),
		httpx.WithTimeout(cfg.RequestTimeout),
		rateLimitMW,
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(httpHandler, "booking"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runtime.Serve(gctx, logger, srv, cfg.ShutdownGrace)
	})
	g.Go(func() error {
		evictIdle(gctx, logger, sessions, cfg.SessionIdle)
		return nil
	})
	consumer := events.New(logger, cfg.Events, events.SessionUpdates(sessions, logger))
	g.Go(func() error {
		consumer.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("booking-service stopped with error", "err", err)
		os.Exit(1)
	}
}

func newVerifier(cfg Config) (auth.Verifier, error) {
	if url := strings.TrimSpace(cfg.JWKSURL); url != "" {
		return auth.RS256Verifier{Keys: auth.NewJWKSClient(url, cfg.JWKSTTL, nil)}, nil
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("one of JWT_SECRET or JWKS_URL is required")
	}
	return auth.HS256Verifier{Secret: cfg.JWTSecret}, nil
}

// newRateLimiter prefers the shared Redis limiter and falls back to a per-replica one.
func newRateLimiter(cfg Config, logger *slog.Logger, checks *[]runtime.ReadyCheck) (httpx.Middleware, func()) {
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		*checks = append(*checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		rl := httpx.NewRedisRateLimiter(rdb, cfg.RateLimit, time.Minute, cfg.RateLimitKey, nil)
		logger.Info("rate limiting enabled (redis)", "per_minute", cfg.RateLimit, "redis_addr", addr)
		return rl.Middleware(logger, cfg.RateLimitOpen), func() { _ = rdb.Close() }
	}
	rl := httpx.NewRateLimiter(cfg.RateLimit, time.Minute, nil)
	logger.Info("rate limiting enabled (in-memory)", "per_minute", cfg.RateLimit)
	return rl.Middleware(), func() {}
}

func storeReady(baseURL string) func(context.Context) error {
	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	url := strings.TrimRight(baseURL, "/") + "/healthz"
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("store health returned %d", resp.StatusCode)
		}
		return nil
	}
}

func evictIdle(ctx context.Context, logger *slog.Logger, sessions *aggregator.Sessions, idle time.Duration) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Evict(idle); n > 0 {
				logger.Debug("idle sessions dropped", "count", n, "remaining", sessions.Len())
			}
		}
	}
}
