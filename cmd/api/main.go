// Command api runs the CoverBridge authentication service: Postgres-backed
// identity storage, Redis request throttling, Kafka audit shipping and the
// REST surface from internal/httpapi.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/coverbridge/auth-service/internal/audit"
	"github.com/coverbridge/auth-service/internal/auth"
	"github.com/coverbridge/auth-service/internal/config"
	"github.com/coverbridge/auth-service/internal/httpapi"
	"github.com/coverbridge/auth-service/internal/identity"
	"github.com/coverbridge/auth-service/internal/metrics"
	"github.com/coverbridge/auth-service/internal/metrics/otelexport"
	"github.com/coverbridge/auth-service/internal/mfa"
	"github.com/coverbridge/auth-service/internal/password"
	"github.com/coverbridge/auth-service/internal/pgstore"
	"github.com/coverbridge/auth-service/internal/rate"
	"github.com/coverbridge/auth-service/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting auth service", zap.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database pool", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping", zap.Error(err))
	}

	store := pgstore.New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("database schema", zap.Error(err))
	}
	for _, role := range defaultRoles() {
		if err := store.SeedRole(ctx, role); err != nil {
			logger.Fatal("seed role", zap.String("role", role.Name), zap.Error(err))
		}
	}

	var limiter *rate.Limiter
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
		limiter = rate.New(redisClient, rate.Config{
			EnableIPThrottle:   cfg.IPThrottle,
			MaxLoginAttempts:   cfg.LoginRateMax,
			LoginWindow:        cfg.LoginRateWindow,
			MaxResetRequests:   cfg.ResetRateMax,
			ResetWindow:        cfg.ResetRateWindow,
			MaxRegistrations:   cfg.RegisterRateMax,
			RegistrationWindow: cfg.RegisterRateWindow,
			MaxResends:         cfg.ResendRateMax,
			ResendWindow:       cfg.ResendRateWindow,
		})
	} else {
		logger.Warn("REDIS_ADDR unset, request throttling disabled")
	}

	sinks := audit.MultiSink{audit.NewLogSink(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := audit.NewSyncProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.Fatal("kafka producer", zap.Error(err))
		}
		defer producer.Close()
		sinks = append(sinks, audit.NewKafkaSink(producer, cfg.KafkaTopic, logger))
	}
	emitter := audit.NewEmitter(audit.Config{
		BufferSize: cfg.AuditBuffer,
		DropIfFull: cfg.AuditDropIfFull,
	}, sinks)
	defer emitter.Close()

	m := metrics.New(cfg.MetricsEnabled)
	if cfg.MetricsEnabled {
		meter := otel.Meter("github.com/coverbridge/auth-service")
		if _, err := otelexport.New(meter, statsSource{metrics: m, emitter: emitter}); err != nil {
			logger.Warn("otel export", zap.Error(err))
		}
	}

	hasher, err := password.NewHasher(password.DefaultParams())
	if err != nil {
		logger.Fatal("password hasher", zap.Error(err))
	}
	tokens, err := token.NewManager(token.Config{
		Secret:     []byte(cfg.TokenSecret),
		Issuer:     cfg.TokenIssuer,
		Audience:   cfg.TokenAudience,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		Leeway:     cfg.TokenLeeway,
	})
	if err != nil {
		logger.Fatal("token manager", zap.Error(err))
	}

	svc, err := auth.New(auth.Deps{
		Store:   store,
		Hasher:  hasher,
		Tokens:  tokens,
		TOTP:    mfa.NewTOTP(cfg.TOTPIssuer, nil),
		Limiter: limiter,
		Emitter: emitter,
		Metrics: m,
		Logger:  logger,
	}, auth.Config{
		LockoutThreshold: cfg.LockoutThreshold,
		LockoutDuration:  cfg.LockoutDuration,
		ResetTokenTTL:    cfg.ResetTokenTTL,
	})
	if err != nil {
		logger.Fatal("auth service", zap.Error(err))
	}

	server, err := httpapi.NewServer(httpapi.Deps{
		Service: svc,
		Tokens:  tokens,
		Metrics: m,
		Emitter: emitter,
		Logger:  logger,
	}, httpapi.Config{CORSOrigins: cfg.CORSOrigins})
	if err != nil {
		logger.Fatal("http server", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Argon2 verification makes login slower than a typical JSON
		// endpoint, so the write timeout is generous.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func buildLogger(cfg config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.Production() {
		zcfg = zap.NewProductionConfig()
	}
	if lvl, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

// defaultRoles is the catalog seeded at boot. Seeding upserts, so permission
// changes here reach existing deployments on restart.
func defaultRoles() []identity.Role {
	return []identity.Role{
		{Name: "admin", System: true, Permissions: []string{
			auth.PermUnlock, auth.PermSetStatus, "audit:read", "roles:write",
		}},
		{Name: "company", Permissions: []string{"companies:read", "companies:write", "plans:read", "portfolio:read"}},
		{Name: "broker", Permissions: []string{"brokers:read", "companies:read", "plans:read", "plans:quote"}},
		{Name: "provider", Permissions: []string{"providers:read", "plans:read", "claims:read"}},
		{Name: "member", Permissions: []string{"profile:read", "plans:read", "benefits:read"}},
	}
}

// statsSource feeds the OpenTelemetry bridge from the counter set and the
// audit emitter's drop count.
type statsSource struct {
	metrics *metrics.Metrics
	emitter *audit.Emitter
}

func (s statsSource) TakeSnapshot() metrics.Snapshot { return s.metrics.TakeSnapshot() }
func (s statsSource) AuditDropped() uint64           { return s.emitter.Dropped() }
