// Package main is the entry point for the contractor onboarding server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/capability"
	"github.com/pitabwire/onboard/internal/config"
	"github.com/pitabwire/onboard/internal/credential"
	"github.com/pitabwire/onboard/internal/document"
	"github.com/pitabwire/onboard/internal/idempotency"
	"github.com/pitabwire/onboard/internal/notify"
	"github.com/pitabwire/onboard/internal/observability"
	"github.com/pitabwire/onboard/internal/onboarding"
	"github.com/pitabwire/onboard/internal/signing"
	"github.com/pitabwire/onboard/internal/store"
	"github.com/pitabwire/onboard/internal/token"
	"github.com/pitabwire/onboard/internal/transport"
	"github.com/pitabwire/onboard/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

// stores groups the persistence backends selected by store.driver.
type stores struct {
	contractors  store.ContractorStore
	thirdParties store.ThirdPartyStore
	templates    store.TemplateStore
	credentials  store.CredentialStore
	health       observability.HealthChecker
	close        func()
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability, "onboard", version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "onboard", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Open stores.
	st, err := buildStores(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}
	defer st.close()

	// Step 5: Document storage and render retries.
	objects, err := buildObjectStore(ctx, cfg.Documents.Storage, logger)
	if err != nil {
		logger.Error("document storage initialization failed", zap.Error(err))
		return 1
	}
	retryQueue, retryCloser, err := buildRetryQueue(cfg.Documents.Retry, logger)
	if err != nil {
		logger.Error("render retry queue initialization failed", zap.Error(err))
		return 1
	}
	defer retryCloser()

	materializer := document.NewMaterializer(
		st.contractors, st.thirdParties,
		document.NewPDFRenderer(objects),
		retryQueue,
		logger.Named("documents"),
		metrics,
	)

	// Step 6: Build services.
	notifier := metrics.InstrumentNotifier(buildNotifier(cfg.Notify, logger))

	tokens := token.NewService(st.contractors, st.thirdParties,
		token.WithTTL(cfg.Signing.TokenTTL),
		token.WithBaseURL(cfg.Signing.BaseURL),
		token.WithNotifier(notifier),
		token.WithLogger(logger.Named("tokens")),
		token.WithObserver(metrics),
		token.WithObserver(observability.SpanEvents{}),
	)
	signer := signing.NewService(st.contractors, st.thirdParties, st.templates, tokens,
		credential.NewProvider(st.credentials),
		signing.WithScheduler(materializer),
		signing.WithNotifier(notifier),
		signing.WithLogger(logger.Named("signing")),
		signing.WithObserver(metrics),
		signing.WithObserver(observability.SpanEvents{}),
	)
	onboard := onboarding.NewService(st.contractors, st.thirdParties, st.templates,
		onboarding.WithLogger(logger.Named("onboarding")),
		onboarding.WithObserver(metrics),
		onboarding.WithObserver(observability.SpanEvents{}),
	)

	// Step 7: Initialize capability resolver.
	evaluator, err := capability.NewStaticPolicyEvaluator(cfg.Capability.StaticPolicyFile)
	if err != nil {
		logger.Error("capability policy load failed", zap.Error(err))
		return 1
	}
	capResolver := capability.NewResolver(evaluator, cfg.Capability.Cache.TTL,
		capability.WithMaxEntries(cfg.Capability.Cache.MaxEntries),
		capability.WithCacheObserver(metrics),
	)

	idemStore, idemCloser, err := buildIdempotencyStore(cfg.Idempotency, logger)
	if err != nil {
		logger.Error("idempotency store initialization failed", zap.Error(err))
		return 1
	}
	defer idemCloser()

	// Step 8: Build HTTP router.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger.Named("jwks"))

	readiness := observability.ReadinessChecks{
		ContractorStore: st.health,
		DocumentStore:   observability.CheckFunc(objects.Ping),
		PolicyEngine:    evaluator,
	}
	if hc, ok := retryQueue.(observability.HealthChecker); ok {
		readiness.RetryQueue = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Logger:             logger.Named("http"),
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, jwks),
		CapabilityResolver: capResolver,
		Metrics:            metrics,
		MetricsHandler:     observability.Handler(),
		Readiness:          readiness,
		Idempotency:        idemStore,
		Onboarding:         onboard,
		Tokens:             tokens,
		Signing:            signer,
		Documents:          materializer,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go runRenderRetries(bgCtx, materializer, cfg.Documents.Retry, logger)
	go runPolicyReloader(bgCtx, evaluator, logger)

	// Step 10: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store", cfg.Store.Driver),
		zap.String("documents", cfg.Documents.Storage.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel background tasks, then let scheduled renders finish.
	bgCancel()
	materializer.Wait()

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStores opens the stores selected by cfg.Driver.
func buildStores(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*stores, error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Warn("using in-memory stores; data is lost on restart")
		contractors := store.NewMemoryContractorStore()
		return &stores{
			contractors:  contractors,
			thirdParties: store.NewMemoryThirdPartyStore(contractors),
			templates:    store.NewMemoryTemplateStore(),
			credentials:  store.NewMemoryCredentialStore(),
			health:       observability.CheckFunc(func(context.Context) error { return nil }),
			close:        func() {},
		}, nil
	case "postgres":
		dsn := config.Secret(cfg.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("store: ping: %w", err)
		}
		if cfg.Migrate {
			if err := store.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("store: migrate: %w", err)
			}
			logger.Info("store schema applied")
		}

		return &stores{
			contractors:  store.NewPgContractorStore(pool),
			thirdParties: store.NewPgThirdPartyStore(pool),
			templates:    store.NewPgTemplateStore(pool),
			credentials:  store.NewPgCredentialStore(pool),
			health:       observability.CheckFunc(pool.Ping),
			close:        pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildObjectStore creates the PDF object store selected by cfg.Driver.
func buildObjectStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (document.ObjectStore, error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory document storage")
		return document.NewMemoryObjectStore(cfg.PublicBaseURL), nil
	case "minio":
		objects, err := document.NewMinioObjectStore(document.MinioConfig{
			Endpoint:      cfg.Endpoint,
			AccessKey:     config.Secret(cfg.AccessKeyEnv),
			SecretKey:     config.Secret(cfg.SecretKeyEnv),
			Bucket:        cfg.Bucket,
			UseSSL:        cfg.UseSSL,
			PresignExpiry: cfg.PresignExpiry,
		})
		if err != nil {
			return nil, err
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return objects, nil
	default:
		return nil, fmt.Errorf("unsupported document storage driver: %q", cfg.Driver)
	}
}

// buildRetryQueue creates the render retry queue selected by cfg.Driver.
func buildRetryQueue(cfg config.RenderRetryConfig, logger *zap.Logger) (document.RetryQueue, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory render retry queue")
		return document.NewMemoryRetryQueue(), func() {}, nil
	case "redis":
		addr := config.Secret(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("retry queue: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		closer := func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close failed", zap.Error(err))
			}
		}
		return document.NewRedisRetryQueue(client, cfg.Key), closer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported retry queue driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the Idempotency-Key store based on config.
// Returns a nil store when replay is disabled.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Store, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}

	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory idempotency store")
		return idempotency.NewMemoryStore(), func() {}, nil
	case "redis":
		addr := config.Secret(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("idempotency store: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		closer := func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close failed", zap.Error(err))
			}
		}
		return idempotency.NewRedisStore(client), closer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency store driver: %q", cfg.Driver)
	}
}

// buildNotifier creates the outbound email channel selected by cfg.Driver.
func buildNotifier(cfg config.NotifyConfig, logger *zap.Logger) model.Notifier {
	if cfg.Driver == "smtp" {
		relay := notify.NewSMTPNotifier(cfg.Host, cfg.Port, cfg.From, cfg.Username, config.Secret(cfg.PasswordEnv))
		return notify.NewBreaker(relay, notify.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			CoolDown:         cfg.Breaker.CoolDown,
		})
	}
	return notify.NewLogNotifier(logger.Named("notify"))
}

// runRenderRetries periodically re-renders contract PDFs that failed.
func runRenderRetries(ctx context.Context, m *document.Materializer, cfg config.RenderRetryConfig, logger *zap.Logger) {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.Drain(ctx, cfg.Batch)
			if err != nil {
				logger.Error("render retry drain failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("render retries processed", zap.Int("count", n))
			}
		}
	}
}

// runPolicyReloader reloads the capability policy file on SIGHUP. Cached
// capability sets keep their old value until their TTL runs out.
func runPolicyReloader(ctx context.Context, evaluator *capability.StaticPolicyEvaluator, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := evaluator.Sync(); err != nil {
				logger.Error("capability policy reload failed", zap.Error(err))
				continue
			}
			logger.Info("capability policy reloaded")
		}
	}
}
