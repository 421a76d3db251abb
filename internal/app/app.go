package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/catalog-ingest/internal/domain/asset"
	"github.com/xenking/catalog-ingest/internal/domain/ingest"
	"github.com/xenking/catalog-ingest/internal/domain/product"
	"github.com/xenking/catalog-ingest/internal/handler"
	"github.com/xenking/catalog-ingest/internal/storage/filestore"
	"github.com/xenking/catalog-ingest/internal/storage/postgres"
	"github.com/xenking/catalog-ingest/pkg/health"
	"github.com/xenking/catalog-ingest/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	store, err := filestore.New(cfg.Storage.Root, cfg.Storage.BaseURL)
	if err != nil {
		return errors.Wrap(err, "create asset store")
	}

	// Health check service.
	healthSvc := health.New(health.WithLogger(lg.Named("health")))
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("assets", 5*time.Second, health.PingCheck(store))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	products := postgres.NewProductRepository(pool, cfg.Collection)
	svc, err := NewIngest(lg, cfg, store, products,
		ingest.WithTracerProvider(m.TracerProvider()),
		ingest.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return err
	}

	h := handler.NewHandler(handler.HandlerConfig{MaxImages: cfg.Ingest.MaxImages}, svc, products)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           newHTTPHandler(ctx, zctx.From(ctx), cfg, h, healthSvc, store, m.TracerProvider(), m.MeterProvider()),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening",
		zap.String("addr", cfg.Addr),
		zap.String("assets", store.Root()),
		zap.String("collection", cfg.Collection),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newHTTPHandler mounts probes, assets and the API on one mux behind the
// middleware chain.
func newHTTPHandler(
	ctx context.Context,
	lg *zap.Logger,
	cfg *Config,
	h *handler.Handler,
	healthSvc *health.Health,
	store *filestore.Store,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("GET /assets/", http.StripPrefix("/assets", store.Handler()))
	h.Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	return httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", httpmiddleware.RequestIDHeader},
			ExposeHeaders:    []string{"Location", httpmiddleware.RequestIDHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Skip:   skipRateLimit,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument("catalog-api", routeFinder, tp, mp),
		httpmiddleware.LogRequests(routeFinder),
	)
}

// NewIngest builds the ingestion service over store and products from cfg.
// It is shared by the API server and the import tool.
func NewIngest(
	lg *zap.Logger,
	cfg *Config,
	store asset.ObjectStore,
	products product.Repository,
	opts ...ingest.Option,
) (*ingest.Service, error) {
	policy, err := product.ParseSizePolicy(cfg.Ingest.SizePolicy)
	if err != nil {
		return nil, errors.Wrap(err, "ingest config")
	}

	uploader := asset.NewUploader(store, asset.UploaderConfig{
		KeyPrefix: cfg.Storage.KeyPrefix,
		Timeout:   cfg.Storage.UploadTimeout,
		Retry:     cfg.Storage.Retry,
	}, lg.Named("upload"))

	svc, err := ingest.NewService(ingest.Config{
		Concurrency:    cfg.Ingest.Concurrency,
		SizePolicy:     policy,
		CleanupOrphans: cfg.Ingest.CleanupOrphans,
		CommitTimeout:  cfg.Ingest.CommitTimeout,
		Retry:          cfg.Ingest.Retry,
	},
		asset.NewJPEGEncoder(cfg.Ingest.Quality, cfg.Ingest.MaxSourceBytes).WithMaxPixels(cfg.Ingest.MaxPixels),
		uploader,
		products,
		append([]ingest.Option{ingest.WithLogger(lg.Named("ingest"))}, opts...)...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "create ingest service")
	}
	return svc, nil
}

// skipRateLimit exempts probes and image downloads; only the API is limited.
func skipRateLimit(r *http.Request) bool {
	return !strings.HasPrefix(r.URL.Path, "/api/")
}
