package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"

	"github.com/xenking/catalog-ingest/internal/app"
	"github.com/xenking/catalog-ingest/internal/storage/filestore"
	"github.com/xenking/catalog-ingest/internal/storage/postgres"
)

func main() {
	var (
		file     string
		workers  int
		capacity uint
	)

	flag.StringVar(&file, "file", "listings.jsonl.gz", "gzip-compressed JSON lines file of listings")
	flag.IntVar(&workers, "workers", 4, "listings submitted in parallel")
	flag.UintVar(&capacity, "expected", 100_000, "expected number of listings, sizes the duplicate filter")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, file, workers, capacity); err != nil {
		slog.Error("catalog import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog import completed successfully")
}

func run(ctx context.Context, file string, workers int, capacity uint) error {
	// Storage, ingest and collection settings come from the same
	// CATALOG_ environment and config files as the API server.
	cfg, err := app.LoadEnvConfig()
	if err != nil {
		return err
	}

	f, err := os.Open(file)
	if err != nil {
		return errors.Wrapf(err, "open %s", file)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", file)
	}
	defer func() { _ = gz.Close() }()

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	store, err := filestore.New(cfg.Storage.Root, cfg.Storage.BaseURL)
	if err != nil {
		return errors.Wrap(err, "create asset store")
	}

	lg, err := zap.NewProduction()
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer func() { _ = lg.Sync() }()

	products := postgres.NewProductRepository(pool, cfg.Collection)
	svc, err := app.NewIngest(lg, cfg, store, products)
	if err != nil {
		return err
	}

	existing, err := products.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list existing products")
	}

	im := newImporter(svc, workers, capacity+uint(len(existing)))
	im.Seed(existing)
	slog.Info("importing listings",
		slog.String("file", file),
		slog.Int("existing", len(existing)),
		slog.Int("workers", workers),
	)

	st, err := im.Run(ctx, gz, filepath.Dir(file))
	slog.Info("import finished",
		slog.Int64("lines", st.Lines),
		slog.Int64("imported", st.Imported),
		slog.Int64("duplicates", st.Duplicates),
		slog.Int64("invalid", st.Invalid),
		slog.Int64("failed", st.Failed),
	)
	if err != nil {
		return errors.Wrap(err, "import listings")
	}
	return nil
}
