package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/catalog-ingest/internal/retry"
)

// Config holds the complete application configuration, loadable from
// environment variables (CATALOG_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CATALOG_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Collection  string `default:"Products" usage:"Document collection listings are committed to"`
	Storage     StorageConfig
	Ingest      IngestConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// StorageConfig controls where encoded images are written and served from.
type StorageConfig struct {
	Root          string        `default:"data/assets" usage:"Directory uploaded images are stored in"`
	BaseURL       string        `default:"http://localhost:8080/assets" usage:"Public URL prefix of uploaded images" flag:"storage-base-url"`
	KeyPrefix     string        `default:"products/images" usage:"Object key prefix for uploaded images" flag:"key-prefix"`
	UploadTimeout time.Duration `default:"30s" usage:"Timeout of a single upload attempt" flag:"upload-timeout"`
	Retry         retry.Policy
}

// IngestConfig controls the listing ingestion pipeline.
type IngestConfig struct {
	Concurrency    int           `default:"4" usage:"Parallel encodes and uploads per listing"`
	Quality        int           `default:"85" usage:"JPEG quality of encoded images"`
	MaxSourceBytes int64         `default:"20971520" usage:"Largest accepted source image in bytes" flag:"max-source-bytes"`
	MaxPixels      int64         `default:"40000000" usage:"Largest accepted source image in pixels (width x height)" flag:"max-pixels"`
	MaxImages      int           `default:"10" usage:"Most images accepted per listing (0 = unlimited)" flag:"max-images"`
	SizePolicy     string        `default:"keep" usage:"Empty size segments: keep or drop" flag:"size-policy"`
	CleanupOrphans bool          `default:"false" usage:"Delete uploaded images of failed listings" flag:"cleanup-orphans"`
	CommitTimeout  time.Duration `default:"10s" usage:"Timeout of a single commit attempt" flag:"commit-timeout"`
	Retry          retry.Policy
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from flags, environment variables, YAML
// config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(false)
}

// LoadEnvConfig is LoadConfig without command line flags, for tools that
// parse their own.
func LoadEnvConfig() (*Config, error) {
	return loadConfig(true)
}

func loadConfig(skipFlags bool) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: skipFlags,
		EnvPrefix: "CATALOG",
		Files:     []string{"config.yaml", "/etc/catalog/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set CATALOG_DATABASE_URL or DATABASE_URL")
	}
	if c.Ingest.Quality < 1 || c.Ingest.Quality > 100 {
		return errors.Errorf("ingest quality %d out of range [1, 100]", c.Ingest.Quality)
	}
	if c.Ingest.MaxImages < 0 {
		return errors.New("ingest max images must not be negative")
	}
	if c.Ingest.MaxSourceBytes < 0 || c.Ingest.MaxPixels < 0 {
		return errors.New("ingest source limits must not be negative")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CATALOG_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
		if c.Storage.BaseURL == "http://localhost:8080/assets" {
			c.Storage.BaseURL = "http://localhost:" + port + "/assets"
		}
	}
}
