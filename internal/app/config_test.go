package app

import (
	"testing"

	"github.com/cristalhq/aconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/catalog-ingest/internal/domain/asset"
)

func TestConfigDefaults_MatchEncoder(t *testing.T) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{SkipFiles: true, SkipEnv: true, SkipFlags: true})
	require.NoError(t, loader.Load())

	assert.Equal(t, int64(asset.DefaultMaxSourceBytes), cfg.Ingest.MaxSourceBytes)
	assert.Equal(t, int64(asset.DefaultMaxPixels), cfg.Ingest.MaxPixels)
	assert.Equal(t, asset.DefaultQuality, cfg.Ingest.Quality)
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9090")

	cfg := Config{
		Addr:    "0.0.0.0:8080",
		Storage: StorageConfig{BaseURL: "http://localhost:8080/assets"},
	}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
	assert.Equal(t, "http://localhost:9090/assets", cfg.Storage.BaseURL)
}

func TestApplyPlatformDefaults_KeepsExplicit(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9090")

	cfg := Config{
		Addr:        "127.0.0.1:7000",
		DatabaseURL: "postgres://explicit/db",
		Storage:     StorageConfig{BaseURL: "https://cdn.example.com"},
	}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
	assert.Equal(t, "https://cdn.example.com", cfg.Storage.BaseURL)
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{DatabaseURL: "postgres://db", Ingest: IngestConfig{Quality: 85}}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "database URL is required"},
		{name: "quality zero", mutate: func(c *Config) { c.Ingest.Quality = 0 }, wantErr: "quality"},
		{name: "quality too high", mutate: func(c *Config) { c.Ingest.Quality = 101 }, wantErr: "quality"},
		{name: "negative max images", mutate: func(c *Config) { c.Ingest.MaxImages = -1 }, wantErr: "max images"},
		{name: "negative max pixels", mutate: func(c *Config) { c.Ingest.MaxPixels = -1 }, wantErr: "source limits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewIngest_RejectsSizePolicy(t *testing.T) {
	cfg := &Config{Ingest: IngestConfig{Quality: 85, SizePolicy: "squash"}}
	_, err := NewIngest(zap.NewNop(), cfg, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "size policy")
}
