// Package handler exposes listing ingestion and the catalog over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/xenking/catalog-ingest/internal/domain/ingest"
	"github.com/xenking/catalog-ingest/internal/domain/product"
)

// Submitter runs a listing submission to its terminal outcome.
type Submitter interface {
	Submit(ctx context.Context, sub ingest.Submission, obs ingest.Observer) ingest.Outcome
}

var _ Submitter = (*ingest.Service)(nil)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// MaxRequestBytes bounds a whole multipart submission.
	MaxRequestBytes int64
	// MaxMemoryBytes is how much of a multipart form is kept in memory before
	// spilling files to disk.
	MaxMemoryBytes int64
	// MaxImages bounds the number of images per listing. Zero means no limit.
	MaxImages int
}

const (
	defaultMaxRequestBytes = 64 << 20
	defaultMaxMemoryBytes  = 8 << 20
)

// Handler serves the product API.
type Handler struct {
	ingest   Submitter
	products product.Repository
	cfg      HandlerConfig
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg HandlerConfig, ingest Submitter, products product.Repository) *Handler {
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
	if cfg.MaxMemoryBytes <= 0 {
		cfg.MaxMemoryBytes = defaultMaxMemoryBytes
	}
	return &Handler{ingest: ingest, products: products, cfg: cfg}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/products", h.CreateProduct)
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)
}
