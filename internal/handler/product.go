package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/catalog-ingest/internal/domain/asset"
	"github.com/xenking/catalog-ingest/internal/domain/ingest"
	"github.com/xenking/catalog-ingest/internal/domain/product"
	"github.com/xenking/catalog-ingest/internal/domain/selection"
)

// Multipart form fields of a listing submission.
const (
	formName        = "name"
	formCategory    = "category"
	formPrice       = "price"
	formOffer       = "offerPercentage"
	formDescription = "description"
	formSizes       = "sizes"
	formColors      = "colors"
	formImages      = "images"
)

// CreateProduct accepts a multipart listing, runs it through the ingestion
// pipeline and responds with the committed record.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBytes)
	if err := r.ParseMultipartForm(h.cfg.MaxMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request too large", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form", nil)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	sub, fields := h.submission(r.MultipartForm)
	if len(fields) > 0 {
		writeError(w, http.StatusUnprocessableEntity, "invalid listing", fields)
		return
	}

	out := h.ingest.Submit(ctx, sub, newLogObserver(lg))
	if out.State == ingest.Succeeded {
		w.Header().Set("Location", "/api/products/"+out.Record.ID)
		writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeProduct(e, out.Record) })
		return
	}
	writeOutcomeError(w, out)
}

// submission maps the form to a Submission. Field errors are returned for
// values that cannot even be handed to validation.
func (h *Handler) submission(form *multipart.Form) (ingest.Submission, []product.FieldError) {
	value := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	var fields []product.FieldError
	sel := selection.New()
	for _, raw := range form.Value[formColors] {
		c, err := product.ParseColor(raw)
		if err != nil {
			fields = append(fields, product.FieldError{Field: formColors, Reason: err.Error()})
			continue
		}
		sel.AddColor(c)
	}

	files := form.File[formImages]
	if h.cfg.MaxImages > 0 && len(files) > h.cfg.MaxImages {
		fields = append(fields, product.FieldError{
			Field:  formImages,
			Reason: fmt.Sprintf("at most %d images are allowed", h.cfg.MaxImages),
		})
	}
	for _, fh := range files {
		sel.AddImages(fileSource{fh})
	}

	return ingest.Submission{
		Form: product.Input{
			Name:            value(formName),
			Category:        value(formCategory),
			Price:           value(formPrice),
			OfferPercentage: value(formOffer),
			Description:     value(formDescription),
			Sizes:           value(formSizes),
		},
		Selection: sel.Snapshot(),
	}, fields
}

// writeOutcomeError answers a failed submission with one generic message per
// failure kind.
func writeOutcomeError(w http.ResponseWriter, out ingest.Outcome) {
	var validationErr *product.ValidationError
	if errors.As(out.Err, &validationErr) {
		writeError(w, http.StatusUnprocessableEntity, "invalid listing", validationErr.Fields)
		return
	}

	switch ingest.Reason(out.Err) {
	case ingest.ReasonEncoding:
		writeError(w, http.StatusUnprocessableEntity, "an image could not be processed", nil)
	case ingest.ReasonUpload:
		writeError(w, http.StatusBadGateway, "uploading images failed, please try again", nil)
	case ingest.ReasonCommit:
		writeError(w, http.StatusBadGateway, "saving the listing failed, please try again", nil)
	case ingest.ReasonCancelled:
		writeError(w, http.StatusServiceUnavailable, "request cancelled", nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}

// ListProducts returns every committed listing, newest first.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		zctx.From(r.Context()).Error("List products", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error", nil)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range products {
			encodeProduct(e, &products[i])
		}
		e.ArrEnd()
	})
}

// GetProduct returns one listing by ID.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := h.products.GetByID(r.Context(), id)
	switch {
	case errors.Is(err, product.ErrNotFound):
		writeError(w, http.StatusNotFound, "product not found", nil)
		return
	case err != nil:
		zctx.From(r.Context()).Error("Get product", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error", nil)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, p) })
}

// fileSource exposes an uploaded multipart file as an image source.
type fileSource struct {
	fh *multipart.FileHeader
}

func (s fileSource) Name() string { return s.fh.Filename }

func (s fileSource) Open() (io.ReadCloser, error) {
	f, err := s.fh.Open()
	if err != nil {
		return nil, err
	}
	return f, nil
}

var _ asset.Source = fileSource{}
