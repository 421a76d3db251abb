package ingest

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/catalog-ingest/internal/domain/asset"
	"github.com/xenking/catalog-ingest/internal/domain/product"
)

// ErrAlreadySubmitted is returned when a Pipeline is submitted twice.
var ErrAlreadySubmitted = errors.New("pipeline already submitted")

// Failure reasons reported by Reason.
const (
	ReasonNone       = ""
	ReasonValidation = "validation"
	ReasonEncoding   = "encoding"
	ReasonUpload     = "upload"
	ReasonCommit     = "commit"
	ReasonCancelled  = "cancelled"
	ReasonResubmit   = "resubmit"
	ReasonUnknown    = "unknown"
)

// Reason classifies a terminal error by the stage that produced it.
func Reason(err error) string {
	var (
		validationErr *product.ValidationError
		encodingErr   *asset.EncodingError
		uploadErr     *asset.UploadError
		commitErr     *CommitError
	)
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrAlreadySubmitted):
		return ReasonResubmit
	case errors.As(err, &validationErr):
		return ReasonValidation
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.As(err, &encodingErr):
		return ReasonEncoding
	case errors.As(err, &uploadErr):
		return ReasonUpload
	case errors.As(err, &commitErr):
		return ReasonCommit
	default:
		return ReasonUnknown
	}
}

// CommitError reports a record the document store did not accept.
type CommitError struct {
	RecordID string
	Err      error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit record %s: %v", e.RecordID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
