package asset

import (
	"context"
	"path"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/catalog-ingest/internal/retry"
)

// DefaultKeyPrefix is the object key prefix product images are stored under.
const DefaultKeyPrefix = "products/images"

// UploaderConfig holds non-dependency configuration for the Uploader.
type UploaderConfig struct {
	// KeyPrefix is prepended to every generated object key.
	KeyPrefix string
	// Timeout bounds a single Put attempt. Zero disables the bound.
	Timeout time.Duration
	Retry   retry.Policy
}

// Uploader stores payloads in an ObjectStore under fresh keys.
type Uploader struct {
	store   ObjectStore
	prefix  string
	timeout time.Duration
	retry   retry.Policy
	lg      *zap.Logger
	newKey  func() string
}

// NewUploader creates an Uploader writing to store.
func NewUploader(store ObjectStore, cfg UploaderConfig, lg *zap.Logger) *Uploader {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Uploader{
		store:   store,
		prefix:  cfg.KeyPrefix,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		lg:      lg,
		newKey:  func() string { return uuid.New().String() + ".jpg" },
	}
}

// Upload writes p and returns its reference once the store confirmed the
// write. Each attempt, retries included, uses a new key. Failures are
// returned as *UploadError.
func (u *Uploader) Upload(ctx context.Context, p Payload) (Ref, error) {
	var ref Ref
	err := u.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		key := path.Join(u.prefix, u.newKey())

		putCtx, cancel := u.withTimeout(ctx)
		defer cancel()

		url, err := u.store.Put(putCtx, key, p.Data, p.ContentType)
		if err != nil {
			u.lg.Warn("Upload attempt failed",
				zap.Int("image", p.Index),
				zap.String("key", key),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}

		ref = Ref{Index: p.Index, Key: key, URL: url}
		return nil
	})
	if err != nil {
		return Ref{}, &UploadError{Index: p.Index, Ref: p.Source, Err: err}
	}
	return ref, nil
}

// Discard deletes previously uploaded objects. It attempts every ref and
// returns the ones that could not be deleted along with the joined errors.
func (u *Uploader) Discard(ctx context.Context, refs []Ref) ([]Ref, error) {
	var (
		left []Ref
		errs []error
	)
	for _, r := range refs {
		delCtx, cancel := u.withTimeout(ctx)
		err := u.store.Delete(delCtx, r.Key)
		cancel()
		if err != nil {
			left = append(left, r)
			errs = append(errs, errors.Wrapf(err, "delete %s", r.Key))
		}
	}
	return left, errors.Join(errs...)
}

func (u *Uploader) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, u.timeout)
}
