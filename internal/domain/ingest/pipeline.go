// Package ingest turns a listing form and its picked images into a committed
// catalog record. A record is committed only when every image was encoded
// and uploaded.
package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/catalog-ingest/internal/domain/asset"
	"github.com/xenking/catalog-ingest/internal/domain/product"
	"github.com/xenking/catalog-ingest/internal/domain/selection"
	"github.com/xenking/catalog-ingest/internal/retry"
)

const instrumentationName = "github.com/xenking/catalog-ingest/internal/domain/ingest"

// Uploader stores encoded payloads and removes them again on request.
type Uploader interface {
	Upload(ctx context.Context, p asset.Payload) (asset.Ref, error)
	// Discard deletes refs and returns the ones it could not delete.
	Discard(ctx context.Context, refs []asset.Ref) ([]asset.Ref, error)
}

// Config tunes a Service.
type Config struct {
	// Concurrency bounds parallel encodes and uploads per submission.
	Concurrency int
	SizePolicy  product.SizePolicy
	// CleanupOrphans deletes uploaded images when the submission fails after
	// uploading started.
	CleanupOrphans bool
	// CommitTimeout bounds a single commit attempt. Zero disables the bound.
	CommitTimeout time.Duration
	// Retry applies to commits. Uploads carry their own policy.
	Retry retry.Policy
}

// DefaultConcurrency is used when Config.Concurrency is not positive.
const DefaultConcurrency = 4

// Submission is what a user submits: the form and a snapshot of the
// selection taken at submit time.
type Submission struct {
	Form      product.Input
	Selection selection.Snapshot
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(s *Service) { s.lg = lg }
}

// WithMeterProvider sets the meter provider. The global one is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider. The global one is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// WithIDGenerator overrides how record IDs are generated.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// Service runs submissions. It is safe for concurrent use; every submission
// gets its own Pipeline.
type Service struct {
	cfg      Config
	encoder  asset.Encoder
	uploader Uploader
	records  product.Repository

	lg             *zap.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	metrics        *metrics
	newID          func() string
}

// NewService creates a Service with the required collaborators.
func NewService(
	cfg Config,
	encoder asset.Encoder,
	uploader Uploader,
	records product.Repository,
	opts ...Option,
) (*Service, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	s := &Service{
		cfg:      cfg,
		encoder:  encoder,
		uploader: uploader,
		records:  records,
		lg:       zap.NewNop(),
		newID:    product.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.meterProvider == nil {
		s.meterProvider = otel.GetMeterProvider()
	}
	if s.tracerProvider == nil {
		s.tracerProvider = otel.GetTracerProvider()
	}

	m, err := newMetrics(s.meterProvider.Meter(instrumentationName))
	if err != nil {
		return nil, errors.Wrap(err, "init metrics")
	}
	s.metrics = m
	s.tracer = s.tracerProvider.Tracer(instrumentationName)

	return s, nil
}

// NewPipeline prepares a single-use pipeline for sub. A nil obs is allowed.
func (s *Service) NewPipeline(sub Submission, obs Observer) *Pipeline {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Pipeline{svc: s, sub: sub, obs: obs}
}

// Submit runs sub through a fresh pipeline and returns its outcome.
func (s *Service) Submit(ctx context.Context, sub Submission, obs Observer) Outcome {
	return s.NewPipeline(sub, obs).Submit(ctx)
}

// Pipeline carries one submission from Idle to Succeeded or Failed.
type Pipeline struct {
	svc *Service
	sub Submission
	obs Observer

	submitted atomic.Bool
	state     atomic.Int32
}

// State returns the current stage.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Submit runs the pipeline and blocks until it reaches a terminal state. The
// observer sees every transition and exactly one Done. Submitting the same
// Pipeline again returns a failed outcome with ErrAlreadySubmitted without
// notifying the observer.
func (p *Pipeline) Submit(ctx context.Context) Outcome {
	if !p.submitted.CompareAndSwap(false, true) {
		return Outcome{State: Failed, Err: ErrAlreadySubmitted}
	}

	started := time.Now()
	ctx, span := p.svc.tracer.Start(ctx, "ingest.Submit",
		trace.WithAttributes(attribute.Int("ingest.images", p.sub.Selection.Len())),
	)
	defer span.End()

	out := p.run(ctx)

	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, Reason(out.Err))
	}
	p.svc.metrics.record(ctx, out, started)
	p.obs.Done(out)
	return out
}

func (p *Pipeline) run(ctx context.Context) Outcome {
	s := p.svc
	lg := s.lg

	// Validating.
	p.transition(Validating)
	in := p.sub.Form
	in.Colors = p.sub.Selection.Colors()
	in.ImageCount = p.sub.Selection.Len()

	v, err := product.Validate(in, s.cfg.SizePolicy)
	if err != nil {
		lg.Info("Listing rejected", zap.Error(err))
		return p.fail(ctx, lg, err, nil)
	}
	for _, w := range v.Warnings {
		lg.Debug("Optional field ignored", zap.String("field", w.Field), zap.String("reason", w.Reason))
	}

	// The ID is fixed before anything is written remotely.
	id := s.newID()
	lg = lg.With(zap.String("record_id", id))
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("ingest.record_id", id))

	// Encoding.
	p.transition(Encoding)
	payloads, err := p.encode(ctx, p.sub.Selection.Images())
	if err != nil {
		lg.Warn("Encoding failed", zap.Error(err))
		return p.fail(ctx, lg, err, nil)
	}

	// Uploading.
	p.transition(Uploading)
	refs, err := p.upload(ctx, payloads)
	if err != nil {
		lg.Warn("Upload failed", zap.Error(err), zap.Int("uploaded", len(refs)))
		return p.fail(ctx, lg, err, refs)
	}

	// Committing.
	p.transition(Committing)
	urls := make([]string, len(refs))
	for i, r := range refs {
		urls[i] = r.URL
	}
	rec, err := product.Build(v, id, urls)
	if err != nil {
		return p.fail(ctx, lg, &CommitError{RecordID: id, Err: err}, refs)
	}
	if err := p.commit(ctx, rec); err != nil {
		lg.Warn("Commit failed", zap.Error(err))
		return p.fail(ctx, lg, &CommitError{RecordID: id, Err: err}, refs)
	}

	p.transition(Succeeded)
	lg.Info("Listing committed", zap.Int("images", len(refs)))
	return Outcome{State: Succeeded, Record: rec}
}

func (p *Pipeline) transition(to State) {
	from := State(p.state.Swap(int32(to)))
	p.obs.Transition(from, to)
}

// fail moves to Failed. Uploaded refs are cleaned up when configured, and
// whatever remains is reported as orphaned.
func (p *Pipeline) fail(ctx context.Context, lg *zap.Logger, err error, uploaded []asset.Ref) Outcome {
	orphans := uploaded
	if len(uploaded) > 0 && p.svc.cfg.CleanupOrphans {
		left, cleanupErr := p.svc.uploader.Discard(context.WithoutCancel(ctx), uploaded)
		if cleanupErr != nil {
			lg.Error("Orphan cleanup incomplete", zap.Error(cleanupErr), zap.Int("left", len(left)))
		}
		orphans = left
	}
	if len(orphans) > 0 {
		keys := make([]string, len(orphans))
		for i, r := range orphans {
			keys[i] = r.Key
		}
		lg.Warn("Uploaded images left orphaned", zap.Strings("keys", keys))
	}

	p.transition(Failed)
	return Outcome{State: Failed, Err: err, Orphans: orphans}
}

// encode encodes every image, stopping at the first failure.
func (p *Pipeline) encode(ctx context.Context, images []asset.Image) ([]asset.Payload, error) {
	ctx, span := p.svc.tracer.Start(ctx, "ingest.Encode")
	defer span.End()

	payloads := make([]asset.Payload, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.svc.cfg.Concurrency)
	for i, img := range images {
		g.Go(func() error {
			pl, err := p.svc.encoder.Encode(gctx, img)
			if err != nil {
				return err
			}
			payloads[i] = pl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		return nil, err
	}
	return payloads, nil
}

// upload uploads every payload and waits for all of them. A failed upload
// does not cancel its siblings. On failure the successfully uploaded refs are
// returned with the error of the lowest failed index.
func (p *Pipeline) upload(ctx context.Context, payloads []asset.Payload) ([]asset.Ref, error) {
	ctx, span := p.svc.tracer.Start(ctx, "ingest.Upload")
	defer span.End()

	refs := make([]asset.Ref, len(payloads))
	errs := make([]error, len(payloads))

	var g errgroup.Group
	g.SetLimit(p.svc.cfg.Concurrency)
	for i, pl := range payloads {
		g.Go(func() error {
			refs[i], errs[i] = p.svc.uploader.Upload(ctx, pl)
			return nil
		})
	}
	_ = g.Wait()

	var (
		firstErr error
		uploaded = make([]asset.Ref, 0, len(refs))
	)
	for i, err := range errs {
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		uploaded = append(uploaded, refs[i])
	}
	p.svc.metrics.images.Add(ctx, int64(len(uploaded)))

	if firstErr != nil {
		span.RecordError(firstErr)
		span.SetStatus(codes.Error, "upload")
		return uploaded, firstErr
	}
	return refs, nil
}

func (p *Pipeline) commit(ctx context.Context, rec *product.Product) error {
	ctx, span := p.svc.tracer.Start(ctx, "ingest.Commit")
	defer span.End()

	err := p.svc.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if t := p.svc.cfg.CommitTimeout; t > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t)
			defer cancel()
		}
		err := p.svc.records.Create(ctx, rec)
		if err != nil {
			p.svc.lg.Debug("Commit attempt failed",
				zap.String("record_id", rec.ID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit")
		return err
	}
	return nil
}
