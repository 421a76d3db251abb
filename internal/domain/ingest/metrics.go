package ingest

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	submissions metric.Int64Counter
	duration    metric.Float64Histogram
	images      metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	submissions, err := meter.Int64Counter("catalog.ingest.submissions",
		metric.WithDescription("Listing submissions by terminal outcome"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "submissions counter")
	}

	duration, err := meter.Float64Histogram("catalog.ingest.duration",
		metric.WithDescription("Time from submit to terminal outcome"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "duration histogram")
	}

	images, err := meter.Int64Counter("catalog.ingest.images",
		metric.WithDescription("Images uploaded to the object store"),
		metric.WithUnit("{image}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "images counter")
	}

	return &metrics{submissions: submissions, duration: duration, images: images}, nil
}

func (m *metrics) record(ctx context.Context, out Outcome, started time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", out.State.String()),
		attribute.String("reason", Reason(out.Err)),
	)
	m.submissions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(started).Seconds(), attrs)
}
