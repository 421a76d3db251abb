package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/catalog-ingest/internal/domain/asset"
	"github.com/xenking/catalog-ingest/internal/domain/ingest"
	"github.com/xenking/catalog-ingest/internal/domain/product"
	"github.com/xenking/catalog-ingest/internal/domain/selection"
)

const (
	bloomFPR      = 0.0001
	maxLineBytes  = 1 << 20
	progressEvery = 1_000
)

// submitter runs one listing through the ingestion pipeline.
type submitter interface {
	Submit(ctx context.Context, sub ingest.Submission, obs ingest.Observer) ingest.Outcome
}

// listing is one line of the import file.
type listing struct {
	Name            string
	Category        string
	Price           string
	OfferPercentage string
	Description     string
	Sizes           string
	Colors          []string
	Images          []string
}

// stats counts what happened to each line.
type stats struct {
	Lines      int64
	Imported   int64
	Duplicates int64
	Invalid    int64
	Failed     int64
}

type importer struct {
	svc     submitter
	workers int

	// mu guards seen and pending. A key enters seen only once a listing
	// with that key has been imported, so a failed line does not shadow a
	// corrected one later in the file. pending holds the done channel of
	// the latest in-flight listing per key; later lines with the same key
	// wait on it before checking seen.
	mu      sync.Mutex
	seen    *bloom.BloomFilter
	pending map[string]chan struct{}

	lines, imported, duplicates, invalid, failed atomic.Int64
}

func newImporter(svc submitter, workers int, capacity uint) *importer {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1_000 {
		capacity = 1_000
	}
	return &importer{
		svc:     svc,
		workers: workers,
		seen:    bloom.NewWithEstimates(capacity, bloomFPR),
		pending: make(map[string]chan struct{}),
	}
}

// dedupeKey identifies a listing by case-insensitive name and category.
// Listings missing either have no key; validation rejects them anyway.
func dedupeKey(name, category string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	category = strings.ToLower(strings.TrimSpace(category))
	if name == "" || category == "" {
		return "", false
	}
	return name + "\x00" + category, true
}

// Seed marks existing catalog records as already imported.
func (im *importer) Seed(products []product.Product) {
	im.mu.Lock()
	defer im.mu.Unlock()
	for _, p := range products {
		if key, ok := dedupeKey(p.Name, p.Category); ok {
			im.seen.AddString(key)
		}
	}
}

// claim registers a listing with key as in flight. It reports false when key
// was already imported and nothing is in flight for it. Otherwise it returns
// the done channel of the previous in-flight listing (nil if none) and the
// channel the caller must pass to release.
func (im *importer) claim(key string) (prev, done chan struct{}, ok bool) {
	im.mu.Lock()
	defer im.mu.Unlock()
	prev = im.pending[key]
	if prev == nil && im.seen.TestString(key) {
		return nil, nil, false
	}
	done = make(chan struct{})
	im.pending[key] = done
	return prev, done, true
}

// release records the result of a claimed listing and wakes the next line
// waiting on key.
func (im *importer) release(key string, done chan struct{}, imported bool) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if imported {
		im.seen.AddString(key)
	}
	if im.pending[key] == done {
		delete(im.pending, key)
	}
	close(done)
}

func (im *importer) isSeen(key string) bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.seen.TestString(key)
}

// Run reads JSON lines from r and submits each new listing. Image paths are
// resolved against baseDir. Listing failures are counted, not returned; only
// read errors and cancellation stop the import.
func (im *importer) Run(ctx context.Context, r io.Reader, baseDir string) (stats, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.workers)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var readErr error
	for scanner.Scan() {
		if err := gctx.Err(); err != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		n := im.lines.Add(1)
		if n%progressEvery == 0 {
			slog.Info("import progress",
				slog.Int64("lines", n),
				slog.Int64("imported", im.imported.Load()),
			)
		}

		l, err := decodeListing([]byte(line))
		if err != nil {
			im.invalid.Add(1)
			slog.Warn("skip malformed line", slog.Int64("line", n), slog.String("error", err.Error()))
			continue
		}

		key, ok := dedupeKey(l.Name, l.Category)
		if !ok {
			g.Go(func() error {
				im.submit(gctx, n, l, baseDir)
				return nil
			})
			continue
		}

		prev, done, ok := im.claim(key)
		if !ok {
			im.skipDuplicate(n, l)
			continue
		}
		g.Go(func() error {
			imported := false
			defer func() { im.release(key, done, imported) }()

			if prev != nil {
				select {
				case <-prev:
				case <-gctx.Done():
					return nil
				}
				if im.isSeen(key) {
					im.skipDuplicate(n, l)
					return nil
				}
			}
			imported = im.submit(gctx, n, l, baseDir)
			return nil
		})
	}
	if err := scanner.Err(); err != nil {
		readErr = errors.Wrap(err, "read listings")
	}

	_ = g.Wait()
	if readErr == nil {
		readErr = ctx.Err()
	}
	return im.stats(), readErr
}

func (im *importer) skipDuplicate(line int64, l listing) {
	im.duplicates.Add(1)
	slog.Debug("skip duplicate", slog.Int64("line", line), slog.String("name", l.Name))
}

// submit runs one listing and reports whether it was imported.
func (im *importer) submit(ctx context.Context, line int64, l listing, baseDir string) bool {
	sel := selection.New()
	for _, raw := range l.Colors {
		c, err := product.ParseColor(raw)
		if err != nil {
			im.invalid.Add(1)
			slog.Warn("skip listing with bad color",
				slog.Int64("line", line),
				slog.String("color", raw),
			)
			return false
		}
		sel.AddColor(c)
	}
	for _, img := range l.Images {
		if !filepath.IsAbs(img) {
			img = filepath.Join(baseDir, filepath.FromSlash(img))
		}
		sel.AddImages(asset.FileSource(img))
	}

	out := im.svc.Submit(ctx, ingest.Submission{
		Form: product.Input{
			Name:            l.Name,
			Category:        l.Category,
			Price:           l.Price,
			OfferPercentage: l.OfferPercentage,
			Description:     l.Description,
			Sizes:           l.Sizes,
		},
		Selection: sel.Snapshot(),
	}, nil)

	if out.State == ingest.Succeeded {
		im.imported.Add(1)
		return true
	}
	reason := ingest.Reason(out.Err)
	if reason == ingest.ReasonValidation {
		im.invalid.Add(1)
	} else {
		im.failed.Add(1)
	}
	slog.Warn("listing not imported",
		slog.Int64("line", line),
		slog.String("name", l.Name),
		slog.String("reason", reason),
		slog.Int("orphans", len(out.Orphans)),
		slog.String("error", errorString(out.Err)),
	)
	return false
}

func (im *importer) stats() stats {
	return stats{
		Lines:      im.lines.Load(),
		Imported:   im.imported.Load(),
		Duplicates: im.duplicates.Load(),
		Invalid:    im.invalid.Load(),
		Failed:     im.failed.Load(),
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// decodeListing parses one JSON line. Numbers are accepted wherever the form
// takes text, so price may be 19.99 or "19.99" and colors may be
// "#FF0000" or 4294901760.
func decodeListing(data []byte) (listing, error) {
	var l listing
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "name":
			return decodeText(d, &l.Name)
		case "category":
			return decodeText(d, &l.Category)
		case "price":
			return decodeText(d, &l.Price)
		case "offerPercentage":
			return decodeText(d, &l.OfferPercentage)
		case "description":
			return decodeText(d, &l.Description)
		case "sizes":
			if d.Next() != jx.Array {
				return decodeText(d, &l.Sizes)
			}
			var sizes []string
			if err := d.Arr(func(d *jx.Decoder) error {
				var s string
				if err := decodeText(d, &s); err != nil {
					return err
				}
				sizes = append(sizes, s)
				return nil
			}); err != nil {
				return err
			}
			l.Sizes = strings.Join(sizes, ",")
			return nil
		case "colors":
			return decodeTextList(d, &l.Colors)
		case "images":
			return decodeTextList(d, &l.Images)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return listing{}, errors.Wrap(err, "decode listing")
	}
	return l, nil
}

// decodeText reads a string, number, or null into dst.
func decodeText(d *jx.Decoder, dst *string) error {
	switch d.Next() {
	case jx.Null:
		*dst = ""
		return d.Null()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return err
		}
		*dst = n.String()
		return nil
	default:
		s, err := d.Str()
		if err != nil {
			return err
		}
		*dst = s
		return nil
	}
}

func decodeTextList(d *jx.Decoder, dst *[]string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	return d.Arr(func(d *jx.Decoder) error {
		var s string
		if err := decodeText(d, &s); err != nil {
			return err
		}
		*dst = append(*dst, s)
		return nil
	})
}
