package asset

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"

	// Decoders for the formats pickers hand out.
	_ "image/gif"
	_ "image/png"

	"github.com/go-faster/errors"
)

const (
	// DefaultQuality is the JPEG quality payloads are re-encoded at.
	DefaultQuality = 85
	// DefaultMaxSourceBytes bounds how much of a source is read.
	DefaultMaxSourceBytes = 20 << 20
	// DefaultMaxPixels bounds the decoded size of a source, width times height.
	DefaultMaxPixels = 40_000_000
	// ContentTypeJPEG is the content type of every payload.
	ContentTypeJPEG = "image/jpeg"
)

var (
	// ErrSourceTooLarge is returned when a source exceeds the configured limit.
	ErrSourceTooLarge = errors.New("source image too large")
	// ErrImageTooLarge is returned when the dimensions of a source exceed
	// the configured pixel limit.
	ErrImageTooLarge = errors.New("image dimensions too large")
)

// JPEGEncoder decodes any registered image format and re-encodes it as JPEG.
// It holds no state and is safe for concurrent use.
type JPEGEncoder struct {
	Quality        int
	MaxSourceBytes int64
	MaxPixels      int64
}

// NewJPEGEncoder returns a JPEGEncoder, falling back to the defaults for
// non-positive arguments.
func NewJPEGEncoder(quality int, maxSourceBytes int64) *JPEGEncoder {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	if maxSourceBytes <= 0 {
		maxSourceBytes = DefaultMaxSourceBytes
	}
	return &JPEGEncoder{Quality: quality, MaxSourceBytes: maxSourceBytes, MaxPixels: DefaultMaxPixels}
}

// WithMaxPixels sets the pixel limit, keeping the default for non-positive n.
func (e *JPEGEncoder) WithMaxPixels(n int64) *JPEGEncoder {
	if n > 0 {
		e.MaxPixels = n
	}
	return e
}

// Encode reads, decodes and re-encodes img. Every failure, including a
// panicking decoder, is returned as *EncodingError.
func (e *JPEGEncoder) Encode(ctx context.Context, img Image) (p Payload, err error) {
	ref := img.Source.Name()
	fail := func(cause error) (Payload, error) {
		return Payload{}, &EncodingError{Index: img.Index, Ref: ref, Err: cause}
	}

	defer func() {
		if r := recover(); r != nil {
			p, err = fail(errors.Errorf("decoder panic: %v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	raw, err := e.read(img.Source)
	if err != nil {
		return fail(err)
	}

	// A small compressed source can declare dimensions that decode to
	// gigabytes, so check the header first.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return fail(errors.Wrap(err, "decode config"))
	}
	if limit := e.maxPixels(); int64(cfg.Width)*int64(cfg.Height) > limit {
		return fail(errors.Wrapf(ErrImageTooLarge, "%dx%d exceeds %d pixels", cfg.Width, cfg.Height, limit))
	}

	decoded, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return fail(errors.Wrap(err, "decode"))
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatten(decoded), &jpeg.Options{Quality: e.Quality}); err != nil {
		return fail(errors.Wrap(err, "encode jpeg"))
	}

	return Payload{
		Index:       img.Index,
		Source:      ref,
		ContentType: ContentTypeJPEG,
		Data:        buf.Bytes(),
	}, nil
}

func (e *JPEGEncoder) maxPixels() int64 {
	if e.MaxPixels <= 0 {
		return DefaultMaxPixels
	}
	return e.MaxPixels
}

func (e *JPEGEncoder) read(src Source) ([]byte, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = rc.Close() }()

	raw, err := io.ReadAll(io.LimitReader(rc, e.MaxSourceBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}
	if int64(len(raw)) > e.MaxSourceBytes {
		return nil, ErrSourceTooLarge
	}
	return raw, nil
}

// flatten composites images that may carry transparency onto white, since
// JPEG has no alpha channel.
func flatten(img image.Image) image.Image {
	switch img.(type) {
	case *image.YCbCr, *image.Gray, *image.CMYK:
		return img
	}

	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}
