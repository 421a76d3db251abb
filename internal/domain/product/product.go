package product

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog listing as committed to the document store.
type Product struct {
	ID              string
	Name            string
	Category        string
	Price           decimal.Decimal
	OfferPercentage *decimal.Decimal
	Description     string
	Colors          []Color
	Sizes           []string
	ImageURLs       []string
	CreatedAt       time.Time
}

// Color is a 32-bit ARGB color value as produced by the color picker.
type Color uint32

// Hex formats the color as #AARRGGBB.
func (c Color) Hex() string {
	return fmt.Sprintf("#%08X", uint32(c))
}

// ParseColor accepts "#RRGGBB", "#AARRGGBB" or a decimal integer. Negative
// decimals are treated as signed 32-bit ARGB values. Six-digit hex values
// are fully opaque.
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty color")
	}

	if hex, ok := strings.CutPrefix(s, "#"); ok {
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return 0, errors.Wrapf(err, "parse color %q", s)
		}
		switch len(hex) {
		case 6:
			return Color(0xFF000000 | uint32(v)), nil
		case 8:
			return Color(uint32(v)), nil
		default:
			return 0, errors.Errorf("parse color %q: want 6 or 8 hex digits", s)
		}
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse color %q", s)
	}
	if v < -(1<<31) || v > 1<<32-1 {
		return 0, errors.Errorf("parse color %q: out of range", s)
	}
	return Color(uint32(v)), nil
}

// NewID returns a fresh record identifier.
func NewID() string {
	return uuid.New().String()
}

// Repository defines the document store operations for the product catalog.
type Repository interface {
	Create(ctx context.Context, p *Product) error
	GetByID(ctx context.Context, id string) (*Product, error)
	List(ctx context.Context) ([]Product, error)
}
