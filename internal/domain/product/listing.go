package product

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Field names reported by validation, in reporting order.
const (
	FieldImages          = "images"
	FieldName            = "name"
	FieldCategory        = "category"
	FieldPrice           = "price"
	FieldOfferPercentage = "offerPercentage"
)

// SizePolicy decides what happens to segments of the size list that are
// empty after trimming.
type SizePolicy int

const (
	// KeepEmptySizes keeps empty segments, so "," parses to ["", ""].
	KeepEmptySizes SizePolicy = iota
	// DropEmptySizes removes empty segments, so "," parses to [].
	DropEmptySizes
)

// ParseSizePolicy maps a config value ("keep" or "drop") to a SizePolicy.
func ParseSizePolicy(s string) (SizePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keep":
		return KeepEmptySizes, nil
	case "drop":
		return DropEmptySizes, nil
	default:
		return 0, errors.Errorf("unknown size policy %q", s)
	}
}

// ErrImageCountMismatch is returned by Build when the number of image URLs
// differs from the number of selected images.
var ErrImageCountMismatch = errors.New("image url count does not match selected images")

var hundred = decimal.NewFromInt(100)

// Input is the raw listing form as entered by the user.
type Input struct {
	Name            string
	Category        string
	Price           string
	OfferPercentage string
	Description     string
	Sizes           string
	Colors          []Color
	ImageCount      int
}

// FieldError is a single field-level validation reason.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) String() string {
	return e.Field + ": " + e.Reason
}

// ValidationError lists every reason the input was rejected, in field order.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("invalid listing: %s", strings.Join(parts, "; "))
}

// Has reports whether field is among the rejected fields.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// Validated holds the normalized fields of an accepted Input.
type Validated struct {
	Name            string
	Category        string
	Description     string
	Price           decimal.Decimal
	OfferPercentage *decimal.Decimal
	Sizes           []string
	Colors          []Color
	ImageCount      int
	// Warnings lists optional fields that were dropped because they could not
	// be used as entered.
	Warnings []FieldError
}

// Validate checks the required fields of in and normalizes the optional ones.
// It returns *ValidationError when any required field is unusable.
func Validate(in Input, policy SizePolicy) (Validated, error) {
	var reasons []FieldError

	if in.ImageCount <= 0 {
		reasons = append(reasons, FieldError{Field: FieldImages, Reason: "at least one image is required"})
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		reasons = append(reasons, FieldError{Field: FieldName, Reason: "required"})
	}

	category := strings.TrimSpace(in.Category)
	if category == "" {
		reasons = append(reasons, FieldError{Field: FieldCategory, Reason: "required"})
	}

	price, reason := parsePrice(in.Price)
	if reason != "" {
		reasons = append(reasons, FieldError{Field: FieldPrice, Reason: reason})
	}

	if len(reasons) > 0 {
		return Validated{}, &ValidationError{Fields: reasons}
	}

	v := Validated{
		Name:        name,
		Category:    category,
		Description: strings.TrimSpace(in.Description),
		Price:       price,
		Sizes:       ParseSizes(in.Sizes, policy),
		Colors:      append([]Color(nil), in.Colors...),
		ImageCount:  in.ImageCount,
	}

	offer, reason := parseOffer(in.OfferPercentage)
	if reason != "" {
		v.Warnings = append(v.Warnings, FieldError{Field: FieldOfferPercentage, Reason: reason})
	}
	v.OfferPercentage = offer

	return v, nil
}

// Prices are stored as exact NUMERIC values, so both the integer part and
// the scale are bounded.
const (
	maxPriceDigits = 12
	maxPriceScale  = 4
)

func parsePrice(s string) (decimal.Decimal, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, "required"
	}
	price, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, "must be a number"
	}
	if !price.IsPositive() {
		return decimal.Zero, "must be greater than 0"
	}
	if reason := checkBounds(price, maxPriceDigits, maxPriceScale); reason != "" {
		return decimal.Zero, reason
	}
	return price, ""
}

// checkBounds reports why d has more than digits integer digits or more
// than scale fractional digits. It looks at the exponent before comparing,
// since rescaling a value like 1e100000000 allocates its full expansion.
func checkBounds(d decimal.Decimal, digits, scale int) string {
	if d.IsZero() {
		return ""
	}
	exp := int(d.Exponent())
	if exp > digits || d.NumDigits()+exp > digits {
		return fmt.Sprintf("must have at most %d integer digits", digits)
	}
	if exp >= -scale {
		return ""
	}
	if d.NumDigits()+exp <= -scale || !d.Equal(d.Truncate(int32(scale))) {
		return fmt.Sprintf("must have at most %d decimal places", scale)
	}
	return ""
}

// parseOffer returns nil for blank input. Unusable values are also nil,
// together with the reason they were dropped.
func parseOffer(s string) (*decimal.Decimal, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ""
	}
	offer, err := decimal.NewFromString(s)
	if err != nil {
		return nil, "not a number, ignored"
	}
	if checkBounds(offer, 3, maxPriceScale) != "" {
		return nil, "outside 0-100, ignored"
	}
	if offer.IsNegative() || offer.GreaterThan(hundred) {
		return nil, "outside 0-100, ignored"
	}
	return &offer, ""
}

// ParseSizes splits a comma separated size list. Blank input yields nil
// (no size list). Segments are trimmed and kept in order; policy decides
// whether segments left empty by trimming survive.
func ParseSizes(s string, policy SizePolicy) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	segments := strings.Split(s, ",")
	sizes := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" && policy == DropEmptySizes {
			continue
		}
		sizes = append(sizes, seg)
	}
	return sizes
}

// Build assembles the record for v under the given id. imageURLs must hold
// exactly one URL per selected image, in selection order.
func Build(v Validated, id string, imageURLs []string) (*Product, error) {
	if id == "" {
		return nil, errors.New("record id is required")
	}
	if len(imageURLs) != v.ImageCount {
		return nil, errors.Wrapf(ErrImageCountMismatch, "got %d urls for %d images", len(imageURLs), v.ImageCount)
	}

	p := &Product{
		ID:          id,
		Name:        v.Name,
		Category:    v.Category,
		Price:       v.Price,
		Description: v.Description,
		Colors:      append([]Color{}, v.Colors...),
		ImageURLs:   append([]string{}, imageURLs...),
	}
	if v.OfferPercentage != nil {
		offer := *v.OfferPercentage
		p.OfferPercentage = &offer
	}
	if v.Sizes != nil {
		p.Sizes = append([]string{}, v.Sizes...)
	}
	return p, nil
}
