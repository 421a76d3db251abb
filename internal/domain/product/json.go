package product

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Encode writes p as a JSON document. Decimals are written as JSON numbers
// and absent optional values as null.
func (p *Product) Encode(e *jx.Encoder) {
	e.ObjStart()
	p.EncodeFields(e)
	e.ObjEnd()
}

// EncodeFields writes the document fields of p into an already opened object.
func (p *Product) EncodeFields(e *jx.Encoder) {
	e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
	e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
	e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
	e.Field("price", func(e *jx.Encoder) { e.Num(jx.Num(p.Price.String())) })
	e.Field("offerPercentage", func(e *jx.Encoder) {
		if p.OfferPercentage == nil {
			e.Null()
			return
		}
		e.Num(jx.Num(p.OfferPercentage.String()))
	})
	e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
	e.Field("colors", func(e *jx.Encoder) {
		e.ArrStart()
		for _, c := range p.Colors {
			e.UInt32(uint32(c))
		}
		e.ArrEnd()
	})
	e.Field("sizes", func(e *jx.Encoder) {
		if p.Sizes == nil {
			e.Null()
			return
		}
		e.ArrStart()
		for _, s := range p.Sizes {
			e.Str(s)
		}
		e.ArrEnd()
	})
	e.Field("imageUrls", func(e *jx.Encoder) {
		e.ArrStart()
		for _, u := range p.ImageURLs {
			e.Str(u)
		}
		e.ArrEnd()
	})
}

// Decode reads a JSON document written by Encode into p. Unknown fields are
// skipped.
func (p *Product) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "category":
			p.Category, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "offerPercentage":
			if d.Next() == jx.Null {
				p.OfferPercentage = nil
				return d.Null()
			}
			var v decimal.Decimal
			if v, err = decodeDecimal(d); err == nil {
				p.OfferPercentage = &v
			}
		case "colors":
			p.Colors = []Color{}
			err = d.Arr(func(d *jx.Decoder) error {
				v, err := d.UInt32()
				if err != nil {
					return err
				}
				p.Colors = append(p.Colors, Color(v))
				return nil
			})
		case "sizes":
			if d.Next() == jx.Null {
				p.Sizes = nil
				return d.Null()
			}
			p.Sizes = []string{}
			err = d.Arr(func(d *jx.Decoder) error {
				v, err := d.Str()
				if err != nil {
					return err
				}
				p.Sizes = append(p.Sizes, v)
				return nil
			})
		case "imageUrls":
			p.ImageURLs = []string{}
			err = d.Arr(func(d *jx.Decoder) error {
				v, err := d.Str()
				if err != nil {
					return err
				}
				p.ImageURLs = append(p.ImageURLs, v)
				return nil
			})
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		return nil
	})
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	s := n.String()
	if n.Str() {
		s = s[1 : len(s)-1]
	}
	return decimal.NewFromString(s)
}
