package product

import (
	"testing"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduct_Encode(t *testing.T) {
	offer := decimal.RequireFromString("12.5")
	p := &Product{
		ID:              "p-1",
		Name:            "Mug",
		Category:        "Kitchen",
		Price:           decimal.RequireFromString("19.99"),
		OfferPercentage: &offer,
		Description:     "Ceramic",
		Colors:          []Color{0xFFFF0000, 0xFF0000FF},
		Sizes:           []string{"S", ""},
		ImageURLs:       []string{"https://cdn.test/a.jpg"},
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	p.Encode(e)

	assert.JSONEq(t, `{
		"id": "p-1",
		"name": "Mug",
		"category": "Kitchen",
		"price": 19.99,
		"offerPercentage": 12.5,
		"description": "Ceramic",
		"colors": [4294901760, 4278190335],
		"sizes": ["S", ""],
		"imageUrls": ["https://cdn.test/a.jpg"]
	}`, e.String())
}

func TestProduct_EncodeAbsentOptionals(t *testing.T) {
	p := &Product{ID: "p-2", Price: decimal.NewFromInt(5)}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	p.Encode(e)

	assert.JSONEq(t, `{
		"id": "p-2",
		"name": "",
		"category": "",
		"price": 5,
		"offerPercentage": null,
		"description": "",
		"colors": [],
		"sizes": null,
		"imageUrls": []
	}`, e.String())
}

func TestProduct_Decode(t *testing.T) {
	const doc = `{
		"id": "p-3",
		"name": "Lamp",
		"category": "Home",
		"price": "42.10",
		"offerPercentage": null,
		"description": "",
		"colors": [1, 2, 1],
		"sizes": null,
		"imageUrls": ["u1", "u2"],
		"extra": {"nested": [true]}
	}`

	var p Product
	require.NoError(t, p.Decode(jx.DecodeStr(doc)))

	assert.Equal(t, "p-3", p.ID)
	assert.True(t, decimal.RequireFromString("42.1").Equal(p.Price))
	assert.Nil(t, p.OfferPercentage)
	assert.Equal(t, []Color{1, 2, 1}, p.Colors)
	assert.Nil(t, p.Sizes)
	assert.Equal(t, []string{"u1", "u2"}, p.ImageURLs)
}

func TestProduct_DecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"price not a number", `{"price": true}`},
		{"color out of range", `{"colors": [4294967296]}`},
		{"sizes not strings", `{"sizes": [1]}`},
		{"not an object", `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Product
			assert.Error(t, p.Decode(jx.DecodeStr(tt.doc)))
		})
	}
}
