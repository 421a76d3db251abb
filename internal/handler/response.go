package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/catalog-ingest/internal/domain/product"
)

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError writes {"code","message"} plus the field reasons, if any.
func writeError(w http.ResponseWriter, status int, message string, fields []product.FieldError) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		if len(fields) > 0 {
			e.Field("fields", func(e *jx.Encoder) {
				e.ArrStart()
				for _, f := range fields {
					e.Obj(func(e *jx.Encoder) {
						e.Field("field", func(e *jx.Encoder) { e.Str(f.Field) })
						e.Field("reason", func(e *jx.Encoder) { e.Str(f.Reason) })
					})
				}
				e.ArrEnd()
			})
		}
		e.ObjEnd()
	})
}

func encodeProduct(e *jx.Encoder, p *product.Product) {
	e.ObjStart()
	p.EncodeFields(e)
	if !p.CreatedAt.IsZero() {
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(p.CreatedAt.UTC().Format(time.RFC3339Nano)) })
	}
	e.ObjEnd()
}
