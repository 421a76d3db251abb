package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/catalog-ingest/internal/domain/product"
)

// DefaultCollection is the collection product documents are stored in.
const DefaultCollection = "Products"

// Writing the same id twice replaces the body, so a commit retried after a
// lost acknowledgement does not fail on its own earlier write.
const (
	createDocumentSQL = `INSERT INTO documents (collection, id, body, price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection, id) DO UPDATE SET body = EXCLUDED.body, price = EXCLUDED.price
		RETURNING created_at`

	getDocumentSQL = `SELECT body, created_at FROM documents WHERE collection = $1 AND id = $2`

	listDocumentsSQL = `SELECT body, created_at FROM documents WHERE collection = $1
		ORDER BY created_at DESC, id`
)

// Querier is the subset of pgxpool.Pool used by the repository.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var (
	_ Querier            = (*pgxpool.Pool)(nil)
	_ product.Repository = (*ProductRepository)(nil)
)

// ProductRepository implements product.Repository as JSON documents in one
// collection of the documents table.
type ProductRepository struct {
	db         Querier
	collection string
}

// NewProductRepository returns a ProductRepository storing documents under
// collection, or DefaultCollection when empty.
func NewProductRepository(db Querier, collection string) *ProductRepository {
	if collection == "" {
		collection = DefaultCollection
	}
	return &ProductRepository{db: db, collection: collection}
}

// Create stores p and sets its CreatedAt from the database.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	p.Encode(e)

	var createdAt time.Time
	err := r.db.QueryRow(ctx, createDocumentSQL, r.collection, p.ID, e.Bytes(), p.Price).Scan(&createdAt)
	if err != nil {
		return fmt.Errorf("creating product %q: %w", p.ID, err)
	}
	p.CreatedAt = createdAt
	return nil
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.db.Query(ctx, getDocumentSQL, r.collection, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// List returns all products, newest first.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.db.Query(ctx, listDocumentsSQL, r.collection)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p         product.Product
		body      []byte
		createdAt time.Time
	)
	if err := row.Scan(&body, &createdAt); err != nil {
		return p, err
	}
	if err := p.Decode(jx.DecodeBytes(body)); err != nil {
		return p, fmt.Errorf("decoding document: %w", err)
	}
	p.CreatedAt = createdAt
	return p, nil
}
