package products

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendalog/order-engine/internal/domain"
)

const productColumns = `id, sku, name, description, price, stock_quantity, is_active, created_at, updated_at`

// Store is the conventional CRUD layer for products. Stock mutations under
// concurrency go through the Ledger, never through here.
type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Price,
		&p.StockQuantity, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*Product, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+productColumns+`
		FROM products WHERE id=$1 AND deleted_at IS NULL`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFound("product", id)
	}
	return p, err
}

func (s *Store) GetBySKU(ctx context.Context, sku string) (*Product, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+productColumns+`
		FROM products WHERE sku=$1 AND deleted_at IS NULL`, sku)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFound("product", sku)
	}
	return p, err
}

func (s *Store) Create(ctx context.Context, p *Product) (*Product, error) {
	p.ID = uuid.NewString()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := s.DB.Exec(ctx, `
		INSERT INTO products (id, sku, name, description, price, stock_quantity, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.SKU, p.Name, p.Description, p.Price, p.StockQuantity, p.IsActive, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	return p, nil
}

// Update rewrites the descriptive fields. stock_quantity is absent on
// purpose: stock rows are mutated only by the Ledger under lock, so a stale
// admin write can never overwrite a committed reservation. The current
// quantity is read back so the returned product stays accurate.
func (s *Store) Update(ctx context.Context, p *Product) (*Product, error) {
	p.UpdatedAt = time.Now().UTC()
	err := s.DB.QueryRow(ctx, `
		UPDATE products
		SET sku=$2, name=$3, description=$4, price=$5, is_active=$6, updated_at=$7
		WHERE id=$1 AND deleted_at IS NULL
		RETURNING stock_quantity`,
		p.ID, p.SKU, p.Name, p.Description, p.Price, p.IsActive, p.UpdatedAt).
		Scan(&p.StockQuantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFound("product", p.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	return p, nil
}

// SoftDelete marks the product deleted and inactive; rows are never removed.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE products SET deleted_at=now(), is_active=false, updated_at=now()
		WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft delete product: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.NewNotFound("product", id)
	}
	return nil
}

func (s *Store) List(ctx context.Context, f ListFilter, page, pageSize int) ([]Product, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	where := `deleted_at IS NULL`
	args := []any{}
	if f.SKU != "" {
		args = append(args, "%"+f.SKU+"%")
		where += fmt.Sprintf(` AND sku ILIKE $%d`, len(args))
	}
	if f.Name != "" {
		args = append(args, "%"+f.Name+"%")
		where += fmt.Sprintf(` AND name ILIKE $%d`, len(args))
	}
	if f.IsActive != nil {
		args = append(args, *f.IsActive)
		where += fmt.Sprintf(` AND is_active = $%d`, len(args))
	}

	var total int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM products WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products WHERE `+where+
		fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Price,
			&p.StockQuantity, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}
