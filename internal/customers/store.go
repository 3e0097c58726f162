package customers

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

const customerColumns = `id, name, email, cpf_cnpj, phone, address, is_active, created_at, updated_at`

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) GetByID(ctx context.Context, id string) (*Customer, error) {
	var c Customer
	err := s.DB.QueryRow(ctx, `SELECT `+customerColumns+`
		FROM customers WHERE id=$1 AND deleted_at IS NULL`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.CpfCnpj, &c.Phone, &c.Address,
			&c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFound("customer", id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetActive resolves the customer the coordinator may create orders for. A
// missing row surfaces as NotFound, an inactive one as a rule violation.
func (s *Store) GetActive(ctx context.Context, id string) (*Customer, error) {
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, domain.NewRuleViolation("cannot use inactive customer %q", id)
	}
	return c, nil
}

func (s *Store) Create(ctx context.Context, c *Customer) (*Customer, error) {
	c.ID = uuid.NewString()
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := s.DB.Exec(ctx, `
		INSERT INTO customers (id, name, email, cpf_cnpj, phone, address, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.Name, c.Email, c.CpfCnpj, c.Phone, c.Address, c.IsActive, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert customer: %w", err)
	}
	return c, nil
}

func (s *Store) Update(ctx context.Context, c *Customer) (*Customer, error) {
	c.UpdatedAt = time.Now().UTC()
	ct, err := s.DB.Exec(ctx, `
		UPDATE customers
		SET name=$2, email=$3, cpf_cnpj=$4, phone=$5, address=$6, is_active=$7, updated_at=$8
		WHERE id=$1 AND deleted_at IS NULL`,
		c.ID, c.Name, c.Email, c.CpfCnpj, c.Phone, c.Address, c.IsActive, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update customer: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return nil, domain.NewNotFound("customer", c.ID)
	}
	return c, nil
}

func (s *Store) SoftDelete(ctx context.Context, id string) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE customers SET deleted_at=now(), is_active=false, updated_at=now()
		WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft delete customer: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.NewNotFound("customer", id)
	}
	return nil
}

func (s *Store) List(ctx context.Context, page, pageSize int) ([]Customer, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var total int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM customers WHERE deleted_at IS NULL`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.DB.Query(ctx, `SELECT `+customerColumns+`
		FROM customers WHERE deleted_at IS NULL
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.CpfCnpj, &c.Phone, &c.Address,
			&c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}
