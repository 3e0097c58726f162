package orders

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

// Store persists orders, their immutable item snapshots and the append-only
// status history. No business rules live here; transaction-scoped methods
// take the caller's pgx.Tx and never commit it themselves.
type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// newOrderNumber generates the human-readable unique order number,
// format PED-XXXXXXXX.
func newOrderNumber() string {
	u := uuid.New()
	return fmt.Sprintf("PED-%X", u[:4])
}

// Create writes the order, its items and the creation history entry on the
// supplied transaction. It fills in id, order number and timestamps.
func (s *Store) Create(ctx context.Context, tx pgx.Tx, o *Order) error {
	o.ID = uuid.NewString()
	o.OrderNumber = newOrderNumber()
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now

	_, err := tx.Exec(ctx, `
		INSERT INTO orders (id, order_number, customer_id, status, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		o.ID, o.OrderNumber, o.CustomerID, string(o.Status), o.Notes, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		it.ID = uuid.NewString()
		it.OrderID = o.ID
		_, err := tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_sku, product_name, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			it.ID, it.OrderID, it.ProductID, it.ProductSKU, it.ProductName, it.Quantity, it.UnitPrice)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return s.insertHistory(ctx, tx, o.ID, "", string(o.Status), "system", "order created", now)
}

// LockStatus reads the order's current status under FOR UPDATE so that
// concurrent transitions on the same order serialize.
func (s *Store) LockStatus(ctx context.Context, tx pgx.Tx, orderID string) (Status, error) {
	var st string
	err := tx.QueryRow(ctx, `
		SELECT status FROM orders
		WHERE id=$1 AND deleted_at IS NULL
		FOR UPDATE`, orderID).Scan(&st)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.NewNotFound("order", orderID)
	}
	if err != nil {
		return "", err
	}
	return Status(st), nil
}

// AppendStatusChange updates the order status and appends one immutable
// history row on the same transaction.
func (s *Store) AppendStatusChange(ctx context.Context, tx pgx.Tx, orderID string, from, to Status, changedBy, notes string) error {
	now := time.Now().UTC()
	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=$3
		WHERE id=$1 AND deleted_at IS NULL`, orderID, string(to), now)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.NewNotFound("order", orderID)
	}
	return s.insertHistory(ctx, tx, orderID, string(from), string(to), changedBy, notes, now)
}

func (s *Store) insertHistory(ctx context.Context, tx pgx.Tx, orderID, from, to, changedBy, notes string, at time.Time) error {
	if changedBy == "" {
		changedBy = "system"
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO order_history (id, order_id, from_status, to_status, changed_at, changed_by, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		uuid.NewString(), orderID, from, to, at, changedBy, notes)
	if err != nil {
		return fmt.Errorf("insert order history: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*Order, error) {
	var o Order
	var st string
	err := s.DB.QueryRow(ctx, `
		SELECT id, order_number, customer_id, status, notes, created_at, updated_at
		FROM orders WHERE id=$1 AND deleted_at IS NULL`, id).
		Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &st, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFound("order", id)
	}
	if err != nil {
		return nil, err
	}
	o.Status = Status(st)

	items, err := s.itemsFor(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return &o, nil
}

// History returns the audit trail, newest first.
func (s *Store) History(ctx context.Context, orderID string) ([]HistoryEntry, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, order_id, from_status, to_status, changed_at, changed_by, notes
		FROM order_history WHERE order_id=$1
		ORDER BY changed_at DESC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.OrderID, &h.FromStatus, &h.ToStatus, &h.ChangedAt, &h.ChangedBy, &h.Notes); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Status     Status
	CustomerID string
	DateFrom   *time.Time
	DateTo     *time.Time
}

func (s *Store) List(ctx context.Context, f ListFilter, page, pageSize int) ([]Order, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	where := `deleted_at IS NULL`
	args := []any{}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		where += fmt.Sprintf(` AND customer_id = $%d`, len(args))
	}
	if f.DateFrom != nil {
		args = append(args, *f.DateFrom)
		where += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if f.DateTo != nil {
		args = append(args, *f.DateTo)
		where += fmt.Sprintf(` AND created_at <= $%d`, len(args))
	}

	var total int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := s.DB.Query(ctx, `
		SELECT id, order_number, customer_id, status, notes, created_at, updated_at
		FROM orders WHERE `+where+
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Order
	var ids []string
	for rows.Next() {
		var o Order
		var st string
		if err := rows.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &st, &o.Notes, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, 0, err
		}
		o.Status = Status(st)
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	items, err := s.itemsFor(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, total, nil
}

// SoftDelete hides the order from every read path; it never hard-deletes.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders SET deleted_at=now(), updated_at=now()
		WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft delete order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.NewNotFound("order", id)
	}
	return nil
}

func (s *Store) itemsFor(ctx context.Context, orderIDs []string) (map[string][]Item, error) {
	out := make(map[string][]Item, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, order_id, product_id, product_sku, product_name, quantity, unit_price
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY product_sku`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductSKU, &it.ProductName, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}
