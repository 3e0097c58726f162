package products

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
)

// Ledger owns per-product stock mutations. Every method must run on a
// caller-supplied transaction; the ledger never begins or commits one.
type Ledger struct{}

func NewLedger() *Ledger { return &Ledger{} }

// LockForUpdate acquires exclusive row locks on the requested products and
// returns their snapshots keyed by id. Ids are deduplicated and locked in
// ascending order so that every caller (creation and cancellation alike)
// takes overlapping locks in the same total order, which rules out
// circular-wait deadlocks. Missing or soft-deleted rows are simply absent
// from the result; the caller decides whether that is an error.
func (l *Ledger) LockForUpdate(ctx context.Context, tx pgx.Tx, productIDs []string) (map[string]*Product, error) {
	ids := sortedUnique(productIDs)
	if len(ids) == 0 {
		return map[string]*Product{}, nil
	}

	rows, err := tx.Query(ctx, `
		SELECT id, sku, name, price, stock_quantity, is_active
		FROM products
		WHERE id = ANY($1) AND deleted_at IS NULL
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	locked := make(map[string]*Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.StockQuantity, &p.IsActive); err != nil {
			return nil, fmt.Errorf("scan locked product: %w", err)
		}
		locked[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return locked, nil
}

// SetQuantity writes the new stock quantity for a row the caller has locked
// in the same transaction. Zero rows affected means the product vanished
// under us and the encompassing transaction must abort.
func (l *Ledger) SetQuantity(ctx context.Context, tx pgx.Tx, productID string, quantity int) error {
	ct, err := tx.Exec(ctx, `
		UPDATE products
		SET stock_quantity = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, productID, quantity)
	if err != nil {
		return fmt.Errorf("set quantity: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("set quantity: product %s no longer exists", productID)
	}
	return nil
}

func sortedUnique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
