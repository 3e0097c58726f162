package products

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/vendalog/order-engine/internal/domain"
)

// TxBeginner starts the transaction an adjustment runs on. *pgxpool.Pool
// satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// StockMutator is the locked mutation surface of the ledger.
type StockMutator interface {
	LockForUpdate(ctx context.Context, tx pgx.Tx, productIDs []string) (map[string]*Product, error)
	SetQuantity(ctx context.Context, tx pgx.Tx, productID string, quantity int) error
}

// Adjuster applies manual stock corrections (restock, shrinkage) through the
// ledger's lock protocol so they serialize with order reservations.
type Adjuster struct {
	db     TxBeginner
	ledger StockMutator
	log    *zap.Logger
}

func NewAdjuster(db TxBeginner, ledger StockMutator, log *zap.Logger) *Adjuster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adjuster{db: db, ledger: ledger, log: log}
}

// AdjustStock applies a signed quantity delta under the row lock. The
// resulting quantity may never go below zero.
func (a *Adjuster) AdjustStock(ctx context.Context, productID string, delta int) (*Product, error) {
	if delta == 0 {
		return nil, domain.NewRuleViolation("stock adjustment must be non-zero")
	}

	tx, err := a.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	locked, err := a.ledger.LockForUpdate(ctx, tx, []string{productID})
	if err != nil {
		return nil, err
	}
	p, ok := locked[productID]
	if !ok {
		return nil, domain.NewNotFound("product", productID)
	}

	next := p.StockQuantity + delta
	if next < 0 {
		return nil, &domain.InsufficientStockError{
			SKU:       p.SKU,
			Requested: -delta,
			Available: p.StockQuantity,
		}
	}
	if err := a.ledger.SetQuantity(ctx, tx, productID, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	p.StockQuantity = next
	a.log.Info("stock adjusted",
		zap.String("product_id", productID),
		zap.String("sku", p.SKU),
		zap.Int("delta", delta),
		zap.Int("stock_quantity", next),
	)
	return p, nil
}
