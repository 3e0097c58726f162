package products

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/vendalog/order-engine/internal/domain"
)

// fakeDB serializes transactions with a single mutex, standing in for the
// database's row-lock blocking.
type fakeDB struct {
	mu      sync.Mutex
	commits int
}

func (d *fakeDB) Begin(_ context.Context) (pgx.Tx, error) {
	d.mu.Lock()
	return &fakeTx{db: d}, nil
}

type fakeTx struct {
	pgx.Tx
	db   *fakeDB
	done bool
}

func (t *fakeTx) Commit(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.commits++
	t.db.mu.Unlock()
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.mu.Unlock()
	return nil
}

type fakeMutator struct {
	stock map[string]*Product
}

func (m *fakeMutator) LockForUpdate(_ context.Context, _ pgx.Tx, ids []string) (map[string]*Product, error) {
	out := make(map[string]*Product, len(ids))
	for _, id := range ids {
		if p, ok := m.stock[id]; ok && p.DeletedAt == nil {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (m *fakeMutator) SetQuantity(_ context.Context, _ pgx.Tx, productID string, quantity int) error {
	p, ok := m.stock[productID]
	if !ok {
		return fmt.Errorf("product %s gone", productID)
	}
	p.StockQuantity = quantity
	return nil
}

func newAdjusterFixture() (*Adjuster, *fakeDB, *fakeMutator) {
	db := &fakeDB{}
	m := &fakeMutator{stock: map[string]*Product{
		"prod-a": {ID: "prod-a", SKU: "SKU-A", Name: "Product A", Price: decimal.New(10, 0), StockQuantity: 10, IsActive: true},
	}}
	return NewAdjuster(db, m, nil), db, m
}

func TestAdjustStock_Increase(t *testing.T) {
	adj, db, m := newAdjusterFixture()

	p, err := adj.AdjustStock(context.Background(), "prod-a", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.StockQuantity != 15 || m.stock["prod-a"].StockQuantity != 15 {
		t.Errorf("expected stock 15, got %d (live %d)", p.StockQuantity, m.stock["prod-a"].StockQuantity)
	}
	if db.commits != 1 {
		t.Errorf("expected one commit, got %d", db.commits)
	}
}

func TestAdjustStock_Decrease(t *testing.T) {
	adj, _, m := newAdjusterFixture()

	p, err := adj.AdjustStock(context.Background(), "prod-a", -10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.StockQuantity != 0 || m.stock["prod-a"].StockQuantity != 0 {
		t.Errorf("decrement to exactly zero must be allowed, got %d", m.stock["prod-a"].StockQuantity)
	}
}

func TestAdjustStock_BelowZeroRejected(t *testing.T) {
	adj, db, m := newAdjusterFixture()

	_, err := adj.AdjustStock(context.Background(), "prod-a", -15)
	var stock *domain.InsufficientStockError
	if !errors.As(err, &stock) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stock.SKU != "SKU-A" || stock.Requested != 15 || stock.Available != 10 {
		t.Errorf("error details wrong: %+v", stock)
	}
	if m.stock["prod-a"].StockQuantity != 10 {
		t.Errorf("rejected adjustment must not touch stock, got %d", m.stock["prod-a"].StockQuantity)
	}
	if db.commits != 0 {
		t.Errorf("rejected adjustment must not commit, got %d", db.commits)
	}
}

func TestAdjustStock_UnknownProduct(t *testing.T) {
	adj, _, _ := newAdjusterFixture()

	_, err := adj.AdjustStock(context.Background(), "missing", 3)
	var notFound *domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestAdjustStock_ZeroDelta(t *testing.T) {
	adj, _, _ := newAdjusterFixture()

	_, err := adj.AdjustStock(context.Background(), "prod-a", 0)
	var rule *domain.RuleViolationError
	if !errors.As(err, &rule) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
}

// Two writers racing for the same row must serialize under the lock: each
// sees the other's committed quantity, so no update is ever lost and the
// non-negative invariant holds.
func TestAdjustStock_ConcurrentAdjustmentsSerialize(t *testing.T) {
	adj, _, m := newAdjusterFixture()

	run := func(results chan<- error) {
		_, err := adj.AdjustStock(context.Background(), "prod-a", -8)
		results <- err
	}

	results := make(chan error, 2)
	go run(results)
	go run(results)

	var successes, stockFailures int
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			successes++
			continue
		}
		var stock *domain.InsufficientStockError
		if errors.As(err, &stock) {
			stockFailures++
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if successes != 1 || stockFailures != 1 {
		t.Fatalf("expected one success and one stock failure, got %d/%d", successes, stockFailures)
	}
	if m.stock["prod-a"].StockQuantity != 2 {
		t.Fatalf("expected final stock 2, got %d", m.stock["prod-a"].StockQuantity)
	}
}
