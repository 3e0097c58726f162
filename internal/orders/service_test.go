package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/vendalog/order-engine/internal/customers"
	"github.com/vendalog/order-engine/internal/domain"
	"github.com/vendalog/order-engine/internal/products"
)

// fakeDB serializes transactions with a single mutex, standing in for the
// database's row-lock blocking: Begin blocks until the previous transaction
// commits or rolls back.
type fakeDB struct {
	mu        sync.Mutex
	commits   int
	rollbacks int
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
	t.db.rollbacks++
	t.db.mu.Unlock()
	return nil
}

// fakeLedger keeps live stock in a map. LockForUpdate hands out copies so
// that aborted transactions cannot leak snapshot mutations; SetQuantity
// writes through.
type fakeLedger struct {
	stock map[string]*products.Product
}

func (l *fakeLedger) LockForUpdate(_ context.Context, _ pgx.Tx, ids []string) (map[string]*products.Product, error) {
	out := make(map[string]*products.Product, len(ids))
	for _, id := range ids {
		if p, ok := l.stock[id]; ok && p.DeletedAt == nil {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (l *fakeLedger) SetQuantity(_ context.Context, _ pgx.Tx, productID string, quantity int) error {
	p, ok := l.stock[productID]
	if !ok {
		return fmt.Errorf("product %s gone", productID)
	}
	p.StockQuantity = quantity
	return nil
}

type fakeStore struct {
	mu      sync.Mutex
	seq     int
	orders  map[string]*Order
	history []HistoryEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: make(map[string]*Order)}
}

func (s *fakeStore) Create(_ context.Context, _ pgx.Tx, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	o.ID = fmt.Sprintf("order-%d", s.seq)
	o.OrderNumber = fmt.Sprintf("PED-%08d", s.seq)
	cp := *o
	s.orders[o.ID] = &cp
	s.history = append(s.history, HistoryEntry{OrderID: o.ID, ToStatus: string(o.Status)})
	return nil
}

func (s *fakeStore) LockStatus(_ context.Context, _ pgx.Tx, orderID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return "", domain.NewNotFound("order", orderID)
	}
	return o.Status, nil
}

func (s *fakeStore) AppendStatusChange(_ context.Context, _ pgx.Tx, orderID string, from, to Status, changedBy, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return domain.NewNotFound("order", orderID)
	}
	o.Status = to
	s.history = append(s.history, HistoryEntry{
		OrderID:    orderID,
		FromStatus: string(from),
		ToStatus:   string(to),
		ChangedBy:  changedBy,
		Notes:      notes,
	})
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.NewNotFound("order", id)
	}
	cp := *o
	return &cp, nil
}

type fakeDirectory struct {
	customers map[string]*customers.Customer
}

func (d *fakeDirectory) GetActive(_ context.Context, id string) (*customers.Customer, error) {
	c, ok := d.customers[id]
	if !ok {
		return nil, domain.NewNotFound("customer", id)
	}
	if !c.IsActive {
		return nil, domain.NewRuleViolation("cannot use inactive customer %q", id)
	}
	return c, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Publish(_ context.Context, eventType string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type fixture struct {
	db       *fakeDB
	ledger   *fakeLedger
	store    *fakeStore
	notifier *recordingNotifier
	svc      *Service
}

func newFixture() *fixture {
	db := &fakeDB{}
	ledger := &fakeLedger{stock: map[string]*products.Product{
		"prod-a": {ID: "prod-a", SKU: "SKU-A", Name: "Product A", Price: dec("10.00"), StockQuantity: 20, IsActive: true},
		"prod-b": {ID: "prod-b", SKU: "SKU-B", Name: "Product B", Price: dec("5.50"), StockQuantity: 30, IsActive: true},
		"prod-c": {ID: "prod-c", SKU: "SKU-C", Name: "Product C", Price: dec("99.90"), StockQuantity: 2, IsActive: true},
		"prod-x": {ID: "prod-x", SKU: "SKU-X", Name: "Inactive", Price: dec("1.00"), StockQuantity: 50, IsActive: false},
	}}
	store := newFakeStore()
	dir := &fakeDirectory{customers: map[string]*customers.Customer{
		"cust-1": {ID: "cust-1", Name: "Alice", IsActive: true},
		"cust-2": {ID: "cust-2", Name: "Bob", IsActive: false},
	}}
	notifier := &recordingNotifier{}
	return &fixture{
		db:       db,
		ledger:   ledger,
		store:    store,
		notifier: notifier,
		svc:      NewService(db, ledger, store, dir, notifier, nil),
	}
}

func (f *fixture) stockOf(id string) int { return f.ledger.stock[id].StockQuantity }

func TestCreateOrder_Success(t *testing.T) {
	f := newFixture()

	order, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: "cust-1",
		Items: []ItemInput{
			{ProductID: "prod-a", Quantity: 2},
			{ProductID: "prod-b", Quantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if order.Status != StatusPending {
		t.Errorf("expected pending, got %s", order.Status)
	}
	if got := order.Total().StringFixed(2); got != "36.50" {
		t.Errorf("expected total 36.50, got %s", got)
	}
	if f.stockOf("prod-a") != 18 || f.stockOf("prod-b") != 27 {
		t.Errorf("stock not deducted correctly: a=%d b=%d", f.stockOf("prod-a"), f.stockOf("prod-b"))
	}
	if f.db.commits != 1 {
		t.Errorf("expected exactly one commit, got %d", f.db.commits)
	}
	if f.notifier.count() != 1 {
		t.Errorf("expected one event, got %d", f.notifier.count())
	}

	// Item snapshots are frozen copies of the product at creation time.
	if order.Items[0].ProductSKU != "SKU-A" || order.Items[0].UnitPrice.StringFixed(2) != "10.00" {
		t.Errorf("item snapshot not captured: %+v", order.Items[0])
	}
}

func TestCreateOrder_AllOrNothing(t *testing.T) {
	f := newFixture()

	// prod-c only has 2 in stock; the whole order must fail and leave
	// every product untouched.
	_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: "cust-1",
		Items: []ItemInput{
			{ProductID: "prod-a", Quantity: 5},
			{ProductID: "prod-b", Quantity: 10},
			{ProductID: "prod-c", Quantity: 15},
		},
	})

	var stock *domain.InsufficientStockError
	if !errors.As(err, &stock) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stock.SKU != "SKU-C" || stock.Requested != 15 || stock.Available != 2 {
		t.Errorf("error details wrong: %+v", stock)
	}

	if f.stockOf("prod-a") != 20 || f.stockOf("prod-b") != 30 || f.stockOf("prod-c") != 2 {
		t.Errorf("stock mutated by failed order: a=%d b=%d c=%d",
			f.stockOf("prod-a"), f.stockOf("prod-b"), f.stockOf("prod-c"))
	}
	if len(f.store.orders) != 0 {
		t.Errorf("no order record may exist after failure, found %d", len(f.store.orders))
	}
	if f.db.commits != 0 {
		t.Errorf("failed creation must not commit, got %d commits", f.db.commits)
	}
	if f.notifier.count() != 0 {
		t.Errorf("failed creation must not publish events")
	}
}

func TestCreateOrder_EmptyItems(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{CustomerID: "cust-1"})
	var rule *domain.RuleViolationError
	if !errors.As(err, &rule) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
}

func TestCreateOrder_InvalidQuantity(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: "cust-1",
		Items:      []ItemInput{{ProductID: "prod-a", Quantity: 0}},
	})
	var rule *domain.RuleViolationError
	if !errors.As(err, &rule) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
}

func TestCreateOrder_UnknownCustomer(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: "nobody",
		Items:      []ItemInput{{ProductID: "prod-a", Quantity: 1}},
	})
	var notFound *domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestCreateOrder_InactiveCustomer(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: "cust-2",
		Items:      []ItemInput{{ProductID: "prod-a", Quantity: 1}},
	})
	var rule *domain.RuleViolationError
	if !errors.As(err, &rule) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
}

func TestCreateOrder_UnknownProduct(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: "cust-1",
		Items: []ItemInput{
			{ProductID: "prod-a", Quantity: 1},
			{ProductID: "missing", Quantity: 1},
		},
	})
	var notFound *domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if f.stockOf("prod-a") != 20 {
		t.Errorf("stock must be untouched after failure")
	}
}

func TestCreateOrder_InactiveProduct(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: "cust-1",
		Items:      []ItemInput{{ProductID: "prod-x", Quantity: 1}},
	})
	var rule *domain.RuleViolationError
	if !errors.As(err, &rule) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
}

func TestCancelOrder_RestoresStockExactly(t *testing.T) {
	f := newFixture()

	order, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: "cust-1",
		Items: []ItemInput{
			{ProductID: "prod-a", Quantity: 7},
			{ProductID: "prod-c", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if f.stockOf("prod-a") != 13 || f.stockOf("prod-c") != 0 {
		t.Fatalf("unexpected post-create stock")
	}

	cancelled, err := f.svc.CancelOrder(context.Background(), order.ID, "customer asked", "support")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	if f.stockOf("prod-a") != 20 || f.stockOf("prod-c") != 2 {
		t.Errorf("stock not restored: a=%d c=%d", f.stockOf("prod-a"), f.stockOf("prod-c"))
	}

	last := f.store.history[len(f.store.history)-1]
	if last.FromStatus != "pending" || last.ToStatus != "cancelled" || last.ChangedBy != "support" {
		t.Errorf("history entry wrong: %+v", last)
	}
}

func TestCancelOrder_RejectedAfterSeparation(t *testing.T) {
	f := newFixture()

	order, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: "cust-1",
		Items:      []ItemInput{{ProductID: "prod-a", Quantity: 5}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.ChangeStatus(context.Background(), order.ID, StatusConfirmed, "", ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := f.svc.ChangeStatus(context.Background(), order.ID, StatusSeparated, "", ""); err != nil {
		t.Fatalf("separate: %v", err)
	}

	_, err = f.svc.CancelOrder(context.Background(), order.ID, "too late", "support")
	var invalid *domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	// Rejected cancellation must not touch stock.
	if f.stockOf("prod-a") != 15 {
		t.Errorf("stock must stay deducted, got %d", f.stockOf("prod-a"))
	}
}

func TestChangeStatus_InvalidJump(t *testing.T) {
	f := newFixture()
	order, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: "cust-1",
		Items:      []ItemInput{{ProductID: "prod-a", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.svc.ChangeStatus(context.Background(), order.ID, StatusShipped, "", "")
	var invalid *domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestChangeStatus_UnknownStatus(t *testing.T) {
	f := newFixture()
	_, err := f.svc.ChangeStatus(context.Background(), "order-1", Status("refunded"), "", "")
	var rule *domain.RuleViolationError
	if !errors.As(err, &rule) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
}

func TestChangeStatus_CancelledRoutesThroughCancelOrder(t *testing.T) {
	f := newFixture()
	order, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: "cust-1",
		Items:      []ItemInput{{ProductID: "prod-a", Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := f.svc.ChangeStatus(context.Background(), order.ID, StatusCancelled, "oops", "ops")
	if err != nil {
		t.Fatalf("cancel via change-status: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	if f.stockOf("prod-a") != 20 {
		t.Errorf("stock must be restored even via the generic endpoint, got %d", f.stockOf("prod-a"))
	}
}

func TestCreateOrder_ConcurrentOversellPrevented(t *testing.T) {
	f := newFixture()
	f.ledger.stock["prod-a"].StockQuantity = 10

	run := func(results chan<- error) {
		_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
			CustomerID: "cust-1",
			Items:      []ItemInput{{ProductID: "prod-a", Quantity: 8}},
		})
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
		t.Fatalf("expected exactly one success and one stock failure, got %d/%d", successes, stockFailures)
	}
	if f.stockOf("prod-a") != 2 {
		t.Fatalf("expected final stock 2, got %d", f.stockOf("prod-a"))
	}
}
