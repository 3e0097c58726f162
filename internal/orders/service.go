package orders

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/vendalog/order-engine/internal/customers"
	"github.com/vendalog/order-engine/internal/domain"
	"github.com/vendalog/order-engine/internal/events"
	"github.com/vendalog/order-engine/internal/products"
)

// TxBeginner starts the transactions the coordinator spans across the stock
// ledger and the record store. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// StockLedger is the locked stock protocol the coordinator drives. All
// methods run on the coordinator's transaction.
type StockLedger interface {
	LockForUpdate(ctx context.Context, tx pgx.Tx, productIDs []string) (map[string]*products.Product, error)
	SetQuantity(ctx context.Context, tx pgx.Tx, productID string, quantity int) error
}

// RecordStore is the persistence surface the coordinator writes through.
type RecordStore interface {
	Create(ctx context.Context, tx pgx.Tx, o *Order) error
	LockStatus(ctx context.Context, tx pgx.Tx, orderID string) (Status, error)
	AppendStatusChange(ctx context.Context, tx pgx.Tx, orderID string, from, to Status, changedBy, notes string) error
	GetByID(ctx context.Context, id string) (*Order, error)
}

// CustomerDirectory resolves customers for pre-validation; lookups are
// non-locking and happen outside the atomic section.
type CustomerDirectory interface {
	GetActive(ctx context.Context, id string) (*customers.Customer, error)
}

type ItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderInput struct {
	CustomerID string      `json:"customer_id"`
	Items      []ItemInput `json:"items"`
	Notes      string      `json:"notes"`
}

// Service is the order transaction coordinator. It owns the transaction
// boundary: one atomic unit per operation, stock locks acquired through the
// ledger in ascending id order, events published only after commit.
type Service struct {
	db        TxBeginner
	ledger    StockLedger
	store     RecordStore
	customers CustomerDirectory
	notifier  events.Notifier
	log       *zap.Logger
}

func NewService(db TxBeginner, ledger StockLedger, store RecordStore, dir CustomerDirectory, notifier events.Notifier, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	return &Service{db: db, ledger: ledger, store: store, customers: dir, notifier: notifier, log: log}
}

// CreateOrder reserves stock for every item and persists the order in one
// transaction. Any single failure (missing product, inactive product,
// insufficient stock) aborts the whole transaction: no partial deduction is
// ever committed.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if len(in.Items) == 0 {
		return nil, domain.NewRuleViolation("order must have at least one item")
	}
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, domain.NewRuleViolation("invalid quantity %d for product %q", it.Quantity, it.ProductID)
		}
	}
	if _, err := s.customers.GetActive(ctx, in.CustomerID); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		ids = append(ids, it.ProductID)
	}
	locked, err := s.ledger.LockForUpdate(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	order := &Order{
		CustomerID: in.CustomerID,
		Status:     StatusPending,
		Notes:      in.Notes,
	}
	for _, it := range in.Items {
		p, ok := locked[it.ProductID]
		if !ok {
			return nil, domain.NewNotFound("product", it.ProductID)
		}
		if !p.IsActive {
			return nil, domain.NewRuleViolation("product %q is inactive", p.SKU)
		}
		if !p.HasSufficientStock(it.Quantity) {
			return nil, &domain.InsufficientStockError{
				SKU:       p.SKU,
				Requested: it.Quantity,
				Available: p.StockQuantity,
			}
		}

		p.StockQuantity -= it.Quantity
		order.Items = append(order.Items, Item{
			ProductID:   p.ID,
			ProductSKU:  p.SKU,
			ProductName: p.Name,
			Quantity:    it.Quantity,
			UnitPrice:   p.Price,
		})
	}

	for _, p := range locked {
		if err := s.ledger.SetQuantity(ctx, tx, p.ID, p.StockQuantity); err != nil {
			return nil, err
		}
	}

	if err := s.store.Create(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("customer_id", order.CustomerID),
		zap.Int("items", len(order.Items)),
		zap.String("total", order.Total().StringFixed(2)),
	)
	s.notifier.Publish(ctx, events.OrderCreated, map[string]any{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"customer_id":  order.CustomerID,
		"status":       string(order.Status),
		"total":        order.Total().StringFixed(2),
	})
	return order, nil
}

// ChangeStatus moves the order along the state machine. Cancellation is
// routed through CancelOrder so that stock restoration never gets skipped.
func (s *Service) ChangeStatus(ctx context.Context, orderID string, target Status, notes, actor string) (*Order, error) {
	if !target.Valid() {
		return nil, domain.NewRuleViolation("unknown status %q, accepted values: %v", target, Statuses())
	}
	if target == StatusCancelled {
		return s.CancelOrder(ctx, orderID, notes, actor)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := s.store.LockStatus(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	next, err := Transition(current, target)
	if err != nil {
		return nil, err
	}
	if err := s.store.AppendStatusChange(ctx, tx, orderID, current, next, actor, notes); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.log.Info("order status changed",
		zap.String("order_id", orderID),
		zap.String("from", string(current)),
		zap.String("to", string(next)),
	)
	s.notifier.Publish(ctx, events.OrderStatusChanged, map[string]any{
		"order_id": orderID,
		"from":     string(current),
		"to":       string(next),
	})
	return s.store.GetByID(ctx, orderID)
}

// CancelOrder cancels the order and restores every item's quantity to the
// stock ledger in the same transaction. If the state machine rejects the
// cancellation no stock is touched.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason, actor string) (*Order, error) {
	order, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Re-read under lock: a competing transition may have advanced the
	// order since the load above.
	current, err := s.store.LockStatus(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	next, err := Transition(current, StatusCancelled)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(order.Items))
	for _, it := range order.Items {
		ids = append(ids, it.ProductID)
	}
	locked, err := s.ledger.LockForUpdate(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	for _, it := range order.Items {
		// Products soft-deleted since the order was placed keep their
		// frozen snapshot but get no stock back.
		p, ok := locked[it.ProductID]
		if !ok {
			continue
		}
		p.StockQuantity += it.Quantity
	}
	for _, p := range locked {
		if err := s.ledger.SetQuantity(ctx, tx, p.ID, p.StockQuantity); err != nil {
			return nil, err
		}
	}

	if reason == "" {
		reason = "order cancelled"
	}
	if err := s.store.AppendStatusChange(ctx, tx, orderID, current, next, actor, reason); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.log.Info("order cancelled",
		zap.String("order_id", orderID),
		zap.String("reason", reason),
	)
	s.notifier.Publish(ctx, events.OrderCancelled, map[string]any{
		"order_id": orderID,
		"reason":   reason,
	})
	return s.store.GetByID(ctx, orderID)
}

// GetOrder loads an order with its items.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return s.store.GetByID(ctx, orderID)
}
