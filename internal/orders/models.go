package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID          string     `json:"id"`
	OrderNumber string     `json:"order_number"`
	CustomerID  string     `json:"customer_id"`
	Status      Status     `json:"status"`
	Items       []Item     `json:"items"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"-"`
}

// Item is a frozen snapshot of the product at order-creation time. Later
// price or name changes never alter historical orders.
type Item struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"-"`
	ProductID   string          `json:"product_id"`
	ProductSKU  string          `json:"product_sku"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// HistoryEntry is one append-only audit row per accepted status change,
// including the initial creation (empty FromStatus).
type HistoryEntry struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"-"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ChangedAt  time.Time `json:"changed_at"`
	ChangedBy  string    `json:"changed_by"`
	Notes      string    `json:"notes,omitempty"`
}

func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Total sums the item subtotals.
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// TotalItems counts the units across all items.
func (o *Order) TotalItems() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

func (o *Order) IsDeleted() bool { return o.DeletedAt != nil }
