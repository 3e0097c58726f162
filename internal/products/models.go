package products

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            string          `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     *time.Time      `json:"-"`
}

func (p *Product) HasSufficientStock(quantity int) bool {
	return p.StockQuantity >= quantity
}

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	SKU      string
	Name     string
	IsActive *bool
}
