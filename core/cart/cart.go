package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

type Cart struct {
	ID        string    `json:"id" db:"cart_id"`
	UserID    string    `json:"-" db:"user_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
	Items     []Item    `json:"items" db:"-"`
}

// Total is the sum of the line extensions at their snapshot prices.
func (c Cart) Total() decimal.Decimal {
	tot := decimal.Zero
	for _, it := range c.Items {
		tot = tot.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return tot
}

// Item is one product in a cart. Price is the unit price captured when the
// product was first added and is what checkout charges.
type Item struct {
	CartID      string          `json:"-" db:"cart_id"`
	ProductID   string          `json:"productId" db:"product_id"`
	UserID      string          `json:"-" db:"user_id"`
	ProductName string          `json:"productName" db:"product_name"`
	Quantity    int             `json:"quantity" db:"quantity"`
	Price       decimal.Decimal `json:"price" db:"price"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

type ItemNew struct {
	ProductID string `json:"productId" validate:"required,uuid4"`
	Quantity  int    `json:"quantity" validate:"required,gte=1,lte=1000"`
}

type ItemUp struct {
	Quantity int `json:"quantity" validate:"required,gte=1,lte=1000"`
}
