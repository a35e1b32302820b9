package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID        string          `json:"id" db:"order_id"`
	Number    string          `json:"number" db:"number"`
	UserID    string          `json:"userId" db:"user_id"`
	UserEmail string          `json:"userEmail,omitempty" db:"-"`
	Total     decimal.Decimal `json:"totalAmount" db:"total_amount"`
	Status    Status          `json:"status" db:"status"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}

// Item is an order line. PriceAtTime is fixed when the order is placed and
// never follows later catalog price changes.
type Item struct {
	ID          string          `json:"id" db:"item_id"`
	OrderID     string          `json:"orderId" db:"order_id"`
	ProductID   string          `json:"productId" db:"product_id"`
	ProductName string          `json:"productName" db:"product_name"`
	Quantity    int             `json:"quantity" db:"quantity"`
	PriceAtTime decimal.Decimal `json:"priceAtTime" db:"price_at_time"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}

type OrderWithItems struct {
	Order
	Items []Item `json:"items"`
}

type StatusUp struct {
	Status    Status `json:"status" validate:"required,oneof=pending confirmed processing shipped delivered cancelled"`
	ChangedBy string `json:"-"`
}

type History struct {
	ID        string    `json:"id" db:"history_id"`
	OrderID   string    `json:"orderId" db:"order_id"`
	From      *Status   `json:"fromStatus" db:"from_status"`
	To        Status    `json:"toStatus" db:"to_status"`
	ChangedBy *string   `json:"changedBy" db:"changed_by"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
