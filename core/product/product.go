package product

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `json:"id" db:"product_id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	ImageURL    string          `json:"imageUrl" db:"image_url"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Stock       int             `json:"stock" db:"stock_quantity"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

type ProductNew struct {
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock" validate:"gte=0"`
	ImageURL    string          `json:"imageUrl" validate:"omitempty,url"`
}

type ProductUp struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock" validate:"omitempty,gte=0"`
	ImageURL    *string          `json:"imageUrl" validate:"omitempty,url"`
}
