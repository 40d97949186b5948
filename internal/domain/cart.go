package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartItem struct {
	ProductID string    `json:"productId"`
	Size      int       `json:"size"`
	Qty       int       `json:"qty"`
	AddedAt   time.Time `json:"addedAt"`
}

type Cart struct {
	UserID     string          `json:"userId"`
	Items      []CartItem      `json:"items"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}
