package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// SizeQuantity is one stock bucket. Buckets that reach zero are removed from
// the product, so a present bucket always has Quantity > 0.
type SizeQuantity struct {
	Size     int `json:"size"`
	Quantity int `json:"quantity"`
}

type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Brand        string          `json:"brand"`
	Image        string          `json:"image"`
	Price        decimal.Decimal `json:"price"`
	SizeQuantity []SizeQuantity  `json:"sizeQuantity"`
}

// Available returns the stock for size, zero when the bucket is absent.
func (p *Product) Available(size int) int {
	for _, sq := range p.SizeQuantity {
		if sq.Size == size {
			return sq.Quantity
		}
	}
	return 0
}

// DisplayName is what the hosted checkout page shows for a line.
func (p *Product) DisplayName() string {
	if p.Brand == "" {
		return p.Name
	}
	return p.Brand + " " + p.Name
}

func (p *Product) Slug() string {
	if p.Name == "" {
		return "product"
	}
	return strings.Join(strings.Fields(strings.ToLower(p.Name)), "-")
}
