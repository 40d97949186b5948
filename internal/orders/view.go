package orders

import (
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/shopspring/decimal"
)

// OrderView is the order-history shape the storefront client renders.
type OrderView struct {
	LegacyID      string                `json:"_id"`
	ID            string                `json:"id"`
	TotalPrice    decimal.Decimal       `json:"totalPrice"`
	Subtotal      decimal.Decimal       `json:"subtotal"`
	Currency      string                `json:"currency"`
	Delivered     domain.DeliveryStatus `json:"delivered"`
	PaymentStatus domain.PaymentStatus  `json:"paymentStatus"`
	PaymentMethod domain.Method         `json:"paymentMethod"`
	CreatedAt     time.Time             `json:"createdAt"`
	Items         []ItemView            `json:"items"`
	Cancellation  domain.Cancellation   `json:"cancellation"`
}

type ItemView struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Image      string          `json:"image"`
	Qty        int             `json:"qty"`
	Size       int             `json:"size"`
	Color      string          `json:"color"`
	Price      decimal.Decimal `json:"price"`
	IsReviewed bool            `json:"isReviewed"`
	Slug       string          `json:"slug"`
}

// ViewOf renders a single order from its own snapshot, without a product lookup.
func ViewOf(o *domain.Order) OrderView {
	return newOrderView(o, nil)
}

func newOrderView(o *domain.Order, products map[string]*domain.Product) OrderView {
	items := make([]ItemView, 0, len(o.Products))
	for _, l := range o.Products {
		item := ItemView{
			ID:         l.ProductID,
			Name:       l.Name,
			Qty:        l.Quantity,
			Size:       l.Size,
			Color:      "N/A",
			Price:      l.UnitPrice,
			IsReviewed: l.IsReviewed,
		}
		// product catalog details win over the snapshot when the product still exists
		p, ok := products[l.ProductID]
		if !ok {
			p = &domain.Product{Name: l.Name}
		}
		if p.Name != "" {
			item.Name = p.Name
		}
		item.Image = p.Image
		if p.Brand != "" {
			item.Color = p.Brand
		}
		item.Slug = p.Slug()
		items = append(items, item)
	}

	id := o.ID.String()
	return OrderView{
		LegacyID:      id,
		ID:            id,
		TotalPrice:    o.Total,
		Subtotal:      o.Subtotal,
		Currency:      o.Currency,
		Delivered:     o.DeliveryStatus,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		CreatedAt:     o.CreatedAt,
		Items:         items,
		Cancellation:  o.Cancellation,
	}
}
