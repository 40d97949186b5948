package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryProcessing DeliveryStatus = "processing"
	DeliveryShipped    DeliveryStatus = "shipped"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryCancelled  DeliveryStatus = "cancelled"
)

var deliveryRank = map[DeliveryStatus]int{
	DeliveryPending:    0,
	DeliveryProcessing: 1,
	DeliveryShipped:    2,
	DeliveryDelivered:  3,
}

func (s DeliveryStatus) Valid() bool {
	_, ok := deliveryRank[s]
	return ok || s == DeliveryCancelled
}

// Cancellable reports whether the cancellation gate lets an order in this
// state through.
func (s DeliveryStatus) Cancellable() bool {
	return s == DeliveryPending || s == DeliveryProcessing
}

func (s DeliveryStatus) String() string {
	return string(s)
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
	// PaymentRefundDue marks a paid order none of whose lines could be
	// fulfilled. The refund itself is issued at the provider.
	PaymentRefundDue PaymentStatus = "refund_due"
)

// ParsePaymentStatus maps a provider-reported status onto ours. Unknown values
// are treated as pending.
func ParsePaymentStatus(s string) PaymentStatus {
	switch PaymentStatus(s) {
	case PaymentPaid, PaymentFailed, PaymentRefunded:
		return PaymentStatus(s)
	default:
		return PaymentPending
	}
}

type Actor string

const (
	ActorUser   Actor = "user"
	ActorAdmin  Actor = "admin"
	ActorSystem Actor = "system"
)

// InventoryState tracks whether the stock an order holds is still committed.
type InventoryState string

const (
	InventoryCommitted      InventoryState = "committed"
	InventoryReleasePending InventoryState = "release_pending"
	// InventoryReleasing marks an order claimed by one releaser.
	InventoryReleasing InventoryState = "releasing"
	InventoryReleased  InventoryState = "released"
)

// Restock records what happened to a line's stock after cancellation.
type Restock string

const (
	RestockReturned Restock = "returned"
	// RestockSkipped lines could never go back, e.g. the product was deleted.
	RestockSkipped Restock = "skipped"
)

const DefaultCancellationReason = "Cancelled by user"

type OrderLine struct {
	ProductID  string          `json:"productId"`
	Name       string          `json:"name,omitempty"`
	Quantity   int             `json:"quantity"`
	Size       int             `json:"size"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	IsReviewed bool            `json:"isReviewed"`
	Restock    Restock         `json:"restock,omitempty"`
}

type Address struct {
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

type Cancellation struct {
	IsCancelled bool       `json:"isCancelled"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	CancelledBy Actor      `json:"cancelledBy,omitempty"`
	Reason      string     `json:"cancellationReason,omitempty"`
}

type Order struct {
	ID              uuid.UUID
	UserID          string
	CheckoutKey     string
	PaymentMethod   Method
	PaymentIntentID string
	ProviderEventID string
	Products        []OrderLine
	Subtotal        decimal.Decimal
	Total           decimal.Decimal
	Currency        string
	Shipping        Address
	BillingAddress  Address
	CardDetails     *CardDescriptor
	DeliveryStatus  DeliveryStatus
	PaymentStatus   PaymentStatus
	Cancellation    Cancellation
	InventoryState  InventoryState
	CartCleared     bool
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Cancel applies the cancellation gate. Shipped and delivered orders are
// checked before the cancelled flag.
func (o *Order) Cancel(actor Actor, reason string, now time.Time) error {
	if o.DeliveryStatus == DeliveryShipped || o.DeliveryStatus == DeliveryDelivered {
		return ErrNotCancellable
	}
	if o.Cancellation.IsCancelled || o.DeliveryStatus == DeliveryCancelled {
		return ErrAlreadyCancelled
	}
	if !o.DeliveryStatus.Cancellable() {
		return ErrNotCancellable
	}
	if reason == "" {
		reason = DefaultCancellationReason
	}
	if actor == "" {
		actor = ActorUser
	}

	at := now
	o.DeliveryStatus = DeliveryCancelled
	o.Cancellation = Cancellation{
		IsCancelled: true,
		CancelledAt: &at,
		CancelledBy: actor,
		Reason:      reason,
	}
	o.UpdatedAt = now
	return nil
}

// Advance moves the delivery status forward. Cancelled orders and backward
// moves are rejected.
func (o *Order) Advance(to DeliveryStatus, now time.Time) error {
	if o.DeliveryStatus == DeliveryCancelled || to == DeliveryCancelled {
		return ErrIllegalTransition
	}
	next, ok := deliveryRank[to]
	if !ok {
		return Validation("Unknown delivery status")
	}
	if next <= deliveryRank[o.DeliveryStatus] {
		return ErrIllegalTransition
	}
	o.DeliveryStatus = to
	o.UpdatedAt = now
	return nil
}

// StockLines lists what the order took from inventory.
func (o *Order) StockLines() []StockLine {
	lines := make([]StockLine, 0, len(o.Products))
	for _, p := range o.Products {
		if p.Quantity > 0 {
			lines = append(lines, StockLine{ProductID: p.ProductID, Size: p.Size, Qty: p.Quantity})
		}
	}
	return lines
}

// StockLine is a single (product, size, qty) movement against the ledger.
type StockLine struct {
	ProductID string `json:"productId"`
	Size      int    `json:"size"`
	Qty       int    `json:"qty"`
}
