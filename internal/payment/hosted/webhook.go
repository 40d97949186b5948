package hosted

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

const (
	SignatureHeader  = "Stripe-Signature"
	DefaultTolerance = webhook.DefaultTolerance

	EventCheckoutCompleted = string(stripe.EventTypeCheckoutSessionCompleted)
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

type Event struct {
	ID   string
	Type string
	Data struct {
		Object json.RawMessage
	}
}

type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

type CustomerDetails struct {
	Name    string
	Email   string
	Phone   string
	Address Address
}

// CompletedSession is the object carried by checkout.session.completed.
type CompletedSession struct {
	ID              string
	Customer        string
	PaymentIntent   string
	PaymentStatus   string
	AmountSubtotal  int64
	AmountTotal     int64
	Currency        string
	CustomerDetails CustomerDetails
	Metadata        map[string]string
}

// CartEntry is one element of the session's "cart" metadata.
type CartEntry struct {
	ProductID string `json:"productId"`
	Qty       int    `json:"qty"`
	Size      int    `json:"size"`
}

// ConstructEvent verifies the signature header and decodes the event.
// Timestamps further than tolerance from now are rejected.
func ConstructEvent(payload []byte, header, secret string, tolerance time.Duration) (*Event, error) {
	if secret == "" || header == "" {
		return nil, ErrInvalidSignature
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	ev, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if signatureError(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data != nil {
		out.Data.Object = ev.Data.Raw
	}
	return out, nil
}

func signatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

// SignatureHeaderValue formats a header the way the provider sends it.
func SignatureHeaderValue(payload []byte, secret string, ts int64) string {
	sig := webhook.ComputeSignature(time.Unix(ts, 0), payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(sig))
}

func (e *Event) CompletedSession() (*CompletedSession, error) {
	if e.Type != EventCheckoutCompleted {
		return nil, fmt.Errorf("%w: event %s is not %s", ErrMalformedEvent, e.Type, EventCheckoutCompleted)
	}
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(e.Data.Object, &cs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if cs.ID == "" {
		return nil, fmt.Errorf("%w: session without id", ErrMalformedEvent)
	}

	s := &CompletedSession{
		ID:             cs.ID,
		PaymentStatus:  string(cs.PaymentStatus),
		AmountSubtotal: cs.AmountSubtotal,
		AmountTotal:    cs.AmountTotal,
		Currency:       string(cs.Currency),
		Metadata:       cs.Metadata,
	}
	if cs.Customer != nil {
		s.Customer = cs.Customer.ID
	}
	if cs.PaymentIntent != nil {
		s.PaymentIntent = cs.PaymentIntent.ID
	}
	if d := cs.CustomerDetails; d != nil {
		s.CustomerDetails = CustomerDetails{Name: d.Name, Email: d.Email, Phone: d.Phone}
		if a := d.Address; a != nil {
			s.CustomerDetails.Address = Address{
				Line1:      a.Line1,
				Line2:      a.Line2,
				City:       a.City,
				State:      a.State,
				PostalCode: a.PostalCode,
				Country:    a.Country,
			}
		}
	}
	return s, nil
}

// Cart decodes the "cart" metadata written when the session was created.
func (s *CompletedSession) Cart() ([]CartEntry, error) {
	raw, ok := s.Metadata["cart"]
	if !ok || raw == "" {
		return nil, fmt.Errorf("%w: session %s has no cart metadata", ErrMalformedEvent, s.ID)
	}
	var entries []CartEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("%w: cart metadata: %v", ErrMalformedEvent, err)
	}
	return entries, nil
}
