package domain

import "strings"

// Method is the closed set of payment strategies.
type Method string

const (
	MethodHosted Method = "hosted"
	MethodCOD    Method = "cod"
	MethodCard   Method = "card"
	MethodUPI    Method = "upi"
)

// ParseMethod accepts the method names clients send. An empty value and the
// legacy "stripe" name select the hosted flow.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hosted", "stripe":
		return MethodHosted, nil
	case "cod":
		return MethodCOD, nil
	case "card":
		return MethodCard, nil
	case "upi":
		return MethodUPI, nil
	default:
		return "", Validation("Unsupported payment method")
	}
}

func (m Method) String() string {
	return string(m)
}

// CardData is what the client submits for a simulated card payment. It is
// never persisted.
type CardData struct {
	CardNumber     string `json:"cardNumber"`
	CVV            string `json:"cvv"`
	Expiry         string `json:"expiry,omitempty"`
	CardType       string `json:"cardType,omitempty"`
	CardholderName string `json:"cardholderName,omitempty"`
}

// Describe returns the redacted view stored on the order.
func (c *CardData) Describe() *CardDescriptor {
	digits := strings.ReplaceAll(c.CardNumber, " ", "")
	last := digits
	if len(digits) > 4 {
		last = digits[len(digits)-4:]
	}
	return &CardDescriptor{
		CardType:       c.CardType,
		LastFour:       last,
		CardholderName: c.CardholderName,
	}
}

type CardDescriptor struct {
	CardType       string `json:"cardType,omitempty"`
	LastFour       string `json:"lastFour"`
	CardholderName string `json:"cardholderName,omitempty"`
}
