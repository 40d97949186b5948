// Package payment simulates the synchronous card and UPI authorizations.
package payment

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	DefaultCardSuccessRate = 0.90
	DefaultUPISuccessRate  = 0.95
)

// ChanceSource yields values in [0, 1). Tests pin it to force an outcome.
type ChanceSource interface {
	Float64() float64
}

type RandomChance struct{}

func (RandomChance) Float64() float64 {
	return rand.Float64()
}

// FixedChance always returns the same roll.
type FixedChance float64

func (f FixedChance) Float64() float64 {
	return float64(f)
}

type Charge struct {
	Approved      bool
	TransactionID string
}

type Simulator struct {
	source   ChanceSource
	cardRate float64
	upiRate  float64
}

func NewSimulator(source ChanceSource, cardRate, upiRate float64) *Simulator {
	if source == nil {
		source = RandomChance{}
	}
	return &Simulator{source: source, cardRate: cardRate, upiRate: upiRate}
}

// Charge approves with the configured probability for the method. Only card
// and UPI are simulated.
func (s *Simulator) Charge(method domain.Method, amount decimal.Decimal) (Charge, error) {
	var rate float64
	switch method {
	case domain.MethodCard:
		rate = s.cardRate
	case domain.MethodUPI:
		rate = s.upiRate
	default:
		return Charge{}, fmt.Errorf("method %s is not simulated", method)
	}
	if amount.IsNegative() {
		return Charge{}, fmt.Errorf("negative amount %s", amount)
	}

	return Charge{
		Approved:      approved(s.source.Float64(), rate),
		TransactionID: fmt.Sprintf("TXN-%s-%d", method, time.Now().UnixNano()),
	}, nil
}

func approved(roll, rate float64) bool {
	return roll < rate
}
