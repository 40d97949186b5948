package payment

import (
	"testing"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApproved(t *testing.T) {
	assert.True(t, approved(0.0, 0.9))
	assert.True(t, approved(0.899, 0.9))
	assert.False(t, approved(0.9, 0.9))
	assert.False(t, approved(0.99, 0.95))
}

func TestSimulator_Charge(t *testing.T) {
	amount := decimal.NewFromInt(100)

	low := NewSimulator(FixedChance(0.5), DefaultCardSuccessRate, DefaultUPISuccessRate)
	c, err := low.Charge(domain.MethodCard, amount)
	require.NoError(t, err)
	assert.True(t, c.Approved)
	assert.NotEmpty(t, c.TransactionID)

	// 0.92 passes UPI's 95% but fails card's 90%
	mid := NewSimulator(FixedChance(0.92), DefaultCardSuccessRate, DefaultUPISuccessRate)
	c, err = mid.Charge(domain.MethodCard, amount)
	require.NoError(t, err)
	assert.False(t, c.Approved)
	c, err = mid.Charge(domain.MethodUPI, amount)
	require.NoError(t, err)
	assert.True(t, c.Approved)

	_, err = mid.Charge(domain.MethodCOD, amount)
	assert.Error(t, err)
}

func TestSimulator_RandomRate(t *testing.T) {
	s := NewSimulator(nil, 0.9, 0.95)
	approvedCount := 0
	for i := 0; i < 2000; i++ {
		c, err := s.Charge(domain.MethodCard, decimal.NewFromInt(1))
		require.NoError(t, err)
		if c.Approved {
			approvedCount++
		}
	}
	assert.InDelta(t, 1800, approvedCount, 120)
}
