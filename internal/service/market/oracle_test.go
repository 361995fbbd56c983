package market

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantsentinel/backend/internal/config"
)

func TestSimulatedOracleQuoteRange(t *testing.T) {
	oracle := NewSimulatedOracle(config.MarketConfig{Currency: "usd", Unit: "lb"}, 42)
	low, high := decimal.NewFromInt(1), decimal.NewFromInt(6)

	for i := 0; i < 200; i++ {
		q, err := oracle.Quote(context.Background(), "Tomato")
		require.NoError(t, err)
		assert.True(t, q.Price.GreaterThanOrEqual(low), "price %s below range", q.Price)
		assert.True(t, q.Price.LessThan(high), "price %s above range", q.Price)
		assert.LessOrEqual(t, -q.Price.Exponent(), int32(2), "price %s has more than 2 places", q.Price)
		assert.Equal(t, "USD", q.Currency)
		assert.Equal(t, "lb", q.Unit)
		assert.Equal(t, "Tomato", q.Crop)
	}
}

func TestSimulatedOracleDeterministicSeed(t *testing.T) {
	a := NewSimulatedOracle(config.MarketConfig{}, 7)
	b := NewSimulatedOracle(config.MarketConfig{}, 7)

	qa, err := a.Quote(context.Background(), "corn")
	require.NoError(t, err)
	qb, err := b.Quote(context.Background(), "corn")
	require.NoError(t, err)

	assert.True(t, qa.Price.Equal(qb.Price))
	assert.Equal(t, "USD", qa.Currency)
}

func TestSimulatedOracleRejectsEmptyCrop(t *testing.T) {
	oracle := NewSimulatedOracle(config.MarketConfig{}, 1)
	_, err := oracle.Quote(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrCropRequired)
}

func TestSimulatedOracleHonoursCancellation(t *testing.T) {
	oracle := NewSimulatedOracle(config.MarketConfig{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := oracle.Quote(ctx, "wheat")
	assert.ErrorIs(t, err, context.Canceled)
}
