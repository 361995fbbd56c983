// Package market quotes crop prices for the chat price tool.
package market

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/verdantsentinel/backend/internal/config"
)

var ErrCropRequired = errors.New("crop name is required")

var (
	minPrice  = decimal.NewFromInt(1)
	priceSpan = decimal.NewFromInt(5)
)

// Quote is a single price observation.
type Quote struct {
	Crop     string          `json:"crop"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Unit     string          `json:"unit"`
	QuotedAt time.Time       `json:"quotedAt"`
}

// PriceOracle answers market price questions.
type PriceOracle interface {
	Quote(ctx context.Context, crop string) (Quote, error)
}

// SimulatedOracle returns plausible prices in [1.00, 6.00) without calling
// any market data source.
type SimulatedOracle struct {
	mu       sync.Mutex
	rng      *rand.Rand
	currency string
	unit     string
	now      func() time.Time
}

// NewSimulatedOracle 创建模拟报价器；相同 seed 产生相同的价格序列。
func NewSimulatedOracle(cfg config.MarketConfig, seed uint64) *SimulatedOracle {
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "USD"
	}
	unit := strings.TrimSpace(cfg.Unit)
	if unit == "" {
		unit = "lb"
	}
	return &SimulatedOracle{
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		currency: currency,
		unit:     unit,
		now:      time.Now,
	}
}

// Quote implements PriceOracle.
func (o *SimulatedOracle) Quote(ctx context.Context, crop string) (Quote, error) {
	crop = strings.TrimSpace(crop)
	if crop == "" {
		return Quote{}, ErrCropRequired
	}
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}

	o.mu.Lock()
	sample := o.rng.Float64()
	o.mu.Unlock()

	// truncate so the upper bound stays exclusive
	price := minPrice.Add(decimal.NewFromFloat(sample).Mul(priceSpan)).Truncate(2)

	return Quote{
		Crop:     crop,
		Price:    price,
		Currency: o.currency,
		Unit:     o.unit,
		QuotedAt: o.now().UTC(),
	}, nil
}
