package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveback/internal/bus"
	"liveback/internal/market"
	"liveback/internal/portfolio"
)

func buyOrder(qty, limit float64) market.Order {
	o := market.Order{Symbol: "BTCUSDT", Side: market.SideBuy, Quantity: qty, LimitPrice: limit}
	if limit > 0 {
		o.Type = market.OrderTypeLimit
	} else {
		o.Type = market.OrderTypeMarket
	}
	return o
}

func ledgerWithPosition(t *testing.T, qty, price float64) *portfolio.Portfolio {
	t.Helper()
	p, err := portfolio.New(100000, nil)
	require.NoError(t, err)
	if qty != 0 {
		p.ApplyFill(market.Fill{
			Symbol: "BTCUSDT", Side: market.SideBuy,
			Quantity: qty, Price: price, Timestamp: time.Now(),
		})
	}
	return p
}

func TestPositionSizeLimit(t *testing.T) {
	gate := NewLimits(100, 0, 0)
	ledger := ledgerWithPosition(t, 60, 100)

	assert.False(t, gate.ValidateOrder(buyOrder(50, 0), ledger))
	assert.True(t, gate.ValidateOrder(buyOrder(40, 0), ledger))
}

func TestPositionSizeLimitCountsAbsolute(t *testing.T) {
	gate := NewLimits(100, 0, 0)
	ledger := ledgerWithPosition(t, 0, 0)

	sell := market.Order{Symbol: "BTCUSDT", Side: market.SideSell, Quantity: 150, Type: market.OrderTypeMarket}
	assert.False(t, gate.ValidateOrder(sell, ledger))
}

func TestExposureLimit(t *testing.T) {
	gate := NewLimits(0, 10000, 0)
	ledger := ledgerWithPosition(t, 60, 100) // 敞口 6000

	assert.False(t, gate.ValidateOrder(buyOrder(50, 100), ledger)) // 6000+5000
	assert.True(t, gate.ValidateOrder(buyOrder(30, 100), ledger))  // 6000+3000
	// 市价单无 limit 价，增量按 0 估算。
	assert.True(t, gate.ValidateOrder(buyOrder(50, 0), ledger))
}

func TestDrawdownLimit(t *testing.T) {
	gate := NewLimits(0, 0, 0.10)
	ledger := ledgerWithPosition(t, 0, 0) // equity 100000

	gate.UpdatePeakEquity(120000)
	// (120000-100000)/120000 ≈ 16.7% > 10%
	assert.False(t, gate.ValidateOrder(buyOrder(1, 0), ledger))

	gate2 := NewLimits(0, 0, 0.25)
	gate2.UpdatePeakEquity(120000)
	assert.True(t, gate2.ValidateOrder(buyOrder(1, 0), ledger))
}

func TestPeakTrackingViaBus(t *testing.T) {
	b := bus.New()
	gate := NewLimits(0, 0, 0.10)
	require.NoError(t, gate.Subscribe(b))

	require.NoError(t, b.Publish(bus.EquityUpdate{Equity: 100000, Timestamp: time.Now()}))
	require.NoError(t, b.Publish(bus.EquityUpdate{Equity: 150000, Timestamp: time.Now()}))
	require.NoError(t, b.Publish(bus.EquityUpdate{Equity: 90000, Timestamp: time.Now()}))

	peak, ok := gate.PeakEquity()
	require.True(t, ok)
	assert.Equal(t, 150000.0, peak)
}

func TestUnconfiguredLimitsPassEverything(t *testing.T) {
	gate := NewLimits(0, 0, 0)
	ledger := ledgerWithPosition(t, 60, 100)
	assert.True(t, gate.ValidateOrder(buyOrder(1e9, 1e9), ledger))
}

func TestNoopGate(t *testing.T) {
	var gate Gate = Noop{}
	assert.True(t, gate.ValidateOrder(buyOrder(1e9, 0), nil))
	gate.OnEquityUpdate(bus.EquityUpdate{})
}
