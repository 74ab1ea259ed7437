package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveback/internal/broker"
	"liveback/internal/bus"
	"liveback/internal/market"
	"liveback/internal/portfolio"
	"liveback/internal/risk"
)

// scriptedStrategy 在首条观测上买入固定数量并持有。
type scriptedStrategy struct {
	qty     float64
	placed  bool
	pending []market.Order
	fills   []market.Fill
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) Initialize(*Context) error { return nil }

func (s *scriptedStrategy) OnBar(bar market.Bar) {
	if s.placed || bar.MarkPrice() <= 0 {
		return
	}
	s.placed = true
	s.pending = append(s.pending, market.Order{
		Symbol:   bar.Symbol,
		Side:     market.SideBuy,
		Quantity: s.qty,
		Type:     market.OrderTypeMarket,
	})
}

func (s *scriptedStrategy) OnFill(fill market.Fill) { s.fills = append(s.fills, fill) }

func (s *scriptedStrategy) Orders() []market.Order {
	out := s.pending
	s.pending = nil
	return out
}

func testBars() []market.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(i int, price float64) market.Bar {
		return market.Bar{
			Symbol:    "BTCUSDT",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      price, High: price, Low: price, Close: price,
		}
	}
	return []market.Bar{mk(0, 100), mk(1, 110), mk(2, 120)}
}

func newTestEngine(t *testing.T, cfg Config, strat Strategy, gate risk.Gate, cash float64) (*Engine, *portfolio.Portfolio) {
	t.Helper()
	b := bus.New()
	port, err := portfolio.New(cash, b)
	require.NoError(t, err)
	brok := broker.New(broker.Config{})
	eng, err := New(cfg, market.NewSliceSource(testBars()), strat, port, brok, gate, b)
	require.NoError(t, err)
	return eng, port
}

func TestRunBuyAndLiquidate(t *testing.T) {
	strat := &scriptedStrategy{qty: 95}
	eng, port := newTestEngine(t, Config{Finalize: true}, strat, nil, 10000)

	require.NoError(t, eng.Run(context.Background()))
	assert.Equal(t, StateDone, eng.State())
	assert.Equal(t, 3, eng.Steps())

	// 买入 95@100 → 清算 95@120，实现盈亏 1900。
	require.Len(t, strat.fills, 2)
	assert.Equal(t, 100.0, strat.fills[0].Price)
	assert.Equal(t, 120.0, strat.fills[1].Price)
	require.Len(t, port.Trades(), 1)
	assert.InDelta(t, 1900.0, port.Trades()[0].PnL, 1e-9)
	assert.InDelta(t, 11900.0, port.TotalEquity(), 1e-9)
	assert.Equal(t, 0.0, port.Position("BTCUSDT").Quantity)
}

func TestRunWithoutFinalizeKeepsPosition(t *testing.T) {
	strat := &scriptedStrategy{qty: 10}
	eng, port := newTestEngine(t, Config{}, strat, nil, 10000)

	require.NoError(t, eng.Run(context.Background()))
	assert.Equal(t, 10.0, port.Position("BTCUSDT").Quantity)
	assert.Empty(t, port.Trades())
	// 未实现盈亏 (120-100)*10。
	assert.InDelta(t, 10200.0, port.TotalEquity(), 1e-9)
}

func TestRiskGateDropsOrderSilently(t *testing.T) {
	strat := &scriptedStrategy{qty: 95}
	gate := risk.NewLimits(10, 0, 0)
	eng, port := newTestEngine(t, Config{Finalize: true}, strat, gate, 10000)

	require.NoError(t, eng.Run(context.Background()))
	assert.Empty(t, strat.fills)
	assert.Empty(t, port.Trades())
	assert.InDelta(t, 10000.0, port.TotalEquity(), 1e-9)
}

func TestEquityCurveTimestampsMonotonic(t *testing.T) {
	strat := &scriptedStrategy{qty: 5}
	eng, port := newTestEngine(t, Config{Finalize: true}, strat, nil, 10000)
	require.NoError(t, eng.Run(context.Background()))

	curve := port.EquityCurve()
	require.NotEmpty(t, curve)
	for i := 1; i < len(curve); i++ {
		assert.False(t, curve[i].Timestamp.Before(curve[i-1].Timestamp))
	}
}

func TestBarWithoutPriceStillSamplesEquity(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []market.Bar{
		{Symbol: "BTCUSDT", Timestamp: base, Open: 100, High: 100, Low: 100, Close: 100},
		// 仅有 symbol/timestamp 的观测同样合法。
		{Symbol: "BTCUSDT", Timestamp: base.Add(time.Hour)},
		{Symbol: "BTCUSDT", Timestamp: base.Add(2 * time.Hour), Open: 110, High: 110, Low: 110, Close: 110},
	}
	b := bus.New()
	port, err := portfolio.New(10000, b)
	require.NoError(t, err)
	eng, err := New(Config{}, market.NewSliceSource(bars), &scriptedStrategy{qty: 1}, port, broker.New(broker.Config{}), nil, b)
	require.NoError(t, err)

	require.NoError(t, eng.Run(context.Background()))
	// 每条观测至少一个采样（成交会追加更多）。
	assert.GreaterOrEqual(t, len(port.EquityCurve()), 3)
	assert.Equal(t, base.Add(time.Hour), port.EquityCurve()[2].Timestamp)
}

func TestRunTwiceRejected(t *testing.T) {
	strat := &scriptedStrategy{qty: 1}
	eng, _ := newTestEngine(t, Config{}, strat, nil, 10000)
	require.NoError(t, eng.Run(context.Background()))
	assert.Error(t, eng.Run(context.Background()))
}

func TestRunCancelledContext(t *testing.T) {
	strat := &scriptedStrategy{qty: 1}
	eng, _ := newTestEngine(t, Config{}, strat, nil, 10000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, eng.Run(ctx), context.Canceled)
}
