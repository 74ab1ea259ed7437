package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveback/internal/bus"
	"liveback/internal/market"
)

func newFill(side market.Side, qty, price float64) market.Fill {
	return market.Fill{
		Symbol:    "BTCUSDT",
		Side:      side,
		Quantity:  qty,
		Price:     price,
		Timestamp: time.Now(),
	}
}

func TestApplyFillBuyThenReduce(t *testing.T) {
	p, err := New(100000, nil)
	require.NoError(t, err)

	// 开多 10@100：现金减少，未落 Trade。
	p.ApplyFill(newFill(market.SideBuy, 10, 100))
	pos := p.Position("BTCUSDT")
	assert.Equal(t, 10.0, pos.Quantity)
	assert.Equal(t, 100.0, pos.AvgPrice)
	assert.Equal(t, 99000.0, p.Cash())
	assert.Empty(t, p.Trades())

	// 减仓 5@110：落一条 Trade，pnl = 50。
	p.ApplyFill(newFill(market.SideSell, 5, 110))
	assert.Equal(t, 5.0, pos.Quantity)
	assert.Equal(t, 100.0, pos.AvgPrice)
	assert.Equal(t, 99550.0, p.Cash())
	require.Len(t, p.Trades(), 1)
	assert.InDelta(t, 50.0, p.Trades()[0].PnL, 1e-9)
}

func TestFlatPositionInvariant(t *testing.T) {
	p, err := New(100000, nil)
	require.NoError(t, err)

	p.ApplyFill(newFill(market.SideBuy, 10, 100))
	p.ApplyFill(newFill(market.SideSell, 10, 100))

	pos := p.Position("BTCUSDT")
	assert.Equal(t, 0.0, pos.Quantity)
	// 不变式：空仓时成本与未实现盈亏归零。
	assert.Equal(t, 0.0, pos.AvgPrice)
	assert.Equal(t, 0.0, pos.UnrealizedPnL)
	// 平价往返不改变权益。
	assert.InDelta(t, 100000.0, p.TotalEquity(), 1e-9)
}

func TestShortSide(t *testing.T) {
	p, err := New(100000, nil)
	require.NoError(t, err)

	p.ApplyFill(newFill(market.SideSell, 5, 100))
	pos := p.Position("BTCUSDT")
	assert.Equal(t, -5.0, pos.Quantity)
	assert.Equal(t, 100.0, pos.AvgPrice)
	assert.Empty(t, p.Trades())

	p.ApplyFill(newFill(market.SideBuy, 5, 90))
	assert.Equal(t, 0.0, pos.Quantity)
	assert.Equal(t, 0.0, pos.AvgPrice)
	require.Len(t, p.Trades(), 1)
	assert.InDelta(t, 50.0, p.Trades()[0].PnL, 1e-9)
	// 买入平空的现金规则：cash += qty·price − cost，空头开仓的
	// 全额卖出所得保留在现金中，平仓时不再二次结算。
	assert.InDelta(t, 100500.0, p.Cash(), 1e-9)
	assert.InDelta(t, 100500.0, p.TotalEquity(), 1e-9)
}

func TestReverseLongToShort(t *testing.T) {
	p, err := New(100000, nil)
	require.NoError(t, err)

	p.ApplyFill(newFill(market.SideBuy, 10, 100))
	// 卖出 15：先平 10 再反手开空 5。
	p.ApplyFill(newFill(market.SideSell, 15, 110))

	pos := p.Position("BTCUSDT")
	assert.Equal(t, -5.0, pos.Quantity)
	assert.Equal(t, 110.0, pos.AvgPrice)
	require.Len(t, p.Trades(), 1)
	assert.InDelta(t, 100.0, p.Trades()[0].PnL, 1e-9)
}

func TestUnrealizedAndExposure(t *testing.T) {
	p, err := New(100000, nil)
	require.NoError(t, err)
	p.ApplyFill(newFill(market.SideBuy, 10, 100))

	p.UpdateUnrealized(map[string]float64{"BTCUSDT": 120})
	pos := p.Position("BTCUSDT")
	assert.InDelta(t, 200.0, pos.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 100200.0, p.TotalEquity(), 1e-9)
	assert.InDelta(t, 1000.0, p.GrossExposure(), 1e-9)
}

func TestBusIntegration(t *testing.T) {
	b := bus.New()
	p, err := New(50000, b)
	require.NoError(t, err)

	var equities []float64
	require.NoError(t, b.Subscribe(bus.EventEquityUpdate, func(ev bus.Event) {
		equities = append(equities, ev.(bus.EquityUpdate).Equity)
	}))

	ts := time.Now()
	require.NoError(t, b.Publish(bus.PriceUpdate{Symbol: "BTCUSDT", Price: 100, Timestamp: ts}))
	require.Len(t, p.EquityCurve(), 1)
	require.Len(t, equities, 1)
	assert.InDelta(t, 50000.0, equities[0], 1e-9)

	require.NoError(t, b.Publish(bus.Fill{Fill: newFill(market.SideBuy, 10, 100), Timestamp: ts}))
	assert.Equal(t, 10.0, p.Position("BTCUSDT").Quantity)
	// ApplyFill 同样追加采样并派发 EquityUpdate。
	assert.Len(t, p.EquityCurve(), 2)
	assert.Len(t, equities, 2)
}
