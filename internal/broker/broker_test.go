package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveback/internal/market"
)

func bar(open, high, low, close float64) market.Bar {
	return market.Bar{
		Symbol:    "BTCUSDT",
		Timestamp: time.Now(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
	}
}

func TestMarketOrderFillsAtOpen(t *testing.T) {
	b := New(Config{})
	_, err := b.NewOrder("BTCUSDT", 10, 0, 0)
	require.NoError(t, err)

	fills, err := b.ProcessOrders(market.NewMultiBar(bar(105, 106, 99, 104)))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, 105.0, fills[0].Price)
	assert.Equal(t, market.SideBuy, fills[0].Side)
	assert.Empty(t, b.OpenOrders())
}

func TestLimitBuyFillsAtMinOpenLimit(t *testing.T) {
	b := New(Config{})
	_, err := b.NewOrder("BTCUSDT", 10, 100, 0)
	require.NoError(t, err)

	// low=99 触及 limit=100，成交价 = min(open, limit) = 100。
	fills, err := b.ProcessOrders(market.NewMultiBar(bar(105, 106, 99, 104)))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, 100.0, fills[0].Price)
}

func TestLimitSellFillsAtMaxOpenLimit(t *testing.T) {
	b := New(Config{})
	_, err := b.NewOrder("BTCUSDT", -10, 108, 0)
	require.NoError(t, err)

	fills, err := b.ProcessOrders(market.NewMultiBar(bar(105, 110, 99, 104)))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, 108.0, fills[0].Price)
	assert.Equal(t, market.SideSell, fills[0].Side)
}

func TestStopSellFillsAtMinOpenStop(t *testing.T) {
	b := New(Config{})
	_, err := b.NewOrder("BTCUSDT", -5, 0, 98)
	require.NoError(t, err)

	fills, err := b.ProcessOrders(market.NewMultiBar(bar(100, 101, 95, 97)))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, 98.0, fills[0].Price)
}

func TestStopBuyFillsAtMaxOpenStop(t *testing.T) {
	b := New(Config{})
	_, err := b.NewOrder("BTCUSDT", 5, 0, 103)
	require.NoError(t, err)

	fills, err := b.ProcessOrders(market.NewMultiBar(bar(100, 104, 95, 102)))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, 103.0, fills[0].Price)
}

func TestBoundaryTouchFills(t *testing.T) {
	// low == limit 视为触及。
	b := New(Config{})
	_, err := b.NewOrder("BTCUSDT", 10, 99, 0)
	require.NoError(t, err)

	fills, err := b.ProcessOrders(market.NewMultiBar(bar(105, 106, 99, 104)))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, 99.0, fills[0].Price)
}

func TestLimitOrderStaysOpen(t *testing.T) {
	b := New(Config{})
	_, err := b.NewOrder("BTCUSDT", 10, 100, 0)
	require.NoError(t, err)

	fills, err := b.ProcessOrders(market.NewMultiBar(bar(105, 106, 101, 104)))
	require.NoError(t, err)
	assert.Empty(t, fills)
	require.Len(t, b.OpenOrders(), 1)

	// 下一步触及后成交。
	fills, err = b.ProcessOrders(market.NewMultiBar(bar(102, 103, 99, 100)))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, 100.0, fills[0].Price)
}

func TestSlippageAndCommission(t *testing.T) {
	b := New(Config{Slippage: 0.5, Commission: 2.5})
	_, err := b.NewOrder("BTCUSDT", 10, 0, 0)
	require.NoError(t, err)

	fills, err := b.ProcessOrders(market.NewMultiBar(bar(100, 101, 99, 100)))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.InDelta(t, 100.5, fills[0].Price, 1e-9)
	assert.InDelta(t, 5.0, fills[0].Slippage, 1e-9)
	assert.InDelta(t, 2.5, fills[0].Commission, 1e-9)

	// 卖单滑点反向。
	_, err = b.NewOrder("BTCUSDT", -10, 0, 0)
	require.NoError(t, err)
	fills, err = b.ProcessOrders(market.NewMultiBar(bar(100, 101, 99, 100)))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.InDelta(t, 99.5, fills[0].Price, 1e-9)
}

func TestMarketOrderReferencePriceFallback(t *testing.T) {
	t.Run("submit reference price", func(t *testing.T) {
		b := New(Config{})
		order, err := b.Submit(market.Order{Symbol: "ETHUSDT", Side: market.SideBuy, Quantity: 1}, 2000)
		require.NoError(t, err)
		assert.Equal(t, market.OrderTypeMarket, order.Type)

		fills, err := b.ProcessOrders(market.MultiBar{Timestamp: time.Now()})
		require.NoError(t, err)
		require.Len(t, fills, 1)
		assert.Equal(t, 2000.0, fills[0].Price)
	})

	t.Run("cached last price", func(t *testing.T) {
		b := New(Config{})
		// 先观测一步行情，缓存最新价。
		_, err := b.ProcessOrders(market.NewMultiBar(bar(100, 101, 99, 120)))
		require.NoError(t, err)

		_, err = b.NewOrder("BTCUSDT", 1, 0, 0)
		require.NoError(t, err)
		fills, err := b.ProcessOrders(market.MultiBar{Timestamp: time.Now()})
		require.NoError(t, err)
		require.Len(t, fills, 1)
		assert.Equal(t, 120.0, fills[0].Price)
	})

	t.Run("no reference price", func(t *testing.T) {
		b := New(Config{})
		_, err := b.NewOrder("BTCUSDT", 1, 0, 0)
		require.NoError(t, err)
		_, err = b.ProcessOrders(market.MultiBar{Timestamp: time.Now()})
		require.ErrorIs(t, err, ErrNoReferencePrice)
		// 失败的订单保持留存。
		assert.Len(t, b.OpenOrders(), 1)
	})
}

func TestReferencePriceErrorKeepsOtherOrders(t *testing.T) {
	t.Run("queued orders survive the error", func(t *testing.T) {
		b := New(Config{})
		// 无任何参考价的市价单排在前面。
		_, err := b.NewOrder("ETHUSDT", 1, 0, 0)
		require.NoError(t, err)
		// 之后的限价单当步未触及，应继续等待而不是被丢弃。
		_, err = b.NewOrder("BTCUSDT", 10, 50, 0)
		require.NoError(t, err)

		_, err = b.ProcessOrders(market.NewMultiBar(bar(100, 106, 99, 104)))
		require.ErrorIs(t, err, ErrNoReferencePrice)
		assert.Len(t, b.OpenOrders(), 2)
	})

	t.Run("queued orders still fill alongside the error", func(t *testing.T) {
		b := New(Config{})
		_, err := b.NewOrder("ETHUSDT", 1, 0, 0)
		require.NoError(t, err)
		_, err = b.NewOrder("BTCUSDT", 10, 100, 0)
		require.NoError(t, err)

		fills, err := b.ProcessOrders(market.NewMultiBar(bar(105, 106, 99, 104)))
		require.ErrorIs(t, err, ErrNoReferencePrice)
		require.Len(t, fills, 1)
		assert.Equal(t, 100.0, fills[0].Price)
		// 只剩出错的市价单留存。
		require.Len(t, b.OpenOrders(), 1)
		assert.Equal(t, "ETHUSDT", b.OpenOrders()[0].Symbol)
	})
}

func TestLimitTakesPrecedenceOverStop(t *testing.T) {
	b := New(Config{})
	order, err := b.NewOrder("BTCUSDT", 1, 100, 98)
	require.NoError(t, err)
	assert.Equal(t, market.OrderTypeLimit, order.Type)
}

func TestZeroQuantityRejected(t *testing.T) {
	b := New(Config{})
	_, err := b.NewOrder("BTCUSDT", 0, 0, 0)
	assert.Error(t, err)
	_, err = b.Submit(market.Order{Symbol: "BTCUSDT", Side: market.SideBuy}, 0)
	assert.Error(t, err)
}

func TestCancel(t *testing.T) {
	b := New(Config{})
	order, err := b.NewOrder("BTCUSDT", 1, 100, 0)
	require.NoError(t, err)

	assert.True(t, b.Cancel(order.ID))
	assert.False(t, b.Cancel(order.ID))
	assert.Empty(t, b.OpenOrders())
}

func TestBrokerOwnLedger(t *testing.T) {
	b := New(Config{})
	_, err := b.NewOrder("BTCUSDT", 10, 0, 0)
	require.NoError(t, err)
	_, err = b.ProcessOrders(market.NewMultiBar(bar(100, 101, 99, 100)))
	require.NoError(t, err)

	pos := b.Position("BTCUSDT")
	assert.Equal(t, 10.0, pos.Quantity)
	assert.Equal(t, 100.0, pos.AvgPrice)

	_, err = b.NewOrder("BTCUSDT", -10, 0, 0)
	require.NoError(t, err)
	_, err = b.ProcessOrders(market.NewMultiBar(bar(110, 111, 109, 110)))
	require.NoError(t, err)

	require.Len(t, b.Trades(), 2)
	require.Len(t, b.ClosedTrades(), 1)
	assert.InDelta(t, 100.0, b.ClosedTrades()[0].PnL, 1e-9)
}
