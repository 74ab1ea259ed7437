package report

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveback/internal/market"
	"liveback/internal/portfolio"
)

func sampleInput() Input {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := []portfolio.EquitySample{
		{Timestamp: base, Equity: 100000},
		{Timestamp: base.AddDate(0, 6, 0), Equity: 120000},
		{Timestamp: base.AddDate(1, 0, 0), Equity: 110000},
	}
	trades := []market.Trade{
		{PnL: 500, Quantity: 10, Price: 100, Slippage: 5, Commission: 2.5},
		{PnL: -200, Quantity: 5, Price: 110, Slippage: 2.5, Commission: 2.5},
		{PnL: 300, Quantity: 2, Price: 95, Slippage: 1, Commission: 2.5},
	}
	return Input{Trades: trades, Curve: curve, InitialCash: 100000}
}

func TestTotalReturn(t *testing.T) {
	got := TotalReturn{}.Calculate(sampleInput())
	assert.InDelta(t, 10.0, got, 1e-9)

	assert.Equal(t, 0.0, TotalReturn{}.Calculate(Input{}))
}

func TestMaxDrawdown(t *testing.T) {
	got := MaxDrawdown{}.Calculate(sampleInput())
	// 峰值 120000 → 110000，回撤 8.33%。
	assert.InDelta(t, 100.0/12.0, got, 1e-6)
}

func TestWinRate(t *testing.T) {
	got := WinRate{}.Calculate(sampleInput())
	assert.InDelta(t, 200.0/3.0, got, 1e-6)
}

func TestProfitFactor(t *testing.T) {
	got := ProfitFactor{}.Calculate(sampleInput())
	assert.InDelta(t, 4.0, got, 1e-9) // 800 / 200

	onlyWins := Input{Trades: []market.Trade{{PnL: 100}}}
	assert.True(t, math.IsInf(ProfitFactor{}.Calculate(onlyWins), 1))

	assert.Equal(t, 0.0, ProfitFactor{}.Calculate(Input{}))
}

func TestAveragePnL(t *testing.T) {
	got := AveragePnL{}.Calculate(sampleInput())
	assert.InDelta(t, 200.0, got, 1e-9)
}

func TestTurnoverAndCosts(t *testing.T) {
	in := sampleInput()
	// 10*100 + 5*110 + 2*95 = 1740
	assert.InDelta(t, 1740.0, Turnover{}.Calculate(in), 1e-9)
	// 滑点 8.5 + 佣金 7.5
	assert.InDelta(t, 16.0, TotalCosts{}.Calculate(in), 1e-9)
}

func TestAnnualizedReturnUsesTimestampSpan(t *testing.T) {
	got := AnnualizedReturn{}.Calculate(sampleInput())
	// 恰好约一年，年化 ≈ 总收益。
	assert.InDelta(t, 10.0, got, 0.1)
}

func TestSharpeRatioZeroVariance(t *testing.T) {
	base := time.Now()
	flat := Input{Curve: []portfolio.EquitySample{
		{Timestamp: base, Equity: 100},
		{Timestamp: base.Add(time.Hour), Equity: 100},
		{Timestamp: base.Add(2 * time.Hour), Equity: 100},
	}}
	assert.Equal(t, 0.0, SharpeRatio{}.Calculate(flat))
}

func TestDuration(t *testing.T) {
	got := Duration{}.Calculate(sampleInput())
	assert.InDelta(t, 366.0, got, 1.0)
}

func TestGeneratorFormat(t *testing.T) {
	p, err := portfolio.New(100000, nil)
	require.NoError(t, err)
	p.ApplyFill(market.Fill{Symbol: "BTCUSDT", Side: market.SideBuy, Quantity: 10, Price: 100, Timestamp: time.Now()})
	p.ApplyFill(market.Fill{Symbol: "BTCUSDT", Side: market.SideSell, Quantity: 10, Price: 110, Timestamp: time.Now()})

	gen := NewGenerator()
	results := gen.Generate(p)
	require.Len(t, results, len(DefaultMetrics()))

	text := Format(results)
	assert.Contains(t, text, "Performance Report")
	assert.Contains(t, text, "Total Return")
}
