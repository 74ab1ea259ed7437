// Package report 计算回测绩效指标并渲染资金曲线图表。
package report

import (
	"math"

	"github.com/shopspring/decimal"

	"liveback/internal/market"
	"liveback/internal/portfolio"
)

// 年化按 252 个交易日折算。
const tradingDaysPerYear = 252.0

// Input 是指标计算的只读输入。
type Input struct {
	Trades      []market.Trade
	Curve       []portfolio.EquitySample
	InitialCash float64
}

// MetricResult 单个指标的计算结果。
type MetricResult struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Metric 计算一个绩效指标。
type Metric interface {
	Name() string
	Unit() string
	Calculate(in Input) float64
}

// TotalReturn 总收益率（%）。
type TotalReturn struct{}

func (TotalReturn) Name() string { return "Total Return" }
func (TotalReturn) Unit() string { return "%" }

func (TotalReturn) Calculate(in Input) float64 {
	if len(in.Curve) == 0 || in.InitialCash == 0 {
		return 0
	}
	final := in.Curve[len(in.Curve)-1].Equity
	return (final - in.InitialCash) / in.InitialCash * 100
}

// AnnualizedReturn 年化收益率（%）。时间跨度优先按时间戳推算，
// 无法推算时假设每个采样点为一个交易日。
type AnnualizedReturn struct{}

func (AnnualizedReturn) Name() string { return "Annualized Return" }
func (AnnualizedReturn) Unit() string { return "%" }

func (AnnualizedReturn) Calculate(in Input) float64 {
	if len(in.Curve) < 2 || in.InitialCash <= 0 {
		return 0
	}
	years := curveYears(in.Curve)
	if years <= 0 {
		return 0
	}
	final := in.Curve[len(in.Curve)-1].Equity
	if final <= 0 {
		return 0
	}
	return (math.Pow(final/in.InitialCash, 1/years) - 1) * 100
}

func curveYears(curve []portfolio.EquitySample) float64 {
	first, last := curve[0].Timestamp, curve[len(curve)-1].Timestamp
	if !first.IsZero() && last.After(first) {
		days := last.Sub(first).Hours() / 24
		return days / 365.25
	}
	return float64(len(curve)) / tradingDaysPerYear
}

// SharpeRatio 年化夏普比率，按资金曲线的逐点简单收益率计算。
type SharpeRatio struct {
	// RiskFreeRate 年化无风险利率，缺省 0。
	RiskFreeRate float64
}

func (SharpeRatio) Name() string { return "Annualized Sharpe Ratio" }
func (SharpeRatio) Unit() string { return "" }

func (m SharpeRatio) Calculate(in Input) float64 {
	if len(in.Curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(in.Curve)-1)
	for i := 1; i < len(in.Curve); i++ {
		prev := in.Curve[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, (in.Curve[i].Equity-prev)/prev)
	}
	if len(returns) == 0 {
		return 0
	}
	mean, std := meanStd(returns)
	if std == 0 {
		return 0
	}
	excess := mean - m.RiskFreeRate/tradingDaysPerYear
	return excess / std * math.Sqrt(tradingDaysPerYear)
}

func meanStd(xs []float64) (mean, std float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		std += (x - mean) * (x - mean)
	}
	// 总体标准差。
	std = math.Sqrt(std / float64(len(xs)))
	return mean, std
}

// MaxDrawdown 最大回撤（%），按资金曲线的历史峰值折算。
type MaxDrawdown struct{}

func (MaxDrawdown) Name() string { return "Max Drawdown" }
func (MaxDrawdown) Unit() string { return "%" }

func (MaxDrawdown) Calculate(in Input) float64 {
	peak, maxDD := 0.0, 0.0
	for _, sample := range in.Curve {
		if sample.Equity > peak {
			peak = sample.Equity
		}
		if peak > 0 {
			if dd := (peak - sample.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD * 100
}

// WinRate 盈利交易占比（%）。
type WinRate struct{}

func (WinRate) Name() string { return "Win Rate" }
func (WinRate) Unit() string { return "%" }

func (WinRate) Calculate(in Input) float64 {
	if len(in.Trades) == 0 {
		return 0
	}
	winners := 0
	for _, trade := range in.Trades {
		if trade.PnL > 0 {
			winners++
		}
	}
	return float64(winners) / float64(len(in.Trades)) * 100
}

// ProfitFactor 盈亏比：总盈利 / 总亏损。无亏损且有盈利时返回 +Inf。
type ProfitFactor struct{}

func (ProfitFactor) Name() string { return "Profit Factor" }
func (ProfitFactor) Unit() string { return "x" }

func (ProfitFactor) Calculate(in Input) float64 {
	if len(in.Trades) == 0 {
		return 0
	}
	grossProfit, grossLoss := decimal.Zero, decimal.Zero
	for _, trade := range in.Trades {
		pnl := decimal.NewFromFloat(trade.PnL)
		if pnl.IsPositive() {
			grossProfit = grossProfit.Add(pnl)
		} else {
			grossLoss = grossLoss.Add(pnl.Abs())
		}
	}
	if grossLoss.IsZero() {
		if grossProfit.IsPositive() {
			return math.Inf(1)
		}
		return 0
	}
	ratio, _ := grossProfit.Div(grossLoss).Float64()
	return ratio
}

// AveragePnL 平均每笔交易盈亏。
type AveragePnL struct{}

func (AveragePnL) Name() string { return "Avg PnL Per Trade" }
func (AveragePnL) Unit() string { return "$" }

func (AveragePnL) Calculate(in Input) float64 {
	if len(in.Trades) == 0 {
		return 0
	}
	total := decimal.Zero
	for _, trade := range in.Trades {
		total = total.Add(decimal.NewFromFloat(trade.PnL))
	}
	avg, _ := total.Div(decimal.NewFromInt(int64(len(in.Trades)))).Float64()
	return avg
}

// NumTrades 交易笔数。
type NumTrades struct{}

func (NumTrades) Name() string { return "Num Trades" }
func (NumTrades) Unit() string { return "" }

func (NumTrades) Calculate(in Input) float64 { return float64(len(in.Trades)) }

// Turnover 成交额合计 Σ(quantity*price)，衡量换手规模。
type Turnover struct{}

func (Turnover) Name() string { return "Turnover" }
func (Turnover) Unit() string { return "$" }

func (Turnover) Calculate(in Input) float64 {
	total := decimal.Zero
	for _, trade := range in.Trades {
		notional := decimal.NewFromFloat(trade.Quantity).Mul(decimal.NewFromFloat(trade.Price))
		total = total.Add(notional)
	}
	v, _ := total.Float64()
	return v
}

// TotalCosts 滑点与佣金成本合计。
type TotalCosts struct{}

func (TotalCosts) Name() string { return "Total Costs" }
func (TotalCosts) Unit() string { return "$" }

func (TotalCosts) Calculate(in Input) float64 {
	total := decimal.Zero
	for _, trade := range in.Trades {
		total = total.Add(decimal.NewFromFloat(trade.Slippage))
		total = total.Add(decimal.NewFromFloat(trade.Commission))
	}
	v, _ := total.Float64()
	return v
}

// Duration 回测区间天数。
type Duration struct{}

func (Duration) Name() string { return "Duration" }
func (Duration) Unit() string { return "days" }

func (Duration) Calculate(in Input) float64 {
	if len(in.Curve) < 2 {
		return 0
	}
	first, last := in.Curve[0].Timestamp, in.Curve[len(in.Curve)-1].Timestamp
	if first.IsZero() || !last.After(first) {
		return 0
	}
	return last.Sub(first).Hours() / 24
}
