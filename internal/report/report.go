package report

import (
	"fmt"
	"math"
	"strings"

	"liveback/internal/portfolio"
)

// Generator 按配置的指标集生成绩效报告。
type Generator struct {
	metrics []Metric
}

// NewGenerator 创建报告生成器；metrics 为空时使用默认指标集。
func NewGenerator(metrics ...Metric) *Generator {
	if len(metrics) == 0 {
		metrics = DefaultMetrics()
	}
	return &Generator{metrics: metrics}
}

// DefaultMetrics 返回默认指标集。
func DefaultMetrics() []Metric {
	return []Metric{
		TotalReturn{},
		AnnualizedReturn{},
		SharpeRatio{},
		MaxDrawdown{},
		WinRate{},
		ProfitFactor{},
		AveragePnL{},
		NumTrades{},
		Turnover{},
		TotalCosts{},
		Duration{},
	}
}

// AddMetric 追加一个指标，支持链式调用。
func (g *Generator) AddMetric(m Metric) *Generator {
	g.metrics = append(g.metrics, m)
	return g
}

// Generate 从账本读取回测结果并计算全部指标。
func (g *Generator) Generate(port *portfolio.Portfolio) []MetricResult {
	in := Input{
		Trades:      port.Trades(),
		Curve:       port.EquityCurve(),
		InitialCash: port.InitialCash(),
	}
	results := make([]MetricResult, 0, len(g.metrics))
	for _, m := range g.metrics {
		results = append(results, MetricResult{
			Name:  m.Name(),
			Value: m.Calculate(in),
			Unit:  m.Unit(),
		})
	}
	return results
}

// Format 把报告渲染为可读文本块。
func Format(results []MetricResult) string {
	var b strings.Builder
	line := strings.Repeat("=", 50)
	b.WriteString(line + "\n")
	b.WriteString("Performance Report\n")
	b.WriteString(line + "\n")
	for _, r := range results {
		value := fmt.Sprintf("%.4f", r.Value)
		if math.IsInf(r.Value, 1) {
			value = "inf"
		} else if math.IsInf(r.Value, -1) {
			value = "-inf"
		}
		unit := ""
		if r.Unit != "" {
			unit = " " + r.Unit
		}
		b.WriteString(fmt.Sprintf("%-30s %12s%s\n", r.Name, value, unit))
	}
	b.WriteString(line)
	return b.String()
}
