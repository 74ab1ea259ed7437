package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"liveback/internal/broker"
	"liveback/internal/bus"
	"liveback/internal/engine"
	"liveback/internal/logger"
	"liveback/internal/market"
	"liveback/internal/portfolio"
	"liveback/internal/report"
	"liveback/internal/risk"
	"liveback/internal/strategy"
)

// Runner 负责回测任务的提交、执行与结果查询。
// 每次 Submit 在独立 goroutine 中组装并运行一套引擎。
type Runner struct {
	candles  *CandleStore
	results  *ResultStore
	registry *strategy.Registry
	sem      chan struct{}
	baseCtx  context.Context
}

func NewRunner(candles *CandleStore, results *ResultStore, registry *strategy.Registry, maxConcurrent int) (*Runner, error) {
	if candles == nil || results == nil || registry == nil {
		return nil, fmt.Errorf("runner 依赖不完整")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Runner{
		candles:  candles,
		results:  results,
		registry: registry,
		sem:      make(chan struct{}, maxConcurrent),
		baseCtx:  context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (r *Runner) SetContext(ctx context.Context) {
	if ctx != nil {
		r.baseCtx = ctx
	}
}

func (r *Runner) ctx() context.Context {
	if r.baseCtx == nil {
		return context.Background()
	}
	return r.baseCtx
}

// Submit 校验配置、登记 run 并异步执行。
func (r *Runner) Submit(cfg RunConfig) (Run, error) {
	if err := cfg.validate(); err != nil {
		return Run{}, err
	}
	tf, err := ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return Run{}, err
	}
	cfg.StartTS, cfg.EndTS = tf.AlignRange(cfg.StartTS, cfg.EndTS)
	if _, ok := r.registry.Template(cfg.Strategy); !ok {
		return Run{}, fmt.Errorf("unknown strategy: %s", cfg.Strategy)
	}
	now := time.Now()
	run := Run{
		ID:        uuid.NewString(),
		Status:    RunStatusPending,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.results.InsertRun(r.ctx(), run); err != nil {
		return Run{}, err
	}
	logger.Infof("[backtest] run %s 提交：%s %s [%d,%d] strategy=%s",
		run.ID, cfg.Symbol, cfg.Timeframe, cfg.StartTS, cfg.EndTS, cfg.Strategy)
	go r.execute(run)
	return run, nil
}

func (r *Runner) execute(run Run) {
	select {
	case r.sem <- struct{}{}:
	case <-r.ctx().Done():
		_ = r.results.UpdateRunStatus(context.Background(), run.ID, RunStatusFailed, "服务已关闭")
		return
	}
	defer func() { <-r.sem }()

	ctx := r.ctx()
	if err := r.results.UpdateRunStatus(ctx, run.ID, RunStatusRunning, ""); err != nil {
		logger.Errorf("[backtest] run %s 状态更新失败: %v", run.ID, err)
	}
	stats, trades, curve, err := r.simulate(ctx, run.Config)
	if err != nil {
		logger.Errorf("[backtest] run %s 失败: %v", run.ID, err)
		_ = r.results.UpdateRunStatus(ctx, run.ID, RunStatusFailed, err.Error())
		return
	}
	if err := r.results.InsertTrades(ctx, run.ID, trades); err != nil {
		logger.Errorf("[backtest] run %s 成交写入失败: %v", run.ID, err)
	}
	if err := r.results.InsertSnapshots(ctx, run.ID, curve); err != nil {
		logger.Errorf("[backtest] run %s 曲线写入失败: %v", run.ID, err)
	}
	if err := r.results.UpdateRunSummary(ctx, run.ID, RunStatusDone, stats, "回测完成"); err != nil {
		logger.Errorf("[backtest] run %s 汇总写入失败: %v", run.ID, err)
		return
	}
	logger.Infof("[backtest] run %s 完成: equity=%.2f trades=%d", run.ID, stats.FinalEquity, stats.Trades)
}

// simulate 组装一套引擎跑完整个区间，返回绩效与明细。
func (r *Runner) simulate(ctx context.Context, cfg RunConfig) (RunStats, []market.Trade, []portfolio.EquitySample, error) {
	candles, err := r.candles.RangeCandles(ctx, cfg.Symbol, cfg.Timeframe, cfg.StartTS, cfg.EndTS)
	if err != nil {
		return RunStats{}, nil, nil, err
	}
	if len(candles) == 0 {
		return RunStats{}, nil, nil, fmt.Errorf("区间内没有 K 线数据: %s %s", cfg.Symbol, cfg.Timeframe)
	}
	source := market.NewSliceSource(market.CandlesToBars(cfg.Symbol, candles))

	eventBus := bus.New()
	port, err := portfolio.New(cfg.InitialCash, eventBus)
	if err != nil {
		return RunStats{}, nil, nil, err
	}
	brok := broker.New(broker.Config{Slippage: cfg.Slippage, Commission: cfg.Commission})

	var gate risk.Gate = risk.Noop{}
	if cfg.MaxPositionSize > 0 || cfg.MaxExposure > 0 || cfg.MaxDrawdown > 0 {
		limits := risk.NewLimits(cfg.MaxPositionSize, cfg.MaxExposure, cfg.MaxDrawdown)
		if err := limits.Subscribe(eventBus); err != nil {
			return RunStats{}, nil, nil, err
		}
		gate = limits
	}

	strat, err := r.registry.Build(cfg.Strategy, cfg.Params)
	if err != nil {
		return RunStats{}, nil, nil, err
	}
	eng, err := engine.New(engine.Config{Finalize: cfg.Finalize}, source, strat, port, brok, gate, eventBus)
	if err != nil {
		return RunStats{}, nil, nil, err
	}
	if err := eng.Run(ctx); err != nil {
		return RunStats{}, nil, nil, err
	}
	return buildStats(port, eng.Steps()), port.Trades(), port.EquityCurve(), nil
}

func buildStats(port *portfolio.Portfolio, steps int) RunStats {
	results := report.NewGenerator().Generate(port)
	stats := RunStats{
		FinalEquity: port.TotalEquity(),
		Profit:      port.TotalEquity() - port.InitialCash(),
		Trades:      len(port.Trades()),
		Steps:       steps,
		Metrics:     results,
		FinishedAt:  time.Now(),
	}
	for _, m := range results {
		value := m.Value
		if math.IsInf(value, 0) || math.IsNaN(value) {
			value = 0
		}
		switch m.Name {
		case "Total Return":
			stats.ReturnPct = value
		case "Annualized Return":
			stats.AnnualizedPct = value
		case "Annualized Sharpe Ratio":
			stats.Sharpe = value
		case "Max Drawdown":
			stats.MaxDrawdownPct = value
		case "Win Rate":
			stats.WinRate = value
		case "Profit Factor":
			stats.ProfitFactor = value
		}
	}
	return stats
}

// GetRun 读取单条 run。
func (r *Runner) GetRun(ctx context.Context, id string) (Run, error) {
	return r.results.GetRun(ctx, id)
}

// ListRuns 返回最近的 run 列表。
func (r *Runner) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	return r.results.ListRuns(ctx, limit)
}

// RunTrades 返回指定 run 的成交明细。
func (r *Runner) RunTrades(ctx context.Context, id string, limit int) ([]market.Trade, error) {
	return r.results.ListTrades(ctx, id, limit)
}

// RunSnapshots 返回指定 run 的资金曲线。
func (r *Runner) RunSnapshots(ctx context.Context, id string, limit int) ([]portfolio.EquitySample, error) {
	return r.results.ListSnapshots(ctx, id, limit)
}

// RunChartHTML 渲染指定 run 的资金曲线页面。
func (r *Runner) RunChartHTML(ctx context.Context, id string) ([]byte, error) {
	curve, err := r.results.ListSnapshots(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	return report.BuildEquityHTML(report.ChartInput{Context: ctx, RunID: id, Curve: curve})
}

// RunChartPNG 渲染指定 run 的资金曲线 PNG 截图。
func (r *Runner) RunChartPNG(ctx context.Context, id string) (report.ImageResult, error) {
	curve, err := r.results.ListSnapshots(ctx, id, 0)
	if err != nil {
		return report.ImageResult{}, err
	}
	return report.RenderEquityPNG(report.ChartInput{Context: ctx, RunID: id, Curve: curve})
}
