package backtest

import (
	"fmt"
	"time"

	"liveback/internal/report"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig 记录本次回测的参数快照，便于重放。
type RunConfig struct {
	Symbol      string         `json:"symbol"`
	Timeframe   string         `json:"timeframe"`
	StartTS     int64          `json:"start_ts"`
	EndTS       int64          `json:"end_ts"`
	InitialCash float64        `json:"initial_cash"`
	Slippage    float64        `json:"slippage"`
	Commission  float64        `json:"commission"`
	Strategy    string         `json:"strategy"`
	Params      map[string]any `json:"params,omitempty"`
	Finalize    bool           `json:"finalize"`

	// 风控上限，0 表示未启用。
	MaxPositionSize float64 `json:"max_position_size,omitempty"`
	MaxExposure     float64 `json:"max_exposure,omitempty"`
	MaxDrawdown     float64 `json:"max_drawdown,omitempty"`
}

func (c RunConfig) validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol 不能为空")
	}
	if c.StartTS <= 0 || c.EndTS <= 0 || c.EndTS <= c.StartTS {
		return fmt.Errorf("start/end 需要构成区间")
	}
	if c.InitialCash <= 0 {
		return fmt.Errorf("initial_cash 需 > 0")
	}
	if c.Strategy == "" {
		return fmt.Errorf("strategy 不能为空")
	}
	return nil
}

// RunStats 汇总一次回测的绩效结果。
type RunStats struct {
	FinalEquity    float64               `json:"final_equity"`
	Profit         float64               `json:"profit"`
	ReturnPct      float64               `json:"return_pct"`
	AnnualizedPct  float64               `json:"annualized_pct"`
	Sharpe         float64               `json:"sharpe"`
	MaxDrawdownPct float64               `json:"max_drawdown_pct"`
	WinRate        float64               `json:"win_rate"`
	ProfitFactor   float64               `json:"profit_factor"`
	Trades         int                   `json:"trades"`
	Steps          int                   `json:"steps"`
	Metrics        []report.MetricResult `json:"metrics,omitempty"`
	FinishedAt     time.Time             `json:"finished_at"`
}

// Run 表示一次回测任务的持久化视图。
type Run struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Config      RunConfig `json:"config"`
	Stats       RunStats  `json:"stats"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}
