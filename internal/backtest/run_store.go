package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"liveback/internal/market"
	"liveback/internal/portfolio"
)

// ErrRunNotFound 指定的 run 不存在。
var ErrRunNotFound = errors.New("run 不存在")

type runModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	Status      string `gorm:"index;size:16"`
	Symbol      string `gorm:"index;size:32"`
	Strategy    string `gorm:"size:64"`
	Message     string
	Config      datatypes.JSON
	Stats       datatypes.JSON
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (runModel) TableName() string { return "backtest_runs" }

type tradeModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	RunID      string `gorm:"index;size:36"`
	Timestamp  time.Time
	Symbol     string `gorm:"size:32"`
	Side       string `gorm:"size:8"`
	Quantity   float64
	Price      float64
	Slippage   float64
	Commission float64
	PnL        float64
}

func (tradeModel) TableName() string { return "backtest_trades" }

type snapshotModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	RunID     string `gorm:"index;size:36"`
	Timestamp time.Time
	Equity    float64
}

func (snapshotModel) TableName() string { return "backtest_snapshots" }

// ResultStore 基于 Gorm + SQLite 持久化回测运行、成交与资金曲线。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(root string) (*ResultStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &tradeModel{}, &snapshotModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：允许少量并行读，同时控制锁竞争。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertRun 写入一条 run 记录。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	model, err := toRunModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// UpdateRunStatus 仅更新状态与提示。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	updates := map[string]any{
		"status":     status,
		"message":    message,
		"updated_at": time.Now(),
	}
	if status == RunStatusDone || status == RunStatusFailed {
		updates["completed_at"] = time.Now()
	}
	return s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateRunSummary 写入最终状态与绩效汇总。
func (s *ResultStore) UpdateRunSummary(ctx context.Context, id, status string, stats RunStats, message string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	updates := map[string]any{
		"status":     status,
		"message":    message,
		"stats":      datatypes.JSON(statsJSON),
		"updated_at": time.Now(),
	}
	if status == RunStatusDone || status == RunStatusFailed {
		updates["completed_at"] = time.Now()
	}
	return s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(updates).Error
}

// InsertTrades 批量写入成交记录。
func (s *ResultStore) InsertTrades(ctx context.Context, runID string, trades []market.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	models := make([]tradeModel, 0, len(trades))
	for _, t := range trades {
		models = append(models, tradeModel{
			RunID:      runID,
			Timestamp:  t.Timestamp,
			Symbol:     t.Symbol,
			Side:       string(t.Side),
			Quantity:   t.Quantity,
			Price:      t.Price,
			Slippage:   t.Slippage,
			Commission: t.Commission,
			PnL:        t.PnL,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 200).Error
}

// InsertSnapshots 批量写入资金曲线采样。
func (s *ResultStore) InsertSnapshots(ctx context.Context, runID string, curve []portfolio.EquitySample) error {
	if len(curve) == 0 {
		return nil
	}
	models := make([]snapshotModel, 0, len(curve))
	for _, sample := range curve {
		models = append(models, snapshotModel{
			RunID:     runID,
			Timestamp: sample.Timestamp,
			Equity:    sample.Equity,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 500).Error
}

// GetRun 读取单条 run。
func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	var model runModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, err
	}
	return fromRunModel(model)
}

// ListRuns 按创建时间倒序返回 run 列表。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var models []runModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, model := range models {
		run, err := fromRunModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// ListTrades 返回指定 run 的成交记录（按时间升序）。
func (s *ResultStore) ListTrades(ctx context.Context, runID string, limit int) ([]market.Trade, error) {
	if limit <= 0 || limit > 2000 {
		limit = 500
	}
	var models []tradeModel
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).
		Order("id ASC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]market.Trade, 0, len(models))
	for _, m := range models {
		out = append(out, market.Trade{
			Timestamp:  m.Timestamp,
			Symbol:     m.Symbol,
			Side:       market.Side(m.Side),
			Quantity:   m.Quantity,
			Price:      m.Price,
			Slippage:   m.Slippage,
			Commission: m.Commission,
			PnL:        m.PnL,
		})
	}
	return out, nil
}

// ListSnapshots 返回指定 run 的资金曲线（按时间升序）。
func (s *ResultStore) ListSnapshots(ctx context.Context, runID string, limit int) ([]portfolio.EquitySample, error) {
	if limit <= 0 || limit > 10000 {
		limit = 2000
	}
	var models []snapshotModel
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).
		Order("id ASC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]portfolio.EquitySample, 0, len(models))
	for _, m := range models {
		out = append(out, portfolio.EquitySample{Timestamp: m.Timestamp, Equity: m.Equity})
	}
	return out, nil
}

func toRunModel(run Run) (runModel, error) {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return runModel{}, err
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return runModel{}, err
	}
	model := runModel{
		ID:        run.ID,
		Status:    run.Status,
		Symbol:    run.Config.Symbol,
		Strategy:  run.Config.Strategy,
		Message:   run.Message,
		Config:    datatypes.JSON(cfgJSON),
		Stats:     datatypes.JSON(statsJSON),
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}
	if !run.CompletedAt.IsZero() {
		completed := run.CompletedAt
		model.CompletedAt = &completed
	}
	return model, nil
}

func fromRunModel(model runModel) (Run, error) {
	run := Run{
		ID:        model.ID,
		Status:    model.Status,
		Message:   model.Message,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
	if model.CompletedAt != nil {
		run.CompletedAt = *model.CompletedAt
	}
	if len(model.Config) > 0 {
		if err := json.Unmarshal(model.Config, &run.Config); err != nil {
			return Run{}, err
		}
	}
	if len(model.Stats) > 0 {
		if err := json.Unmarshal(model.Stats, &run.Stats); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}
