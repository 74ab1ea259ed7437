package backtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"liveback/internal/market"
	"liveback/internal/pkg/symbol"
)

// Manifest 记录某个 symbol@timeframe 的统计信息。
type Manifest struct {
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
}

// Gap 表示本地缺失的连续区间（open_time 闭区间）。
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// IntegrityReport 汇总某个区间的数据完整性。
type IntegrityReport struct {
	Expected int64 `json:"expected"`
	Present  int64 `json:"present"`
	Gaps     []Gap `json:"gaps"`
}

func (r IntegrityReport) Complete() bool {
	return len(r.Gaps) == 0 && r.Present >= r.Expected
}

// CandleStore 以单个 SQLite 文件保存全部 symbol/timeframe 的 K 线。
// 主键 (symbol, timeframe, open_time)，重复写入覆盖旧值。
type CandleStore struct {
	mu sync.Mutex
	db *sql.DB
}

func NewCandleStore(root string) (*CandleStore, error) {
	if root == "" {
		return nil, fmt.Errorf("data root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "candles.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureCandleSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &CandleStore{db: db}, nil
}

func (s *CandleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureCandleSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol     TEXT NOT NULL,
			timeframe  TEXT NOT NULL,
			open_time  INTEGER NOT NULL,
			close_time INTEGER NOT NULL,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			volume     REAL NOT NULL,
			trades     INTEGER DEFAULT 0,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000),
			PRIMARY KEY (symbol, timeframe, open_time)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			min_time INTEGER,
			max_time INTEGER,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER,
			PRIMARY KEY (symbol, timeframe)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func normKey(sym, timeframe string) (string, string, error) {
	sym = symbol.Canonical(sym)
	timeframe = strings.ToLower(strings.TrimSpace(timeframe))
	if sym == "" || timeframe == "" {
		return "", "", fmt.Errorf("symbol/timeframe 不能为空")
	}
	return sym, timeframe, nil
}

// InsertCandles 批量写入 K 线（重复 open_time 将被覆盖）并刷新 manifest。
func (s *CandleStore) InsertCandles(ctx context.Context, symbol, timeframe string, candles []market.Candle) (int, error) {
	symbol, timeframe, err := normKey(symbol, timeframe)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, timeframe, open_time, close_time, open, high, low, close, volume, trades)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, open_time) DO UPDATE SET
		    close_time=excluded.close_time,
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume,
		    trades=excluded.trades`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, symbol, timeframe, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.Trades); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, s.refreshManifest(ctx, symbol, timeframe)
}

func (s *CandleStore) refreshManifest(ctx context.Context, symbol, timeframe string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO manifest (symbol, timeframe, min_time, max_time, rows, last_sync_at)
		SELECT ?, ?, COALESCE(MIN(open_time), 0), COALESCE(MAX(open_time), 0), COUNT(1), ?
		FROM candles WHERE symbol=? AND timeframe=?
		ON CONFLICT(symbol, timeframe) DO UPDATE SET
		    min_time=excluded.min_time,
		    max_time=excluded.max_time,
		    rows=excluded.rows,
		    last_sync_at=excluded.last_sync_at`,
		symbol, timeframe, now, symbol, timeframe)
	return err
}

// Manifest 读取统计信息；无记录时返回零值 Manifest。
func (s *CandleStore) Manifest(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	symbol, timeframe, err := normKey(symbol, timeframe)
	if err != nil {
		return Manifest{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT min_time, max_time, rows, last_sync_at FROM manifest
		WHERE symbol=? AND timeframe=?`, symbol, timeframe)
	m := Manifest{Symbol: symbol, Timeframe: timeframe}
	if err := row.Scan(&m.MinTime, &m.MaxTime, &m.Rows, &m.LastSyncAt); err != nil {
		if err == sql.ErrNoRows {
			return m, nil
		}
		return Manifest{}, err
	}
	return m, nil
}

// RangeCandles 返回 start~end 范围内的全部 K 线（open_time 闭区间，升序）。
func (s *CandleStore) RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	symbol, timeframe, err := normKey(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	if start <= 0 || end <= 0 {
		return nil, fmt.Errorf("start/end 需 > 0")
	}
	if end < start {
		start, end = end, start
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT open_time, close_time, open, high, low, close, volume, trades
		FROM candles
		WHERE symbol=? AND timeframe=? AND open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`, symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandles(rows)
}

// QueryCandles 读取指定区间的 K 线，limit 限制返回条数。
// 仅给出 end 或两者皆缺省时取最近的数据（仍按升序返回）。
func (s *CandleStore) QueryCandles(ctx context.Context, symbol, timeframe string, start, end int64, limit int) ([]market.Candle, error) {
	symbol, timeframe, err := normKey(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}
	orderDesc := false
	var rows *sql.Rows
	switch {
	case start > 0 && end > 0:
		if end < start {
			start, end = end, start
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT open_time, close_time, open, high, low, close, volume, trades
			FROM candles WHERE symbol=? AND timeframe=? AND open_time BETWEEN ? AND ?
			ORDER BY open_time ASC LIMIT ?`, symbol, timeframe, start, end, limit)
	case start > 0:
		rows, err = s.db.QueryContext(ctx, `
			SELECT open_time, close_time, open, high, low, close, volume, trades
			FROM candles WHERE symbol=? AND timeframe=? AND open_time >= ?
			ORDER BY open_time ASC LIMIT ?`, symbol, timeframe, start, limit)
	case end > 0:
		rows, err = s.db.QueryContext(ctx, `
			SELECT open_time, close_time, open, high, low, close, volume, trades
			FROM candles WHERE symbol=? AND timeframe=? AND open_time <= ?
			ORDER BY open_time DESC LIMIT ?`, symbol, timeframe, end, limit)
		orderDesc = true
	default:
		rows, err = s.db.QueryContext(ctx, `
			SELECT open_time, close_time, open, high, low, close, volume, trades
			FROM candles WHERE symbol=? AND timeframe=?
			ORDER BY open_time DESC LIMIT ?`, symbol, timeframe, limit)
		orderDesc = true
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	if orderDesc {
		for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
			list[i], list[j] = list[j], list[i]
		}
	}
	return list, nil
}

// LoadOpenTimes 返回指定区间内已有的 open_time（升序）。
func (s *CandleStore) LoadOpenTimes(ctx context.Context, symbol, timeframe string, start, end int64) ([]int64, error) {
	symbol, timeframe, err := normKey(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT open_time FROM candles
		WHERE symbol=? AND timeframe=? AND open_time BETWEEN ? AND ?
		ORDER BY open_time`, symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// CheckIntegrity 对照周期网格找出 start~end 区间内缺失的连续段。
func (s *CandleStore) CheckIntegrity(ctx context.Context, symbol, timeframe string, tf Timeframe, start, end int64) (IntegrityReport, error) {
	present, err := s.LoadOpenTimes(ctx, symbol, timeframe, start, end)
	if err != nil {
		return IntegrityReport{}, err
	}
	step := tf.durationMillis()
	report := IntegrityReport{
		Expected: tf.ExpectedCandles(start, end),
		Present:  int64(len(present)),
	}
	if step <= 0 || report.Expected <= 0 {
		return report, nil
	}
	have := make(map[int64]struct{}, len(present))
	for _, ts := range present {
		have[ts] = struct{}{}
	}
	var gapStart int64 = -1
	for cursor := start; cursor <= end; cursor += step {
		if _, ok := have[cursor]; ok {
			if gapStart >= 0 {
				report.Gaps = append(report.Gaps, Gap{From: gapStart, To: cursor - step})
				gapStart = -1
			}
			continue
		}
		if gapStart < 0 {
			gapStart = cursor
		}
	}
	if gapStart >= 0 {
		report.Gaps = append(report.Gaps, Gap{From: gapStart, To: alignDown(end, step)})
	}
	return report, nil
}

func scanCandles(rows *sql.Rows) ([]market.Candle, error) {
	var list []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}
