package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// CSVSource 从 CSV 文件回放单个 symbol 的历史观测。
// 期望表头包含 timestamp/open/high/low/close/volume（顺序不限，字段可缺省）；
// timestamp 支持 RFC3339 或毫秒时间戳。
type CSVSource struct {
	symbol string
	reader *csv.Reader
	closer io.Closer
	cols   map[string]int
	last   time.Time
}

func NewCSVSource(symbol, path string) (*CSVSource, error) {
	if symbol == "" {
		return nil, fmt.Errorf("csv source: symbol 不能为空")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开 CSV 失败: %w", err)
	}
	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("读取 CSV 表头失败: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["timestamp"]; !ok {
		f.Close()
		return nil, fmt.Errorf("CSV 缺少 timestamp 列")
	}
	return &CSVSource{symbol: symbol, reader: r, closer: f, cols: cols}, nil
}

func (s *CSVSource) Next() (Bar, error) {
	record, err := s.reader.Read()
	if err == io.EOF {
		s.Close()
		return Bar{}, io.EOF
	}
	if err != nil {
		return Bar{}, fmt.Errorf("读取 CSV 行失败: %w", err)
	}
	ts, err := s.parseTime(s.field(record, "timestamp"))
	if err != nil {
		return Bar{}, err
	}
	if ts.Before(s.last) {
		return Bar{}, fmt.Errorf("CSV 时间戳乱序: %s 早于 %s", ts, s.last)
	}
	s.last = ts
	return Bar{
		Symbol:    s.symbol,
		Timestamp: ts,
		Open:      s.float(record, "open"),
		High:      s.float(record, "high"),
		Low:       s.float(record, "low"),
		Close:     s.float(record, "close"),
		Volume:    s.float(record, "volume"),
	}, nil
}

func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

func (s *CSVSource) field(record []string, name string) string {
	idx, ok := s.cols[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func (s *CSVSource) float(record []string, name string) float64 {
	raw := s.field(record, name)
	if raw == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(raw, 64)
	return v
}

func (s *CSVSource) parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("timestamp 不能为空")
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("解析 timestamp 失败 (%s): %w", raw, err)
	}
	return ts.UTC(), nil
}
