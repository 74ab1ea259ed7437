package market

import "io"

// BarSource 产出按时间非递减排列的价格观测，仅被消费一次，不可回退。
// Next 在数据耗尽时返回 io.EOF（正常终止，非错误）。
type BarSource interface {
	Next() (Bar, error)
}

// SliceSource 用内存切片回放观测，供回测与测试使用。
type SliceSource struct {
	bars []Bar
	idx  int
}

func NewSliceSource(bars []Bar) *SliceSource {
	return &SliceSource{bars: bars}
}

func (s *SliceSource) Next() (Bar, error) {
	if s.idx >= len(s.bars) {
		return Bar{}, io.EOF
	}
	b := s.bars[s.idx]
	s.idx++
	return b, nil
}

// CandlesToBars 把存储层的 K 线转换为观测序列。
func CandlesToBars(symbol string, candles []Candle) []Bar {
	out := make([]Bar, 0, len(candles))
	for _, c := range candles {
		out = append(out, c.Bar(symbol))
	}
	return out
}
