package market

import "time"

// Bar 表示某个 symbol 在一个时间点上的价格观测（OHLCV）。
// 除 Symbol/Timestamp 外其余字段均可缺省；价格恒为正，0 视为缺失。
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open,omitempty"`
	High      float64   `json:"high,omitempty"`
	Low       float64   `json:"low,omitempty"`
	Close     float64   `json:"close,omitempty"`
	Volume    float64   `json:"volume,omitempty"`
}

// OpenPrice 返回撮合用的开盘参考价：open 缺失时回退 close，两者皆缺失返回 0。
func (b Bar) OpenPrice() float64 {
	if b.Open > 0 {
		return b.Open
	}
	return b.Close
}

// HighPrice 返回 high，缺失时回退 OpenPrice。
func (b Bar) HighPrice() float64 {
	if b.High > 0 {
		return b.High
	}
	return b.OpenPrice()
}

// LowPrice 返回 low，缺失时回退 OpenPrice。
func (b Bar) LowPrice() float64 {
	if b.Low > 0 {
		return b.Low
	}
	return b.OpenPrice()
}

// MarkPrice 返回估值用价格：close 优先，缺失时回退 open。
func (b Bar) MarkPrice() float64 {
	if b.Close > 0 {
		return b.Close
	}
	return b.Open
}

// MultiBar 是同一时间步内跨 symbol 的观测批次。
type MultiBar struct {
	Timestamp time.Time      `json:"timestamp"`
	Bars      map[string]Bar `json:"bars"`
}

// NewMultiBar 用单条观测构造一个时间步批次。
func NewMultiBar(bars ...Bar) MultiBar {
	mb := MultiBar{Bars: make(map[string]Bar, len(bars))}
	for _, b := range bars {
		if mb.Timestamp.IsZero() || b.Timestamp.After(mb.Timestamp) {
			mb.Timestamp = b.Timestamp
		}
		mb.Bars[b.Symbol] = b
	}
	return mb
}

// Bar 返回该时间步内指定 symbol 的观测。
func (m MultiBar) Bar(symbol string) (Bar, bool) {
	b, ok := m.Bars[symbol]
	return b, ok
}
