package market

import "time"

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Bar 把 K 线转换为指定 symbol 的价格观测（时间取收盘时刻）。
func (c Candle) Bar(symbol string) Bar {
	return Bar{
		Symbol:    symbol,
		Timestamp: time.UnixMilli(c.CloseTime).UTC(),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}
}
