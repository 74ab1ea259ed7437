package bus

import (
	"time"

	"liveback/internal/market"
)

// EventType 标识事件总线承载的三种领域事件。
type EventType string

const (
	EventPriceUpdate  EventType = "price_update"
	EventFill         EventType = "fill"
	EventEquityUpdate EventType = "equity_update"
)

// Event 是封闭的领域事件联合，仅以下三个变体实现它；
// 发布后的事件为只读值对象。
type Event interface {
	Type() EventType
	When() time.Time
}

// PriceUpdate 某个 symbol 的最新价格。
type PriceUpdate struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}

func (e PriceUpdate) Type() EventType { return EventPriceUpdate }
func (e PriceUpdate) When() time.Time { return e.Timestamp }

// Fill 一条订单成交。
type Fill struct {
	Fill      market.Fill
	Timestamp time.Time
}

func (e Fill) Type() EventType { return EventFill }
func (e Fill) When() time.Time { return e.Timestamp }

// EquityUpdate 账本权益刷新。
type EquityUpdate struct {
	Equity    float64
	Timestamp time.Time
}

func (e EquityUpdate) Type() EventType { return EventEquityUpdate }
func (e EquityUpdate) When() time.Time { return e.Timestamp }
