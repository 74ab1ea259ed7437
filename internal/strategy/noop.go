package strategy

import "liveback/internal/market"

// Noop 不产生任何订单，用于基线对照与链路联调。
type Noop struct {
	Base
}

func NewNoop() *Noop {
	return &Noop{Base: NewBase("noop")}
}

func (s *Noop) OnBar(market.Bar) {}
