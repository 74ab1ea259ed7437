// Package risk 提供下单前的风控闸口：仓位上限、组合敞口上限与回撤上限。
package risk

import (
	"math"

	"liveback/internal/bus"
	"liveback/internal/market"
)

// Ledger 是风控所需的账本只读视图。
type Ledger interface {
	Position(symbol string) *market.Position
	GrossExposure() float64
	TotalEquity() float64
}

// Gate 校验订单。引擎无条件调用该接口，不做 nil 判断，
// 未配置风控时注入 Noop。
type Gate interface {
	// ValidateOrder 仅依据当前状态判定；任一已配置约束被触发则返回 false。
	ValidateOrder(order market.Order, ledger Ledger) bool
	// OnEquityUpdate 由事件总线驱动的被动峰值跟踪。
	OnEquityUpdate(ev bus.Event)
}

// Limits 按配置的上限校验订单；字段为 0 表示该约束未启用。
type Limits struct {
	MaxPositionSize float64
	MaxExposure     float64
	MaxDrawdown     float64

	peakEquity float64
	hasPeak    bool
}

func NewLimits(maxPositionSize, maxExposure, maxDrawdown float64) *Limits {
	return &Limits{
		MaxPositionSize: maxPositionSize,
		MaxExposure:     maxExposure,
		MaxDrawdown:     maxDrawdown,
	}
}

// Subscribe 将峰值跟踪挂接到事件总线。
func (l *Limits) Subscribe(b *bus.Bus) error {
	return b.Subscribe(bus.EventEquityUpdate, l.OnEquityUpdate)
}

func (l *Limits) ValidateOrder(order market.Order, ledger Ledger) bool {
	if l.MaxPositionSize > 0 {
		pos := ledger.Position(order.Symbol)
		newQty := pos.Quantity + order.SignedQuantity()
		if math.Abs(newQty) > l.MaxPositionSize {
			return false
		}
	}
	if l.MaxExposure > 0 {
		// 近似的事前检查：市价单不取行情价，按 limit 价（缺省为 0）估算增量。
		if ledger.GrossExposure()+order.Quantity*order.LimitPrice > l.MaxExposure {
			return false
		}
	}
	if l.MaxDrawdown > 0 {
		equity := ledger.TotalEquity()
		l.UpdatePeakEquity(equity)
		if l.hasPeak && l.peakEquity > 0 {
			drawdown := (l.peakEquity - equity) / l.peakEquity
			if drawdown > l.MaxDrawdown {
				return false
			}
		}
	}
	return true
}

func (l *Limits) OnEquityUpdate(ev bus.Event) {
	eu, ok := ev.(bus.EquityUpdate)
	if !ok {
		return
	}
	l.UpdatePeakEquity(eu.Equity)
}

// UpdatePeakEquity 仅向上刷新峰值权益。
func (l *Limits) UpdatePeakEquity(equity float64) {
	if !l.hasPeak || equity > l.peakEquity {
		l.peakEquity = equity
		l.hasPeak = true
	}
}

// PeakEquity 返回当前峰值权益；尚无采样时第二个返回值为 false。
func (l *Limits) PeakEquity() (float64, bool) {
	return l.peakEquity, l.hasPeak
}

// Noop 放行全部订单。
type Noop struct{}

func (Noop) ValidateOrder(market.Order, Ledger) bool { return true }

func (Noop) OnEquityUpdate(bus.Event) {}
