// Package strategy 提供策略基类与内置策略实现。
package strategy

import (
	"liveback/internal/engine"
	"liveback/internal/market"
)

// Base 承载策略公共状态：运行环境与待执行订单缓冲。
// 具体策略内嵌 Base，只需实现 OnBar（按需覆写 OnFill）。
type Base struct {
	name    string
	ctx     *engine.Context
	pending []market.Order
}

func NewBase(name string) Base {
	return Base{name: name}
}

func (b *Base) Name() string { return b.name }

func (b *Base) Initialize(ctx *engine.Context) error {
	b.ctx = ctx
	return nil
}

// Context 返回引擎注入的运行环境（Initialize 之前为 nil）。
func (b *Base) Context() *engine.Context { return b.ctx }

// CreateOrder 把订单放入缓冲，等待引擎在当前时间步末尾抽取。
func (b *Base) CreateOrder(order market.Order) {
	b.pending = append(b.pending, order)
}

// Orders 返回并清空缓冲（原子抽取，订单只投递一次）。
func (b *Base) Orders() []market.Order {
	orders := b.pending
	b.pending = nil
	return orders
}

// OnFill 默认空实现。
func (b *Base) OnFill(market.Fill) {}
