// Package bus 提供类型分发的同步事件总线。
//
// 投递完全发生在 Publish 调用栈内：处理器若再次 Publish，会在外层
// Publish 返回前递归执行完毕，因此一次成交的 Portfolio 入账、
// EquityUpdate 派发与风控峰值更新保持严格因果序，无需调度器。
package bus

import "fmt"

// Handler 处理单个事件变体。
type Handler func(Event)

// Bus 按事件类型维护订阅表；每个实例各自持有订阅状态。
type Bus struct {
	handlers map[EventType][]Handler
}

func New() *Bus {
	return &Bus{handlers: make(map[EventType][]Handler)}
}

// Subscribe 注册某个事件变体的处理器；同类型处理器按注册顺序调用。
func (b *Bus) Subscribe(t EventType, h Handler) error {
	if !knownType(t) {
		return fmt.Errorf("未知事件类型: %q", t)
	}
	if h == nil {
		return fmt.Errorf("handler 不能为空")
	}
	b.handlers[t] = append(b.handlers[t], h)
	return nil
}

// Publish 同步投递事件；非封闭联合内的事件返回错误。
// 无排队、无跨步缓冲。
func (b *Bus) Publish(ev Event) error {
	if ev == nil {
		return fmt.Errorf("event 不能为空")
	}
	switch ev.(type) {
	case PriceUpdate, Fill, EquityUpdate:
	default:
		return fmt.Errorf("非领域事件: %T", ev)
	}
	for _, h := range b.handlers[ev.Type()] {
		h(ev)
	}
	return nil
}

func knownType(t EventType) bool {
	switch t {
	case EventPriceUpdate, EventFill, EventEquityUpdate:
		return true
	}
	return false
}
