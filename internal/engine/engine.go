// Package engine 实现事件驱动的回测主循环。
//
// 每个时间步的因果序固定为：发布 PriceUpdate（账本刷新未实现盈亏、
// 记录资金曲线并派发 EquityUpdate）→ 策略消费观测 → 原子抽取待执行
// 订单 → 风控校验 → 提交撮合 → 对每笔成交发布 Fill（账本入账）并回调
// 策略。行情源耗尽是唯一的正常终止条件。
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"liveback/internal/broker"
	"liveback/internal/bus"
	"liveback/internal/logger"
	"liveback/internal/market"
	"liveback/internal/portfolio"
	"liveback/internal/risk"
)

// State 引擎生命周期状态，单实例只允许跑一次。
type State string

const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateFinalizing State = "finalizing"
	StateReporting  State = "reporting"
	StateDone       State = "done"
)

// Context 是策略初始化时拿到的运行环境。
type Context struct {
	Portfolio *portfolio.Portfolio
	Broker    *broker.Broker
}

// Strategy 是策略与引擎之间的契约。实现必须与运行模式无关，
// 订单通过内部缓冲暂存，由引擎经 Orders 原子抽取。
type Strategy interface {
	Name() string
	// Initialize 在回测开始前调用一次。
	Initialize(ctx *Context) error
	// OnBar 消费一条价格观测。
	OnBar(bar market.Bar)
	// OnFill 在订单成交后回调。
	OnFill(fill market.Fill)
	// Orders 返回并清空待执行订单（读取即清空，不会重复投递）。
	Orders() []market.Order
}

// Config 引擎行为开关。
type Config struct {
	// Finalize 为 true 时在行情耗尽后对全部非零持仓市价平仓。
	Finalize bool
}

// Engine 把行情源、策略、风控、撮合与账本串成一次回测。
type Engine struct {
	cfg       Config
	source    market.BarSource
	strat     Strategy
	port      *portfolio.Portfolio
	brok      *broker.Broker
	gate      risk.Gate
	bus       *bus.Bus
	state     State
	lastTime  time.Time
	stepCount int
}

// New 组装引擎。gate 不可为 nil，无风控时传入 risk.Noop。
func New(cfg Config, source market.BarSource, strat Strategy, port *portfolio.Portfolio, brok *broker.Broker, gate risk.Gate, b *bus.Bus) (*Engine, error) {
	if source == nil || strat == nil || port == nil || brok == nil || b == nil {
		return nil, errors.New("引擎依赖不完整")
	}
	if gate == nil {
		gate = risk.Noop{}
	}
	return &Engine{
		cfg:    cfg,
		source: source,
		strat:  strat,
		port:   port,
		brok:   brok,
		gate:   gate,
		bus:    b,
		state:  StateIdle,
	}, nil
}

// State 返回当前生命周期状态。
func (e *Engine) State() State { return e.state }

// Steps 返回已处理的时间步数。
func (e *Engine) Steps() int { return e.stepCount }

// Run 执行完整回测直到行情源耗尽。阻塞调用，通过 ctx 取消。
func (e *Engine) Run(ctx context.Context) error {
	if e.state != StateIdle {
		return fmt.Errorf("引擎已运行过 (state=%s)", e.state)
	}
	if err := e.strat.Initialize(&Context{Portfolio: e.port, Broker: e.brok}); err != nil {
		return fmt.Errorf("策略初始化失败: %w", err)
	}
	e.state = StateRunning
	logger.Infof("回测开始: strategy=%s cash=%.2f", e.strat.Name(), e.port.Cash())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		bar, err := e.source.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("读取行情失败: %w", err)
		}
		if err := e.step(bar); err != nil {
			return err
		}
	}

	if e.cfg.Finalize {
		e.state = StateFinalizing
		if err := e.finalize(); err != nil {
			return err
		}
	}
	e.state = StateReporting
	logger.Infof("回测结束: steps=%d trades=%d equity=%.2f",
		e.stepCount, len(e.port.Trades()), e.port.TotalEquity())
	e.state = StateDone
	return nil
}

func (e *Engine) step(bar market.Bar) error {
	e.stepCount++
	e.lastTime = bar.Timestamp

	price := bar.MarkPrice()
	if price > 0 {
		if err := e.bus.Publish(bus.PriceUpdate{Symbol: bar.Symbol, Price: price, Timestamp: bar.Timestamp}); err != nil {
			return err
		}
	} else {
		// 无有效价格的观测也要在资金曲线上落一个采样。
		e.port.RecordEquity(bar.Timestamp)
	}

	e.strat.OnBar(bar)

	for _, order := range e.strat.Orders() {
		if !e.gate.ValidateOrder(order, e.port) {
			// 风控拒单不回传策略，直接丢弃。
			logger.Debugf("风控拒单: %s %s %.4f", order.Side, order.Symbol, order.Quantity)
			continue
		}
		refPrice := 0.0
		if order.Symbol == bar.Symbol {
			refPrice = price
		}
		if _, err := e.brok.Submit(order, refPrice); err != nil {
			return fmt.Errorf("提交订单失败: %w", err)
		}
	}

	fills, err := e.brok.ProcessOrders(market.NewMultiBar(bar))
	// 先入账已产生的成交，再上抛撮合错误。
	if derr := e.dispatchFills(fills); derr != nil {
		return derr
	}
	if err != nil {
		return fmt.Errorf("撮合失败: %w", err)
	}
	return nil
}

// finalize 对每个非零持仓合成一张反向市价平仓单。
// 撮合回退缓存价，缓存缺失视为配置错误。
func (e *Engine) finalize() error {
	open := e.port.OpenPositions()
	if len(open) == 0 {
		return nil
	}
	logger.Infof("清算开始: positions=%d", len(open))
	for _, pos := range open {
		if _, err := e.brok.NewOrder(pos.Symbol, -pos.Quantity, 0, 0); err != nil {
			return fmt.Errorf("合成平仓单失败: %w", err)
		}
	}
	fills, err := e.brok.ProcessOrders(market.MultiBar{Timestamp: e.lastTime})
	if derr := e.dispatchFills(fills); derr != nil {
		return derr
	}
	if err != nil {
		return fmt.Errorf("清算撮合失败: %w", err)
	}
	return nil
}

func (e *Engine) dispatchFills(fills []market.Fill) error {
	for _, fill := range fills {
		if err := e.bus.Publish(bus.Fill{Fill: fill, Timestamp: fill.Timestamp}); err != nil {
			return err
		}
		e.strat.OnFill(fill)
	}
	return nil
}
