// Package broker 以每步 OHLC 行情模拟订单撮合。
//
// 撮合判定表（价格触界按此表执行，兼容性敏感场景不可改动）：
//
//	MARKET            : 以 openPrice 成交（open 缺失回退 close）
//	LIMIT BUY         : low  ≤ limit 时成交，价格 = min(open, limit)
//	LIMIT SELL        : high ≥ limit 时成交，价格 = max(open, limit)
//	STOP  BUY         : high ≥ stop  时成交，价格 = max(open, stop)
//	STOP  SELL        : low  ≤ stop  时成交，价格 = min(open, stop)
//	high/low 缺失时回退 openPrice；当步无该 symbol 行情则订单留存。
package broker

import (
	"errors"
	"fmt"
	"math"
	"time"

	"liveback/internal/market"
)

// ErrNoReferencePrice 市价单既无当步行情、无提交参考价，也无缓存价格。
var ErrNoReferencePrice = errors.New("市价单缺少参考价格")

// Config 撮合成本模型：Slippage 为每单位数量的固定滑点
// （买单加价、卖单减价），Commission 为每笔订单的固定佣金。
type Config struct {
	Slippage   float64
	Commission float64
}

type openOrder struct {
	order    market.Order
	refPrice float64
}

// Broker 维护 FIFO 的未成交订单集合与独立的轻量持仓记账。
// 订单号与成交号由实例自有的单调计数器生成。
type Broker struct {
	cfg       Config
	open      []*openOrder
	lastPrice map[string]float64
	positions map[string]*market.Position
	trades    []market.Trade
	closed    []market.Trade
	orderSeq  int64
}

func New(cfg Config) *Broker {
	return &Broker{
		cfg:       cfg,
		lastPrice: make(map[string]float64),
		positions: make(map[string]*market.Position),
	}
}

// NewOrder 创建订单并加入 open 集合。数量带符号（正=买，负=卖），
// 为零返回错误；limit 与 stop 同时给出时 limit 优先。
func (b *Broker) NewOrder(symbol string, signedQty, limit, stop float64) (market.Order, error) {
	if signedQty == 0 {
		return market.Order{}, fmt.Errorf("订单数量不能为 0 (%s)", symbol)
	}
	side := market.SideBuy
	if signedQty < 0 {
		side = market.SideSell
	}
	order := market.Order{
		Symbol:     symbol,
		Side:       side,
		Quantity:   math.Abs(signedQty),
		Type:       orderTypeOf(limit, stop),
		LimitPrice: limit,
		StopPrice:  stop,
	}
	return b.enqueue(order, 0)
}

// Submit 提交一条策略构造的订单；refPrice 为当步参考价
// （订单 symbol 与当步观测不一致时传 0）。
func (b *Broker) Submit(order market.Order, refPrice float64) (market.Order, error) {
	if order.Quantity == 0 {
		return market.Order{}, fmt.Errorf("订单数量不能为 0 (%s)", order.Symbol)
	}
	if order.Side != market.SideBuy && order.Side != market.SideSell {
		return market.Order{}, fmt.Errorf("未知订单方向: %q", order.Side)
	}
	order.Quantity = math.Abs(order.Quantity)
	order.Type = orderTypeOf(order.LimitPrice, order.StopPrice)
	return b.enqueue(order, refPrice)
}

// limit 优先于 stop：两者皆设时按 LIMIT 处理。
func orderTypeOf(limit, stop float64) market.OrderType {
	switch {
	case limit > 0:
		return market.OrderTypeLimit
	case stop > 0:
		return market.OrderTypeStop
	default:
		return market.OrderTypeMarket
	}
}

func (b *Broker) enqueue(order market.Order, refPrice float64) (market.Order, error) {
	b.orderSeq++
	order.ID = b.orderSeq
	b.open = append(b.open, &openOrder{order: order, refPrice: refPrice})
	return order, nil
}

// Cancel 按订单号撤销一条未成交订单。
func (b *Broker) Cancel(orderID int64) bool {
	for i, oo := range b.open {
		if oo.order.ID == orderID {
			b.open = append(b.open[:i], b.open[i+1:]...)
			return true
		}
	}
	return false
}

// ProcessOrders 在一个时间步内按创建顺序评估全部未成交订单。
// 当步无对应行情的限价/止损单继续等待；市价单回退参考价或缓存价，
// 两者皆无时该单留存并记录 ErrNoReferencePrice（配置错误），
// 其余订单照常评估后再返回首个错误。
func (b *Broker) ProcessOrders(mb market.MultiBar) ([]market.Fill, error) {
	for symbol, bar := range mb.Bars {
		if mark := bar.MarkPrice(); mark > 0 {
			b.lastPrice[symbol] = mark
		}
	}

	var fills []market.Fill
	var firstErr error
	remaining := b.open[:0]
	for _, oo := range b.open {
		price, matched, err := b.match(oo, mb)
		if err != nil {
			// 出错订单留存，不影响后续订单评估。
			remaining = append(remaining, oo)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !matched {
			remaining = append(remaining, oo)
			continue
		}
		fill := b.fill(oo.order, price, mb.Timestamp)
		fills = append(fills, fill)
	}
	b.open = remaining
	return fills, firstErr
}

func (b *Broker) match(oo *openOrder, mb market.MultiBar) (price float64, matched bool, err error) {
	order := oo.order
	bar, ok := mb.Bar(order.Symbol)
	if !ok {
		if order.Type != market.OrderTypeMarket {
			return 0, false, nil
		}
		// 市价单：参考价 → 缓存价 → 失败。
		if oo.refPrice > 0 {
			return oo.refPrice, true, nil
		}
		if last, ok := b.lastPrice[order.Symbol]; ok && last > 0 {
			return last, true, nil
		}
		return 0, false, fmt.Errorf("%w: %s", ErrNoReferencePrice, order.Symbol)
	}

	openPrice := bar.OpenPrice()
	if openPrice <= 0 {
		return 0, false, nil
	}
	high, low := bar.HighPrice(), bar.LowPrice()

	switch order.Type {
	case market.OrderTypeMarket:
		return openPrice, true, nil
	case market.OrderTypeLimit:
		if order.Side == market.SideBuy {
			if low <= order.LimitPrice {
				return math.Min(openPrice, order.LimitPrice), true, nil
			}
		} else {
			if high >= order.LimitPrice {
				return math.Max(openPrice, order.LimitPrice), true, nil
			}
		}
	case market.OrderTypeStop:
		if order.Side == market.SideBuy {
			if high >= order.StopPrice {
				return math.Max(openPrice, order.StopPrice), true, nil
			}
		} else {
			if low <= order.StopPrice {
				return math.Min(openPrice, order.StopPrice), true, nil
			}
		}
	}
	return 0, false, nil
}

func (b *Broker) fill(order market.Order, basePrice float64, ts time.Time) market.Fill {
	fillPrice := basePrice + order.Side.Sign()*b.cfg.Slippage
	fill := market.Fill{
		OrderID:    fmt.Sprintf("SIM-%d", order.ID),
		Timestamp:  ts,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      fillPrice,
		Slippage:   order.Quantity * b.cfg.Slippage,
		Commission: b.cfg.Commission,
	}
	b.applyOwnFill(fill)
	return fill
}

// applyOwnFill 维护撮合器独立使用时的轻量持仓/成交记录，
// 平仓盈亏口径与账本一致。
func (b *Broker) applyOwnFill(fill market.Fill) {
	pos, ok := b.positions[fill.Symbol]
	if !ok {
		pos = &market.Position{Symbol: fill.Symbol}
		b.positions[fill.Symbol] = pos
	}
	pnl := 0.0
	signed := fill.Side.Sign() * fill.Quantity
	if pos.Quantity != 0 && pos.Quantity*signed < 0 {
		closeQty := math.Min(math.Abs(pos.Quantity), fill.Quantity)
		if pos.Quantity > 0 {
			pnl = (fill.Price-pos.AvgPrice)*closeQty - fill.Commission
		} else {
			pnl = (pos.AvgPrice-fill.Price)*closeQty - fill.Commission
		}
		pos.RealizedPnL += pnl
		remaining := fill.Quantity - closeQty
		pos.Quantity += fill.Side.Sign() * closeQty
		if remaining > 0 {
			pos.Quantity = fill.Side.Sign() * remaining
			pos.AvgPrice = fill.Price
		} else if pos.Quantity == 0 {
			pos.AvgPrice = 0
		}
	} else {
		prevAbs := math.Abs(pos.Quantity)
		pos.Quantity += signed
		if abs := math.Abs(pos.Quantity); abs > 0 {
			pos.AvgPrice = (pos.AvgPrice*prevAbs + fill.Quantity*fill.Price) / abs
		}
	}
	trade := market.Trade{
		Timestamp:  fill.Timestamp,
		Symbol:     fill.Symbol,
		Side:       fill.Side,
		Quantity:   fill.Quantity,
		Price:      fill.Price,
		Slippage:   fill.Slippage,
		Commission: fill.Commission,
		PnL:        pnl,
	}
	b.trades = append(b.trades, trade)
	if pnl != 0 {
		b.closed = append(b.closed, trade)
	}
}

// OpenOrders 返回当前未成交订单（FIFO 快照）。
func (b *Broker) OpenOrders() []market.Order {
	out := make([]market.Order, 0, len(b.open))
	for _, oo := range b.open {
		out = append(out, oo.order)
	}
	return out
}

// Trades 返回全部成交记录。
func (b *Broker) Trades() []market.Trade { return b.trades }

// ClosedTrades 返回产生非零已实现盈亏的成交记录。
func (b *Broker) ClosedTrades() []market.Trade { return b.closed }

// Position 返回撮合器视角的持仓快照。
func (b *Broker) Position(symbol string) market.Position {
	if pos, ok := b.positions[symbol]; ok {
		return *pos
	}
	return market.Position{Symbol: symbol}
}

// LastPrice 返回某 symbol 最近一次观测到的价格。
func (b *Broker) LastPrice(symbol string) (float64, bool) {
	price, ok := b.lastPrice[symbol]
	return price, ok
}
