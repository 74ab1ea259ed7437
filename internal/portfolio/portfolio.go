// Package portfolio 维护回测账本：现金、持仓、已实现/未实现盈亏与资金曲线。
package portfolio

import (
	"math"
	"time"

	"liveback/internal/bus"
	"liveback/internal/market"
)

// EquitySample 资金曲线上的一个采样点。
type EquitySample struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Portfolio 是单次回测生命周期内的权益账本。
// 现金允许为负（不模拟保证金），持仓按 symbol 懒创建。
type Portfolio struct {
	initialCash float64
	cash        float64
	positions   map[string]*market.Position
	order       []string
	trades      []market.Trade
	curve       []EquitySample
	bus         *bus.Bus
}

// New 创建账本并挂接事件总线：订阅 PriceUpdate（刷新未实现盈亏、
// 记录资金曲线并派发 EquityUpdate）与 Fill（入账成交）。bus 可为 nil，
// 此时账本仅作为独立状态机使用。
func New(initialCash float64, b *bus.Bus) (*Portfolio, error) {
	p := &Portfolio{
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]*market.Position),
		bus:         b,
	}
	if b != nil {
		if err := b.Subscribe(bus.EventPriceUpdate, p.onPriceUpdate); err != nil {
			return nil, err
		}
		if err := b.Subscribe(bus.EventFill, p.onFill); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Portfolio) onPriceUpdate(ev bus.Event) {
	pu, ok := ev.(bus.PriceUpdate)
	if !ok {
		return
	}
	p.UpdateUnrealized(map[string]float64{pu.Symbol: pu.Price})
	p.RecordEquity(pu.Timestamp)
	p.publishEquity(pu.Timestamp)
}

func (p *Portfolio) onFill(ev bus.Event) {
	fe, ok := ev.(bus.Fill)
	if !ok {
		return
	}
	p.ApplyFill(fe.Fill)
}

// ApplyFill 按成交更新现金与持仓，必要时落一条 Trade（仅在减仓时），
// 随后记录资金曲线采样并派发 EquityUpdate。
func (p *Portfolio) ApplyFill(fill market.Fill) {
	pos := p.Position(fill.Symbol)
	switch fill.Side {
	case market.SideBuy:
		p.applyBuy(pos, fill)
	case market.SideSell:
		p.applySell(pos, fill)
	}
	if pos.Quantity == 0 {
		// 不变式：空仓时成本与未实现盈亏归零。
		pos.AvgPrice = 0
		pos.UnrealizedPnL = 0
	}
	p.RecordEquity(fill.Timestamp)
	p.publishEquity(fill.Timestamp)
}

func (p *Portfolio) applyBuy(pos *market.Position, fill market.Fill) {
	cost := fill.Quantity*fill.Price + fill.Commission
	if pos.Quantity < 0 {
		// 先平空头。
		closeQty := math.Min(math.Abs(pos.Quantity), fill.Quantity)
		pnl := (pos.AvgPrice-fill.Price)*closeQty - fill.Commission
		pos.RealizedPnL += pnl
		pos.Quantity += closeQty
		p.cash += fill.Quantity*fill.Price - cost
		p.appendTrade(fill, closeQty, pnl)
		if fill.Quantity > closeQty {
			// 余量反手开多。
			remaining := fill.Quantity - closeQty
			pos.AvgPrice = fill.Price
			pos.Quantity = remaining
			p.cash -= remaining * fill.Price
		}
		return
	}
	// 开仓或加多：佣金计入持仓成本。
	totalCost := pos.AvgPrice*pos.Quantity + cost
	pos.Quantity += fill.Quantity
	if pos.Quantity > 0 {
		pos.AvgPrice = totalCost / pos.Quantity
	} else {
		pos.AvgPrice = 0
	}
	p.cash -= cost
}

func (p *Portfolio) applySell(pos *market.Position, fill market.Fill) {
	if pos.Quantity > 0 {
		// 先平多头。
		closeQty := math.Min(pos.Quantity, fill.Quantity)
		pnl := (fill.Price-pos.AvgPrice)*closeQty - fill.Commission
		pos.RealizedPnL += pnl
		pos.Quantity -= closeQty
		p.cash += closeQty*fill.Price - fill.Commission
		p.appendTrade(fill, closeQty, pnl)
		if fill.Quantity > closeQty {
			// 余量反手开空。
			remaining := fill.Quantity - closeQty
			pos.AvgPrice = fill.Price
			pos.Quantity = -remaining
			p.cash += remaining * fill.Price
		}
		return
	}
	// 开仓或加空：佣金从开仓净得中扣除。
	totalProceeds := math.Abs(pos.AvgPrice*pos.Quantity) + fill.Quantity*fill.Price - fill.Commission
	pos.Quantity -= fill.Quantity
	if pos.Quantity < 0 {
		pos.AvgPrice = math.Abs(totalProceeds / pos.Quantity)
	} else {
		pos.AvgPrice = 0
	}
	p.cash += fill.Quantity*fill.Price - fill.Commission
}

func (p *Portfolio) appendTrade(fill market.Fill, closedQty, pnl float64) {
	p.trades = append(p.trades, market.Trade{
		Timestamp:  fill.Timestamp,
		Symbol:     fill.Symbol,
		Side:       fill.Side,
		Quantity:   closedQty,
		Price:      fill.Price,
		Slippage:   fill.Slippage,
		Commission: fill.Commission,
		PnL:        pnl,
	})
}

// UpdateUnrealized 按最新价格刷新非空持仓的未实现盈亏。
func (p *Portfolio) UpdateUnrealized(prices map[string]float64) {
	for symbol, pos := range p.positions {
		price, ok := prices[symbol]
		if !ok || pos.Quantity == 0 {
			continue
		}
		if pos.Quantity > 0 {
			pos.UnrealizedPnL = (price - pos.AvgPrice) * pos.Quantity
		} else {
			pos.UnrealizedPnL = (pos.AvgPrice - price) * math.Abs(pos.Quantity)
		}
	}
}

// TotalEquity 返回现金加各持仓的成本市值与未实现盈亏。
func (p *Portfolio) TotalEquity() float64 {
	total := p.cash
	for _, pos := range p.positions {
		total += pos.Quantity*pos.AvgPrice + pos.UnrealizedPnL
	}
	return total
}

// RecordEquity 在资金曲线上追加一个采样点。
func (p *Portfolio) RecordEquity(ts time.Time) {
	p.curve = append(p.curve, EquitySample{Timestamp: ts, Equity: p.TotalEquity()})
}

// Position 返回指定 symbol 的持仓，不存在时懒创建零持仓，
// 调用方无需做存在性判断。
func (p *Portfolio) Position(symbol string) *market.Position {
	if pos, ok := p.positions[symbol]; ok {
		return pos
	}
	pos := &market.Position{Symbol: symbol}
	p.positions[symbol] = pos
	p.order = append(p.order, symbol)
	return pos
}

// OpenPositions 返回全部非零持仓（按首次出现顺序）。
func (p *Portfolio) OpenPositions() []*market.Position {
	var out []*market.Position
	for _, symbol := range p.order {
		if pos := p.positions[symbol]; pos.Quantity != 0 {
			out = append(out, pos)
		}
	}
	return out
}

// GrossExposure 返回 Σ|quantity|*avgPrice，供风控敞口预检使用。
func (p *Portfolio) GrossExposure() float64 {
	total := 0.0
	for _, pos := range p.positions {
		if pos.Quantity != 0 {
			total += math.Abs(pos.Quantity) * pos.AvgPrice
		}
	}
	return total
}

// Cash 返回当前现金（可能为负）。
func (p *Portfolio) Cash() float64 { return p.cash }

// InitialCash 返回初始资金。
func (p *Portfolio) InitialCash() float64 { return p.initialCash }

// Trades 返回按时间追加的减仓记录。
func (p *Portfolio) Trades() []market.Trade { return p.trades }

// EquityCurve 返回资金曲线（时间非递减）。
func (p *Portfolio) EquityCurve() []EquitySample { return p.curve }

func (p *Portfolio) publishEquity(ts time.Time) {
	if p.bus == nil {
		return
	}
	_ = p.bus.Publish(bus.EquityUpdate{Equity: p.TotalEquity(), Timestamp: ts})
}
