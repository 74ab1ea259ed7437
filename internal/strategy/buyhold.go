package strategy

import (
	"math"

	"liveback/internal/logger"
	"liveback/internal/market"
)

// BuyHold 在第一条有效观测时用固定比例现金市价买入，之后持有到结束。
type BuyHold struct {
	Base
	cashPercent float64
	placed      bool
}

// NewBuyHold 创建买入持有策略；cashPercent 非法时回退 0.95。
func NewBuyHold(cashPercent float64) *BuyHold {
	if cashPercent <= 0 || cashPercent > 1 {
		cashPercent = 0.95
	}
	return &BuyHold{Base: NewBase("buy_hold"), cashPercent: cashPercent}
}

func (s *BuyHold) OnBar(bar market.Bar) {
	if s.placed {
		return
	}
	price := bar.MarkPrice()
	if price <= 0 {
		return
	}
	cash := s.Context().Portfolio.Cash()
	// 向下取整到整数股。
	qty := math.Floor(cash * s.cashPercent / price)
	if qty <= 0 {
		logger.Infof("现金不足，无法建仓: symbol=%s price=%.2f cash=%.2f", bar.Symbol, price, cash)
		return
	}
	s.CreateOrder(market.Order{
		Symbol:   bar.Symbol,
		Side:     market.SideBuy,
		Quantity: qty,
		Type:     market.OrderTypeMarket,
	})
	s.placed = true
	logger.Infof("建仓: BUY %.0f %s @ ~%.2f", qty, bar.Symbol, price)
}

func (s *BuyHold) OnFill(fill market.Fill) {
	logger.Debugf("成交回报: %s %.4f %s @ %.2f", fill.Side, fill.Quantity, fill.Symbol, fill.Price)
}
