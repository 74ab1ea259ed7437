package strategy

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"liveback/internal/logger"
	"liveback/internal/market"
)

// SMACross 快慢均线交叉策略：金叉市价买入，死叉平掉全部多头。
// 单 symbol，收盘价驱动；历史不足慢线窗口时不产生信号。
type SMACross struct {
	Base
	fast        int
	slow        int
	cashPercent float64

	closes   []float64
	wasAbove bool
	primed   bool
}

func NewSMACross(fast, slow int, cashPercent float64) (*SMACross, error) {
	if fast <= 0 || slow <= 0 || fast >= slow {
		return nil, fmt.Errorf("非法均线参数: fast=%d slow=%d", fast, slow)
	}
	if cashPercent <= 0 || cashPercent > 1 {
		cashPercent = 0.95
	}
	return &SMACross{
		Base:        NewBase("sma_cross"),
		fast:        fast,
		slow:        slow,
		cashPercent: cashPercent,
	}, nil
}

func (s *SMACross) OnBar(bar market.Bar) {
	price := bar.MarkPrice()
	if price <= 0 {
		return
	}
	s.closes = append(s.closes, price)
	if len(s.closes) < s.slow {
		return
	}

	fastSeries := talib.Sma(s.closes, s.fast)
	slowSeries := talib.Sma(s.closes, s.slow)
	fast := fastSeries[len(fastSeries)-1]
	slow := slowSeries[len(slowSeries)-1]
	above := fast > slow

	if !s.primed {
		// 首个完整窗口只建立基准，不追溯历史交叉。
		s.primed = true
		s.wasAbove = above
		return
	}
	if above == s.wasAbove {
		return
	}
	s.wasAbove = above

	pos := s.Context().Portfolio.Position(bar.Symbol)
	if above {
		if pos.Quantity > 0 {
			return
		}
		cash := s.Context().Portfolio.Cash()
		qty := math.Floor(cash * s.cashPercent / price)
		if qty <= 0 {
			return
		}
		s.CreateOrder(market.Order{
			Symbol:   bar.Symbol,
			Side:     market.SideBuy,
			Quantity: qty,
			Type:     market.OrderTypeMarket,
		})
		logger.Infof("金叉买入: %s qty=%.0f fast=%.2f slow=%.2f", bar.Symbol, qty, fast, slow)
		return
	}
	if pos.Quantity > 0 {
		s.CreateOrder(market.Order{
			Symbol:   bar.Symbol,
			Side:     market.SideSell,
			Quantity: pos.Quantity,
			Type:     market.OrderTypeMarket,
		})
		logger.Infof("死叉平仓: %s qty=%.4f fast=%.2f slow=%.2f", bar.Symbol, pos.Quantity, fast, slow)
	}
}
