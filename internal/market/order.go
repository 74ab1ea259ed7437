package market

import "time"

// Side 订单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign 返回方向符号：BUY=+1，SELL=-1。
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Opposite 返回反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType 订单类型。
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// Order 表示策略提交的一条订单。Quantity 恒为正数，方向由 Side 表达；
// 创建后不再修改，成交或撤销时从撮合器的 open 集合移除。
type Order struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	Type       OrderType `json:"type"`
	LimitPrice float64   `json:"limit_price,omitempty"`
	StopPrice  float64   `json:"stop_price,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SignedQuantity 返回带符号数量（多头为正，空头为负）。
func (o Order) SignedQuantity() float64 {
	return o.Side.Sign() * o.Quantity
}

// Fill 表示一条订单的完整成交记录（本模型不存在部分成交）。
type Fill struct {
	OrderID    string    `json:"order_id"`
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Slippage   float64   `json:"slippage"`
	Commission float64   `json:"commission"`
}

// Position 表示单个 symbol 的净持仓与成本。
// 不变式：Quantity == 0 时 AvgPrice == 0。
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgPrice      float64 `json:"avg_price"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Trade 记录一次减仓/平仓产生的已实现盈亏。
type Trade struct {
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Slippage   float64   `json:"slippage"`
	Commission float64   `json:"commission"`
	PnL        float64   `json:"pnl"`
}
