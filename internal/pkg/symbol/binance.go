package symbol

// BinanceConverter 在内部形式（BTC/USDT）与 Binance 形式（BTCUSDT）之间转换。
type BinanceConverter struct{}

func (BinanceConverter) ToExchange(internal string) string {
	return Canonical(internal)
}

func (BinanceConverter) FromExchange(raw string) string {
	return Parse(raw).Internal()
}

func (BinanceConverter) Format() Format {
	return FormatBinance
}

var Binance = BinanceConverter{}
