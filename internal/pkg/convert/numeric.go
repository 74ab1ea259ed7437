// Package convert 提供宽松的数值转换，适配混合了字符串与数字的外部数据。
package convert

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ToFloat64 把任意标量尽力转成 float64；不支持的类型或解析失败返回 0。
func ToFloat64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	default:
		return 0
	}
}
