// Package sizing 实现资金分配与腿级股数计算。
// 按固定除数把可用资金切成单对名义预算，再按腿价格折算成整数股数。
package sizing

// Sizer 仓位计算器
// divisor 是可调的风险参数（常见取值 10 或 200），不是推导常量。
type Sizer struct {
	// divisor 资金除数 K: notional_each = capital / K
	divisor float64
}

// New 创建仓位计算器
// 参数 divisor: 资金除数，非正时按 10 处理
// （配置层在构造策略前已拒绝非正除数，这里仅兜底）
func New(divisor float64) *Sizer {
	if divisor <= 0 {
		divisor = 10
	}
	return &Sizer{divisor: divisor}
}

// Notional 计算单对名义预算 = capital / divisor
func (s *Sizer) Notional(capital float64) float64 {
	return capital / s.divisor
}

// Legs 计算交易对两腿的股数
// 每腿 qty = max(floor(notional_each / 腿价格), 1):
// 永不为零、永不出现碎股，资金不足时也至少一股。
// 两腿独立计算，不做名义价值配平，两腿实际敞口可以不同。
func (s *Sizer) Legs(capital float64, pxA float64, pxB float64) (qtyA int64, qtyB int64) {
	notional := s.Notional(capital)
	return legQty(notional, pxA), legQty(notional, pxB)
}

func legQty(notional float64, px float64) int64 {
	if px <= 0 {
		return 1
	}
	qty := int64(notional / px)
	if qty < 1 {
		return 1
	}
	return qty
}
