// Package model 定义配对交易引擎中使用的核心数据结构。
// 包含交易对、价格快照、成交记录、回测报告等核心类型。
package model

import (
	"fmt"
)

// Side 价差方向
type Side string

const (
	// SideLongSpread 做多价差
	// 当 z < -z_entry 时触发: 买入 A 腿，卖出 B 腿，押注价差回升
	SideLongSpread Side = "long_spread"
	// SideShortSpread 做空价差
	// 当 z > z_entry 时触发: 卖出 A 腿，买入 B 腿，押注价差回落
	SideShortSpread Side = "short_spread"
)

// IsLong 判断是否为做多价差
func (s Side) IsLong() bool {
	return s == SideLongSpread
}

// Direction 获取方向系数
// 做多价差返回 1，做空价差返回 -1
// A 腿持仓符号 = Direction × qty_a，B 腿持仓符号 = -Direction × qty_b
func (s Side) Direction() float64 {
	if s == SideLongSpread {
		return 1
	}
	return -1
}

// Pair 交易对
// 由两个相关联的标的组成，作为一个统计套利单元交易。
// 构造后不可变，腿顺序固定: 价差恒为 price_a - price_b，不做价格水平归一化。
// 可比较，可直接用作 map 键。
type Pair struct {
	// SymbolA A 腿标的代码，如 GOOGL
	SymbolA string
	// SymbolB B 腿标的代码，如 GOOG
	SymbolB string
}

// Key 获取交易对的日志标识，格式 "A/B"
func (p Pair) Key() string {
	return fmt.Sprintf("%s/%s", p.SymbolA, p.SymbolB)
}

// Symbols 按腿顺序返回两个标的代码
func (p Pair) Symbols() []string {
	return []string{p.SymbolA, p.SymbolB}
}
