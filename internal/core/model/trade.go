// Package model 定义配对交易引擎中使用的核心数据结构。
package model

import (
	"time"
)

// TradeAction 成交记录动作类型
type TradeAction string

const (
	// ActionOpenLong 开仓做多价差: 买 A 卖 B
	ActionOpenLong TradeAction = "open_long"
	// ActionOpenShort 开仓做空价差: 卖 A 买 B
	ActionOpenShort TradeAction = "open_short"
	// ActionClose 平仓: 两腿同时了结
	ActionClose TradeAction = "close"
)

// TradeRecord 成交记录输出结构
// 用于 JSONL 文件输出，实盘与回测共用
type TradeRecord struct {
	// TS 动作发生时间
	TS time.Time `json:"ts"`
	// SymbolA A 腿标的
	SymbolA string `json:"symbol_a"`
	// SymbolB B 腿标的
	SymbolB string `json:"symbol_b"`
	// Action 动作: open_long, open_short, close
	Action TradeAction `json:"action"`
	// QtyA A 腿股数（绝对值）
	QtyA int64 `json:"qty_a"`
	// QtyB B 腿股数（绝对值）
	QtyB int64 `json:"qty_b"`
	// PxA A 腿成交参考价
	PxA float64 `json:"px_a"`
	// PxB B 腿成交参考价
	PxB float64 `json:"px_b"`
	// Spread 动作时的价差
	Spread float64 `json:"spread"`
	// Z 动作时的 z-score
	// 强制平仓时无信号依据，保持 0 并置 forced 为 true
	Z float64 `json:"z"`
	// Forced 是否为收盘强制平仓
	// 强制平仓是兜底动作，不是信号驱动的平仓
	Forced bool `json:"forced"`
}

// EquitySample 权益曲线采样点
// 回测中每处理一个快照追加一条
type EquitySample struct {
	// TS 采样时间
	TS time.Time `json:"ts"`
	// Equity 总权益 = 现金 + Σ 各对持仓市值
	Equity float64 `json:"equity"`
}
