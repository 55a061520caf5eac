// Package model 定义配对交易引擎中使用的核心数据结构。
package model

import (
	"time"
)

// Quote 单标的最新成交价事件
// 由行情流客户端产生，经聚合循环写入报价缓存
type Quote struct {
	// Symbol 标的代码
	Symbol string
	// Price 最新成交价
	Price float64
	// TS 成交时间
	TS time.Time
	// ArrivedAt 本机收到消息的时间
	// 用于观测行情新鲜度
	ArrivedAt time.Time
}

// IsValid 检查报价是否有效
// 有效条件: 标的非空且价格大于 0
func (q *Quote) IsValid() bool {
	return q.Symbol != "" && q.Price > 0
}

// Snapshot 一次决策步所见的价格快照
// 由驱动方（实盘轮询循环或回测回放器）构造后交给信号引擎，
// 引擎在一步内只读取该快照，不再访问任何外部数据源
type Snapshot struct {
	// TS 快照时间
	// 实盘为取价时刻，回测为分钟线时间戳
	TS time.Time
	// Prices 标的到价格的映射
	// 缺失的标的表示该周期无报价，对应交易对整体跳过
	Prices map[string]float64
}

// Price 获取单个标的的价格
// 返回价格与是否存在
func (s *Snapshot) Price(symbol string) (float64, bool) {
	px, ok := s.Prices[symbol]
	return px, ok
}

// PairPrices 获取交易对两腿的价格
// 任一腿缺失时 ok 为 false
func (s *Snapshot) PairPrices(p Pair) (pxA, pxB float64, ok bool) {
	pxA, okA := s.Prices[p.SymbolA]
	pxB, okB := s.Prices[p.SymbolB]
	return pxA, pxB, okA && okB
}

// Clone 创建 Snapshot 的深拷贝
func (s *Snapshot) Clone() *Snapshot {
	clone := &Snapshot{TS: s.TS}
	if s.Prices != nil {
		clone.Prices = make(map[string]float64, len(s.Prices))
		for sym, px := range s.Prices {
			clone.Prices[sym] = px
		}
	}
	return clone
}
