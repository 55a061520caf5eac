// Package ledger 实现回测模式下的组合账本。
// 维护所有交易对共享的单一现金池、每对的两腿持仓以及权益曲线。
// 实盘模式没有本地账本，持仓真相由券商侧维护。
package ledger

import (
	"time"

	"pairs-zscore-trader/internal/core/model"
)

// Legs 单个交易对的两腿持仓
// 带符号股数: 正为多头，负为空头
type Legs struct {
	// A A 腿持仓
	A int64
	// B B 腿持仓
	B int64
}

// IsFlat 判断两腿是否均为零
func (l Legs) IsFlat() bool {
	return l.A == 0 && l.B == 0
}

// Ledger 组合账本
// 现金与持仓是整个回测的单一共享可变资源。
// 非并发安全，由单线程决策循环独占使用。
type Ledger struct {
	// cash 共享现金池（所有交易对共用，不按对拆分）
	cash float64
	// positions 每对的两腿持仓
	positions map[model.Pair]Legs
	// lastPx 每标的最近一次见到的价格，用于持仓估值
	lastPx map[string]float64
	// history 权益曲线，每个处理过的快照追加一条
	history []model.EquitySample
}

// New 创建账本
// 参数 initialCash: 期初现金
func New(initialCash float64) *Ledger {
	return &Ledger{
		cash:      initialCash,
		positions: make(map[model.Pair]Legs),
		lastPx:    make(map[string]float64),
	}
}

// Cash 返回当前现金余额
func (l *Ledger) Cash() float64 {
	return l.cash
}

// Position 返回某交易对当前的两腿持仓
func (l *Ledger) Position(p model.Pair) Legs {
	return l.positions[p]
}

// MarkPrices 把快照价格并入最近价格表
// 估值始终使用每标的最近一次见到的价格
func (l *Ledger) MarkPrices(prices map[string]float64) {
	for sym, px := range prices {
		l.lastPx[sym] = px
	}
}

// Open 按方向开仓，同步确定性地变动现金与持仓
// 买腿扣减现金 qty×price，卖腿增加现金 qty×price:
//   - 做多价差: 买 A 卖 B，持仓 {+qtyA, -qtyB}
//   - 做空价差: 卖 A 买 B，持仓 {-qtyA, +qtyB}
//
// qtyA/qtyB 为正数股数
func (l *Ledger) Open(p model.Pair, side model.Side, qtyA int64, qtyB int64, pxA float64, pxB float64) {
	legs := l.positions[p]
	if side.IsLong() {
		l.cash -= float64(qtyA) * pxA
		legs.A += qtyA
		l.cash += float64(qtyB) * pxB
		legs.B -= qtyB
	} else {
		l.cash += float64(qtyA) * pxA
		legs.A -= qtyA
		l.cash -= float64(qtyB) * pxB
		legs.B += qtyB
	}
	l.positions[p] = legs
	l.lastPx[p.SymbolA] = pxA
	l.lastPx[p.SymbolB] = pxB
}

// Close 按当前模拟价格把某对持仓全部了结进现金
// cash += pos_a×px_a + pos_b×px_b，随后两腿归零
func (l *Ledger) Close(p model.Pair, pxA float64, pxB float64) {
	legs := l.positions[p]
	l.cash += float64(legs.A) * pxA
	l.cash += float64(legs.B) * pxB
	l.positions[p] = Legs{}
	l.lastPx[p.SymbolA] = pxA
	l.lastPx[p.SymbolB] = pxB
}

// Equity 从头重算总权益 = 现金 + Σ 各对持仓按最近价格的市值
// 每次调用全量重算，从不缓存
func (l *Ledger) Equity() float64 {
	equity := l.cash
	for p, legs := range l.positions {
		pxA, okA := l.lastPx[p.SymbolA]
		pxB, okB := l.lastPx[p.SymbolB]
		if !okA || !okB {
			// 从未见过价格的腿无法估值，贡献按 0 计
			continue
		}
		equity += float64(legs.A)*pxA + float64(legs.B)*pxB
	}
	return equity
}

// Record 采样一次权益并追加到权益曲线
// 每个处理过的快照恰好调用一次，返回本次采样的权益值
func (l *Ledger) Record(ts time.Time) float64 {
	equity := l.Equity()
	l.history = append(l.history, model.EquitySample{TS: ts, Equity: equity})
	return equity
}

// History 返回权益曲线的拷贝
func (l *Ledger) History() []model.EquitySample {
	out := make([]model.EquitySample, len(l.history))
	copy(out, l.history)
	return out
}
