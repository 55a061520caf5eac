// Package sim 提供回测用的模拟执行场所。
// 成交在快照价格上即时完成，无滑点、无手续费、无部分成交，
// 全部资金变动记入共享账本。
package sim

import (
	"context"

	"go.uber.org/zap"

	"pairs-zscore-trader/internal/core/ledger"
	"pairs-zscore-trader/internal/core/model"
)

// Venue 模拟执行场所
// 确定性实现: 相同输入序列必然产生相同的账本终态
type Venue struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

// New 创建模拟执行场所
// 参数 led: 共享账本，多交易日回测中跨交易日复用同一实例
func New(led *ledger.Ledger, logger *zap.Logger) *Venue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Venue{ledger: led, logger: logger}
}

// Capital 返回按快照价格估值的当前总权益
// 先用快照更新估值价，再重算权益，保证同一步内的
// 仓位计算使用最新可见价格
func (v *Venue) Capital(_ context.Context, snap *model.Snapshot) (float64, error) {
	v.ledger.MarkPrices(snap.Prices)
	return v.ledger.Equity(), nil
}

// OpenLong 做多价差: 买 A 腿、卖 B 腿
func (v *Venue) OpenLong(_ context.Context, p model.Pair, qtyA, qtyB int64, pxA, pxB float64) error {
	v.ledger.Open(p, model.SideLongSpread, qtyA, qtyB, pxA, pxB)
	v.logger.Debug("模拟成交: 做多价差",
		zap.String("pair", p.Key()),
		zap.Int64("qty_a", qtyA),
		zap.Int64("qty_b", qtyB),
		zap.Float64("px_a", pxA),
		zap.Float64("px_b", pxB),
		zap.Float64("cash", v.ledger.Cash()))
	return nil
}

// OpenShort 做空价差: 卖 A 腿、买 B 腿
func (v *Venue) OpenShort(_ context.Context, p model.Pair, qtyA, qtyB int64, pxA, pxB float64) error {
	v.ledger.Open(p, model.SideShortSpread, qtyA, qtyB, pxA, pxB)
	v.logger.Debug("模拟成交: 做空价差",
		zap.String("pair", p.Key()),
		zap.Int64("qty_a", qtyA),
		zap.Int64("qty_b", qtyB),
		zap.Float64("px_a", pxA),
		zap.Float64("px_b", pxB),
		zap.Float64("cash", v.ledger.Cash()))
	return nil
}

// Close 按给定价格平掉两腿仓位
func (v *Venue) Close(_ context.Context, p model.Pair, pxA, pxB float64) error {
	v.ledger.Close(p, pxA, pxB)
	v.logger.Debug("模拟成交: 平仓",
		zap.String("pair", p.Key()),
		zap.Float64("px_a", pxA),
		zap.Float64("px_b", pxB),
		zap.Float64("cash", v.ledger.Cash()))
	return nil
}
