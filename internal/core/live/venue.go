// Package live 提供实盘执行场所: 把引擎的开平仓动作转换为券商市价单。
// 下单失败只记日志、不向上传播，引擎会乐观地翻转持仓标志，
// 本地状态可能因此与券商真实持仓出现偏差。资金查询失败则正常报错，
// 引擎据此跳过当前周期的入场。
package live

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"pairs-zscore-trader/internal/broker"
	"pairs-zscore-trader/internal/core/model"
)

// Broker 实盘执行所需的最小券商能力
type Broker interface {
	// Account 获取账户信息
	Account(ctx context.Context) (*broker.Account, error)
	// SubmitMarketOrder 提交市价单，side 为 buy 或 sell
	SubmitMarketOrder(ctx context.Context, symbol, side string, qty int64) (*broker.Order, error)
	// ClosePosition 市价平掉某标的全部持仓
	ClosePosition(ctx context.Context, symbol string) (*broker.Order, error)
}

// Venue 实盘执行场所
type Venue struct {
	broker Broker
	logger *zap.Logger
}

// New 创建实盘执行场所
func New(brk Broker, logger *zap.Logger) *Venue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Venue{broker: brk, logger: logger}
}

// Capital 返回账户当前购买力
// 查询失败时返回错误，调用方应跳过本周期的入场
func (v *Venue) Capital(ctx context.Context, _ *model.Snapshot) (float64, error) {
	acct, err := v.broker.Account(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取可用资金失败: %w", err)
	}
	bp, _ := acct.BuyingPower.Float64()
	return bp, nil
}

// OpenLong 做多价差: 市价买 A 腿、卖 B 腿
// 第一腿失败时跳过第二腿，两腿的失败都只记日志
func (v *Venue) OpenLong(ctx context.Context, p model.Pair, qtyA, qtyB int64, _, _ float64) error {
	if _, err := v.broker.SubmitMarketOrder(ctx, p.SymbolA, broker.SideBuy, qtyA); err != nil {
		v.logger.Error("A 腿下单失败", zap.String("pair", p.Key()), zap.Error(err))
		return nil
	}
	if _, err := v.broker.SubmitMarketOrder(ctx, p.SymbolB, broker.SideSell, qtyB); err != nil {
		v.logger.Error("B 腿下单失败", zap.String("pair", p.Key()), zap.Error(err))
	}
	return nil
}

// OpenShort 做空价差: 市价卖 A 腿、买 B 腿
func (v *Venue) OpenShort(ctx context.Context, p model.Pair, qtyA, qtyB int64, _, _ float64) error {
	if _, err := v.broker.SubmitMarketOrder(ctx, p.SymbolA, broker.SideSell, qtyA); err != nil {
		v.logger.Error("A 腿下单失败", zap.String("pair", p.Key()), zap.Error(err))
		return nil
	}
	if _, err := v.broker.SubmitMarketOrder(ctx, p.SymbolB, broker.SideBuy, qtyB); err != nil {
		v.logger.Error("B 腿下单失败", zap.String("pair", p.Key()), zap.Error(err))
	}
	return nil
}

// Close 平掉交易对两腿: 逐腿提交撤仓指令
// 任一腿失败不影响另一腿，失败只记日志
func (v *Venue) Close(ctx context.Context, p model.Pair, _, _ float64) error {
	for _, sym := range p.Symbols() {
		if _, err := v.broker.ClosePosition(ctx, sym); err != nil {
			v.logger.Error("撤仓失败", zap.String("symbol", sym), zap.Error(err))
		}
	}
	return nil
}
