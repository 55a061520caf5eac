// Package signal 实现多交易对 z-score 信号引擎。
// 每个决策步对全部交易对做一次顺序扫描: 更新价差滚动窗口、计算 z-score、
// 按状态机决定开平仓，并把动作路由到执行场所。
package signal

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"pairs-zscore-trader/internal/config"
	"pairs-zscore-trader/internal/core/model"
	"pairs-zscore-trader/internal/core/sizing"
	"pairs-zscore-trader/internal/stats/spread"
)

// Venue 执行场所能力契约
// 同一信号逻辑通过该契约路由到实盘券商或回测账本。
// 实盘实现把下单失败按调用捕获并记日志、不向上传播（乐观翻转持仓标志，
// 本地状态可能与券商真实持仓出现偏差，这是刻意保留的已知缺口）；
// 回测实现同步确定性地变动账本。
type Venue interface {
	// Capital 返回当前可用资金
	// 实盘为账户购买力，回测为按快照价格估值的总权益
	Capital(ctx context.Context, snap *model.Snapshot) (float64, error)
	// OpenLong 开仓做多价差: 买 A 腿 qtyA 股，卖 B 腿 qtyB 股
	OpenLong(ctx context.Context, p model.Pair, qtyA, qtyB int64, pxA, pxB float64) error
	// OpenShort 开仓做空价差: 卖 A 腿 qtyA 股，买 B 腿 qtyB 股
	OpenShort(ctx context.Context, p model.Pair, qtyA, qtyB int64, pxA, pxB float64) error
	// Close 平掉该交易对的两腿持仓
	Close(ctx context.Context, p model.Pair, pxA, pxB float64) error
}

// pairState 单交易对的可变状态
// 由引擎的交易对序列独占持有，不在别处共享
type pairState struct {
	pair   model.Pair
	window *spread.Window
	// inPosition 是否持有两腿仓位
	inPosition bool
	// side 持仓方向，仅 inPosition 为 true 时有意义
	side model.Side
}

// Stats 引擎运行计数
type Stats struct {
	// Steps 已处理的决策步数
	Steps int64
	// Entries 开仓次数
	Entries int64
	// Exits 信号平仓次数
	Exits int64
	// ForcedCloses 强制平仓次数
	ForcedCloses int64
	// SkippedPairs 因缺少报价被跳过的交易对次数
	SkippedPairs int64
}

// Engine 多交易对 z-score 信号引擎
// 状态机（每对）: FLAT 与 OPEN 两态，初始 FLAT，无终止态。
// 单线程同步执行: 一个决策步完整扫完全部交易对后才处理下一个快照。
type Engine struct {
	// cfg 策略配置
	cfg config.StrategyConfig
	// venue 执行场所
	venue Venue
	// sizer 仓位计算器
	sizer *sizing.Sizer
	// logger 日志
	logger *zap.Logger

	// pairs 交易对状态序列，评估顺序即配置顺序
	pairs []*pairState
	// symbols 去重后的全部标的，保持配置出现顺序，用于批量取价
	symbols []string

	// stats 运行计数
	stats Stats
}

// New 创建信号引擎
// 构造时校验策略参数，非法配置直接拒绝，不会进入任何决策步
// 参数 cfg: 策略配置
// 参数 venue: 执行场所（实盘或回测）
// 参数 logger: 日志
func New(cfg config.StrategyConfig, venue Venue, logger *zap.Logger) (*Engine, error) {
	if venue == nil {
		return nil, fmt.Errorf("执行场所不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Pairs) == 0 {
		return nil, fmt.Errorf("至少需要配置一个交易对")
	}
	if cfg.LookbackWindow < 2 {
		return nil, fmt.Errorf("回看窗口必须 >= 2，当前值: %d", cfg.LookbackWindow)
	}
	if cfg.ZEntry <= 0 {
		return nil, fmt.Errorf("入场阈值必须为正数，当前值: %f", cfg.ZEntry)
	}
	if cfg.ZExit < 0 || cfg.ZExit >= cfg.ZEntry {
		return nil, fmt.Errorf("出场阈值必须满足 0 <= z_exit < z_entry，当前值: %f", cfg.ZExit)
	}
	if cfg.CapitalDivisor <= 0 {
		return nil, fmt.Errorf("资金除数必须为正数，当前值: %f", cfg.CapitalDivisor)
	}

	e := &Engine{
		cfg:    cfg,
		venue:  venue,
		sizer:  sizing.New(cfg.CapitalDivisor),
		logger: logger,
	}

	seen := make(map[string]bool)
	for i, pc := range cfg.Pairs {
		if pc.A == "" || pc.B == "" {
			return nil, fmt.Errorf("pairs[%d]: 两腿标的都不能为空", i)
		}
		if pc.A == pc.B {
			return nil, fmt.Errorf("pairs[%d]: 两腿标的不能相同 '%s'", i, pc.A)
		}
		p := model.Pair{SymbolA: pc.A, SymbolB: pc.B}
		e.pairs = append(e.pairs, &pairState{
			pair:   p,
			window: spread.NewWindow(cfg.LookbackWindow),
		})
		for _, sym := range p.Symbols() {
			if !seen[sym] {
				seen[sym] = true
				e.symbols = append(e.symbols, sym)
			}
		}
	}

	return e, nil
}

// Symbols 返回去重后的全部标的代码，保持配置出现顺序
// 驱动方用它做批量取价
func (e *Engine) Symbols() []string {
	out := make([]string, len(e.symbols))
	copy(out, e.symbols)
	return out
}

// OpenCount 返回当前持仓中的交易对数
func (e *Engine) OpenCount() int {
	n := 0
	for _, ps := range e.pairs {
		if ps.inPosition {
			n++
		}
	}
	return n
}

// Stats 返回运行计数快照
func (e *Engine) Stats() Stats {
	return e.stats
}

// stepCapital 单步内的惰性资金缓存
// 资金每步至多取一次，同一步内所有开仓共用同一资金基数
type stepCapital struct {
	value   float64
	fetched bool
	failed  bool
}

// Step 处理一个价格快照: 顺序评估全部交易对
// 任一交易对缺少任一腿报价时整对跳过本周期（记日志，不报错），
// 其余交易对继续评估。返回本步产生的成交记录。
func (e *Engine) Step(ctx context.Context, snap *model.Snapshot) []model.TradeRecord {
	e.stats.Steps++
	var records []model.TradeRecord
	var capital stepCapital

	for _, ps := range e.pairs {
		pxA, pxB, ok := snap.PairPrices(ps.pair)
		if !ok {
			e.stats.SkippedPairs++
			e.logger.Debug("缺少报价，跳过交易对",
				zap.String("pair", ps.pair.Key()))
			continue
		}

		spreadVal := pxA - pxB
		score := ps.window.Update(spreadVal)

		if !score.Ready {
			e.logger.Info("数据不足，等待窗口积满",
				zap.String("pair", ps.pair.Key()),
				zap.Int("window", ps.window.Len()),
				zap.Int("need", ps.window.Capacity()))
			continue
		}
		if score.Degenerate {
			// 方差塌缩为零时 z 无定义: 不产生信号，已有持仓继续持有
			e.logger.Info("窗口方差为零，无信号",
				zap.String("pair", ps.pair.Key()),
				zap.Float64("spread", spreadVal),
				zap.Float64("mean", score.Mean))
			continue
		}

		e.logger.Info("价差评估",
			zap.String("pair", ps.pair.Key()),
			zap.Float64("spread", spreadVal),
			zap.Float64("z", score.Z),
			zap.Float64("mean", score.Mean),
			zap.Float64("std", score.Std))

		if !ps.inPosition {
			if rec, ok := e.tryEnter(ctx, snap, ps, score.Z, spreadVal, pxA, pxB, &capital); ok {
				records = append(records, rec)
			}
			continue
		}
		if rec, ok := e.tryExit(ctx, snap, ps, score.Z, spreadVal, pxA, pxB); ok {
			records = append(records, rec)
		}
	}

	return records
}

// tryEnter 评估 FLAT 态交易对的入场条件
// 比较使用严格不等号: z 恰好等于阈值时不触发
func (e *Engine) tryEnter(ctx context.Context, snap *model.Snapshot, ps *pairState, z, spreadVal, pxA, pxB float64, capital *stepCapital) (model.TradeRecord, bool) {
	var side model.Side
	switch {
	case z > e.cfg.ZEntry:
		// 价差异常偏高: 卖 A 买 B，押注回归
		side = model.SideShortSpread
	case z < -e.cfg.ZEntry:
		// 价差异常偏低: 买 A 卖 B
		side = model.SideLongSpread
	default:
		return model.TradeRecord{}, false
	}

	if !capital.fetched {
		capital.fetched = true
		value, err := e.venue.Capital(ctx, snap)
		if err != nil {
			capital.failed = true
			e.logger.Warn("获取可用资金失败，本步跳过全部入场", zap.Error(err))
		} else {
			capital.value = value
		}
	}
	if capital.failed {
		return model.TradeRecord{}, false
	}

	qtyA, qtyB := e.sizer.Legs(capital.value, pxA, pxB)

	var err error
	var action model.TradeAction
	if side.IsLong() {
		action = model.ActionOpenLong
		err = e.venue.OpenLong(ctx, ps.pair, qtyA, qtyB, pxA, pxB)
	} else {
		action = model.ActionOpenShort
		err = e.venue.OpenShort(ctx, ps.pair, qtyA, qtyB, pxA, pxB)
	}
	if err != nil {
		e.logger.Error("开仓失败，状态保持 FLAT",
			zap.String("pair", ps.pair.Key()),
			zap.String("side", string(side)),
			zap.Error(err))
		return model.TradeRecord{}, false
	}

	ps.inPosition = true
	ps.side = side
	e.stats.Entries++
	e.logger.Info("开仓",
		zap.String("pair", ps.pair.Key()),
		zap.String("side", string(side)),
		zap.Int64("qty_a", qtyA),
		zap.Int64("qty_b", qtyB),
		zap.Float64("px_a", pxA),
		zap.Float64("px_b", pxB),
		zap.Float64("z", z))

	return model.TradeRecord{
		TS:      snap.TS,
		SymbolA: ps.pair.SymbolA,
		SymbolB: ps.pair.SymbolB,
		Action:  action,
		QtyA:    qtyA,
		QtyB:    qtyB,
		PxA:     pxA,
		PxB:     pxB,
		Spread:  spreadVal,
		Z:       z,
	}, true
}

// tryExit 评估 OPEN 态交易对的出场条件
// 无论持仓方向，|z| 严格小于出场阈值才平仓；引擎从不直接反向，
// 反向必须先平仓、之后的步里再按入场条件重新开仓
func (e *Engine) tryExit(ctx context.Context, snap *model.Snapshot, ps *pairState, z, spreadVal, pxA, pxB float64) (model.TradeRecord, bool) {
	if math.Abs(z) >= e.cfg.ZExit {
		return model.TradeRecord{}, false
	}

	if err := e.venue.Close(ctx, ps.pair, pxA, pxB); err != nil {
		e.logger.Error("平仓失败，状态保持 OPEN",
			zap.String("pair", ps.pair.Key()),
			zap.Error(err))
		return model.TradeRecord{}, false
	}

	ps.inPosition = false
	ps.side = ""
	e.stats.Exits++
	e.logger.Info("平仓",
		zap.String("pair", ps.pair.Key()),
		zap.Float64("px_a", pxA),
		zap.Float64("px_b", pxB),
		zap.Float64("z", z))

	return model.TradeRecord{
		TS:      snap.TS,
		SymbolA: ps.pair.SymbolA,
		SymbolB: ps.pair.SymbolB,
		Action:  model.ActionClose,
		PxA:     pxA,
		PxB:     pxB,
		Spread:  spreadVal,
		Z:       z,
	}, true
}

// Liquidate 按快照价格强制平掉所有仍在持仓的交易对
// 收盘兜底动作，不是信号驱动的平仓。缺少报价的交易对无法强平，
// 记日志后保持持仓。返回产生的成交记录。
func (e *Engine) Liquidate(ctx context.Context, snap *model.Snapshot) []model.TradeRecord {
	var records []model.TradeRecord
	for _, ps := range e.pairs {
		if !ps.inPosition {
			continue
		}
		pxA, pxB, ok := snap.PairPrices(ps.pair)
		if !ok {
			e.logger.Warn("缺少报价，无法强制平仓",
				zap.String("pair", ps.pair.Key()))
			continue
		}
		if err := e.venue.Close(ctx, ps.pair, pxA, pxB); err != nil {
			e.logger.Error("强制平仓失败",
				zap.String("pair", ps.pair.Key()),
				zap.Error(err))
			continue
		}
		ps.inPosition = false
		ps.side = ""
		e.stats.ForcedCloses++
		e.logger.Info("收盘强制平仓",
			zap.String("pair", ps.pair.Key()),
			zap.Float64("px_a", pxA),
			zap.Float64("px_b", pxB))
		records = append(records, model.TradeRecord{
			TS:      snap.TS,
			SymbolA: ps.pair.SymbolA,
			SymbolB: ps.pair.SymbolB,
			Action:  model.ActionClose,
			PxA:     pxA,
			PxB:     pxB,
			Spread:  pxA - pxB,
			Forced:  true,
		})
	}
	return records
}
