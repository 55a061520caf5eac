// Package backtest 历史行情回放驱动。
// 将分钟线按时间戳做内连接对齐后逐快照送入信号引擎，复用与实盘完全相同的
// 决策逻辑。会话结束时按最后一行价格强制平仓并产出报告，多日连续回测共享
// 同一现金池与价差窗口。
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"pairs-zscore-trader/internal/config"
	"pairs-zscore-trader/internal/core/ledger"
	"pairs-zscore-trader/internal/core/model"
	"pairs-zscore-trader/internal/core/signal"
	"pairs-zscore-trader/internal/marketdata"
	"pairs-zscore-trader/internal/util/timeutil"
)

// BarSource 历史分钟线数据源
type BarSource interface {
	// Bars 获取多标的在指定区间内的 1 分钟线，键为标的代码
	Bars(ctx context.Context, symbols []string, start, end time.Time) (map[string][]marketdata.Bar, error)
}

// SessionResult 单交易日的回放结果
type SessionResult struct {
	// Report 会话报告
	Report model.SessionReport
	// Trades 会话内全部成交记录（含收盘强制平仓）
	Trades []model.TradeRecord
}

// CampaignResult 多交易日连续回放结果
type CampaignResult struct {
	// Report 汇总报告
	Report model.CampaignReport
	// Trades 全部成交记录，按时间升序
	Trades []model.TradeRecord
}

// Driver 回测驱动
// 持有数据源、信号引擎与账本，逐交易日回放行情。
type Driver struct {
	source   BarSource
	engine   *signal.Engine
	ledger   *ledger.Ledger
	logger   *zap.Logger
	openMin  int
	closeMin int
}

// New 创建回测驱动
// 参数 source: 历史行情数据源
// 参数 eng: 信号引擎（应挂载模拟执行场所）
// 参数 led: 组合账本，与模拟执行场所共享同一实例
// 参数 cfg: 回测配置（会话窗口）
// 参数 logger: 日志器，nil 时使用空日志器
// 返回: 驱动实例和可能的配置错误
func New(source BarSource, eng *signal.Engine, led *ledger.Ledger, cfg config.BacktestConfig, logger *zap.Logger) (*Driver, error) {
	if source == nil {
		return nil, fmt.Errorf("创建回测驱动失败: 数据源不能为空")
	}
	if eng == nil {
		return nil, fmt.Errorf("创建回测驱动失败: 信号引擎不能为空")
	}
	if led == nil {
		return nil, fmt.Errorf("创建回测驱动失败: 账本不能为空")
	}
	openMin, closeMin, err := cfg.SessionMinutes()
	if err != nil {
		return nil, fmt.Errorf("创建回测驱动失败: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		source:   source,
		engine:   eng,
		ledger:   led,
		logger:   logger,
		openMin:  openMin,
		closeMin: closeMin,
	}, nil
}

// RunSession 回放单个交易日
// 无可用行情（当日无数据或无重叠时间戳）时返回 (nil, nil) 并记录日志，
// 数据源请求失败时返回错误。
// 参数 ctx: 上下文
// 参数 day: 交易日
// 返回: 会话结果（跳过时为 nil）和可能的错误
func (d *Driver) RunSession(ctx context.Context, day time.Time) (*SessionResult, error) {
	date := day.UTC().Format(timeutil.DateLayout)
	start, end := timeutil.SessionWindow(day, d.openMin, d.closeMin)

	symbols := d.engine.Symbols()
	bars, err := d.source.Bars(ctx, symbols, start, end)
	if err != nil {
		return nil, fmt.Errorf("获取 %s 历史行情失败: %w", date, err)
	}

	snaps := alignSnapshots(bars, symbols)
	if len(snaps) == 0 {
		d.logger.Info("当日无可用行情，跳过会话", zap.String("date", date))
		return nil, nil
	}
	d.logger.Info("行情加载完成",
		zap.String("date", date),
		zap.Int("rows", len(snaps)),
		zap.Time("start", snaps[0].TS),
		zap.Time("end", snaps[len(snaps)-1].TS))

	initialEquity := d.ledger.Equity()

	var trades []model.TradeRecord
	for i := range snaps {
		snap := &snaps[i]
		// 先刷新估值价，使无交易的步也能得到正确的权益样本
		d.ledger.MarkPrices(snap.Prices)
		trades = append(trades, d.engine.Step(ctx, snap)...)
		d.ledger.Record(snap.TS)
	}

	// 按最后一行价格强制平仓，平仓价即估值价，权益不变
	last := &snaps[len(snaps)-1]
	trades = append(trades, d.engine.Liquidate(ctx, last)...)

	finalEquity := d.ledger.Equity()
	report := model.SessionReport{
		Date:          date,
		InitialEquity: initialEquity,
		FinalEquity:   finalEquity,
		TotalPnL:      finalEquity - initialEquity,
		Steps:         len(snaps),
		Trades:        len(trades),
	}
	if initialEquity != 0 {
		report.ReturnPct = report.TotalPnL / initialEquity * 100
	}

	d.logger.Info("回测会话完成",
		zap.String("date", date),
		zap.Float64("initial_equity", report.InitialEquity),
		zap.Float64("final_equity", report.FinalEquity),
		zap.Float64("total_pnl", report.TotalPnL),
		zap.Float64("return_pct", report.ReturnPct),
		zap.Int("steps", report.Steps),
		zap.Int("trades", report.Trades))

	return &SessionResult{Report: report, Trades: trades}, nil
}

// RunCampaign 回放连续多个交易日
// 仅遍历工作日，周末直接跳过；交易所节假日当天没有行情，会按空会话规则跳过。
// 整个区间共享同一现金池与价差窗口，逐日强制平仓。
// 参数 ctx: 上下文
// 参数 start: 起始日期（含）
// 参数 end: 结束日期（含）
// 返回: 汇总结果和可能的错误
func (d *Driver) RunCampaign(ctx context.Context, start, end time.Time) (*CampaignResult, error) {
	days := timeutil.BusinessDays(start, end)
	if len(days) == 0 {
		return nil, fmt.Errorf("回测区间 %s 至 %s 内没有工作日",
			start.UTC().Format(timeutil.DateLayout), end.UTC().Format(timeutil.DateLayout))
	}

	initialEquity := d.ledger.Equity()

	var (
		sessions []model.SessionReport
		trades   []model.TradeRecord
		skipped  int
	)
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("回测被中断: %w", err)
		}
		res, err := d.RunSession(ctx, day)
		if err != nil {
			return nil, err
		}
		if res == nil {
			skipped++
			continue
		}
		sessions = append(sessions, res.Report)
		trades = append(trades, res.Trades...)
	}

	finalEquity := d.ledger.Equity()
	report := model.CampaignReport{
		StartDate:     start.UTC().Format(timeutil.DateLayout),
		EndDate:       end.UTC().Format(timeutil.DateLayout),
		InitialEquity: initialEquity,
		FinalEquity:   finalEquity,
		TotalPnL:      finalEquity - initialEquity,
		Sessions:      sessions,
		SkippedDays:   skipped,
	}
	if initialEquity != 0 {
		report.ReturnPct = report.TotalPnL / initialEquity * 100
	}

	d.logger.Info("连续回测完成",
		zap.String("start_date", report.StartDate),
		zap.String("end_date", report.EndDate),
		zap.Float64("initial_equity", report.InitialEquity),
		zap.Float64("final_equity", report.FinalEquity),
		zap.Float64("total_pnl", report.TotalPnL),
		zap.Float64("return_pct", report.ReturnPct),
		zap.Int("sessions", len(sessions)),
		zap.Int("skipped_days", skipped))

	return &CampaignResult{Report: report, Trades: trades}, nil
}

// alignSnapshots 将各标的的分钟线按时间戳做内连接对齐
// 完全没有数据的标的被排除在对齐之外，其所属交易对在会话内收不到报价；
// 其余标的只保留所有标的都有数据的时间戳，结果按时间升序排列。
func alignSnapshots(bars map[string][]marketdata.Bar, symbols []string) []model.Snapshot {
	// 只保留至少有一根 K 线的标的
	var valid []string
	closeBy := make(map[string]map[int64]float64)
	for _, sym := range symbols {
		rows := bars[sym]
		if len(rows) == 0 {
			continue
		}
		m := make(map[int64]float64, len(rows))
		for _, b := range rows {
			m[b.TS.Unix()] = b.Close
		}
		valid = append(valid, sym)
		closeBy[sym] = m
	}
	if len(valid) == 0 {
		return nil
	}

	// 以首个标的的时间戳为候选，取所有标的的交集
	var tss []int64
	for ts := range closeBy[valid[0]] {
		ok := true
		for _, sym := range valid[1:] {
			if _, found := closeBy[sym][ts]; !found {
				ok = false
				break
			}
		}
		if ok {
			tss = append(tss, ts)
		}
	}
	sort.Slice(tss, func(i, j int) bool { return tss[i] < tss[j] })

	snaps := make([]model.Snapshot, 0, len(tss))
	for _, ts := range tss {
		prices := make(map[string]float64, len(valid))
		for _, sym := range valid {
			prices[sym] = closeBy[sym][ts]
		}
		snaps = append(snaps, model.Snapshot{TS: time.Unix(ts, 0).UTC(), Prices: prices})
	}
	return snaps
}
