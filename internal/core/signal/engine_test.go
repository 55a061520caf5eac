// Package signal 信号引擎测试
package signal

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"pairs-zscore-trader/internal/config"
	"pairs-zscore-trader/internal/core/model"
)

// fakeVenue 测试用执行场所: 记录全部调用，按需注入失败
type fakeVenue struct {
	capital    float64
	capitalErr error
	openErr    error
	closeErr   error

	capitalCalls int
	opens        []fakeOrder
	closes       []model.Pair
}

type fakeOrder struct {
	pair       model.Pair
	side       model.Side
	qtyA, qtyB int64
	pxA, pxB   float64
}

func (f *fakeVenue) Capital(_ context.Context, _ *model.Snapshot) (float64, error) {
	f.capitalCalls++
	if f.capitalErr != nil {
		return 0, f.capitalErr
	}
	return f.capital, nil
}

func (f *fakeVenue) OpenLong(_ context.Context, p model.Pair, qtyA, qtyB int64, pxA, pxB float64) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opens = append(f.opens, fakeOrder{pair: p, side: model.SideLongSpread, qtyA: qtyA, qtyB: qtyB, pxA: pxA, pxB: pxB})
	return nil
}

func (f *fakeVenue) OpenShort(_ context.Context, p model.Pair, qtyA, qtyB int64, pxA, pxB float64) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opens = append(f.opens, fakeOrder{pair: p, side: model.SideShortSpread, qtyA: qtyA, qtyB: qtyB, pxA: pxA, pxB: pxB})
	return nil
}

func (f *fakeVenue) Close(_ context.Context, p model.Pair, _, _ float64) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closes = append(f.closes, p)
	return nil
}

func testStrategy() config.StrategyConfig {
	return config.StrategyConfig{
		Pairs:          []config.PairConfig{{A: "GOOG", B: "GOOGL"}},
		LookbackWindow: 3,
		ZEntry:         1.0,
		ZExit:          0.5,
		CapitalDivisor: 10,
	}
}

func snapAt(step int, prices map[string]float64) *model.Snapshot {
	return &model.Snapshot{
		TS:     time.Date(2025, 6, 2, 14, 30+step, 0, 0, time.UTC),
		Prices: prices,
	}
}

// stepSpreads 以 B 腿恒为 100 的价格序列驱动引擎，A 腿价格为 100+spread
func stepSpreads(e *Engine, spreads ...float64) []model.TradeRecord {
	var all []model.TradeRecord
	for i, s := range spreads {
		recs := e.Step(context.Background(), snapAt(i, map[string]float64{
			"GOOG":  100 + s,
			"GOOGL": 100,
		}))
		all = append(all, recs...)
	}
	return all
}

func TestNew_InvalidConfig(t *testing.T) {
	venue := &fakeVenue{capital: 10000}

	if _, err := New(testStrategy(), nil, zap.NewNop()); err == nil {
		t.Fatalf("执行场所为空应拒绝构造")
	}

	cfg := testStrategy()
	cfg.Pairs = nil
	if _, err := New(cfg, venue, zap.NewNop()); err == nil {
		t.Fatalf("无交易对应拒绝构造")
	}

	cfg = testStrategy()
	cfg.LookbackWindow = 1
	if _, err := New(cfg, venue, zap.NewNop()); err == nil {
		t.Fatalf("窗口小于 2 应拒绝构造")
	}

	cfg = testStrategy()
	cfg.ZEntry = 0
	if _, err := New(cfg, venue, zap.NewNop()); err == nil {
		t.Fatalf("入场阈值为 0 应拒绝构造")
	}

	cfg = testStrategy()
	cfg.ZExit = 1.5
	if _, err := New(cfg, venue, zap.NewNop()); err == nil {
		t.Fatalf("出场阈值不小于入场阈值应拒绝构造")
	}

	cfg = testStrategy()
	cfg.ZExit = -0.1
	if _, err := New(cfg, venue, zap.NewNop()); err == nil {
		t.Fatalf("出场阈值为负应拒绝构造")
	}

	cfg = testStrategy()
	cfg.CapitalDivisor = 0
	if _, err := New(cfg, venue, zap.NewNop()); err == nil {
		t.Fatalf("资金除数为 0 应拒绝构造")
	}

	cfg = testStrategy()
	cfg.Pairs = []config.PairConfig{{A: "GOOG", B: "GOOG"}}
	if _, err := New(cfg, venue, zap.NewNop()); err == nil {
		t.Fatalf("两腿相同应拒绝构造")
	}
}

func TestEngine_ShortSpreadEntryAndExit(t *testing.T) {
	venue := &fakeVenue{capital: 10000}
	e, err := New(testStrategy(), venue, zap.NewNop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}

	// 价差序列 10, 12: 窗口未满，无动作
	// 价差 16: 窗口 [10,12,16]，z≈1.091 > 1.0，做空价差
	// 价差 13: 窗口 [12,16,13]，z≈-0.320，|z| < 0.5，平仓
	recs := stepSpreads(e, 10, 12, 16, 13)

	if len(recs) != 2 {
		t.Fatalf("成交记录数=%d, want 2", len(recs))
	}
	if recs[0].Action != model.ActionOpenShort {
		t.Fatalf("首笔动作=%s, want %s", recs[0].Action, model.ActionOpenShort)
	}
	if recs[1].Action != model.ActionClose {
		t.Fatalf("次笔动作=%s, want %s", recs[1].Action, model.ActionClose)
	}
	if recs[1].Forced {
		t.Fatalf("信号平仓不应标记为强制")
	}

	// 每腿名义资金 10000/10=1000: A 腿 floor(1000/116)=8, B 腿 floor(1000/100)=10
	if len(venue.opens) != 1 {
		t.Fatalf("开仓调用数=%d, want 1", len(venue.opens))
	}
	open := venue.opens[0]
	if open.side != model.SideShortSpread {
		t.Fatalf("开仓方向=%s, want %s", open.side, model.SideShortSpread)
	}
	if open.qtyA != 8 || open.qtyB != 10 {
		t.Fatalf("开仓数量 A=%d B=%d, want A=8 B=10", open.qtyA, open.qtyB)
	}
	if open.pxA != 116 || open.pxB != 100 {
		t.Fatalf("开仓价格 A=%v B=%v, want A=116 B=100", open.pxA, open.pxB)
	}

	if e.OpenCount() != 0 {
		t.Fatalf("平仓后持仓数=%d, want 0", e.OpenCount())
	}
	st := e.Stats()
	if st.Entries != 1 || st.Exits != 1 {
		t.Fatalf("计数 Entries=%d Exits=%d, want 1/1", st.Entries, st.Exits)
	}
}

func TestEngine_LongSpreadEntry(t *testing.T) {
	venue := &fakeVenue{capital: 10000}
	e, err := New(testStrategy(), venue, zap.NewNop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}

	// 价差 16, 12 预热；价差 3: 窗口 [12,8,3]... 先经过 8
	// 序列 16, 12, 8: z = (8-12)/4 = -1.0，恰好等于阈值，不触发
	// 再来 3: 窗口 [12,8,3]，z≈-1.035 < -1.0，做多价差
	recs := stepSpreads(e, 16, 12, 8, 3)

	if len(recs) != 1 {
		t.Fatalf("成交记录数=%d, want 1", len(recs))
	}
	if recs[0].Action != model.ActionOpenLong {
		t.Fatalf("动作=%s, want %s", recs[0].Action, model.ActionOpenLong)
	}
	if len(venue.opens) != 1 || venue.opens[0].side != model.SideLongSpread {
		t.Fatalf("应恰好一次做多价差开仓")
	}
	if e.OpenCount() != 1 {
		t.Fatalf("持仓数=%d, want 1", e.OpenCount())
	}
}

func TestEngine_EntryThresholdIsStrict(t *testing.T) {
	venue := &fakeVenue{capital: 10000}
	e, err := New(testStrategy(), venue, zap.NewNop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}

	// 窗口 [16,12,8]: mean=12, std=4, z 恰好为 -1.0，等于阈值不触发
	recs := stepSpreads(e, 16, 12, 8)
	if len(recs) != 0 {
		t.Fatalf("z 等于入场阈值不应开仓，records=%d", len(recs))
	}
	if len(venue.opens) != 0 {
		t.Fatalf("不应有开仓调用")
	}
}

func TestEngine_MissingQuoteSkipsPairWithoutWindowUpdate(t *testing.T) {
	venue := &fakeVenue{capital: 10000}
	cfg := testStrategy()
	cfg.LookbackWindow = 2
	cfg.ZEntry = 0.5
	cfg.ZExit = 0.1
	e, err := New(cfg, venue, zap.NewNop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}

	ctx := context.Background()

	// 第一步: 完整报价，窗口进 1 个样本
	recs := e.Step(ctx, snapAt(0, map[string]float64{"GOOG": 110, "GOOGL": 100}))
	if len(recs) != 0 {
		t.Fatalf("预热期不应有成交")
	}

	// 第二步: A 腿缺失，整对跳过，窗口不得推进
	recs = e.Step(ctx, snapAt(1, map[string]float64{"GOOGL": 100}))
	if len(recs) != 0 {
		t.Fatalf("缺报价的周期不应有成交")
	}
	if e.Stats().SkippedPairs != 1 {
		t.Fatalf("SkippedPairs=%d, want 1", e.Stats().SkippedPairs)
	}

	// 第三步: 报价恢复，价差升高。若上一步错误地推进了窗口，
	// 这里的窗口内容和 z 都会不同
	recs = e.Step(ctx, snapAt(2, map[string]float64{"GOOG": 114, "GOOGL": 100}))
	if len(recs) != 1 || recs[0].Action != model.ActionOpenShort {
		t.Fatalf("恢复后应按 [10,14] 窗口触发做空价差, records=%v", recs)
	}
}

func TestEngine_DegenerateWindowHoldsPosition(t *testing.T) {
	venue := &fakeVenue{capital: 10000}
	cfg := testStrategy()
	cfg.LookbackWindow = 2
	cfg.ZEntry = 0.5
	cfg.ZExit = 0.3
	e, err := New(cfg, venue, zap.NewNop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}

	// [10,12] 的 z=+0.7071 触发做空；随后价差停在 12 使窗口退化
	recs := stepSpreads(e, 10, 12, 12, 12)
	if len(recs) != 1 {
		t.Fatalf("成交记录数=%d, want 1（仅开仓）", len(recs))
	}
	if len(venue.closes) != 0 {
		t.Fatalf("方差为零不应触发平仓")
	}
	if e.OpenCount() != 1 {
		t.Fatalf("退化窗口期间应继续持仓")
	}
}

func TestEngine_VenueErrorKeepsState(t *testing.T) {
	venue := &fakeVenue{capital: 10000, openErr: errors.New("下单被拒")}
	e, err := New(testStrategy(), venue, zap.NewNop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}

	// 开仓失败: 状态保持 FLAT，无成交记录
	recs := stepSpreads(e, 10, 12, 16)
	if len(recs) != 0 {
		t.Fatalf("开仓失败不应产生成交记录")
	}
	if e.OpenCount() != 0 {
		t.Fatalf("开仓失败后应保持 FLAT")
	}

	// 故障恢复后，下一个满足条件的周期可以正常开仓
	// 窗口 [12,16,24]: z≈1.091 > 1.0
	venue.openErr = nil
	recs = stepSpreads(e, 24)
	if len(recs) != 1 || e.OpenCount() != 1 {
		t.Fatalf("故障恢复后应能开仓, records=%d open=%d", len(recs), e.OpenCount())
	}

	// 平仓失败: 状态保持 OPEN
	// 窗口 [16,24,20]: mean=20, z=0，满足出场条件
	venue.closeErr = errors.New("撤仓被拒")
	recs = stepSpreads(e, 20)
	if len(recs) != 0 || e.OpenCount() != 1 {
		t.Fatalf("平仓失败后应保持 OPEN, records=%d open=%d", len(recs), e.OpenCount())
	}
}

func TestEngine_CapitalErrorSkipsEntry(t *testing.T) {
	venue := &fakeVenue{capital: 10000, capitalErr: errors.New("账户接口超时")}
	e, err := New(testStrategy(), venue, zap.NewNop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}

	recs := stepSpreads(e, 10, 12, 16)
	if len(recs) != 0 || len(venue.opens) != 0 {
		t.Fatalf("资金获取失败应跳过入场")
	}
	if e.OpenCount() != 0 {
		t.Fatalf("资金获取失败后应保持 FLAT")
	}

	// 窗口 [12,16,24]: z≈1.091 > 1.0
	venue.capitalErr = nil
	recs = stepSpreads(e, 24)
	if len(recs) != 1 {
		t.Fatalf("资金恢复后应能开仓")
	}
}

func TestEngine_CapitalFetchedOncePerStep(t *testing.T) {
	venue := &fakeVenue{capital: 100000}
	cfg := config.StrategyConfig{
		Pairs: []config.PairConfig{
			{A: "GOOG", B: "GOOGL"},
			{A: "PEP", B: "KO"},
		},
		LookbackWindow: 2,
		ZEntry:         0.5,
		ZExit:          0.1,
		CapitalDivisor: 10,
	}
	e, err := New(cfg, venue, zap.NewNop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}

	ctx := context.Background()
	mk := func(step int, sGoog, sPep float64) *model.Snapshot {
		return snapAt(step, map[string]float64{
			"GOOG": 100 + sGoog, "GOOGL": 100,
			"PEP": 50 + sPep, "KO": 50,
		})
	}

	// 预热期间不应触碰资金接口
	e.Step(ctx, mk(0, 10, 5))
	if venue.capitalCalls != 0 {
		t.Fatalf("预热期不应获取资金, calls=%d", venue.capitalCalls)
	}

	// 两对同时触发入场: 资金只取一次，两次开仓共用同一基数
	recs := e.Step(ctx, mk(1, 12, 7))
	if len(recs) != 2 {
		t.Fatalf("应有两笔开仓, got %d", len(recs))
	}
	if venue.capitalCalls != 1 {
		t.Fatalf("单步内资金应只取一次, calls=%d", venue.capitalCalls)
	}
}

func TestEngine_NoDirectionFlipWithoutClose(t *testing.T) {
	venue := &fakeVenue{capital: 10000}
	e, err := New(testStrategy(), venue, zap.NewNop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}

	// 开空后 z 深度转负: 持仓期间只评估出场条件，绝不反向
	recs := stepSpreads(e, 10, 12, 16, 2)
	if len(recs) != 1 {
		t.Fatalf("成交记录数=%d, want 1（仅最初开仓）", len(recs))
	}
	if len(venue.opens) != 1 {
		t.Fatalf("持仓期间不应再开仓, opens=%d", len(venue.opens))
	}
	if venue.opens[0].side != model.SideShortSpread {
		t.Fatalf("原持仓方向应保持做空价差")
	}
	if e.OpenCount() != 1 {
		t.Fatalf("应仍然持仓")
	}
}

func TestEngine_Liquidate(t *testing.T) {
	venue := &fakeVenue{capital: 100000}
	cfg := config.StrategyConfig{
		Pairs: []config.PairConfig{
			{A: "GOOG", B: "GOOGL"},
			{A: "PEP", B: "KO"},
		},
		LookbackWindow: 2,
		ZEntry:         0.5,
		ZExit:          0.1,
		CapitalDivisor: 10,
	}
	e, err := New(cfg, venue, zap.NewNop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}

	ctx := context.Background()
	e.Step(ctx, snapAt(0, map[string]float64{"GOOG": 110, "GOOGL": 100, "PEP": 55, "KO": 50}))
	recs := e.Step(ctx, snapAt(1, map[string]float64{"GOOG": 112, "GOOGL": 100, "PEP": 57, "KO": 50}))
	if len(recs) != 2 || e.OpenCount() != 2 {
		t.Fatalf("两对都应已开仓, records=%d open=%d", len(recs), e.OpenCount())
	}

	// 强平快照缺 PEP 报价: 只能平掉 GOOG/GOOGL
	final := snapAt(2, map[string]float64{"GOOG": 111, "GOOGL": 100, "KO": 50})
	forced := e.Liquidate(ctx, final)
	if len(forced) != 1 {
		t.Fatalf("强平记录数=%d, want 1", len(forced))
	}
	if !forced[0].Forced {
		t.Fatalf("强平记录应带 Forced 标记")
	}
	if forced[0].SymbolA != "GOOG" {
		t.Fatalf("强平对象=%s, want GOOG", forced[0].SymbolA)
	}
	if e.OpenCount() != 1 {
		t.Fatalf("缺报价的交易对应保持持仓, open=%d", e.OpenCount())
	}
	if e.Stats().ForcedCloses != 1 {
		t.Fatalf("ForcedCloses=%d, want 1", e.Stats().ForcedCloses)
	}
}

func TestEngine_Symbols(t *testing.T) {
	venue := &fakeVenue{capital: 10000}
	cfg := config.StrategyConfig{
		Pairs: []config.PairConfig{
			{A: "GOOG", B: "GOOGL"},
			{A: "PEP", B: "KO"},
			{A: "GOOG", B: "KO"},
		},
		LookbackWindow: 3,
		ZEntry:         2.0,
		ZExit:          0.5,
		CapitalDivisor: 10,
	}
	e, err := New(cfg, venue, zap.NewNop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}

	want := []string{"GOOG", "GOOGL", "PEP", "KO"}
	got := e.Symbols()
	if len(got) != len(want) {
		t.Fatalf("标的数=%d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Symbols[%d]=%s, want %s（去重且保持配置顺序）", i, got[i], want[i])
		}
	}
}
