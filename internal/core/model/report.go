// Package model 定义配对交易引擎中使用的核心数据结构。
package model

// SessionReport 单交易日回测报告
type SessionReport struct {
	// Date 交易日，格式 YYYY-MM-DD
	Date string `json:"date"`
	// InitialEquity 会话起始权益
	InitialEquity float64 `json:"initial_equity"`
	// FinalEquity 会话结束权益（强制平仓后）
	FinalEquity float64 `json:"final_equity"`
	// TotalPnL 总盈亏 = final_equity - initial_equity
	TotalPnL float64 `json:"total_pnl"`
	// ReturnPct 收益率百分比 = total_pnl / initial_equity × 100
	ReturnPct float64 `json:"return_pct"`
	// Steps 实际处理的快照数（对齐后的分钟数）
	Steps int `json:"steps"`
	// Trades 会话内成交记录条数
	Trades int `json:"trades"`
}

// CampaignReport 多交易日连续回测报告
// 整个回测期间共享同一现金池，逐工作日推进
type CampaignReport struct {
	// StartDate 起始日期，格式 YYYY-MM-DD
	StartDate string `json:"start_date"`
	// EndDate 结束日期（含），格式 YYYY-MM-DD
	EndDate string `json:"end_date"`
	// InitialEquity 期初权益
	InitialEquity float64 `json:"initial_equity"`
	// FinalEquity 期末权益
	FinalEquity float64 `json:"final_equity"`
	// TotalPnL 总盈亏
	TotalPnL float64 `json:"total_pnl"`
	// ReturnPct 收益率百分比
	ReturnPct float64 `json:"return_pct"`
	// Sessions 各有效会话的报告，按日期升序
	Sessions []SessionReport `json:"sessions"`
	// SkippedDays 因无数据被跳过的交易日数
	SkippedDays int `json:"skipped_days"`
}
