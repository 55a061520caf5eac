// Package marketdata 实现 Alpaca 行情数据接入。
// REST 部分提供最新成交价批量查询与分钟 K 线历史拉取，
// WebSocket 部分提供实时成交推送，两者产出统一的报价结构。
package marketdata

import "time"

// Bar 一根 K 线
type Bar struct {
	// TS K 线开始时间
	TS time.Time `json:"t"`
	// Open 开盘价
	Open float64 `json:"o"`
	// High 最高价
	High float64 `json:"h"`
	// Low 最低价
	Low float64 `json:"l"`
	// Close 收盘价
	Close float64 `json:"c"`
	// Volume 成交量
	Volume int64 `json:"v"`
}

// restTrade 最新成交接口中的单笔成交
type restTrade struct {
	TS    time.Time `json:"t"`
	Price float64   `json:"p"`
	Size  int64     `json:"s"`
}

// latestTradesResponse 最新成交批量查询响应
type latestTradesResponse struct {
	Trades map[string]restTrade `json:"trades"`
}

// barsResponse K 线查询响应，翻页靠 next_page_token
type barsResponse struct {
	Bars          map[string][]Bar `json:"bars"`
	NextPageToken *string          `json:"next_page_token"`
}

// Notice WebSocket 流上的控制消息
// 认证结果、订阅确认与服务端错误都以该形式上报
type Notice struct {
	// T 消息类型: success / subscription / error
	T string
	// Code 错误码，仅 error 消息有值
	Code int
	// Msg 描述
	Msg string
}

// IsError 是否为服务端错误通知
func (n Notice) IsError() bool {
	return n.T == "error"
}

// streamEnvelope WebSocket 消息信封
// 服务端把成交与控制消息混装在同一个 JSON 数组里，
// 用 T 字段区分: t=成交, success/subscription/error=控制
type streamEnvelope struct {
	T string `json:"T"`

	// 成交字段
	Symbol string    `json:"S"`
	Price  float64   `json:"p"`
	TS     time.Time `json:"t"`

	// 控制字段
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// authRequest 认证请求
type authRequest struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

// subscribeRequest 订阅请求
type subscribeRequest struct {
	Action string   `json:"action"`
	Trades []string `json:"trades"`
}
