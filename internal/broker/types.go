// Package broker 实现 Alpaca 交易 REST API 客户端。
// 覆盖账户、下单、撤仓、市场时钟与标的元数据等接口，
// 金额字段一律使用 decimal 精确表示。
package broker

import (
	"time"

	"github.com/shopspring/decimal"
)

// 订单方向
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// 订单类型
const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// TimeInForceDay 当日有效
const TimeInForceDay = "day"

// Account 交易账户信息
// 接口返回的金额均为字符串，这里用 decimal 承接以避免精度损失
type Account struct {
	ID               string          `json:"id"`
	AccountNumber    string          `json:"account_number"`
	Status           string          `json:"status"`
	Currency         string          `json:"currency"`
	Cash             decimal.Decimal `json:"cash"`
	BuyingPower      decimal.Decimal `json:"buying_power"`
	Equity           decimal.Decimal `json:"equity"`
	LastEquity       decimal.Decimal `json:"last_equity"`
	PortfolioValue   decimal.Decimal `json:"portfolio_value"`
	PatternDayTrader bool            `json:"pattern_day_trader"`
	TradingBlocked   bool            `json:"trading_blocked"`
	DaytradeCount    int             `json:"daytrade_count"`
}

// DailyProfit 当日盈亏: 当前权益减去上一交易日收盘权益
func (a *Account) DailyProfit() decimal.Decimal {
	return a.Equity.Sub(a.LastEquity)
}

// Order 订单信息
type Order struct {
	ID             string           `json:"id"`
	ClientOrderID  string           `json:"client_order_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	TimeInForce    string           `json:"time_in_force"`
	Qty            decimal.Decimal  `json:"qty"`
	FilledQty      decimal.Decimal  `json:"filled_qty"`
	FilledAvgPrice *decimal.Decimal `json:"filled_avg_price"`
	LimitPrice     *decimal.Decimal `json:"limit_price"`
	Status         string           `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	FilledAt       *time.Time       `json:"filled_at"`
}

// orderRequest 下单请求体
// qty 与 notional 互斥: 市价单按股数下单，限价单按金额下单
type orderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty,omitempty"`
	Notional      string `json:"notional,omitempty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	ClientOrderID string `json:"client_order_id"`
}

// Clock 市场时钟
type Clock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// Asset 标的元数据
type Asset struct {
	ID           string `json:"id"`
	Class        string `json:"class"`
	Exchange     string `json:"exchange"`
	Symbol       string `json:"symbol"`
	Status       string `json:"status"`
	Tradable     bool   `json:"tradable"`
	Marginable   bool   `json:"marginable"`
	Shortable    bool   `json:"shortable"`
	EasyToBorrow bool   `json:"easy_to_borrow"`
	Fractionable bool   `json:"fractionable"`
}
