package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pairs-zscore-trader/internal/config"
	"pairs-zscore-trader/internal/stats/latency"
)

// Client Alpaca 交易 REST 客户端
// 凭证从环境变量读取，绝不写入配置文件。所有请求经过限流器，
// 下单请求的往返时延记入追踪器。
type Client struct {
	// baseURL API 根地址，按运行模式取 paper 或 real
	baseURL string
	// key API Key
	key string
	// secret API Secret
	secret string
	// client HTTP 客户端
	client *http.Client
	// limiter 请求限流器
	limiter *rate.Limiter
	// rtt 下单往返时延追踪器，可为 nil
	rtt *latency.Tracker
	// logger 日志
	logger *zap.Logger
}

// New 创建交易客户端
// 参数 cfg: 券商配置，决定 API 地址、超时与限流速率
// 参数 rtt: 往返时延追踪器，可为 nil
// 凭证缺失时返回错误，实盘模式下绝不静默降级
func New(cfg config.BrokerConfig, rtt *latency.Tracker, logger *zap.Logger) (*Client, error) {
	key, secret, err := cfg.Credentials()
	if err != nil {
		return nil, fmt.Errorf("读取 API 凭证失败: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	perMin := cfg.RateLimitPerMin
	if perMin <= 0 {
		perMin = 200
	}
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 10000
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL(), "/"),
		key:     key,
		secret:  secret,
		client: &http.Client{
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
		},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 10),
		rtt:     rtt,
		logger:  logger,
	}, nil
}

// Account 获取账户信息
func (c *Client) Account(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.do(ctx, http.MethodGet, "/v2/account", nil, &acct); err != nil {
		return nil, fmt.Errorf("获取账户失败: %w", err)
	}
	return &acct, nil
}

// Clock 获取市场时钟
func (c *Client) Clock(ctx context.Context) (*Clock, error) {
	var clk Clock
	if err := c.do(ctx, http.MethodGet, "/v2/clock", nil, &clk); err != nil {
		return nil, fmt.Errorf("获取市场时钟失败: %w", err)
	}
	return &clk, nil
}

// Asset 获取标的元数据，用于开盘前校验标的是否可交易
func (c *Client) Asset(ctx context.Context, symbol string) (*Asset, error) {
	var asset Asset
	if err := c.do(ctx, http.MethodGet, "/v2/assets/"+symbol, nil, &asset); err != nil {
		return nil, fmt.Errorf("获取标的 %s 元数据失败: %w", symbol, err)
	}
	return &asset, nil
}

// SubmitMarketOrder 提交市价单
// 参数 side: buy 或 sell
// 每笔订单生成独立的 client_order_id，时效为当日有效
func (c *Client) SubmitMarketOrder(ctx context.Context, symbol, side string, qty int64) (*Order, error) {
	req := orderRequest{
		Symbol:        symbol,
		Qty:           strconv.FormatInt(qty, 10),
		Side:          side,
		Type:          OrderTypeMarket,
		TimeInForce:   TimeInForceDay,
		ClientOrderID: uuid.NewString(),
	}

	start := time.Now()
	var order Order
	err := c.do(ctx, http.MethodPost, "/v2/orders", req, &order)
	c.rtt.ObserveOrder(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("提交市价单失败 %s %s x%d: %w", side, symbol, qty, err)
	}

	c.logger.Info("已提交市价单",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Int64("qty", qty),
		zap.String("order_id", order.ID),
		zap.String("client_order_id", order.ClientOrderID))
	return &order, nil
}

// SubmitLimitOrder 提交限价单
// 与市价单按股数下单不同，限价单按金额（notional）下单
func (c *Client) SubmitLimitOrder(ctx context.Context, symbol, side string, notional, limitPrice decimal.Decimal) (*Order, error) {
	req := orderRequest{
		Symbol:        symbol,
		Notional:      notional.String(),
		Side:          side,
		Type:          OrderTypeLimit,
		TimeInForce:   TimeInForceDay,
		LimitPrice:    limitPrice.String(),
		ClientOrderID: uuid.NewString(),
	}

	start := time.Now()
	var order Order
	err := c.do(ctx, http.MethodPost, "/v2/orders", req, &order)
	c.rtt.ObserveOrder(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("提交限价单失败 %s %s $%s @%s: %w", side, symbol, notional, limitPrice, err)
	}

	c.logger.Info("已提交限价单",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.String("notional", notional.String()),
		zap.String("limit_price", limitPrice.String()),
		zap.String("order_id", order.ID))
	return &order, nil
}

// ClosedOrders 获取最近已完结的订单
// 参数 limit: 返回条数上限，<=0 时取 50
func (c *Client) ClosedOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var orders []Order
	path := fmt.Sprintf("/v2/orders?status=closed&limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &orders); err != nil {
		return nil, fmt.Errorf("获取已完结订单失败: %w", err)
	}
	return orders, nil
}

// ClosePosition 市价平掉某标的的全部持仓
// 返回券商生成的平仓订单
func (c *Client) ClosePosition(ctx context.Context, symbol string) (*Order, error) {
	start := time.Now()
	var order Order
	err := c.do(ctx, http.MethodDelete, "/v2/positions/"+symbol, nil, &order)
	c.rtt.ObserveOrder(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("平仓 %s 失败: %w", symbol, err)
	}

	c.logger.Info("已提交平仓指令", zap.String("symbol", symbol), zap.String("order_id", order.ID))
	return &order, nil
}

// do 执行一次 REST 请求
// 统一处理限流、鉴权头、状态码检查与响应解码
func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("等待限流令牌失败: %w", err)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("编码请求体失败: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("User-Agent", "pairs-zscore-trader/1.0")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("APCA-API-KEY-ID", c.key)
	req.Header.Set("APCA-API-SECRET-KEY", c.secret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("HTTP 状态码错误: %d, body=%s", resp.StatusCode, truncateBody(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("解析响应失败: %w", err)
		}
	}
	return nil
}

// truncateBody 截断过长的错误响应体，避免日志被刷爆
func truncateBody(data []byte) string {
	const max = 256
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "..."
}
