package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pairs-zscore-trader/internal/config"
	"pairs-zscore-trader/internal/core/model"
	"pairs-zscore-trader/internal/stats/latency"
)

// 单次 K 线请求的最大条数与最大翻页次数
const (
	barsPageLimit = 10000
	barsMaxPages  = 50
)

// RestClient 行情 REST 客户端
// 提供最新成交价批量查询（实盘轮询取价）与分钟 K 线历史拉取（回测数据源）。
type RestClient struct {
	// baseURL 行情 API 根地址
	baseURL string
	// key API Key，与交易共用同一套凭证
	key string
	// secret API Secret
	secret string
	// client HTTP 客户端
	client *http.Client
	// limiter 请求限流器
	limiter *rate.Limiter
	// rtt 行情往返时延追踪器，可为 nil
	rtt *latency.Tracker
	// logger 日志
	logger *zap.Logger
}

// NewRestClient 创建行情 REST 客户端
// 参数 cfg: 行情配置
// 参数 key, secret: API 凭证，与交易接口共用
func NewRestClient(cfg config.DataConfig, key, secret string, rtt *latency.Tracker, logger *zap.Logger) *RestClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 10000
	}
	return &RestClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		key:     key,
		secret:  secret,
		client: &http.Client{
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
		},
		limiter: rate.NewLimiter(rate.Every(time.Minute/200), 10),
		rtt:     rtt,
		logger:  logger,
	}
}

// LatestTrades 批量获取一组标的的最新成交价
// 响应中缺失的标的不会出现在返回的映射里，由调用方决定如何处理
func (c *RestClient) LatestTrades(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
	if len(symbols) == 0 {
		return map[string]model.Quote{}, nil
	}

	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))

	start := time.Now()
	var resp latestTradesResponse
	err := c.get(ctx, "/v2/stocks/trades/latest?"+q.Encode(), &resp)
	c.rtt.ObserveQuote(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("获取最新成交失败: %w", err)
	}

	arrivedAt := time.Now()
	quotes := make(map[string]model.Quote, len(resp.Trades))
	for sym, trade := range resp.Trades {
		if trade.Price <= 0 {
			continue
		}
		quotes[sym] = model.Quote{
			Symbol:    sym,
			Price:     trade.Price,
			TS:        trade.TS,
			ArrivedAt: arrivedAt,
		}
	}
	return quotes, nil
}

// Bars 拉取一组标的在给定时间范围内的分钟 K 线
// 自动跟随 next_page_token 翻页，按标的合并全部分页结果。
// 时间范围内没有数据的标的不会出现在返回的映射里。
func (c *RestClient) Bars(ctx context.Context, symbols []string, start, end time.Time) (map[string][]Bar, error) {
	if len(symbols) == 0 {
		return map[string][]Bar{}, nil
	}

	merged := make(map[string][]Bar)
	pageToken := ""

	for page := 0; page < barsMaxPages; page++ {
		q := url.Values{}
		q.Set("symbols", strings.Join(symbols, ","))
		q.Set("timeframe", "1Min")
		q.Set("start", start.UTC().Format(time.RFC3339))
		q.Set("end", end.UTC().Format(time.RFC3339))
		q.Set("limit", fmt.Sprintf("%d", barsPageLimit))
		q.Set("adjustment", "raw")
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}

		var resp barsResponse
		if err := c.get(ctx, "/v2/stocks/bars?"+q.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("获取 K 线失败（第 %d 页）: %w", page+1, err)
		}

		for sym, bars := range resp.Bars {
			merged[sym] = append(merged[sym], bars...)
		}

		if resp.NextPageToken == nil || *resp.NextPageToken == "" {
			return merged, nil
		}
		pageToken = *resp.NextPageToken
	}

	c.logger.Warn("K 线翻页达到上限，结果可能不完整",
		zap.Int("max_pages", barsMaxPages),
		zap.Time("start", start),
		zap.Time("end", end))
	return merged, nil
}

// get 执行一次行情 GET 请求
func (c *RestClient) get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("等待限流令牌失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("User-Agent", "pairs-zscore-trader/1.0")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("APCA-API-KEY-ID", c.key)
	req.Header.Set("APCA-API-SECRET-KEY", c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		sample := data
		if len(sample) > 256 {
			sample = sample[:256]
		}
		return fmt.Errorf("HTTP 状态码错误: %d, body=%s", resp.StatusCode, sample)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}
