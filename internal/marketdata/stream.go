package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pairs-zscore-trader/internal/config"
	"pairs-zscore-trader/internal/core/model"
	"pairs-zscore-trader/internal/util/backoff"
)

// StreamStats 行情流连接统计
type StreamStats struct {
	// TradesPerSec 每秒成交推送数
	TradesPerSec float64
	// LastMessageAgeMs 距最后一条消息的时间（毫秒）
	LastMessageAgeMs int64
	// ReconnectCount 重连次数
	ReconnectCount int64
	// ParseErrorCount 解析失败次数
	ParseErrorCount int64
	// DroppedCount 因通道占满被丢弃的报价数
	DroppedCount int64
}

// StreamClient 行情 WebSocket 客户端
// 订阅一组标的的实时成交，经解析后投入报价通道。
// 通道占满时丢弃并计数，绝不阻塞读取循环。
type StreamClient struct {
	// cfg 行情配置
	cfg config.DataConfig
	// key API Key
	key string
	// secret API Secret
	secret string
	// symbols 订阅标的
	symbols []string
	// logger 日志
	logger *zap.Logger

	// conn WebSocket 连接
	conn *websocket.Conn
	// connMu 连接锁
	connMu sync.Mutex

	// quoteCh 报价输出通道
	quoteCh chan model.Quote

	// stats 连接统计
	stats StreamStats
	// statsMu 统计锁
	statsMu sync.RWMutex

	// lastMsgNs 最后消息时间（纳秒，原子访问）
	lastMsgNs int64
	// tradeCount 成交推送累计数（原子访问）
	tradeCount int64
	// closed 是否已关闭（原子访问）
	closed int32

	// backoff 重连退避
	backoff *backoff.Backoff
}

// NewStreamClient 创建行情流客户端
// 参数 symbols: 订阅标的列表
// 参数 key, secret: API 凭证，与交易接口共用
func NewStreamClient(cfg config.DataConfig, key, secret string, symbols []string, logger *zap.Logger) *StreamClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 1000
	}
	return &StreamClient{
		cfg:     cfg,
		key:     key,
		secret:  secret,
		symbols: symbols,
		logger:  logger.Named("stream"),
		quoteCh: make(chan model.Quote, bufSize),
		backoff: backoff.NewDefault(),
	}
}

// Connect 建立连接并完成认证
func (c *StreamClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", "pairs-zscore-trader/1.0")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.StreamURL, header)
	if err != nil {
		return fmt.Errorf("连接行情流失败: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout()))
	})

	auth := authRequest{Action: "auth", Key: c.key, Secret: c.secret}
	data, err := json.Marshal(auth)
	if err != nil {
		conn.Close()
		return fmt.Errorf("序列化认证请求失败: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return fmt.Errorf("发送认证请求失败: %w", err)
	}

	c.conn = conn
	c.backoff.Reset()
	c.logger.Info("行情流连接成功", zap.String("url", c.cfg.StreamURL))
	return nil
}

// Subscribe 订阅全部标的的成交频道
func (c *StreamClient) Subscribe() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("行情流未连接")
	}

	req := subscribeRequest{Action: "subscribe", Trades: c.symbols}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("序列化订阅请求失败: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("发送订阅请求失败: %w", err)
	}

	c.logger.Info("订阅请求已发送", zap.Strings("symbols", c.symbols))
	return nil
}

// Run 启动客户端主循环: 心跳、指标统计与读取循环
// 阻塞直到 ctx 取消或客户端关闭
func (c *StreamClient) Run(ctx context.Context) {
	go c.heartbeatLoop(ctx)
	go c.metricsLoop(ctx)
	c.readLoop(ctx)
}

// readLoop 读取循环
func (c *StreamClient) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if atomic.LoadInt32(&c.closed) == 1 {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.reconnect(ctx)
			continue
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout()))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if atomic.LoadInt32(&c.closed) == 1 || ctx.Err() != nil {
				return
			}
			c.logger.Warn("读取行情流消息失败", zap.Error(err))
			c.incrementReconnectCount()
			c.reconnect(ctx)
			continue
		}

		atomic.StoreInt64(&c.lastMsgNs, time.Now().UnixNano())

		quotes, notices, err := ParseStream(data, time.Now())
		if err != nil {
			c.incrementParseErrorCount()
			sample := data
			if len(sample) > 200 {
				sample = sample[:200]
			}
			c.logger.Warn("解析行情流消息失败", zap.Error(err), zap.ByteString("data", sample))
			continue
		}

		for _, n := range notices {
			if n.IsError() {
				c.logger.Error("行情流错误通知", zap.Int("code", n.Code), zap.String("msg", n.Msg))
			} else {
				c.logger.Debug("行情流控制消息", zap.String("type", n.T), zap.String("msg", n.Msg))
			}
		}

		for _, q := range quotes {
			atomic.AddInt64(&c.tradeCount, 1)
			select {
			case c.quoteCh <- q:
			default:
				c.incrementDroppedCount()
			}
		}
	}
}

// heartbeatLoop 心跳循环
// 周期性发送协议层 ping，配合读超时检测僵死连接
func (c *StreamClient) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(c.cfg.PingIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 25 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()
			if conn == nil {
				continue
			}

			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Warn("发送行情流 ping 失败", zap.Error(err))
			}
		}
	}
}

// metricsLoop 指标统计循环，每秒更新推送速率与消息新鲜度
func (c *StreamClient) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastCount int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			count := atomic.LoadInt64(&c.tradeCount)
			rate := float64(count - lastCount)
			lastCount = count

			lastMsg := atomic.LoadInt64(&c.lastMsgNs)
			var ageMs int64
			if lastMsg > 0 {
				ageMs = (time.Now().UnixNano() - lastMsg) / 1_000_000
			}

			c.statsMu.Lock()
			c.stats.TradesPerSec = rate
			c.stats.LastMessageAgeMs = ageMs
			c.statsMu.Unlock()
		}
	}
}

// reconnect 断线重连: 退避等待后重新连接、认证并订阅
func (c *StreamClient) reconnect(ctx context.Context) {
	c.closeConn()

	delay := c.backoff.Next()
	c.logger.Info("行情流准备重连", zap.Duration("delay", delay))

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	if err := c.Connect(ctx); err != nil {
		c.logger.Error("行情流重连失败", zap.Error(err))
		return
	}
	if err := c.Subscribe(); err != nil {
		c.logger.Error("行情流重新订阅失败", zap.Error(err))
	}
}

// closeConn 关闭底层连接
func (c *StreamClient) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close 关闭客户端
func (c *StreamClient) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	c.closeConn()
	close(c.quoteCh)
	c.logger.Info("行情流客户端已关闭")
	return nil
}

// QuoteCh 获取报价输出通道
func (c *StreamClient) QuoteCh() <-chan model.Quote {
	return c.quoteCh
}

// Stats 获取连接统计快照
func (c *StreamClient) Stats() StreamStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

func (c *StreamClient) readTimeout() time.Duration {
	if c.cfg.ReadTimeoutMs > 0 {
		return time.Duration(c.cfg.ReadTimeoutMs) * time.Millisecond
	}
	return 30 * time.Second
}

func (c *StreamClient) incrementReconnectCount() {
	c.statsMu.Lock()
	c.stats.ReconnectCount++
	c.statsMu.Unlock()
}

func (c *StreamClient) incrementParseErrorCount() {
	c.statsMu.Lock()
	c.stats.ParseErrorCount++
	c.statsMu.Unlock()
}

func (c *StreamClient) incrementDroppedCount() {
	c.statsMu.Lock()
	c.stats.DroppedCount++
	c.statsMu.Unlock()
}
