// Package main 是配对交易机器人的实盘入口。
// 按固定节奏扫描配置的股票对: 批量获取最新成交价、更新价差滚动统计，
// 由 z-score 状态机通过券商 API 开平仓。PAPER 模式把订单发往模拟盘环境，
// REAL 模式真实成交，凭证一律来自环境变量。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pairs-zscore-trader/internal/broker"
	"pairs-zscore-trader/internal/config"
	"pairs-zscore-trader/internal/core/live"
	"pairs-zscore-trader/internal/core/model"
	"pairs-zscore-trader/internal/core/signal"
	"pairs-zscore-trader/internal/marketdata"
	"pairs-zscore-trader/internal/output/jsonl"
	"pairs-zscore-trader/internal/stats/latency"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	key, secret, err := cfg.Broker.Credentials()
	if err != nil {
		logger.Error("读取 API 凭证失败", zap.Error(err))
		os.Exit(1)
	}

	rtt := latency.NewTracker(4096)

	brokerClient, err := broker.New(cfg.Broker, rtt, logger.Named("broker"))
	if err != nil {
		logger.Error("创建券商客户端失败", zap.Error(err))
		os.Exit(1)
	}

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	defer startCancel()

	// 启动即核对账户，被禁止交易的账户直接拒绝启动
	acct, err := brokerClient.Account(startCtx)
	if err != nil {
		logger.Error("获取账户信息失败", zap.Error(err))
		os.Exit(1)
	}
	if acct.TradingBlocked {
		logger.Error("账户被禁止交易", zap.String("status", acct.Status))
		os.Exit(1)
	}
	if cfg.Broker.IsPaper() {
		logger.Info("模拟盘账户，订单发往模拟环境")
	} else {
		logger.Warn("实盘账户，订单将真实成交")
	}
	logger.Info("账户就绪",
		zap.String("mode", cfg.Broker.Mode),
		zap.String("status", acct.Status),
		zap.String("buying_power", acct.BuyingPower.String()),
		zap.String("equity", acct.Equity.String()),
		zap.String("daily_profit", acct.DailyProfit().String()))

	venue := live.New(brokerClient, logger.Named("venue"))
	eng, err := signal.New(cfg.Strategy, venue, logger.Named("engine"))
	if err != nil {
		logger.Error("创建信号引擎失败", zap.Error(err))
		os.Exit(1)
	}
	symbols := eng.Symbols()

	// 校验配置的标的确实可交易，不可做空只警告，拒单由引擎容错
	for _, sym := range symbols {
		asset, err := brokerClient.Asset(startCtx, sym)
		if err != nil {
			logger.Warn("获取标的元数据失败，跳过可交易性检查",
				zap.String("symbol", sym), zap.Error(err))
			continue
		}
		if !asset.Tradable {
			logger.Error("标的不可交易", zap.String("symbol", sym))
			os.Exit(1)
		}
		if !asset.Shortable {
			logger.Warn("标的不可做空，做空腿可能被拒单", zap.String("symbol", sym))
		}
	}

	// 开市门控: 未开市时等待，期间收到退出信号则直接结束
	var nextClose time.Time
	if !cfg.Trade.IgnoreMarketHours {
		clock := waitForMarketOpen(ctx, brokerClient, logger)
		if clock == nil {
			logger.Info("未开市即退出")
			return
		}
		nextClose = clock.NextClose
		logger.Info("市场已开市", zap.Time("next_close", nextClose))
	}

	runTag := "live_" + time.Now().UTC().Format("20060102_150405")
	sink, err := jsonl.NewSink(cfg.Output, runTag, logger.Named("output"))
	if err != nil {
		logger.Error("创建输出失败", zap.Error(err))
		os.Exit(1)
	}

	cache := marketdata.NewCache()
	var restClient *marketdata.RestClient
	var stream *marketdata.StreamClient
	if cfg.Data.Source == config.SourceStream {
		stream = marketdata.NewStreamClient(cfg.Data, key, secret, symbols, logger.Named("data"))
		connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := stream.Connect(connCtx); err != nil {
			connCancel()
			logger.Error("行情流连接失败", zap.Error(err))
			os.Exit(1)
		}
		connCancel()
		if err := stream.Subscribe(); err != nil {
			logger.Error("行情流订阅失败", zap.Error(err))
			os.Exit(1)
		}
		go stream.Run(ctx)
	} else {
		restClient = marketdata.NewRestClient(cfg.Data, key, secret, rtt, logger.Named("data"))
	}

	logger.Info("开始交易循环",
		zap.Int("pairs", len(cfg.Strategy.Pairs)),
		zap.Strings("symbols", symbols),
		zap.String("source", cfg.Data.Source),
		zap.Int("poll_interval_ms", cfg.Data.PollIntervalMs))

	if err := runTradeLoop(ctx, logger, cfg, eng, cache, restClient, stream, sink, rtt, nextClose); err != nil {
		logger.Error("交易循环退出", zap.Error(err))
	}

	// 优雅关闭（10s 超时）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if stream != nil {
			_ = stream.Close()
		}
		_ = sink.Close()
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("关闭超时，强制退出")
	case <-done:
		logger.Info("关闭完成")
	}
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// waitForMarketOpen 阻塞到市场开市
// 时钟接口失败时退避后重试，不中断启动。
// 返回: 开市时刻的市场时钟，上下文取消时返回 nil
func waitForMarketOpen(ctx context.Context, client *broker.Client, logger *zap.Logger) *broker.Clock {
	for {
		clock, err := client.Clock(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("获取市场时钟失败，稍后重试", zap.Error(err))
		case clock.IsOpen:
			return clock
		default:
			logger.Info("等待开市",
				zap.Time("next_open", clock.NextOpen),
				zap.Time("next_close", clock.NextClose))
		}

		// 最长一分钟重查一次，保证时钟漂移和退出信号都能及时响应
		wait := time.Minute
		if err == nil && !clock.IsOpen {
			if d := time.Until(clock.NextOpen); d > 0 && d < wait {
				wait = d
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// runTradeLoop 主交易循环
// 行情事件只在本循环内写入报价缓存，决策步按固定间隔触发；
// 到达收盘时间时强制平仓后退出，收到退出信号时保留持仓直接退出。
func runTradeLoop(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	eng *signal.Engine,
	cache *marketdata.Cache,
	restClient *marketdata.RestClient,
	stream *marketdata.StreamClient,
	sink *jsonl.Sink,
	rtt *latency.Tracker,
	nextClose time.Time,
) error {
	symbols := eng.Symbols()

	stepTicker := time.NewTicker(time.Duration(cfg.Data.PollIntervalMs) * time.Millisecond)
	defer stepTicker.Stop()

	metricsIntervalMs := cfg.Output.MetricsIntervalMs
	if metricsIntervalMs <= 0 {
		metricsIntervalMs = 60000
	}
	metricsTicker := time.NewTicker(time.Duration(metricsIntervalMs) * time.Millisecond)
	defer metricsTicker.Stop()

	var quoteCh <-chan model.Quote
	if stream != nil {
		quoteCh = stream.QuoteCh()
	}

	var lastSnap *model.Snapshot

	for {
		select {
		case <-ctx.Done():
			return nil

		case q, ok := <-quoteCh:
			if !ok {
				quoteCh = nil
				continue
			}
			cache.Update(q)

		case <-stepTicker.C:
			if !nextClose.IsZero() && time.Now().After(nextClose) {
				logger.Info("已到收盘时间，强制平仓后退出")
				if lastSnap != nil {
					sink.RecordTrades(eng.Liquidate(ctx, lastSnap))
				}
				return nil
			}

			if restClient != nil {
				quotes, err := restClient.LatestTrades(ctx, symbols)
				if err != nil {
					logger.Warn("拉取最新成交失败，跳过本步", zap.Error(err))
					continue
				}
				cache.UpdateAll(quotes)
			}

			snap := cache.Snapshot(time.Now().UTC(), symbols)
			lastSnap = snap
			sink.RecordTrades(eng.Step(ctx, snap))

		case <-metricsTicker.C:
			stats := eng.Stats()
			fields := []zap.Field{
				zap.Int64("steps", stats.Steps),
				zap.Int64("entries", stats.Entries),
				zap.Int64("exits", stats.Exits),
				zap.Int64("skipped_pairs", stats.SkippedPairs),
				zap.Int("open_pairs", eng.OpenCount()),
				zap.Int64("trades_written", sink.TradesWritten()),
			}
			if order := rtt.OrderStats(); order.Count > 0 {
				fields = append(fields,
					zap.Float64("order_rtt_p50_ms", order.P50Ms),
					zap.Float64("order_rtt_p99_ms", order.P99Ms))
			}
			if quote := rtt.QuoteStats(); quote.Count > 0 {
				fields = append(fields,
					zap.Float64("quote_rtt_p50_ms", quote.P50Ms),
					zap.Float64("quote_rtt_p99_ms", quote.P99Ms))
			}
			if stream != nil {
				ss := stream.Stats()
				fields = append(fields,
					zap.Float64("trades_per_sec", ss.TradesPerSec),
					zap.Int64("last_msg_age_ms", ss.LastMessageAgeMs),
					zap.Int64("reconnects", ss.ReconnectCount),
					zap.Int64("dropped", ss.DroppedCount))
			}
			logger.Info("运行统计", fields...)
		}
	}
}
