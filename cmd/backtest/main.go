// Package main 是配对交易策略的回测入口。
// 从行情 API 拉取历史分钟线，在模拟撮合场上逐根重放决策逻辑，
// 支持单日会话（-date）和多日连续回测（-start/-end，共享现金池与价差窗口）。
// 结果报告打印到标准输出，成交与权益明细写入 JSONL 文件。
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pairs-zscore-trader/internal/backtest"
	"pairs-zscore-trader/internal/config"
	"pairs-zscore-trader/internal/core/ledger"
	"pairs-zscore-trader/internal/core/model"
	"pairs-zscore-trader/internal/core/signal"
	"pairs-zscore-trader/internal/core/sim"
	"pairs-zscore-trader/internal/marketdata"
	"pairs-zscore-trader/internal/output/jsonl"
	"pairs-zscore-trader/internal/stats/latency"
	"pairs-zscore-trader/internal/util/timeutil"
)

func main() {
	var (
		configPath string
		dateStr    string
		startStr   string
		endStr     string
	)
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.StringVar(&dateStr, "date", "", "单日回测日期（YYYY-MM-DD）")
	flag.StringVar(&startStr, "start", "", "连续回测起始日期（YYYY-MM-DD）")
	flag.StringVar(&endStr, "end", "", "连续回测结束日期（YYYY-MM-DD）")
	flag.Parse()

	singleDay := dateStr != ""
	campaign := startStr != "" || endStr != ""
	switch {
	case singleDay && campaign:
		fmt.Fprintln(os.Stderr, "参数错误: -date 与 -start/-end 不能同时指定")
		os.Exit(1)
	case !singleDay && !campaign:
		fmt.Fprintln(os.Stderr, "参数错误: 必须指定 -date 或 -start/-end")
		os.Exit(1)
	case campaign && (startStr == "" || endStr == ""):
		fmt.Fprintln(os.Stderr, "参数错误: -start 与 -end 必须成对指定")
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，中断多日回测
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	// 历史行情接口同样使用券商 API 凭证
	key, secret, err := cfg.Broker.Credentials()
	if err != nil {
		logger.Error("读取 API 凭证失败", zap.Error(err))
		os.Exit(1)
	}

	rtt := latency.NewTracker(4096)
	source := marketdata.NewRestClient(cfg.Data, key, secret, rtt, logger.Named("data"))

	led := ledger.New(cfg.Backtest.InitialCash)
	venue := sim.New(led, logger.Named("sim"))
	eng, err := signal.New(cfg.Strategy, venue, logger.Named("engine"))
	if err != nil {
		logger.Error("创建信号引擎失败", zap.Error(err))
		os.Exit(1)
	}

	driver, err := backtest.New(source, eng, led, cfg.Backtest, logger.Named("backtest"))
	if err != nil {
		logger.Error("创建回测驱动失败", zap.Error(err))
		os.Exit(1)
	}

	if singleDay {
		runSingleDay(ctx, logger, cfg, driver, led, dateStr)
		return
	}
	runCampaign(ctx, logger, cfg, driver, led, startStr, endStr)
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

func runSingleDay(ctx context.Context, logger *zap.Logger, cfg *config.Config, driver *backtest.Driver, led *ledger.Ledger, dateStr string) {
	day, err := timeutil.ParseDate(dateStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误: %v\n", err)
		os.Exit(1)
	}

	runTag := "bt_" + day.Format("20060102")
	sink, err := jsonl.NewSink(cfg.Output, runTag, logger.Named("output"))
	if err != nil {
		logger.Error("创建输出失败", zap.Error(err))
		os.Exit(1)
	}

	res, err := driver.RunSession(ctx, day)
	if err != nil {
		logger.Error("回测失败", zap.Error(err))
		_ = sink.Close()
		os.Exit(1)
	}
	if res == nil {
		logger.Info("当日无行情，未生成结果", zap.String("date", dateStr))
		_ = sink.Close()
		return
	}

	writeResult(logger, sink, res.Trades, led.History(), res.Report)
}

func runCampaign(ctx context.Context, logger *zap.Logger, cfg *config.Config, driver *backtest.Driver, led *ledger.Ledger, startStr, endStr string) {
	start, err := timeutil.ParseDate(startStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误: %v\n", err)
		os.Exit(1)
	}
	end, err := timeutil.ParseDate(endStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误: %v\n", err)
		os.Exit(1)
	}
	if end.Before(start) {
		fmt.Fprintln(os.Stderr, "参数错误: -end 早于 -start")
		os.Exit(1)
	}

	runTag := "bt_" + start.Format("20060102") + "_" + end.Format("20060102")
	sink, err := jsonl.NewSink(cfg.Output, runTag, logger.Named("output"))
	if err != nil {
		logger.Error("创建输出失败", zap.Error(err))
		os.Exit(1)
	}

	res, err := driver.RunCampaign(ctx, start, end)
	if err != nil {
		logger.Error("回测失败", zap.Error(err))
		_ = sink.Close()
		os.Exit(1)
	}

	writeResult(logger, sink, res.Trades, led.History(), res.Report)
}

// writeResult 把成交与权益明细写入 JSONL，报告以 JSON 打印到标准输出
func writeResult(logger *zap.Logger, sink *jsonl.Sink, trades []model.TradeRecord, history []model.EquitySample, report any) {
	sink.RecordTrades(trades)
	for _, sample := range history {
		sink.RecordEquity(sample)
	}
	if err := sink.Close(); err != nil {
		logger.Warn("关闭输出失败", zap.Error(err))
	}
	logger.Info("输出写入完成",
		zap.Int64("trades", sink.TradesWritten()),
		zap.Int64("equity_samples", sink.EquityWritten()))

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.Error("序列化报告失败", zap.Error(err))
		os.Exit(1)
	}
	fmt.Println(string(out))
}
