package jsonl

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"pairs-zscore-trader/internal/config"
	"pairs-zscore-trader/internal/core/model"
)

// Sink 面向交易流程的输出汇
// 按运行标记命名成交与权益两个 JSONL 文件，未启用的流被静默丢弃。
// 写入失败只记日志，不影响决策流程。
type Sink struct {
	trades *Writer
	equity *Writer
	logger *zap.Logger
}

// NewSink 创建输出汇
// 参数 cfg: 输出配置（目录、开关、缓冲区）
// 参数 runTag: 运行标记，拼入文件名，如回测日期或实盘启动时间
// 参数 logger: 日志器，nil 时使用空日志器
// 返回: 输出汇和可能的文件错误
func NewSink(cfg config.OutputConfig, runTag string, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{logger: logger}

	if cfg.TradesEnabled {
		w, err := NewWriter(filepath.Join(cfg.Dir, fmt.Sprintf("trades_%s.jsonl", runTag)), cfg.BufferSize)
		if err != nil {
			return nil, fmt.Errorf("创建成交记录输出失败: %w", err)
		}
		s.trades = w
	}
	if cfg.EquityEnabled {
		w, err := NewWriter(filepath.Join(cfg.Dir, fmt.Sprintf("equity_%s.jsonl", runTag)), cfg.BufferSize)
		if err != nil {
			s.trades.Close()
			return nil, fmt.Errorf("创建权益曲线输出失败: %w", err)
		}
		s.equity = w
	}
	return s, nil
}

// RecordTrade 写入一条成交记录
func (s *Sink) RecordTrade(rec model.TradeRecord) {
	if s == nil || s.trades == nil {
		return
	}
	if err := s.trades.Write(rec); err != nil {
		s.logger.Warn("写入成交记录失败", zap.Error(err))
	}
}

// RecordTrades 批量写入成交记录
func (s *Sink) RecordTrades(recs []model.TradeRecord) {
	for _, rec := range recs {
		s.RecordTrade(rec)
	}
}

// RecordEquity 写入一条权益曲线采样
func (s *Sink) RecordEquity(sample model.EquitySample) {
	if s == nil || s.equity == nil {
		return
	}
	if err := s.equity.Write(sample); err != nil {
		s.logger.Warn("写入权益样本失败", zap.Error(err))
	}
}

// TradesWritten 返回已写入的成交记录条数
func (s *Sink) TradesWritten() int64 {
	if s == nil {
		return 0
	}
	return s.trades.Written()
}

// EquityWritten 返回已写入的权益样本条数
func (s *Sink) EquityWritten() int64 {
	if s == nil {
		return 0
	}
	return s.equity.Written()
}

// Flush 等待两个流的已投递记录落盘
func (s *Sink) Flush() error {
	if s == nil {
		return nil
	}
	if err := s.trades.Flush(); err != nil {
		return err
	}
	return s.equity.Flush()
}

// Close 关闭两个流，幂等
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	tradesErr := s.trades.Close()
	equityErr := s.equity.Close()
	if tradesErr != nil {
		return tradesErr
	}
	return equityErr
}
