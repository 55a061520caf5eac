// Package jsonl 输出模块测试
package jsonl

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"pairs-zscore-trader/internal/config"
	"pairs-zscore-trader/internal/core/model"
)

// **Feature: pairs-zscore-trader, Property 20: Trade Record Output Completeness**
// **Validates: Requirements 9.1**

func TestTradeRecord_OutputCompleteness_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("成交记录 JSON 必含必需字段", prop.ForAll(
		func(qtyA, qtyB int64, pxA, pxB, spread, z float64, forced bool) bool {
			action := model.ActionOpenShort
			if forced {
				action = model.ActionClose
			}
			rec := model.TradeRecord{
				TS:      time.Date(2025, 11, 3, 15, 0, 0, 0, time.UTC),
				SymbolA: "GOOG",
				SymbolB: "GOOGL",
				Action:  action,
				QtyA:    qtyA,
				QtyB:    qtyB,
				PxA:     pxA,
				PxB:     pxB,
				Spread:  spread,
				Z:       z,
				Forced:  forced,
			}

			b, err := json.Marshal(rec)
			if err != nil {
				return false
			}

			var m map[string]any
			if err := json.Unmarshal(b, &m); err != nil {
				return false
			}

			required := []string{
				"ts",
				"symbol_a",
				"symbol_b",
				"action",
				"qty_a",
				"qty_b",
				"px_a",
				"px_b",
				"spread",
				"z",
				"forced",
			}
			for _, k := range required {
				if _, ok := m[k]; !ok {
					return false
				}
			}
			return m["action"] == string(action)
		},
		gen.Int64Range(1, 10000),
		gen.Int64Range(1, 10000),
		gen.Float64Range(1, 5000),
		gen.Float64Range(1, 5000),
		gen.Float64Range(-100, 100),
		gen.Float64Range(-10, 10),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestWriter_WriteAndClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trades.jsonl")

	w, err := NewWriter(path, 100)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	for i := 0; i < 10; i++ {
		rec := model.TradeRecord{
			TS:      time.Date(2025, 11, 3, 15, i, 0, 0, time.UTC),
			SymbolA: "GOOG",
			SymbolB: "GOOGL",
			Action:  model.ActionOpenLong,
			QtyA:    int64(i + 1),
			QtyB:    int64(i + 2),
			PxA:     170.5,
			PxB:     168.9,
		}
		if err := w.Write(rec); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := w.Written(); got != 10 {
		t.Errorf("Written() = %d, want 10", got)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lines := 0
	var first model.TradeRecord
	for sc.Scan() {
		if lines == 0 {
			if err := json.Unmarshal(sc.Bytes(), &first); err != nil {
				t.Fatalf("解析首行失败: %v", err)
			}
		}
		lines++
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if lines != 10 {
		t.Fatalf("lines=%d, want 10", lines)
	}
	if first.SymbolA != "GOOG" || first.QtyA != 1 || first.Action != model.ActionOpenLong {
		t.Errorf("首行内容 = %+v, 与写入不符", first)
	}
}

func TestWriter_WriteAfterClose(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "x.jsonl"), 10)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Write(model.TradeRecord{}); err == nil {
		t.Error("关闭后写入应报错")
	}
	// 重复关闭幂等
	if err := w.Close(); err != nil {
		t.Errorf("重复 Close: %v", err)
	}
}

func TestSink_WritesTradesAndEquity(t *testing.T) {
	dir := t.TempDir()
	cfg := config.OutputConfig{
		Dir:           dir,
		TradesEnabled: true,
		EquityEnabled: true,
		BufferSize:    64,
	}

	s, err := NewSink(cfg, "2025-11-03", nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	s.RecordTrades([]model.TradeRecord{
		{SymbolA: "GOOG", SymbolB: "GOOGL", Action: model.ActionOpenShort, QtyA: 8, QtyB: 10},
		{SymbolA: "GOOG", SymbolB: "GOOGL", Action: model.ActionClose},
	})
	for i := 0; i < 3; i++ {
		s.RecordEquity(model.EquitySample{
			TS:     time.Date(2025, 11, 3, 15, i, 0, 0, time.UTC),
			Equity: 10000 + float64(i),
		})
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := s.TradesWritten(); got != 2 {
		t.Errorf("TradesWritten() = %d, want 2", got)
	}
	if got := s.EquityWritten(); got != 3 {
		t.Errorf("EquityWritten() = %d, want 3", got)
	}

	countLines := func(path string) int {
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("Open %s: %v", path, err)
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		n := 0
		for sc.Scan() {
			n++
		}
		return n
	}

	if n := countLines(filepath.Join(dir, "trades_2025-11-03.jsonl")); n != 2 {
		t.Errorf("成交文件行数 = %d, want 2", n)
	}
	if n := countLines(filepath.Join(dir, "equity_2025-11-03.jsonl")); n != 3 {
		t.Errorf("权益文件行数 = %d, want 3", n)
	}
}

func TestSink_DisabledStreams(t *testing.T) {
	dir := t.TempDir()
	cfg := config.OutputConfig{
		Dir:           dir,
		TradesEnabled: false,
		EquityEnabled: false,
		BufferSize:    64,
	}

	s, err := NewSink(cfg, "2025-11-03", nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	// 未启用的流静默丢弃，不崩溃
	s.RecordTrade(model.TradeRecord{SymbolA: "GOOG"})
	s.RecordEquity(model.EquitySample{Equity: 1})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "trades_2025-11-03.jsonl")); !os.IsNotExist(err) {
		t.Error("未启用时不应创建成交文件")
	}
	if _, err := os.Stat(filepath.Join(dir, "equity_2025-11-03.jsonl")); !os.IsNotExist(err) {
		t.Error("未启用时不应创建权益文件")
	}
}
