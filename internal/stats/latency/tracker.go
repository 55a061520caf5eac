// Package latency 实现对外请求往返时延的测量和统计。
// 为券商下单和行情拉取维护独立的滚动窗口追踪器。
package latency

import (
	"sort"
	"sync"
	"time"
)

// RTTStats 往返时延统计快照（滚动窗口）
// 单位：毫秒。
type RTTStats struct {
	// Channel 通道名: order 或 quote
	Channel string
	// Count 样本总数（累计）
	Count int64
	// P50Ms P50 往返时延（毫秒）
	P50Ms float64
	// P90Ms P90 往返时延（毫秒）
	P90Ms float64
	// P99Ms P99 往返时延（毫秒）
	P99Ms float64
}

type rollingWindow struct {
	size  int
	buf   []int64
	pos   int
	count int64
	full  bool

	mu sync.Mutex
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size, buf: make([]int64, 0, size)}
}

func (w *rollingWindow) add(v int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count++
	if w.size <= 0 {
		return
	}

	if !w.full {
		w.buf = append(w.buf, v)
		if len(w.buf) == w.size {
			w.full = true
			w.pos = 0
		}
		return
	}

	w.buf[w.pos] = v
	w.pos++
	if w.pos >= w.size {
		w.pos = 0
	}
}

func (w *rollingWindow) snapshotQuantiles(qs ...float64) (count int64, values []int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	count = w.count
	if len(w.buf) == 0 {
		return count, make([]int64, len(qs))
	}

	tmp := make([]int64, len(w.buf))
	copy(tmp, w.buf)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	values = make([]int64, len(qs))
	n := len(tmp)
	for i, q := range qs {
		if q <= 0 {
			values[i] = tmp[0]
			continue
		}
		if q >= 1 {
			values[i] = tmp[n-1]
			continue
		}
		idx := int(float64(n-1) * q)
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		values[i] = tmp[idx]
	}
	return count, values
}

// Tracker 往返时延追踪器
// 为下单通道与行情通道维护独立的滚动窗口统计。
type Tracker struct {
	// order 券商下单往返时延
	order *rollingWindow
	// quote 行情拉取往返时延
	quote *rollingWindow
}

// NewTracker 创建往返时延追踪器
// 参数 windowSize: 滚动窗口大小（建议 1000），用于 P50/P90/P99。
func NewTracker(windowSize int) *Tracker {
	return &Tracker{
		order: newRollingWindow(windowSize),
		quote: newRollingWindow(windowSize),
	}
}

// ObserveOrder 记录一次券商下单请求的往返时延
func (t *Tracker) ObserveOrder(d time.Duration) {
	if t == nil || d < 0 {
		return
	}
	t.order.add(d.Nanoseconds())
}

// ObserveQuote 记录一次行情拉取请求的往返时延
func (t *Tracker) ObserveQuote(d time.Duration) {
	if t == nil || d < 0 {
		return
	}
	t.quote.add(d.Nanoseconds())
}

// OrderStats 获取下单通道的统计快照
func (t *Tracker) OrderStats() RTTStats {
	return statsOf("order", t.order)
}

// QuoteStats 获取行情通道的统计快照
func (t *Tracker) QuoteStats() RTTStats {
	return statsOf("quote", t.quote)
}

func statsOf(channel string, w *rollingWindow) RTTStats {
	count, qs := w.snapshotQuantiles(0.50, 0.90, 0.99)
	return RTTStats{
		Channel: channel,
		Count:   count,
		P50Ms:   float64(qs[0]) / 1_000_000.0,
		P90Ms:   float64(qs[1]) / 1_000_000.0,
		P99Ms:   float64(qs[2]) / 1_000_000.0,
	}
}
