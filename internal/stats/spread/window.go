// Package spread 实现价差序列的滚动统计。
// 维护固定容量的价差滚动窗口，计算样本均值、贝塞尔校正样本标准差
// （除以 W-1）以及当前价差的 z-score。
package spread

import (
	"math"
)

// Score 一次窗口更新后的统计结果
// 三种情形:
//   - 窗口未满: Ready 为 false，所有数值无意义（预热期，非错误）
//   - 方差塌缩: Ready 为 true 且 Degenerate 为 true，Mean 有效、Std 为 0、
//     z 数学上无定义，不得计算
//   - 正常: Ready 为 true 且 Degenerate 为 false，Z/Mean/Std 全部有效
type Score struct {
	// Z 标准化 z-score = (spread - mean) / std
	Z float64
	// Mean 窗口样本均值
	Mean float64
	// Std 样本标准差（贝塞尔校正，除以 W-1）
	Std float64
	// Ready 窗口是否已积满 W 个样本
	Ready bool
	// Degenerate 窗口取值是否全部相同（std == 0）
	Degenerate bool
}

// Valid 判断 z 是否可用
// 窗口未满或方差塌缩时返回 false，调用方应视为无信号
func (s Score) Valid() bool {
	return s.Ready && !s.Degenerate
}

// Window 固定容量的价差滚动窗口
// FIFO 语义: 满后每次写入淘汰最旧样本，插入顺序即时间顺序。
// 非并发安全，由单线程决策循环独占使用。
type Window struct {
	// capacity 窗口容量 W
	capacity int
	// buf 环形缓冲区
	buf []float64
	// pos 写入位置
	pos int
	// full 是否已填满
	full bool
}

// NewWindow 创建滚动窗口
// 参数 capacity: 回看窗口大小 W，小于 2 时按 2 处理
// （配置层在构造策略前已拒绝 W < 2，这里仅兜底）
func NewWindow(capacity int) *Window {
	if capacity < 2 {
		capacity = 2
	}
	return &Window{
		capacity: capacity,
		buf:      make([]float64, capacity),
	}
}

// Update 追加一个价差样本并返回当前窗口的统计结果
// 传入的 spread 本身参与本次均值/标准差计算（先入窗，后统计）
func (w *Window) Update(spread float64) Score {
	w.buf[w.pos] = spread
	w.pos++
	if w.pos >= w.capacity {
		w.pos = 0
		w.full = true
	}

	if !w.full {
		return Score{}
	}

	// 全等窗口直接判定塌缩，避免浮点求和误差把 std 算成极小非零值
	if w.allEqual() {
		return Score{Mean: w.buf[0], Std: 0, Ready: true, Degenerate: true}
	}

	var sum float64
	for _, v := range w.buf {
		sum += v
	}
	mean := sum / float64(w.capacity)

	var ss float64
	for _, v := range w.buf {
		d := v - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(w.capacity-1))

	if std == 0 {
		return Score{Mean: mean, Std: 0, Ready: true, Degenerate: true}
	}

	return Score{
		Z:     (spread - mean) / std,
		Mean:  mean,
		Std:   std,
		Ready: true,
	}
}

// Len 返回当前已持有的样本数
// 未满时为已写入数，满后恒为容量
func (w *Window) Len() int {
	if w.full {
		return w.capacity
	}
	return w.pos
}

// Capacity 返回窗口容量 W
func (w *Window) Capacity() int {
	return w.capacity
}

func (w *Window) allEqual() bool {
	first := w.buf[0]
	for _, v := range w.buf[1:] {
		if v != first {
			return false
		}
	}
	return true
}
