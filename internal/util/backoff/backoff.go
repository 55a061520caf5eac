// Package backoff 实现指数退避。
// 行情流断线重连时用它拉开重试间隔，避免在服务端限连时
// 形成重连风暴。基础间隔 1s，最大间隔 30s，抖动 ±20%。
package backoff

import (
	"math/rand/v2"
	"time"
)

// Backoff 指数退避计算器
// 每次 Next() 返回下一次重试前的等待时间，按指数增长到上限为止
type Backoff struct {
	// base 基础等待时间
	base time.Duration
	// max 最大等待时间
	max time.Duration
	// jitter 抖动比例（0-1），0.2 表示 ±20%
	jitter float64
	// attempt 连续失败次数
	attempt int
}

// New 创建退避计算器
// 参数 base: 基础等待时间（建议 1s）
// 参数 max: 最大等待时间（建议 30s）
// 参数 jitter: 抖动比例（建议 0.2）
func New(base, max time.Duration, jitter float64) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max, jitter: jitter}
}

// NewDefault 创建默认配置的退避计算器
// 基础间隔 1s，最大间隔 30s，抖动 ±20%
func NewDefault() *Backoff {
	return New(time.Second, 30*time.Second, 0.2)
}

// Next 获取下次重试的等待时间并推进失败计数
// 计算: base * 2^attempt，封顶 max，再应用 ±jitter 抖动
func (b *Backoff) Next() time.Duration {
	delay := b.max
	// 位移溢出时结果非正或越界，直接落回封顶值
	if b.attempt < 62 {
		d := b.base << uint(b.attempt)
		if d > 0 && d < b.max {
			delay = d
		}
	}

	if b.jitter > 0 {
		factor := 1.0 + (rand.Float64()*2-1)*b.jitter
		delay = time.Duration(float64(delay) * factor)
	}

	b.attempt++
	return delay
}

// Reset 连接成功后调用，清零失败计数
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 当前连续失败次数
func (b *Backoff) Attempt() int {
	return b.attempt
}
