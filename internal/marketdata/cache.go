package marketdata

import (
	"time"

	"pairs-zscore-trader/internal/core/model"
)

// Cache 最新报价缓存（单写者）
// 默认由行情循环单 goroutine 写入；引擎通过 Snapshot 拿到的是
// 独立拷贝，跨 goroutine 传递安全。
type Cache struct {
	// quotes 按标的缓存最新报价
	quotes map[string]model.Quote
}

// NewCache 创建报价缓存
func NewCache() *Cache {
	return &Cache{
		quotes: make(map[string]model.Quote, 16),
	}
}

// Update 写入一条报价，非法报价直接忽略
func (c *Cache) Update(q model.Quote) {
	if !q.IsValid() {
		return
	}
	c.quotes[q.Symbol] = q
}

// UpdateAll 批量写入报价
func (c *Cache) UpdateAll(quotes map[string]model.Quote) {
	for _, q := range quotes {
		c.Update(q)
	}
}

// Get 获取某标的的最新报价
func (c *Cache) Get(symbol string) (model.Quote, bool) {
	q, ok := c.quotes[symbol]
	return q, ok
}

// Len 已缓存的标的数
func (c *Cache) Len() int {
	return len(c.quotes)
}

// Snapshot 按标的列表构建价格快照
// 尚无报价的标的不会出现在快照里，缺腿交易对由引擎跳过
func (c *Cache) Snapshot(ts time.Time, symbols []string) *model.Snapshot {
	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		if q, ok := c.quotes[sym]; ok {
			prices[sym] = q.Price
		}
	}
	return &model.Snapshot{TS: ts, Prices: prices}
}
