package marketdata

import (
	"encoding/json"
	"fmt"
	"time"

	"pairs-zscore-trader/internal/core/model"
)

// ParseStream 解析一条 WebSocket 消息
// 服务端把多条消息打包成 JSON 数组，成交转为报价，
// 控制消息原样上报给调用方处理。
// 参数 data: 原始消息字节
// 参数 arrivedAt: 本地到达时间
// 返回: 报价列表与控制消息列表
func ParseStream(data []byte, arrivedAt time.Time) ([]model.Quote, []Notice, error) {
	var envelopes []streamEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, nil, fmt.Errorf("解析行情流消息失败: %w", err)
	}

	var quotes []model.Quote
	var notices []Notice
	for _, env := range envelopes {
		switch env.T {
		case "t":
			if env.Symbol == "" || env.Price <= 0 {
				continue
			}
			quotes = append(quotes, model.Quote{
				Symbol:    env.Symbol,
				Price:     env.Price,
				TS:        env.TS,
				ArrivedAt: arrivedAt,
			})
		case "success", "subscription", "error":
			notices = append(notices, Notice{T: env.T, Code: env.Code, Msg: env.Msg})
		default:
			// 其他类型（报价、K 线等频道）未订阅，忽略
		}
	}

	return quotes, notices, nil
}
