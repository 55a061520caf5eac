// Package broker 交易客户端测试
package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pairs-zscore-trader/internal/config"
	"pairs-zscore-trader/internal/stats/latency"
)

func testBrokerConfig(t *testing.T, baseURL string) config.BrokerConfig {
	t.Helper()
	t.Setenv("PAPER_API_KEY", "test-key")
	t.Setenv("PAPER_API_SECRET", "test-secret")
	return config.BrokerConfig{
		Mode:            config.ModePaper,
		PaperBaseURL:    baseURL,
		RealBaseURL:     "https://api.example.com",
		TimeoutMs:       2000,
		RateLimitPerMin: 6000,
	}
}

func TestClient_MissingCredentials(t *testing.T) {
	t.Setenv("PAPER_API_KEY", "")
	t.Setenv("PAPER_API_SECRET", "")
	cfg := config.BrokerConfig{Mode: config.ModePaper, PaperBaseURL: "https://paper.example.com"}

	if _, err := New(cfg, nil, zap.NewNop()); err == nil {
		t.Fatalf("凭证缺失应拒绝创建客户端")
	}
}

func TestClient_Account(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/account" {
			t.Fatalf("请求路径=%s, want /v2/account", r.URL.Path)
		}
		if r.Header.Get("APCA-API-KEY-ID") != "test-key" {
			t.Fatalf("缺少 API Key 请求头")
		}
		if r.Header.Get("APCA-API-SECRET-KEY") != "test-secret" {
			t.Fatalf("缺少 API Secret 请求头")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "acct-1",
			"status": "ACTIVE",
			"currency": "USD",
			"cash": "25000.75",
			"buying_power": "100003.00",
			"equity": "120500.25",
			"last_equity": "120000.25",
			"portfolio_value": "120500.25"
		}`))
	}))
	defer server.Close()

	c, err := New(testBrokerConfig(t, server.URL), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}

	acct, err := c.Account(context.Background())
	if err != nil {
		t.Fatalf("获取账户失败: %v", err)
	}
	if !acct.BuyingPower.Equal(decimal.RequireFromString("100003.00")) {
		t.Fatalf("BuyingPower=%s, want 100003.00", acct.BuyingPower)
	}
	if !acct.DailyProfit().Equal(decimal.RequireFromString("500.00")) {
		t.Fatalf("DailyProfit=%s, want 500.00", acct.DailyProfit())
	}
}

func TestClient_SubmitMarketOrder(t *testing.T) {
	var gotReq orderRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/orders" {
			t.Fatalf("请求=%s %s, want POST /v2/orders", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("解码请求体失败: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "order-1",
			"client_order_id": "` + gotReq.ClientOrderID + `",
			"symbol": "GOOG",
			"side": "buy",
			"type": "market",
			"time_in_force": "day",
			"qty": "5",
			"status": "accepted"
		}`))
	}))
	defer server.Close()

	rtt := latency.NewTracker(100)
	c, err := New(testBrokerConfig(t, server.URL), rtt, zap.NewNop())
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}

	order, err := c.SubmitMarketOrder(context.Background(), "GOOG", SideBuy, 5)
	if err != nil {
		t.Fatalf("提交市价单失败: %v", err)
	}

	if gotReq.Symbol != "GOOG" || gotReq.Side != "buy" || gotReq.Qty != "5" {
		t.Fatalf("请求体=%+v, 字段不符", gotReq)
	}
	if gotReq.Type != OrderTypeMarket || gotReq.TimeInForce != TimeInForceDay {
		t.Fatalf("订单类型/时效=%s/%s, want market/day", gotReq.Type, gotReq.TimeInForce)
	}
	if _, err := uuid.Parse(gotReq.ClientOrderID); err != nil {
		t.Fatalf("client_order_id 应为合法 UUID: %s", gotReq.ClientOrderID)
	}
	if order.ID != "order-1" || !order.Qty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("订单解码不符: %+v", order)
	}

	if rtt.OrderStats().Count != 1 {
		t.Fatalf("下单往返时延应已入样")
	}
}

func TestClient_SubmitLimitOrder(t *testing.T) {
	var gotReq orderRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/orders" {
			t.Fatalf("请求=%s %s, want POST /v2/orders", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("解码请求体失败: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "order-2",
			"symbol": "GOOG",
			"side": "sell",
			"type": "limit",
			"time_in_force": "day",
			"limit_price": "170.25",
			"status": "accepted"
		}`))
	}))
	defer server.Close()

	c, err := New(testBrokerConfig(t, server.URL), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}

	notional := decimal.RequireFromString("1500.50")
	limitPx := decimal.RequireFromString("170.25")
	order, err := c.SubmitLimitOrder(context.Background(), "GOOG", SideSell, notional, limitPx)
	if err != nil {
		t.Fatalf("提交限价单失败: %v", err)
	}

	// 限价单按金额下单, 不携带 qty
	if gotReq.Notional != "1500.5" || gotReq.Qty != "" {
		t.Fatalf("请求体=%+v, 限价单应只带 notional", gotReq)
	}
	if gotReq.Type != OrderTypeLimit || gotReq.LimitPrice != "170.25" {
		t.Fatalf("订单类型/限价=%s/%s, want limit/170.25", gotReq.Type, gotReq.LimitPrice)
	}
	if order.ID != "order-2" {
		t.Fatalf("订单解码不符: %+v", order)
	}
}

func TestClient_ClosedOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/orders" {
			t.Fatalf("请求路径=%s, want /v2/orders", r.URL.Path)
		}
		if r.URL.Query().Get("status") != "closed" || r.URL.Query().Get("limit") != "25" {
			t.Fatalf("查询参数=%s, want status=closed&limit=25", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id": "order-7", "symbol": "GOOG", "side": "buy", "status": "filled"},
			{"id": "order-8", "symbol": "GOOGL", "side": "sell", "status": "filled"}
		]`))
	}))
	defer server.Close()

	c, err := New(testBrokerConfig(t, server.URL), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}

	orders, err := c.ClosedOrders(context.Background(), 25)
	if err != nil {
		t.Fatalf("获取已完结订单失败: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "order-7" || orders[1].ID != "order-8" {
		t.Fatalf("订单列表不符: %+v", orders)
	}
}

func TestClient_ClosePosition(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/v2/positions/GOOG" {
			t.Fatalf("请求=%s %s, want DELETE /v2/positions/GOOG", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "order-9", "symbol": "GOOG", "side": "sell", "status": "accepted"}`))
	}))
	defer server.Close()

	c, err := New(testBrokerConfig(t, server.URL), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}

	order, err := c.ClosePosition(context.Background(), "GOOG")
	if err != nil {
		t.Fatalf("平仓失败: %v", err)
	}
	if order.ID != "order-9" {
		t.Fatalf("平仓订单=%s, want order-9", order.ID)
	}
}

func TestClient_Clock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/clock" {
			t.Fatalf("请求路径=%s, want /v2/clock", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"timestamp": "2025-06-02T10:00:00-04:00",
			"is_open": true,
			"next_open": "2025-06-03T09:30:00-04:00",
			"next_close": "2025-06-02T16:00:00-04:00"
		}`))
	}))
	defer server.Close()

	c, err := New(testBrokerConfig(t, server.URL), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}

	clk, err := c.Clock(context.Background())
	if err != nil {
		t.Fatalf("获取时钟失败: %v", err)
	}
	if !clk.IsOpen {
		t.Fatalf("is_open 应为 true")
	}
}

func TestClient_Asset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/assets/GOOG" {
			t.Fatalf("请求路径=%s, want /v2/assets/GOOG", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol": "GOOG", "status": "active", "tradable": true, "shortable": true}`))
	}))
	defer server.Close()

	c, err := New(testBrokerConfig(t, server.URL), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}

	asset, err := c.Asset(context.Background(), "GOOG")
	if err != nil {
		t.Fatalf("获取标的失败: %v", err)
	}
	if !asset.Tradable || !asset.Shortable {
		t.Fatalf("标的属性解码不符: %+v", asset)
	}
}

func TestClient_ErrorStatusIncludesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message": "forbidden"}`))
	}))
	defer server.Close()

	c, err := New(testBrokerConfig(t, server.URL), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}

	if _, err := c.Account(context.Background()); err == nil {
		t.Fatalf("非 2xx 状态码应返回错误")
	}
}
