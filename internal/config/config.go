// Package config 负责加载和验证 YAML 配置文件。
// 提供应用程序所需的所有配置项，包括策略参数、券商连接、行情数据源、
// 回测与输出设置等。API 凭证只从环境变量读取，不进配置文件。
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// 账户模式常量
const (
	// ModePaper 模拟盘账户
	ModePaper = "PAPER"
	// ModeReal 实盘账户
	ModeReal = "REAL"
)

// 行情数据源常量
const (
	// SourceREST 周期性 REST 批量取最新成交价
	SourceREST = "rest"
	// SourceStream WebSocket 实时成交流 + 本地报价缓存
	SourceStream = "stream"
)

// Config 应用配置根结构
// 包含所有子模块的配置项
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Strategy 策略参数配置
	Strategy StrategyConfig `yaml:"strategy"`
	// Broker 券商交易 API 配置
	Broker BrokerConfig `yaml:"broker"`
	// Data 行情数据配置
	Data DataConfig `yaml:"data"`
	// Trade 实盘交易循环配置
	Trade TradeConfig `yaml:"trade"`
	// Backtest 回测配置
	Backtest BacktestConfig `yaml:"backtest"`
	// Output 输出配置
	Output OutputConfig `yaml:"output"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// PairConfig 交易对配置
// 腿顺序固定: 价差恒为 a 腿价格减 b 腿价格
type PairConfig struct {
	// A A 腿标的代码，如 GOOGL
	A string `yaml:"a"`
	// B B 腿标的代码，如 GOOG
	B string `yaml:"b"`
}

// StrategyConfig 策略参数配置
// 构造策略实例后整个运行期间不再变化
type StrategyConfig struct {
	// Pairs 交易对列表
	Pairs []PairConfig `yaml:"pairs"`
	// LookbackWindow 回看窗口 W，价差滚动统计的样本数，必须 >= 2
	LookbackWindow int `yaml:"lookback_window"`
	// ZEntry 入场阈值，z 超出 ±z_entry 才开仓，必须为正
	ZEntry float64 `yaml:"z_entry"`
	// ZExit 出场阈值，|z| 收敛到 z_exit 以内才平仓
	// 取值范围 0 <= z_exit < z_entry
	ZExit float64 `yaml:"z_exit"`
	// CapitalDivisor 资金除数 K，单对名义预算 = 可用资金 / K
	// 可调风险参数，常见取值 10（多对/回测）或 200（保守单对实盘）
	CapitalDivisor float64 `yaml:"capital_divisor"`
}

// BrokerConfig 券商交易 API 配置
// API 凭证从环境变量读取: PAPER_API_KEY/PAPER_API_SECRET
// 或 REAL_API_KEY/REAL_API_SECRET，按 mode 选择
type BrokerConfig struct {
	// Mode 账户模式: PAPER 或 REAL
	Mode string `yaml:"mode"`
	// PaperBaseURL 模拟盘交易 API 地址
	PaperBaseURL string `yaml:"paper_base_url"`
	// RealBaseURL 实盘交易 API 地址
	RealBaseURL string `yaml:"real_base_url"`
	// TimeoutMs HTTP 请求超时时间（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
	// RateLimitPerMin 每分钟请求数上限（客户端侧限速）
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
}

// DataConfig 行情数据配置
type DataConfig struct {
	// BaseURL 行情 REST API 地址
	BaseURL string `yaml:"base_url"`
	// StreamURL 行情 WebSocket 地址
	StreamURL string `yaml:"stream_url"`
	// Source 实盘取价方式: rest 或 stream
	Source string `yaml:"source"`
	// PollIntervalMs 决策步间隔（毫秒），实盘循环每隔该时间扫描一次全部交易对
	PollIntervalMs int `yaml:"poll_interval_ms"`
	// TimeoutMs HTTP 请求超时时间（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
	// PingIntervalMs WebSocket 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// ReadTimeoutMs WebSocket 读取超时（毫秒）
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
	// BufferSize 行情事件通道缓冲区大小，满时丢弃并计数
	BufferSize int `yaml:"buffer_size"`
}

// TradeConfig 实盘交易循环配置
type TradeConfig struct {
	// IgnoreMarketHours 为 true 时不做开闭市门控，循环无限运行
	// 默认 false: 开市前等待，收市时自行退出
	IgnoreMarketHours bool `yaml:"ignore_market_hours"`
}

// BacktestConfig 回测配置
type BacktestConfig struct {
	// InitialCash 期初现金
	InitialCash float64 `yaml:"initial_cash"`
	// SessionOpenUTC 会话开始时间（UTC），格式 HH:MM
	SessionOpenUTC string `yaml:"session_open_utc"`
	// SessionCloseUTC 会话结束时间（UTC），格式 HH:MM
	SessionCloseUTC string `yaml:"session_close_utc"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// TradesEnabled 是否输出成交记录文件（JSONL）
	TradesEnabled bool `yaml:"trades_enabled"`
	// EquityEnabled 是否输出权益曲线文件（JSONL，仅回测）
	EquityEnabled bool `yaml:"equity_enabled"`
	// MetricsIntervalMs 实盘运行统计日志间隔（毫秒）
	MetricsIntervalMs int `yaml:"metrics_interval_ms"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	// 读取配置文件
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析 YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 设置默认值
	cfg.setDefaults()

	// 验证配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	// 应用默认值
	if c.App.Name == "" {
		c.App.Name = "pairs-zscore-trader"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	// 策略默认值
	if c.Strategy.LookbackWindow == 0 {
		c.Strategy.LookbackWindow = 20
	}
	if c.Strategy.ZEntry == 0 {
		c.Strategy.ZEntry = 2.0
	}
	if c.Strategy.ZExit == 0 {
		c.Strategy.ZExit = 0.5
	}
	if c.Strategy.CapitalDivisor == 0 {
		c.Strategy.CapitalDivisor = 10
	}

	// 券商默认值
	if c.Broker.Mode == "" {
		c.Broker.Mode = ModePaper
	}
	c.Broker.Mode = strings.ToUpper(c.Broker.Mode)
	if c.Broker.PaperBaseURL == "" {
		c.Broker.PaperBaseURL = "https://paper-api.alpaca.markets"
	}
	if c.Broker.RealBaseURL == "" {
		c.Broker.RealBaseURL = "https://api.alpaca.markets"
	}
	if c.Broker.TimeoutMs == 0 {
		c.Broker.TimeoutMs = 10000 // 10 秒
	}
	if c.Broker.RateLimitPerMin == 0 {
		c.Broker.RateLimitPerMin = 200
	}

	// 行情默认值
	if c.Data.BaseURL == "" {
		c.Data.BaseURL = "https://data.alpaca.markets"
	}
	if c.Data.StreamURL == "" {
		c.Data.StreamURL = "wss://stream.data.alpaca.markets/v2/iex"
	}
	if c.Data.Source == "" {
		c.Data.Source = SourceREST
	}
	if c.Data.PollIntervalMs == 0 {
		c.Data.PollIntervalMs = 60000 // 1 分钟
	}
	if c.Data.TimeoutMs == 0 {
		c.Data.TimeoutMs = 10000 // 10 秒
	}
	if c.Data.PingIntervalMs == 0 {
		c.Data.PingIntervalMs = 25000 // 25 秒
	}
	if c.Data.ReadTimeoutMs == 0 {
		c.Data.ReadTimeoutMs = 30000 // 30 秒
	}
	if c.Data.BufferSize == 0 {
		c.Data.BufferSize = 1000
	}

	// 回测默认值
	if c.Backtest.InitialCash == 0 {
		c.Backtest.InitialCash = 200000
	}
	if c.Backtest.SessionOpenUTC == "" {
		c.Backtest.SessionOpenUTC = "14:30"
	}
	if c.Backtest.SessionCloseUTC == "" {
		c.Backtest.SessionCloseUTC = "21:00"
	}

	// 输出默认值
	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.MetricsIntervalMs == 0 {
		c.Output.MetricsIntervalMs = 60000 // 60 秒
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围
// 返回: 若配置无效则返回描述性错误
func (c *Config) Validate() error {
	var errs []string

	// 验证交易对配置
	if len(c.Strategy.Pairs) == 0 {
		errs = append(errs, "strategy.pairs: 至少需要配置一个交易对")
	}
	for i, p := range c.Strategy.Pairs {
		if p.A == "" || p.B == "" {
			errs = append(errs, fmt.Sprintf("strategy.pairs[%d]: 两腿标的都不能为空", i))
			continue
		}
		if p.A == p.B {
			errs = append(errs, fmt.Sprintf("strategy.pairs[%d]: 两腿标的不能相同 '%s'", i, p.A))
		}
	}

	// 验证策略参数
	if c.Strategy.LookbackWindow < 2 {
		errs = append(errs, fmt.Sprintf("strategy.lookback_window: 回看窗口必须 >= 2，当前值: %d", c.Strategy.LookbackWindow))
	}
	if c.Strategy.ZEntry <= 0 {
		errs = append(errs, "strategy.z_entry: 入场阈值必须为正数")
	}
	if c.Strategy.ZExit < 0 {
		errs = append(errs, "strategy.z_exit: 出场阈值不能为负数")
	}
	if c.Strategy.ZExit >= c.Strategy.ZEntry {
		errs = append(errs, fmt.Sprintf("strategy.z_exit: 出场阈值必须小于入场阈值，当前 %f >= %f", c.Strategy.ZExit, c.Strategy.ZEntry))
	}
	if c.Strategy.CapitalDivisor <= 0 {
		errs = append(errs, "strategy.capital_divisor: 资金除数必须为正数")
	}

	// 验证券商配置
	if c.Broker.Mode != ModePaper && c.Broker.Mode != ModeReal {
		errs = append(errs, fmt.Sprintf("broker.mode: 账户模式必须为 PAPER 或 REAL，当前值: '%s'", c.Broker.Mode))
	}
	if c.Broker.TimeoutMs <= 0 {
		errs = append(errs, "broker.timeout_ms: 超时时间必须为正数")
	}
	if c.Broker.RateLimitPerMin <= 0 {
		errs = append(errs, "broker.rate_limit_per_min: 限速必须为正数")
	}

	// 验证行情配置
	if c.Data.Source != SourceREST && c.Data.Source != SourceStream {
		errs = append(errs, fmt.Sprintf("data.source: 取价方式必须为 rest 或 stream，当前值: '%s'", c.Data.Source))
	}
	if c.Data.PollIntervalMs <= 0 {
		errs = append(errs, "data.poll_interval_ms: 决策步间隔必须为正数")
	}

	// 验证回测配置
	if c.Backtest.InitialCash <= 0 {
		errs = append(errs, "backtest.initial_cash: 期初现金必须为正数")
	}
	openMin, err := parseClockUTC(c.Backtest.SessionOpenUTC)
	if err != nil {
		errs = append(errs, fmt.Sprintf("backtest.session_open_utc: %v", err))
	}
	closeMin, err := parseClockUTC(c.Backtest.SessionCloseUTC)
	if err != nil {
		errs = append(errs, fmt.Sprintf("backtest.session_close_utc: %v", err))
	} else if openMin >= 0 && openMin >= closeMin {
		errs = append(errs, fmt.Sprintf("backtest: 会话开始时间必须早于结束时间，当前 %s >= %s", c.Backtest.SessionOpenUTC, c.Backtest.SessionCloseUTC))
	}

	// 验证日志级别
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// parseClockUTC 解析 HH:MM 格式的时刻，返回当日分钟数
// 返回: 分钟数（0-1439），格式非法时返回 -1 和错误
func parseClockUTC(s string) (int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return -1, fmt.Errorf("时刻格式应为 HH:MM，当前值: '%s'", s)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return -1, fmt.Errorf("时刻超出范围，当前值: '%s'", s)
	}
	return hh*60 + mm, nil
}

// IsPaper 判断是否为模拟盘账户
func (b *BrokerConfig) IsPaper() bool {
	return b.Mode == ModePaper
}

// BaseURL 按账户模式返回交易 API 地址
func (b *BrokerConfig) BaseURL() string {
	if b.IsPaper() {
		return b.PaperBaseURL
	}
	return b.RealBaseURL
}

// Credentials 按账户模式从环境变量读取 API 凭证
// 模拟盘读 PAPER_API_KEY/PAPER_API_SECRET，实盘读 REAL_API_KEY/REAL_API_SECRET
// 返回: key、secret，缺失时返回错误
func (b *BrokerConfig) Credentials() (string, string, error) {
	keyVar, secretVar := "PAPER_API_KEY", "PAPER_API_SECRET"
	if !b.IsPaper() {
		keyVar, secretVar = "REAL_API_KEY", "REAL_API_SECRET"
	}
	key := os.Getenv(keyVar)
	secret := os.Getenv(secretVar)
	if key == "" || secret == "" {
		return "", "", fmt.Errorf("缺少 %s 账户的 API 凭证（环境变量 %s/%s）", b.Mode, keyVar, secretVar)
	}
	return key, secret, nil
}

// SessionMinutes 返回回测会话的起止时刻（当日 UTC 分钟数）
// 配置已通过验证时不会返回错误
func (c *BacktestConfig) SessionMinutes() (openMin int, closeMin int, err error) {
	openMin, err = parseClockUTC(c.SessionOpenUTC)
	if err != nil {
		return 0, 0, err
	}
	closeMin, err = parseClockUTC(c.SessionCloseUTC)
	if err != nil {
		return 0, 0, err
	}
	return openMin, closeMin, nil
}
