package models

import (
	"fmt"
	"time"
)

// Config 结构体定义了机器人的所有配置参数。
// 所有参数均在启动时从环境变量解析一次，之后不可变。
type Config struct {
	KeyID          string // Kalshi API Key ID
	PrivateKeyPath string // RSA 私钥文件路径 (PEM)
	APIBaseURL     string // REST API 基础地址
	WSBaseURL      string // WebSocket 基础地址
	PaperTrading   bool   // 纸面交易模式：不向交易所发送真实订单

	// 策略参数 (median reversion)
	WindowSize      int           // 滚动窗口大小 N
	Threshold       float64       // 偏离阈值 MR_THRESHOLD (百分比)
	MaxHold         time.Duration // 最大持仓时间 MR_MAX_HOLD
	RefreshInterval time.Duration // 轮询间隔 MR_REFRESH

	// 市场过滤阈值
	MinOpenInterest int64   // 最小未平仓合约数
	MaxSpreadPct    float64 // 最大买卖价差百分比
	MinVolume       int64   // 最小成交量

	// 仓位计算参数
	DynamicSizing    bool    // 是否启用动态仓位
	BasePositionSize int     // 基础仓位数量 (合约张数)
	MaxPositionSize  int     // 最大仓位数量
	RiskPercent      float64 // 单笔风险占账户余额的百分比

	// 波动率调整
	VolatilityAdjust     bool    // 是否启用波动率调整阈值
	VolatilityMultiplier float64 // 波动率乘数

	// 入场保护
	HoursBeforeClose float64 // 距离市场关闭多少小时内禁止入场

	// 网络重试
	RetryAttempts       int // 请求失败时的重试次数
	RetryInitialDelayMs int // 重试前的初始延迟毫秒数

	// autosell 参数
	TakeProfitPct float64       // 止盈百分比
	StopLossPct   float64       // 止损百分比
	AutosellHold  time.Duration // autosell 最大持仓时间

	TradeLogFile string    // 交易审计日志 (CSV) 路径
	DBPath       string    // 状态数据库路径
	LogConfig    LogConfig // 日志配置
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string // 输出模式: "console", "file", "both"
	File       string // 日志文件路径
	MaxSize    int    // 单个日志文件的最大大小 (MB)
	MaxBackups int    // 保留的旧日志文件最大数量
	MaxAge     int    // 旧日志文件的最大保留天数
	Compress   bool   // 是否压缩旧日志文件
}

// MarketSnapshot 是单次轮询得到的市场快照，生命周期仅限当前轮询周期。
// 价格单位为美元（API 返回的分在 exchange 层转换）。
type MarketSnapshot struct {
	Ticker       string
	Title        string
	LastPrice    float64 // 取 yes 方向买一价作为当前价
	YesBid       float64
	YesAsk       float64
	OpenInterest int64
	Volume       int64
	CloseTime    time.Time
	Status       string
}

// Position 代表某个市场上的一个持仓。每个 ticker 至多一个。
type Position struct {
	Ticker     string    `json:"ticker"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   int       `json:"quantity"`
	EntryTime  time.Time `json:"entry_time"`
}

// HoldDuration 返回截至 now 的持仓时长。
func (p *Position) HoldDuration(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// PnLPct 返回以入场价为基准的收益百分比。
func (p *Position) PnLPct(currentPrice float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (currentPrice - p.EntryPrice) / p.EntryPrice * 100
}

// FillResult 是一次卖出请求的成交结果。
// 纸面成交与真实成交走同一条代码路径，仅 Simulated 字段不同。
type FillResult struct {
	OrderID   string
	Ticker    string
	Price     float64
	Quantity  int
	Simulated bool
	FilledAt  time.Time
}

// TradeLogEntry 是审计日志中的一行，一经写入不再修改。
type TradeLogEntry struct {
	Timestamp time.Time
	Ticker    string
	Side      string
	Price     float64
	Quantity  int
	Reason    string
	PnLPct    float64
	Simulated bool
}

// --- Kalshi API wire models ---

// KalshiMarket mirrors the market object returned by GET /markets/{ticker}.
// Prices are integer cents (0-100).
type KalshiMarket struct {
	Ticker       string    `json:"ticker"`
	Title        string    `json:"title"`
	Status       string    `json:"status"`
	YesBid       int64     `json:"yes_bid"`
	YesAsk       int64     `json:"yes_ask"`
	NoBid        int64     `json:"no_bid"`
	NoAsk        int64     `json:"no_ask"`
	LastPrice    int64     `json:"last_price"`
	Volume       int64     `json:"volume"`
	OpenInterest int64     `json:"open_interest"`
	CloseTime    time.Time `json:"close_time"`
}

// MarketResponse wraps a single market payload.
type MarketResponse struct {
	Market KalshiMarket `json:"market"`
}

// MarketPosition mirrors one entry of GET /portfolio/positions.
// MarketExposure is in cents.
type MarketPosition struct {
	Ticker         string `json:"ticker"`
	Position       int64  `json:"position"`
	MarketExposure int64  `json:"market_exposure"`
	TotalTraded    int64  `json:"total_traded"`
	RestingOrders  int64  `json:"resting_orders_count"`
}

// PositionsResponse wraps the portfolio positions payload.
type PositionsResponse struct {
	MarketPositions []MarketPosition `json:"market_positions"`
	Cursor          string           `json:"cursor"`
}

// BalanceResponse wraps GET /portfolio/balance. Balance is in cents.
type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// KalshiOrder mirrors the order object returned by POST /portfolio/orders.
type KalshiOrder struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Ticker        string `json:"ticker"`
	Action        string `json:"action"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	Count         int64  `json:"count"`
	YesPrice      int64  `json:"yes_price"`
}

// OrderResponse wraps a single order payload.
type OrderResponse struct {
	Order KalshiOrder `json:"order"`
}

// TickerMessage 是 WebSocket ticker 频道推送的消息负载。
type TickerMessage struct {
	MarketTicker string `json:"market_ticker"`
	YesBid       int64  `json:"yes_bid"`
	YesAsk       int64  `json:"yes_ask"`
	Price        int64  `json:"price"`
	Volume       int64  `json:"volume"`
	OpenInterest int64  `json:"open_interest"`
}

// APIError 定义了 Kalshi API 返回的错误信息结构
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

// Error 方法使得 APIError 实现了 error 接口
func (e *APIError) Error() string {
	return fmt.Sprintf("API Error: status=%d, code=%s, msg=%s", e.Status, e.Code, e.Message)
}

// CentsToDollars 将 API 的整数分价格转换为美元。
func CentsToDollars(cents int64) float64 {
	return float64(cents) / 100.0
}
