package exchange

import "kalshi-reversion-bot/internal/models"

// Exchange 定义了机器人依赖的交易所能力。
// 这使得策略循环可以在实盘、纸面交易和测试替身之间切换。
type Exchange interface {
	// GetMarket 返回一个市场的当前快照，价格已转换为美元。
	GetMarket(ticker string) (*models.MarketSnapshot, error)
	// GetPositions 返回账户当前的全部市场持仓。
	GetPositions() ([]models.MarketPosition, error)
	// GetBalance 返回账户可用余额（美元）。
	GetBalance() (float64, error)
	// PlaceSell 以市价卖出 yes 方向的 count 张合约。
	PlaceSell(ticker string, count int) (*models.FillResult, error)
	// Close 释放底层连接资源。
	Close() error
}
