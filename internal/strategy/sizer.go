package strategy

import (
	"math"

	"kalshi-reversion-bot/internal/models"
)

// volatilityEpsilon 是波动率的下限，防止波动率趋近于零时除法爆炸。
const volatilityEpsilon = 1e-6

// PositionSize 根据账户余额与近期波动率计算下单张数。
// 未启用动态仓位时恒返回 BasePositionSize。
// 返回值始终是 [BasePositionSize, MaxPositionSize] 内的正整数。
func PositionSize(accountBalance, volatility float64, cfg *models.Config) int {
	if !cfg.DynamicSizing {
		return cfg.BasePositionSize
	}

	riskBudget := accountBalance * cfg.RiskPercent / 100
	vol := math.Max(volatility, volatilityEpsilon)
	quantity := int(math.Round(riskBudget / vol))

	if quantity < cfg.BasePositionSize {
		return cfg.BasePositionSize
	}
	if quantity > cfg.MaxPositionSize {
		return cfg.MaxPositionSize
	}
	return quantity
}
