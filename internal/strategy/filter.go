// Package strategy 实现 median reversion 策略的市场过滤、仓位计算与出入场决策。
package strategy

import "kalshi-reversion-bot/internal/models"

// IsEligible 判断一个市场是否满足交易的流动性条件。
// 三个条件为 AND 关系：未平仓量、价差百分比、成交量。
// 中间价为零（无法计算价差）视为不合格，而不是错误。
func IsEligible(snapshot *models.MarketSnapshot, cfg *models.Config) bool {
	if snapshot.OpenInterest < cfg.MinOpenInterest {
		return false
	}
	if snapshot.Volume < cfg.MinVolume {
		return false
	}

	mid := (snapshot.YesBid + snapshot.YesAsk) / 2
	if mid <= 0 {
		return false
	}
	spreadPct := (snapshot.YesAsk - snapshot.YesBid) / mid * 100
	return spreadPct <= cfg.MaxSpreadPct
}
