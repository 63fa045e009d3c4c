package strategy

import (
	"time"

	"kalshi-reversion-bot/internal/models"
	"kalshi-reversion-bot/internal/window"
)

// ExitDecision 是一次出场评估的结果。
type ExitDecision struct {
	Decision models.Decision
	Reason   string  // 卖出原因，仅在 Decision == SELL 时有意义
	Median   float64 // 评估时使用的窗口中位数
	EffPct   float64 // 实际生效的偏离阈值（可能经过波动率调整）
}

// Engine 是 median reversion 的决策引擎。
// 它本身无状态，所有输入都由调用方在单线程轮询循环中传入。
type Engine struct {
	cfg *models.Config
}

// NewEngine 创建一个决策引擎。
func NewEngine(cfg *models.Config) *Engine {
	return &Engine{cfg: cfg}
}

// EffectiveThreshold 返回本周期实际生效的偏离阈值（百分比）。
// 启用波动率调整时按窗口的变异系数 (stddev/median) 放大静态阈值。
func (e *Engine) EffectiveThreshold(stats window.Stats) float64 {
	if !e.cfg.VolatilityAdjust {
		return e.cfg.Threshold
	}
	normalizedVol := 0.0
	if stats.Median > 0 {
		normalizedVol = stats.StdDev / stats.Median
	}
	return e.cfg.Threshold * (1 + e.cfg.VolatilityMultiplier*normalizedVol)
}

// EvaluateExit 评估一个持仓是否应在本周期卖出。
//
// 约定的判定顺序：先检查时间止损，再检查中位数偏离。
// 两个条件同时满足时记录的原因是 time_stop，这是固定契约而非实现巧合。
// 窗口未满时不产生任何决策。
func (e *Engine) EvaluateExit(pos *models.Position, currentPrice float64, stats window.Stats, full bool, now time.Time) ExitDecision {
	if !full {
		return ExitDecision{Decision: models.DecisionNone}
	}

	effPct := e.EffectiveThreshold(stats)
	d := ExitDecision{
		Decision: models.DecisionHold,
		Median:   stats.Median,
		EffPct:   effPct,
	}

	if pos.HoldDuration(now) >= e.cfg.MaxHold {
		d.Decision = models.DecisionSell
		d.Reason = models.ReasonTimeStop
		return d
	}

	// 严格大于：价格恰好等于 median*(1+threshold/100) 时不触发
	if stats.Median > 0 && currentPrice > stats.Median*(1+effPct/100) {
		d.Decision = models.DecisionSell
		d.Reason = models.ReasonDeviation
	}
	return d
}

// CanEnter 判断一个尚未跟踪的市场当前是否允许建仓/接管持仓。
// 要求市场通过流动性过滤，且距离关盘时间大于 HoursBeforeClose（入场保护）。
func (e *Engine) CanEnter(snapshot *models.MarketSnapshot, now time.Time) bool {
	if !IsEligible(snapshot, e.cfg) {
		return false
	}
	if snapshot.CloseTime.IsZero() {
		return true
	}
	guard := time.Duration(e.cfg.HoursBeforeClose * float64(time.Hour))
	return snapshot.CloseTime.Sub(now) > guard
}
