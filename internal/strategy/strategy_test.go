package strategy

import (
	"testing"
	"time"

	"kalshi-reversion-bot/internal/models"
	"kalshi-reversion-bot/internal/window"

	"github.com/stretchr/testify/assert"
)

func testConfig() *models.Config {
	return &models.Config{
		WindowSize:       15,
		Threshold:        5.0,
		MaxHold:          time.Hour,
		MinOpenInterest:  100,
		MaxSpreadPct:     10.0,
		MinVolume:        50,
		BasePositionSize: 1,
		MaxPositionSize:  10,
		RiskPercent:      2.0,
	}
}

func liquidSnapshot() *models.MarketSnapshot {
	return &models.MarketSnapshot{
		Ticker:       "KXTEST-26DEC31",
		LastPrice:    0.50,
		YesBid:       0.50,
		YesAsk:       0.52,
		OpenInterest: 1000,
		Volume:       500,
	}
}

// --- filter ---

func TestIsEligibleAllConditionsMet(t *testing.T) {
	assert.True(t, IsEligible(liquidSnapshot(), testConfig()))
}

// TestIsEligibleAndSemantics verifies that failing any single condition rejects the market.
func TestIsEligibleAndSemantics(t *testing.T) {
	cfg := testConfig()

	lowOI := liquidSnapshot()
	lowOI.OpenInterest = 99
	assert.False(t, IsEligible(lowOI, cfg), "open interest below minimum must reject")

	lowVol := liquidSnapshot()
	lowVol.Volume = 49
	assert.False(t, IsEligible(lowVol, cfg), "volume below minimum must reject")

	wide := liquidSnapshot()
	wide.YesBid = 0.40
	wide.YesAsk = 0.60
	assert.False(t, IsEligible(wide, cfg), "spread of 40%% must exceed the 10%% cap")
}

// TestIsEligibleZeroMid verifies that an uncomputable spread is treated as ineligible.
func TestIsEligibleZeroMid(t *testing.T) {
	s := liquidSnapshot()
	s.YesBid = 0
	s.YesAsk = 0
	assert.False(t, IsEligible(s, testConfig()))
}

// --- sizer ---

func TestPositionSizeStaticWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicSizing = false
	cfg.BasePositionSize = 3

	assert.Equal(t, 3, PositionSize(10000, 0.5, cfg))
}

func TestPositionSizeDynamic(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicSizing = true

	// risk budget = 100 * 2% = 2, volatility 0.4 -> 5 contracts
	assert.Equal(t, 5, PositionSize(100, 0.4, cfg))
}

// TestPositionSizeClamped verifies both bounds of the clamp.
func TestPositionSizeClamped(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicSizing = true
	cfg.BasePositionSize = 2
	cfg.MaxPositionSize = 8

	// Huge risk budget must be capped at the maximum.
	assert.Equal(t, 8, PositionSize(1e6, 0.1, cfg))

	// Tiny risk budget must still trade the base size.
	assert.Equal(t, 2, PositionSize(1, 10.0, cfg))
}

// TestPositionSizeZeroVolatility verifies the epsilon floor keeps the result finite.
func TestPositionSizeZeroVolatility(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicSizing = true

	got := PositionSize(100, 0, cfg)
	assert.GreaterOrEqual(t, got, cfg.BasePositionSize)
	assert.LessOrEqual(t, got, cfg.MaxPositionSize)
}

// --- engine ---

func holdingPosition(entry time.Time) *models.Position {
	return &models.Position{
		Ticker:     "KXTEST-26DEC31",
		EntryPrice: 0.50,
		Quantity:   5,
		EntryTime:  entry,
	}
}

func fullStats(median, stddev float64) window.Stats {
	return window.Stats{Median: median, StdDev: stddev, Mean: median, Count: 15}
}

// TestEvaluateExitWarmingUp verifies that no decision is produced before the window fills.
func TestEvaluateExitWarmingUp(t *testing.T) {
	e := NewEngine(testConfig())
	now := time.Now()
	pos := holdingPosition(now.Add(-2 * time.Hour)) // time stop long overdue

	d := e.EvaluateExit(pos, 0.99, fullStats(0.50, 0), false, now)
	assert.Equal(t, models.DecisionNone, d.Decision,
		"a partial window must not trigger any exit, not even the time stop")
}

// TestEvaluateExitDeviation verifies the sell trigger above the threshold band.
func TestEvaluateExitDeviation(t *testing.T) {
	e := NewEngine(testConfig())
	now := time.Now()
	pos := holdingPosition(now.Add(-10 * time.Minute))

	// median 0.50, threshold 5% -> boundary at 0.525
	d := e.EvaluateExit(pos, 0.5251, fullStats(0.50, 0), true, now)
	assert.Equal(t, models.DecisionSell, d.Decision)
	assert.Equal(t, models.ReasonDeviation, d.Reason)
}

// TestEvaluateExitBoundaryExclusive verifies that price exactly at the band holds.
func TestEvaluateExitBoundaryExclusive(t *testing.T) {
	e := NewEngine(testConfig())
	now := time.Now()
	pos := holdingPosition(now.Add(-10 * time.Minute))

	d := e.EvaluateExit(pos, 0.50*1.05, fullStats(0.50, 0), true, now)
	assert.Equal(t, models.DecisionHold, d.Decision,
		"price exactly at median*(1+threshold) must not trigger a sell")
}

// TestEvaluateExitTimeStop verifies the time stop fires at exactly MaxHold
// regardless of where the price sits.
func TestEvaluateExitTimeStop(t *testing.T) {
	e := NewEngine(testConfig())
	now := time.Now()
	pos := holdingPosition(now.Add(-time.Hour)) // held exactly MaxHold

	d := e.EvaluateExit(pos, 0.40, fullStats(0.50, 0), true, now)
	assert.Equal(t, models.DecisionSell, d.Decision)
	assert.Equal(t, models.ReasonTimeStop, d.Reason)
}

// TestEvaluateExitTimeStopWins verifies the tie-break when both conditions fire.
func TestEvaluateExitTimeStopWins(t *testing.T) {
	e := NewEngine(testConfig())
	now := time.Now()
	pos := holdingPosition(now.Add(-2 * time.Hour))

	// Price is far above the band AND the position is overdue.
	d := e.EvaluateExit(pos, 0.90, fullStats(0.50, 0), true, now)
	assert.Equal(t, models.DecisionSell, d.Decision)
	assert.Equal(t, models.ReasonTimeStop, d.Reason,
		"time stop must take precedence over deviation")
}

// TestEffectiveThresholdVolatilityAdjusted verifies the CV scaling.
func TestEffectiveThresholdVolatilityAdjusted(t *testing.T) {
	cfg := testConfig()
	cfg.VolatilityAdjust = true
	cfg.VolatilityMultiplier = 2.0
	e := NewEngine(cfg)

	// stddev/median = 0.10/0.50 = 0.2 -> 5 * (1 + 2*0.2) = 7
	assert.InDelta(t, 7.0, e.EffectiveThreshold(fullStats(0.50, 0.10)), 1e-9)

	// Disabled adjustment always returns the static threshold.
	cfg.VolatilityAdjust = false
	assert.Equal(t, 5.0, e.EffectiveThreshold(fullStats(0.50, 0.10)))
}

// TestCanEnterCloseGuard verifies the hours-before-close entry guard.
func TestCanEnterCloseGuard(t *testing.T) {
	cfg := testConfig()
	cfg.HoursBeforeClose = 2.0
	e := NewEngine(cfg)
	now := time.Now()

	soon := liquidSnapshot()
	soon.CloseTime = now.Add(90 * time.Minute)
	assert.False(t, e.CanEnter(soon, now), "a market closing within the guard must be skipped")

	later := liquidSnapshot()
	later.CloseTime = now.Add(3 * time.Hour)
	assert.True(t, e.CanEnter(later, now))

	// Missing close time on the snapshot only skips the guard, not the filter.
	unknown := liquidSnapshot()
	assert.True(t, e.CanEnter(unknown, now))
}

// TestCanEnterRequiresEligibility verifies that the liquidity filter gates entry.
func TestCanEnterRequiresEligibility(t *testing.T) {
	e := NewEngine(testConfig())

	illiquid := liquidSnapshot()
	illiquid.OpenInterest = 0
	assert.False(t, e.CanEnter(illiquid, time.Now()))
}
