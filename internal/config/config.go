package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"kalshi-reversion-bot/internal/models"
)

// Load 从环境变量解析出完整的配置。
// 任何数值型变量解析失败都会立即返回错误，而不是静默使用默认值。
func Load() (*models.Config, error) {
	cfg := &models.Config{
		KeyID:          os.Getenv("KALSHI_KEY_ID"),
		PrivateKeyPath: getEnv("KALSHI_PRIVATE_KEY_PATH", "kalshi_key.pem"),
		APIBaseURL:     getEnv("KALSHI_API_URL", "https://api.elections.kalshi.com/trade-api/v2"),
		WSBaseURL:      getEnv("KALSHI_WS_URL", "wss://api.elections.kalshi.com/trade-api/ws/v2"),
		TradeLogFile:   getEnv("KALSHI_LOG_FILE", "trading_log.csv"),
		DBPath:         getEnv("DB_PATH", "data/bot_state"),
	}

	var err error
	if cfg.PaperTrading, err = getBool("PAPER_TRADING", false); err != nil {
		return nil, err
	}

	// 策略参数
	if cfg.WindowSize, err = getInt("MR_WINDOW", 15); err != nil {
		return nil, err
	}
	if cfg.Threshold, err = getFloat("MR_THRESHOLD", 5.0); err != nil {
		return nil, err
	}
	if cfg.MaxHold, err = getSeconds("MR_MAX_HOLD", time.Hour); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = getSeconds("MR_REFRESH", 2*time.Second); err != nil {
		return nil, err
	}

	// 市场过滤
	if cfg.MinOpenInterest, err = getInt64("MIN_OPEN_INTEREST", 100); err != nil {
		return nil, err
	}
	if cfg.MaxSpreadPct, err = getFloat("MAX_SPREAD_PCT", 10.0); err != nil {
		return nil, err
	}
	if cfg.MinVolume, err = getInt64("MIN_VOLUME", 100); err != nil {
		return nil, err
	}

	// 仓位计算
	if cfg.DynamicSizing, err = getBool("DYNAMIC_SIZING", false); err != nil {
		return nil, err
	}
	if cfg.BasePositionSize, err = getInt("BASE_POSITION_SIZE", 1); err != nil {
		return nil, err
	}
	if cfg.MaxPositionSize, err = getInt("MAX_POSITION_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.RiskPercent, err = getFloat("RISK_PERCENT", 1.0); err != nil {
		return nil, err
	}

	// 波动率调整
	if cfg.VolatilityAdjust, err = getBool("VOLATILITY_THRESHOLD", false); err != nil {
		return nil, err
	}
	if cfg.VolatilityMultiplier, err = getFloat("VOLATILITY_MULTIPLIER", 1.0); err != nil {
		return nil, err
	}
	if cfg.HoursBeforeClose, err = getFloat("HOURS_BEFORE_CLOSE", 1.0); err != nil {
		return nil, err
	}

	// 网络重试
	if cfg.RetryAttempts, err = getInt("RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.RetryInitialDelayMs, err = getInt("RETRY_INITIAL_DELAY_MS", 250); err != nil {
		return nil, err
	}

	// autosell
	if cfg.TakeProfitPct, err = getFloat("AS_TAKE_PROFIT", 10.0); err != nil {
		return nil, err
	}
	if cfg.StopLossPct, err = getFloat("AS_STOP_LOSS", 15.0); err != nil {
		return nil, err
	}
	if cfg.AutosellHold, err = getSeconds("AS_MAX_HOLD", 4*time.Hour); err != nil {
		return nil, err
	}

	// 日志切割参数（MaxSize 等）的缺省值由 logger 包补全
	cfg.LogConfig = models.LogConfig{
		Level:  getEnv("LOG_LEVEL", "info"),
		Output: getEnv("LOG_OUTPUT", "console"),
		File:   getEnv("LOG_FILE", "logs/bot.log"),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate 对解析后的配置做跨字段检查。
func validate(cfg *models.Config) error {
	if cfg.WindowSize < 2 {
		return fmt.Errorf("MR_WINDOW 必须 >= 2, 当前为 %d", cfg.WindowSize)
	}
	if cfg.Threshold <= 0 {
		return fmt.Errorf("MR_THRESHOLD 必须为正数, 当前为 %v", cfg.Threshold)
	}
	if cfg.RefreshInterval <= 0 {
		return fmt.Errorf("MR_REFRESH 必须为正数")
	}
	if cfg.BasePositionSize < 1 {
		return fmt.Errorf("BASE_POSITION_SIZE 必须 >= 1, 当前为 %d", cfg.BasePositionSize)
	}
	if cfg.MaxPositionSize < cfg.BasePositionSize {
		return fmt.Errorf("MAX_POSITION_SIZE (%d) 不能小于 BASE_POSITION_SIZE (%d)",
			cfg.MaxPositionSize, cfg.BasePositionSize)
	}
	if cfg.RiskPercent <= 0 || cfg.RiskPercent > 100 {
		return fmt.Errorf("RISK_PERCENT 必须在 (0, 100] 区间内, 当前为 %v", cfg.RiskPercent)
	}
	if !cfg.PaperTrading && cfg.KeyID == "" {
		return fmt.Errorf("实盘模式下必须设置 KALSHI_KEY_ID")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	switch value {
	case "1", "true", "yes":
		return true, nil
	case "0", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("环境变量 %s 的值 %q 不是合法的布尔值", key, value)
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("环境变量 %s 的值 %q 不是合法的整数: %w", key, value, err)
	}
	return i, nil
}

func getInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("环境变量 %s 的值 %q 不是合法的整数: %w", key, value, err)
	}
	return i, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("环境变量 %s 的值 %q 不是合法的数值: %w", key, value, err)
	}
	return f, nil
}

// getSeconds 解析以秒为单位的数值型环境变量。
func getSeconds(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("环境变量 %s 的值 %q 不是合法的秒数: %w", key, value, err)
	}
	if f <= 0 {
		return 0, fmt.Errorf("环境变量 %s 必须为正数, 当前为 %v", key, f)
	}
	return time.Duration(f * float64(time.Second)), nil
}
