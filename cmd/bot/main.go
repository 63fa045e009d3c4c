package main

import (
	"os"
	"os/signal"
	"syscall"

	"kalshi-reversion-bot/internal/bot"
	"kalshi-reversion-bot/internal/config"
	"kalshi-reversion-bot/internal/exchange"
	"kalshi-reversion-bot/internal/logger"
	"kalshi-reversion-bot/internal/models"
	"kalshi-reversion-bot/internal/persistence"
	"kalshi-reversion-bot/internal/tradelog"

	"github.com/joho/godotenv"
)

func main() {
	// --- 初始化日志 (提前) ---
	// 为了在加载 .env 或配置时就能记录日志，先用默认配置初始化一次
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 从环境变量加载配置 ---
	cfg, err := config.Load()
	if err != nil {
		logger.S().Errorf("配置无效: %v", err)
		os.Exit(1)
	}

	// --- 使用配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	run(cfg)
}

func run(cfg *models.Config) {
	if cfg.PaperTrading {
		logger.S().Info("--- 启动 median reversion 机器人 (纸面交易模式) ---")
	} else {
		logger.S().Info("--- 启动 median reversion 机器人 (实盘模式) ---")
	}

	// 初始化交易所客户端
	kalshiExchange, err := exchange.NewKalshiExchange(cfg, logger.L())
	if err != nil {
		logger.S().Fatalf("初始化交易所失败: %v", err)
	}
	defer kalshiExchange.Close()

	var ex exchange.Exchange = kalshiExchange
	if cfg.PaperTrading {
		// 纸面模式：行情和持仓走真实接口，订单在本地模拟成交
		ex = exchange.NewPaperExchange(kalshiExchange, logger.L())
	}

	// 用当前持仓的 ticker 启动行情流；之后新发现的市场仍通过 REST 轮询取价
	if positions, err := ex.GetPositions(); err != nil {
		logger.S().Warnf("启动时获取持仓失败，行情流延后到首个轮询周期: %v", err)
	} else if len(positions) > 0 {
		tickers := make([]string, 0, len(positions))
		for _, p := range positions {
			tickers = append(tickers, p.Ticker)
		}
		kalshiExchange.StartMarketStream(cfg.WSBaseURL, tickers)
	}

	// 初始化状态仓储
	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("初始化状态数据库失败: %v", err)
	}
	defer repo.Close()

	// 初始化交易审计日志
	trades, err := tradelog.Open(cfg.TradeLogFile)
	if err != nil {
		logger.S().Fatalf("打开交易审计日志失败: %v", err)
	}
	defer trades.Close()

	reversionBot := bot.NewMedianReversionBot(cfg, ex, trades, repo, logger.S())
	if err := reversionBot.Start(); err != nil {
		logger.S().Fatalf("机器人启动失败: %v", err)
	}

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	reversionBot.Stop()
	logger.S().Info("机器人已成功停止，状态已保存。")
}
