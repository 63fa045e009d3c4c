package main

import (
	"os"
	"os/signal"
	"syscall"

	"kalshi-reversion-bot/internal/autosell"
	"kalshi-reversion-bot/internal/config"
	"kalshi-reversion-bot/internal/exchange"
	"kalshi-reversion-bot/internal/logger"
	"kalshi-reversion-bot/internal/models"
	"kalshi-reversion-bot/internal/tradelog"

	"github.com/joho/godotenv"
)

func main() {
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.S().Errorf("配置无效: %v", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	if cfg.PaperTrading {
		logger.S().Info("--- 启动 autosell 管理器 (纸面交易模式) ---")
	} else {
		logger.S().Info("--- 启动 autosell 管理器 (实盘模式) ---")
	}

	kalshiExchange, err := exchange.NewKalshiExchange(cfg, logger.L())
	if err != nil {
		logger.S().Fatalf("初始化交易所失败: %v", err)
	}
	defer kalshiExchange.Close()

	var ex exchange.Exchange = kalshiExchange
	if cfg.PaperTrading {
		ex = exchange.NewPaperExchange(kalshiExchange, logger.L())
	}

	trades, err := tradelog.Open(cfg.TradeLogFile)
	if err != nil {
		logger.S().Fatalf("打开交易审计日志失败: %v", err)
	}
	defer trades.Close()

	manager := autosell.NewManager(cfg, ex, trades, logger.S())
	if err := manager.Start(); err != nil {
		logger.S().Fatalf("autosell 管理器启动失败: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	manager.Stop()
	logger.S().Info("autosell 管理器已成功停止。")
}
