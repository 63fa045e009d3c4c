package autosell

import (
	"fmt"
	"time"

	"kalshi-reversion-bot/internal/exchange"
	"kalshi-reversion-bot/internal/models"
	"kalshi-reversion-bot/internal/reporter"
	"kalshi-reversion-bot/internal/tradelog"

	"go.uber.org/zap"
)

// Manager 是一个不依赖价格窗口的简化持仓管理器：
// 对每个持仓只检查固定止盈、固定止损和最长持有时间三个条件。
// 与 median reversion 机器人共用交易所客户端和审计日志。
type Manager struct {
	cfg      *models.Config
	exchange exchange.Exchange
	trades   *tradelog.Logger
	logger   *zap.SugaredLogger

	// 入场时间只在内存中跟踪，进程重启后从首次发现时重新计时
	positions map[string]*models.Position

	sessionTrades []models.TradeLogEntry
	startTime     time.Time

	isRunning   bool
	stopChannel chan struct{}
	doneChannel chan struct{}

	now func() time.Time
}

// NewManager 创建一个 autosell 管理器。
func NewManager(cfg *models.Config, ex exchange.Exchange, trades *tradelog.Logger, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		cfg:         cfg,
		exchange:    ex,
		trades:      trades,
		logger:      logger,
		positions:   make(map[string]*models.Position),
		stopChannel: make(chan struct{}),
		doneChannel: make(chan struct{}),
		now:         time.Now,
	}
}

// Start 启动轮询循环。
func (m *Manager) Start() error {
	if m.isRunning {
		return fmt.Errorf("autosell 管理器已在运行")
	}
	m.isRunning = true
	m.startTime = m.now()
	go m.pollLoop()

	m.logger.Infof("autosell 管理器已启动, 止盈 %.2f%%, 止损 %.2f%%, 最长持有 %s",
		m.cfg.TakeProfitPct, m.cfg.StopLossPct, m.cfg.AutosellHold)
	return nil
}

// Stop 停止轮询循环并等待在途周期完成。
func (m *Manager) Stop() {
	if !m.isRunning {
		return
	}
	m.isRunning = false
	close(m.stopChannel)
	<-m.doneChannel

	reporter.GenerateReport(m.sessionTrades, m.startTime, m.now())
	m.logger.Info("autosell 管理器已停止")
}

func (m *Manager) pollLoop() {
	defer close(m.doneChannel)

	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChannel:
			return
		case <-ticker.C:
			m.runCycle()
		}
	}
}

func (m *Manager) runCycle() {
	positions, err := m.exchange.GetPositions()
	if err != nil {
		m.logger.Warnf("获取持仓失败，跳过本周期: %v", err)
		return
	}

	now := m.now()
	seen := make(map[string]bool, len(positions))

	for _, p := range positions {
		if p.Position <= 0 {
			continue
		}
		seen[p.Ticker] = true
		if err := m.checkPosition(&p, now); err != nil {
			m.logger.Warnf("处理市场 %s 失败: %v", p.Ticker, err)
		}
	}

	for ticker := range m.positions {
		if !seen[ticker] {
			m.logger.Infow("持仓已在外部关闭，停止跟踪", "ticker", ticker)
			delete(m.positions, ticker)
		}
	}
}

// checkPosition 对单个持仓依次检查时间、止盈、止损三个退出条件。
// 超时优先于盈亏条件，保证持有上限是硬约束。
func (m *Manager) checkPosition(p *models.MarketPosition, now time.Time) error {
	pos, tracked := m.positions[p.Ticker]
	if !tracked {
		pos = &models.Position{
			Ticker:     p.Ticker,
			EntryPrice: inferEntryPrice(p),
			Quantity:   int(p.Position),
			EntryTime:  now,
		}
		m.positions[p.Ticker] = pos
		m.logger.Infow("接管持仓", "ticker", p.Ticker,
			"entry", pos.EntryPrice, "quantity", pos.Quantity)
	}
	if int(p.Position) < pos.Quantity {
		pos.Quantity = int(p.Position)
	}

	snapshot, err := m.exchange.GetMarket(p.Ticker)
	if err != nil {
		return err
	}

	reason := m.exitReason(pos, snapshot.LastPrice, now)
	if reason == "" {
		return nil
	}
	return m.executeSell(pos, reason)
}

// exitReason 返回触发的退出原因，未触发时返回空串。
func (m *Manager) exitReason(pos *models.Position, currentPrice float64, now time.Time) string {
	if pos.HoldDuration(now) >= m.cfg.AutosellHold {
		return models.ReasonTimeStop
	}
	if pos.EntryPrice <= 0 {
		return ""
	}
	pnl := pos.PnLPct(currentPrice)
	if pnl >= m.cfg.TakeProfitPct {
		return models.ReasonTakeProfit
	}
	if pnl <= -m.cfg.StopLossPct {
		return models.ReasonStopLoss
	}
	return ""
}

func (m *Manager) executeSell(pos *models.Position, reason string) error {
	fill, err := m.exchange.PlaceSell(pos.Ticker, pos.Quantity)
	if err != nil {
		return err
	}

	entry := models.TradeLogEntry{
		Timestamp: fill.FilledAt,
		Ticker:    pos.Ticker,
		Side:      "sell",
		Price:     fill.Price,
		Quantity:  fill.Quantity,
		Reason:    reason,
		PnLPct:    pos.PnLPct(fill.Price),
		Simulated: fill.Simulated,
	}
	if err := m.trades.Append(entry); err != nil {
		m.logger.Errorw("审计日志写入失败", "ticker", pos.Ticker, "error", err)
	}
	m.sessionTrades = append(m.sessionTrades, entry)

	m.logger.Infow("卖出成交",
		"ticker", pos.Ticker,
		"price", fill.Price,
		"quantity", fill.Quantity,
		"reason", reason,
		"pnl_pct", entry.PnLPct,
		"simulated", fill.Simulated)

	pos.Quantity -= fill.Quantity
	if pos.Quantity <= 0 {
		delete(m.positions, pos.Ticker)
	}
	return nil
}

// inferEntryPrice 从持仓敞口推断平均入场价（美元）。
func inferEntryPrice(p *models.MarketPosition) float64 {
	if p.Position <= 0 {
		return 0
	}
	perShare := float64(p.MarketExposure) / float64(p.Position)
	if perShare > 1.0 {
		return perShare / 100.0
	}
	return perShare
}
