package bot

import (
	"fmt"
	"time"

	"kalshi-reversion-bot/internal/exchange"
	"kalshi-reversion-bot/internal/models"
	"kalshi-reversion-bot/internal/persistence"
	"kalshi-reversion-bot/internal/reporter"
	"kalshi-reversion-bot/internal/strategy"
	"kalshi-reversion-bot/internal/tradelog"
	"kalshi-reversion-bot/internal/window"

	"go.uber.org/zap"
)

// 仪表盘刷新的最小间隔，避免高频轮询时刷屏
const dashboardInterval = 30 * time.Second

// MedianReversionBot 是 median reversion 策略的核心轮询循环。
// 每个周期顺序扫描所有持仓市场；单个市场的失败不影响其他市场。
type MedianReversionBot struct {
	cfg      *models.Config
	exchange exchange.Exchange
	engine   *strategy.Engine
	trades   *tradelog.Logger
	repo     persistence.StateRepository // 可为 nil（禁用持久化）
	logger   *zap.SugaredLogger

	windows map[string]*window.PriceWindow
	state   *models.BotState

	sessionTrades []models.TradeLogEntry
	startTime     time.Time
	lastDashboard time.Time

	isRunning   bool
	stopChannel chan struct{}
	doneChannel chan struct{}

	// 可注入的时钟，测试用
	now func() time.Time
}

// NewMedianReversionBot 创建一个新的机器人实例。repo 传 nil 时不做持久化。
func NewMedianReversionBot(cfg *models.Config, ex exchange.Exchange, trades *tradelog.Logger, repo persistence.StateRepository, logger *zap.SugaredLogger) *MedianReversionBot {
	return &MedianReversionBot{
		cfg:         cfg,
		exchange:    ex,
		engine:      strategy.NewEngine(cfg),
		trades:      trades,
		repo:        repo,
		logger:      logger,
		windows:     make(map[string]*window.PriceWindow),
		state:       models.NewBotState("median-reversion"),
		stopChannel: make(chan struct{}),
		doneChannel: make(chan struct{}),
		now:         time.Now,
	}
}

// Start 恢复持久化状态并启动轮询循环。
func (b *MedianReversionBot) Start() error {
	if b.isRunning {
		return fmt.Errorf("机器人已在运行")
	}

	if b.repo != nil {
		saved, err := b.repo.LoadState()
		if err != nil {
			return fmt.Errorf("加载持久化状态失败: %w", err)
		}
		if saved != nil {
			b.state = saved
			b.logger.Infof("从数据库恢复了 %d 个持仓记录", len(saved.Positions))
		}
	}

	b.isRunning = true
	b.startTime = b.now()
	go b.pollLoop()

	b.logger.Infof("median reversion 机器人已启动, 轮询间隔 %s, 窗口大小 %d, 阈值 %.2f%%",
		b.cfg.RefreshInterval, b.cfg.WindowSize, b.cfg.Threshold)
	return nil
}

// Stop 停止轮询循环，等待在途周期完成后返回。
func (b *MedianReversionBot) Stop() {
	if !b.isRunning {
		return
	}
	b.isRunning = false
	close(b.stopChannel)
	<-b.doneChannel

	b.persist()
	reporter.GenerateReport(b.sessionTrades, b.startTime, b.now())
	b.logger.Info("median reversion 机器人已停止")
}

// SessionTrades 返回本次会话记录的全部成交。
func (b *MedianReversionBot) SessionTrades() []models.TradeLogEntry {
	out := make([]models.TradeLogEntry, len(b.sessionTrades))
	copy(out, b.sessionTrades)
	return out
}

// pollLoop 是机器人的主循环。所有策略状态只在这里被修改。
func (b *MedianReversionBot) pollLoop() {
	defer close(b.doneChannel)

	ticker := time.NewTicker(b.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChannel:
			return
		case <-ticker.C:
			b.runCycle()
		}
	}
}

// runCycle 执行一个轮询周期：拉取持仓，逐个市场更新窗口并评估决策。
func (b *MedianReversionBot) runCycle() {
	positions, err := b.exchange.GetPositions()
	if err != nil {
		// 无法枚举持仓时本周期整体跳过，下周期重试
		b.logger.Warnf("获取持仓失败，跳过本周期: %v", err)
		return
	}

	// 余额每周期取一次，供动态仓位计算使用；失败时降级为基础仓位
	balance, err := b.exchange.GetBalance()
	if err != nil {
		b.logger.Warnf("获取余额失败，动态仓位降级为基础仓位: %v", err)
		balance = 0
	}

	now := b.now()
	seen := make(map[string]bool, len(positions))
	var rows []reporter.PositionRow

	for _, p := range positions {
		if p.Position <= 0 {
			continue
		}
		seen[p.Ticker] = true

		row, err := b.processMarket(&p, balance, now)
		if err != nil {
			// 单个市场的失败不中断其余市场的处理
			b.logger.Warnf("处理市场 %s 失败: %v", p.Ticker, err)
			continue
		}
		if row != nil {
			rows = append(rows, *row)
		}
	}

	// 清理已不在交易所持仓列表中的市场（外部卖出或已结算）
	b.dropStaleMarkets(seen)

	if now.Sub(b.lastDashboard) >= dashboardInterval {
		reporter.RenderDashboard(rows)
		b.lastDashboard = now
	}
}

// processMarket 处理单个持仓市场的一个周期。
func (b *MedianReversionBot) processMarket(p *models.MarketPosition, balance float64, now time.Time) (*reporter.PositionRow, error) {
	snapshot, err := b.exchange.GetMarket(p.Ticker)
	if err != nil {
		return nil, err
	}

	pos, tracked := b.state.Positions[p.Ticker]
	if !tracked {
		// 新发现的持仓：通过入场保护后才接管跟踪
		if !b.engine.CanEnter(snapshot, now) {
			b.logger.Infow("跳过入场：市场不满足流动性或临近关盘",
				"ticker", p.Ticker, "decision", models.DecisionSkipEntry)
			return nil, nil
		}
		pos = &models.Position{
			Ticker:     p.Ticker,
			EntryPrice: inferEntryPrice(p),
			Quantity:   int(p.Position),
			EntryTime:  now,
		}
		b.state.Positions[p.Ticker] = pos
		b.windows[p.Ticker] = window.New(b.cfg.WindowSize)
		b.persist()
		b.logger.Infow("接管持仓", "ticker", p.Ticker,
			"entry", pos.EntryPrice, "quantity", pos.Quantity,
			"state", models.Holding)
	}

	// 持仓数量以交易所为准（可能有外部部分卖出）
	if int(p.Position) < pos.Quantity {
		pos.Quantity = int(p.Position)
	}

	w := b.windows[p.Ticker]
	if w == nil {
		w = window.New(b.cfg.WindowSize)
		b.windows[p.Ticker] = w
	}
	stats := w.Update(snapshot.LastPrice)

	decision := b.engine.EvaluateExit(pos, snapshot.LastPrice, stats, w.Full(), now)
	switch decision.Decision {
	case models.DecisionNone:
		b.logger.Debugw("窗口预热中", "ticker", p.Ticker,
			"samples", stats.Count, "window", b.cfg.WindowSize)
	case models.DecisionSell:
		if err := b.executeSell(pos, snapshot, stats, decision, balance); err != nil {
			// 订单被拒：持仓保留，下周期重试
			b.logger.Errorw("卖出失败，持仓保留待下周期重试",
				"ticker", p.Ticker, "error", err)
		}
	}

	// 已清仓的市场不再出现在仪表盘中
	pos, stillTracked := b.state.Positions[p.Ticker]
	if !stillTracked {
		return nil, nil
	}

	devPct := 0.0
	if stats.Median > 0 {
		devPct = (snapshot.LastPrice - stats.Median) / stats.Median * 100
	}
	return &reporter.PositionRow{
		Ticker:  p.Ticker,
		Entry:   pos.EntryPrice,
		Now:     snapshot.LastPrice,
		Median:  stats.Median,
		DevPct:  devPct,
		PnLPct:  pos.PnLPct(snapshot.LastPrice),
		HoldMin: pos.HoldDuration(now).Minutes(),
	}, nil
}

// executeSell 下达卖出订单，写审计日志，并在全部清仓后拆除跟踪状态。
// 审计行在返回前已落盘，循环推进到下一个市场时记录不会丢失。
func (b *MedianReversionBot) executeSell(pos *models.Position, snapshot *models.MarketSnapshot, stats window.Stats, decision strategy.ExitDecision, balance float64) error {
	quantity := b.sellQuantity(pos, stats, balance)
	b.logger.Infow("触发卖出", "ticker", pos.Ticker,
		"reason", decision.Reason, "quantity", quantity, "state", models.Exiting)

	fill, err := b.exchange.PlaceSell(pos.Ticker, quantity)
	if err != nil {
		return err
	}

	entry := models.TradeLogEntry{
		Timestamp: fill.FilledAt,
		Ticker:    pos.Ticker,
		Side:      "sell",
		Price:     fill.Price,
		Quantity:  fill.Quantity,
		Reason:    decision.Reason,
		PnLPct:    pos.PnLPct(fill.Price),
		Simulated: fill.Simulated,
	}
	if err := b.trades.Append(entry); err != nil {
		// 成交已经发生，审计写失败只能报错，不能回滚
		b.logger.Errorw("审计日志写入失败", "ticker", pos.Ticker, "error", err)
	}
	b.sessionTrades = append(b.sessionTrades, entry)

	b.logger.Infow("卖出成交",
		"ticker", pos.Ticker,
		"price", fill.Price,
		"quantity", fill.Quantity,
		"reason", decision.Reason,
		"pnl_pct", entry.PnLPct,
		"simulated", fill.Simulated,
		"median", decision.Median,
		"threshold_pct", decision.EffPct)

	pos.Quantity -= fill.Quantity
	if pos.Quantity <= 0 {
		delete(b.state.Positions, pos.Ticker)
		delete(b.windows, pos.Ticker)
	}
	b.persist()
	return nil
}

// sellQuantity 计算本次卖出的张数。
// 默认整仓卖出；启用动态仓位时按风险预算分批清仓，单笔不超过 MaxPositionSize。
func (b *MedianReversionBot) sellQuantity(pos *models.Position, stats window.Stats, balance float64) int {
	quantity := pos.Quantity
	if b.cfg.DynamicSizing {
		if tranche := strategy.PositionSize(balance, stats.StdDev, b.cfg); tranche < quantity {
			quantity = tranche
		}
	}
	if quantity > b.cfg.MaxPositionSize {
		quantity = b.cfg.MaxPositionSize
	}
	if quantity < 1 {
		quantity = 1
	}
	return quantity
}

// dropStaleMarkets 拆除已不在交易所持仓列表中的市场的跟踪状态。
func (b *MedianReversionBot) dropStaleMarkets(seen map[string]bool) {
	changed := false
	for ticker := range b.state.Positions {
		if !seen[ticker] {
			b.logger.Infow("持仓已在外部关闭，停止跟踪",
				"ticker", ticker, "state", models.NoPosition)
			delete(b.state.Positions, ticker)
			delete(b.windows, ticker)
			changed = true
		}
	}
	if changed {
		b.persist()
	}
}

// persist 把当前状态写入仓储。持久化失败不中断交易，只记错误。
func (b *MedianReversionBot) persist() {
	if b.repo == nil {
		return
	}
	b.state.LastUpdateTime = b.now()
	if err := b.repo.SaveState(b.state); err != nil {
		b.logger.Errorf("保存状态失败: %v", err)
	}
}

// inferEntryPrice 从交易所的持仓敞口推断平均入场价（美元）。
// market_exposure 以分计价；单张成本超过 1 时视为分，除以 100 归一到美元。
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
