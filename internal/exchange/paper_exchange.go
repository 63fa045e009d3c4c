package exchange

import (
	"fmt"
	"sync"
	"time"

	"kalshi-reversion-bot/internal/models"

	"go.uber.org/zap"
)

// PaperExchange 实现了 Exchange 接口，用于纸面交易。
// 市场数据与持仓查询透传给底层数据源，卖出请求在本地以最新买一价模拟成交，
// 不向交易所发送任何订单。成交结果带 Simulated=true，其余路径与实盘完全一致。
type PaperExchange struct {
	source Exchange
	logger *zap.Logger

	mu          sync.Mutex
	lastPrices  map[string]float64
	soldCount   map[string]int // ticker -> 已模拟卖出的张数
	nextOrderID int64
}

// NewPaperExchange 把一个真实数据源包装成纸面交易所。
func NewPaperExchange(source Exchange, logger *zap.Logger) *PaperExchange {
	return &PaperExchange{
		source:      source,
		logger:      logger,
		lastPrices:  make(map[string]float64),
		soldCount:   make(map[string]int),
		nextOrderID: 1,
	}
}

// GetMarket 透传快照查询并记录最新价格，供模拟成交定价使用。
func (e *PaperExchange) GetMarket(ticker string) (*models.MarketSnapshot, error) {
	snap, err := e.source.GetMarket(ticker)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.lastPrices[ticker] = snap.LastPrice
	e.mu.Unlock()
	return snap, nil
}

// GetPositions 透传持仓查询，但扣除本会话内已模拟卖出的数量，
// 避免同一持仓被反复"卖出"。
func (e *PaperExchange) GetPositions() ([]models.MarketPosition, error) {
	positions, err := e.source.GetPositions()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var out []models.MarketPosition
	for _, p := range positions {
		sold := int64(e.soldCount[p.Ticker])
		remaining := p.Position - sold
		if remaining <= 0 {
			continue
		}
		p.Position = remaining
		out = append(out, p)
	}
	return out, nil
}

// GetBalance 透传余额查询。
func (e *PaperExchange) GetBalance() (float64, error) {
	return e.source.GetBalance()
}

// PlaceSell 在本地以最近观测到的价格模拟成交，不接触交易所。
func (e *PaperExchange) PlaceSell(ticker string, count int) (*models.FillResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, ok := e.lastPrices[ticker]
	if !ok {
		return nil, fmt.Errorf("纸面成交失败: 尚未观测到 %s 的价格", ticker)
	}

	orderID := fmt.Sprintf("paper-%d", e.nextOrderID)
	e.nextOrderID++
	e.soldCount[ticker] += count

	e.logger.Info("模拟卖出成交",
		zap.String("ticker", ticker),
		zap.String("order_id", orderID),
		zap.Float64("price", price),
		zap.Int("count", count))

	return &models.FillResult{
		OrderID:   orderID,
		Ticker:    ticker,
		Price:     price,
		Quantity:  count,
		Simulated: true,
		FilledAt:  time.Now(),
	}, nil
}

// Close 释放底层数据源资源。
func (e *PaperExchange) Close() error {
	return e.source.Close()
}
