package exchange

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"kalshi-reversion-bot/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // 必须小于 pongWait

	// 缓存中的报价超过该时长视为过期，回退到 REST
	quoteStaleness = 15 * time.Second
)

// marketStream 维护一条到 Kalshi ticker 频道的 WebSocket 连接，
// 把推送的报价合并进按 ticker 缓存的市场快照。
// 它只写自己的缓存，策略状态完全不经过这里。
type marketStream struct {
	wsURL    string
	tickers  []string
	exchange *KalshiExchange
	logger   *zap.Logger

	mu        sync.RWMutex
	snapshots map[string]*models.MarketSnapshot
	updatedAt map[string]time.Time
	conn      *websocket.Conn // 当前活动连接，stop 时需要立即关闭

	stopChannel chan struct{}
	stopOnce    sync.Once
}

func newMarketStream(wsURL string, tickers []string, e *KalshiExchange, logger *zap.Logger) *marketStream {
	return &marketStream{
		wsURL:       wsURL,
		tickers:     tickers,
		exchange:    e,
		logger:      logger,
		snapshots:   make(map[string]*models.MarketSnapshot),
		updatedAt:   make(map[string]time.Time),
		stopChannel: make(chan struct{}),
	}
}

// seed 用 REST 快照初始化/刷新缓存条目，后续 WS 推送在其上增量更新。
func (s *marketStream) seed(snap *models.MarketSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cpy := *snap
	s.snapshots[snap.Ticker] = &cpy
	s.updatedAt[snap.Ticker] = time.Now()
}

// snapshot 返回缓存中足够新鲜的快照副本。
func (s *marketStream) snapshot(ticker string) (*models.MarketSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[ticker]
	if !ok || time.Since(s.updatedAt[ticker]) > quoteStaleness {
		return nil, false
	}
	cpy := *snap
	return &cpy, true
}

// run 是守护循环，负责维持连接和重连。
func (s *marketStream) run() {
	for {
		select {
		case <-s.stopChannel:
			s.logger.Info("市场数据流已停止")
			return
		default:
			conn, err := s.connect()
			if err != nil {
				s.logger.Warn("WebSocket连接失败，5秒后重试", zap.Error(err))
				time.Sleep(5 * time.Second)
				continue
			}
			s.logger.Info("WebSocket连接成功", zap.Int("tickers", len(s.tickers)))
			s.setConn(conn)

			// handleMessages 会阻塞直到连接断开
			if err := s.handleMessages(conn); err != nil {
				s.logger.Warn("WebSocket处理时发生错误", zap.Error(err))
			}
			s.setConn(nil)
			conn.Close()

			select {
			case <-s.stopChannel:
				return
			default:
				s.logger.Info("WebSocket连接已断开，准备重连...")
				time.Sleep(5 * time.Second)
			}
		}
	}
}

// stop 关闭守护循环，并同时关闭活动连接，
// 让阻塞在 ReadMessage 上的 goroutine 立即返回而不是等到读超时。
func (s *marketStream) stop() {
	s.stopOnce.Do(func() {
		close(s.stopChannel)
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
	})
}

func (s *marketStream) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if conn == nil {
		return
	}
	// stop 和 connect 可能交错：连接在 stop 之后才建立时就地关闭
	select {
	case <-s.stopChannel:
		conn.Close()
	default:
	}
}

// connect 建立带签名头的连接并发送订阅命令。
func (s *marketStream) connect() (*websocket.Conn, error) {
	header := http.Header{}
	timestampMs := time.Now().UnixMilli()
	signature, err := s.exchange.sign(timestampMs, "GET", "/trade-api/ws/v2")
	if err != nil {
		return nil, err
	}
	header.Set("KALSHI-ACCESS-KEY", s.exchange.keyID)
	header.Set("KALSHI-ACCESS-TIMESTAMP", strconv.FormatInt(timestampMs, 10))
	header.Set("KALSHI-ACCESS-SIGNATURE", signature)

	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, header)
	if err != nil {
		return nil, err
	}

	sub := map[string]interface{}{
		"id":  1,
		"cmd": "subscribe",
		"params": map[string]interface{}{
			"channels":       []string{"ticker"},
			"market_tickers": s.tickers,
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// handleMessages 为一个已建立的连接处理消息，并实现心跳机制。
func (s *marketStream) handleMessages(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	pingStop := make(chan struct{})
	defer close(pingStop)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-s.stopChannel:
				return
			}
		}
	}()

	for {
		select {
		case <-s.stopChannel:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				return err
			}

			var envelope struct {
				Type string               `json:"type"`
				Msg  models.TickerMessage `json:"msg"`
			}
			if err := json.Unmarshal(message, &envelope); err != nil {
				s.logger.Warn("解析WS消息失败", zap.Error(err))
				continue
			}
			if envelope.Type != "ticker" || envelope.Msg.MarketTicker == "" {
				continue
			}
			s.applyTicker(&envelope.Msg)
		}
	}
}

// applyTicker 把一条 ticker 推送合并进缓存的快照。
// 只有 seed 过的市场才会更新：WS 消息不携带 close_time 等静态字段。
func (s *marketStream) applyTicker(msg *models.TickerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[msg.MarketTicker]
	if !ok {
		return
	}
	snap.YesBid = models.CentsToDollars(msg.YesBid)
	snap.YesAsk = models.CentsToDollars(msg.YesAsk)
	snap.LastPrice = models.CentsToDollars(msg.YesBid)
	if msg.Volume > 0 {
		snap.Volume = msg.Volume
	}
	if msg.OpenInterest > 0 {
		snap.OpenInterest = msg.OpenInterest
	}
	s.updatedAt[msg.MarketTicker] = time.Now()
}
