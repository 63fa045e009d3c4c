package exchange

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"kalshi-reversion-bot/internal/models"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// KalshiExchange 实现了 Exchange 接口，用于与真实的 Kalshi 交易所进行交互。
type KalshiExchange struct {
	keyID      string
	privateKey *rsa.PrivateKey
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	retryAttempts int
	retryDelay    time.Duration

	stream *marketStream
}

// NewKalshiExchange 创建一个新的 KalshiExchange 实例并加载签名私钥。
func NewKalshiExchange(cfg *models.Config, logger *zap.Logger) (*KalshiExchange, error) {
	pemData, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("读取私钥文件失败: %w", err)
	}
	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}

	return &KalshiExchange{
		keyID:         cfg.KeyID,
		privateKey:    key,
		baseURL:       cfg.APIBaseURL,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		logger:        logger,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    time.Duration(cfg.RetryInitialDelayMs) * time.Millisecond,
	}, nil
}

// parsePrivateKey 支持 PKCS1 与 PKCS8 两种 PEM 编码。
func parsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("PEM 数据为空或格式错误")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("私钥不是 RSA 类型")
	}
	return rsaKey, nil
}

// sign 对 timestamp+method+path 进行 RSA-PSS SHA256 签名，返回 base64 编码。
func (e *KalshiExchange) sign(timestampMs int64, method, path string) (string, error) {
	msg := strconv.FormatInt(timestampMs, 10) + method + path
	digest := sha256.Sum256([]byte(msg))
	sig, err := rsa.SignPSS(rand.Reader, e.privateKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// doRequest 是一个通用的请求处理函数，带有界超时与有界重试。
// 5xx 与网络错误会按指数退避重试；4xx 直接返回 API 错误。
func (e *KalshiExchange) doRequest(method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
	}

	delay := e.retryDelay
	var lastErr error
	for attempt := 0; attempt <= e.retryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}

		err := e.doOnce(method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err

		// API 层的 4xx 错误不可重试
		if apiErr, ok := err.(*models.APIError); ok && apiErr.Status < 500 {
			return err
		}
		e.logger.Warn("请求失败，准备重试",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return fmt.Errorf("请求在 %d 次尝试后仍然失败: %w", e.retryAttempts+1, lastErr)
}

func (e *KalshiExchange) doOnce(method, path string, payload []byte, out interface{}) error {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, e.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// 签名头：时间戳 + 方法 + 路径（不含查询参数）
	timestampMs := time.Now().UnixMilli()
	signPath := "/trade-api/v2" + stripQuery(path)
	signature, err := e.sign(timestampMs, method, signPath)
	if err != nil {
		return fmt.Errorf("请求签名失败: %w", err)
	}
	req.Header.Set("KALSHI-ACCESS-KEY", e.keyID)
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", strconv.FormatInt(timestampMs, 10))
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", signature)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("执行请求失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error models.APIError `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Code != "" {
			apiErr.Error.Status = resp.StatusCode
			return &apiErr.Error
		}
		return &models.APIError{
			Status:  resp.StatusCode,
			Code:    "http_error",
			Message: string(data),
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("解析响应失败: %w", err)
		}
	}
	return nil
}

func stripQuery(path string) string {
	for i := 0; i < len(path); i++ {
		if path[i] == '?' {
			return path[:i]
		}
	}
	return path
}

// newClientOrderID 生成幂等的客户端订单ID：uuid 字节经 base62 压缩。
func newClientOrderID() string {
	u := uuid.New()
	return "kmr-" + base62.EncodeToString(u[:])
}

// --- Exchange 接口实现 ---

// GetMarket 获取指定市场的快照，并把整数分价格转换为美元。
func (e *KalshiExchange) GetMarket(ticker string) (*models.MarketSnapshot, error) {
	// 优先使用 WebSocket 缓存中的新鲜报价，避免每个周期都打 REST
	if e.stream != nil {
		if snap, ok := e.stream.snapshot(ticker); ok {
			return snap, nil
		}
	}

	var resp models.MarketResponse
	if err := e.doRequest("GET", "/markets/"+ticker, nil, &resp); err != nil {
		return nil, err
	}
	m := resp.Market
	snap := &models.MarketSnapshot{
		Ticker:       m.Ticker,
		Title:        m.Title,
		LastPrice:    models.CentsToDollars(m.YesBid),
		YesBid:       models.CentsToDollars(m.YesBid),
		YesAsk:       models.CentsToDollars(m.YesAsk),
		OpenInterest: m.OpenInterest,
		Volume:       m.Volume,
		CloseTime:    m.CloseTime,
		Status:       m.Status,
	}
	if e.stream != nil {
		e.stream.seed(snap)
	}
	return snap, nil
}

// GetPositions 获取账户当前的全部市场持仓。
func (e *KalshiExchange) GetPositions() ([]models.MarketPosition, error) {
	var resp models.PositionsResponse
	if err := e.doRequest("GET", "/portfolio/positions", nil, &resp); err != nil {
		return nil, err
	}

	// 过滤掉没有持仓的条目
	var active []models.MarketPosition
	for _, p := range resp.MarketPositions {
		if p.Position != 0 {
			active = append(active, p)
		}
	}
	return active, nil
}

// GetBalance 获取账户可用余额，单位美元。
func (e *KalshiExchange) GetBalance() (float64, error) {
	var resp models.BalanceResponse
	if err := e.doRequest("GET", "/portfolio/balance", nil, &resp); err != nil {
		return 0, err
	}
	return models.CentsToDollars(resp.Balance), nil
}

// PlaceSell 以市价卖出 yes 方向的 count 张合约。
func (e *KalshiExchange) PlaceSell(ticker string, count int) (*models.FillResult, error) {
	req := map[string]interface{}{
		"ticker":          ticker,
		"action":          "sell",
		"side":            "yes",
		"type":            "market",
		"count":           count,
		"client_order_id": newClientOrderID(),
	}

	var resp models.OrderResponse
	if err := e.doRequest("POST", "/portfolio/orders", req, &resp); err != nil {
		return nil, err
	}

	o := resp.Order
	e.logger.Info("订单已提交",
		zap.String("ticker", ticker),
		zap.String("order_id", o.OrderID),
		zap.String("status", o.Status),
		zap.Int("count", count))

	return &models.FillResult{
		OrderID:   o.OrderID,
		Ticker:    ticker,
		Price:     models.CentsToDollars(o.YesPrice),
		Quantity:  count,
		Simulated: false,
		FilledAt:  time.Now(),
	}, nil
}

// StartMarketStream 建立 WebSocket ticker 订阅，为 GetMarket 提供新鲜报价缓存。
// 失败时机器人仍可只靠 REST 轮询工作，因此错误只记日志不致命。
func (e *KalshiExchange) StartMarketStream(wsURL string, tickers []string) {
	e.stream = newMarketStream(wsURL, tickers, e, e.logger)
	go e.stream.run()
}

// Close 释放底层连接资源。
func (e *KalshiExchange) Close() error {
	if e.stream != nil {
		e.stream.stop()
	}
	e.httpClient.CloseIdleConnections()
	return nil
}
