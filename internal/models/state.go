package models

import "time"

// PositionState 定义了决策引擎中单个市场的状态机状态
type PositionState string

const (
	NoPosition PositionState = "NO_POSITION"
	Holding    PositionState = "HOLDING"
	Exiting    PositionState = "EXITING"
)

// Decision 是决策引擎对一个市场在一个周期内给出的结论
type Decision string

const (
	DecisionHold      Decision = "HOLD"
	DecisionSell      Decision = "SELL"
	DecisionSkipEntry Decision = "SKIP_ENTRY"
	// DecisionNone 表示窗口尚未积累足够样本，本周期不产生决策
	DecisionNone Decision = "NONE"
)

// 卖出原因，写入审计日志的 reason 列
const (
	ReasonDeviation  = "deviation"
	ReasonTimeStop   = "time_stop"
	ReasonTakeProfit = "take_profit"
	ReasonStopLoss   = "stop_loss"
)

// BotState 定义了需要持久化的所有关键数据。
// 仅包含重启后无法从交易所恢复的内容：各市场的入场时间与入场价。
type BotState struct {
	BotID          string               `json:"bot_id"`           // Bot 的唯一标识符
	Version        int                  `json:"version"`          // 状态模型的版本号，用于未来迁移
	Positions      map[string]*Position `json:"positions"`        // ticker -> 持仓记录
	LastUpdateTime time.Time            `json:"last_update_time"` // 状态最后更新的时间戳
}

// NewBotState 返回一个空的初始状态。
func NewBotState(botID string) *BotState {
	return &BotState{
		BotID:     botID,
		Version:   1,
		Positions: make(map[string]*Position),
	}
}
