package reporter

import (
	"fmt"
	"os"
	"time"

	"kalshi-reversion-bot/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
)

// PositionRow 是仪表盘中一个持仓市场的展示行。
type PositionRow struct {
	Ticker  string
	Entry   float64
	Now     float64
	Median  float64
	DevPct  float64
	PnLPct  float64
	HoldMin float64
}

// RenderDashboard 打印当前持仓仪表盘。
// 多行表格直接写标准输出，不经过结构化日志。
func RenderDashboard(rows []PositionRow) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Median Reversion Bot - Positions")
	t.AppendHeader(table.Row{"Ticker", "Entry", "Now", "Median", "Dev%", "PnL%", "Hold"})
	for _, r := range rows {
		t.AppendRow(table.Row{
			r.Ticker,
			fmt.Sprintf("$%.2f", r.Entry),
			fmt.Sprintf("$%.2f", r.Now),
			fmt.Sprintf("$%.2f", r.Median),
			fmt.Sprintf("%+.2f%%", r.DevPct),
			fmt.Sprintf("%+.1f%%", r.PnLPct),
			fmt.Sprintf("%.1fm", r.HoldMin),
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

// Metrics 存储一次运行会话的汇总指标
type Metrics struct {
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	WinRate         float64
	AvgPnLPct       float64
	SimulatedTrades int
	TimeStops       int
	Deviations      int
	StartTime       time.Time
	EndTime         time.Time
}

// GenerateReport 根据会话内记录的成交计算并打印总结报告。
func GenerateReport(trades []models.TradeLogEntry, startTime, endTime time.Time) {
	m := calculateMetrics(trades)
	m.StartTime = startTime
	m.EndTime = endTime

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Session Report")
	t.AppendRows([]table.Row{
		{"会话区间", fmt.Sprintf("%s - %s",
			m.StartTime.Format("2006-01-02 15:04"), m.EndTime.Format("2006-01-02 15:04"))},
		{"总成交次数", m.TotalTrades},
		{"盈利次数", m.WinningTrades},
		{"亏损次数", m.LosingTrades},
		{"胜率", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"平均收益", fmt.Sprintf("%+.2f%%", m.AvgPnLPct)},
		{"偏离出场", m.Deviations},
		{"时间止损出场", m.TimeStops},
		{"模拟成交", m.SimulatedTrades},
	})
	t.SetStyle(table.StyleLight)
	t.Render()
}

func calculateMetrics(trades []models.TradeLogEntry) *Metrics {
	m := &Metrics{TotalTrades: len(trades)}

	var totalPnL float64
	for _, trade := range trades {
		totalPnL += trade.PnLPct
		// 零收益的平局不计入任何一侧，避免拉低胜率
		switch {
		case trade.PnLPct > 0:
			m.WinningTrades++
		case trade.PnLPct < 0:
			m.LosingTrades++
		}
		if trade.Simulated {
			m.SimulatedTrades++
		}
		switch trade.Reason {
		case models.ReasonTimeStop:
			m.TimeStops++
		case models.ReasonDeviation:
			m.Deviations++
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
		m.AvgPnLPct = totalPnL / float64(m.TotalTrades)
	}
	return m
}
