// Package tradelog 实现追加写入的交易审计日志 (CSV)。
// 每笔成交（真实或模拟）写一行，写入后立即刷盘，保证崩溃不会丢失已确认的成交记录。
package tradelog

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"kalshi-reversion-bot/internal/models"
)

// 固定列顺序，与既有日志文件保持兼容
var header = []string{"timestamp", "ticker", "side", "price", "quantity", "reason", "pnl", "simulated"}

// Logger 是追加式 CSV 审计日志。
type Logger struct {
	file   *os.File
	writer *csv.Writer
}

// Open 打开（必要时创建）审计日志文件。新文件会先写入表头。
func Open(path string) (*Logger, error) {
	info, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr) || (statErr == nil && info.Size() == 0)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("打开审计日志失败: %w", err)
	}

	l := &Logger{
		file:   file,
		writer: csv.NewWriter(file),
	}

	if isNew {
		if err := l.writer.Write(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("写入表头失败: %w", err)
		}
		if err := l.flush(); err != nil {
			file.Close()
			return nil, err
		}
	}
	return l, nil
}

// Append 写入一行交易记录并在返回前刷盘。
func (l *Logger) Append(entry models.TradeLogEntry) error {
	row := []string{
		entry.Timestamp.Format(time.RFC3339),
		entry.Ticker,
		entry.Side,
		strconv.FormatFloat(entry.Price, 'f', 2, 64),
		strconv.Itoa(entry.Quantity),
		entry.Reason,
		strconv.FormatFloat(entry.PnLPct, 'f', 1, 64),
		strconv.FormatBool(entry.Simulated),
	}
	if err := l.writer.Write(row); err != nil {
		return fmt.Errorf("写入交易记录失败: %w", err)
	}
	return l.flush()
}

// flush 把缓冲写到内核并 fsync 到磁盘。
func (l *Logger) flush() error {
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return fmt.Errorf("刷新交易记录失败: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("同步交易记录到磁盘失败: %w", err)
	}
	return nil
}

// Close 关闭底层文件。
func (l *Logger) Close() error {
	l.writer.Flush()
	return l.file.Close()
}
