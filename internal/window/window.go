// Package window 维护每个市场的滚动价格窗口，并按需计算窗口统计量。
package window

import (
	"math"
	"sort"
)

// Stats 是一次窗口更新后得到的统计量。
type Stats struct {
	Median float64
	Mean   float64
	StdDev float64
	Count  int
}

// PriceWindow 保存最近 N 个观测价格，满员后按 FIFO 淘汰最旧样本。
// 仅由轮询循环单线程访问，无内部锁。
type PriceWindow struct {
	size   int
	prices []float64
}

// New 创建一个容量为 size 的窗口。size 必须 >= 2，由配置校验保证。
func New(size int) *PriceWindow {
	return &PriceWindow{
		size:   size,
		prices: make([]float64, 0, size),
	}
}

// Update 追加一个价格样本并返回最新统计量。
func (w *PriceWindow) Update(price float64) Stats {
	if len(w.prices) == w.size {
		copy(w.prices, w.prices[1:])
		w.prices = w.prices[:w.size-1]
	}
	w.prices = append(w.prices, price)
	return w.stats()
}

// Full 报告窗口是否已积累满 N 个样本。
// 未满时调用方不应产生任何交易决策（warming up，不是错误）。
func (w *PriceWindow) Full() bool {
	return len(w.prices) == w.size
}

// Len 返回当前样本数。
func (w *PriceWindow) Len() int {
	return len(w.prices)
}

// Prices 返回窗口内容的副本，从旧到新。
func (w *PriceWindow) Prices() []float64 {
	out := make([]float64, len(w.prices))
	copy(out, w.prices)
	return out
}

func (w *PriceWindow) stats() Stats {
	n := len(w.prices)
	if n == 0 {
		return Stats{}
	}

	sorted := make([]float64, n)
	copy(sorted, w.prices)
	sort.Float64s(sorted)

	// 标准中位数定义：偶数个样本取中间两值的平均
	var median float64
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	var sum float64
	for _, p := range w.prices {
		sum += p
	}
	mean := sum / float64(n)

	var variance float64
	for _, p := range w.prices {
		d := p - mean
		variance += d * d
	}
	variance /= float64(n)

	return Stats{
		Median: median,
		Mean:   mean,
		StdDev: math.Sqrt(variance),
		Count:  n,
	}
}
