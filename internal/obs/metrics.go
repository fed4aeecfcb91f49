// Package obs collects lightweight counters and latency stats for the
// trading loops. Everything is atomic; nothing here takes a lock.
package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects per-process counters.
type Metrics struct {
	feedMessages    uint64
	bookUpdates     uint64
	feedGaps        uint64
	resyncs         uint64
	trades          uint64
	ordersSubmitted uint64
	riskRejects     uint64
	illegalReports  uint64
	sessionDrops    uint64
	queueDrops      uint64

	bookApplyLatency LatencyStats
	strategyLatency  LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	FeedMessages    uint64
	BookUpdates     uint64
	FeedGaps        uint64
	Resyncs         uint64
	Trades          uint64
	OrdersSubmitted uint64
	RiskRejects     uint64
	IllegalReports  uint64
	SessionDrops    uint64
	QueueDrops      uint64

	BookApplyLatency LatencySnapshot
	StrategyLatency  LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncFeedMessage counts one decoded feed message.
func (m *Metrics) IncFeedMessage() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.feedMessages, 1)
}

// IncBookUpdate counts one successful book apply.
func (m *Metrics) IncBookUpdate() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.bookUpdates, 1)
}

// IncFeedGap counts one detected feed sequence gap.
func (m *Metrics) IncFeedGap() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.feedGaps, 1)
}

// IncResync counts one snapshot-triggered resynchronization.
func (m *Metrics) IncResync() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.resyncs, 1)
}

// IncTrade counts one match print.
func (m *Metrics) IncTrade() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.trades, 1)
}

// IncOrderSubmitted counts one order that passed risk and was sent.
func (m *Metrics) IncOrderSubmitted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersSubmitted, 1)
}

// IncRiskReject counts one locally rejected intent.
func (m *Metrics) IncRiskReject() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.riskRejects, 1)
}

// IncIllegalReport counts one dropped illegal execution report.
func (m *Metrics) IncIllegalReport() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.illegalReports, 1)
}

// IncSessionDrop counts one session transport failure.
func (m *Metrics) IncSessionDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.sessionDrops, 1)
}

// IncQueueDrop counts one event discarded on a full queue.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// ObserveBookApply records one book apply duration.
func (m *Metrics) ObserveBookApply(d time.Duration) {
	if m == nil {
		return
	}
	m.bookApplyLatency.Observe(d)
}

// ObserveStrategyEval records one strategy evaluation duration.
func (m *Metrics) ObserveStrategyEval(d time.Duration) {
	if m == nil {
		return
	}
	m.strategyLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		FeedMessages:    atomic.LoadUint64(&m.feedMessages),
		BookUpdates:     atomic.LoadUint64(&m.bookUpdates),
		FeedGaps:        atomic.LoadUint64(&m.feedGaps),
		Resyncs:         atomic.LoadUint64(&m.resyncs),
		Trades:          atomic.LoadUint64(&m.trades),
		OrdersSubmitted: atomic.LoadUint64(&m.ordersSubmitted),
		RiskRejects:     atomic.LoadUint64(&m.riskRejects),
		IllegalReports:  atomic.LoadUint64(&m.illegalReports),
		SessionDrops:    atomic.LoadUint64(&m.sessionDrops),
		QueueDrops:      atomic.LoadUint64(&m.queueDrops),

		BookApplyLatency: m.bookApplyLatency.Snapshot(),
		StrategyLatency:  m.strategyLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
