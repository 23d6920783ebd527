// Package positionmonitor implements the Position Monitor (spec §4.6): a
// pure-REST poll that keeps the position tracker synced to venue truth and
// watches for anomalous jumps. It deliberately does not consume the
// WebSocket fill stream — that feed drives the execution engine and tracker
// directly for UI freshness, but REST is the sole authority here (see
// Open Question 1 in the design notes: WS-primary was considered and
// rejected in favor of this simpler, harder-to-desync design).
package positionmonitor

import (
	"context"
	"sync"
	"time"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	maxConsecutiveFailures = 3
	initialPhaseDuration   = 60 * time.Second
	eventDedupWindow       = 5 * time.Second
	anomalyWarnRatio       = 1.0  // 100% change from baseline
	anomalyStopRatio       = 10.0 // >10x change from baseline
)

// AnomalyLevel classifies a position jump against the previous snapshot.
type AnomalyLevel int

const (
	AnomalyNone AnomalyLevel = iota
	AnomalyWarn
	AnomalyEmergencyStop
)

// Monitor polls GetPositions on a fixed interval, feeds the tracker, and
// raises anomalies when the position jumps implausibly between polls.
type Monitor struct {
	logger   core.ILogger
	exchange core.IExchange
	tracker  core.IPositionTracker
	symbol   string
	interval time.Duration

	onFailurePause func()
	onAnomaly      func(level AnomalyLevel, previous, current decimal.Decimal)
	spotReserve    *core.SpotReserve

	mu                 sync.Mutex
	consecutiveFailure int
	startedAt          time.Time
	lastSize           decimal.Decimal
	sticky             bool // a stop-level anomaly requires human clearance to lift
	orderAmount        decimal.Decimal
	lastEventQuery     time.Time

	dedup  singleflight.Group
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(
	logger core.ILogger,
	exchange core.IExchange,
	tracker core.IPositionTracker,
	symbol string,
	interval time.Duration,
	orderAmount decimal.Decimal,
	spotReserve *core.SpotReserve,
	onFailurePause func(),
	onAnomaly func(level AnomalyLevel, previous, current decimal.Decimal),
) *Monitor {
	return &Monitor{
		logger:         logger.WithField("component", "position_monitor"),
		exchange:       exchange,
		tracker:        tracker,
		symbol:         symbol,
		interval:       interval,
		orderAmount:    orderAmount,
		spotReserve:    spotReserve,
		onFailurePause: onFailurePause,
		onAnomaly:      onAnomaly,
	}
}

// Start begins polling. startedAt seeds the 60s initial-phase suppression
// window, and must be reset by the reset manager after every reset.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.startedAt = time.Now()
	m.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.loop(runCtx)
}

// ResetInitialPhase restarts the anomaly-suppression window, called by the
// reset manager once a rebuild completes.
func (m *Monitor) ResetInitialPhase() {
	m.mu.Lock()
	m.startedAt = time.Now()
	m.sticky = false
	m.mu.Unlock()
}

func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	interval := m.interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

func (m *Monitor) pollOnce(ctx context.Context) {
	positions, err := m.exchange.GetPositions(ctx, m.symbol)
	if err != nil {
		m.handleFailure(err)
		return
	}
	m.resetFailureCount()

	size, entry := netPositionFrom(positions, m.spotReserve, m.lastSize)
	m.checkAnomaly(size)

	m.mu.Lock()
	m.lastSize = size
	m.mu.Unlock()

	m.tracker.SyncInitialPosition(size, entry)
}

func netPositionFrom(positions []core.PositionData, reserve *core.SpotReserve, fallbackBaseline decimal.Decimal) (size, entry decimal.Decimal) {
	for _, p := range positions {
		s := p.Size
		if p.Side == core.PositionShort {
			s = s.Neg()
		}
		if reserve != nil && reserve.Enabled {
			// Spot mode: the venue reports gross base-currency balance, so
			// the reserved amount is netted out before comparing against a
			// derivative-style signed position.
			s = s.Sub(reserve.ReserveAmount)
		}
		size = size.Add(s)
		entry = p.EntryPrice
	}
	return size, entry
}

func (m *Monitor) handleFailure(err error) {
	m.mu.Lock()
	m.consecutiveFailure++
	n := m.consecutiveFailure
	m.mu.Unlock()

	m.logger.Warn("position poll failed", "error", err, "consecutive_failures", n)
	if n >= maxConsecutiveFailures && m.onFailurePause != nil {
		m.onFailurePause()
	}
}

func (m *Monitor) resetFailureCount() {
	m.mu.Lock()
	m.consecutiveFailure = 0
	m.mu.Unlock()
}

// checkAnomaly quantizes sub-order_amount changes to zero (too small to be
// meaningful against order_amount's own size), then classifies the jump.
// The initial 60s window after start/reset suppresses alarms so the
// reconciliation settling down from a fresh grid isn't mistaken for drift.
// A stop-level anomaly is sticky: it stays raised until a human clears it,
// even if a later poll looks normal again.
func (m *Monitor) checkAnomaly(current decimal.Decimal) {
	m.mu.Lock()
	inInitialPhase := time.Since(m.startedAt) < initialPhaseDuration
	previous := m.lastSize
	alreadySticky := m.sticky
	m.mu.Unlock()

	if alreadySticky {
		return
	}

	delta := current.Sub(previous).Abs()
	if delta.LessThan(m.orderAmount) {
		return
	}
	if inInitialPhase {
		return
	}

	var ratio decimal.Decimal
	if previous.IsZero() {
		ratio = decimal.NewFromInt(1) // any nonzero delta from a zero baseline reads as 100%+
	} else {
		ratio = delta.Div(previous.Abs())
	}

	f, _ := ratio.Float64()
	switch {
	case f > anomalyStopRatio:
		m.mu.Lock()
		m.sticky = true
		m.mu.Unlock()
		if m.onAnomaly != nil {
			m.onAnomaly(AnomalyEmergencyStop, previous, current)
		}
	case f >= anomalyWarnRatio:
		if m.onAnomaly != nil {
			m.onAnomaly(AnomalyWarn, previous, current)
		}
	}
}

// TriggerEventQuery requests an out-of-band position re-fetch in response to
// a fill event, deduplicating bursts within eventDedupWindow to one actual
// fetch via singleflight.
func (m *Monitor) TriggerEventQuery(ctx context.Context) {
	m.mu.Lock()
	if !m.lastEventQuery.IsZero() && time.Since(m.lastEventQuery) < eventDedupWindow {
		m.mu.Unlock()
		return
	}
	m.lastEventQuery = time.Now()
	m.mu.Unlock()

	_, _, _ = m.dedup.Do("event-query", func() (interface{}, error) {
		m.pollOnce(ctx)
		return nil, nil
	})
}

// ClearSticky lifts a sticky emergency-stop anomaly after human intervention.
func (m *Monitor) ClearSticky() {
	m.mu.Lock()
	m.sticky = false
	m.mu.Unlock()
}
