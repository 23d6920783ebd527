package execution

import (
	"context"
	"sync"
	"time"

	"gridbot/internal/core"
	"gridbot/pkg/retry"
)

// smartMonitor decides whether fill delivery should be trusted from the
// venue's WebSocket user-data stream or from a REST open-orders poll,
// switching between the two on silence (§4.4 "smart monitor").
type smartMonitor struct {
	logger   core.ILogger
	exchange core.IExchange
	symbol   string
	deliverUpstream func(core.OrderUpdate)

	mu          sync.Mutex
	subscribers []func(core.OrderUpdate)
	lastWSBeat  time.Time
	usingREST   bool
	knownOpen   map[int64]core.OrderData

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSmartMonitor(logger core.ILogger, exchange core.IExchange, symbol string, deliverUpstream func(core.OrderUpdate)) *smartMonitor {
	return &smartMonitor{
		logger:          logger.WithField("component", "smart_monitor"),
		exchange:        exchange,
		symbol:          symbol,
		deliverUpstream: deliverUpstream,
		knownOpen:       make(map[int64]core.OrderData),
	}
}

func (m *smartMonitor) subscribe(cb func(core.OrderUpdate)) {
	m.mu.Lock()
	m.subscribers = append(m.subscribers, cb)
	m.mu.Unlock()
}

// deliver fans an observed update out to every subscriber; it keeps no
// record of the update.
func (m *smartMonitor) deliver(u core.OrderUpdate) {
	m.mu.Lock()
	subs := append([]func(core.OrderUpdate){}, m.subscribers...)
	m.mu.Unlock()
	for _, cb := range subs {
		cb(u)
	}
}

// Start subscribes to the venue's user-data stream and launches the
// REST-fallback watchdog. Venues with no heartbeat concept (SubscribeUserData
// returning ErrUnsupported) run REST-only from the start.
func (m *smartMonitor) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	err := m.exchange.SubscribeUserData(runCtx, func(u core.OrderUpdate) {
		m.mu.Lock()
		m.lastWSBeat = time.Now()
		m.usingREST = false
		m.mu.Unlock()
		m.deliverUpstream(u)
	})
	if err != nil {
		m.logger.Warn("venue does not support a user-data stream, running REST-only", "error", err)
		m.mu.Lock()
		m.usingREST = true
		m.mu.Unlock()
	} else {
		m.mu.Lock()
		m.lastWSBeat = time.Now()
		m.mu.Unlock()
	}

	m.wg.Add(1)
	go m.watchdogLoop(runCtx)
	return nil
}

// watchdogLoop flips to REST polling after wsHeartbeatTimeout of silence and
// attempts to resubscribe to the WS stream every restFallbackRecheck while
// degraded.
func (m *smartMonitor) watchdogLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	lastResubscribeAttempt := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			silent := time.Since(m.lastWSBeat) > wsHeartbeatTimeout
			degraded := m.usingREST
			if silent && !degraded {
				m.usingREST = true
				degraded = true
				m.logger.Warn("WS heartbeat timed out, falling back to REST polling")
			}
			m.mu.Unlock()

			if !degraded {
				continue
			}
			m.pollOnce(ctx)

			if time.Since(lastResubscribeAttempt) > restFallbackRecheck {
				lastResubscribeAttempt = time.Now()
				m.attemptResubscribe(ctx)
			}
			time.Sleep(restFallbackPoll)
		}
	}
}

// attemptResubscribe retries the single SubscribeUserData call a few times
// with backoff before giving up for this cycle; the watchdog loop is what
// keeps trying indefinitely, this just absorbs transient hiccups (a dropped
// dial, a momentary auth hiccup) within one attempt rather than waiting a
// full restFallbackRecheck for each one.
func (m *smartMonitor) attemptResubscribe(ctx context.Context) {
	err := retry.Do(ctx, retry.DefaultPolicy, func(e error) bool {
		return e != core.ErrUnsupported
	}, func() error {
		return m.exchange.SubscribeUserData(ctx, func(u core.OrderUpdate) {
			m.mu.Lock()
			m.lastWSBeat = time.Now()
			m.usingREST = false
			m.mu.Unlock()
			m.deliverUpstream(u)
		})
	})
	if err == nil {
		m.mu.Lock()
		m.lastWSBeat = time.Now()
		m.usingREST = false
		m.mu.Unlock()
		m.logger.Info("WS stream recovered, resuming WS-primary delivery")
	}
}

// pollOnce diffs the venue's open-order set against the last known set and
// synthesizes OrderUpdate deliveries for anything that changed state.
func (m *smartMonitor) pollOnce(ctx context.Context) {
	open, err := m.exchange.GetOpenOrders(ctx, m.symbol)
	if err != nil {
		m.logger.Warn("REST fallback poll failed", "error", err)
		return
	}
	current := make(map[int64]core.OrderData, len(open))
	for _, o := range open {
		current[o.ID] = o
	}

	m.mu.Lock()
	previous := m.knownOpen
	m.knownOpen = current
	m.mu.Unlock()

	for id, prev := range previous {
		if _, stillOpen := current[id]; !stillOpen {
			m.deliverUpstream(core.OrderUpdate{
				OrderID:  id,
				ClientID: prev.ClientID,
				Status:   core.OrderFilled,
				Price:    prev.Price,
				Amount:   prev.Amount,
				Symbol:   m.symbol,
			})
		}
	}
}

func (m *smartMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
