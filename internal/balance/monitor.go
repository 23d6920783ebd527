// Package balance implements the Balance Monitor (spec §4.7): a REST poll
// (every 10s unless configured otherwise) that publishes a balance snapshot
// through onSnapshot after every successful poll; the coordinator seeds
// initial_capital from the first one. The monitor does not itself run a
// take-profit evaluation.
package balance

import (
	"context"
	"sync"
	"time"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

// Snapshot is the balance view consumed by mode managers and the reset
// manager's reinit_capital step.
type Snapshot struct {
	SpotBalance       decimal.Decimal
	CollateralBalance decimal.Decimal
	OrderLockedBalance decimal.Decimal
}

// Monitor polls GetBalances and derives a Snapshot from it.
type Monitor struct {
	logger   core.ILogger
	exchange core.IExchange
	symbol   string
	baseCcy  string
	quoteCcy string
	interval time.Duration

	onSnapshot func(Snapshot)

	mu       sync.Mutex
	seeded   bool
	priceFn  func(ctx context.Context) (decimal.Decimal, error)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(
	logger core.ILogger,
	exchange core.IExchange,
	symbol, baseCcy, quoteCcy string,
	interval time.Duration,
	priceFn func(ctx context.Context) (decimal.Decimal, error),
	onSnapshot func(Snapshot),
) *Monitor {
	return &Monitor{
		logger:     logger.WithField("component", "balance_monitor"),
		exchange:   exchange,
		symbol:     symbol,
		baseCcy:    baseCcy,
		quoteCcy:   quoteCcy,
		interval:   interval,
		priceFn:    priceFn,
		onSnapshot: onSnapshot,
	}
}

func (m *Monitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.loop(runCtx)
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
		interval = 10 * time.Second
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
	balances, err := m.exchange.GetBalances(ctx)
	if err != nil {
		m.logger.Warn("balance poll failed", "error", err)
		return
	}

	var quoteFree, baseFree decimal.Decimal
	var locked decimal.Decimal
	for _, b := range balances {
		switch b.Currency {
		case m.quoteCcy:
			quoteFree = b.Free
			locked = locked.Add(b.Used)
		case m.baseCcy:
			baseFree = b.Free
			locked = locked.Add(b.Used)
		}
	}

	price, err := m.priceFn(ctx)
	if err != nil {
		m.logger.Warn("price fetch for collateral valuation failed", "error", err)
		return
	}

	// Spot collateral values the base-currency leg (which may be negative
	// for a short) at the current price and adds it to free quote balance.
	collateral := quoteFree.Add(baseFree.Abs().Mul(price))

	snap := Snapshot{
		SpotBalance:        quoteFree,
		CollateralBalance:  collateral,
		OrderLockedBalance: locked,
	}

	m.mu.Lock()
	m.seeded = true
	m.mu.Unlock()

	if m.onSnapshot != nil {
		m.onSnapshot(snap)
	}
}

func (m *Monitor) Seeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seeded
}
