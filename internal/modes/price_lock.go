package modes

import (
	"context"
	"sync"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

// PriceLock arms when price crosses price_lock_threshold in the adverse
// direction. While armed it suppresses new order placement — the coordinator
// checks IsActive before posting reverse orders — and unlocks once price
// retreats back inside the configured corridor.
type PriceLock struct {
	deps
	mu     sync.Mutex
	active bool
}

func NewPriceLock(logger core.ILogger, cfg *core.GridConfig) *PriceLock {
	return &PriceLock{deps: deps{logger: logger.WithField("mode", "price_lock"), cfg: cfg}}
}

func (p *PriceLock) Name() string { return "price_lock" }

func (p *PriceLock) ShouldTrigger(price decimal.Decimal, gridIdx int) bool {
	if !p.cfg.PriceLockEnabled {
		return false
	}
	p.mu.Lock()
	already := p.active
	p.mu.Unlock()
	if already {
		return false
	}
	if p.cfg.GridType.IsLong() {
		return price.LessThanOrEqual(p.cfg.PriceLockThreshold)
	}
	return price.GreaterThanOrEqual(p.cfg.PriceLockThreshold)
}

// ShouldExit reports whether price has retreated back inside the grid's own
// corridor, at which point the lock is no longer needed.
func (p *PriceLock) ShouldExit(price decimal.Decimal, gridIdx int) bool {
	p.mu.Lock()
	active := p.active
	p.mu.Unlock()
	if !active {
		return false
	}
	return !price.LessThan(p.cfg.LowerPrice) && !price.GreaterThan(p.cfg.UpperPrice)
}

func (p *PriceLock) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Activate has no side effect beyond flipping the flag: price-lock's only
// job is to be consulted by the coordinator before placing new orders.
func (p *PriceLock) Activate(ctx context.Context) error {
	p.mu.Lock()
	p.active = true
	p.mu.Unlock()
	return nil
}

func (p *PriceLock) Deactivate() {
	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
}
var _ core.IModeManager = (*PriceLock)(nil)
