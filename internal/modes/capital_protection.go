package modes

import (
	"context"
	"sync"

	"gridbot/internal/core"
	"gridbot/internal/geometry"

	"github.com/shopspring/decimal"
)

// CapitalProtection arms at capital_protection_trigger_percent progress
// toward the adverse extreme. It only actually triggers a reset once
// collateral has recovered back to at least the initial capital baseline —
// protecting the position from a grid that has drifted deep into adverse
// territory without locking in a loss.
type CapitalProtection struct {
	deps
	collateral CollateralProvider
	mu         sync.Mutex
	active     bool
}

func NewCapitalProtection(logger core.ILogger, cfg *core.GridConfig, geo *geometry.Geometry, triggerReset TriggerReset, collateral CollateralProvider) *CapitalProtection {
	return &CapitalProtection{
		deps:       deps{logger: logger.WithField("mode", "capital_protection"), cfg: cfg, geo: geo, triggerReset: triggerReset},
		collateral: collateral,
	}
}

func (c *CapitalProtection) Name() string { return "capital_protection" }

func (c *CapitalProtection) ShouldTrigger(price decimal.Decimal, gridIdx int) bool {
	if !c.cfg.CapitalProtectionEnabled {
		return false
	}
	if !c.geo.IsArmedAt(gridIdx, c.cfg.CapitalProtectionTriggerPercent) {
		return false
	}
	current, initial := c.collateral()
	return current.GreaterThanOrEqual(initial)
}

func (c *CapitalProtection) ShouldExit(price decimal.Decimal, gridIdx int) bool { return false }

func (c *CapitalProtection) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Activate triggers a full reset that keeps the existing price range —
// the grid is rebuilt in place rather than re-centered or widened.
func (c *CapitalProtection) Activate(ctx context.Context) error {
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
	return c.triggerReset(ctx, core.ResetOptions{
		ReasonType:       "capital_protection",
		ClosePosition:    false,
		ReinitCapital:    false,
		UpdatePriceRange: false,
	})
}

func (c *CapitalProtection) Deactivate() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}
var _ core.IModeManager = (*CapitalProtection)(nil)
