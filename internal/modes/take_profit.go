package modes

import (
	"context"
	"sync"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

// TakeProfit triggers when accumulated gains since the last capital
// baseline reach take_profit_percentage, and immediately resets with a
// fresh capital baseline — locking in the gain rather than letting it ride.
type TakeProfit struct {
	deps
	collateral CollateralProvider
	mu         sync.Mutex
	active     bool
}

func NewTakeProfit(logger core.ILogger, cfg *core.GridConfig, triggerReset TriggerReset, collateral CollateralProvider) *TakeProfit {
	return &TakeProfit{
		deps:       deps{logger: logger.WithField("mode", "take_profit"), cfg: cfg, triggerReset: triggerReset},
		collateral: collateral,
	}
}

func (t *TakeProfit) Name() string { return "take_profit" }

func (t *TakeProfit) ShouldTrigger(price decimal.Decimal, gridIdx int) bool {
	if !t.cfg.TakeProfitEnabled {
		return false
	}
	current, initial := t.collateral()
	if initial.IsZero() {
		return false
	}
	progress := current.Sub(initial).Div(initial)
	return progress.GreaterThanOrEqual(t.cfg.TakeProfitPercentage)
}

func (t *TakeProfit) ShouldExit(price decimal.Decimal, gridIdx int) bool { return false }

func (t *TakeProfit) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *TakeProfit) Activate(ctx context.Context) error {
	t.mu.Lock()
	t.active = true
	t.mu.Unlock()
	return t.triggerReset(ctx, core.ResetOptions{
		ReasonType:    "take_profit",
		ClosePosition: true,
		ReinitCapital: true,
	})
}

func (t *TakeProfit) Deactivate() {
	t.mu.Lock()
	t.active = false
	t.mu.Unlock()
}
var _ core.IModeManager = (*TakeProfit)(nil)
