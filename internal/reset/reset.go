// Package reset implements the generic teardown+rebuild workflow (spec
// §4.9): the one place every mode manager and the coordinator funnel into
// when the grid needs to come down and come back up, whether for a routine
// reconciliation, a realized take-profit, or an emergency stop.
package reset

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/execution"
	"gridbot/internal/geometry"
	"gridbot/internal/gridstate"
	apperrors "gridbot/pkg/errors"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
)

const (
	cancelVerifyMaxRetries = 3
	closePositionMaxAttempts = 5
	closePositionMinBackoff = 30 * time.Second
	closePositionMaxBackoff = 120 * time.Second
	postBatchSettleWait     = 2 * time.Second
)

// BalanceWaiter blocks until the next balance snapshot arrives, returning
// its collateral value — used by reinit_capital to seed a fresh baseline.
type BalanceWaiter func(ctx context.Context) (decimal.Decimal, error)

// Manager implements core.IResetManager.
type Manager struct {
	logger  core.ILogger
	cfg     *core.GridConfig
	geo     *geometry.Geometry
	state   *gridstate.State
	engine  *execution.Engine
	tracker core.IPositionTracker

	deactivateModes     func()
	resetModeState      func()
	waitForNextBalance  BalanceWaiter
	resetPositionMonitor func()
	onPause             func(reason string)
	onInitialCapital    func(decimal.Decimal)

	mu        sync.Mutex
	resetting bool
}

func New(
	logger core.ILogger,
	cfg *core.GridConfig,
	geo *geometry.Geometry,
	state *gridstate.State,
	engine *execution.Engine,
	tracker core.IPositionTracker,
	deactivateModes func(),
	resetModeState func(),
	resetPositionMonitor func(),
	waitForNextBalance BalanceWaiter,
	onInitialCapital func(decimal.Decimal),
	onPause func(reason string),
) *Manager {
	return &Manager{
		logger:               logger.WithField("component", "reset"),
		cfg:                  cfg,
		geo:                  geo,
		state:                state,
		engine:               engine,
		tracker:              tracker,
		deactivateModes:      deactivateModes,
		resetModeState:       resetModeState,
		resetPositionMonitor: resetPositionMonitor,
		waitForNextBalance:   waitForNextBalance,
		onInitialCapital:     onInitialCapital,
		onPause:              onPause,
	}
}

func (m *Manager) IsResetting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetting
}

// GenericReset runs the full teardown+rebuild workflow. The invariant
// "zero orders exist between steps 3 and 7" is enforced by the fact that
// nothing between cancel-all and the fresh batch submission ever places
// an order.
func (m *Manager) GenericReset(ctx context.Context, opts core.ResetOptions) error {
	m.mu.Lock()
	if m.resetting {
		m.mu.Unlock()
		return apperrors.ErrResetInProgress
	}
	m.resetting = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.resetting = false
		m.mu.Unlock()
	}()

	m.logger.Info("reset starting", "reason", opts.ReasonType, "close_position", opts.ClosePosition, "reinit_capital", opts.ReinitCapital)

	// Step 1: deactivate every mode manager so none of them re-arm mid-reset.
	m.deactivateModes()

	// Step 2: cancel everything, verified, with a small bounded retry —
	// abort the reset rather than proceed with orders still resting.
	if err := m.cancelAllVerified(ctx); err != nil {
		return fmt.Errorf("reset aborted: %w", err)
	}

	// Step 3: optionally close the position via a reduce-only market order,
	// backing off 30s -> 60s -> 120s across up to 5 attempts. Exhausting all
	// attempts pauses the system for human intervention rather than
	// proceeding with a position the reset can't account for.
	if opts.ClosePosition {
		if err := m.closePosition(ctx); err != nil {
			m.logger.Error("position close failed after all retries, pausing for human intervention", "error", err)
			if m.onPause != nil {
				m.onPause("reset: position close failed")
			}
			return err
		}
	}

	// Step 4: Follow-mode corridor recompute, if requested.
	if opts.UpdatePriceRange {
		price, err := m.engine.GetCurrentPrice(ctx)
		if err == nil {
			m.geo.UpdatePriceRangeForFollowMode(price, false)
		}
	}

	// Step 5: reset grid state and mode state — volatile, destroyed on reset.
	cfg := m.geo.Config()
	m.state.InitializeLevels(cfg.GridCount, m.geo.PriceOf)
	m.resetModeState()

	// Step 6/7: submit a fresh batch, then wait postBatchSettleWait before
	// declaring the grid live again. No immediate-fill sync runs here:
	// orders placed one by one are not diffed against the venue's open set.
	if err := m.submitFreshBatch(ctx); err != nil {
		return fmt.Errorf("reset failed to rebuild grid: %w", err)
	}
	select {
	case <-time.After(postBatchSettleWait):
	case <-ctx.Done():
		return ctx.Err()
	}

	m.resetPositionMonitor()

	// Step 8: optionally wait for the next balance snapshot to re-seed
	// initial_capital for every armed mode manager.
	if opts.ReinitCapital && m.waitForNextBalance != nil {
		collateral, err := m.waitForNextBalance(ctx)
		if err != nil {
			m.logger.Warn("reinit_capital: balance wait failed", "error", err)
		} else if m.onInitialCapital != nil {
			m.onInitialCapital(collateral)
		}
	}

	m.logger.Info("reset complete", "reason", opts.ReasonType)
	return nil
}

func (m *Manager) cancelAllVerified(ctx context.Context) error {
	policy := retrypolicy.NewBuilder[any]().
		WithMaxRetries(cancelVerifyMaxRetries).
		WithBackoff(200*time.Millisecond, 2*time.Second).
		Build()

	_, err := failsafe.With[any](policy).Get(func() (any, error) {
		if _, err := m.engine.CancelAllOrders(ctx); err != nil {
			return nil, err
		}
		if remaining := m.state.ActiveOrders(); len(remaining) > 0 {
			return nil, fmt.Errorf("%w: %d orders still resting after cancel_all", apperrors.ErrVerificationFailed, len(remaining))
		}
		return nil, nil
	})
	return err
}

func (m *Manager) closePosition(ctx context.Context) error {
	policy := retrypolicy.NewBuilder[any]().
		WithMaxRetries(closePositionMaxAttempts - 1).
		WithBackoff(closePositionMinBackoff, closePositionMaxBackoff).
		Build()

	_, err := failsafe.With[any](policy).Get(func() (any, error) {
		pos := m.tracker.Position()
		if pos.Size.IsZero() {
			return nil, nil
		}
		side := core.SideSell
		if pos.Size.IsNegative() {
			side = core.SideBuy
		}
		_, err := m.engine.PlaceMarketOrder(ctx, side, pos.Size.Abs(), true)
		if err != nil {
			return nil, err
		}
		after := m.tracker.Position()
		if !after.Size.IsZero() {
			return nil, fmt.Errorf("%w: position still nonzero after market close: %s", apperrors.ErrVerificationFailed, after.Size)
		}
		return nil, nil
	})
	return err
}

func (m *Manager) submitFreshBatch(ctx context.Context) error {
	cfg := m.geo.Config()
	var side core.OrderSide
	if cfg.GridType.IsLong() {
		side = core.SideBuy
	} else {
		side = core.SideSell
	}

	type req struct {
		GridID int
		Side   core.OrderSide
		Price  decimal.Decimal
		Amount decimal.Decimal
	}
	reqs := make([]req, 0, cfg.GridCount)
	for i := 1; i <= cfg.GridCount; i++ {
		reqs = append(reqs, req{
			GridID: i,
			Side:   side,
			Price:  m.geo.PriceOf(i),
			Amount: m.geo.OrderAmountOfRounded(i),
		})
	}

	for _, r := range reqs {
		if _, err := m.engine.PlaceOrder(ctx, r.GridID, r.Side, r.Price, r.Amount); err != nil {
			m.logger.Warn("fresh batch placement failed", "grid_id", r.GridID, "error", err)
		}
	}
	return nil
}

var _ core.IResetManager = (*Manager)(nil)
