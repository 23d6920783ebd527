// Package healthcheck implements the Order Health Checker (spec §4.5): a
// periodic pass that reconciles the grid ladder against venue truth,
// diagnoses and heals duplicate/out-of-range orders, evaluates coverage
// against the theoretical range, and finally reconciles position.
package healthcheck

import (
	"context"
	"sync"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/execution"
	"gridbot/internal/geometry"
	"gridbot/internal/gridstate"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	debounceMismatchWait = 3 * time.Second
	postCleanupWait      = 2 * time.Second
	scalpingDeviationMax = 0.50 // 50% deviation triggers emergency stop while scalping is active
)

// IsScalpingActive lets the checker ask whether scalping currently owns the
// grid, in which case steps 5-7 (cleanup, coverage and refill) are skipped
// entirely; step 8 (position reconciliation) still runs.
type IsScalpingActive func() bool

// Checker runs the periodic reconciliation pass.
type Checker struct {
	logger   core.ILogger
	exchange core.IExchange
	engine   *execution.Engine
	geo      *geometry.Geometry
	state    *gridstate.State
	tracker  core.IPositionTracker
	symbol   string
	interval time.Duration

	scalpingActive IsScalpingActive

	emergencyStop func(reason string)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(
	logger core.ILogger,
	exchange core.IExchange,
	engine *execution.Engine,
	geo *geometry.Geometry,
	state *gridstate.State,
	tracker core.IPositionTracker,
	symbol string,
	interval time.Duration,
	scalpingActive IsScalpingActive,
	emergencyStop func(reason string),
) *Checker {
	return &Checker{
		logger:         logger.WithField("component", "healthcheck"),
		exchange:       exchange,
		engine:         engine,
		geo:            geo,
		state:          state,
		tracker:        tracker,
		symbol:         symbol,
		interval:       interval,
		scalpingActive: scalpingActive,
		emergencyStop:  emergencyStop,
	}
}

func (c *Checker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.loop(runCtx)
}

func (c *Checker) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Checker) loop(ctx context.Context) {
	defer c.wg.Done()
	interval := c.interval
	if interval <= 0 {
		interval = 300 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.RunOnce(ctx); err != nil {
				c.logger.Warn("health check pass failed", "error", err)
			}
		}
	}
}

// twinSnapshot is the concurrently-fetched pair of open orders and positions
// the rest of the pass reasons about.
type twinSnapshot struct {
	orders    []core.OrderData
	positions []core.PositionData
}

func (c *Checker) fetchTwinSnapshot(ctx context.Context) (twinSnapshot, error) {
	var snap twinSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		orders, err := c.exchange.GetOpenOrders(gctx, c.symbol)
		snap.orders = orders
		return err
	})
	g.Go(func() error {
		positions, err := c.exchange.GetPositions(gctx, c.symbol)
		snap.positions = positions
		return err
	})
	if err := g.Wait(); err != nil {
		return twinSnapshot{}, &core.ExchangeError{Kind: core.ErrKindTransport, Reason: "twin snapshot fetch failed", Err: err}
	}
	return snap, nil
}

// RunOnce executes the full reconciliation pass.
func (c *Checker) RunOnce(ctx context.Context) error {
	snap, err := c.fetchTwinSnapshot(ctx)
	if err != nil {
		return err
	}

	// Step 1: debounce — a mismatch between what grid state thinks is open
	// and what the venue reports may just be in-flight; re-fetch once after
	// a short wait before trusting it.
	if c.countMismatch(snap) {
		select {
		case <-time.After(debounceMismatchWait):
		case <-ctx.Done():
			return ctx.Err()
		}
		snap, err = c.fetchTwinSnapshot(ctx)
		if err != nil {
			return err
		}
	}

	// Step 2: actual range reconstruction via price -> index reversal.
	actualIndexes := make(map[int]struct{}, len(snap.orders))
	for _, o := range snap.orders {
		actualIndexes[c.geo.IndexOf(o.Price)] = struct{}{}
	}

	// Step 3: theoretical range, always [1, grid_count]; it is not extended
	// past either end. The reverse_order_grid_distance levels on each side
	// of the current grid form a profit gap left uncovered by design.
	cfg := c.geo.Config()
	_, currentGrid := c.state.CurrentPrice()
	theoretical, profitGap := theoreticalRange(cfg, currentGrid)

	// Step 4: diagnose problem orders (duplicates at an index, or resting
	// outside the theoretical range entirely).
	problems := c.diagnoseProblems(snap.orders, theoretical)

	scalping := c.scalpingActive != nil && c.scalpingActive()
	if scalping {
		c.logger.Debug("scalping active, skipping cleanup and refill this pass")
		return c.reconcilePosition(ctx, snap.positions, actualIndexes, theoretical, scalping)
	}

	// Step 5: cleanup — cancel problem orders via the expected-cancellation
	// path so healing doesn't look like an unsolicited cancel, then re-fetch.
	if len(problems) > 0 {
		for _, o := range problems {
			if err := c.engine.CancelOrder(ctx, &core.GridOrder{GridID: c.geo.IndexOf(o.Price), VenueOrderID: o.ID}); err != nil {
				c.logger.Warn("failed to cancel problem order", "order_id", o.ID, "error", err)
			}
		}
		select {
		case <-time.After(postCleanupWait):
		case <-ctx.Done():
			return ctx.Err()
		}
		snap, err = c.fetchTwinSnapshot(ctx)
		if err != nil {
			return err
		}
	}

	// Step 6: coverage evaluation — missing = expected - covered - profit gap.
	covered := make(map[int]struct{}, len(snap.orders))
	for _, o := range snap.orders {
		covered[c.geo.IndexOf(o.Price)] = struct{}{}
	}
	missing := missingIndexes(theoretical, covered, profitGap)

	// Step 7: fill-safety gate — only refill if open order count is still
	// below grid_count, to avoid compounding an already-overfull ladder.
	if len(snap.orders) < cfg.GridCount {
		for _, idx := range missing {
			side := core.SideBuy
			if !cfg.GridType.IsLong() {
				side = core.SideSell
			}
			if idx >= currentGrid {
				side = side.Opposite()
			}
			price := c.geo.PriceOf(idx)
			amount := c.geo.OrderAmountOfRounded(idx)
			if _, err := c.engine.PlaceOrder(ctx, idx, side, price, amount); err != nil {
				c.logger.Warn("refill placement failed", "grid_id", idx, "error", err)
			}
		}
	}

	// Step 8: position reconciliation, always after order adjustment.
	return c.reconcilePosition(ctx, snap.positions, actualIndexes, theoretical, scalping)
}

func (c *Checker) countMismatch(snap twinSnapshot) bool {
	localOpen := len(c.state.ActiveOrders())
	return localOpen != len(snap.orders)
}

func theoreticalRange(cfg *core.GridConfig, currentGrid int) (indexes map[int]struct{}, profitGapIndexes map[int]struct{}) {
	indexes = make(map[int]struct{}, cfg.GridCount)
	for i := 1; i <= cfg.GridCount; i++ {
		indexes[i] = struct{}{}
	}
	profitGapIndexes = make(map[int]struct{})
	for d := 1; d <= cfg.ReverseOrderGridDistance; d++ {
		idx := currentGrid + d
		if idx >= 1 && idx <= cfg.GridCount {
			profitGapIndexes[idx] = struct{}{}
		}
		idx = currentGrid - d
		if idx >= 1 && idx <= cfg.GridCount {
			profitGapIndexes[idx] = struct{}{}
		}
	}
	return indexes, profitGapIndexes
}

func missingIndexes(theoretical, covered, profitGap map[int]struct{}) []int {
	missing := make([]int, 0)
	for idx := range theoretical {
		if _, ok := covered[idx]; ok {
			continue
		}
		if _, ok := profitGap[idx]; ok {
			continue
		}
		missing = append(missing, idx)
	}
	return missing
}

func (c *Checker) diagnoseProblems(orders []core.OrderData, theoretical map[int]struct{}) []core.OrderData {
	seen := make(map[int]bool)
	problems := make([]core.OrderData, 0)
	for _, o := range orders {
		idx := c.geo.IndexOf(o.Price)
		if _, inRange := theoretical[idx]; !inRange {
			problems = append(problems, o)
			continue
		}
		if seen[idx] {
			problems = append(problems, o)
			continue
		}
		seen[idx] = true
	}
	return problems
}

// reconcilePosition computes the expected position from grid occupancy and
// corrects drift with a tolerance-gated market order; large deviation while
// scalping is armed escalates straight to emergency stop.
func (c *Checker) reconcilePosition(ctx context.Context, positions []core.PositionData, actualIndexes, theoretical map[int]struct{}, scalping bool) error {
	cfg := c.geo.Config()

	// Expected position is the sum of each assumed-filled grid's own
	// precision-rounded size, not a flat per-grid count — martingale grids
	// size each level differently, so rounding each level before summing
	// and never collapsing to a uniform order_amount is required for the
	// result to be correct in units.
	expected := decimal.Zero
	for idx := range theoretical {
		if _, open := actualIndexes[idx]; open {
			continue
		}
		expected = expected.Add(c.geo.OrderAmountOfRounded(idx))
	}
	if !cfg.GridType.IsLong() {
		expected = expected.Neg()
	}

	var actual decimal.Decimal
	for _, p := range positions {
		if p.Side == core.PositionShort {
			actual = actual.Sub(p.Size)
		} else {
			actual = actual.Add(p.Size)
		}
	}

	deviation := actual.Sub(expected).Abs()
	if deviation.IsZero() {
		return nil
	}

	tol := cfg.PositionTolerance
	allowed := decimal.NewFromFloat(0.01)
	if tol != nil {
		allowed = tol.AbsoluteTolerance
		if tol.PercentTolerance.IsPositive() && !expected.IsZero() {
			pctAllowed := expected.Abs().Mul(tol.PercentTolerance)
			if pctAllowed.GreaterThan(allowed) {
				allowed = pctAllowed
			}
		}
	}

	if scalping && !expected.IsZero() {
		ratio, _ := deviation.Div(expected.Abs()).Float64()
		if ratio >= scalpingDeviationMax {
			if c.emergencyStop != nil {
				c.emergencyStop("position deviation exceeded 50% while scalping active")
			}
			return nil
		}
	}

	if deviation.LessThanOrEqual(allowed) {
		return nil
	}

	side := core.SideBuy
	if actual.GreaterThan(expected) {
		side = core.SideSell
	}
	_, err := c.engine.PlaceMarketOrder(ctx, side, deviation, true)
	if err != nil {
		c.logger.Warn("position correction market order failed", "error", err)
	}
	return nil
}
