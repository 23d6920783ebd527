// Package coordinator is the Coordinator (spec §4.10): the single event
// loop that owns grid state and the position tracker, wires every
// subsystem together, and runs the fill-handling hot path. Background
// tasks (execution's smart monitor, the health checker, the position and
// balance monitors, price-follow's tick) all communicate back into the
// coordinator through channels or direct callbacks rather than shared
// mutable state, per the single-threaded cooperative scheduler design (§5).
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gridbot/internal/balance"
	"gridbot/internal/core"
	"gridbot/internal/execution"
	"gridbot/internal/geometry"
	"gridbot/internal/gridstate"
	"gridbot/internal/healthcheck"
	"gridbot/internal/modes"
	"gridbot/internal/positionmonitor"
	"gridbot/internal/reset"

	"github.com/shopspring/decimal"
)

const maxConsecutiveErrors = 5

// Statistics is the read-only status surface exposed to the ops HTTP server.
type Statistics struct {
	Running        bool
	Paused         bool
	Resetting      bool
	ErrorCount     int
	OpenOrders     int
	Position       core.Position
	RealizedPnL    decimal.Decimal
	CurrentGridID  int
	CurrentPrice   decimal.Decimal
}

// Coordinator wires every grid subsystem together and runs the fill-handler
// hot path.
type Coordinator struct {
	logger core.ILogger
	cfg    *core.GridConfig
	symbol string

	geo     *geometry.Geometry
	state   *gridstate.State
	engine  *execution.Engine
	tracker core.IPositionTracker

	healthChecker   *healthcheck.Checker
	positionMonitor *positionmonitor.Monitor
	balanceMonitor  *balance.Monitor
	resetManager    *reset.Manager

	capitalProtection *modes.CapitalProtection
	scalping          *modes.Scalping
	takeProfit        *modes.TakeProfit
	priceLock         *modes.PriceLock
	priceFollow       *modes.PriceFollow

	running   atomic.Bool
	paused    atomic.Bool
	errorCnt  atomic.Int32

	collateral struct {
		mu      sync.Mutex
		current decimal.Decimal
		initial decimal.Decimal
		seeded  bool
	}

	alert func(title, message string)

	wg sync.WaitGroup
}

// Config bundles every already-constructed subsystem the coordinator wires
// together; subsystems are built by the caller (cmd/gridbot's bootstrap) so
// the coordinator itself never talks to the exchange adapter directly
// except through the execution engine.
type Config struct {
	Logger   core.ILogger
	GridCfg  *core.GridConfig
	Symbol   string
	Geo      *geometry.Geometry
	State    *gridstate.State
	Engine   *execution.Engine
	Tracker  core.IPositionTracker

	HealthChecker   *healthcheck.Checker
	PositionMonitor *positionmonitor.Monitor
	BalanceMonitor  *balance.Monitor
	ResetManager    *reset.Manager

	CapitalProtection *modes.CapitalProtection
	Scalping          *modes.Scalping
	TakeProfit        *modes.TakeProfit
	PriceLock         *modes.PriceLock
	PriceFollow       *modes.PriceFollow

	Alert func(title, message string)
}

func New(c Config) *Coordinator {
	return &Coordinator{
		logger:            c.Logger.WithField("component", "coordinator"),
		cfg:               c.GridCfg,
		symbol:            c.Symbol,
		geo:               c.Geo,
		state:             c.State,
		engine:            c.Engine,
		tracker:           c.Tracker,
		healthChecker:     c.HealthChecker,
		positionMonitor:   c.PositionMonitor,
		balanceMonitor:    c.BalanceMonitor,
		resetManager:      c.ResetManager,
		capitalProtection: c.CapitalProtection,
		scalping:          c.Scalping,
		takeProfit:        c.TakeProfit,
		priceLock:         c.PriceLock,
		priceFollow:       c.PriceFollow,
		alert:             c.Alert,
	}
}

// Start brings every background subsystem up and begins consuming fills.
func (co *Coordinator) Start(ctx context.Context) error {
	if err := co.engine.Initialize(ctx); err != nil {
		return err
	}
	co.engine.SubscribeOrderUpdates(co.handleOrderUpdate)

	co.healthChecker.Start(ctx)
	co.positionMonitor.Start(ctx)
	co.balanceMonitor.Start(ctx)
	if co.priceFollow != nil {
		_ = co.priceFollow.Activate(ctx)
	}

	co.running.Store(true)
	return nil
}

func (co *Coordinator) Stop() {
	co.running.Store(false)
	co.healthChecker.Stop()
	co.positionMonitor.Stop()
	co.balanceMonitor.Stop()
	if co.priceFollow != nil {
		co.priceFollow.Deactivate()
	}
	co.engine.Stop()
	co.wg.Wait()
}

func (co *Coordinator) Pause()  { co.paused.Store(true) }
func (co *Coordinator) Resume() { co.paused.Store(false) }

func (co *Coordinator) GetStatistics() Statistics {
	occupied, _ := co.state.GetGridUtilization()
	price, gridID := co.state.CurrentPrice()
	return Statistics{
		Running:       co.running.Load(),
		Paused:        co.paused.Load(),
		Resetting:     co.resetManager.IsResetting(),
		ErrorCount:    int(co.errorCnt.Load()),
		OpenOrders:    occupied,
		Position:      co.tracker.Position(),
		RealizedPnL:   co.tracker.RealizedPnL(),
		CurrentGridID: gridID,
		CurrentPrice:  price,
	}
}

// handleOrderUpdate is the fill-handling hot path (§4.10). Only Filled and
// Cancelled transitions carry trading logic; the execution engine has
// already suppressed any cancellation it requested itself, so any Cancelled
// update reaching here is unsolicited and gets healed by re-posting.
func (co *Coordinator) handleOrderUpdate(u core.OrderUpdate) {
	if u.Status == core.OrderCancelled {
		co.handleUnsolicitedCancel(u)
		return
	}
	if u.Status != core.OrderFilled {
		return
	}

	// Step 1: drop fills entirely while paused or mid-reset — there is
	// nothing a consistent grid state could do with them right now.
	if co.paused.Load() || co.resetManager.IsResetting() {
		co.logger.Debug("dropping fill while paused/resetting", "order_id", u.OrderID)
		return
	}

	ctx := context.Background()

	// Step 2: the scalping take-profit order fills through the same path;
	// recognize it before general grid bookkeeping since it short-circuits
	// straight into a reset.
	if co.scalping != nil && co.scalping.IsTakeProfitOrder(u.OrderID) {
		if err := co.scalping.OnTakeProfitFilled(ctx); err != nil {
			co.onHandlerError(err)
		}
		return
	}

	filledOrder, ok := co.state.MarkFilled(u.OrderID, u.ClientID, u.Price, u.Amount)
	if !ok {
		co.logger.Warn("fill delivered for an order not known to grid state", "order_id", u.OrderID)
		return
	}

	co.tracker.OnFill(filledOrder.Side, u.Price, u.Amount, filledOrder.GridID, co.cfg.FeeRate)
	co.positionMonitor.TriggerEventQuery(ctx)

	// Step 3: priority evaluation — capital protection beats scalping beats
	// take-profit (§4.8). Any of the three triggering ends this fill's
	// handling: capital protection and take-profit by a reset, scalping by
	// switching the grid to its single take-profit order.
	price, gridIdx := co.state.CurrentPrice()
	if co.capitalProtection != nil && co.capitalProtection.ShouldTrigger(price, gridIdx) {
		if err := co.capitalProtection.Activate(ctx); err != nil {
			co.onHandlerError(err)
		}
		return
	}
	if co.scalping != nil && co.scalping.ShouldTrigger(price, gridIdx) {
		if err := co.scalping.Activate(ctx); err != nil {
			co.onHandlerError(err)
		}
		return
	}
	if co.takeProfit != nil && co.takeProfit.ShouldTrigger(price, gridIdx) {
		if err := co.takeProfit.Activate(ctx); err != nil {
			co.onHandlerError(err)
		}
		return
	}

	// Step 4: scalping veto — while active, fills that add exposure don't
	// get a reverse order; the position is meant to shrink, not grow.
	if co.scalping != nil && co.scalping.SuppressReverseForFill(filledOrder.Side) {
		co.clearErrorCount()
		return
	}
	if co.priceLock != nil && co.priceLock.IsActive() {
		co.clearErrorCount()
		return
	}

	// Step 5: post the reverse order reverse_order_grid_distance away on
	// the opposite side, linking parent/reverse ids for traceability.
	reverseSide := filledOrder.Side.Opposite()
	reverseIdx := filledOrder.GridID
	if filledOrder.Side == core.SideBuy {
		reverseIdx += co.cfg.ReverseOrderGridDistance
	} else {
		reverseIdx -= co.cfg.ReverseOrderGridDistance
	}
	if reverseIdx >= 1 && reverseIdx <= co.cfg.GridCount {
		reversePrice := co.geo.PriceOf(reverseIdx)
		reverseAmount := co.geo.OrderAmountOfRounded(reverseIdx)
		reverseOrder, err := co.engine.PlaceOrder(ctx, reverseIdx, reverseSide, reversePrice, reverseAmount)
		if err != nil {
			co.onHandlerError(err)
			return
		}
		reverseOrder.ParentOrderID = filledOrder.ClientOrderID
		filledOrder.ReverseOrderID = reverseOrder.ClientOrderID
	}

	// Step 6: update current price/grid tracking and clear the error streak.
	co.state.UpdateCurrentPrice(u.Price, co.geo.IndexOf(u.Price))
	co.clearErrorCount()
}

// handleUnsolicitedCancel re-posts an identical order (same grid id, side,
// price, amount) when the venue cancels a resting order the engine never
// asked to cancel — §4.4 cancellation semantics: the grid must stay fully
// quoted, so a level that vanishes out from under it gets healed rather
// than left empty.
func (co *Coordinator) handleUnsolicitedCancel(u core.OrderUpdate) {
	if co.paused.Load() || co.resetManager.IsResetting() {
		co.logger.Debug("dropping unsolicited cancel while paused/resetting", "order_id", u.OrderID)
		return
	}

	o, ok := co.state.Lookup(u.OrderID, u.ClientID)
	if !ok {
		co.logger.Warn("unsolicited cancel delivered for an order not known to grid state", "order_id", u.OrderID)
		return
	}
	co.logger.Warn("unsolicited cancellation detected, re-posting", "grid_id", o.GridID, "side", o.Side, "price", o.Price)
	co.state.RemoveOrder(o.GridID)

	if _, err := co.engine.PlaceOrder(context.Background(), o.GridID, o.Side, o.Price, o.Amount); err != nil {
		co.onHandlerError(err)
	}
}

func (co *Coordinator) onHandlerError(err error) {
	co.logger.Error("fill handler error", "error", err)
	n := co.errorCnt.Add(1)
	if int(n) >= maxConsecutiveErrors {
		co.logger.Error("too many consecutive fill-handler errors, pausing", "count", n)
		co.Pause()
		if co.alert != nil {
			co.alert("grid paused", "consecutive fill-handler errors exceeded threshold")
		}
	}
}

func (co *Coordinator) clearErrorCount() {
	co.errorCnt.Store(0)
}

// CollateralSnapshot feeds capital-protection/take-profit's progress checks;
// the balance monitor calls this on every successful poll.
func (co *Coordinator) CollateralSnapshot(snap balance.Snapshot) {
	co.collateral.mu.Lock()
	co.collateral.current = snap.CollateralBalance
	if !co.collateral.seeded {
		co.collateral.initial = snap.CollateralBalance
		co.collateral.seeded = true
	}
	co.collateral.mu.Unlock()
}

// Collateral implements modes.CollateralProvider.
func (co *Coordinator) Collateral() (current, initial decimal.Decimal) {
	co.collateral.mu.Lock()
	defer co.collateral.mu.Unlock()
	return co.collateral.current, co.collateral.initial
}

// SeedInitialCapital overwrites the capital baseline, used by the reset
// manager's reinit_capital step.
func (co *Coordinator) SeedInitialCapital(v decimal.Decimal) {
	co.collateral.mu.Lock()
	co.collateral.initial = v
	co.collateral.mu.Unlock()
}

// DeactivateAllModes is passed to the reset manager as its deactivateModes
// callback.
func (co *Coordinator) DeactivateAllModes() {
	// Built as concrete-typed checks, not a []interface{ Deactivate() }
	// slice: a nil *modes.X stored in an interface value is itself a
	// non-nil interface, so a blanket "if m != nil" over the slice would
	// still call Deactivate() on a nil receiver and panic.
	if co.capitalProtection != nil {
		co.capitalProtection.Deactivate()
	}
	if co.scalping != nil {
		co.scalping.Deactivate()
	}
	if co.takeProfit != nil {
		co.takeProfit.Deactivate()
	}
	if co.priceLock != nil {
		co.priceLock.Deactivate()
	}
}

// ResetModeState is a no-op: mode managers are volatile and hold nothing
// that survives a reset beyond what Deactivate already clears. The position
// monitor's initial phase is re-armed separately by ResetPositionMonitorPhase.
func (co *Coordinator) ResetModeState() {}

// ResetPositionMonitorPhase restarts the position monitor's 60s anomaly
// suppression window after a rebuild.
func (co *Coordinator) ResetPositionMonitorPhase() {
	co.positionMonitor.ResetInitialPhase()
}

// WaitForNextBalance blocks (briefly) until the balance monitor produces a
// fresh snapshot, for the reset manager's reinit_capital step.
func (co *Coordinator) WaitForNextBalance(ctx context.Context) (decimal.Decimal, error) {
	deadline := time.After(30 * time.Second)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	baseline, _ := co.Collateral()
	for {
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-deadline:
			current, _ := co.Collateral()
			return current, nil
		case <-ticker.C:
			current, _ := co.Collateral()
			if !current.Equal(baseline) {
				return current, nil
			}
		}
	}
}
