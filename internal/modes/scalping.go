package modes

import (
	"context"
	"sync"

	"gridbot/internal/core"
	"gridbot/internal/execution"
	"gridbot/internal/geometry"
	"gridbot/internal/gridstate"

	"github.com/shopspring/decimal"
)

// Scalping arms when price reaches scalping_trigger_percent progress toward
// the adverse extreme. On activation it cancels every counter-direction
// order, prices a single take-profit order off the live average cost, and
// suppresses reverse-order posting for fills that add to exposure while
// armed — the position is meant to shrink toward the take-profit fill, not
// grow further.
type Scalping struct {
	deps
	mu     sync.Mutex
	active bool
	tpOrder *core.GridOrder
}

func NewScalping(logger core.ILogger, cfg *core.GridConfig, geo *geometry.Geometry, state *gridstate.State, engine *execution.Engine, tracker core.IPositionTracker, triggerReset TriggerReset) *Scalping {
	return &Scalping{deps: deps{
		logger: logger.WithField("mode", "scalping"), cfg: cfg, geo: geo, state: state, engine: engine, tracker: tracker, triggerReset: triggerReset,
	}}
}

func (s *Scalping) Name() string { return "scalping" }

func (s *Scalping) ShouldTrigger(price decimal.Decimal, gridIdx int) bool {
	if !s.cfg.ScalpingEnabled {
		return false
	}
	s.mu.Lock()
	already := s.active
	s.mu.Unlock()
	if already {
		return false
	}
	return s.geo.IsArmedAt(gridIdx, s.cfg.ScalpingTriggerPercent)
}

func (s *Scalping) ShouldExit(price decimal.Decimal, gridIdx int) bool {
	// Scalping exits only via its take-profit order filling, handled by
	// OnTakeProfitFilled — there is no price-based exit condition.
	return false
}

func (s *Scalping) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Activate cancels every order on the opposite side of the grid's primary
// direction, fetches the live position, and submits one take-profit order
// priced scalping_take_profit_grids away from the average cost.
func (s *Scalping) Activate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	primarySide := core.SideBuy
	if !s.cfg.GridType.IsLong() {
		primarySide = core.SideSell
	}
	counterSide := primarySide.Opposite()

	for _, o := range s.state.ActiveOrders() {
		if o.Side != counterSide {
			continue
		}
		if err := s.engine.CancelOrder(ctx, o); err != nil {
			s.logger.Warn("failed to cancel counter-direction order on scalping activation", "grid_id", o.GridID, "error", err)
			continue
		}
		// Verify the cancellation actually took by re-checking grid state.
		if _, stillThere := s.state.AtGrid(o.GridID); stillThere {
			s.logger.Warn("counter-direction order still present after cancel, retrying", "grid_id", o.GridID)
			_ = s.engine.CancelOrder(ctx, o)
		}
	}

	pos := s.tracker.Position()
	offset := decimal.NewFromInt(int64(s.cfg.ScalpingTakeProfitGrids)).Mul(s.cfg.GridInterval)

	var tpSide core.OrderSide
	var tpPrice decimal.Decimal
	if pos.Size.IsPositive() {
		tpSide = core.SideSell
		tpPrice = pos.AverageCost.Add(offset)
	} else {
		tpSide = core.SideBuy
		tpPrice = pos.AverageCost.Sub(offset)
	}

	gridID := s.geo.IndexOf(tpPrice)
	order, err := s.engine.PlaceOrder(ctx, gridID, tpSide, tpPrice, pos.Size.Abs())
	if err != nil {
		return err
	}
	// Submit-verification: confirm the order actually landed before
	// declaring scalping armed.
	if _, ok := s.state.AtGrid(gridID); !ok {
		return &core.ExchangeError{Kind: core.ErrKindRejection, Reason: "take-profit order not found after placement"}
	}

	s.tpOrder = order
	s.active = true
	return nil
}

func (s *Scalping) Deactivate() {
	s.mu.Lock()
	s.active = false
	s.tpOrder = nil
	s.mu.Unlock()
}

// SuppressReverseForFill reports whether a fill on side should skip posting
// a reverse order — true while scalping is active and the fill adds to the
// existing exposure rather than reducing it (only specified for Long grids
// in the source system; Short grids mirror this by symmetry and should get
// the same parity tests once a Short scalping integration test exists).
func (s *Scalping) SuppressReverseForFill(side core.OrderSide) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	exposureAddingSide := core.SideBuy
	if !s.cfg.GridType.IsLong() {
		exposureAddingSide = core.SideSell
	}
	return side == exposureAddingSide
}

// OnTakeProfitFilled is invoked by the coordinator when the scalping
// take-profit order fills. It triggers a reset that re-initializes capital,
// then clears scalping's own state.
func (s *Scalping) OnTakeProfitFilled(ctx context.Context) error {
	s.Deactivate()
	return s.triggerReset(ctx, core.ResetOptions{
		ReasonType:    "scalping_take_profit",
		ClosePosition: false,
		ReinitCapital: true,
	})
}

// IsTakeProfitOrder reports whether venueID is the currently-armed
// take-profit order, for the coordinator's fill dispatch.
func (s *Scalping) IsTakeProfitOrder(venueID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tpOrder != nil && s.tpOrder.VenueOrderID == venueID
}
var _ core.IModeManager = (*Scalping)(nil)
