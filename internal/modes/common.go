// Package modes implements the five grid mode subsystems (spec §4.8):
// scalping, capital protection, take-profit, price-lock and price-follow.
// Each implements core.IModeManager so the coordinator can evaluate them
// uniformly, in the fixed priority order capital protection > scalping >
// take-profit that §4.8/§4.10 specify. Price-lock and price-follow sit
// outside that priority chain: price-lock gates order placement directly,
// and price-follow runs its own background escape-check tick.
package modes

import (
	"context"

	"gridbot/internal/core"
	"gridbot/internal/execution"
	"gridbot/internal/geometry"
	"gridbot/internal/gridstate"

	"github.com/shopspring/decimal"
)

// TriggerReset is how a mode manager asks the reset manager to tear down
// and rebuild the grid. Modes depend on this function type rather than on
// internal/reset directly, since the reset manager in turn needs to
// deactivate every mode manager — a direct import would cycle.
type TriggerReset func(ctx context.Context, opts core.ResetOptions) error

// CollateralProvider returns the most recently observed collateral balance
// and the capital baseline it should be measured against.
type CollateralProvider func() (current, initial decimal.Decimal)

type deps struct {
	logger       core.ILogger
	cfg          *core.GridConfig
	geo          *geometry.Geometry
	state        *gridstate.State
	engine       *execution.Engine
	tracker      core.IPositionTracker
	triggerReset TriggerReset
}
