// Package geometry computes the price-to-grid-index mapping and per-grid
// order sizing for one grid instance (spec §4.1). It holds no mutable
// trading state — only the config and, for Follow grids, the live corridor
// bounds. UpdatePriceRangeForFollowMode is the one method that rewrites those
// bounds in place; every other method only reads.
package geometry

import (
	"gridbot/internal/core"
	"gridbot/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Geometry is the grid ladder derived from a GridConfig. Grid 1 always sits
// at the adverse-direction extreme: lowest price for Long variants, highest
// for Short variants.
type Geometry struct {
	cfg *core.GridConfig
}

func New(cfg *core.GridConfig) *Geometry {
	return &Geometry{cfg: cfg}
}

func (g *Geometry) Config() *core.GridConfig { return g.cfg }

// PriceOf returns the price at 1-based grid index i.
func (g *Geometry) PriceOf(i int) decimal.Decimal {
	step := g.cfg.GridInterval.Mul(decimal.NewFromInt(int64(i - 1)))
	if g.cfg.GridType.IsLong() {
		return tradingutils.RoundPrice(g.cfg.LowerPrice.Add(step), priceDecimals(g.cfg))
	}
	return tradingutils.RoundPrice(g.cfg.UpperPrice.Sub(step), priceDecimals(g.cfg))
}

// IndexOf maps a price back to its nearest grid index, clamped to
// [1, grid_count]. It rounds rather than truncates so prices landing
// exactly on a level boundary are classified correctly despite decimal
// noise.
func (g *Geometry) IndexOf(p decimal.Decimal) int {
	var offset decimal.Decimal
	if g.cfg.GridType.IsLong() {
		offset = p.Sub(g.cfg.LowerPrice)
	} else {
		offset = g.cfg.UpperPrice.Sub(p)
	}
	if g.cfg.GridInterval.IsZero() {
		return 1
	}
	steps := offset.Div(g.cfg.GridInterval).Round(0)
	idx := int(steps.IntPart()) + 1
	return tradingutils.ClampIndex(idx, g.cfg.GridCount)
}

// OrderAmountOf returns the raw (unrounded) per-grid order size. Index 1 is
// always the adverse extreme, so the martingale formula needs no branch on
// grid direction: amount grows linearly toward index 1.
func (g *Geometry) OrderAmountOf(i int) decimal.Decimal {
	if !g.cfg.HasMartingale() {
		return g.cfg.OrderAmount
	}
	distanceFromTop := decimal.NewFromInt(int64(g.cfg.GridCount - i))
	return g.cfg.OrderAmount.Add(distanceFromTop.Mul(g.cfg.MartingaleIncrement))
}

// OrderAmountOfRounded returns OrderAmountOf rounded to quantity_precision
// using half-up rounding, matching venue lot-size behavior.
func (g *Geometry) OrderAmountOfRounded(i int) decimal.Decimal {
	return tradingutils.RoundQuantity(g.OrderAmountOf(i), g.cfg.QuantityPrecision)
}

// IsInRange reports whether p falls within [lower_price, upper_price].
func (g *Geometry) IsInRange(p decimal.Decimal) bool {
	return !p.LessThan(g.cfg.LowerPrice) && !p.GreaterThan(g.cfg.UpperPrice)
}

// CheckPriceEscape reports whether the price has moved past the corridor in
// the profit direction, which is the only direction Follow grids act on;
// adverse-direction breaches are left to the health checker / position
// monitor instead. direction is true when escaping upward (profit for Long).
func (g *Geometry) CheckPriceEscape(p decimal.Decimal) (shouldReset bool, direction bool) {
	if !g.cfg.GridType.IsFollow() {
		return false, false
	}
	cushion := decimal.NewFromInt(int64(g.cfg.FollowDistance)).Mul(g.cfg.GridInterval)
	if g.cfg.GridType.IsLong() {
		threshold := g.cfg.UpperPrice.Add(cushion)
		return p.GreaterThan(threshold), true
	}
	threshold := g.cfg.LowerPrice.Sub(cushion)
	return p.LessThan(threshold), false
}

// UpdatePriceRangeForFollowMode recomputes the corridor for a Follow grid
// around the current live price, honoring an armed price-lock threshold
// that the price has already crossed.
func (g *Geometry) UpdatePriceRangeForFollowMode(currentPrice decimal.Decimal, priceLockActive bool) {
	if !g.cfg.GridType.IsFollow() {
		return
	}
	cushion := decimal.NewFromInt(int64(g.cfg.PriceOffsetGrids)).Mul(g.cfg.GridInterval)
	span := decimal.NewFromInt(int64(g.cfg.GridCount)).Mul(g.cfg.GridInterval)

	if g.cfg.GridType.IsLong() {
		base := currentPrice
		if priceLockActive && g.cfg.PriceLockStartAtThreshold && currentPrice.GreaterThan(g.cfg.PriceLockThreshold) {
			base = g.cfg.PriceLockThreshold
		}
		g.cfg.UpperPrice = base.Add(cushion)
		g.cfg.LowerPrice = g.cfg.UpperPrice.Sub(span)
		return
	}

	base := currentPrice
	if priceLockActive && g.cfg.PriceLockStartAtThreshold && currentPrice.LessThan(g.cfg.PriceLockThreshold) {
		base = g.cfg.PriceLockThreshold
	}
	g.cfg.LowerPrice = base.Sub(cushion)
	g.cfg.UpperPrice = g.cfg.LowerPrice.Add(span)
}

// TriggerGridIndex returns the grid index at which a progress-percent based
// mode (scalping, capital protection) arms: progress toward the adverse
// extreme (index 1) expressed as a percent of grid_count.
func (g *Geometry) TriggerGridIndex(triggerPercent int) int {
	consumed := g.cfg.GridCount * triggerPercent / 100
	return tradingutils.ClampIndex(g.cfg.GridCount-consumed, g.cfg.GridCount)
}

// IsArmedAt reports whether currentIndex has reached or passed the
// trigger grid for the given percent threshold.
func (g *Geometry) IsArmedAt(currentIndex, triggerPercent int) bool {
	return currentIndex <= g.TriggerGridIndex(triggerPercent)
}

// ProgressPercent returns how far currentIndex has moved toward the
// adverse extreme, as a percent of grid_count.
func (g *Geometry) ProgressPercent(currentIndex int) int {
	if g.cfg.GridCount == 0 {
		return 0
	}
	return (g.cfg.GridCount - currentIndex) * 100 / g.cfg.GridCount
}

func priceDecimals(cfg *core.GridConfig) int {
	// Price precision is derived from grid_interval's own scale: venues
	// quote prices at the same decimal resolution as the interval.
	return int(cfg.GridInterval.Exponent() * -1)
}
