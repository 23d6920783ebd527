// Package position implements the Position Tracker (spec §4.3, §3
// "Position"): a derived view of exposure, average cost and realized P&L
// built from the fill stream, subject to periodic authoritative correction
// from REST (see internal/positionmonitor).
package position

import (
	"sync"
	"time"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

const maxTradeHistory = 1000

// Tracker implements core.IPositionTracker.
type Tracker struct {
	mu sync.RWMutex

	size       decimal.Decimal
	cost       decimal.Decimal // cost basis of the current position
	avgCost    decimal.Decimal
	realized   decimal.Decimal
	buyCount   int

	history []core.TradeRecord
}

func New() *Tracker {
	return &Tracker{
		size:     decimal.Zero,
		cost:     decimal.Zero,
		avgCost:  decimal.Zero,
		realized: decimal.Zero,
	}
}

// OnFill applies one Filled event to the tracker (§4.3).
//
// Buy: cost += price*amount, size += amount, buy_count++.
// Sell while long: realize P&L on the sold units at the current average
// cost net of the fill's own fee, reduce both size and cost basis
// proportionally. Sell while flat or short: this is a short-build leg, zero
// realized P&L.
func (t *Tracker) OnFill(side core.OrderSide, price, amount decimal.Decimal, gridID int, feeRate decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch side {
	case core.SideBuy:
		t.cost = t.cost.Add(price.Mul(amount))
		t.size = t.size.Add(amount)
		t.buyCount++
	case core.SideSell:
		if t.size.GreaterThan(decimal.Zero) {
			// Fees are realized immediately against the closed units rather
			// than folded into cost basis, so average cost on the remaining
			// position still reflects the quoted fill price alone.
			basis := t.avgCost.Mul(amount)
			fee := EstimateFee(price, amount, feeRate)
			t.realized = t.realized.Add(price.Sub(t.avgCost).Mul(amount)).Sub(fee)
			t.size = t.size.Sub(amount)
			t.cost = t.cost.Sub(basis)
		} else {
			// Short-build leg: no realized P&L yet, just extend the short.
			t.size = t.size.Sub(amount)
			t.cost = t.cost.Add(price.Mul(amount))
		}
	}

	if !t.size.IsZero() {
		t.avgCost = t.cost.Div(t.size.Abs())
	} else {
		t.avgCost = decimal.Zero
		t.cost = decimal.Zero
	}

	t.appendHistoryLocked(core.TradeRecord{
		Time:               time.Now(),
		Side:               side,
		Price:              price,
		Amount:             amount,
		GridID:             gridID,
		RunningRealizedPnL: t.realized,
	})
}

func (t *Tracker) appendHistoryLocked(rec core.TradeRecord) {
	t.history = append(t.history, rec)
	if len(t.history) > maxTradeHistory {
		t.history = t.history[len(t.history)-maxTradeHistory:]
	}
}

// EstimateFee returns the fee estimate for a prospective fill, independent
// of OnFill's bookkeeping (so callers can quote a net-of-fee reverse price).
func EstimateFee(price, amount, feeRate decimal.Decimal) decimal.Decimal {
	return price.Mul(amount).Mul(feeRate)
}

// SyncInitialPosition overwrites tracker state from an external authority
// (REST). The tracker is a derived view that may be corrected wholesale,
// not the authoritative ledger — called on every position-monitor poll.
func (t *Tracker) SyncInitialPosition(qty, entry decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.size = qty
	t.avgCost = entry
	t.cost = entry.Mul(qty.Abs())
}

func (t *Tracker) Position() core.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return core.Position{Size: t.size, AverageCost: t.avgCost}
}

func (t *Tracker) RealizedPnL() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.realized
}

func (t *Tracker) BuyCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.buyCount
}

func (t *Tracker) TradeHistory() []core.TradeRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.TradeRecord, len(t.history))
	copy(out, t.history)
	return out
}

var _ core.IPositionTracker = (*Tracker)(nil)
