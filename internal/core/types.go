// Package core defines the domain types and adapter contracts shared across
// the grid engine: the exchange boundary, the logger abstraction, and the
// plain value types that flow between the coordinator and its subsystems.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// GridType selects the grid's directional bias and sizing scheme.
type GridType int

const (
	GridLong GridType = iota
	GridShort
	GridMartingaleLong
	GridMartingaleShort
	GridFollowLong
	GridFollowShort
)

func (t GridType) String() string {
	switch t {
	case GridLong:
		return "long"
	case GridShort:
		return "short"
	case GridMartingaleLong:
		return "martingale_long"
	case GridMartingaleShort:
		return "martingale_short"
	case GridFollowLong:
		return "follow_long"
	case GridFollowShort:
		return "follow_short"
	default:
		return "unknown"
	}
}

// IsLong reports whether this grid type accumulates a long exposure
// (Grid 1 is the lowest price, the adverse extreme).
func (t GridType) IsLong() bool {
	return t == GridLong || t == GridMartingaleLong || t == GridFollowLong
}

// IsMartingale reports whether per-grid size varies with a linear increment.
func (t GridType) IsMartingale() bool {
	return t == GridMartingaleLong || t == GridMartingaleShort
}

// IsFollow reports whether the corridor re-centers on live price.
func (t GridType) IsFollow() bool {
	return t == GridFollowLong || t == GridFollowShort
}

// OrderSide is the direction of a grid order.
type OrderSide int

const (
	SideBuy OrderSide = iota
	SideSell
)

func (s OrderSide) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the lifecycle state of a GridOrder.
type OrderStatus int

const (
	OrderPending OrderStatus = iota
	OrderOpen
	OrderFilled
	OrderCancelled
	OrderFailed
)

func (s OrderStatus) String() string {
	switch s {
	case OrderPending:
		return "pending"
	case OrderOpen:
		return "open"
	case OrderFilled:
		return "filled"
	case OrderCancelled:
		return "cancelled"
	case OrderFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transitions are expected.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderCancelled || s == OrderFailed
}

// PositionTolerance configures the health checker's reconciliation slack.
type PositionTolerance struct {
	AbsoluteTolerance decimal.Decimal
	PercentTolerance  decimal.Decimal
}

// SpotReserve configures base-currency reservation for spot-market grids.
type SpotReserve struct {
	Enabled        bool
	ReserveAmount  decimal.Decimal
	SpotBuyFeeRate decimal.Decimal
}

// GridConfig is the immutable-after-load configuration for one grid instance.
type GridConfig struct {
	Exchange string
	Symbol   string
	GridType GridType

	GridInterval decimal.Decimal
	OrderAmount  decimal.Decimal

	LowerPrice decimal.Decimal
	UpperPrice decimal.Decimal
	GridCount  int

	MaxPosition decimal.Decimal
	FeeRate     decimal.Decimal

	QuantityPrecision int

	MartingaleIncrement decimal.Decimal

	FollowGridCount  int
	FollowTimeout    time.Duration
	FollowDistance   int
	PriceOffsetGrids int

	ScalpingEnabled         bool
	ScalpingTriggerPercent  int
	ScalpingTakeProfitGrids int

	CapitalProtectionEnabled        bool
	CapitalProtectionTriggerPercent int

	TakeProfitEnabled    bool
	TakeProfitPercentage decimal.Decimal

	PriceLockEnabled          bool
	PriceLockThreshold        decimal.Decimal
	PriceLockStartAtThreshold bool

	ReverseOrderGridDistance int

	OrderHealthCheckInterval time.Duration

	SpotReserve       *SpotReserve
	PositionTolerance *PositionTolerance
}

// HasMartingale reports whether per-grid size varies.
func (c *GridConfig) HasMartingale() bool {
	return c.GridType.IsMartingale() && !c.MartingaleIncrement.IsZero()
}

// GridOrder is a single resting (or historical) order on the grid ladder.
//
// Ownership: exclusively owned by Grid State. Everything else holds only
// indexes into it; both a client-assigned id and a venue-assigned id may
// route to the same *GridOrder.
type GridOrder struct {
	GridID int

	ClientOrderID string
	VenueOrderID  int64 // 0 until the venue acks

	Side   OrderSide
	Price  decimal.Decimal
	Amount decimal.Decimal
	Status OrderStatus

	FilledPrice  decimal.Decimal
	FilledAmount decimal.Decimal

	CreatedAt time.Time

	ParentOrderID  string
	ReverseOrderID string
}

// HasVenueID reports whether the venue has acknowledged this order.
func (o *GridOrder) HasVenueID() bool {
	return o.VenueOrderID != 0
}

// Position is the tracker's derived view of exposure in one symbol.
// Positive Size is long, negative is short.
type Position struct {
	Size        decimal.Decimal
	AverageCost decimal.Decimal
}

// TradeRecord is one append-only entry in the bounded trade history ring.
type TradeRecord struct {
	Time               time.Time
	Side               OrderSide
	Price              decimal.Decimal
	Amount             decimal.Decimal
	GridID             int
	RunningRealizedPnL decimal.Decimal
}

// Exchange adapter contract value types (§6). These are what a venue
// adapter returns to the engine; venue-specific quirks are translated
// before crossing this boundary.

type TickerData struct {
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	Timestamp time.Time
}

type OrderBookLevel struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

type OrderData struct {
	ID       int64
	ClientID string
	Side     OrderSide
	Price    decimal.Decimal
	Amount   decimal.Decimal
	Filled   decimal.Decimal
	Average  decimal.Decimal
	Status   OrderStatus
}

type PositionSide int

const (
	PositionLong PositionSide = iota
	PositionShort
)

type PositionData struct {
	Symbol        string
	Side          PositionSide
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

type BalanceData struct {
	Currency        string
	Free            decimal.Decimal
	Used            decimal.Decimal
	Total           decimal.Decimal
	NetEquity       decimal.Decimal
	NetEquityLocked decimal.Decimal
}

// OrderUpdate is delivered to the engine's subscribed callback, in
// submission order per order id, whenever an order's state changes.
type OrderUpdate struct {
	OrderID  int64
	ClientID string
	Status   OrderStatus
	Price    decimal.Decimal
	Amount   decimal.Decimal
	Symbol   string
}

// PriceChange is a ticker tick delivered over the price stream.
type PriceChange struct {
	Symbol string
	Price  decimal.Decimal
	Time   time.Time
}

type OrderType int

const (
	OrderTypeLimit OrderType = iota
	OrderTypeMarket
)

// PlaceOrderRequest is what the engine submits to the exchange adapter.
type PlaceOrderRequest struct {
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Amount     decimal.Decimal
	Price      decimal.Decimal
	ClientID   string
	ReduceOnly bool
	BatchMode  bool
}
