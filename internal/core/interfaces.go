package core

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnsupported is returned by IExchange methods the venue has no
// equivalent of, such as SubscribePositionUpdates or SubscribeUserData,
// which not every adapter can offer.
var ErrUnsupported = errors.New("unsupported by this exchange adapter")

// ILogger is the structured logging contract used throughout the engine.
// Field pairs are passed as variadic key/value arguments, mirroring the
// zap sugared-logger convention.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IExchange is the adapter contract consumed by the engine (§6). Any venue
// implementation — real or mock — must satisfy it. Venue-specific signing,
// HTTP transport and WebSocket framing live on the other side of this
// boundary and are not this package's concern.
type IExchange interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	GetTicker(ctx context.Context, symbol string) (TickerData, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) ([]OrderBookLevel, []OrderBookLevel, error)

	GetOpenOrders(ctx context.Context, symbol string) ([]OrderData, error)
	GetPositions(ctx context.Context, symbols ...string) ([]PositionData, error)
	GetBalances(ctx context.Context) ([]BalanceData, error)

	CreateOrder(ctx context.Context, req PlaceOrderRequest) (OrderData, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	CancelAllOrders(ctx context.Context, symbol string) (int, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, amount decimal.Decimal, reduceOnly bool) (OrderData, error)

	SubscribeUserData(ctx context.Context, cb func(OrderUpdate)) error
	SubscribeTicker(ctx context.Context, symbol string, cb func(PriceChange)) error
	SubscribePositionUpdates(ctx context.Context, symbol string, cb func(PositionData)) error // optional; may return ErrUnsupported

	Name() string
	PriceDecimals(symbol string) int
	QuantityDecimals(symbol string) int
}

// IPositionTracker derives position, average cost and realized P&L from the
// fill stream, and accepts authoritative corrections from REST polls.
type IPositionTracker interface {
	OnFill(side OrderSide, price, amount decimal.Decimal, gridID int, feeRate decimal.Decimal)
	SyncInitialPosition(qty, entry decimal.Decimal)
	Position() Position
	RealizedPnL() decimal.Decimal
	TradeHistory() []TradeRecord
}

// IModeManager is the common state-machine interface implemented by each of
// the five grid mode subsystems (§4.8).
type IModeManager interface {
	Name() string
	ShouldTrigger(price decimal.Decimal, gridIdx int) bool
	ShouldExit(price decimal.Decimal, gridIdx int) bool
	Activate(ctx context.Context) error
	Deactivate()
	IsActive() bool
}

// IResetManager exposes the generic teardown+rebuild workflow (§4.9).
type IResetManager interface {
	GenericReset(ctx context.Context, opts ResetOptions) error
	IsResetting() bool
}

// ResetOptions parameterizes a single reset workflow invocation.
type ResetOptions struct {
	ReasonType        string
	ClosePosition     bool
	ReinitCapital     bool
	UpdatePriceRange  bool
}

// IHealthMonitor aggregates liveness checks from registered components.
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ExchangeErrorKind taxonomizes adapter failures (§7, §9) so the engine can
// decide local recovery without string-matching error text.
type ExchangeErrorKind int

const (
	ErrKindTransport ExchangeErrorKind = iota
	ErrKindRejection
	ErrKindTimeout
	ErrKindUnsupported
)

func (k ExchangeErrorKind) String() string {
	switch k {
	case ErrKindTransport:
		return "transport"
	case ErrKindRejection:
		return "rejection"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// ExchangeError wraps an adapter failure with its taxonomized kind.
type ExchangeError struct {
	Kind   ExchangeErrorKind
	Reason string
	Err    error
}

func (e *ExchangeError) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Reason + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Reason
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// clock abstracts time.Now for deterministic tests across packages that
// need to stamp events (position monitor debounce, trade history, resets).
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock is the production Clock implementation.
var RealClock Clock = realClock{}
