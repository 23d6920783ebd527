package positionmonitor

import (
	"context"
	"testing"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/position"
	"gridbot/pkg/logging"

	"github.com/shopspring/decimal"
)

type stubExchange struct {
	positions []core.PositionData
	err       error
	calls     int
}

func (s *stubExchange) Connect(ctx context.Context) error { return nil }
func (s *stubExchange) Disconnect() error                 { return nil }
func (s *stubExchange) IsConnected() bool                 { return true }
func (s *stubExchange) GetTicker(ctx context.Context, symbol string) (core.TickerData, error) {
	return core.TickerData{}, nil
}
func (s *stubExchange) GetOrderBook(ctx context.Context, symbol string, depth int) ([]core.OrderBookLevel, []core.OrderBookLevel, error) {
	return nil, nil, nil
}
func (s *stubExchange) GetOpenOrders(ctx context.Context, symbol string) ([]core.OrderData, error) {
	return nil, nil
}
func (s *stubExchange) GetPositions(ctx context.Context, symbols ...string) ([]core.PositionData, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.positions, nil
}
func (s *stubExchange) GetBalances(ctx context.Context) ([]core.BalanceData, error) { return nil, nil }
func (s *stubExchange) CreateOrder(ctx context.Context, req core.PlaceOrderRequest) (core.OrderData, error) {
	return core.OrderData{}, nil
}
func (s *stubExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error { return nil }
func (s *stubExchange) CancelAllOrders(ctx context.Context, symbol string) (int, error)     { return 0, nil }
func (s *stubExchange) PlaceMarketOrder(ctx context.Context, symbol string, side core.OrderSide, amount decimal.Decimal, reduceOnly bool) (core.OrderData, error) {
	return core.OrderData{}, nil
}
func (s *stubExchange) SubscribeUserData(ctx context.Context, cb func(core.OrderUpdate)) error {
	return core.ErrUnsupported
}
func (s *stubExchange) SubscribeTicker(ctx context.Context, symbol string, cb func(core.PriceChange)) error {
	return nil
}
func (s *stubExchange) SubscribePositionUpdates(ctx context.Context, symbol string, cb func(core.PositionData)) error {
	return core.ErrUnsupported
}
func (s *stubExchange) Name() string                      { return "stub" }
func (s *stubExchange) PriceDecimals(symbol string) int    { return 2 }
func (s *stubExchange) QuantityDecimals(symbol string) int { return 3 }

func TestPollOnceSyncsTrackerFromPositions(t *testing.T) {
	ex := &stubExchange{positions: []core.PositionData{
		{Symbol: "X/USDC", Side: core.PositionLong, Size: decimal.NewFromFloat(2.000), EntryPrice: decimal.NewFromFloat(104.50)},
	}}
	tr := position.New()
	m := New(logging.NewNop(), ex, tr, "X/USDC", time.Second, decimal.NewFromFloat(1.000), nil, nil, nil)
	m.startedAt = time.Now().Add(-time.Hour) // force past the initial suppression window

	m.pollOnce(context.Background())

	pos := tr.Position()
	if !pos.Size.Equal(decimal.NewFromFloat(2.000)) {
		t.Fatalf("expected tracker synced to 2.000, got %s", pos.Size)
	}
}

func TestThreeConsecutiveFailuresPausesCoordinator(t *testing.T) {
	ex := &stubExchange{err: context.DeadlineExceeded}
	tr := position.New()
	paused := 0
	m := New(logging.NewNop(), ex, tr, "X/USDC", time.Second, decimal.NewFromFloat(1.000), nil,
		func() { paused++ }, nil)

	for i := 0; i < 3; i++ {
		m.pollOnce(context.Background())
	}
	if paused != 1 {
		t.Fatalf("expected exactly one pause callback after 3 consecutive failures, got %d", paused)
	}
}

func TestAnomalyDetectionClassifiesJumpsAndIsSticky(t *testing.T) {
	ex := &stubExchange{}
	tr := position.New()
	var got []AnomalyLevel
	m := New(logging.NewNop(), ex, tr, "X/USDC", time.Second, decimal.NewFromFloat(1.000), nil, nil,
		func(level AnomalyLevel, prev, cur decimal.Decimal) { got = append(got, level) })
	m.startedAt = time.Now().Add(-time.Hour)
	m.lastSize = decimal.NewFromFloat(1.000)

	m.checkAnomaly(decimal.NewFromFloat(15.000)) // >10x jump -> emergency stop, sticky
	m.checkAnomaly(decimal.NewFromFloat(1.050))  // back to normal, but stickiness should suppress re-evaluation

	if len(got) != 1 || got[0] != AnomalyEmergencyStop {
		t.Fatalf("expected exactly one emergency-stop anomaly, got %v", got)
	}
	if !m.sticky {
		t.Fatal("expected the emergency-stop anomaly to remain sticky")
	}
}

func TestInitialPhaseSuppressesAnomalyAlarms(t *testing.T) {
	ex := &stubExchange{}
	tr := position.New()
	var got []AnomalyLevel
	m := New(logging.NewNop(), ex, tr, "X/USDC", time.Second, decimal.NewFromFloat(1.000), nil, nil,
		func(level AnomalyLevel, prev, cur decimal.Decimal) { got = append(got, level) })
	m.startedAt = time.Now() // still within the 60s initial phase
	m.lastSize = decimal.NewFromFloat(1.000)

	m.checkAnomaly(decimal.NewFromFloat(50.000))

	if len(got) != 0 {
		t.Fatalf("expected anomaly alarms suppressed during initial phase, got %v", got)
	}
}
