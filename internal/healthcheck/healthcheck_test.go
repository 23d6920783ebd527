package healthcheck

import (
	"context"
	"testing"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/execution"
	"gridbot/internal/geometry"
	"gridbot/internal/gridstate"
	"gridbot/pkg/logging"

	"github.com/shopspring/decimal"
)

func testConfig() *core.GridConfig {
	return &core.GridConfig{
		GridType:                 core.GridLong,
		GridInterval:             decimal.NewFromFloat(0.10),
		OrderAmount:              decimal.NewFromFloat(1.000),
		LowerPrice:               decimal.NewFromFloat(100.00),
		UpperPrice:               decimal.NewFromFloat(110.00),
		GridCount:                100,
		QuantityPrecision:        3,
		ReverseOrderGridDistance: 1,
	}
}

func TestTheoreticalRangeLeavesProfitGap(t *testing.T) {
	cfg := testConfig()
	theoretical, profitGap := theoreticalRange(cfg, 50)

	if len(theoretical) != cfg.GridCount {
		t.Fatalf("expected theoretical range to span all %d grids, got %d", cfg.GridCount, len(theoretical))
	}
	if _, ok := profitGap[49]; !ok {
		t.Fatal("expected grid 49 to be in the profit gap around current grid 50")
	}
	if _, ok := profitGap[51]; !ok {
		t.Fatal("expected grid 51 to be in the profit gap around current grid 50")
	}
}

func TestMissingIndexesExcludesProfitGap(t *testing.T) {
	theoretical := map[int]struct{}{1: {}, 2: {}, 3: {}}
	covered := map[int]struct{}{1: {}}
	profitGap := map[int]struct{}{2: {}}

	missing := missingIndexes(theoretical, covered, profitGap)
	if len(missing) != 1 || missing[0] != 3 {
		t.Fatalf("expected only grid 3 missing, got %v", missing)
	}
}

type fakeExchange struct {
	orders           []core.OrderData
	positions        []core.PositionData
	marketOrderCalls int
}

func (f *fakeExchange) Connect(ctx context.Context) error { return nil }
func (f *fakeExchange) Disconnect() error                 { return nil }
func (f *fakeExchange) IsConnected() bool                 { return true }
func (f *fakeExchange) GetTicker(ctx context.Context, symbol string) (core.TickerData, error) {
	return core.TickerData{Last: decimal.NewFromFloat(105)}, nil
}
func (f *fakeExchange) GetOrderBook(ctx context.Context, symbol string, depth int) ([]core.OrderBookLevel, []core.OrderBookLevel, error) {
	return nil, nil, nil
}
func (f *fakeExchange) GetOpenOrders(ctx context.Context, symbol string) ([]core.OrderData, error) {
	return f.orders, nil
}
func (f *fakeExchange) GetPositions(ctx context.Context, symbols ...string) ([]core.PositionData, error) {
	return f.positions, nil
}
func (f *fakeExchange) GetBalances(ctx context.Context) ([]core.BalanceData, error) { return nil, nil }
func (f *fakeExchange) CreateOrder(ctx context.Context, req core.PlaceOrderRequest) (core.OrderData, error) {
	return core.OrderData{ID: int64(len(f.orders) + 1), ClientID: req.ClientID, Price: req.Price, Amount: req.Amount, Status: core.OrderOpen}, nil
}
func (f *fakeExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error { return nil }
func (f *fakeExchange) CancelAllOrders(ctx context.Context, symbol string) (int, error)     { return 0, nil }
func (f *fakeExchange) PlaceMarketOrder(ctx context.Context, symbol string, side core.OrderSide, amount decimal.Decimal, reduceOnly bool) (core.OrderData, error) {
	f.marketOrderCalls++
	return core.OrderData{Status: core.OrderFilled, Amount: amount, Side: side}, nil
}
func (f *fakeExchange) SubscribeUserData(ctx context.Context, cb func(core.OrderUpdate)) error {
	return core.ErrUnsupported
}
func (f *fakeExchange) SubscribeTicker(ctx context.Context, symbol string, cb func(core.PriceChange)) error {
	return nil
}
func (f *fakeExchange) SubscribePositionUpdates(ctx context.Context, symbol string, cb func(core.PositionData)) error {
	return core.ErrUnsupported
}
func (f *fakeExchange) Name() string                      { return "fake" }
func (f *fakeExchange) PriceDecimals(symbol string) int    { return 2 }
func (f *fakeExchange) QuantityDecimals(symbol string) int { return 3 }

func TestReconcilePositionSumsPerGridMartingaleAmounts(t *testing.T) {
	cfg := testConfig()
	cfg.GridType = core.GridMartingaleLong
	cfg.GridCount = 3
	cfg.OrderAmount = decimal.NewFromFloat(1.000)
	cfg.MartingaleIncrement = decimal.NewFromFloat(0.500)
	geo := geometry.New(cfg)
	st := gridstate.New(cfg.GridCount)

	// Grid 3 (the top, no distance-from-top martingale bump) still has an
	// open order; grids 1 and 2 are assumed filled, each with its own
	// martingale-scaled size rather than a flat order_amount.
	ex := &fakeExchange{
		orders: []core.OrderData{
			{ID: 1, Price: geo.PriceOf(3)},
		},
	}
	eng := execution.New(logging.NewNop(), ex, "X/USDC", st)
	c := New(logging.NewNop(), ex, eng, geo, st, nil, "X/USDC", time.Minute,
		func() bool { return false },
		func(reason string) {},
	)

	actualIndexes := map[int]struct{}{3: {}}
	theoretical := map[int]struct{}{1: {}, 2: {}, 3: {}}
	wantExpected := geo.OrderAmountOfRounded(1).Add(geo.OrderAmountOfRounded(2))

	// actual matches the per-grid-summed expectation exactly, so no
	// correction order should be placed — if reconcilePosition instead used
	// a flat per-grid count (2 grids * order_amount 1.000 = 2.000) the
	// deviation against this martingale-true actual would be nonzero and
	// would wrongly trigger a market order.
	ex.positions = []core.PositionData{{Side: core.PositionLong, Size: wantExpected}}

	if err := c.reconcilePosition(context.Background(), ex.positions, actualIndexes, theoretical, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.marketOrderCalls != 0 {
		t.Fatalf("expected no correction market order, got %d", ex.marketOrderCalls)
	}
}

func TestRunOnceSkipsCleanupWhileScalpingActive(t *testing.T) {
	cfg := testConfig()
	geo := geometry.New(cfg)
	st := gridstate.New(cfg.GridCount)
	ex := &fakeExchange{
		orders: []core.OrderData{
			{ID: 1, Price: decimal.NewFromFloat(104.90)},
			{ID: 2, Price: decimal.NewFromFloat(104.90)}, // duplicate at the same index
		},
	}
	eng := execution.New(logging.NewNop(), ex, "X/USDC", st)

	c := New(logging.NewNop(), ex, eng, geo, st, nil, "X/USDC", time.Minute,
		func() bool { return true },
		func(reason string) {},
	)

	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// With scalping active, no cancellation calls should have been made; the
	// fake exchange doesn't track cancellations, so this just asserts the
	// pass completes without attempting the cleanup/refill steps that would
	// need engine state the scalping mode currently owns.
}
