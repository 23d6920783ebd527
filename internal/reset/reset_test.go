package reset

import (
	"context"
	"sync"
	"testing"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/execution"
	"gridbot/internal/geometry"
	"gridbot/internal/gridstate"
	"gridbot/internal/position"
	"gridbot/pkg/logging"

	"github.com/shopspring/decimal"
)

type fakeExchange struct {
	mu     sync.Mutex
	nextID int64
	open   map[int64]core.OrderData
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{open: make(map[int64]core.OrderData), nextID: 1}
}

func (f *fakeExchange) Connect(ctx context.Context) error { return nil }
func (f *fakeExchange) Disconnect() error                 { return nil }
func (f *fakeExchange) IsConnected() bool                 { return true }
func (f *fakeExchange) GetTicker(ctx context.Context, symbol string) (core.TickerData, error) {
	return core.TickerData{Last: decimal.NewFromFloat(104.95)}, nil
}
func (f *fakeExchange) GetOrderBook(ctx context.Context, symbol string, depth int) ([]core.OrderBookLevel, []core.OrderBookLevel, error) {
	return nil, nil, nil
}
func (f *fakeExchange) GetOpenOrders(ctx context.Context, symbol string) ([]core.OrderData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.OrderData, 0, len(f.open))
	for _, o := range f.open {
		out = append(out, o)
	}
	return out, nil
}
func (f *fakeExchange) GetPositions(ctx context.Context, symbols ...string) ([]core.PositionData, error) {
	return nil, nil
}
func (f *fakeExchange) GetBalances(ctx context.Context) ([]core.BalanceData, error) { return nil, nil }
func (f *fakeExchange) CreateOrder(ctx context.Context, req core.PlaceOrderRequest) (core.OrderData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	o := core.OrderData{ID: id, ClientID: req.ClientID, Side: req.Side, Price: req.Price, Amount: req.Amount, Status: core.OrderOpen}
	f.open[id] = o
	return o, nil
}
func (f *fakeExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open, orderID)
	return nil
}
func (f *fakeExchange) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.open)
	f.open = make(map[int64]core.OrderData)
	return n, nil
}
func (f *fakeExchange) PlaceMarketOrder(ctx context.Context, symbol string, side core.OrderSide, amount decimal.Decimal, reduceOnly bool) (core.OrderData, error) {
	return core.OrderData{Status: core.OrderFilled, Side: side, Amount: amount}, nil
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

func TestGenericResetRebuildsFullGrid(t *testing.T) {
	cfg := &core.GridConfig{
		GridType:          core.GridLong,
		GridInterval:      decimal.NewFromFloat(0.10),
		OrderAmount:       decimal.NewFromFloat(1.000),
		LowerPrice:        decimal.NewFromFloat(100.00),
		UpperPrice:        decimal.NewFromFloat(110.00),
		GridCount:         10,
		QuantityPrecision: 3,
	}
	geo := geometry.New(cfg)
	st := gridstate.New(cfg.GridCount)
	ex := newFakeExchange()
	eng := execution.New(logging.NewNop(), ex, "X/USDC", st)
	tr := position.New()

	modesDeactivated := false
	modeStateReset := false
	posMonitorReset := false

	mgr := New(
		logging.NewNop(), cfg, geo, st, eng, tr,
		func() { modesDeactivated = true },
		func() { modeStateReset = true },
		func() { posMonitorReset = true },
		nil, nil, nil,
	)

	if err := mgr.GenericReset(context.Background(), core.ResetOptions{ReasonType: "test"}); err != nil {
		t.Fatalf("unexpected reset error: %v", err)
	}

	if !modesDeactivated || !modeStateReset || !posMonitorReset {
		t.Fatal("expected reset to deactivate modes, reset mode state, and reset position monitor")
	}

	active := st.ActiveOrders()
	if len(active) != cfg.GridCount {
		t.Fatalf("expected %d fresh orders after reset, got %d", cfg.GridCount, len(active))
	}
	if mgr.IsResetting() {
		t.Fatal("expected resetting flag cleared after completion")
	}
}

func TestCancelAllVerifiedFailsWhenOrdersPersist(t *testing.T) {
	cfg := &core.GridConfig{GridType: core.GridLong, GridInterval: decimal.NewFromFloat(0.1), GridCount: 5}
	geo := geometry.New(cfg)
	st := gridstate.New(cfg.GridCount)
	ex := newFakeExchange()
	eng := execution.New(logging.NewNop(), ex, "X/USDC", st)

	// Place an order directly into state without telling the fake exchange,
	// so cancel_all can never actually clear it from local bookkeeping.
	st.AddOrder(&core.GridOrder{GridID: 1, ClientOrderID: "stuck", VenueOrderID: 777, Side: core.SideBuy})

	mgr := &Manager{logger: logging.NewNop(), cfg: cfg, geo: geo, state: st, engine: eng}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := mgr.cancelAllVerified(ctx); err == nil {
		t.Fatal("expected cancelAllVerified to fail when an order persists after cancel_all")
	}
}
