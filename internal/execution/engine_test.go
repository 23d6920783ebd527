package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/gridstate"
	"gridbot/pkg/logging"

	"github.com/shopspring/decimal"
)

// mockExchange is a minimal core.IExchange good enough to drive the engine
// in tests without any real network transport.
type mockExchange struct {
	mu         sync.Mutex
	nextID     int64
	open       map[int64]core.OrderData
	userDataCB func(core.OrderUpdate)
	cancelled  []int64
	rejectNext bool
}

func newMockExchange() *mockExchange {
	return &mockExchange{open: make(map[int64]core.OrderData), nextID: 1}
}

func (m *mockExchange) Connect(ctx context.Context) error { return nil }
func (m *mockExchange) Disconnect() error                 { return nil }
func (m *mockExchange) IsConnected() bool                 { return true }

func (m *mockExchange) GetTicker(ctx context.Context, symbol string) (core.TickerData, error) {
	return core.TickerData{Last: decimal.NewFromFloat(105.00), Timestamp: time.Now()}, nil
}

func (m *mockExchange) GetOrderBook(ctx context.Context, symbol string, depth int) ([]core.OrderBookLevel, []core.OrderBookLevel, error) {
	return nil, nil, nil
}

func (m *mockExchange) GetOpenOrders(ctx context.Context, symbol string) ([]core.OrderData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.OrderData, 0, len(m.open))
	for _, o := range m.open {
		out = append(out, o)
	}
	return out, nil
}

func (m *mockExchange) GetPositions(ctx context.Context, symbols ...string) ([]core.PositionData, error) {
	return nil, nil
}

func (m *mockExchange) GetBalances(ctx context.Context) ([]core.BalanceData, error) { return nil, nil }

func (m *mockExchange) CreateOrder(ctx context.Context, req core.PlaceOrderRequest) (core.OrderData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejectNext {
		m.rejectNext = false
		return core.OrderData{}, context.DeadlineExceeded
	}
	id := m.nextID
	m.nextID++
	o := core.OrderData{ID: id, ClientID: req.ClientID, Side: req.Side, Price: req.Price, Amount: req.Amount, Status: core.OrderOpen}
	m.open[id] = o
	return o, nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, orderID)
	m.cancelled = append(m.cancelled, orderID)
	return nil
}

func (m *mockExchange) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.open)
	m.open = make(map[int64]core.OrderData)
	return n, nil
}

func (m *mockExchange) PlaceMarketOrder(ctx context.Context, symbol string, side core.OrderSide, amount decimal.Decimal, reduceOnly bool) (core.OrderData, error) {
	return core.OrderData{ID: 999, Side: side, Amount: amount, Status: core.OrderFilled}, nil
}

func (m *mockExchange) SubscribeUserData(ctx context.Context, cb func(core.OrderUpdate)) error {
	m.mu.Lock()
	m.userDataCB = cb
	m.mu.Unlock()
	return nil
}

func (m *mockExchange) SubscribeTicker(ctx context.Context, symbol string, cb func(core.PriceChange)) error {
	return nil
}

func (m *mockExchange) SubscribePositionUpdates(ctx context.Context, symbol string, cb func(core.PositionData)) error {
	return core.ErrUnsupported
}

func (m *mockExchange) Name() string                            { return "mock" }
func (m *mockExchange) PriceDecimals(symbol string) int          { return 2 }
func (m *mockExchange) QuantityDecimals(symbol string) int       { return 3 }

// settleOrder simulates the venue filling an order without engine involvement.
func (m *mockExchange) settleOrder(id int64) {
	m.mu.Lock()
	delete(m.open, id)
	m.mu.Unlock()
}

func newTestEngine(ex *mockExchange) *Engine {
	logger := logging.NewNop()
	st := gridstate.New(100)
	return New(logger, ex, "X/USDC", st)
}

func TestPlaceOrderBindsVenueIDAfterAck(t *testing.T) {
	ex := newMockExchange()
	e := newTestEngine(ex)

	o, err := e.PlaceOrder(context.Background(), 50, core.SideBuy, decimal.NewFromFloat(104.90), decimal.NewFromFloat(1.000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !o.HasVenueID() {
		t.Fatal("expected venue id to be bound after a successful create_order")
	}
	if o.Status != core.OrderOpen {
		t.Fatalf("expected order status open, got %s", o.Status)
	}
}

func TestCancelOrderSuppressesExpectedCancellation(t *testing.T) {
	ex := newMockExchange()
	e := newTestEngine(ex)

	o, _ := e.PlaceOrder(context.Background(), 1, core.SideBuy, decimal.NewFromFloat(100), decimal.NewFromFloat(1))

	var delivered []core.OrderUpdate
	e.SubscribeOrderUpdates(func(u core.OrderUpdate) { delivered = append(delivered, u) })

	if err := e.CancelOrder(context.Background(), o); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}
	// Simulate the venue echoing the cancellation back over the user-data
	// stream; it must be suppressed since the engine itself requested it.
	e.onOrderUpdate(core.OrderUpdate{OrderID: o.VenueOrderID, Status: core.OrderCancelled})

	if len(delivered) != 0 {
		t.Fatalf("expected the expected-cancellation to be suppressed, got %d deliveries", len(delivered))
	}
}

func TestUnsolicitedCancelIsDelivered(t *testing.T) {
	ex := newMockExchange()
	e := newTestEngine(ex)
	o, _ := e.PlaceOrder(context.Background(), 1, core.SideBuy, decimal.NewFromFloat(100), decimal.NewFromFloat(1))

	var delivered []core.OrderUpdate
	e.SubscribeOrderUpdates(func(u core.OrderUpdate) { delivered = append(delivered, u) })

	// No CancelOrder call precedes this: the venue cancelled it on its own.
	e.onOrderUpdate(core.OrderUpdate{OrderID: o.VenueOrderID, Status: core.OrderCancelled})

	if len(delivered) != 1 {
		t.Fatalf("expected the unsolicited cancellation to be delivered for healing, got %d", len(delivered))
	}
}

func TestSyncImmediateFillsDetectsSettledOrder(t *testing.T) {
	ex := newMockExchange()
	e := newTestEngine(ex)
	o, _ := e.PlaceOrder(context.Background(), 1, core.SideBuy, decimal.NewFromFloat(100), decimal.NewFromFloat(1))

	var delivered []core.OrderUpdate
	e.SubscribeOrderUpdates(func(u core.OrderUpdate) { delivered = append(delivered, u) })

	// Settle behind the engine's back, simulating a fill between submission
	// and the batch-wait check.
	ex.settleOrder(o.VenueOrderID)

	if err := e.syncImmediateFills(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(delivered) != 1 || delivered[0].Status != core.OrderFilled {
		t.Fatalf("expected a synthesized fill delivery, got %+v", delivered)
	}
}

func TestGetCurrentPriceCachesWithinTTL(t *testing.T) {
	ex := newMockExchange()
	e := newTestEngine(ex)

	p1, err := e.GetCurrentPrice(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p1.Equal(decimal.NewFromFloat(105.00)) {
		t.Fatalf("expected price 105.00, got %s", p1)
	}
	p2, _ := e.GetCurrentPrice(context.Background())
	if !p2.Equal(p1) {
		t.Fatalf("expected cached price to match first fetch")
	}
}
