package balance

import (
	"context"
	"testing"
	"time"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

type fakeBalanceExchange struct {
	balances []core.BalanceData
}

func (f *fakeBalanceExchange) Connect(ctx context.Context) error { return nil }
func (f *fakeBalanceExchange) Disconnect() error                 { return nil }
func (f *fakeBalanceExchange) IsConnected() bool                 { return true }
func (f *fakeBalanceExchange) GetTicker(ctx context.Context, symbol string) (core.TickerData, error) {
	return core.TickerData{}, nil
}
func (f *fakeBalanceExchange) GetOrderBook(ctx context.Context, symbol string, depth int) ([]core.OrderBookLevel, []core.OrderBookLevel, error) {
	return nil, nil, nil
}
func (f *fakeBalanceExchange) GetOpenOrders(ctx context.Context, symbol string) ([]core.OrderData, error) {
	return nil, nil
}
func (f *fakeBalanceExchange) GetPositions(ctx context.Context, symbols ...string) ([]core.PositionData, error) {
	return nil, nil
}
func (f *fakeBalanceExchange) GetBalances(ctx context.Context) ([]core.BalanceData, error) {
	return f.balances, nil
}
func (f *fakeBalanceExchange) CreateOrder(ctx context.Context, req core.PlaceOrderRequest) (core.OrderData, error) {
	return core.OrderData{}, nil
}
func (f *fakeBalanceExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return nil
}
func (f *fakeBalanceExchange) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	return 0, nil
}
func (f *fakeBalanceExchange) PlaceMarketOrder(ctx context.Context, symbol string, side core.OrderSide, amount decimal.Decimal, reduceOnly bool) (core.OrderData, error) {
	return core.OrderData{}, nil
}
func (f *fakeBalanceExchange) SubscribeUserData(ctx context.Context, cb func(core.OrderUpdate)) error {
	return core.ErrUnsupported
}
func (f *fakeBalanceExchange) SubscribeTicker(ctx context.Context, symbol string, cb func(core.PriceChange)) error {
	return nil
}
func (f *fakeBalanceExchange) SubscribePositionUpdates(ctx context.Context, symbol string, cb func(core.PositionData)) error {
	return core.ErrUnsupported
}
func (f *fakeBalanceExchange) Name() string                      { return "fake" }
func (f *fakeBalanceExchange) PriceDecimals(symbol string) int    { return 2 }
func (f *fakeBalanceExchange) QuantityDecimals(symbol string) int { return 3 }

func TestPollOnceComputesSpotCollateral(t *testing.T) {
	ex := &fakeBalanceExchange{balances: []core.BalanceData{
		{Currency: "USDC", Free: decimal.NewFromFloat(500.00)},
		{Currency: "X", Free: decimal.NewFromFloat(2.000)},
	}}
	var snaps []Snapshot
	m := New(nopLogger{}, ex, "X/USDC", "X", "USDC", time.Second,
		func(ctx context.Context) (decimal.Decimal, error) { return decimal.NewFromFloat(100.00), nil },
		func(s Snapshot) { snaps = append(snaps, s) })

	m.pollOnce(context.Background())

	if len(snaps) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(snaps))
	}
	want := decimal.NewFromFloat(700.00) // 500 + 2*100
	if !snaps[0].CollateralBalance.Equal(want) {
		t.Fatalf("expected collateral %s, got %s", want, snaps[0].CollateralBalance)
	}
	if !m.Seeded() {
		t.Fatal("expected monitor to be marked seeded after first successful poll")
	}
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, fields ...interface{}) {}
func (nopLogger) Info(msg string, fields ...interface{})  {}
func (nopLogger) Warn(msg string, fields ...interface{})  {}
func (nopLogger) Error(msg string, fields ...interface{}) {}
func (nopLogger) Fatal(msg string, fields ...interface{}) {}
func (l nopLogger) WithField(key string, value interface{}) core.ILogger { return l }
func (l nopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }
