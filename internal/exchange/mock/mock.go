// Package mock is an in-memory core.IExchange conformance double. It is the
// only "exchange" the CLI bootstrap can talk to — real venue adapters are
// explicitly out of scope (spec non-goals) — so it stands in as the default
// for cmd/gridbot and drives a simple random price walk to exercise fills,
// the health checker's twin-snapshot reconciliation, and the balance
// monitor, without any network dependency.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

// Exchange is a single-symbol in-memory venue. Orders placed through
// CreateOrder rest until the price walk crosses them, at which point they
// fill and an OrderUpdate is delivered to the subscribed callback.
type Exchange struct {
	symbol   string
	baseCcy  string
	quoteCcy string

	mu        sync.Mutex
	price     decimal.Decimal
	orders    map[int64]*order
	nextID    int64
	connected bool

	baseBalance  decimal.Decimal
	quoteBalance decimal.Decimal

	userDataCb func(core.OrderUpdate)
	tickerCb   func(core.PriceChange)

	walkVol decimal.Decimal
	stop    chan struct{}
	running atomic.Bool
}

type order struct {
	data     core.OrderData
	clientID string
}

// New creates a mock exchange seeded at startPrice, with startVol as the
// per-tick log-normal-ish step size (e.g. 0.001 for a gentle walk).
func New(symbol, baseCcy, quoteCcy string, startPrice, startVol, baseBalance, quoteBalance decimal.Decimal) *Exchange {
	return &Exchange{
		symbol:       symbol,
		baseCcy:      baseCcy,
		quoteCcy:     quoteCcy,
		price:        startPrice,
		walkVol:      startVol,
		orders:       make(map[int64]*order),
		nextID:       1,
		baseBalance:  baseBalance,
		quoteBalance: quoteBalance,
		stop:         make(chan struct{}),
	}
}

func (e *Exchange) Connect(ctx context.Context) error {
	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	if e.running.CompareAndSwap(false, true) {
		go e.walk()
	}
	return nil
}

func (e *Exchange) Disconnect() error {
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
	if e.running.CompareAndSwap(true, false) {
		close(e.stop)
	}
	return nil
}

func (e *Exchange) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *Exchange) GetTicker(ctx context.Context, symbol string) (core.TickerData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	spread := e.price.Mul(decimal.NewFromFloat(0.0005))
	return core.TickerData{
		Bid:       e.price.Sub(spread),
		Ask:       e.price.Add(spread),
		Last:      e.price,
		Timestamp: time.Now(),
	}, nil
}

func (e *Exchange) GetOrderBook(ctx context.Context, symbol string, depth int) ([]core.OrderBookLevel, []core.OrderBookLevel, error) {
	return nil, nil, nil
}

func (e *Exchange) GetOpenOrders(ctx context.Context, symbol string) ([]core.OrderData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]core.OrderData, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o.data)
	}
	return out, nil
}

func (e *Exchange) GetPositions(ctx context.Context, symbols ...string) ([]core.PositionData, error) {
	return nil, nil
}

func (e *Exchange) GetBalances(ctx context.Context) ([]core.BalanceData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return []core.BalanceData{
		{Currency: e.baseCcy, Free: e.baseBalance, Total: e.baseBalance},
		{Currency: e.quoteCcy, Free: e.quoteBalance, Total: e.quoteBalance},
	}, nil
}

func (e *Exchange) CreateOrder(ctx context.Context, req core.PlaceOrderRequest) (core.OrderData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	o := &order{
		data: core.OrderData{
			ID:       id,
			ClientID: req.ClientID,
			Side:     req.Side,
			Price:    req.Price,
			Amount:   req.Amount,
			Status:   core.OrderOpen,
		},
		clientID: req.ClientID,
	}
	e.orders[id] = o
	return o.data, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.orders[orderID]; !ok {
		return fmt.Errorf("mock exchange: %w", core.ErrUnsupported)
	}
	delete(e.orders, orderID)
	return nil
}

func (e *Exchange) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.orders)
	e.orders = make(map[int64]*order)
	return n, nil
}

func (e *Exchange) PlaceMarketOrder(ctx context.Context, symbol string, side core.OrderSide, amount decimal.Decimal, reduceOnly bool) (core.OrderData, error) {
	e.mu.Lock()
	price := e.price
	e.mu.Unlock()
	return core.OrderData{Side: side, Price: price, Amount: amount, Status: core.OrderFilled}, nil
}

func (e *Exchange) SubscribeUserData(ctx context.Context, cb func(core.OrderUpdate)) error {
	e.mu.Lock()
	e.userDataCb = cb
	e.mu.Unlock()
	return nil
}

func (e *Exchange) SubscribeTicker(ctx context.Context, symbol string, cb func(core.PriceChange)) error {
	e.mu.Lock()
	e.tickerCb = cb
	e.mu.Unlock()
	return nil
}

func (e *Exchange) SubscribePositionUpdates(ctx context.Context, symbol string, cb func(core.PositionData)) error {
	return core.ErrUnsupported
}

func (e *Exchange) Name() string                      { return "mock" }
func (e *Exchange) PriceDecimals(symbol string) int    { return 2 }
func (e *Exchange) QuantityDecimals(symbol string) int { return 3 }

// walk runs the price random walk and fills resting orders the walk crosses,
// delivering an OrderUpdate for each. It runs until Disconnect closes stop.
func (e *Exchange) walk() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.step()
		}
	}
}

func (e *Exchange) step() {
	e.mu.Lock()
	step := e.walkVol.Mul(decimal.NewFromFloat(rand.NormFloat64()))
	e.price = e.price.Add(e.price.Mul(step)).Round(8)
	if e.price.IsNegative() || e.price.IsZero() {
		e.price = decimal.NewFromFloat(0.01)
	}
	price := e.price
	tickerCb := e.tickerCb

	var fills []core.OrderUpdate
	for id, o := range e.orders {
		if o.data.Status != core.OrderOpen {
			continue
		}
		crossed := (o.data.Side == core.SideBuy && price.LessThanOrEqual(o.data.Price)) ||
			(o.data.Side == core.SideSell && price.GreaterThanOrEqual(o.data.Price))
		if !crossed {
			continue
		}
		o.data.Status = core.OrderFilled
		o.data.Filled = o.data.Amount
		fills = append(fills, core.OrderUpdate{
			OrderID:  id,
			ClientID: o.clientID,
			Status:   core.OrderFilled,
			Price:    o.data.Price,
			Amount:   o.data.Amount,
			Symbol:   e.symbol,
		})
		delete(e.orders, id)
	}
	cb := e.userDataCb
	e.mu.Unlock()

	if tickerCb != nil {
		tickerCb(core.PriceChange{Symbol: e.symbol, Price: price, Time: time.Now()})
	}
	if cb != nil {
		for _, u := range fills {
			cb(u)
		}
	}
}
