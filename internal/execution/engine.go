// Package execution is the Execution Engine (spec §4.4): the only component
// that talks to the exchange adapter for order placement, cancellation and
// price discovery. It owns the expected-cancellations suppression set, the
// dual-id order lookup needed to synthesize immediate fills, and the
// WS-primary/REST-fallback smart monitor that decides which transport to
// trust for fill delivery.
package execution

import (
	"context"
	"sync"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/gridstate"
	"gridbot/pkg/concurrency"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	maxSubBatchSize       = 50
	interBatchSpacing     = 500 * time.Millisecond
	immediateFillWait     = 3 * time.Second
	tickerCacheTTL        = 5 * time.Second
	wsHeartbeatTimeout    = 30 * time.Second
	restFallbackPoll      = 3 * time.Second
	restFallbackRecheck   = 30 * time.Second
)

// Engine wraps an core.IExchange with grid-aware placement, cancellation
// bookkeeping and a cached ticker.
type Engine struct {
	logger   core.ILogger
	exchange core.IExchange
	symbol   string
	state    *gridstate.State

	limiter *rate.Limiter
	pool    *concurrency.WorkerPool

	mu                  sync.Mutex
	expectedCancels     map[int64]struct{} // venue ids the engine itself cancelled
	lastTicker          core.TickerData
	lastTickerAt        time.Time

	monitor *smartMonitor
}

// New constructs an Engine bound to one exchange adapter/symbol/grid state.
func New(logger core.ILogger, exchange core.IExchange, symbol string, state *gridstate.State) *Engine {
	e := &Engine{
		logger:          logger.WithField("component", "execution"),
		exchange:        exchange,
		symbol:          symbol,
		state:           state,
		limiter:         rate.NewLimiter(rate.Every(interBatchSpacing/maxSubBatchSize), maxSubBatchSize),
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:       "order-batch",
			MaxWorkers: maxSubBatchSize,
		}, logger),
		expectedCancels: make(map[int64]struct{}),
	}
	e.monitor = newSmartMonitor(logger, exchange, symbol, e.onOrderUpdate)
	return e
}

// Initialize connects the adapter, subscribes to the ticker stream that
// feeds GetCurrentPrice's cache, and starts the smart fill monitor. A venue
// without a ticker stream is logged and left on REST price fetches.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.exchange.Connect(ctx); err != nil {
		return &core.ExchangeError{Kind: core.ErrKindTransport, Reason: "connect failed", Err: err}
	}
	if err := e.exchange.SubscribeTicker(ctx, e.symbol, func(pc core.PriceChange) {
		e.mu.Lock()
		e.lastTicker = core.TickerData{Last: pc.Price, Timestamp: pc.Time}
		e.lastTickerAt = time.Now()
		e.mu.Unlock()
	}); err != nil {
		e.logger.Warn("ticker stream unavailable, using REST price fetches", "error", err)
	}
	return e.monitor.Start(ctx)
}

// PlaceOrder submits one limit order, indexing it in grid state under a
// fresh client-assigned id before the venue has acknowledged it.
func (e *Engine) PlaceOrder(ctx context.Context, gridID int, side core.OrderSide, price, amount decimal.Decimal) (*core.GridOrder, error) {
	clientID := uuid.NewString()
	o := &core.GridOrder{
		GridID:        gridID,
		ClientOrderID: clientID,
		Side:          side,
		Price:         price,
		Amount:        amount,
		Status:        core.OrderPending,
		CreatedAt:     time.Now(),
	}
	e.state.AddOrder(o)

	resp, err := e.exchange.CreateOrder(ctx, core.PlaceOrderRequest{
		Symbol:   e.symbol,
		Side:     side,
		Type:     core.OrderTypeLimit,
		Amount:   amount,
		Price:    price,
		ClientID: clientID,
	})
	if err != nil {
		o.Status = core.OrderFailed
		e.state.RemoveOrder(gridID)
		return nil, &core.ExchangeError{Kind: core.ErrKindRejection, Reason: "create_order rejected", Err: err}
	}

	e.state.BindVenueID(clientID, resp.ID)
	o.Status = core.OrderOpen
	return o, nil
}

// PlaceBatchOrders submits orders in sub-batches of at most 50. Each
// sub-batch's individual placements run concurrently on a bounded worker
// pool, while the rate limiter still gates how fast requests leave the
// process; the pool only parallelizes the round trip within that budget,
// it never bypasses it. After submission it waits and diffs open orders to
// synthesize fills for any that settled before the engine could subscribe
// to them.
func (e *Engine) PlaceBatchOrders(ctx context.Context, reqs []batchRequest) ([]*core.GridOrder, error) {
	placed := make([]*core.GridOrder, 0, len(reqs))
	var mu sync.Mutex

	for start := 0; start < len(reqs); start += maxSubBatchSize {
		end := start + maxSubBatchSize
		if end > len(reqs) {
			end = len(reqs)
		}
		sub := reqs[start:end]

		var wg sync.WaitGroup
		for _, r := range sub {
			if err := e.limiter.Wait(ctx); err != nil {
				wg.Wait()
				return placed, err
			}
			r := r
			wg.Add(1)
			e.pool.Submit(func() {
				defer wg.Done()
				o, err := e.PlaceOrder(ctx, r.GridID, r.Side, r.Price, r.Amount)
				if err != nil {
					e.logger.Warn("batch order placement failed", "grid_id", r.GridID, "error", err)
					return
				}
				mu.Lock()
				placed = append(placed, o)
				mu.Unlock()
			})
		}
		wg.Wait()
	}

	select {
	case <-time.After(immediateFillWait):
	case <-ctx.Done():
		return placed, ctx.Err()
	}
	if err := e.syncImmediateFills(ctx); err != nil {
		e.logger.Warn("immediate-fill sync after batch failed", "error", err)
	}
	return placed, nil
}

type batchRequest struct {
	GridID int
	Side   core.OrderSide
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// syncImmediateFills diffs the venue's open-order set against grid state:
// any order still marked Open locally but absent from the venue's response
// settled between submission and this check, and is synthesized as a fill.
func (e *Engine) syncImmediateFills(ctx context.Context) error {
	open, err := e.exchange.GetOpenOrders(ctx, e.symbol)
	if err != nil {
		return &core.ExchangeError{Kind: core.ErrKindTransport, Reason: "get_open_orders failed", Err: err}
	}
	stillOpen := make(map[int64]struct{}, len(open))
	for _, o := range open {
		stillOpen[o.ID] = struct{}{}
	}

	for _, o := range e.state.ActiveOrders() {
		if !o.HasVenueID() || o.Status != core.OrderOpen {
			continue
		}
		if _, ok := stillOpen[o.VenueOrderID]; ok {
			continue
		}
		e.onOrderUpdate(core.OrderUpdate{
			OrderID:  o.VenueOrderID,
			ClientID: o.ClientOrderID,
			Status:   core.OrderFilled,
			Price:    o.Price,
			Amount:   o.Amount,
			Symbol:   e.symbol,
		})
	}
	return nil
}

// CancelOrder cancels one order, registering its venue id as an expected
// cancellation so the resulting OrderUpdate is not mistaken for an
// unsolicited venue-side cancel.
func (e *Engine) CancelOrder(ctx context.Context, o *core.GridOrder) error {
	if !o.HasVenueID() {
		e.state.RemoveOrder(o.GridID)
		return nil
	}
	e.markExpectedCancel(o.VenueOrderID)
	if err := e.exchange.CancelOrder(ctx, e.symbol, o.VenueOrderID); err != nil {
		return &core.ExchangeError{Kind: core.ErrKindRejection, Reason: "cancel_order rejected", Err: err}
	}
	e.state.RemoveOrder(o.GridID)
	return nil
}

// CancelAllOrders cancels every resting order, marking all of them expected
// so a full reset doesn't trigger unsolicited-cancel healing.
func (e *Engine) CancelAllOrders(ctx context.Context) (int, error) {
	for _, o := range e.state.ActiveOrders() {
		if o.HasVenueID() {
			e.markExpectedCancel(o.VenueOrderID)
		}
	}
	n, err := e.exchange.CancelAllOrders(ctx, e.symbol)
	if err != nil {
		return n, &core.ExchangeError{Kind: core.ErrKindRejection, Reason: "cancel_all_orders rejected", Err: err}
	}
	for _, o := range e.state.ActiveOrders() {
		e.state.RemoveOrder(o.GridID)
	}
	return n, nil
}

// PlaceMarketOrder submits a reduce-capable market order (used by
// scalping's take-profit leg and the reset manager's position close).
func (e *Engine) PlaceMarketOrder(ctx context.Context, side core.OrderSide, amount decimal.Decimal, reduceOnly bool) (core.OrderData, error) {
	resp, err := e.exchange.PlaceMarketOrder(ctx, e.symbol, side, amount, reduceOnly)
	if err != nil {
		return core.OrderData{}, &core.ExchangeError{Kind: core.ErrKindRejection, Reason: "market order rejected", Err: err}
	}
	return resp, nil
}

// GetCurrentPrice returns the WS-cached ticker price if fresher than
// tickerCacheTTL, otherwise falls back to a REST fetch.
func (e *Engine) GetCurrentPrice(ctx context.Context) (decimal.Decimal, error) {
	e.mu.Lock()
	if time.Since(e.lastTickerAt) < tickerCacheTTL {
		p := e.lastTicker.Last
		e.mu.Unlock()
		return p, nil
	}
	e.mu.Unlock()

	t, err := e.exchange.GetTicker(ctx, e.symbol)
	if err != nil {
		return decimal.Zero, &core.ExchangeError{Kind: core.ErrKindTransport, Reason: "get_ticker failed", Err: err}
	}
	e.mu.Lock()
	e.lastTicker = t
	e.lastTickerAt = time.Now()
	e.mu.Unlock()
	return t.Last, nil
}

func (e *Engine) markExpectedCancel(venueID int64) {
	e.mu.Lock()
	e.expectedCancels[venueID] = struct{}{}
	e.mu.Unlock()
}

func (e *Engine) consumeExpectedCancel(venueID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.expectedCancels[venueID]; ok {
		delete(e.expectedCancels, venueID)
		return true
	}
	return false
}

// SubscribeOrderUpdates registers a callback invoked for every order-status
// transition the engine observes (via either WS or the REST fallback poll),
// in submission order per order id.
func (e *Engine) SubscribeOrderUpdates(cb func(core.OrderUpdate)) {
	e.monitor.subscribe(cb)
}

// onOrderUpdate is the single point through which both WS and REST-fallback
// deliveries flow, so cancellation suppression and immediate-fill synthesis
// share one code path.
func (e *Engine) onOrderUpdate(u core.OrderUpdate) {
	if u.Status == core.OrderCancelled && e.consumeExpectedCancel(u.OrderID) {
		e.logger.Debug("suppressed expected cancellation", "order_id", u.OrderID)
		return
	}
	e.monitor.deliver(u)
}

// Stop halts the smart monitor's background polling.
func (e *Engine) Stop() {
	e.monitor.Stop()
	e.pool.Stop()
}
