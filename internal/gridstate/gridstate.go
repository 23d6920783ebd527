// Package gridstate is the in-memory registry of active grid orders
// (spec §4.2, §3 "Grid State"). It implements the "one object, many
// indexes" pattern from the design notes: orders live in an owning arena
// keyed by grid id, with secondary index maps resolving both a client-side
// id and a venue-side id to the same *core.GridOrder. All mutation is
// expected to happen on the coordinator's single task; this package does
// not itself provide concurrency safety beyond a coarse mutex, matching
// the "single-threaded cooperative scheduler" design (§5).
package gridstate

import (
	"sync"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

// State holds the grid ladder's current order occupancy.
type State struct {
	mu sync.RWMutex

	gridCount int
	byGrid    map[int]*core.GridOrder   // primary mapping: grid_id -> Option<Order>
	byClient  map[string]*core.GridOrder
	byVenue   map[int64]*core.GridOrder

	openBuys  int
	openSells int

	currentPrice decimal.Decimal
	currentGrid  int
}

func New(gridCount int) *State {
	return &State{
		gridCount: gridCount,
		byGrid:    make(map[int]*core.GridOrder, gridCount),
		byClient:  make(map[string]*core.GridOrder, gridCount),
		byVenue:   make(map[int64]*core.GridOrder, gridCount),
	}
}

// InitializeLevels resets the ladder to n levels, leaving every grid id
// empty (no resting order) until AddOrder is called. priceFn is not used.
func (s *State) InitializeLevels(n int, priceFn func(i int) decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gridCount = n
	s.byGrid = make(map[int]*core.GridOrder, n)
	s.byClient = make(map[string]*core.GridOrder, n)
	s.byVenue = make(map[int64]*core.GridOrder, n)
	s.openBuys = 0
	s.openSells = 0
	// priceFn is accepted for symmetry with callers that want to pre-warm a
	// price cache; grid state itself only tracks occupancy, not price.
	_ = priceFn
}

// AddOrder places order o into the arena at o.GridID, indexing it under both
// its client id (if set) and its venue id (if already known).
func (s *State) AddOrder(o *core.GridOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byGrid[o.GridID] = o
	if o.ClientOrderID != "" {
		s.byClient[o.ClientOrderID] = o
	}
	if o.HasVenueID() {
		s.byVenue[o.VenueOrderID] = o
	}
	s.bumpCounter(o.Side, 1)
}

// BindVenueID links a venue-assigned id to an order already known by its
// client id, once the venue acknowledges the order.
func (s *State) BindVenueID(clientID string, venueID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byClient[clientID]
	if !ok {
		return
	}
	o.VenueOrderID = venueID
	s.byVenue[venueID] = o
}

// RemoveOrder evicts an order from every index it is known by.
func (s *State) RemoveOrder(gridID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byGrid[gridID]
	if !ok {
		return
	}
	s.removeLocked(o)
}

func (s *State) removeLocked(o *core.GridOrder) {
	delete(s.byGrid, o.GridID)
	if o.ClientOrderID != "" {
		delete(s.byClient, o.ClientOrderID)
	}
	if o.HasVenueID() {
		delete(s.byVenue, o.VenueOrderID)
	}
	s.bumpCounter(o.Side, -1)
}

func (s *State) bumpCounter(side core.OrderSide, delta int) {
	if side == core.SideBuy {
		s.openBuys += delta
	} else {
		s.openSells += delta
	}
}

// MarkFilled transitions the order known by id (tried as venue id then
// client id) to Filled and records the fill price/amount. It returns the
// order and true if one was found.
func (s *State) MarkFilled(venueID int64, clientID string, price, amount decimal.Decimal) (*core.GridOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.lookupLocked(venueID, clientID)
	if o == nil {
		return nil, false
	}
	o.Status = core.OrderFilled
	o.FilledPrice = price
	o.FilledAmount = amount
	s.removeLocked(o)
	return o, true
}

// Lookup resolves an order by venue id (if nonzero) or client id.
func (s *State) Lookup(venueID int64, clientID string) (*core.GridOrder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o := s.lookupLocked(venueID, clientID)
	return o, o != nil
}

func (s *State) lookupLocked(venueID int64, clientID string) *core.GridOrder {
	if venueID != 0 {
		if o, ok := s.byVenue[venueID]; ok {
			return o
		}
	}
	if clientID != "" {
		if o, ok := s.byClient[clientID]; ok {
			return o
		}
	}
	return nil
}

// AtGrid returns the order resting at gridID, if any.
func (s *State) AtGrid(gridID int) (*core.GridOrder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byGrid[gridID]
	return o, ok
}

// UpdateCurrentPrice records the engine's latest price/grid-id observation.
func (s *State) UpdateCurrentPrice(price decimal.Decimal, gridID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentPrice = price
	s.currentGrid = gridID
}

func (s *State) CurrentPrice() (decimal.Decimal, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentPrice, s.currentGrid
}

// Counters returns the number of open buy and sell orders.
func (s *State) Counters() (buys, sells int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openBuys, s.openSells
}

// GetGridUtilization reports occupied grid count over total grid_count.
func (s *State) GetGridUtilization() (occupied, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byGrid), s.gridCount
}

// ActiveOrders enumerates every distinct order currently on the ladder,
// once per object regardless of how many index maps resolve to it —
// enumeration always goes through the primary grid-id arena.
func (s *State) ActiveOrders() []*core.GridOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.GridOrder, 0, len(s.byGrid))
	for _, o := range s.byGrid {
		out = append(out, o)
	}
	return out
}

// Snapshot is a read-only view suitable for external status reporting
// (e.g. a terminal dashboard), per §3 "serializable to a read-only snapshot".
type Snapshot struct {
	GridCount    int
	OpenBuys     int
	OpenSells    int
	CurrentPrice decimal.Decimal
	CurrentGrid  int
	Orders       []core.GridOrder
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orders := make([]core.GridOrder, 0, len(s.byGrid))
	for _, o := range s.byGrid {
		orders = append(orders, *o)
	}
	return Snapshot{
		GridCount:    s.gridCount,
		OpenBuys:     s.openBuys,
		OpenSells:    s.openSells,
		CurrentPrice: s.currentPrice,
		CurrentGrid:  s.currentGrid,
		Orders:       orders,
	}
}
