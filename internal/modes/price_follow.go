package modes

import (
	"context"
	"sync"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/geometry"

	"github.com/shopspring/decimal"
)

const priceFollowTickInterval = 10 * time.Second

// PriceFollow runs its own background tick rather than being polled by the
// coordinator's per-fill evaluation: it watches for the price escaping the
// corridor in the profit direction, starts a timer once it does, and after
// follow_timeout of sustained escape triggers a reset with a fresh corridor
// centered on the current price. An adverse-direction breach is ignored by
// design — that's the health checker's and position monitor's job.
type PriceFollow struct {
	deps
	priceFn func(ctx context.Context) (decimal.Decimal, error)

	mu          sync.Mutex
	active      bool
	escapeSince time.Time
	escaping    bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPriceFollow(logger core.ILogger, cfg *core.GridConfig, geo *geometry.Geometry, triggerReset TriggerReset, priceFn func(ctx context.Context) (decimal.Decimal, error)) *PriceFollow {
	return &PriceFollow{
		deps:    deps{logger: logger.WithField("mode", "price_follow"), cfg: cfg, geo: geo, triggerReset: triggerReset},
		priceFn: priceFn,
	}
}

func (f *PriceFollow) Name() string { return "price_follow" }

// ShouldTrigger/ShouldExit are not used: Follow resets are driven entirely
// by the background tick loop, not the coordinator's per-fill evaluation.
func (f *PriceFollow) ShouldTrigger(price decimal.Decimal, gridIdx int) bool { return false }
func (f *PriceFollow) ShouldExit(price decimal.Decimal, gridIdx int) bool    { return false }

func (f *PriceFollow) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Activate starts the background escape-check loop. Only meaningful for
// Follow grid types; callers should not construct this mode otherwise.
func (f *PriceFollow) Activate(ctx context.Context) error {
	if !f.cfg.GridType.IsFollow() {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.active = true
	f.cancel = cancel
	f.mu.Unlock()

	f.wg.Add(1)
	go f.loop(runCtx)
	return nil
}

func (f *PriceFollow) Deactivate() {
	f.mu.Lock()
	cancel := f.cancel
	f.active = false
	f.escaping = false
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	f.wg.Wait()
}

func (f *PriceFollow) loop(ctx context.Context) {
	defer f.wg.Done()
	ticker := time.NewTicker(priceFollowTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick(ctx)
		}
	}
}

func (f *PriceFollow) tick(ctx context.Context) {
	price, err := f.priceFn(ctx)
	if err != nil {
		f.logger.Warn("price fetch for follow-mode escape check failed", "error", err)
		return
	}

	escape, direction := f.geo.CheckPriceEscape(price)
	if !escape || !direction {
		f.mu.Lock()
		f.escaping = false
		f.mu.Unlock()
		return
	}

	f.mu.Lock()
	if !f.escaping {
		f.escaping = true
		f.escapeSince = time.Now()
	}
	elapsed := time.Since(f.escapeSince)
	f.mu.Unlock()

	if elapsed < f.cfg.FollowTimeout {
		return
	}

	f.logger.Info("follow-mode escape sustained past follow_timeout, resetting with re-centered range", "price", price)
	f.geo.UpdatePriceRangeForFollowMode(price, false)
	if err := f.triggerReset(ctx, core.ResetOptions{
		ReasonType:       "price_follow",
		ClosePosition:    false,
		ReinitCapital:    false,
		UpdatePriceRange: true,
	}); err != nil {
		f.logger.Warn("follow-mode reset failed", "error", err)
		return
	}

	f.mu.Lock()
	f.escaping = false
	f.mu.Unlock()
}
var _ core.IModeManager = (*PriceFollow)(nil)
