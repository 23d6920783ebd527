package geometry

import (
	"gridbot/internal/core"
	"testing"

	"github.com/shopspring/decimal"
)

func longConfig() *core.GridConfig {
	return &core.GridConfig{
		GridType:          core.GridLong,
		GridInterval:      decimal.NewFromFloat(0.10),
		OrderAmount:       decimal.NewFromFloat(1.000),
		LowerPrice:        decimal.NewFromFloat(100.00),
		UpperPrice:        decimal.NewFromFloat(110.00),
		GridCount:         100,
		QuantityPrecision: 3,
	}
}

func TestPriceIndexRoundTrip(t *testing.T) {
	g := New(longConfig())
	for i := 1; i <= 100; i++ {
		p := g.PriceOf(i)
		if got := g.IndexOf(p); got != i {
			t.Fatalf("index_of(price_of(%d)) = %d, want %d (price=%s)", i, got, i, p)
		}
	}
}

func TestIndexOfLowerBoundary(t *testing.T) {
	g := New(longConfig())
	if idx := g.IndexOf(decimal.NewFromFloat(100.00)); idx != 1 {
		t.Fatalf("expected index 1 at lower_price for Long, got %d", idx)
	}

	short := longConfig()
	short.GridType = core.GridShort
	gs := New(short)
	if idx := gs.IndexOf(decimal.NewFromFloat(100.00)); idx != gs.cfg.GridCount {
		t.Fatalf("expected index grid_count at lower_price for Short, got %d", idx)
	}
}

func TestMartingaleSizeMonotonicLong(t *testing.T) {
	cfg := longConfig()
	cfg.GridType = core.GridMartingaleLong
	cfg.MartingaleIncrement = decimal.NewFromFloat(0.01)
	g := New(cfg)

	prev := decimal.Zero
	for i := cfg.GridCount; i >= 1; i-- {
		amt := g.OrderAmountOf(i)
		if i != cfg.GridCount && !amt.GreaterThan(prev) {
			t.Fatalf("expected strictly increasing amount walking from index %d down to 1, got %s after %s", i, amt, prev)
		}
		prev = amt
	}
}

func TestOrderAmountOfFlatWhenNoMartingale(t *testing.T) {
	g := New(longConfig())
	for _, i := range []int{1, 50, 100} {
		if !g.OrderAmountOf(i).Equal(g.Config().OrderAmount) {
			t.Fatalf("expected flat order amount at index %d", i)
		}
	}
}

func TestCheckPriceEscapeFollowOnlyProfitDirection(t *testing.T) {
	cfg := longConfig()
	cfg.GridType = core.GridFollowLong
	cfg.FollowDistance = 1
	g := New(cfg)

	escape, dir := g.CheckPriceEscape(decimal.NewFromFloat(110.20))
	if !escape || !dir {
		t.Fatalf("expected profit-direction escape above upper+cushion")
	}

	escape, _ = g.CheckPriceEscape(decimal.NewFromFloat(99.00))
	if escape {
		t.Fatalf("adverse-direction breach must not trigger escape")
	}
}

func TestTriggerGridIndexSymmetricForLongAndShort(t *testing.T) {
	long := New(longConfig())
	short := longConfig()
	short.GridType = core.GridShort
	shortG := New(short)

	if long.TriggerGridIndex(90) != shortG.TriggerGridIndex(90) {
		t.Fatalf("trigger grid index should be identical in both directions since index 1 is always adverse")
	}
	if long.TriggerGridIndex(90) != 10 {
		t.Fatalf("expected trigger index 10 for grid_count=100, trigger_percent=90, got %d", long.TriggerGridIndex(90))
	}
}
