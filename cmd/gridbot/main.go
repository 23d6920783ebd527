// Command gridbot runs one grid trading instance against a single symbol on
// a single venue, per its YAML config file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridbot/internal/alert"
	"gridbot/internal/balance"
	"gridbot/internal/config"
	"gridbot/internal/coordinator"
	"gridbot/internal/core"
	"gridbot/internal/exchange/mock"
	"gridbot/internal/execution"
	"gridbot/internal/geometry"
	"gridbot/internal/gridstate"
	"gridbot/internal/healthcheck"
	"gridbot/internal/infrastructure/health"
	"gridbot/internal/infrastructure/server"
	"gridbot/internal/modes"
	"gridbot/internal/position"
	"gridbot/internal/positionmonitor"
	"gridbot/internal/reset"
	"gridbot/pkg/logging"

	"github.com/shopspring/decimal"
)

func main() {
	if len(os.Args) < 3 || os.Args[1] != "run" {
		fmt.Fprintln(os.Stderr, "usage: gridbot run <config_path>")
		os.Exit(2)
	}
	configPath := os.Args[2]

	fs := flag.NewFlagSet("gridbot", flag.ExitOnError)
	fs.Parse(os.Args[3:])

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLoggerFromString(cfg.System.LogLevel, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.WithField("symbol", cfg.Trading.Symbol)
	logger.Info("starting grid instance", "config", configPath)

	gridCfg, err := cfg.Trading.ToGridConfig()
	if err != nil {
		logger.Fatal("invalid trading config", "error", err)
	}

	ex := buildExchange(cfg, gridCfg)

	geo := geometry.New(gridCfg)
	state := gridstate.New(gridCfg.GridCount)
	state.InitializeLevels(gridCfg.GridCount, geo.PriceOf)
	eng := execution.New(logger, ex, gridCfg.Symbol, state)
	tracker := position.New()

	alertManager := alert.NewAlertManager(logger)
	notify := func(title, message string) {
		alertManager.Alert(context.Background(), title, message, alert.Warning, nil)
	}

	healthMgr := health.NewHealthManager(logger)

	var co *coordinator.Coordinator

	emergencyStop := func(reason string) {
		logger.Error("health checker requested emergency stop", "reason", reason)
		if co != nil {
			co.Pause()
		}
		notify("grid emergency stop", reason)
	}
	hc := healthcheck.New(logger, ex, eng, geo, state, tracker, gridCfg.Symbol,
		time.Duration(cfg.Trading.OrderHealthCheckIntervalSeconds)*time.Second,
		func() bool { return false }, emergencyStop)
	healthMgr.Register("order_health_checker", func() error { return nil })

	pm := positionmonitor.New(logger, ex, tracker, gridCfg.Symbol, 5*time.Second, gridCfg.OrderAmount,
		gridCfg.SpotReserve,
		func() {
			if co != nil {
				co.Pause()
			}
		},
		func(level positionmonitor.AnomalyLevel, previous, current decimal.Decimal) {
			notify("position anomaly", fmt.Sprintf("level=%v previous=%s current=%s", level, previous, current))
		},
	)

	bm := balance.New(logger, ex, gridCfg.Symbol, baseCurrency(gridCfg.Symbol), quoteCurrency(gridCfg.Symbol),
		10*time.Second, eng.GetCurrentPrice,
		func(snap balance.Snapshot) {
			if co != nil {
				co.CollateralSnapshot(snap)
			}
		},
	)

	rm := reset.New(logger, gridCfg, geo, state, eng, tracker,
		func() { co.DeactivateAllModes() },
		func() { co.ResetModeState() },
		func() { co.ResetPositionMonitorPhase() },
		func(ctx context.Context) (decimal.Decimal, error) { return co.WaitForNextBalance(ctx) },
		func(v decimal.Decimal) { co.SeedInitialCapital(v) },
		func(reason string) {
			co.Pause()
			notify("grid paused", reason)
		},
	)

	var capitalProtection *modes.CapitalProtection
	var scalping *modes.Scalping
	var takeProfit *modes.TakeProfit
	var priceLock *modes.PriceLock
	var priceFollow *modes.PriceFollow

	collateralFn := func() (current, initial decimal.Decimal) {
		return co.Collateral()
	}

	if gridCfg.CapitalProtectionEnabled {
		capitalProtection = modes.NewCapitalProtection(logger, gridCfg, geo, rm.GenericReset, collateralFn)
	}
	if gridCfg.ScalpingEnabled {
		scalping = modes.NewScalping(logger, gridCfg, geo, state, eng, tracker, rm.GenericReset)
	}
	if gridCfg.TakeProfitEnabled {
		takeProfit = modes.NewTakeProfit(logger, gridCfg, rm.GenericReset, collateralFn)
	}
	if gridCfg.PriceLockEnabled {
		priceLock = modes.NewPriceLock(logger, gridCfg)
	}
	if gridCfg.GridType.IsFollow() {
		priceFollow = modes.NewPriceFollow(logger, gridCfg, geo, rm.GenericReset, eng.GetCurrentPrice)
	}

	co = coordinator.New(coordinator.Config{
		Logger:            logger,
		GridCfg:           gridCfg,
		Symbol:            gridCfg.Symbol,
		Geo:               geo,
		State:             state,
		Engine:            eng,
		Tracker:           tracker,
		HealthChecker:     hc,
		PositionMonitor:   pm,
		BalanceMonitor:    bm,
		ResetManager:      rm,
		CapitalProtection: capitalProtection,
		Scalping:          scalping,
		TakeProfit:        takeProfit,
		PriceLock:         priceLock,
		PriceFollow:       priceFollow,
		Alert:             notify,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ex.Connect(ctx); err != nil {
		logger.Fatal("exchange connect failed", "error", err)
	}
	if err := co.Start(ctx); err != nil {
		logger.Fatal("coordinator start failed", "error", err)
	}

	var opsServer *server.HealthServer
	if cfg.System.OpsBindAddr != "" {
		opsServer = server.NewHealthServer(trimColon(cfg.System.OpsBindAddr), logger, healthMgr,
			func() interface{} { return co.GetStatistics() })
		opsServer.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received, stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()

	co.Stop()
	if _, err := ex.CancelAllOrders(shutdownCtx, gridCfg.Symbol); err != nil {
		logger.Warn("cancel-all during shutdown failed", "error", err)
	}
	if err := ex.Disconnect(); err != nil {
		logger.Warn("disconnect during shutdown failed", "error", err)
	}
	if opsServer != nil {
		if err := opsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("ops server shutdown failed", "error", err)
		}
	}
	logger.Info("shutdown complete")
}

// buildExchange constructs the venue adapter. Real venue integrations are
// out of scope; the mock in-memory exchange stands in for any configured
// exchange name, seeded at the grid's midpoint so the instance has
// something to trade against from the first tick.
func buildExchange(cfg *config.Config, gridCfg *core.GridConfig) core.IExchange {
	mid := gridCfg.LowerPrice.Add(gridCfg.UpperPrice).Div(decimal.NewFromInt(2))
	if mid.IsZero() {
		mid = decimal.NewFromInt(100)
	}
	return mock.New(gridCfg.Symbol, baseCurrency(gridCfg.Symbol), quoteCurrency(gridCfg.Symbol),
		mid, decimal.NewFromFloat(0.001), decimal.NewFromInt(1000), decimal.NewFromInt(100000))
}

func baseCurrency(symbol string) string {
	for i, r := range symbol {
		if r == '/' {
			return symbol[:i]
		}
	}
	return symbol
}

func quoteCurrency(symbol string) string {
	for i, r := range symbol {
		if r == '/' {
			return symbol[i+1:]
		}
	}
	return symbol
}

func trimColon(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return addr[1:]
	}
	return addr
}
