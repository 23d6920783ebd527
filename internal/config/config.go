// Package config handles configuration management with validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration structure for one grid instance.
type Config struct {
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Trading   TradingConfig   `yaml:"trading"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ExchangeConfig holds venue connection parameters. Credentials are not
// required at this layer — the adapter behind core.IExchange owns signing —
// but a config file is the natural place for an operator to stage them.
type ExchangeConfig struct {
	Name      string `yaml:"name" validate:"required"`
	APIKey    Secret `yaml:"api_key"`
	SecretKey Secret `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"`
}

// TradingConfig is the YAML surface for core.GridConfig (spec §6
// "Configuration surface"). Fields are plain Go types here; ToGridConfig
// converts to the decimal-typed domain object the rest of the engine uses.
type TradingConfig struct {
	Symbol   string `yaml:"symbol" validate:"required"`
	GridType string `yaml:"grid_type" validate:"required,oneof=long short martingale_long martingale_short follow_long follow_short"`

	GridInterval string `yaml:"grid_interval" validate:"required"`
	OrderAmount  string `yaml:"order_amount" validate:"required"`

	LowerPrice string `yaml:"lower_price"`
	UpperPrice string `yaml:"upper_price"`
	GridCount  int    `yaml:"grid_count"`

	MaxPosition string `yaml:"max_position"`
	FeeRate     string `yaml:"fee_rate"`

	QuantityPrecision int `yaml:"quantity_precision"`

	MartingaleIncrement string `yaml:"martingale_increment"`

	FollowGridCount  int    `yaml:"follow_grid_count"`
	FollowTimeout    int    `yaml:"follow_timeout_seconds"`
	FollowDistance   int    `yaml:"follow_distance"`
	PriceOffsetGrids int    `yaml:"price_offset_grids"`

	ScalpingEnabled         bool `yaml:"scalping_enabled"`
	ScalpingTriggerPercent  int  `yaml:"scalping_trigger_percent"`
	ScalpingTakeProfitGrids int  `yaml:"scalping_take_profit_grids"`

	CapitalProtectionEnabled        bool `yaml:"capital_protection_enabled"`
	CapitalProtectionTriggerPercent int  `yaml:"capital_protection_trigger_percent"`

	TakeProfitEnabled    bool   `yaml:"take_profit_enabled"`
	TakeProfitPercentage string `yaml:"take_profit_percentage"`

	PriceLockEnabled          bool   `yaml:"price_lock_enabled"`
	PriceLockThreshold        string `yaml:"price_lock_threshold"`
	PriceLockStartAtThreshold bool   `yaml:"price_lock_start_at_threshold"`

	ReverseOrderGridDistance int `yaml:"reverse_order_grid_distance"`

	OrderHealthCheckIntervalSeconds int `yaml:"order_health_check_interval_seconds"`

	SpotReserveEnabled   bool   `yaml:"spot_reserve_enabled"`
	SpotReserveAmount    string `yaml:"spot_reserve_amount"`
	SpotBuyFeeRate       string `yaml:"spot_buy_fee_rate"`

	PositionToleranceAbsolute string `yaml:"position_tolerance_absolute"`
	PositionTolerancePercent  string `yaml:"position_tolerance_percent"`
}

// SystemConfig contains process-level settings.
type SystemConfig struct {
	LogLevel    string `yaml:"log_level" validate:"oneof=debug info warn error"`
	OpsBindAddr string `yaml:"ops_bind_addr"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment
// variable expansion, failing closed on any parse or validation error
// (spec §7 "Configuration invalid: fail on load; do not start").
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Exchange.Name == "" {
		errs = append(errs, "exchange.name is required")
	}

	if err := c.Trading.validate(); err != nil {
		errs = append(errs, err.Error())
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, strings.ToLower(c.System.LogLevel)) {
		errs = append(errs, ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.Symbol == "" {
		return ValidationError{Field: "trading.symbol", Message: "symbol is required"}
	}
	gt, err := parseGridType(t.GridType)
	if err != nil {
		return ValidationError{Field: "trading.grid_type", Value: t.GridType, Message: err.Error()}
	}
	if !gt.IsFollow() {
		if t.LowerPrice == "" || t.UpperPrice == "" {
			return ValidationError{Field: "trading.lower_price/upper_price", Message: "required except for follow grid types"}
		}
		lower, err1 := decimal.NewFromString(t.LowerPrice)
		upper, err2 := decimal.NewFromString(t.UpperPrice)
		if err1 != nil || err2 != nil || !lower.LessThan(upper) {
			return ValidationError{Field: "trading.lower_price/upper_price", Message: "lower_price must be less than upper_price"}
		}
		if t.GridCount < 1 {
			return ValidationError{Field: "trading.grid_count", Value: t.GridCount, Message: "must be >= 1"}
		}
	}
	amount, err := decimal.NewFromString(t.OrderAmount)
	if err != nil || !amount.IsPositive() {
		return ValidationError{Field: "trading.order_amount", Value: t.OrderAmount, Message: "must be a positive decimal"}
	}
	interval, err := decimal.NewFromString(t.GridInterval)
	if err != nil || !interval.IsPositive() {
		return ValidationError{Field: "trading.grid_interval", Value: t.GridInterval, Message: "must be a positive decimal"}
	}
	return nil
}

func parseGridType(s string) (core.GridType, error) {
	switch s {
	case "long":
		return core.GridLong, nil
	case "short":
		return core.GridShort, nil
	case "martingale_long":
		return core.GridMartingaleLong, nil
	case "martingale_short":
		return core.GridMartingaleShort, nil
	case "follow_long":
		return core.GridFollowLong, nil
	case "follow_short":
		return core.GridFollowShort, nil
	default:
		return 0, fmt.Errorf("unrecognized grid_type %q", s)
	}
}

// ToGridConfig converts the YAML-friendly TradingConfig into the
// decimal-typed core.GridConfig the engine operates on. Blank optional
// decimal fields become decimal.Zero, matching "disabled" for their
// associated mode flag.
func (t *TradingConfig) ToGridConfig() (*core.GridConfig, error) {
	gridType, err := parseGridType(t.GridType)
	if err != nil {
		return nil, err
	}

	dec := func(s string) decimal.Decimal {
		if s == "" {
			return decimal.Zero
		}
		d, _ := decimal.NewFromString(s)
		return d
	}

	cfg := &core.GridConfig{
		Symbol:                          t.Symbol,
		GridType:                        gridType,
		GridInterval:                    dec(t.GridInterval),
		OrderAmount:                     dec(t.OrderAmount),
		LowerPrice:                      dec(t.LowerPrice),
		UpperPrice:                      dec(t.UpperPrice),
		GridCount:                       t.GridCount,
		MaxPosition:                     dec(t.MaxPosition),
		FeeRate:                         dec(t.FeeRate),
		QuantityPrecision:               t.QuantityPrecision,
		MartingaleIncrement:             dec(t.MartingaleIncrement),
		FollowGridCount:                 t.FollowGridCount,
		FollowTimeout:                   time.Duration(t.FollowTimeout) * time.Second,
		FollowDistance:                  t.FollowDistance,
		PriceOffsetGrids:                t.PriceOffsetGrids,
		ScalpingEnabled:                 t.ScalpingEnabled,
		ScalpingTriggerPercent:          t.ScalpingTriggerPercent,
		ScalpingTakeProfitGrids:         t.ScalpingTakeProfitGrids,
		CapitalProtectionEnabled:        t.CapitalProtectionEnabled,
		CapitalProtectionTriggerPercent: t.CapitalProtectionTriggerPercent,
		TakeProfitEnabled:               t.TakeProfitEnabled,
		TakeProfitPercentage:            dec(t.TakeProfitPercentage),
		PriceLockEnabled:                t.PriceLockEnabled,
		PriceLockThreshold:              dec(t.PriceLockThreshold),
		PriceLockStartAtThreshold:       t.PriceLockStartAtThreshold,
		ReverseOrderGridDistance:        t.ReverseOrderGridDistance,
		OrderHealthCheckInterval:        time.Duration(t.OrderHealthCheckIntervalSeconds) * time.Second,
	}
	if t.SpotReserveEnabled {
		cfg.SpotReserve = &core.SpotReserve{
			Enabled:        true,
			ReserveAmount:  dec(t.SpotReserveAmount),
			SpotBuyFeeRate: dec(t.SpotBuyFeeRate),
		}
	}
	if t.PositionToleranceAbsolute != "" || t.PositionTolerancePercent != "" {
		cfg.PositionTolerance = &core.PositionTolerance{
			AbsoluteTolerance: dec(t.PositionToleranceAbsolute),
			PercentTolerance:  dec(t.PositionTolerancePercent),
		}
	}
	if cfg.ReverseOrderGridDistance == 0 {
		cfg.ReverseOrderGridDistance = 1
	}
	return cfg, nil
}

// String returns a string representation of the configuration with
// sensitive fields masked (Secret's own MarshalYAML does the masking).
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration, useful for tests and for
// generating a starter file.
func DefaultConfig() *Config {
	return &Config{
		Exchange: ExchangeConfig{Name: "mock"},
		Trading: TradingConfig{
			Symbol:                   "X/USDC",
			GridType:                 "long",
			GridInterval:             "0.10",
			OrderAmount:              "1.000",
			LowerPrice:               "100.00",
			UpperPrice:               "110.00",
			GridCount:                100,
			FeeRate:                  "0.0001",
			QuantityPrecision:        3,
			ReverseOrderGridDistance: 1,
		},
		System: SystemConfig{
			LogLevel:    "info",
			OpsBindAddr: ":9090",
		},
		Telemetry: TelemetryConfig{MetricsEnabled: true},
	}
}
