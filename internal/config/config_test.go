package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:  "expand single env var",
			input: "api_key: ${TEST_API_KEY}",
			envVars: map[string]string{
				"TEST_API_KEY": "test_key_123",
			},
			expected: "api_key: test_key_123",
		},
		{
			name:  "expand multiple env vars",
			input: "api_key: ${API_KEY}\nsecret: ${SECRET_KEY}",
			envVars: map[string]string{
				"API_KEY":    "key_value",
				"SECRET_KEY": "secret_value",
			},
			expected: "api_key: key_value\nsecret: secret_value",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "api_key: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}
			result := expandEnvVars(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "config-test-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	configContent := `exchange:
  name: "binance"
  api_key: "${TEST_BINANCE_API_KEY}"
  secret_key: "${TEST_BINANCE_SECRET_KEY}"

trading:
  symbol: "X/USDC"
  grid_type: "long"
  grid_interval: "0.10"
  order_amount: "1.000"
  lower_price: "100.00"
  upper_price: "110.00"
  grid_count: 100
  reverse_order_grid_distance: 1

system:
  log_level: "info"
`

	_, err = tmpFile.Write([]byte(configContent))
	require.NoError(t, err)
	tmpFile.Close()

	os.Setenv("TEST_BINANCE_API_KEY", "test_api_key_from_env")
	os.Setenv("TEST_BINANCE_SECRET_KEY", "test_secret_key_from_env")
	defer os.Unsetenv("TEST_BINANCE_API_KEY")
	defer os.Unsetenv("TEST_BINANCE_SECRET_KEY")

	cfg, err := LoadConfig(tmpFile.Name())
	require.NoError(t, err, "LoadConfig() error")

	assert.Equal(t, Secret("test_api_key_from_env"), cfg.Exchange.APIKey)
	assert.Equal(t, Secret("test_secret_key_from_env"), cfg.Exchange.SecretKey)
}

func TestLoadConfigRejectsInvertedPriceRange(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "config-test-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.Write([]byte(`exchange:
  name: "binance"
trading:
  symbol: "X/USDC"
  grid_type: "long"
  grid_interval: "0.10"
  order_amount: "1.000"
  lower_price: "110.00"
  upper_price: "100.00"
  grid_count: 100
system:
  log_level: "info"
`))
	require.NoError(t, err)
	tmpFile.Close()

	_, err = LoadConfig(tmpFile.Name())
	assert.Error(t, err)
}

func TestTradingConfigToGridConfigDefaultsReverseDistanceToOne(t *testing.T) {
	tc := &TradingConfig{
		Symbol: "X/USDC", GridType: "long",
		GridInterval: "0.10", OrderAmount: "1.000",
		LowerPrice: "100.00", UpperPrice: "110.00", GridCount: 100,
	}
	gc, err := tc.ToGridConfig()
	require.NoError(t, err)
	assert.Equal(t, 1, gc.ReverseOrderGridDistance)
}

func TestConfigStringRedactsSecrets(t *testing.T) {
	cfg := &Config{
		Exchange: ExchangeConfig{
			Name:      "binance",
			APIKey:    Secret("my_super_secret_api_key"),
			SecretKey: Secret("my_super_secret_secret_key"),
		},
	}
	output := cfg.String()

	assert.Contains(t, output, "REDACTED")
	assert.NotContains(t, output, "my_super_secret_api_key")
	assert.NotContains(t, output, "my_super_secret_secret_key")
}
