package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_YAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
screening:
  min_liquidity: 12.5
  blacklisted_patterns: ["rug", "scam"]
trading:
  max_retries: 3
  retry_delay_base: 500ms
exit:
  strategy: tiered
  max_holding_time: 6h
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("PRIVATE_KEY", "0xabc123")
	t.Setenv("WALLET_ADDRESS", "0x000000000000000000000000000000000000dEaD")
	t.Setenv("BSC_RPC_ENDPOINTS", "https://a.example,https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12.5, cfg.Screening.MinLiquidity)
	assert.Equal(t, []string{"rug", "scam"}, cfg.Screening.BlacklistedPatterns)
	assert.Equal(t, 3, cfg.Trading.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Trading.RetryDelayBase)
	assert.Equal(t, "tiered", cfg.Exit.Strategy)
	assert.Equal(t, 6*time.Hour, cfg.Exit.MaxHoldingTime)

	// untouched defaults survive
	assert.Equal(t, 20.0, cfg.Exit.TakeProfitPct)
	assert.Equal(t, 1.5, cfg.Trading.LiquiditySafetyMultiplier)

	assert.Equal(t, "abc123", cfg.Wallet.PrivateKey)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Chain.RPCEndpoints)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Trading, cfg.Trading)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Wallet.PrivateKey = "abc"
		c.Wallet.Address = "0x01"
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"ok", func(c *Config) {}, ""},
		{"no key", func(c *Config) { c.Wallet.PrivateKey = "" }, "PRIVATE_KEY"},
		{"no endpoints", func(c *Config) { c.Chain.RPCEndpoints = nil }, "rpc endpoint"},
		{"slippage", func(c *Config) { c.Trading.SlippagePct = 100 }, "slippage_pct"},
		{"retries", func(c *Config) { c.Trading.MaxRetries = 0 }, "max_retries"},
		{"strategy", func(c *Config) { c.Exit.Strategy = "yolo" }, "exit strategy"},
		{"steps sum", func(c *Config) { c.GradualSell.Steps = c.GradualSell.Steps[:2] }, "sum to"},
		{"steps order", func(c *Config) {
			c.GradualSell.Steps = []GradualStep{{Percent: 50, Delay: time.Hour}, {Percent: 50, Delay: time.Minute}}
		}, "must exceed previous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateReadOnly_NoKeyNeeded(t *testing.T) {
	c := Default()
	assert.NoError(t, c.ValidateReadOnly())
	assert.ErrorContains(t, c.Validate(), "PRIVATE_KEY")
}
