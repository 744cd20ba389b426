package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Chain       ChainConfig       `yaml:"chain"`
	Contracts   ContractsConfig   `yaml:"contracts"`
	Wallet      WalletConfig      `yaml:"wallet"`
	Screening   ScreeningConfig   `yaml:"screening"`
	Trading     TradingConfig     `yaml:"trading"`
	Exit        ExitConfig        `yaml:"exit"`
	GradualSell GradualSellConfig `yaml:"gradual_sell"`
	Explorer    ExplorerConfig    `yaml:"explorer"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type ChainConfig struct {
	RPCEndpoints   []string      `yaml:"rpc_endpoints"`
	WSEndpoint     string        `yaml:"ws_endpoint"`
	ChainID        int64         `yaml:"chain_id"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	ReceiptTimeout time.Duration `yaml:"receipt_timeout"`
}

type ContractsConfig struct {
	BaseAsset string `yaml:"base_asset"`
	Factory   string `yaml:"factory"`
	Router    string `yaml:"router"`
}

// WalletConfig is filled from the environment only.
type WalletConfig struct {
	Address    string `yaml:"address"`
	PrivateKey string `yaml:"-"`
}

type ScreeningConfig struct {
	MinLiquidity         float64  `yaml:"min_liquidity"`
	BlacklistedPatterns  []string `yaml:"blacklisted_patterns"`
	SuspiciousPatterns   []string `yaml:"suspicious_patterns"`
	BytecodeCheckEnabled bool     `yaml:"bytecode_check_enabled"`
	MinSuccessfulSells   int      `yaml:"min_successful_sells"`
	HoneypotCheckEnabled bool     `yaml:"honeypot_check_enabled"`
	HoneypotRoundTrip    bool     `yaml:"honeypot_round_trip"`
	MaxRoundTripLossPct  float64  `yaml:"max_round_trip_loss_pct"`
	MaxReadRetries       int      `yaml:"max_read_retries"`
}

type TradingConfig struct {
	SlippagePct               float64       `yaml:"slippage_pct"`
	GasMultiplier             float64       `yaml:"gas_multiplier"`
	GasLimit                  uint64        `yaml:"gas_limit"`
	ApproveGasLimit           uint64        `yaml:"approve_gas_limit"`
	MaxRetries                int           `yaml:"max_retries"`
	RetryDelayBase            time.Duration `yaml:"retry_delay_base"`
	DeadlineWindow            time.Duration `yaml:"deadline_window"`
	DeadlineStep              time.Duration `yaml:"deadline_step"`
	MaxInvestmentPerToken     float64       `yaml:"max_investment_per_token"`
	LiquiditySafetyMultiplier float64       `yaml:"liquidity_safety_multiplier"`
	TestBuyAmount             float64       `yaml:"test_buy_amount"`
	DustThreshold             int64         `yaml:"dust_threshold"`
	SettleDelay               time.Duration `yaml:"settle_delay"`
	ApprovalSettleDelay       time.Duration `yaml:"approval_settle_delay"`
}

type ExitConfig struct {
	TakeProfitPct      float64       `yaml:"take_profit_pct"`
	StopLossPct        float64       `yaml:"stop_loss_pct"`
	MaxHoldingTime     time.Duration `yaml:"max_holding_time"`
	MonitoringInterval time.Duration `yaml:"monitoring_interval"`
	// Strategy is "simple" or "tiered".
	Strategy    string `yaml:"strategy"`
	Concurrency int    `yaml:"concurrency"`
}

type GradualStep struct {
	Percent float64       `yaml:"percent"`
	Delay   time.Duration `yaml:"delay"`
}

type GradualSellConfig struct {
	Steps          []GradualStep `yaml:"steps"`
	CronSpec       string        `yaml:"cron_spec"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	MaxReschedules int           `yaml:"max_reschedules"`
}

type ExplorerConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"-"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

type DiscoveryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BatchSize uint64 `yaml:"batch_size"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level        string `yaml:"level"`
	TradeLogPath string `yaml:"trade_log_path"`
}

type ServerConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// secrets are never read from the YAML file.
type secrets struct {
	PrivateKey     string   `env:"PRIVATE_KEY"`
	WalletAddress  string   `env:"WALLET_ADDRESS"`
	ExplorerAPIKey string   `env:"BSCSCAN_API_KEY"`
	RPCEndpoints   []string `env:"BSC_RPC_ENDPOINTS" envSeparator:","`
	WSEndpoint     string   `env:"BSC_WS_ENDPOINT"`
	LogLevel       string   `env:"LOG_LEVEL"`
}

// Load reads the YAML file at path over Default, then applies .env and
// process environment overrides. A missing YAML or .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var s secrets
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.applySecrets(s)

	return cfg, nil
}

func (c *Config) applySecrets(s secrets) {
	c.Wallet.PrivateKey = strings.TrimPrefix(s.PrivateKey, "0x")
	if s.WalletAddress != "" {
		c.Wallet.Address = s.WalletAddress
	}
	c.Explorer.APIKey = s.ExplorerAPIKey
	if len(s.RPCEndpoints) > 0 {
		c.Chain.RPCEndpoints = s.RPCEndpoints
	}
	if s.WSEndpoint != "" {
		c.Chain.WSEndpoint = s.WSEndpoint
	}
	if s.LogLevel != "" {
		c.Logging.Level = s.LogLevel
	}
}

// Validate checks the settings the trading engine cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Wallet.PrivateKey == "" {
		errs = append(errs, errors.New("PRIVATE_KEY is required"))
	}
	return errors.Join(append(errs, c.ValidateReadOnly())...)
}

// ValidateReadOnly is Validate without the signing key, for tools that only
// read chain state and the local store.
func (c *Config) ValidateReadOnly() error {
	var errs []error
	if len(c.Chain.RPCEndpoints) == 0 {
		errs = append(errs, errors.New("at least one rpc endpoint is required"))
	}
	if c.Trading.SlippagePct < 0 || c.Trading.SlippagePct >= 100 {
		errs = append(errs, fmt.Errorf("slippage_pct %.2f out of range [0,100)", c.Trading.SlippagePct))
	}
	if c.Trading.MaxRetries <= 0 {
		errs = append(errs, errors.New("trading.max_retries must be positive"))
	}
	if c.Screening.MaxReadRetries <= 0 {
		errs = append(errs, errors.New("screening.max_read_retries must be positive"))
	}
	switch c.Exit.Strategy {
	case "simple", "tiered":
	default:
		errs = append(errs, fmt.Errorf("unknown exit strategy %q", c.Exit.Strategy))
	}
	if len(c.GradualSell.Steps) == 0 {
		errs = append(errs, errors.New("gradual_sell.steps must not be empty"))
	} else {
		var total float64
		for i, st := range c.GradualSell.Steps {
			total += st.Percent
			if i > 0 && st.Delay <= c.GradualSell.Steps[i-1].Delay {
				errs = append(errs, fmt.Errorf("gradual_sell.steps[%d]: delay %s must exceed previous step", i, st.Delay))
			}
		}
		if total < 99.999 || total > 100.001 {
			errs = append(errs, fmt.Errorf("gradual_sell.steps sum to %.2f%%, want 100%%", total))
		}
	}
	return errors.Join(errs...)
}
