package config

import "time"

var DefaultBlacklistedPatterns = []string{
	"test", "scam", "fake", "honey", "pot", "honeypot", "rug", "pull", "rugpull",
	"moon", "safe", "gem", "100x", "1000x", "fair", "presale", "pre-sale", "ico",
}

var DefaultSuspiciousPatterns = []string{
	"assembly", "selfdestruct", "suicide", "delegatecall", "callcode", "iszero(caller", "origin",
}

func Default() *Config {
	return &Config{
		Chain: ChainConfig{
			RPCEndpoints: []string{
				"https://bsc-dataseed.binance.org/",
				"https://bsc-dataseed1.defibit.io/",
				"https://bsc-dataseed1.ninicoin.io/",
				"https://bsc-dataseed2.defibit.io/",
			},
			ChainID:        56,
			CallTimeout:    30 * time.Second,
			ReceiptTimeout: 120 * time.Second,
		},
		Contracts: ContractsConfig{
			BaseAsset: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
			Factory:   "0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73",
			Router:    "0x10ED43C718714eb63d5aA57B78B54704E256024E",
		},
		Screening: ScreeningConfig{
			MinLiquidity:         5,
			BlacklistedPatterns:  DefaultBlacklistedPatterns,
			SuspiciousPatterns:   DefaultSuspiciousPatterns,
			BytecodeCheckEnabled: true,
			MinSuccessfulSells:   3,
			HoneypotCheckEnabled: true,
			MaxRoundTripLossPct:  30,
			MaxReadRetries:       5,
		},
		Trading: TradingConfig{
			SlippagePct:               10,
			GasMultiplier:             1.2,
			GasLimit:                  300000,
			ApproveGasLimit:           150000,
			MaxRetries:                5,
			RetryDelayBase:            2 * time.Second,
			DeadlineWindow:            5 * time.Minute,
			DeadlineStep:              5 * time.Minute,
			MaxInvestmentPerToken:     0.05,
			LiquiditySafetyMultiplier: 1.5,
			TestBuyAmount:             0.005,
			DustThreshold:             1000,
			SettleDelay:               time.Second,
			ApprovalSettleDelay:       3 * time.Second,
		},
		Exit: ExitConfig{
			TakeProfitPct:      20,
			StopLossPct:        10,
			MaxHoldingTime:     24 * time.Hour,
			MonitoringInterval: 60 * time.Second,
			Strategy:           "simple",
			Concurrency:        4,
		},
		GradualSell: GradualSellConfig{
			Steps: []GradualStep{
				{Percent: 5, Delay: 5 * time.Minute},
				{Percent: 10, Delay: 15 * time.Minute},
				{Percent: 15, Delay: 30 * time.Minute},
				{Percent: 20, Delay: 60 * time.Minute},
				{Percent: 50, Delay: 120 * time.Minute},
			},
			CronSpec:       "@every 1m",
			RetryDelay:     5 * time.Minute,
			MaxReschedules: 3,
		},
		Explorer: ExplorerConfig{
			BaseURL:           "https://api.bscscan.com/api",
			RequestsPerSecond: 4,
			Timeout:           10 * time.Second,
		},
		Discovery: DiscoveryConfig{
			BatchSize: 10,
		},
		Storage: StorageConfig{Path: "sniper.db"},
		Logging: LoggingConfig{Level: "info", TradeLogPath: "trades.log"},
		Server:  ServerConfig{Enabled: true, Port: 8080},
		Metrics: MetricsConfig{Namespace: "token_sniper"},
	}
}
