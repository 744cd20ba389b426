package app

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitos/token_sniper/internal/config"
	"github.com/vitos/token_sniper/internal/domain"
	"github.com/vitos/token_sniper/internal/infrastructure/chain"
	"github.com/vitos/token_sniper/internal/infrastructure/explorer"
	"github.com/vitos/token_sniper/internal/infrastructure/logger"
	"github.com/vitos/token_sniper/internal/infrastructure/storage"
	"github.com/vitos/token_sniper/internal/observability"
	"github.com/vitos/token_sniper/internal/usecase"
	"go.uber.org/zap"
)

// App holds the wired services shared by the binaries.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	TradeLogger *zap.Logger
	Wallet      common.Address

	Chain    *chain.Client
	Store    *storage.SQLiteStore
	Explorer *explorer.BscScanClient
	Metrics  *observability.Metrics

	Screener  *usecase.Screener
	Executor  *usecase.TradeExecutor
	Gradual   *usecase.GradualSeller
	Exits     *usecase.ExitEngine
	Sniper    *usecase.SniperService
	Portfolio *usecase.PortfolioService
}

// New connects the chain client and the store and builds every service on
// top of them. Close releases what New opened.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log, TradeLogger: log}

	if cfg.Logging.TradeLogPath != "" {
		tl, err := logger.NewFileLogger(cfg.Logging.TradeLogPath, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("trade log: %w", err)
		}
		a.TradeLogger = tl
	}

	for name, addr := range map[string]string{
		"base_asset": cfg.Contracts.BaseAsset,
		"factory":    cfg.Contracts.Factory,
		"router":     cfg.Contracts.Router,
	} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("contracts.%s: invalid address %q", name, addr)
		}
	}
	base := common.HexToAddress(cfg.Contracts.BaseAsset)
	factory := common.HexToAddress(cfg.Contracts.Factory)
	router := common.HexToAddress(cfg.Contracts.Router)

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = store

	client, err := chain.NewClient(ctx, chain.Options{
		Endpoints:   cfg.Chain.RPCEndpoints,
		ChainID:     cfg.Chain.ChainID,
		PrivateKey:  cfg.Wallet.PrivateKey,
		Factory:     factory,
		Router:      router,
		CallTimeout: cfg.Chain.CallTimeout,
	}, log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("connect chain: %w", err)
	}
	a.Chain = client

	a.Wallet, err = resolveWallet(cfg.Wallet.Address, client.Address())
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Metrics = observability.NewMetrics(cfg.Metrics.Namespace)

	var history domain.SellHistoryProvider
	if cfg.Explorer.APIKey != "" {
		a.Explorer = explorer.NewBscScanClient(cfg.Explorer.BaseURL, cfg.Explorer.APIKey, cfg.Explorer.RequestsPerSecond, cfg.Explorer.Timeout, log)
		history = a.Explorer
	} else if cfg.Screening.MinSuccessfulSells > 0 {
		log.Warn("No explorer API key, sell-history check disabled")
	}

	a.Executor = usecase.NewTradeExecutor(client, store, usecase.ExecutorConfig{
		Wallet:    a.Wallet,
		Router:    router,
		BaseAsset: base,
		Escalator: usecase.Escalator{
			BaseSlippagePct:   cfg.Trading.SlippagePct,
			BaseGasMultiplier: cfg.Trading.GasMultiplier,
			BaseGasLimit:      cfg.Trading.GasLimit,
			DeadlineWindow:    cfg.Trading.DeadlineWindow,
			DeadlineStep:      cfg.Trading.DeadlineStep,
		},
		MaxRetries:          cfg.Trading.MaxRetries,
		RetryDelayBase:      cfg.Trading.RetryDelayBase,
		ReadRetries:         cfg.Screening.MaxReadRetries,
		ReceiptTimeout:      cfg.Chain.ReceiptTimeout,
		StaleCheckTimeout:   cfg.Chain.CallTimeout,
		ApproveGasLimit:     cfg.Trading.ApproveGasLimit,
		DustThreshold:       big.NewInt(cfg.Trading.DustThreshold),
		SettleDelay:         cfg.Trading.SettleDelay,
		ApprovalSettleDelay: cfg.Trading.ApprovalSettleDelay,
		TakeProfitPct:       cfg.Exit.TakeProfitPct,
		StopLossPct:         cfg.Exit.StopLossPct,
	}, a.Metrics, a.TradeLogger)

	steps := make([]usecase.SellStep, 0, len(cfg.GradualSell.Steps))
	for _, st := range cfg.GradualSell.Steps {
		steps = append(steps, usecase.SellStep{Percent: st.Percent, Delay: st.Delay})
	}
	a.Gradual = usecase.NewGradualSeller(store, a.Executor, usecase.GradualConfig{
		Steps:          steps,
		RetryDelay:     cfg.GradualSell.RetryDelay,
		MaxReschedules: cfg.GradualSell.MaxReschedules,
	}, a.Metrics, a.TradeLogger)
	a.Executor.SetFallback(a.Gradual)

	a.Screener = usecase.NewScreener(client, store, history, a.Executor,
		usecase.RulesFromPatterns(cfg.Screening.SuspiciousPatterns),
		usecase.ScreeningConfig{
			BaseAsset:            base,
			Router:               router,
			Wallet:               a.Wallet,
			MinLiquidity:         decimal.NewFromFloat(cfg.Screening.MinLiquidity),
			BlacklistedPatterns:  cfg.Screening.BlacklistedPatterns,
			BytecodeCheckEnabled: cfg.Screening.BytecodeCheckEnabled,
			MinSuccessfulSells:   cfg.Screening.MinSuccessfulSells,
			HoneypotCheckEnabled: cfg.Screening.HoneypotCheckEnabled,
			HoneypotRoundTrip:    cfg.Screening.HoneypotRoundTrip,
			ProbeAmount:          decimal.NewFromFloat(cfg.Trading.TestBuyAmount),
			MaxRoundTripLossPct:  cfg.Screening.MaxRoundTripLossPct,
			MaxReadRetries:       cfg.Screening.MaxReadRetries,
			RetryDelayBase:       cfg.Trading.RetryDelayBase,
		}, a.Metrics, log)

	a.Exits = usecase.NewExitEngine(client, store, a.Executor, usecase.ExitConfig{
		BaseAsset:      base,
		MaxHoldingTime: cfg.Exit.MaxHoldingTime,
		Strategy:       cfg.Exit.Strategy,
		Concurrency:    cfg.Exit.Concurrency,
		ReadRetries:    cfg.Screening.MaxReadRetries,
		RetryDelayBase: cfg.Trading.RetryDelayBase,
	}, a.Metrics, log)

	a.Sniper = usecase.NewSniperService(client, a.Screener, a.Executor, usecase.SniperConfig{
		BaseAsset:                 base,
		MaxInvestmentPerToken:     decimal.NewFromFloat(cfg.Trading.MaxInvestmentPerToken),
		LiquiditySafetyMultiplier: decimal.NewFromFloat(cfg.Trading.LiquiditySafetyMultiplier),
		BatchSize:                 cfg.Discovery.BatchSize,
		ReadRetries:               cfg.Screening.MaxReadRetries,
		RetryDelayBase:            cfg.Trading.RetryDelayBase,
	}, log)

	a.Portfolio = usecase.NewPortfolioService(client, store, base, cfg.Screening.MaxReadRetries, cfg.Trading.RetryDelayBase, log)

	return a, nil
}

func (a *App) Close() {
	if a.Chain != nil {
		a.Chain.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error("Failed to close store", zap.Error(err))
		}
	}
	if a.TradeLogger != a.Logger {
		_ = a.TradeLogger.Sync()
	}
}

// resolveWallet picks the configured address, falling back to the signer.
// Both present and different is a configuration error.
func resolveWallet(configured string, signer common.Address) (common.Address, error) {
	if configured == "" {
		if signer == (common.Address{}) {
			return common.Address{}, fmt.Errorf("no wallet address: set WALLET_ADDRESS or PRIVATE_KEY")
		}
		return signer, nil
	}
	if !common.IsHexAddress(configured) {
		return common.Address{}, fmt.Errorf("invalid wallet address %q", configured)
	}
	addr := common.HexToAddress(configured)
	if signer != (common.Address{}) && !strings.EqualFold(addr.Hex(), signer.Hex()) {
		return common.Address{}, fmt.Errorf("wallet address %s does not match private key address %s", addr.Hex(), signer.Hex())
	}
	return addr, nil
}
