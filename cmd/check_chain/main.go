package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitos/token_sniper/internal/config"
	"github.com/vitos/token_sniper/internal/domain"
	"github.com/vitos/token_sniper/internal/infrastructure/chain"
	"github.com/vitos/token_sniper/internal/infrastructure/logger"
)

// check_chain verifies the RPC endpoints and the configured contracts
// before the bot is started.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger("warn")
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	base := common.HexToAddress(cfg.Contracts.BaseAsset)
	factory := common.HexToAddress(cfg.Contracts.Factory)
	router := common.HexToAddress(cfg.Contracts.Router)

	fmt.Printf("Testing chain interaction...\n")
	fmt.Printf("Endpoints: %v\n", cfg.Chain.RPCEndpoints)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client, err := chain.NewClient(ctx, chain.Options{
		Endpoints:   cfg.Chain.RPCEndpoints,
		ChainID:     cfg.Chain.ChainID,
		PrivateKey:  cfg.Wallet.PrivateKey,
		Factory:     factory,
		Router:      router,
		CallTimeout: cfg.Chain.CallTimeout,
	}, log)
	if err != nil {
		fmt.Printf("❌ Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	failed := false
	check := func(label string, err error, format string, args ...any) {
		if err != nil {
			failed = true
			fmt.Printf("❌ %s: %v\n", label, err)
			return
		}
		fmt.Printf("✅ %s: %s\n", label, fmt.Sprintf(format, args...))
	}

	// 2. Check Head and Gas
	head, err := client.BlockNumber(ctx)
	check("Head block", err, "%d", head)
	gas, err := client.GasPrice(ctx)
	if err == nil {
		check("Gas price", nil, "%s gwei", domain.ToDecimal(gas, 9).StringFixed(2))
	} else {
		check("Gas price", err, "")
	}

	// 3. Check Contracts
	for label, addr := range map[string]common.Address{"Factory": factory, "Router": router} {
		code, err := client.Bytecode(ctx, addr)
		if err == nil && len(code) == 0 {
			err = fmt.Errorf("no contract at %s", addr.Hex())
		}
		check(label, err, "%s (%d bytes)", addr.Hex(), len(code))
	}
	meta, err := client.TokenMetadata(ctx, base)
	if err == nil {
		check("Base asset", nil, "%s %s, %d decimals", base.Hex(), meta.Symbol, meta.Decimals)
	} else {
		check("Base asset", err, "")
	}

	// 4. Check Wallet
	wallet := client.Address()
	if cfg.Wallet.Address != "" {
		wallet = common.HexToAddress(cfg.Wallet.Address)
	}
	if wallet == (common.Address{}) {
		fmt.Printf("⚠️ No wallet configured, skipping balance check\n")
	} else {
		bal, err := client.BalanceOf(ctx, base, wallet)
		if err == nil {
			check("Wrapped balance", nil, "%s %s", wallet.Hex(), domain.ToDecimal(bal, domain.BaseAssetDecimals).StringFixed(6))
		} else {
			check("Wrapped balance", err, "")
		}
		nonce, err := client.NextNonce(ctx, wallet)
		check("Next nonce", err, "%d", nonce)
	}

	if failed {
		os.Exit(1)
	}
}
