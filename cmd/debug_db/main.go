package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vitos/token_sniper/internal/config"
	"github.com/vitos/token_sniper/internal/domain"
	"github.com/vitos/token_sniper/internal/infrastructure/storage"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	blacklist, err := store.ListBlacklist(ctx)
	if err != nil {
		fmt.Printf("Failed to list blacklist: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Found %d blacklisted tokens:\n", len(blacklist))
	for _, b := range blacklist {
		fmt.Printf("- %s %-10s %s (%s)\n", b.TokenAddress.Hex(), b.Symbol, b.Reason, b.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	positions, err := store.ListActivePositions(ctx)
	if err != nil {
		fmt.Printf("Failed to list positions: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nFound %d active positions:\n", len(positions))
	for _, p := range positions {
		fmt.Printf("- ID: %d, Token: %s, Symbol: %s, Amount: %s, Invested: %s, TP/SL: %.0f%%/%.0f%%\n",
			p.ID, p.TokenAddress.Hex(), p.Symbol,
			domain.ToDecimal(p.AmountTokens, p.Decimals).String(),
			p.Investment.String(), p.TakeProfitPct, p.StopLossPct)
	}

	queue, err := store.ListSellEntries(ctx)
	if err != nil {
		fmt.Printf("Failed to list sell queue: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nFound %d queued sells:\n", len(queue))
	for _, e := range queue {
		fmt.Printf("- ID: %d, Token: %s, Position: %d, Raw amount: %s, Due: %s, Attempts: %d\n",
			e.ID, e.TokenAddress.Hex(), e.PositionID, e.Amount.String(), e.ScheduledTime.Format("2006-01-02 15:04:05"), e.Attempts)
	}
}
