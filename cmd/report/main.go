package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/vitos/token_sniper/internal/app"
	"github.com/vitos/token_sniper/internal/config"
	"github.com/vitos/token_sniper/internal/domain"
	"github.com/vitos/token_sniper/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// report prints the portfolio, recent trades and the gradual-sell queue.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	limit := flag.Int("limit", 20, "number of transactions to show")
	failed := flag.Bool("failed", false, "also list failed attempts")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateReadOnly(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger("warn")
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to init services", zap.Error(err))
	}
	defer a.Close()

	// Portfolio
	sum, err := a.Portfolio.Summary(ctx)
	if err != nil {
		log.Fatal("Failed to value portfolio", zap.Error(err))
	}
	header("Active positions")
	for _, pv := range sum.Positions {
		p := pv.Position
		if pv.Err != "" {
			fmt.Printf("  %-10s %s  %s\n", p.Symbol, p.TokenAddress.Hex(), color.YellowString("unpriced: %s", pv.Err))
			continue
		}
		fmt.Printf("  %-10s %s  amount=%s invested=%s value=%s pnl=%s (%s%%) held=%s\n",
			p.Symbol, p.TokenAddress.Hex(),
			domain.ToDecimal(p.AmountTokens, p.Decimals).StringFixed(4),
			p.Investment.StringFixed(6),
			pv.CurrentValue.StringFixed(6),
			signed(pv.ProfitLoss, 6),
			signed(pv.ProfitPct, 2),
			time.Since(p.PurchaseTime).Truncate(time.Minute))
	}
	fmt.Printf("  positions=%d invested=%s value=%s unrealized=%s realized=%s\n",
		sum.ActivePositions,
		sum.TotalInvested.StringFixed(6),
		sum.TotalValue.StringFixed(6),
		signed(sum.UnrealizedPnL, 6),
		signed(sum.RealizedPnL, 6))

	// Transactions
	txs, err := a.Portfolio.TransactionHistory(ctx, *limit)
	if err != nil {
		log.Fatal("Failed to list transactions", zap.Error(err))
	}
	header("Recent transactions")
	for _, tx := range txs {
		fmt.Printf("  %s %-9s %-10s base=%s tokens=%s pnl=%s %s\n",
			tx.CreatedAt.Local().Format(time.DateTime),
			tx.Type, tx.Symbol,
			tx.AmountBase.StringFixed(6),
			tx.AmountTokens.StringFixed(4),
			signed(tx.ProfitLoss, 6),
			tx.TxHash)
	}

	if *failed {
		fails, err := a.Portfolio.FailedTransactions(ctx, *limit)
		if err != nil {
			log.Fatal("Failed to list failed attempts", zap.Error(err))
		}
		header("Failed attempts")
		for _, f := range fails {
			fmt.Printf("  %s %-4s %-10s #%d %s\n",
				f.CreatedAt.Local().Format(time.DateTime),
				f.Direction, f.Symbol, f.Attempt, color.RedString(f.Reason))
		}
	}

	// Gradual sells
	queue, err := a.Store.ListSellEntries(ctx)
	if err != nil {
		log.Fatal("Failed to list sell queue", zap.Error(err))
	}
	header("Gradual sell queue")
	for _, e := range queue {
		fmt.Printf("  %-10s %s position=%d amount=%s at=%s attempts=%d\n",
			e.Symbol, e.TokenAddress.Hex(), e.PositionID,
			domain.ToDecimal(e.Amount, e.Decimals).StringFixed(4),
			e.ScheduledTime.Local().Format(time.DateTime),
			e.Attempts)
	}
}

func header(title string) {
	fmt.Println()
	fmt.Println(color.CyanString("== %s ==", title))
}

func signed(d decimal.Decimal, places int32) string {
	s := d.StringFixed(places)
	switch d.Sign() {
	case 1:
		return color.GreenString("+" + s)
	case -1:
		return color.RedString(s)
	}
	return s
}
