package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/vitos/token_sniper/internal/app"
	"github.com/vitos/token_sniper/internal/config"
	"github.com/vitos/token_sniper/internal/domain"
	"github.com/vitos/token_sniper/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// screen runs the security pipeline on the given token addresses and prints
// one verdict per token. Rejections are blacklisted exactly as in the bot.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: screen [-config path] <token> [token...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateReadOnly(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Wallet.PrivateKey == "" {
		// The round-trip probe signs real trades.
		cfg.Screening.HoneypotRoundTrip = false
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

	rejected := 0
	for _, arg := range flag.Args() {
		if !common.IsHexAddress(arg) {
			fmt.Printf("%s %s: not an address\n", color.RedString("ERROR"), arg)
			rejected++
			continue
		}
		v := a.Screener.Screen(ctx, common.HexToAddress(arg))
		printVerdict(v)
		if !v.Passed {
			rejected++
		}
	}
	if rejected > 0 {
		os.Exit(1)
	}
}

func printVerdict(v *domain.SecurityVerdict) {
	c := v.Candidate
	name := c.Symbol
	if name == "" {
		name = "?"
	}
	if v.Passed {
		fmt.Printf("%s %s (%s) liquidity=%s\n",
			color.GreenString("PASS"), c.Address.Hex(), name, c.Liquidity.StringFixed(4))
		return
	}
	fmt.Printf("%s %s (%s) %s\n",
		color.RedString("FAIL"), c.Address.Hex(), name, color.YellowString(string(v.Reason)))
	if v.MatchedPattern != "" {
		fmt.Printf("     pattern: %s\n", v.MatchedPattern)
	}
	if v.Detail != "" {
		fmt.Printf("     detail:  %s\n", v.Detail)
	}
	if v.Blacklisted {
		fmt.Printf("     %s\n", color.MagentaString("blacklisted"))
	}
}
