package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/vitos/token_sniper/internal/config"
	"github.com/vitos/token_sniper/internal/infrastructure/logger"
	"github.com/vitos/token_sniper/internal/usecase"
)

// analyzer summarises the JSON trade log per token and per failure reason.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	path := flag.String("log", "", "trade log to analyze (default: logging.trade_log_path)")
	top := flag.Int("top", 20, "number of tokens to show")
	flag.Parse()

	file := *path
	if file == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Printf("Failed to load config: %v\n", err)
			os.Exit(1)
		}
		file = cfg.Logging.TradeLogPath
	}
	if file == "" {
		fmt.Println("No trade log configured.")
		os.Exit(1)
	}

	log, err := logger.NewLogger("warn")
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	fmt.Printf("Analyzing file: %s\n", file)
	report, err := usecase.NewLogAnalyzerService(log).AnalyzeFile(file)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d lines, %d malformed, %d tokens\n\n", report.Lines, report.Malformed, len(report.Tokens))

	fmt.Printf("%-44s %-10s %5s %5s %5s %6s %8s %12s %s\n",
		"Token", "Symbol", "Buys", "Sells", "Fail", "Skip", "Retries", "PnL", "Last seen")
	for i, st := range report.Tokens {
		if i >= *top {
			break
		}
		pnl := st.RealizedPnL.StringFixed(6)
		switch st.RealizedPnL.Sign() {
		case 1:
			pnl = color.GreenString("%12s", "+"+pnl)
		case -1:
			pnl = color.RedString("%12s", pnl)
		default:
			pnl = fmt.Sprintf("%12s", pnl)
		}
		last := "-"
		if !st.LastSeen.IsZero() {
			last = st.LastSeen.Local().Format(time.DateTime)
		}
		fmt.Printf("%-44s %-10s %5d %5d %5d %6d %8d %s %s\n",
			st.Token, st.Symbol, st.Buys, st.Sells, st.FailedCalls, st.Skipped, st.FailedAttempts, pnl, last)
	}

	if len(report.Reasons) == 0 {
		return
	}
	reasons := make([]string, 0, len(report.Reasons))
	for r := range report.Reasons {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool {
		return report.Reasons[reasons[i]] > report.Reasons[reasons[j]]
	})
	fmt.Println()
	fmt.Println(color.CyanString("Failure reasons"))
	for _, r := range reasons {
		fmt.Printf("  %-24s %d\n", color.YellowString(r), report.Reasons[r])
	}
}
