package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitos/token_sniper/internal/app"
	"github.com/vitos/token_sniper/internal/config"
	"github.com/vitos/token_sniper/internal/domain"
	"github.com/vitos/token_sniper/internal/infrastructure/discovery"
	"github.com/vitos/token_sniper/internal/infrastructure/logger"
	"github.com/vitos/token_sniper/internal/infrastructure/scheduler"
	"github.com/vitos/token_sniper/internal/usecase"
	"github.com/vitos/token_sniper/internal/web"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	token := flag.String("token", "", "screen and buy a single token, then keep monitoring")
	sell := flag.String("sell", "", "sell the whole wallet balance of a token and exit")
	scan := flag.Uint64("scan", 0, "replay PairCreated events from the last N blocks")
	auto := flag.Bool("auto", false, "subscribe to new pairs and snipe them as they appear")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Init Chain, Storage and Services
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to init services", zap.Error(err))
	}
	defer a.Close()

	log.Info("Sniper ready",
		zap.String("wallet", a.Wallet.Hex()),
		zap.String("exit_strategy", cfg.Exit.Strategy))

	// Trades are not cut short by the shutdown signal.
	tradeCtx := context.WithoutCancel(ctx)

	// 4. One-shot actions
	if *sell != "" {
		if !common.IsHexAddress(*sell) {
			log.Fatal("Invalid token address", zap.String("token", *sell))
		}
		out := a.Executor.ExecuteSell(tradeCtx, domain.SellRequest{Token: common.HexToAddress(*sell)})
		log.Info("Manual sell finished",
			zap.String("status", string(out.Status)),
			zap.Strings("reasons", out.Reasons),
			zap.Bool("deferred", out.Deferred))
		return
	}

	if *token != "" {
		if !common.IsHexAddress(*token) {
			log.Fatal("Invalid token address", zap.String("token", *token))
		}
		logSnipe(log, a.Sniper.HandleNewPair(tradeCtx, common.HexToAddress(*token)))
	}

	if *scan > 0 {
		results, err := a.Sniper.ScanRecentBlocks(ctx, *scan)
		if err != nil {
			log.Error("Failed to scan recent blocks", zap.Error(err))
		}
		for _, r := range results {
			logSnipe(log, r)
		}
	}

	// 5. Start Exit Monitor
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Exits.Run(ctx, cfg.Exit.MonitoringInterval)
	}()

	// 6. Start Gradual Sell Worker
	cron := scheduler.New(ctx, log)
	if _, err := cron.Add("gradual-sell", cfg.GradualSell.CronSpec, func(ctx context.Context) {
		rep, err := a.Gradual.ProcessDue(ctx)
		if err != nil {
			log.Error("Failed to process sell queue", zap.Error(err))
			return
		}
		if rep.Due > 0 {
			log.Info("Sell queue processed",
				zap.Int("due", rep.Due),
				zap.Int("executed", rep.Executed),
				zap.Int("rescheduled", rep.Rescheduled),
				zap.Int("abandoned", rep.Abandoned))
		}
	}); err != nil {
		log.Fatal("Failed to schedule gradual sells", zap.Error(err))
	}
	cron.Start()
	defer cron.Stop()

	// 7. Start Pair Discovery
	if *auto || cfg.Discovery.Enabled {
		if cfg.Chain.WSEndpoint == "" {
			log.Fatal("Auto mode needs chain.ws_endpoint")
		}
		listener := discovery.NewListener(cfg.Chain.WSEndpoint, common.HexToAddress(cfg.Contracts.Factory), log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := listener.Run(ctx, func(ev domain.PairCreatedEvent) {
				logSnipe(log, a.Sniper.ProcessPairCreated(tradeCtx, ev))
			})
			if err != nil && ctx.Err() == nil {
				log.Error("Pair discovery stopped", zap.Error(err))
			}
		}()
	}

	// 8. Start Server
	var server *web.Server
	if cfg.Server.Enabled {
		mode := "monitor"
		if *auto || cfg.Discovery.Enabled {
			mode = "auto"
		}
		server = web.NewServer(cfg.Server.Port, web.Deps{
			Store:     a.Store,
			Portfolio: a.Portfolio,
			Screener:  a.Screener,
			Exits:     a.Exits,
			Metrics:   a.Metrics.Handler(),
			Wallet:    a.Wallet,
			Mode:      mode,
		}, log)
		go func() {
			if err := server.Start(); err != nil {
				log.Fatal("Server failed", zap.Error(err))
			}
		}()
	}

	// 9. Wait for Shutdown
	<-ctx.Done()

	log.Info("Shutting down...")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Failed to stop server", zap.Error(err))
		}
	}
	wg.Wait()
}

func logSnipe(log *zap.Logger, r *usecase.SnipeResult) {
	if r == nil {
		return
	}
	fields := []zap.Field{zap.String("token", r.Token.Hex())}
	if r.Verdict != nil {
		fields = append(fields,
			zap.String("symbol", r.Verdict.Candidate.Symbol),
			zap.String("verdict", string(r.Verdict.Reason)))
	}
	if r.Outcome != nil {
		fields = append(fields,
			zap.String("investment", r.Investment.String()),
			zap.String("buy_status", string(r.Outcome.Status)),
			zap.String("tx", r.Outcome.TxHash.Hex()))
	}
	log.Info("Snipe result", fields...)
}
