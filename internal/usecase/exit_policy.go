package usecase

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitos/token_sniper/internal/domain"
	"github.com/vitos/token_sniper/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ExitRule string

const (
	ExitNone       ExitRule = ""
	ExitTakeProfit ExitRule = "take_profit"
	ExitStopLoss   ExitRule = "stop_loss"
	ExitMaxHolding ExitRule = "max_holding_time"
	ExitTiered     ExitRule = "tiered_take_profit"
)

const (
	StrategySimple = "simple"
	StrategyTiered = "tiered"
)

var hundred = decimal.NewFromInt(100)

// Seller is the sell side of the trade executor.
type Seller interface {
	ExecuteSell(ctx context.Context, req domain.SellRequest) *domain.TradeOutcome
}

// ExitStore is the persistence the exit engine reads. HasQueuedSell lets a
// sweep leave alone positions that the gradual-sell queue is draining.
type ExitStore interface {
	domain.PositionRepository
	HasQueuedSell(ctx context.Context, token common.Address) (bool, error)
}

type ExitConfig struct {
	BaseAsset      common.Address
	MaxHoldingTime time.Duration
	Strategy       string
	Concurrency    int
	ReadRetries    int
	RetryDelayBase time.Duration
}

// SweepResult is what happened to one position during a sweep.
type SweepResult struct {
	PositionID   int64
	Symbol       string
	CurrentValue decimal.Decimal
	Rule         ExitRule
	Outcome      *domain.TradeOutcome
	// Queued is set when the position was skipped because its token has
	// pending gradual-sell entries.
	Queued bool
	Err    error
}

type SweepReport struct {
	Results  []SweepResult
	Duration time.Duration
}

// Triggered counts positions on which an exit rule fired.
func (r *SweepReport) Triggered() int {
	n := 0
	for _, res := range r.Results {
		if res.Rule != ExitNone {
			n++
		}
	}
	return n
}

func (r *SweepReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// ExitEngine periodically values active positions and sells those that hit
// an exit rule.
type ExitEngine struct {
	chain     domain.ChainClient
	positions ExitStore
	seller    Seller
	cfg       ExitConfig
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewExitEngine(chain domain.ChainClient, positions ExitStore, seller Seller, cfg ExitConfig, metrics *observability.Metrics, logger *zap.Logger) *ExitEngine {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategySimple
	}
	return &ExitEngine{
		chain:     chain,
		positions: positions,
		seller:    seller,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the wall clock used for the holding-time rule.
func (e *ExitEngine) SetClock(now func() time.Time) {
	e.now = now
}

// EvaluateExit returns the first rule that fires, in the order take-profit,
// stop-loss, max holding time.
func EvaluateExit(p *domain.PositionEntry, current decimal.Decimal, now time.Time, maxHold time.Duration) ExitRule {
	one := decimal.NewFromInt(1)
	takeProfit := p.Investment.Mul(one.Add(decimal.NewFromFloat(p.TakeProfitPct).Div(hundred)))
	if current.GreaterThanOrEqual(takeProfit) {
		return ExitTakeProfit
	}
	stopLoss := p.Investment.Mul(one.Sub(decimal.NewFromFloat(p.StopLossPct).Div(hundred)))
	if current.LessThanOrEqual(stopLoss) {
		return ExitStopLoss
	}
	if maxHold > 0 && now.Sub(p.PurchaseTime) >= maxHold {
		return ExitMaxHolding
	}
	return ExitNone
}

// TieredSellPct maps a profit percentage to the share of holdings to sell.
func TieredSellPct(profitPct decimal.Decimal, basePct float64) int64 {
	switch {
	case profitPct.GreaterThanOrEqual(decimal.NewFromInt(100)):
		return 75
	case profitPct.GreaterThanOrEqual(decimal.NewFromInt(50)):
		return 50
	case profitPct.GreaterThanOrEqual(decimal.NewFromFloat(basePct)):
		return 25
	default:
		return 0
	}
}

// ProfitPct is the percentage gain of current over investment.
func ProfitPct(investment, current decimal.Decimal) decimal.Decimal {
	if !investment.IsPositive() {
		return decimal.Zero
	}
	return current.Sub(investment).Div(investment).Mul(hundred)
}

// RunSweepOnce evaluates every active position. A failure on one position
// is recorded in its result and never stops the others.
func (e *ExitEngine) RunSweepOnce(ctx context.Context) (*SweepReport, error) {
	start := time.Now()
	positions, err := e.positions.ListActivePositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active positions: %w", err)
	}

	report := &SweepReport{Results: make([]SweepResult, len(positions))}
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, p := range positions {
		g.Go(func() error {
			report.Results[i] = e.evaluate(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	e.metrics.ObserveSweep(report.Duration.Seconds(), len(positions))
	e.logger.Info("Exit sweep finished",
		zap.Int("positions", len(positions)),
		zap.Int("triggered", report.Triggered()),
		zap.Int("failed", report.Failed()),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (e *ExitEngine) evaluate(ctx context.Context, p *domain.PositionEntry) (res SweepResult) {
	res = SweepResult{PositionID: p.ID, Symbol: p.Symbol}
	log := e.logger.With(
		zap.Int64("position_id", p.ID),
		zap.String("token", p.TokenAddress.Hex()),
		zap.String("symbol", p.Symbol))

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
			log.Error("Position evaluation panicked", zap.Any("panic", r))
		}
	}()

	queued, err := e.positions.HasQueuedSell(ctx, p.TokenAddress)
	if err != nil {
		res.Err = fmt.Errorf("sell queue: %w", err)
		log.Warn("Skipping position, sell queue unavailable", zap.Error(err))
		return res
	}
	if queued {
		res.Queued = true
		log.Debug("Skipping position, gradual sell in progress")
		return res
	}

	meta, err := retryRead(ctx, e.cfg.RetryDelayBase, e.cfg.ReadRetries, func() (*domain.TokenMetadata, error) {
		return e.chain.TokenMetadata(ctx, p.TokenAddress)
	})
	if err != nil {
		res.Err = fmt.Errorf("metadata: %w", err)
		log.Warn("Skipping position, token metadata unavailable", zap.Error(err))
		return res
	}
	if meta.Symbol != "" {
		p.Symbol = meta.Symbol
	}
	if meta.Decimals != 0 {
		p.Decimals = meta.Decimals
	}

	current, err := quoteValue(ctx, e.chain, p.TokenAddress, e.cfg.BaseAsset, p.AmountTokens, e.cfg.ReadRetries, e.cfg.RetryDelayBase)
	if err != nil {
		res.Err = fmt.Errorf("valuation: %w", err)
		log.Warn("Skipping position, value estimate failed", zap.Error(err))
		return res
	}
	res.CurrentValue = current
	log = log.With(
		zap.String("investment", p.Investment.String()),
		zap.String("current_value", current.String()))

	if e.cfg.Strategy == StrategyTiered {
		out := e.ApplyTieredTakeProfit(ctx, p, current)
		if out.Status != domain.OutcomeSkipped || !slices.Contains(out.Reasons, domain.HintThresholdNotMet) {
			res.Rule = ExitTiered
			res.Outcome = out
			e.metrics.ObserveExit(string(ExitTiered))
			return res
		}
	}

	rule := EvaluateExit(p, current, e.now(), e.cfg.MaxHoldingTime)
	if rule == ExitNone {
		log.Debug("No exit rule fired")
		return res
	}
	res.Rule = rule
	e.metrics.ObserveExit(string(rule))
	log.Info("Exit rule fired", zap.String("rule", string(rule)))

	closeStatus := domain.PositionSold
	if rule == ExitStopLoss {
		closeStatus = domain.PositionLoss
	}
	res.Outcome = e.seller.ExecuteSell(ctx, domain.SellRequest{
		Token:       p.TokenAddress,
		Symbol:      p.Symbol,
		Decimals:    p.Decimals,
		Amount:      new(big.Int).Set(p.AmountTokens),
		PositionID:  p.ID,
		CloseStatus: closeStatus,
	})
	if !res.Outcome.Succeeded() {
		log.Warn("Exit sell did not complete",
			zap.String("status", string(res.Outcome.Status)),
			zap.Strings("reasons", res.Outcome.Reasons),
			zap.Bool("deferred", res.Outcome.Deferred))
	}
	return res
}

// ApplyTieredTakeProfit sells part of a position according to its profit tier.
// Below the base target nothing is sold and the outcome is skipped.
func (e *ExitEngine) ApplyTieredTakeProfit(ctx context.Context, p *domain.PositionEntry, current decimal.Decimal) *domain.TradeOutcome {
	profit := ProfitPct(p.Investment, current)
	pct := TieredSellPct(profit, p.TakeProfitPct)
	if pct == 0 {
		out := newOutcome(domain.DirectionSell, p.TokenAddress)
		out.Status = domain.OutcomeSkipped
		out.PositionID = p.ID
		out.Reasons = []string{domain.HintThresholdNotMet}
		return out
	}

	amount := domain.ScaleAmount(p.AmountTokens, pct)
	e.logger.Info("Tiered take-profit",
		zap.Int64("position_id", p.ID),
		zap.String("symbol", p.Symbol),
		zap.String("profit_pct", profit.StringFixed(2)),
		zap.Int64("sell_pct", pct),
		zap.String("amount", amount.String()))

	return e.seller.ExecuteSell(ctx, domain.SellRequest{
		Token:       p.TokenAddress,
		Symbol:      p.Symbol,
		Decimals:    p.Decimals,
		Amount:      amount,
		PositionID:  p.ID,
		CloseStatus: domain.PositionSold,
	})
}

// Run sweeps immediately and then every interval until ctx is done.
// A sweep that has started runs to completion.
func (e *ExitEngine) Run(ctx context.Context, interval time.Duration) {
	e.logger.Info("Starting exit policy loop",
		zap.Duration("interval", interval),
		zap.String("strategy", e.cfg.Strategy))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := e.RunSweepOnce(context.WithoutCancel(ctx)); err != nil {
			e.logger.Error("Exit sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			e.logger.Info("Exit policy loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// quoteValue is the base-asset output for selling amount of token.
func quoteValue(ctx context.Context, chain domain.ChainClient, token, base common.Address, amount *big.Int, retries int, delay time.Duration) (decimal.Decimal, error) {
	if amount == nil || amount.Sign() == 0 {
		return decimal.Zero, nil
	}
	path := []common.Address{token, base}
	amounts, err := retryRead(ctx, delay, retries, func() ([]*big.Int, error) {
		return chain.QuoteAmountsOut(ctx, amount, path)
	})
	if err != nil {
		return decimal.Zero, err
	}
	if len(amounts) < len(path) {
		return decimal.Zero, fmt.Errorf("quote returned %d amounts", len(amounts))
	}
	return domain.ToDecimal(amounts[len(amounts)-1], domain.BaseAssetDecimals), nil
}
