package usecase

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitos/token_sniper/internal/domain"
	"github.com/vitos/token_sniper/internal/observability"
	"go.uber.org/zap"
)

// SellStep is one slice of a gradual sell: a percentage of the original
// total, sold Delay after enqueue.
type SellStep struct {
	Percent float64
	Delay   time.Duration
}

// DefaultSellSteps sells 5/10/15/20/50% over two hours.
var DefaultSellSteps = []SellStep{
	{Percent: 5, Delay: 5 * time.Minute},
	{Percent: 10, Delay: 15 * time.Minute},
	{Percent: 15, Delay: 30 * time.Minute},
	{Percent: 20, Delay: 60 * time.Minute},
	{Percent: 50, Delay: 120 * time.Minute},
}

type GradualConfig struct {
	Steps []SellStep
	// RetryDelay is doubled on every reschedule of a failed entry.
	RetryDelay     time.Duration
	MaxReschedules int
}

// ProcessReport counts what ProcessDue did with the due entries.
type ProcessReport struct {
	Due         int
	Executed    int
	Dropped     int
	Rescheduled int
	Abandoned   int
	Deferred    int
}

// GradualSeller owns the deferred sell queue for tokens that resist a
// normal sell.
type GradualSeller struct {
	queue   domain.SellQueueRepository
	seller  Seller
	cfg     GradualConfig
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewGradualSeller(queue domain.SellQueueRepository, seller Seller, cfg GradualConfig, metrics *observability.Metrics, logger *zap.Logger) *GradualSeller {
	if len(cfg.Steps) == 0 {
		cfg.Steps = DefaultSellSteps
	}
	return &GradualSeller{
		queue:   queue,
		seller:  seller,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

func (g *GradualSeller) SetClock(now func() time.Time) {
	g.now = now
}

// SplitSchedule divides total by the step percentages. The last step takes
// whatever the earlier ones left so the slices always sum to total.
func SplitSchedule(total *big.Int, steps []SellStep) []*big.Int {
	out := make([]*big.Int, len(steps))
	remaining := new(big.Int).Set(total)
	whole := decimal.NewFromBigInt(total, 0)
	for i, step := range steps {
		if i == len(steps)-1 {
			out[i] = remaining
			break
		}
		part := whole.Mul(decimal.NewFromFloat(step.Percent)).Div(hundred).Floor().BigInt()
		if part.Cmp(remaining) > 0 {
			part = new(big.Int).Set(remaining)
		}
		out[i] = part
		remaining = new(big.Int).Sub(remaining, part)
	}
	return out
}

// Enqueue persists one schedule entry per non-empty slice of total. A token
// gets one schedule at a time; a second call returns domain.ErrSellQueued.
func (g *GradualSeller) Enqueue(ctx context.Context, token common.Address, symbol string, decimals uint8, total *big.Int, positionID int64) ([]*domain.SellScheduleEntry, error) {
	if total == nil || total.Sign() <= 0 {
		return nil, errors.New("gradual sell amount must be positive")
	}
	queued, err := g.queue.HasQueuedSell(ctx, token)
	if err != nil {
		return nil, err
	}
	if queued {
		return nil, domain.ErrSellQueued
	}

	now := g.now().UTC()
	parts := SplitSchedule(total, g.cfg.Steps)
	entries := make([]*domain.SellScheduleEntry, 0, len(parts))
	for i, amount := range parts {
		if amount.Sign() == 0 {
			continue
		}
		entry := &domain.SellScheduleEntry{
			TokenAddress:  token,
			Symbol:        symbol,
			Decimals:      decimals,
			Amount:        amount,
			ScheduledTime: now.Add(g.cfg.Steps[i].Delay),
			PositionID:    positionID,
			CreatedAt:     now,
		}
		id, err := g.queue.InsertSellScheduleEntry(ctx, entry)
		if err != nil {
			return entries, err
		}
		entry.ID = id
		entries = append(entries, entry)
	}

	g.metrics.ObserveGradual("enqueued", len(entries))
	g.logger.Info("Gradual sell scheduled",
		zap.String("token", token.Hex()),
		zap.String("symbol", symbol),
		zap.String("total", total.String()),
		zap.Int64("position_id", positionID),
		zap.Int("entries", len(entries)))
	return entries, nil
}

// ProcessDue sells every entry whose time has come. Failed entries are
// rescheduled with a doubling delay and dropped after MaxReschedules.
func (g *GradualSeller) ProcessDue(ctx context.Context) (*ProcessReport, error) {
	now := g.now().UTC()
	entries, err := g.queue.ListDueSellEntries(ctx, now)
	if err != nil {
		return nil, err
	}

	report := &ProcessReport{Due: len(entries)}
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		g.process(ctx, now, entry, report)
	}

	g.metrics.ObserveGradual("executed", report.Executed)
	g.metrics.ObserveGradual("rescheduled", report.Rescheduled)
	g.metrics.ObserveGradual("abandoned", report.Abandoned)
	if report.Due > 0 {
		g.logger.Info("Gradual sell queue processed",
			zap.Int("due", report.Due),
			zap.Int("executed", report.Executed),
			zap.Int("dropped", report.Dropped),
			zap.Int("rescheduled", report.Rescheduled),
			zap.Int("abandoned", report.Abandoned))
	}
	return report, nil
}

func (g *GradualSeller) process(ctx context.Context, now time.Time, entry *domain.SellScheduleEntry, report *ProcessReport) {
	log := g.logger.With(
		zap.Int64("entry_id", entry.ID),
		zap.String("token", entry.TokenAddress.Hex()),
		zap.String("symbol", entry.Symbol),
		zap.String("amount", entry.Amount.String()),
		zap.Int64("position_id", entry.PositionID))

	// A position-tied entry settles its slice against the position.
	out := g.seller.ExecuteSell(ctx, domain.SellRequest{
		Token:      entry.TokenAddress,
		Symbol:     entry.Symbol,
		Decimals:   entry.Decimals,
		Amount:     entry.Amount,
		PositionID: entry.PositionID,
		NoFallback: true,
	})

	switch {
	case out.Succeeded():
		report.Executed++
		g.delete(ctx, log, entry)
		log.Info("Gradual sell entry executed", zap.String("tx_hash", out.TxHash.Hex()))

	case out.Status == domain.OutcomeSkipped && containsAny(out.Reasons, domain.HintInFlight):
		report.Deferred++
		log.Debug("Another sell of this token is running, entry left for next run")

	case out.Status == domain.OutcomeSkipped:
		report.Dropped++
		g.delete(ctx, log, entry)
		log.Info("Gradual sell entry dropped", zap.Strings("reasons", out.Reasons))

	default:
		attempts := entry.Attempts + 1
		if attempts > g.cfg.MaxReschedules {
			report.Abandoned++
			g.delete(ctx, log, entry)
			log.Error("Gradual sell entry abandoned",
				zap.Int("attempts", attempts),
				zap.Strings("reasons", out.Reasons))
			return
		}
		at := now.Add(g.cfg.RetryDelay << (attempts - 1))
		if err := g.queue.RescheduleSellEntry(ctx, entry.ID, at, attempts); err != nil {
			log.Error("Failed to reschedule gradual sell entry", zap.Error(err))
			return
		}
		report.Rescheduled++
		log.Warn("Gradual sell entry rescheduled",
			zap.Int("attempts", attempts),
			zap.Time("next", at),
			zap.Strings("reasons", out.Reasons))
	}
}

func (g *GradualSeller) delete(ctx context.Context, log *zap.Logger, entry *domain.SellScheduleEntry) {
	if err := g.queue.DeleteSellEntry(ctx, entry.ID); err != nil {
		log.Error("Failed to delete gradual sell entry", zap.Error(err))
	}
}

func containsAny(reasons []string, want ...string) bool {
	for _, r := range reasons {
		for _, w := range want {
			if r == w {
				return true
			}
		}
	}
	return false
}
