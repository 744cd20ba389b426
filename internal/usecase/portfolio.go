package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitos/token_sniper/internal/domain"
	"go.uber.org/zap"
)

// PortfolioService values open positions and summarises the trade log.
type PortfolioService struct {
	chain          domain.ChainClient
	store          domain.Store
	baseAsset      common.Address
	readRetries    int
	retryDelayBase time.Duration
	logger         *zap.Logger
}

func NewPortfolioService(chain domain.ChainClient, store domain.Store, baseAsset common.Address, readRetries int, retryDelayBase time.Duration, logger *zap.Logger) *PortfolioService {
	return &PortfolioService{
		chain:          chain,
		store:          store,
		baseAsset:      baseAsset,
		readRetries:    readRetries,
		retryDelayBase: retryDelayBase,
		logger:         logger,
	}
}

// Summary prices every active position. A position that cannot be quoted is
// listed with its error and left out of the value totals.
func (s *PortfolioService) Summary(ctx context.Context) (*domain.PortfolioSummary, error) {
	positions, err := s.store.ListActivePositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active positions: %w", err)
	}

	summary := &domain.PortfolioSummary{
		Positions:       make([]domain.PositionValuation, 0, len(positions)),
		ActivePositions: len(positions),
	}
	valuedInvestment := decimal.Zero
	for _, p := range positions {
		summary.TotalInvested = summary.TotalInvested.Add(p.Investment)

		v := domain.PositionValuation{Position: p}
		current, err := quoteValue(ctx, s.chain, p.TokenAddress, s.baseAsset, p.AmountTokens, s.readRetries, s.retryDelayBase)
		if err != nil {
			v.Err = err.Error()
			s.logger.Warn("Failed to value position",
				zap.Int64("position_id", p.ID),
				zap.String("symbol", p.Symbol),
				zap.Error(err))
		} else {
			v.CurrentValue = current
			v.ProfitLoss = current.Sub(p.Investment)
			v.ProfitPct = ProfitPct(p.Investment, current)
			summary.TotalValue = summary.TotalValue.Add(current)
			valuedInvestment = valuedInvestment.Add(p.Investment)
		}
		summary.Positions = append(summary.Positions, v)
	}
	summary.UnrealizedPnL = summary.TotalValue.Sub(valuedInvestment)

	realized, err := s.store.TotalRealizedProfit(ctx)
	if err != nil {
		return nil, fmt.Errorf("realized profit: %w", err)
	}
	summary.RealizedPnL = realized
	return summary, nil
}

func (s *PortfolioService) TransactionHistory(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	return s.store.ListTransactions(ctx, limit)
}

func (s *PortfolioService) FailedTransactions(ctx context.Context, limit int) ([]*domain.FailedTransaction, error) {
	return s.store.ListFailedTransactions(ctx, limit)
}

func (s *PortfolioService) TotalRealizedProfit(ctx context.Context) (decimal.Decimal, error) {
	return s.store.TotalRealizedProfit(ctx)
}
