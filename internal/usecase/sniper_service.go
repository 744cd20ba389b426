package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitos/token_sniper/internal/domain"
	"go.uber.org/zap"
)

type TokenScreener interface {
	Screen(ctx context.Context, token common.Address) *domain.SecurityVerdict
}

type Buyer interface {
	ExecuteBuy(ctx context.Context, req domain.BuyRequest) *domain.TradeOutcome
}

type SniperConfig struct {
	BaseAsset                 common.Address
	MaxInvestmentPerToken     decimal.Decimal
	LiquiditySafetyMultiplier decimal.Decimal
	// BatchSize is the block span of one historical log query.
	BatchSize      uint64
	ReadRetries    int
	RetryDelayBase time.Duration
	// SeenCapacity bounds the set of tokens already handled. The oldest
	// token is forgotten first.
	SeenCapacity int
}

const defaultSeenCapacity = 10_000

// SnipeResult is the verdict for a candidate and, when it passed, the buy.
type SnipeResult struct {
	Token      common.Address
	Verdict    *domain.SecurityVerdict
	Investment decimal.Decimal
	Outcome    *domain.TradeOutcome
}

// SniperService turns new pairs into screened buys.
type SniperService struct {
	chain    domain.ChainClient
	screener TokenScreener
	buyer    Buyer
	cfg      SniperConfig
	logger   *zap.Logger

	mu sync.Mutex
	// seen and seenOrder form a FIFO set of at most cfg.SeenCapacity tokens.
	seen      map[common.Address]struct{}
	seenOrder []common.Address
}

func NewSniperService(chain domain.ChainClient, screener TokenScreener, buyer Buyer, cfg SniperConfig, logger *zap.Logger) *SniperService {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.SeenCapacity <= 0 {
		cfg.SeenCapacity = defaultSeenCapacity
	}
	return &SniperService{
		chain:    chain,
		screener: screener,
		buyer:    buyer,
		cfg:      cfg,
		logger:   logger,
		seen:     make(map[common.Address]struct{}),
	}
}

// InvestmentFor caps the buy at the configured maximum and at
// liquidity / safety multiplier.
func (s *SniperService) InvestmentFor(liquidity decimal.Decimal) decimal.Decimal {
	amount := s.cfg.MaxInvestmentPerToken
	if s.cfg.LiquiditySafetyMultiplier.IsPositive() {
		if capped := liquidity.Div(s.cfg.LiquiditySafetyMultiplier); capped.LessThan(amount) {
			amount = capped
		}
	}
	return amount
}

// HandleNewPair screens token and buys it if it passes.
func (s *SniperService) HandleNewPair(ctx context.Context, token common.Address) *SnipeResult {
	res := &SnipeResult{Token: token}
	res.Verdict = s.screener.Screen(ctx, token)
	if !res.Verdict.Passed {
		return res
	}

	res.Investment = s.InvestmentFor(res.Verdict.Candidate.Liquidity)
	log := s.logger.With(
		zap.String("token", token.Hex()),
		zap.String("symbol", res.Verdict.Candidate.Symbol),
		zap.String("investment", res.Investment.String()))
	if !res.Investment.IsPositive() {
		log.Warn("Computed investment is not positive, skipping buy")
		return res
	}

	log.Info("Buying screened token")
	res.Outcome = s.buyer.ExecuteBuy(ctx, domain.BuyRequest{
		Token:  token,
		Symbol: res.Verdict.Candidate.Symbol,
		Amount: res.Investment,
	})
	return res
}

// ProcessPairCreated handles one factory event. Pairs without the base asset
// and tokens already seen by this process are ignored.
func (s *SniperService) ProcessPairCreated(ctx context.Context, ev domain.PairCreatedEvent) *SnipeResult {
	token, ok := ev.Counterpart(s.cfg.BaseAsset)
	if !ok {
		s.logger.Debug("Ignoring pair without base asset", zap.String("pair", ev.Pair.Hex()))
		return nil
	}
	if !s.markSeen(token) {
		return nil
	}
	s.logger.Info("New pair detected",
		zap.String("token", token.Hex()),
		zap.String("pair", ev.Pair.Hex()),
		zap.Uint64("block", ev.BlockNumber))
	return s.HandleNewPair(ctx, token)
}

// ScanRecentBlocks replays PairCreated events from the last n blocks.
func (s *SniperService) ScanRecentBlocks(ctx context.Context, n uint64) ([]*SnipeResult, error) {
	head, err := retryRead(ctx, s.cfg.RetryDelayBase, s.cfg.ReadRetries, func() (uint64, error) {
		return s.chain.BlockNumber(ctx)
	})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	from := uint64(0)
	if head >= n {
		from = head - n + 1
	}
	s.logger.Info("Scanning recent blocks for new pairs",
		zap.Uint64("from", from),
		zap.Uint64("to", head))

	var results []*SnipeResult
	for start := from; start <= head; start += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		end := min(start+s.cfg.BatchSize-1, head)
		events, err := retryRead(ctx, s.cfg.RetryDelayBase, s.cfg.ReadRetries, func() ([]domain.PairCreatedEvent, error) {
			return s.chain.PairCreatedLogs(ctx, start, end)
		})
		if err != nil {
			s.logger.Warn("Failed to fetch pair logs",
				zap.Uint64("from", start),
				zap.Uint64("to", end),
				zap.Error(err))
			continue
		}
		for _, ev := range events {
			if res := s.ProcessPairCreated(ctx, ev); res != nil {
				results = append(results, res)
			}
		}
	}
	return results, nil
}

func (s *SniperService) markSeen(token common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[token]; ok {
		return false
	}
	if len(s.seenOrder) >= s.cfg.SeenCapacity {
		delete(s.seen, s.seenOrder[0])
		s.seenOrder = s.seenOrder[1:]
	}
	s.seen[token] = struct{}{}
	s.seenOrder = append(s.seenOrder, token)
	return true
}
