package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitos/token_sniper/internal/contracts"
	"github.com/vitos/token_sniper/internal/domain"
	"github.com/vitos/token_sniper/internal/observability"
	"go.uber.org/zap"
)

type ScreeningConfig struct {
	BaseAsset            common.Address
	Router               common.Address
	Wallet               common.Address
	MinLiquidity         decimal.Decimal
	BlacklistedPatterns  []string
	BytecodeCheckEnabled bool
	MinSuccessfulSells   int
	HoneypotCheckEnabled bool
	// HoneypotRoundTrip adds a real probe buy and sell after the approval estimate.
	HoneypotRoundTrip   bool
	ProbeAmount         decimal.Decimal
	MaxRoundTripLossPct float64
	MaxReadRetries      int
	RetryDelayBase      time.Duration
}

// ProbeTrader executes the small buy/sell pair of the round-trip honeypot probe.
type ProbeTrader interface {
	ExecuteBuy(ctx context.Context, req domain.BuyRequest) *domain.TradeOutcome
	ExecuteSell(ctx context.Context, req domain.SellRequest) *domain.TradeOutcome
}

// approvalProbeAmount is the allowance used for the honeypot gas estimate.
var approvalProbeAmount = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Screener runs the ordered security checks on a candidate token.
type Screener struct {
	chain     domain.ChainClient
	blacklist domain.BlacklistRepository
	history   domain.SellHistoryProvider
	prober    ProbeTrader
	rules     []BytecodeRule
	cfg       ScreeningConfig
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewScreener builds a Screener. history and prober may be nil.
func NewScreener(
	chain domain.ChainClient,
	blacklist domain.BlacklistRepository,
	history domain.SellHistoryProvider,
	prober ProbeTrader,
	rules []BytecodeRule,
	cfg ScreeningConfig,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Screener {
	return &Screener{
		chain:     chain,
		blacklist: blacklist,
		history:   history,
		prober:    prober,
		rules:     rules,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
	}
}

// Screen runs every stage in order; the first failing stage decides the verdict.
func (s *Screener) Screen(ctx context.Context, token common.Address) *domain.SecurityVerdict {
	v := &domain.SecurityVerdict{
		Candidate: domain.TokenCandidate{Address: token},
		CheckedAt: time.Now().UTC(),
	}
	log := s.logger.With(zap.String("token", token.Hex()))

	// 1. blacklist
	listed, err := s.blacklist.IsBlacklisted(ctx, token)
	if err != nil {
		return s.reject(ctx, log, v, domain.ReasonBlacklistUnavailable, err.Error(), false)
	}
	if listed {
		return s.reject(ctx, log, v, domain.ReasonAlreadyBlacklisted, "", false)
	}

	// 2. metadata + lexical
	meta, err := retryRead(ctx, s.cfg.RetryDelayBase, s.cfg.MaxReadRetries, func() (*domain.TokenMetadata, error) {
		return s.chain.TokenMetadata(ctx, token)
	})
	if err != nil {
		return s.reject(ctx, log, v, domain.ReasonMetadataUnavailable, err.Error(), false)
	}
	v.Candidate.Name = meta.Name
	v.Candidate.Symbol = meta.Symbol
	v.Candidate.Decimals = meta.Decimals
	v.Candidate.TotalSupply = meta.TotalSupply
	log = log.With(zap.String("symbol", meta.Symbol))

	if pattern, ok := MatchBlacklistedPattern(meta.Name, meta.Symbol, s.cfg.BlacklistedPatterns); ok {
		v.MatchedPattern = pattern
		return s.reject(ctx, log, v, domain.ReasonBlacklistedPattern, "Blacklisted pattern: "+pattern, true)
	}

	// 3. pair + liquidity
	pair, err := retryRead(ctx, s.cfg.RetryDelayBase, s.cfg.MaxReadRetries, func() (common.Address, error) {
		return s.chain.PairAddress(ctx, token, s.cfg.BaseAsset)
	})
	if err != nil {
		return s.reject(ctx, log, v, domain.ReasonLiquidityUnavailable, err.Error(), false)
	}
	if pair == (common.Address{}) {
		return s.reject(ctx, log, v, domain.ReasonNoPair, "", false)
	}
	v.Candidate.PairAddress = pair

	reserves, err := retryRead(ctx, s.cfg.RetryDelayBase, s.cfg.MaxReadRetries, func() (*domain.PairReserves, error) {
		return s.chain.Reserves(ctx, pair)
	})
	if err != nil {
		return s.reject(ctx, log, v, domain.ReasonLiquidityUnavailable, err.Error(), false)
	}
	baseReserve := reserves.ReserveOf(s.cfg.BaseAsset)
	if baseReserve == nil {
		return s.reject(ctx, log, v, domain.ReasonLiquidityUnavailable, "pair does not hold the base asset", false)
	}
	v.Candidate.Liquidity = domain.ToDecimal(baseReserve, domain.BaseAssetDecimals)
	if v.Candidate.Liquidity.LessThan(s.cfg.MinLiquidity) {
		detail := fmt.Sprintf("liquidity %s below minimum %s", v.Candidate.Liquidity.String(), s.cfg.MinLiquidity.String())
		return s.reject(ctx, log, v, domain.ReasonInsufficientLiquidity, detail, false)
	}

	// 4. bytecode
	if s.cfg.BytecodeCheckEnabled {
		code, err := retryRead(ctx, s.cfg.RetryDelayBase, s.cfg.MaxReadRetries, func() ([]byte, error) {
			return s.chain.Bytecode(ctx, token)
		})
		if err != nil {
			return s.reject(ctx, log, v, domain.ReasonBytecodeUnanalyzable, err.Error(), true)
		}
		if len(code) == 0 {
			return s.reject(ctx, log, v, domain.ReasonBytecodeUnanalyzable, "no deployed code", true)
		}
		for _, rule := range s.rules {
			if rule.Match(code) {
				v.MatchedPattern = rule.Name()
				return s.reject(ctx, log, v, domain.ReasonSuspiciousBytecode, "Suspicious bytecode: "+rule.Name(), true)
			}
		}
	}

	// 5. sell history
	if s.history != nil && s.cfg.MinSuccessfulSells > 0 {
		count, err := s.history.CountOutgoingTransfers(ctx, pair, token)
		switch {
		case errors.Is(err, domain.ErrExplorerDisabled):
			log.Debug("Sell history check skipped, explorer disabled")
		case err != nil:
			log.Warn("Sell history check skipped, explorer unavailable", zap.Error(err))
		case count < s.cfg.MinSuccessfulSells:
			detail := fmt.Sprintf("%d sells, need %d", count, s.cfg.MinSuccessfulSells)
			return s.reject(ctx, log, v, domain.ReasonInsufficientSellHistory, detail, true)
		}
	}

	// 6. honeypot
	if s.cfg.HoneypotCheckEnabled {
		if verdict := s.probeHoneypot(ctx, log, v); verdict != nil {
			return verdict
		}
	}

	v.Passed = true
	v.Reason = domain.ReasonPassed
	s.metrics.ObserveVerdict(string(v.Reason))
	log.Info("Token passed screening",
		zap.String("name", v.Candidate.Name),
		zap.String("liquidity", v.Candidate.Liquidity.String()))
	return v
}

// probeHoneypot estimates an approval for the router. With round-trip probing
// enabled it also buys and sells a small amount and compares the recovered value.
func (s *Screener) probeHoneypot(ctx context.Context, log *zap.Logger, v *domain.SecurityVerdict) *domain.SecurityVerdict {
	token := v.Candidate.Address
	data, err := contracts.PackApprove(s.cfg.Router, approvalProbeAmount)
	if err != nil {
		return s.reject(ctx, log, v, domain.ReasonHoneypot, err.Error(), true)
	}
	_, err = retryRead(ctx, s.cfg.RetryDelayBase, s.cfg.MaxReadRetries, func() (uint64, error) {
		return s.chain.EstimateGas(ctx, domain.CallRequest{From: s.cfg.Wallet, To: token, Data: data})
	})
	if err != nil {
		return s.reject(ctx, log, v, domain.ReasonHoneypot, "approval estimate failed: "+err.Error(), true)
	}

	if !s.cfg.HoneypotRoundTrip || s.prober == nil {
		return nil
	}

	buy := s.prober.ExecuteBuy(ctx, domain.BuyRequest{
		Token:  token,
		Symbol: v.Candidate.Symbol,
		Amount: s.cfg.ProbeAmount,
		Probe:  true,
	})
	if !buy.Succeeded() || buy.AmountOut == nil || buy.AmountOut.Sign() == 0 {
		// a failed buy says nothing about selling
		return s.reject(ctx, log, v, domain.ReasonHoneypot, "probe buy failed: "+strings.Join(buy.Reasons, "; "), false)
	}

	sell := s.prober.ExecuteSell(ctx, domain.SellRequest{
		Token:      token,
		Symbol:     v.Candidate.Symbol,
		Decimals:   v.Candidate.Decimals,
		Amount:     buy.AmountOut,
		NoFallback: true,
		Probe:      true,
	})
	if !sell.Succeeded() {
		return s.reject(ctx, log, v, domain.ReasonHoneypot, "probe sell failed: "+strings.Join(sell.Reasons, "; "), true)
	}

	spent := domain.ToDecimal(buy.AmountIn, domain.BaseAssetDecimals)
	recovered := domain.ToDecimal(sell.AmountOut, domain.BaseAssetDecimals)
	if spent.IsPositive() {
		lossPct := spent.Sub(recovered).Div(spent).Mul(decimal.NewFromInt(100))
		if lossPct.GreaterThan(decimal.NewFromFloat(s.cfg.MaxRoundTripLossPct)) {
			detail := fmt.Sprintf("round trip lost %s%%", lossPct.StringFixed(2))
			return s.reject(ctx, log, v, domain.ReasonHoneypot, detail, true)
		}
	}
	return nil
}

func (s *Screener) reject(ctx context.Context, log *zap.Logger, v *domain.SecurityVerdict, reason domain.ReasonCode, detail string, blacklist bool) *domain.SecurityVerdict {
	v.Passed = false
	v.Reason = reason
	v.Detail = detail
	s.metrics.ObserveVerdict(string(reason))

	if blacklist {
		entryReason := string(reason)
		if detail != "" {
			entryReason = detail
		}
		err := s.blacklist.UpsertBlacklist(ctx, &domain.BlacklistEntry{
			TokenAddress: v.Candidate.Address,
			Symbol:       v.Candidate.Symbol,
			Reason:       entryReason,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			log.Error("Failed to blacklist token", zap.Error(err))
		} else {
			v.Blacklisted = true
		}
	}

	log.Warn("Token rejected",
		zap.String("reason", string(reason)),
		zap.String("detail", detail),
		zap.Bool("blacklisted", v.Blacklisted))
	return v
}

// MatchBlacklistedPattern reports the first pattern found in name or symbol, case-insensitively.
func MatchBlacklistedPattern(name, symbol string, patterns []string) (string, bool) {
	lname, lsymbol := strings.ToLower(name), strings.ToLower(symbol)
	for _, p := range patterns {
		lp := strings.ToLower(p)
		if lp == "" {
			continue
		}
		if strings.Contains(lname, lp) || strings.Contains(lsymbol, lp) {
			return p, true
		}
	}
	return "", false
}
