package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/token_sniper/internal/contracts"
	"github.com/vitos/token_sniper/internal/domain"
	"github.com/vitos/token_sniper/internal/observability"
	"go.uber.org/zap"
)

// approvalGasBump is applied on top of the attempt gas multiplier for approvals.
const approvalGasBump = 1.2

// replacementBump is the minimum gas price increase nodes accept for a same-nonce replacement.
const replacementBump = 1.1

// deferAfterFailures is how many recorded failures must precede a gradual-sell hand-off.
const deferAfterFailures = 3

type ExecutorConfig struct {
	Wallet              common.Address
	Router              common.Address
	BaseAsset           common.Address
	Escalator           Escalator
	MaxRetries          int
	RetryDelayBase      time.Duration
	ReadRetries         int
	ReceiptTimeout      time.Duration
	StaleCheckTimeout   time.Duration
	ApproveGasLimit     uint64
	DustThreshold       *big.Int
	SettleDelay         time.Duration
	ApprovalSettleDelay time.Duration
	TakeProfitPct       float64
	StopLossPct         float64
}

// SellFallback takes over a balance that could not be sold normally.
type SellFallback interface {
	// Enqueue schedules total for later sale. It returns ErrSellQueued when
	// the token already has a schedule.
	Enqueue(ctx context.Context, token common.Address, symbol string, decimals uint8, total *big.Int, positionID int64) ([]*domain.SellScheduleEntry, error)
}

// TradeExecutor runs buy and sell calls as a retry ladder with escalating
// slippage, gas and deadline.
type TradeExecutor struct {
	chain    domain.ChainClient
	store    domain.Store
	fallback SellFallback
	cfg      ExecutorConfig
	metrics  *observability.Metrics
	logger   *zap.Logger

	// nonceMu serialises nonce fetch, signing and broadcast for the wallet.
	nonceMu sync.Mutex
	sells   keyedLocker
}

func NewTradeExecutor(chain domain.ChainClient, store domain.Store, cfg ExecutorConfig, metrics *observability.Metrics, logger *zap.Logger) *TradeExecutor {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.DustThreshold == nil {
		cfg.DustThreshold = big.NewInt(1000)
	}
	return &TradeExecutor{
		chain:   chain,
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// SetFallback wires the gradual-sell queue used when sells keep failing.
func (e *TradeExecutor) SetFallback(f SellFallback) {
	e.fallback = f
}

// sentTx is a broadcast transaction. Replacements share the nonce and
// accumulate hashes, any of which may be the one that gets mined.
type sentTx struct {
	hashes   []common.Hash
	nonce    uint64
	gasPrice *big.Int
	gasLimit uint64
	amount   *big.Int
	expected *big.Int
}

func (s *sentTx) latest() common.Hash { return s.hashes[len(s.hashes)-1] }

// ExecuteBuy spends req.Amount of the base asset on req.Token.
func (e *TradeExecutor) ExecuteBuy(ctx context.Context, req domain.BuyRequest) *domain.TradeOutcome {
	out := newOutcome(domain.DirectionBuy, req.Token)
	log := e.logger.With(
		zap.String("call_id", out.CallID),
		zap.String("token", req.Token.Hex()),
		zap.String("direction", string(domain.DirectionBuy)),
		zap.Bool("probe", req.Probe))

	amountIn := domain.ToUnits(req.Amount, domain.BaseAssetDecimals)
	if amountIn.Sign() <= 0 {
		return e.skip(out, log, "INVALID_AMOUNT")
	}
	out.AmountIn = amountIn

	meta, err := retryRead(ctx, e.cfg.RetryDelayBase, e.cfg.ReadRetries, func() (*domain.TokenMetadata, error) {
		return e.chain.TokenMetadata(ctx, req.Token)
	})
	if err != nil {
		out.Reasons = []string{err.Error(), string(domain.ReasonMetadataUnavailable)}
		return e.finish(out, log)
	}
	if meta.Symbol == "" {
		meta.Symbol = req.Symbol
	}
	log = log.With(zap.String("symbol", meta.Symbol))

	before, err := retryRead(ctx, e.cfg.RetryDelayBase, e.cfg.ReadRetries, func() (*big.Int, error) {
		return e.chain.BalanceOf(ctx, req.Token, e.cfg.Wallet)
	})
	if err != nil {
		log.Warn("Pre-buy balance unavailable, falling back to quoted amount", zap.Error(err))
		before = nil
	}

	path := []common.Address{e.cfg.BaseAsset, req.Token}
	var (
		history []string
		pending *sentTx
		// walletStop is set when the loop ended for a reason that says
		// nothing about the token.
		walletStop bool
	)

	for n := 0; n < e.cfg.MaxRetries; n++ {
		if n > 0 {
			if err := sleepCtx(ctx, e.retryDelay(n)); err != nil {
				history = append(history, err.Error())
				walletStop = true
				break
			}
		}
		params := e.cfg.Escalator.For(n, history)
		attempt := domain.TradeAttempt{
			Number:          n + 1,
			Direction:       domain.DirectionBuy,
			RequestedAmount: amountIn,
			GasLimit:        params.GasLimit,
			SlippagePct:     params.SlippagePct,
		}

		if pending != nil {
			receipt, reasons, stillPending := e.await(ctx, pending, e.cfg.StaleCheckTimeout)
			if receipt != nil {
				return e.finishBuy(ctx, log, out, req, meta, before, pending, receipt)
			}
			if !stillPending {
				pending = nil
				history = append(history, reasons...)
			}
		}

		amounts, err := retryRead(ctx, e.cfg.RetryDelayBase, e.cfg.ReadRetries, func() ([]*big.Int, error) {
			return e.chain.QuoteAmountsOut(ctx, amountIn, path)
		})
		if err != nil || len(amounts) < len(path) {
			reasons := append(errorReasons(err), domain.HintEstimationFailed)
			history = append(history, reasons...)
			e.recordAttempt(ctx, log, out, meta.Symbol, &attempt, domain.OutcomeFailed, reasons, "")
			continue
		}
		expected := amounts[len(amounts)-1]
		attempt.MinAcceptable = ApplySlippage(expected, params.SlippagePct)

		deadline := time.Now().Add(params.Deadline).Unix()
		data, err := contracts.PackSwapExactETHForTokens(attempt.MinAcceptable, path, e.cfg.Wallet, deadline)
		if err != nil {
			history = append(history, err.Error())
			walletStop = true
			break
		}

		sent, err := e.submit(ctx, e.cfg.Router, amountIn, data, params.GasLimit, params.GasMultiplier, pending)
		if err != nil {
			reasons := append(errorReasons(err), domain.HintSendFailed)
			history = append(history, reasons...)
			e.recordAttempt(ctx, log, out, meta.Symbol, &attempt, domain.OutcomeFailed, reasons, "")
			if isFatalSendError(err) {
				walletStop = true
				break
			}
			continue
		}
		sent.amount, sent.expected = amountIn, expected
		attempt.GasPrice = sent.gasPrice
		pending = nil

		receipt, reasons, timedOut := e.await(ctx, sent, e.cfg.ReceiptTimeout)
		if receipt == nil {
			if timedOut {
				pending = sent
			}
			history = append(history, reasons...)
			e.recordAttempt(ctx, log, out, meta.Symbol, &attempt, domain.OutcomeFailed, reasons, sent.latest().Hex())
			continue
		}

		e.recordAttempt(ctx, log, out, meta.Symbol, &attempt, domain.OutcomeSuccess, nil, receipt.TxHash.Hex())
		return e.finishBuy(ctx, log, out, req, meta, before, sent, receipt)
	}

	if pending != nil {
		if receipt, _, _ := e.await(ctx, pending, e.cfg.StaleCheckTimeout); receipt != nil {
			return e.finishBuy(ctx, log, out, req, meta, before, pending, receipt)
		}
	}

	out.Reasons = history
	if req.Probe {
		return e.finish(out, log)
	}
	if walletStop || ctx.Err() != nil || !tokenSideFailure(history) {
		log.Warn("Buy failed without a token-side cause, not blacklisting", zap.Strings("reasons", history))
		return e.finish(out, log)
	}
	err = e.store.UpsertBlacklist(ctx, &domain.BlacklistEntry{
		TokenAddress: req.Token,
		Symbol:       meta.Symbol,
		Reason:       "Buy transaction failed",
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		log.Error("Failed to blacklist token after failed buy", zap.Error(err))
	}
	return e.finish(out, log)
}

func (e *TradeExecutor) finishBuy(
	ctx context.Context,
	log *zap.Logger,
	out *domain.TradeOutcome,
	req domain.BuyRequest,
	meta *domain.TokenMetadata,
	before *big.Int,
	sent *sentTx,
	receipt *domain.Receipt,
) *domain.TradeOutcome {
	if receipt.GasUsed*100 >= sent.gasLimit*95 {
		log.Warn("Buy used nearly all of its gas limit", zap.Uint64("gas_used", receipt.GasUsed), zap.Uint64("gas_limit", sent.gasLimit))
	}

	// let the node's view catch up before reading the new balance
	_ = sleepCtx(ctx, e.cfg.SettleDelay)

	received := sent.expected
	if before != nil {
		after, err := retryRead(ctx, e.cfg.RetryDelayBase, e.cfg.ReadRetries, func() (*big.Int, error) {
			return e.chain.BalanceOf(ctx, req.Token, e.cfg.Wallet)
		})
		if err == nil {
			if diff := new(big.Int).Sub(after, before); diff.Sign() > 0 {
				received = diff
			}
		} else {
			log.Warn("Post-buy balance unavailable, using quoted amount", zap.Error(err))
		}
	}

	out.Status = domain.OutcomeSuccess
	out.TxHash = receipt.TxHash
	out.AmountOut = received

	tokens := domain.ToDecimal(received, meta.Decimals)
	price := decimal.Zero
	if tokens.IsPositive() {
		price = req.Amount.Div(tokens)
	}

	txType := domain.TxTypeBuy
	if req.Probe {
		txType = domain.TxTypeTestBuy
	}
	record := &domain.Transaction{
		TokenAddress:  req.Token,
		Symbol:        meta.Symbol,
		Type:          txType,
		AmountBase:    req.Amount,
		AmountTokens:  tokens,
		PricePerToken: price,
		TxHash:        receipt.TxHash.Hex(),
		GasUsed:       receipt.GasUsed,
		CreatedAt:     time.Now().UTC(),
	}

	if !req.Probe {
		id, err := e.store.InsertPosition(ctx, &domain.PositionEntry{
			TokenAddress:  req.Token,
			Symbol:        meta.Symbol,
			Decimals:      meta.Decimals,
			AmountTokens:  received,
			PurchasePrice: price,
			Investment:    req.Amount,
			PurchaseTime:  time.Now().UTC(),
			TakeProfitPct: e.cfg.TakeProfitPct,
			StopLossPct:   e.cfg.StopLossPct,
			Status:        domain.PositionActive,
		})
		if err != nil {
			log.Error("Failed to record position", zap.Error(err))
		} else {
			out.PositionID = id
			record.PositionID = id
		}
	}
	if err := e.store.InsertTransaction(ctx, record); err != nil {
		log.Error("Failed to record buy transaction", zap.Error(err))
	}

	log.Info("Buy executed",
		zap.String("tx_hash", receipt.TxHash.Hex()),
		zap.String("spent", req.Amount.String()),
		zap.String("received", tokens.String()),
		zap.Int64("position_id", out.PositionID))
	return e.finish(out, log)
}

// ExecuteSell sells req.Amount of req.Token, or the whole balance when Amount is nil.
// Only one sell per token runs at a time; a concurrent call is skipped.
func (e *TradeExecutor) ExecuteSell(ctx context.Context, req domain.SellRequest) *domain.TradeOutcome {
	out := newOutcome(domain.DirectionSell, req.Token)
	out.PositionID = req.PositionID
	log := e.logger.With(
		zap.String("call_id", out.CallID),
		zap.String("token", req.Token.Hex()),
		zap.String("symbol", req.Symbol),
		zap.String("direction", string(domain.DirectionSell)),
		zap.Int64("position_id", req.PositionID))

	key := req.Token.Hex()
	if !e.sells.TryLock(key) {
		return e.skip(out, log, domain.HintInFlight)
	}
	defer e.sells.Unlock(key)

	balance, err := retryRead(ctx, e.cfg.RetryDelayBase, e.cfg.ReadRetries, func() (*big.Int, error) {
		return e.chain.BalanceOf(ctx, req.Token, e.cfg.Wallet)
	})
	if err != nil {
		out.Reasons = errorReasons(err)
		return e.finish(out, log)
	}

	explicit := req.Amount != nil
	requested := balance
	if explicit {
		requested = new(big.Int).Set(req.Amount)
		if requested.Cmp(balance) > 0 {
			log.Warn("Requested amount exceeds balance, clamping",
				zap.String("requested", requested.String()),
				zap.String("balance", balance.String()))
			requested = balance
		}
	}
	if requested.Sign() == 0 {
		if balance.Sign() == 0 && req.PositionID > 0 && !req.Probe {
			e.closeEmptyPosition(ctx, log, req)
		}
		return e.skip(out, log, domain.HintNoBalance)
	}
	out.AmountIn = requested

	path := []common.Address{req.Token, e.cfg.BaseAsset}
	var (
		history []string
		pending *sentTx
	)

	for n := 0; n < e.cfg.MaxRetries; n++ {
		if n > 0 {
			if err := sleepCtx(ctx, e.retryDelay(n)); err != nil {
				history = append(history, err.Error())
				break
			}
		}
		params := e.cfg.Escalator.For(n, history)

		amount := requested
		if explicit {
			amount = ReduceAmount(requested, n, history)
		}
		if amount.Cmp(e.cfg.DustThreshold) < 0 {
			out.Reasons = history
			return e.skip(out, log, domain.HintDust)
		}

		attempt := domain.TradeAttempt{
			Number:          n + 1,
			Direction:       domain.DirectionSell,
			RequestedAmount: amount,
			GasLimit:        params.GasLimit,
			SlippagePct:     params.SlippagePct,
		}

		if pending != nil {
			receipt, reasons, stillPending := e.await(ctx, pending, e.cfg.StaleCheckTimeout)
			if receipt != nil {
				return e.finishSell(ctx, log, out, req, pending, receipt)
			}
			if !stillPending {
				pending = nil
				history = append(history, reasons...)
			}
		}

		if err := e.ensureApproval(ctx, log, req.Token, amount, params); err != nil {
			reasons := []string{err.Error(), domain.HintApprovalFailed}
			history = append(history, reasons...)
			e.recordAttempt(ctx, log, out, req.Symbol, &attempt, domain.OutcomeFailed, reasons, "")
			out.Reasons = history
			return e.finish(out, log)
		}

		amounts, err := retryRead(ctx, e.cfg.RetryDelayBase, e.cfg.ReadRetries, func() ([]*big.Int, error) {
			return e.chain.QuoteAmountsOut(ctx, amount, path)
		})
		if err != nil || len(amounts) < len(path) {
			reasons := append(errorReasons(err), domain.HintEstimationFailed)
			history = append(history, reasons...)
			e.recordAttempt(ctx, log, out, req.Symbol, &attempt, domain.OutcomeFailed, reasons, "")
			out.Reasons = history
			return e.finish(out, log)
		}
		expected := amounts[len(amounts)-1]
		attempt.MinAcceptable = ApplySlippage(expected, params.SlippagePct)

		deadline := time.Now().Add(params.Deadline).Unix()
		data, err := contracts.PackSwapExactTokensForETH(amount, attempt.MinAcceptable, path, e.cfg.Wallet, deadline)
		if err != nil {
			history = append(history, err.Error())
			break
		}

		sent, err := e.submit(ctx, e.cfg.Router, nil, data, params.GasLimit, params.GasMultiplier, pending)
		if err != nil {
			reasons := append(errorReasons(err), domain.HintSendFailed)
			history = append(history, reasons...)
			e.recordAttempt(ctx, log, out, req.Symbol, &attempt, domain.OutcomeFailed, reasons, "")
			if isFatalSendError(err) {
				break
			}
			continue
		}
		sent.amount, sent.expected = amount, expected
		attempt.GasPrice = sent.gasPrice
		pending = nil

		receipt, reasons, timedOut := e.await(ctx, sent, e.cfg.ReceiptTimeout)
		if receipt == nil {
			if timedOut {
				pending = sent
			}
			history = append(history, reasons...)
			e.recordAttempt(ctx, log, out, req.Symbol, &attempt, domain.OutcomeFailed, reasons, sent.latest().Hex())
			continue
		}

		var hints []string
		if receipt.GasUsed*100 >= params.GasLimit*95 {
			hints = append(hints, domain.HintOutOfGas)
			history = append(history, domain.HintOutOfGas)
		}
		e.recordAttempt(ctx, log, out, req.Symbol, &attempt, domain.OutcomeSuccess, hints, receipt.TxHash.Hex())
		return e.finishSell(ctx, log, out, req, sent, receipt)
	}

	if pending != nil {
		if receipt, _, _ := e.await(ctx, pending, e.cfg.StaleCheckTimeout); receipt != nil {
			return e.finishSell(ctx, log, out, req, pending, receipt)
		}
	}

	out.Reasons = history
	if !req.NoFallback && !req.Probe && e.fallback != nil && shouldDefer(history) {
		remaining := requested
		if !explicit {
			if bal, err := e.chain.BalanceOf(ctx, req.Token, e.cfg.Wallet); err == nil && bal.Sign() > 0 {
				remaining = bal
			}
		}
		entries, err := e.fallback.Enqueue(ctx, req.Token, req.Symbol, req.Decimals, remaining, req.PositionID)
		switch {
		case errors.Is(err, domain.ErrSellQueued):
			out.Deferred = true
			log.Info("Gradual sell already scheduled for token")
		case err != nil:
			log.Error("Failed to enqueue gradual sell", zap.Error(err))
		default:
			out.Deferred = true
			log.Warn("Sell handed to gradual-sell queue",
				zap.String("amount", remaining.String()),
				zap.Int("entries", len(entries)))
		}
	}
	return e.finish(out, log)
}

func (e *TradeExecutor) finishSell(
	ctx context.Context,
	log *zap.Logger,
	out *domain.TradeOutcome,
	req domain.SellRequest,
	sent *sentTx,
	receipt *domain.Receipt,
) *domain.TradeOutcome {
	out.Status = domain.OutcomeSuccess
	out.TxHash = receipt.TxHash
	out.AmountIn = sent.amount
	out.AmountOut = sent.expected

	baseOut := domain.ToDecimal(sent.expected, domain.BaseAssetDecimals)
	tokens := domain.ToDecimal(sent.amount, req.Decimals)
	price := decimal.Zero
	if tokens.IsPositive() {
		price = baseOut.Div(tokens)
	}

	pnl := decimal.Zero
	if req.PositionID > 0 && !req.Probe {
		pnl = e.settlePosition(ctx, log, req, sent.amount, baseOut)
	}

	err := e.store.InsertTransaction(ctx, &domain.Transaction{
		TokenAddress:  req.Token,
		Symbol:        req.Symbol,
		Type:          domain.TxTypeSell,
		AmountBase:    baseOut,
		AmountTokens:  tokens,
		PricePerToken: price,
		TxHash:        receipt.TxHash.Hex(),
		GasUsed:       receipt.GasUsed,
		ProfitLoss:    pnl,
		PositionID:    req.PositionID,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		log.Error("Failed to record sell transaction", zap.Error(err))
	}

	log.Info("Sell executed",
		zap.String("tx_hash", receipt.TxHash.Hex()),
		zap.String("sold", tokens.String()),
		zap.String("received", baseOut.String()),
		zap.String("profit_loss", pnl.String()))
	return e.finish(out, log)
}

// settlePosition closes or decrements the position and returns the realised
// profit of the sold share.
func (e *TradeExecutor) settlePosition(ctx context.Context, log *zap.Logger, req domain.SellRequest, sold *big.Int, baseOut decimal.Decimal) decimal.Decimal {
	pos, err := e.store.GetPosition(ctx, req.PositionID)
	if err != nil {
		log.Error("Failed to load position after sell", zap.Error(err))
		return decimal.Zero
	}

	full := sold.Cmp(pos.AmountTokens) >= 0
	share := pos.Investment
	if !full && pos.AmountTokens.Sign() > 0 {
		share = pos.Investment.Mul(decimal.NewFromBigInt(sold, 0)).Div(decimal.NewFromBigInt(pos.AmountTokens, 0))
	}

	if full {
		status := req.CloseStatus
		if status == "" {
			status = domain.PositionSold
			if baseOut.LessThan(share) {
				status = domain.PositionLoss
			}
		}
		err = e.store.UpdatePositionStatus(ctx, pos.ID, status)
	} else {
		err = e.store.UpdatePositionAmount(ctx, pos.ID, new(big.Int).Sub(pos.AmountTokens, sold), pos.Investment.Sub(share))
	}
	switch {
	case errors.Is(err, domain.ErrPositionNotActive):
		log.Warn("Position was already closed by another sell")
	case err != nil:
		log.Error("Failed to update position after sell", zap.Error(err))
	}
	return baseOut.Sub(share)
}

// closeEmptyPosition closes a position whose tokens are no longer in the
// wallet. Nothing was received for them, so the whole cost basis is a loss.
func (e *TradeExecutor) closeEmptyPosition(ctx context.Context, log *zap.Logger, req domain.SellRequest) {
	err := e.store.UpdatePositionStatus(ctx, req.PositionID, domain.PositionLoss)
	switch {
	case errors.Is(err, domain.ErrPositionNotActive):
	case err != nil:
		log.Error("Failed to close position with empty balance", zap.Error(err))
	default:
		log.Warn("Wallet holds none of the position's tokens, position closed as loss")
	}
}

func (e *TradeExecutor) ensureApproval(ctx context.Context, log *zap.Logger, token common.Address, amount *big.Int, params EscalationParams) error {
	allowance, err := retryRead(ctx, e.cfg.RetryDelayBase, e.cfg.ReadRetries, func() (*big.Int, error) {
		return e.chain.Allowance(ctx, token, e.cfg.Wallet, e.cfg.Router)
	})
	if err != nil {
		return fmt.Errorf("allowance: %w", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	data, err := contracts.PackApprove(e.cfg.Router, contracts.MaxUint256)
	if err != nil {
		return err
	}
	sent, err := e.submit(ctx, token, nil, data, e.cfg.ApproveGasLimit, params.GasMultiplier*approvalGasBump, nil)
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	receipt, err := e.chain.WaitForReceipt(ctx, sent.latest(), e.cfg.ReceiptTimeout)
	if err != nil {
		return fmt.Errorf("approve receipt: %w", err)
	}
	if !receipt.Succeeded() {
		return fmt.Errorf("approve reverted in tx %s", receipt.TxHash.Hex())
	}
	log.Info("Router approved", zap.String("tx_hash", receipt.TxHash.Hex()))

	return sleepCtx(ctx, e.cfg.ApprovalSettleDelay)
}

// submit signs and broadcasts under the wallet nonce lock. When prev is set
// the transaction replaces it at the same nonce.
func (e *TradeExecutor) submit(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64, multiplier float64, prev *sentTx) (*sentTx, error) {
	e.nonceMu.Lock()
	defer e.nonceMu.Unlock()

	base, err := retryRead(ctx, e.cfg.RetryDelayBase, e.cfg.ReadRetries, func() (*big.Int, error) {
		return e.chain.GasPrice(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	gasPrice := ScaleGasPrice(base, multiplier)

	var nonce uint64
	if prev != nil {
		nonce = prev.nonce
		if floor := ScaleGasPrice(prev.gasPrice, replacementBump); gasPrice.Cmp(floor) < 0 {
			gasPrice = floor
		}
	} else {
		nonce, err = retryRead(ctx, e.cfg.RetryDelayBase, e.cfg.ReadRetries, func() (uint64, error) {
			return e.chain.NextNonce(ctx, e.cfg.Wallet)
		})
		if err != nil {
			return nil, fmt.Errorf("nonce: %w", err)
		}
	}

	hash, err := e.chain.SignAndSend(ctx, &domain.TxRequest{
		To:       to,
		Value:    value,
		Data:     data,
		GasLimit: gasLimit,
		GasPrice: gasPrice,
		Nonce:    nonce,
	})
	if err != nil {
		return nil, err
	}

	sent := &sentTx{nonce: nonce, gasPrice: gasPrice, gasLimit: gasLimit}
	if prev != nil {
		sent.hashes = append(slices.Clone(prev.hashes), hash)
	} else {
		sent.hashes = []common.Hash{hash}
	}
	return sent, nil
}

// await waits up to timeout for the newest hash, then polls older
// same-nonce hashes once. A nil receipt with timedOut=false is a revert.
func (e *TradeExecutor) await(ctx context.Context, sent *sentTx, timeout time.Duration) (*domain.Receipt, []string, bool) {
	receipt, err := e.chain.WaitForReceipt(ctx, sent.latest(), timeout)
	for i := len(sent.hashes) - 2; err != nil && i >= 0; i-- {
		receipt, err = e.chain.WaitForReceipt(ctx, sent.hashes[i], 0)
	}
	if err != nil {
		return nil, []string{err.Error(), domain.HintTimeout}, true
	}
	if receipt.Succeeded() {
		return receipt, nil, false
	}

	var reasons []string
	reason, rerr := e.chain.RevertReason(ctx, receipt.TxHash)
	if rerr == nil && reason != "" {
		reasons = append(reasons, reason)
	}
	hints := failureHints(reason)
	if len(hints) == 0 {
		hints = []string{domain.HintExecutionReverted}
	}
	reasons = append(reasons, hints...)
	if receipt.GasUsed*100 >= sent.gasLimit*95 && !slices.Contains(reasons, domain.HintOutOfGas) {
		reasons = append(reasons, domain.HintOutOfGas)
	}
	return nil, reasons, false
}

func (e *TradeExecutor) recordAttempt(
	ctx context.Context,
	log *zap.Logger,
	out *domain.TradeOutcome,
	symbol string,
	attempt *domain.TradeAttempt,
	status domain.OutcomeStatus,
	reasons []string,
	txHash string,
) {
	attempt.Outcome = status
	attempt.FailureReasons = reasons
	out.Attempts = append(out.Attempts, *attempt)
	e.metrics.ObserveAttempt(string(out.Direction))
	if status != domain.OutcomeFailed {
		return
	}

	log.Warn("Trade attempt failed",
		zap.Int("attempt", attempt.Number),
		zap.Float64("slippage_pct", attempt.SlippagePct),
		zap.Uint64("gas_limit", attempt.GasLimit),
		zap.String("tx_hash", txHash),
		zap.Strings("reasons", reasons))

	err := e.store.InsertFailedTransaction(ctx, &domain.FailedTransaction{
		TokenAddress: out.Token,
		Symbol:       symbol,
		Direction:    out.Direction,
		Attempt:      attempt.Number,
		Reason:       strings.Join(reasons, "; "),
		TxHash:       txHash,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		log.Error("Failed to record failed transaction", zap.Error(err))
	}
}

func (e *TradeExecutor) retryDelay(n int) time.Duration {
	return e.cfg.RetryDelayBase * time.Duration(n) * 2
}

func (e *TradeExecutor) skip(out *domain.TradeOutcome, log *zap.Logger, reason string) *domain.TradeOutcome {
	out.Status = domain.OutcomeSkipped
	out.Reasons = append(out.Reasons, reason)
	return e.finish(out, log)
}

func (e *TradeExecutor) finish(out *domain.TradeOutcome, log *zap.Logger) *domain.TradeOutcome {
	e.metrics.ObserveOutcome(string(out.Direction), string(out.Status))
	switch out.Status {
	case domain.OutcomeFailed:
		log.Error("Trade failed",
			zap.String("stage", "execution"),
			zap.Int("attempts", len(out.Attempts)),
			zap.Strings("reasons", out.Reasons),
			zap.Bool("deferred", out.Deferred))
	case domain.OutcomeSkipped:
		log.Info("Trade skipped", zap.Strings("reasons", out.Reasons))
	}
	return out
}

func newOutcome(direction domain.Direction, token common.Address) *domain.TradeOutcome {
	return &domain.TradeOutcome{
		CallID:    uuid.NewString(),
		Direction: direction,
		Token:     token,
		Status:    domain.OutcomeFailed,
	}
}

// failureHints maps node messages onto the hint codes used by escalation.
func failureHints(msg string) []string {
	l := strings.ToLower(msg)
	var hints []string
	if strings.Contains(l, "gas required exceeds allowance") {
		hints = append(hints, domain.HintExceededMaximum)
	}
	if strings.Contains(l, "always failing") {
		hints = append(hints, domain.HintAlwaysFailing)
	}
	if strings.Contains(l, "execution reverted") {
		hints = append(hints, domain.HintExecutionReverted)
	}
	if strings.Contains(l, "insufficient_output_amount") || strings.Contains(l, "price impact") {
		hints = append(hints, domain.HintSlippage)
	}
	if strings.Contains(l, "out of gas") {
		hints = append(hints, domain.HintOutOfGas)
	}
	return hints
}

func errorReasons(err error) []string {
	if err == nil {
		return nil
	}
	return append([]string{err.Error()}, failureHints(err.Error())...)
}

func isFatalSendError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "insufficient funds")
}

// tokenSideFailure reports whether history holds a failure the token or its
// pool caused, as opposed to the wallet or the node.
func tokenSideFailure(history []string) bool {
	for _, h := range history {
		switch h {
		case domain.HintExecutionReverted, domain.HintAlwaysFailing, domain.HintExceededMaximum,
			domain.HintSlippage, domain.HintEstimationFailed, domain.HintTimeout:
			return true
		}
	}
	return false
}

// shouldDefer reports whether a failed sell looks like a sell restriction
// rather than bad luck.
func shouldDefer(history []string) bool {
	if len(history) < deferAfterFailures {
		return false
	}
	return slices.Contains(history, domain.HintAlwaysFailing) || slices.Contains(history, domain.HintExecutionReverted)
}

// keyedLocker is a set of non-blocking per-key locks.
type keyedLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func (k *keyedLocker) TryLock(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.held == nil {
		k.held = make(map[string]struct{})
	}
	if _, ok := k.held[key]; ok {
		return false
	}
	k.held[key] = struct{}{}
	return true
}

func (k *keyedLocker) Unlock(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.held, key)
}
