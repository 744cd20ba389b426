package usecase_test

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/token_sniper/internal/contracts"
	"github.com/vitos/token_sniper/internal/domain"
	"github.com/vitos/token_sniper/internal/usecase"
)

func executorConfig() usecase.ExecutorConfig {
	return usecase.ExecutorConfig{
		Wallet:    wallet,
		Router:    router,
		BaseAsset: baseAsset,
		Escalator: usecase.Escalator{
			BaseSlippagePct:   10,
			BaseGasMultiplier: 1.2,
			BaseGasLimit:      300_000,
			DeadlineWindow:    5 * time.Minute,
			DeadlineStep:      5 * time.Minute,
		},
		MaxRetries:      3,
		ReadRetries:     2,
		ApproveGasLimit: 150_000,
		DustThreshold:   big.NewInt(1000),
		TakeProfitPct:   20,
		StopLossPct:     10,
	}
}

func newExecutor(chain *MockChain, store domain.Store) *usecase.TradeExecutor {
	return usecase.NewTradeExecutor(chain, store, executorConfig(), nil, nop)
}

type recordingFallback struct {
	mu         sync.Mutex
	calls      int
	token      common.Address
	amount     *big.Int
	positionID int64
}

func (f *recordingFallback) Enqueue(ctx context.Context, token common.Address, symbol string, decimals uint8, total *big.Int, positionID int64) ([]*domain.SellScheduleEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.token = token
	f.amount = total
	f.positionID = positionID
	return []*domain.SellScheduleEntry{{TokenAddress: token, Amount: total, PositionID: positionID}}, nil
}

func reverted(reason string, chain *MockChain) func(tx *domain.TxRequest, idx int) (*domain.Receipt, error) {
	chain.Revert = reason
	return func(tx *domain.TxRequest, idx int) (*domain.Receipt, error) {
		if tx.To != router {
			return &domain.Receipt{Status: 1, GasUsed: 40_000}, nil
		}
		return &domain.Receipt{Status: 0, GasUsed: 50_000}, nil
	}
}

func buyChain() *MockChain {
	chain := NewMockChain().WithToken(tokenA, pairA, "Alpha", "ALPHA", 50)
	chain.QuoteFunc = func(in *big.Int, path []common.Address) ([]*big.Int, error) {
		return []*big.Int{in, bnb(5000)}, nil
	}
	chain.Mined = func(tx *domain.TxRequest) {
		if tx.Value != nil && tx.Value.Sign() > 0 {
			chain.SetBalance(tokenA, bnb(4900))
		}
	}
	return chain
}

func TestExecuteBuy_RecordsPosition(t *testing.T) {
	ctx := context.Background()
	chain := buyChain()
	store := newStore(t)

	out := newExecutor(chain, store).ExecuteBuy(ctx, domain.BuyRequest{Token: tokenA, Amount: decimal.RequireFromString("0.05")})

	require.Equal(t, domain.OutcomeSuccess, out.Status, out.Reasons)
	assert.NotEmpty(t, out.CallID)
	assert.Equal(t, bnb(4900), out.AmountOut, "received amount comes from the balance delta")
	assert.Positive(t, out.PositionID)

	require.Equal(t, 1, chain.SentCount())
	tx := chain.Sent[0]
	assert.Equal(t, router, tx.To)
	assert.Equal(t, big.NewInt(5e16), tx.Value)
	assert.Equal(t, uint64(300_000), tx.GasLimit)
	assert.Equal(t, big.NewInt(3_600_000_000), tx.GasPrice)

	positions, err := store.ListActivePositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "ALPHA", positions[0].Symbol)
	assert.Equal(t, bnb(4900), positions[0].AmountTokens)
	assert.True(t, positions[0].Investment.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, 20.0, positions[0].TakeProfitPct)

	txs, err := store.ListTransactions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxTypeBuy, txs[0].Type)
	assert.Equal(t, out.PositionID, txs[0].PositionID)
}

func TestExecuteBuy_ProbeCreatesNoPosition(t *testing.T) {
	ctx := context.Background()
	chain := buyChain()
	store := newStore(t)

	out := newExecutor(chain, store).ExecuteBuy(ctx, domain.BuyRequest{Token: tokenA, Amount: decimal.RequireFromString("0.005"), Probe: true})

	require.True(t, out.Succeeded())
	assert.Zero(t, out.PositionID)

	positions, err := store.ListActivePositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	txs, err := store.ListTransactions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxTypeTestBuy, txs[0].Type)
}

func TestExecuteBuy_EscalatesThenBlacklists(t *testing.T) {
	ctx := context.Background()
	chain := buyChain()
	chain.ReceiptFunc = reverted("execution reverted: TransferHelper: TRANSFER_FROM_FAILED", chain)
	store := newStore(t)

	out := newExecutor(chain, store).ExecuteBuy(ctx, domain.BuyRequest{Token: tokenA, Amount: decimal.RequireFromString("0.05")})

	assert.Equal(t, domain.OutcomeFailed, out.Status)
	require.Len(t, out.Attempts, 3)
	assert.Contains(t, out.Reasons, domain.HintExecutionReverted)

	wantSlippage := []float64{10, 20, 30}
	wantGas := []uint64{300_000, 360_000, 420_000}
	for i, a := range out.Attempts {
		assert.Equal(t, wantSlippage[i], a.SlippagePct, "attempt %d", a.Number)
		assert.Equal(t, wantGas[i], a.GasLimit, "attempt %d", a.Number)
		assert.Equal(t, domain.OutcomeFailed, a.Outcome)
	}
	// min out tracks slippage: 90%, 80%, 70% of the quote
	assert.Equal(t, bnb(4500), out.Attempts[0].MinAcceptable)
	assert.Equal(t, bnb(3500), out.Attempts[2].MinAcceptable)

	entries, err := store.ListBlacklist(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Buy transaction failed", entries[0].Reason)

	failed, err := store.ListFailedTransactions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 3)
}

func TestExecuteBuy_ProbeFailureDoesNotBlacklist(t *testing.T) {
	ctx := context.Background()
	chain := buyChain()
	chain.ReceiptFunc = reverted("execution reverted", chain)
	store := newStore(t)

	out := newExecutor(chain, store).ExecuteBuy(ctx, domain.BuyRequest{Token: tokenA, Amount: decimal.RequireFromString("0.005"), Probe: true})

	assert.Equal(t, domain.OutcomeFailed, out.Status)
	listed, err := store.IsBlacklisted(ctx, tokenA)
	require.NoError(t, err)
	assert.False(t, listed)
}

func TestExecuteBuy_LateReceiptIsNotResent(t *testing.T) {
	chain := buyChain()
	var mu sync.Mutex
	seen := map[int]int{}
	chain.ReceiptFunc = func(tx *domain.TxRequest, idx int) (*domain.Receipt, error) {
		mu.Lock()
		defer mu.Unlock()
		seen[idx]++
		if idx == 0 && seen[idx] == 1 {
			return nil, &domain.ChainError{Op: "receipt", Kind: domain.KindTransient, Err: domain.ErrReceiptTimeout}
		}
		return &domain.Receipt{Status: 1, GasUsed: 120_000}, nil
	}

	out := newExecutor(chain, newStore(t)).ExecuteBuy(context.Background(), domain.BuyRequest{Token: tokenA, Amount: decimal.RequireFromString("0.05")})

	require.True(t, out.Succeeded(), out.Reasons)
	assert.Equal(t, 1, chain.SentCount(), "the mined original must not be bought twice")
	assert.Equal(t, bnb(4900), out.AmountOut)
}

func TestExecuteBuy_ReplacementReusesNonce(t *testing.T) {
	chain := buyChain()
	chain.ReceiptFunc = func(tx *domain.TxRequest, idx int) (*domain.Receipt, error) {
		if idx == 0 {
			return nil, &domain.ChainError{Op: "receipt", Kind: domain.KindTransient, Err: domain.ErrReceiptTimeout}
		}
		return &domain.Receipt{Status: 1, GasUsed: 120_000}, nil
	}

	out := newExecutor(chain, newStore(t)).ExecuteBuy(context.Background(), domain.BuyRequest{Token: tokenA, Amount: decimal.RequireFromString("0.05")})

	require.True(t, out.Succeeded(), out.Reasons)
	require.Equal(t, 2, chain.SentCount())
	assert.Equal(t, chain.Sent[0].Nonce, chain.Sent[1].Nonce)
	minBump := usecase.ScaleGasPrice(chain.Sent[0].GasPrice, 1.1)
	assert.GreaterOrEqual(t, chain.Sent[1].GasPrice.Cmp(minBump), 0)
	assert.Contains(t, out.Attempts[0].FailureReasons, domain.HintTimeout)
}

func TestExecuteBuy_InsufficientFundsStopsEarly(t *testing.T) {
	chain := buyChain()
	chain.SendFunc = func(tx *domain.TxRequest) error {
		return revertErr("send", "insufficient funds for gas * price + value")
	}

	store := newStore(t)

	out := newExecutor(chain, store).ExecuteBuy(context.Background(), domain.BuyRequest{Token: tokenA, Amount: decimal.RequireFromString("0.05")})

	assert.Equal(t, domain.OutcomeFailed, out.Status)
	assert.Len(t, out.Attempts, 1)
	assert.Contains(t, out.Reasons, domain.HintSendFailed)

	listed, err := store.IsBlacklisted(context.Background(), tokenA)
	require.NoError(t, err)
	assert.False(t, listed, "an empty wallet says nothing about the token")
}

func TestExecuteBuy_CancelledDoesNotBlacklist(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chain := buyChain()
	chain.SendFunc = func(tx *domain.TxRequest) error {
		cancel()
		return transientErr("send", "connection reset by peer")
	}
	store := newStore(t)

	out := newExecutor(chain, store).ExecuteBuy(ctx, domain.BuyRequest{Token: tokenA, Amount: decimal.RequireFromString("0.05")})

	assert.Equal(t, domain.OutcomeFailed, out.Status)
	assert.Len(t, out.Attempts, 1)

	listed, err := store.IsBlacklisted(context.Background(), tokenA)
	require.NoError(t, err)
	assert.False(t, listed)
}

func TestExecuteBuy_NodeErrorsDoNotBlacklist(t *testing.T) {
	chain := buyChain()
	chain.SendFunc = func(tx *domain.TxRequest) error {
		return transientErr("send", "connection reset by peer")
	}
	store := newStore(t)

	out := newExecutor(chain, store).ExecuteBuy(context.Background(), domain.BuyRequest{Token: tokenA, Amount: decimal.RequireFromString("0.05")})

	assert.Equal(t, domain.OutcomeFailed, out.Status)
	assert.Len(t, out.Attempts, 3)

	listed, err := store.IsBlacklisted(context.Background(), tokenA)
	require.NoError(t, err)
	assert.False(t, listed)
}

func sellChain(balance *big.Int) *MockChain {
	chain := NewMockChain().WithToken(tokenA, pairA, "Alpha", "ALPHA", 50)
	chain.SetBalance(tokenA, balance)
	chain.QuoteFunc = func(in *big.Int, path []common.Address) ([]*big.Int, error) {
		// 1000 tokens are worth 0.06 BNB
		out := new(big.Int).Mul(in, big.NewInt(6))
		return []*big.Int{in, out.Quo(out, big.NewInt(100_000))}, nil
	}
	return chain
}

func openPosition(t *testing.T, store domain.Store, amount *big.Int, investment string) int64 {
	t.Helper()
	id, err := store.InsertPosition(context.Background(), &domain.PositionEntry{
		TokenAddress:  tokenA,
		Symbol:        "ALPHA",
		Decimals:      18,
		AmountTokens:  amount,
		PurchasePrice: decimal.RequireFromString("0.00005"),
		Investment:    decimal.RequireFromString(investment),
		PurchaseTime:  time.Now().Add(-time.Hour),
		TakeProfitPct: 20,
		StopLossPct:   10,
		Status:        domain.PositionActive,
	})
	require.NoError(t, err)
	return id
}

func TestExecuteSell_ApprovesThenClosesPosition(t *testing.T) {
	ctx := context.Background()
	chain := sellChain(bnb(1000))
	store := newStore(t)
	id := openPosition(t, store, bnb(1000), "0.05")

	out := newExecutor(chain, store).ExecuteSell(ctx, domain.SellRequest{
		Token: tokenA, Symbol: "ALPHA", Decimals: 18, PositionID: id,
	})

	require.Equal(t, domain.OutcomeSuccess, out.Status, out.Reasons)
	require.Equal(t, 2, chain.SentCount())

	approve := chain.Sent[0]
	assert.Equal(t, tokenA, approve.To)
	assert.Equal(t, uint64(150_000), approve.GasLimit)
	assert.Equal(t, big.NewInt(4_320_000_000), approve.GasPrice)
	wantData, err := contracts.PackApprove(router, contracts.MaxUint256)
	require.NoError(t, err)
	assert.Equal(t, wantData, approve.Data)
	assert.Equal(t, router, chain.Sent[1].To)

	pos, err := store.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionSold, pos.Status)

	txs, err := store.ListTransactions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxTypeSell, txs[0].Type)
	assert.True(t, txs[0].ProfitLoss.Equal(decimal.RequireFromString("0.01")), txs[0].ProfitLoss.String())
}

func TestExecuteSell_CloseStatusLoss(t *testing.T) {
	ctx := context.Background()
	chain := sellChain(bnb(1000))
	chain.Allowances[tokenA] = contracts.MaxUint256
	store := newStore(t)
	id := openPosition(t, store, bnb(1000), "0.08")

	out := newExecutor(chain, store).ExecuteSell(ctx, domain.SellRequest{
		Token: tokenA, Symbol: "ALPHA", Decimals: 18, PositionID: id, CloseStatus: domain.PositionLoss,
	})

	require.True(t, out.Succeeded())
	assert.Equal(t, 1, chain.SentCount(), "no approval when allowance suffices")
	pos, err := store.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionLoss, pos.Status)
}

func TestExecuteSell_ReducesExplicitAmountOnRetry(t *testing.T) {
	ctx := context.Background()
	chain := sellChain(bnb(1000))
	chain.Allowances[tokenA] = contracts.MaxUint256
	chain.ReceiptFunc = func(tx *domain.TxRequest, idx int) (*domain.Receipt, error) {
		if idx == 0 {
			return &domain.Receipt{Status: 0, GasUsed: 80_000}, nil
		}
		return &domain.Receipt{Status: 1, GasUsed: 80_000}, nil
	}
	store := newStore(t)
	id := openPosition(t, store, bnb(1000), "0.05")

	out := newExecutor(chain, store).ExecuteSell(ctx, domain.SellRequest{
		Token: tokenA, Symbol: "ALPHA", Decimals: 18, PositionID: id, Amount: bnb(1000),
	})

	require.True(t, out.Succeeded(), out.Reasons)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, bnb(800), out.Attempts[1].RequestedAmount)

	pos, err := store.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionActive, pos.Status)
	assert.Equal(t, bnb(200), pos.AmountTokens)
	assert.True(t, pos.Investment.Equal(decimal.RequireFromString("0.01")), "cost basis follows the tokens: %s", pos.Investment)
}

func TestExecuteSell_EmptyBalanceClosesPosition(t *testing.T) {
	ctx := context.Background()
	chain := sellChain(big.NewInt(0))
	store := newStore(t)
	id := openPosition(t, store, bnb(1000), "0.05")

	out := newExecutor(chain, store).ExecuteSell(ctx, domain.SellRequest{
		Token: tokenA, Symbol: "ALPHA", Decimals: 18, PositionID: id, Amount: bnb(1000),
	})

	assert.Equal(t, domain.OutcomeSkipped, out.Status)
	assert.Contains(t, out.Reasons, domain.HintNoBalance)
	pos, err := store.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionLoss, pos.Status)
}

func TestExecuteSell_ClampsToBalance(t *testing.T) {
	chain := sellChain(bnb(300))
	chain.Allowances[tokenA] = contracts.MaxUint256

	out := newExecutor(chain, newStore(t)).ExecuteSell(context.Background(), domain.SellRequest{
		Token: tokenA, Symbol: "ALPHA", Decimals: 18, Amount: bnb(1000),
	})

	require.True(t, out.Succeeded())
	assert.Equal(t, bnb(300), out.AmountIn)
}

func TestExecuteSell_Skips(t *testing.T) {
	tests := []struct {
		name    string
		balance *big.Int
		reason  string
	}{
		{"no balance", big.NewInt(0), domain.HintNoBalance},
		{"dust", big.NewInt(999), domain.HintDust},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := sellChain(tt.balance)

			out := newExecutor(chain, newStore(t)).ExecuteSell(context.Background(), domain.SellRequest{Token: tokenA, Symbol: "ALPHA", Decimals: 18})

			assert.Equal(t, domain.OutcomeSkipped, out.Status)
			assert.Contains(t, out.Reasons, tt.reason)
			assert.Zero(t, chain.SentCount())
		})
	}
}

func TestExecuteSell_ApprovalFailureStops(t *testing.T) {
	chain := sellChain(bnb(1000))
	chain.ReceiptFunc = func(tx *domain.TxRequest, idx int) (*domain.Receipt, error) {
		return &domain.Receipt{Status: 0, GasUsed: 150_000}, nil
	}
	fallback := &recordingFallback{}
	executor := newExecutor(chain, newStore(t))
	executor.SetFallback(fallback)

	out := executor.ExecuteSell(context.Background(), domain.SellRequest{Token: tokenA, Symbol: "ALPHA", Decimals: 18})

	assert.Equal(t, domain.OutcomeFailed, out.Status)
	assert.Contains(t, out.Reasons, domain.HintApprovalFailed)
	assert.Equal(t, 1, chain.SentCount(), "no swap after a failed approval")
	assert.Zero(t, fallback.calls)
}

func TestExecuteSell_EstimationFailureStops(t *testing.T) {
	chain := sellChain(bnb(1000))
	chain.Allowances[tokenA] = contracts.MaxUint256
	chain.QuoteFunc = func(in *big.Int, path []common.Address) ([]*big.Int, error) {
		return nil, revertErr("quote", "execution reverted: PancakeLibrary: INSUFFICIENT_LIQUIDITY")
	}

	out := newExecutor(chain, newStore(t)).ExecuteSell(context.Background(), domain.SellRequest{Token: tokenA, Symbol: "ALPHA", Decimals: 18})

	assert.Equal(t, domain.OutcomeFailed, out.Status)
	assert.Contains(t, out.Reasons, domain.HintEstimationFailed)
	assert.Zero(t, chain.SentCount())
}

func TestExecuteSell_DefersToGradualSell(t *testing.T) {
	tests := []struct {
		name     string
		req      domain.SellRequest
		deferred bool
	}{
		{"full balance", domain.SellRequest{Token: tokenA, Symbol: "ALPHA", Decimals: 18}, true},
		{"position", domain.SellRequest{Token: tokenA, Symbol: "ALPHA", Decimals: 18, PositionID: 42}, true},
		{"fallback disabled", domain.SellRequest{Token: tokenA, Symbol: "ALPHA", Decimals: 18, NoFallback: true}, false},
		{"probe", domain.SellRequest{Token: tokenA, Symbol: "ALPHA", Decimals: 18, Probe: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := sellChain(bnb(1000))
			chain.Allowances[tokenA] = contracts.MaxUint256
			chain.ReceiptFunc = reverted("execution reverted: TransferHelper: TRANSFER_FAILED", chain)
			fallback := &recordingFallback{}
			executor := newExecutor(chain, newStore(t))
			executor.SetFallback(fallback)

			out := executor.ExecuteSell(context.Background(), tt.req)

			assert.Equal(t, domain.OutcomeFailed, out.Status)
			assert.Equal(t, tt.deferred, out.Deferred)
			if tt.deferred {
				assert.Equal(t, 1, fallback.calls)
				assert.Equal(t, tokenA, fallback.token)
				assert.Equal(t, bnb(1000), fallback.amount)
				assert.Equal(t, tt.req.PositionID, fallback.positionID)
			} else {
				assert.Zero(t, fallback.calls)
			}
		})
	}
}

func TestExecuteSell_ConcurrentSellIsSkipped(t *testing.T) {
	chain := sellChain(bnb(1000))
	chain.Allowances[tokenA] = contracts.MaxUint256
	executor := newExecutor(chain, newStore(t))

	var inner *domain.TradeOutcome
	chain.SendFunc = func(tx *domain.TxRequest) error {
		if inner == nil {
			inner = executor.ExecuteSell(context.Background(), domain.SellRequest{Token: tokenA, Symbol: "ALPHA", Decimals: 18})
		}
		return nil
	}

	out := executor.ExecuteSell(context.Background(), domain.SellRequest{Token: tokenA, Symbol: "ALPHA", Decimals: 18})

	require.True(t, out.Succeeded())
	require.NotNil(t, inner)
	assert.Equal(t, domain.OutcomeSkipped, inner.Status)
	assert.Contains(t, inner.Reasons, domain.HintInFlight)
}
