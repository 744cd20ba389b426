package usecase_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/token_sniper/internal/contracts"
	"github.com/vitos/token_sniper/internal/domain"
	"github.com/vitos/token_sniper/internal/usecase"
)

func TestRunSweepOnce_TieredSellKeepsCostBasis(t *testing.T) {
	ctx := context.Background()
	// 1000 tokens are worth 0.06 BNB, bought for 0.0375: +60%
	chain := sellChain(bnb(1000))
	chain.Allowances[tokenA] = contracts.MaxUint256
	store := newStore(t)
	id := openPosition(t, store, bnb(1000), "0.0375")
	engine := newExitEngine(chain, store, newExecutor(chain, store), usecase.StrategyTiered)

	report, err := engine.RunSweepOnce(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, usecase.ExitTiered, report.Results[0].Rule)
	require.True(t, report.Results[0].Outcome.Succeeded(), report.Results[0].Outcome.Reasons)

	pos, err := store.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, bnb(500), pos.AmountTokens)
	assert.True(t, pos.Investment.Equal(decimal.RequireFromString("0.01875")), pos.Investment.String())

	// Same price: the remaining half is still +60% on its own cost.
	report, err = engine.RunSweepOnce(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, usecase.ExitTiered, report.Results[0].Rule)
	assert.NotEqual(t, usecase.ExitStopLoss, report.Results[0].Rule)

	pos, err = store.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionActive, pos.Status)
	assert.Equal(t, bnb(250), pos.AmountTokens)
	assert.True(t, pos.Investment.Equal(decimal.RequireFromString("0.009375")), pos.Investment.String())

	txs, err := store.ListTransactions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.True(t, tx.ProfitLoss.IsPositive(), "tiered sells realise profit, got %s", tx.ProfitLoss)
	}
}

func TestRunSweepOnce_StuckExitDrainsThroughQueueOnce(t *testing.T) {
	ctx := context.Background()
	// worth 0.06, bought for 0.08: stop-loss
	chain := sellChain(bnb(1000))
	chain.Allowances[tokenA] = contracts.MaxUint256
	chain.ReceiptFunc = reverted("execution reverted: TransferHelper: TRANSFER_FAILED", chain)
	store := newStore(t)
	id := openPosition(t, store, bnb(1000), "0.08")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	executor := newExecutor(chain, store)
	gradual := newGradualSeller(store, executor, &now)
	executor.SetFallback(gradual)
	engine := newExitEngine(chain, store, executor, usecase.StrategySimple)

	report, err := engine.RunSweepOnce(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, usecase.ExitStopLoss, report.Results[0].Rule)
	require.NotNil(t, report.Results[0].Outcome)
	assert.True(t, report.Results[0].Outcome.Deferred)
	swaps := chain.SentCount()

	for i := 0; i < 3; i++ {
		report, err = engine.RunSweepOnce(ctx)
		require.NoError(t, err)
		require.Len(t, report.Results, 1)
		assert.True(t, report.Results[0].Queued, "sweep %d", i)
		assert.Equal(t, usecase.ExitNone, report.Results[0].Rule)
	}
	assert.Equal(t, swaps, chain.SentCount(), "queued positions are not sold again")

	entries, err := store.ListSellEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	total := new(big.Int)
	for _, e := range entries {
		total.Add(total, e.Amount)
		assert.Equal(t, id, e.PositionID)
	}
	assert.Equal(t, bnb(1000), total)

	pos, err := store.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionActive, pos.Status)

	// The token becomes sellable; every slice comes due.
	chain.ReceiptFunc = nil
	now = now.Add(3 * time.Hour)
	rep, err := gradual.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Executed)

	pos, err = store.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionLoss, pos.Status)

	left, err := store.ListSellEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)

	txs, err := store.ListTransactions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, txs, 5)
	for _, tx := range txs {
		assert.Equal(t, id, tx.PositionID)
	}
	realized, err := store.TotalRealizedProfit(ctx)
	require.NoError(t, err)
	assert.True(t, realized.Equal(decimal.RequireFromString("-0.02")), realized.String())

	report, err = engine.RunSweepOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Results)
}
