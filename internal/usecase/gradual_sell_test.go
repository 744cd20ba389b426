package usecase_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/token_sniper/internal/domain"
	"github.com/vitos/token_sniper/internal/usecase"
)

func newGradualSeller(store domain.Store, seller usecase.Seller, now *time.Time) *usecase.GradualSeller {
	g := usecase.NewGradualSeller(store, seller, usecase.GradualConfig{
		Steps:          usecase.DefaultSellSteps,
		RetryDelay:     5 * time.Minute,
		MaxReschedules: 3,
	}, nil, nop)
	g.SetClock(func() time.Time { return *now })
	return g
}

func TestSplitSchedule(t *testing.T) {
	tests := []struct {
		total int64
		want  []int64
	}{
		{1000, []int64{50, 100, 150, 200, 500}},
		{1001, []int64{50, 100, 150, 200, 501}},
		{7, []int64{0, 0, 1, 1, 5}},
	}
	for _, tt := range tests {
		parts := usecase.SplitSchedule(big.NewInt(tt.total), usecase.DefaultSellSteps)
		require.Len(t, parts, len(tt.want))
		sum := new(big.Int)
		for i, p := range parts {
			assert.Equal(t, tt.want[i], p.Int64(), "total %d step %d", tt.total, i)
			sum.Add(sum, p)
		}
		assert.Equal(t, tt.total, sum.Int64())
	}
}

func TestEnqueue_FiveIncreasingEntries(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g := newGradualSeller(store, &stubSeller{}, &now)

	entries, err := g.Enqueue(ctx, tokenA, "ALPHA", 18, big.NewInt(1000), 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	wantDelays := []time.Duration{5, 15, 30, 60, 120}
	sum := new(big.Int)
	for i, e := range entries {
		sum.Add(sum, e.Amount)
		assert.Equal(t, now.Add(wantDelays[i]*time.Minute), e.ScheduledTime)
		if i > 0 {
			assert.True(t, e.ScheduledTime.After(entries[i-1].ScheduledTime))
		}
	}
	assert.Equal(t, int64(1000), sum.Int64())

	stored, err := store.ListSellEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 5)
}

func TestEnqueue_OneSchedulePerToken(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g := newGradualSeller(store, &stubSeller{}, &now)

	_, err := g.Enqueue(ctx, tokenA, "ALPHA", 18, big.NewInt(1000), 9)
	require.NoError(t, err)
	_, err = g.Enqueue(ctx, tokenA, "ALPHA", 18, big.NewInt(1000), 9)
	assert.ErrorIs(t, err, domain.ErrSellQueued)

	stored, err := store.ListSellEntries(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 5)
	for _, e := range stored {
		assert.Equal(t, int64(9), e.PositionID)
	}

	_, err = g.Enqueue(ctx, tokenB, "BETA", 18, big.NewInt(1000), 0)
	assert.NoError(t, err, "other tokens are unaffected")
}

func TestEnqueue_RejectsEmptyAmount(t *testing.T) {
	now := time.Now()
	_, err := newGradualSeller(newStore(t), &stubSeller{}, &now).Enqueue(context.Background(), tokenA, "ALPHA", 18, big.NewInt(0), 0)
	assert.Error(t, err)
}

func TestProcessDue_SellsOnlyDueEntries(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seller := &stubSeller{}
	g := newGradualSeller(store, seller, &now)

	_, err := g.Enqueue(ctx, tokenA, "ALPHA", 18, big.NewInt(1000), 9)
	require.NoError(t, err)

	now = now.Add(16 * time.Minute)
	report, err := g.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Due)
	assert.Equal(t, 2, report.Executed)

	reqs := seller.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, int64(50), reqs[0].Amount.Int64())
	assert.Equal(t, int64(100), reqs[1].Amount.Int64())
	for _, r := range reqs {
		assert.True(t, r.NoFallback, "queued sells must not enqueue again")
		assert.Equal(t, int64(9), r.PositionID)
	}

	left, err := store.ListSellEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestProcessDue_ReschedulesThenAbandons(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now := start
	seller := &stubSeller{Outcome: func(req domain.SellRequest) *domain.TradeOutcome {
		return &domain.TradeOutcome{Status: domain.OutcomeFailed, Reasons: []string{domain.HintExecutionReverted}}
	}}
	g := newGradualSeller(store, seller, &now)

	_, err := store.InsertSellScheduleEntry(ctx, &domain.SellScheduleEntry{
		TokenAddress: tokenA, Symbol: "ALPHA", Decimals: 18, Amount: big.NewInt(500), ScheduledTime: start,
	})
	require.NoError(t, err)

	// 5m, 10m, 20m back-off, then give up
	wantGaps := []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute}
	for i, gap := range wantGaps {
		report, err := g.ProcessDue(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, report.Rescheduled, "round %d", i)

		entries, err := store.ListSellEntries(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, i+1, entries[0].Attempts)
		assert.True(t, entries[0].ScheduledTime.Equal(now.Add(gap)), "round %d", i)

		now = now.Add(gap)
	}

	report, err := g.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Abandoned)

	entries, err := store.ListSellEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessDue_SkippedEntries(t *testing.T) {
	tests := []struct {
		reason string
		kept   bool
	}{
		{domain.HintDust, false},
		{domain.HintNoBalance, false},
		{domain.HintInFlight, true},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
			seller := &stubSeller{Outcome: func(req domain.SellRequest) *domain.TradeOutcome {
				return &domain.TradeOutcome{Status: domain.OutcomeSkipped, Reasons: []string{tt.reason}}
			}}
			g := newGradualSeller(store, seller, &now)
			_, err := store.InsertSellScheduleEntry(ctx, &domain.SellScheduleEntry{
				TokenAddress: tokenA, Symbol: "ALPHA", Decimals: 18, Amount: big.NewInt(500), ScheduledTime: now,
			})
			require.NoError(t, err)

			_, err = g.ProcessDue(ctx)
			require.NoError(t, err)

			entries, err := store.ListSellEntries(ctx)
			require.NoError(t, err)
			if tt.kept {
				assert.Len(t, entries, 1)
			} else {
				assert.Empty(t, entries)
			}
		})
	}
}

func TestExecutorHandsStuckSellToGradualQueue(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	chain := sellChain(bnb(1000))
	chain.ReceiptFunc = reverted("execution reverted: TransferHelper: TRANSFER_FAILED", chain)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	executor := newExecutor(chain, store)
	executor.SetFallback(newGradualSeller(store, executor, &now))

	out := executor.ExecuteSell(ctx, domain.SellRequest{Token: tokenA, Symbol: "ALPHA", Decimals: 18})
	require.True(t, out.Deferred)

	entries, err := store.ListSellEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, bnb(50), entries[0].Amount)
	assert.Equal(t, bnb(500), entries[4].Amount)

	// a second stuck sell finds the schedule already in place
	out = executor.ExecuteSell(ctx, domain.SellRequest{Token: tokenA, Symbol: "ALPHA", Decimals: 18})
	assert.True(t, out.Deferred)
	entries, err = store.ListSellEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}
