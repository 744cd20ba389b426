package usecase_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/vitos/token_sniper/internal/contracts"
	"github.com/vitos/token_sniper/internal/domain"
	"github.com/vitos/token_sniper/internal/infrastructure/storage"
	"go.uber.org/zap"
)

var (
	baseAsset = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	router    = common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E")
	wallet    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenA    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	pairA     = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func bnb(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(1e18))
}

func revertErr(op, msg string) error {
	return &domain.ChainError{Op: op, Kind: domain.KindRevert, Err: errors.New(msg)}
}

func transientErr(op, msg string) error {
	return &domain.ChainError{Op: op, Kind: domain.KindTransient, Err: errors.New(msg)}
}

// MockChain is an in-memory ChainClient. Sent transactions are mined
// successfully unless ReceiptFunc says otherwise.
type MockChain struct {
	mu    sync.Mutex
	calls map[string]int

	Metadata    map[common.Address]*domain.TokenMetadata
	Pairs       map[common.Address]common.Address
	PairReserve map[common.Address]*domain.PairReserves
	Code        map[common.Address][]byte
	CodeErr     error
	EstimateErr error
	Balances    map[common.Address]*big.Int
	Allowances  map[common.Address]*big.Int
	QuoteFunc   func(amountIn *big.Int, path []common.Address) ([]*big.Int, error)
	SendFunc    func(tx *domain.TxRequest) error
	// ReceiptFunc decides the receipt of the idx-th sent transaction.
	ReceiptFunc func(tx *domain.TxRequest, idx int) (*domain.Receipt, error)
	// Mined runs once when a swap first reports a successful receipt.
	Mined  func(tx *domain.TxRequest)
	Revert string
	Logs   []domain.PairCreatedEvent
	Head   uint64

	Sent   []*domain.TxRequest
	mined  map[int]bool
	nonce  uint64
	hashes map[common.Hash]int
}

func NewMockChain() *MockChain {
	return &MockChain{
		calls:       make(map[string]int),
		Metadata:    make(map[common.Address]*domain.TokenMetadata),
		Pairs:       make(map[common.Address]common.Address),
		PairReserve: make(map[common.Address]*domain.PairReserves),
		Code:        make(map[common.Address][]byte),
		Balances:    make(map[common.Address]*big.Int),
		Allowances:  make(map[common.Address]*big.Int),
		mined:       make(map[int]bool),
		hashes:      make(map[common.Hash]int),
	}
}

// WithToken registers a healthy token with a pair holding liquidity BNB.
func (m *MockChain) WithToken(token, pair common.Address, name, symbol string, liquidity int64) *MockChain {
	m.Metadata[token] = &domain.TokenMetadata{Name: name, Symbol: symbol, Decimals: 18, TotalSupply: bnb(1_000_000)}
	m.Pairs[token] = pair
	m.PairReserve[pair] = &domain.PairReserves{
		Token0: baseAsset, Token1: token,
		Reserve0: bnb(liquidity), Reserve1: bnb(1_000_000),
	}
	m.Code[token] = []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x00}
	return m
}

func (m *MockChain) hit(op string) {
	m.mu.Lock()
	m.calls[op]++
	m.mu.Unlock()
}

func (m *MockChain) Count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockChain) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *MockChain) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

func (m *MockChain) SetBalance(token common.Address, v *big.Int) {
	m.mu.Lock()
	m.Balances[token] = v
	m.mu.Unlock()
}

func (m *MockChain) TokenMetadata(ctx context.Context, token common.Address) (*domain.TokenMetadata, error) {
	m.hit("TokenMetadata")
	meta, ok := m.Metadata[token]
	if !ok {
		return nil, revertErr("metadata", "execution reverted")
	}
	cp := *meta
	return &cp, nil
}

func (m *MockChain) PairAddress(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	m.hit("PairAddress")
	return m.Pairs[tokenA], nil
}

func (m *MockChain) Reserves(ctx context.Context, pair common.Address) (*domain.PairReserves, error) {
	m.hit("Reserves")
	r, ok := m.PairReserve[pair]
	if !ok {
		return nil, revertErr("reserves", "execution reverted")
	}
	return r, nil
}

func (m *MockChain) Bytecode(ctx context.Context, addr common.Address) ([]byte, error) {
	m.hit("Bytecode")
	if m.CodeErr != nil {
		return nil, m.CodeErr
	}
	return m.Code[addr], nil
}

func (m *MockChain) QuoteAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	m.hit("QuoteAmountsOut")
	if m.QuoteFunc != nil {
		return m.QuoteFunc(amountIn, path)
	}
	return []*big.Int{amountIn, new(big.Int).Set(amountIn)}, nil
}

func (m *MockChain) GasPrice(ctx context.Context) (*big.Int, error) {
	m.hit("GasPrice")
	return big.NewInt(3_000_000_000), nil
}

func (m *MockChain) NextNonce(ctx context.Context, wallet common.Address) (uint64, error) {
	m.hit("NextNonce")
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.nonce
	m.nonce++
	return n, nil
}

func (m *MockChain) SignAndSend(ctx context.Context, tx *domain.TxRequest) (common.Hash, error) {
	m.hit("SignAndSend")
	if m.SendFunc != nil {
		if err := m.SendFunc(tx); err != nil {
			return common.Hash{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, tx)
	idx := len(m.Sent) - 1
	hash := common.BigToHash(big.NewInt(int64(idx + 1)))
	m.hashes[hash] = idx
	return hash, nil
}

func (m *MockChain) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*domain.Receipt, error) {
	m.hit("WaitForReceipt")
	m.mu.Lock()
	idx, ok := m.hashes[hash]
	var tx *domain.TxRequest
	if ok {
		tx = m.Sent[idx]
	}
	m.mu.Unlock()
	if !ok {
		return nil, transientErr("receipt", "unknown transaction")
	}

	receipt := &domain.Receipt{TxHash: hash, Status: 1, GasUsed: 100_000}
	if m.ReceiptFunc != nil {
		r, err := m.ReceiptFunc(tx, idx)
		if err != nil {
			return nil, err
		}
		receipt = r
		receipt.TxHash = hash
	}

	if receipt.Succeeded() {
		m.mu.Lock()
		first := !m.mined[idx]
		m.mined[idx] = true
		if tx.To != router {
			m.Allowances[tx.To] = contracts.MaxUint256
		}
		m.mu.Unlock()
		if first && tx.To == router && m.Mined != nil {
			m.Mined(tx)
		}
	}
	return receipt, nil
}

func (m *MockChain) EstimateGas(ctx context.Context, call domain.CallRequest) (uint64, error) {
	m.hit("EstimateGas")
	if m.EstimateErr != nil {
		return 0, m.EstimateErr
	}
	return 46_000, nil
}

func (m *MockChain) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	m.hit("BalanceOf")
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.Balances[token]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (m *MockChain) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	m.hit("Allowance")
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.Allowances[token]; ok {
		return a, nil
	}
	return big.NewInt(0), nil
}

func (m *MockChain) RevertReason(ctx context.Context, hash common.Hash) (string, error) {
	m.hit("RevertReason")
	return m.Revert, nil
}

func (m *MockChain) BlockNumber(ctx context.Context) (uint64, error) {
	m.hit("BlockNumber")
	return m.Head, nil
}

func (m *MockChain) PairCreatedLogs(ctx context.Context, fromBlock, toBlock uint64) ([]domain.PairCreatedEvent, error) {
	m.hit("PairCreatedLogs")
	var out []domain.PairCreatedEvent
	for _, l := range m.Logs {
		if l.BlockNumber >= fromBlock && l.BlockNumber <= toBlock {
			out = append(out, l)
		}
	}
	return out, nil
}

type stubHistory struct {
	count int
	err   error
}

func (s stubHistory) CountOutgoingTransfers(ctx context.Context, from, token common.Address) (int, error) {
	return s.count, s.err
}

// brokenBlacklist fails every lookup.
type brokenBlacklist struct {
	domain.BlacklistRepository
}

func (brokenBlacklist) IsBlacklisted(ctx context.Context, token common.Address) (bool, error) {
	return false, errors.New("database is locked")
}

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var nop = zap.NewNop()
