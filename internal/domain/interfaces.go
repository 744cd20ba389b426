package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TxRequest is an unsigned legacy transaction.
type TxRequest struct {
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
	GasPrice *big.Int
	Nonce    uint64
}

// CallRequest is a read-only call or gas estimation.
type CallRequest struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Data  []byte
}

type Receipt struct {
	TxHash      common.Hash
	Status      uint64
	GasUsed     uint64
	BlockNumber uint64
}

func (r *Receipt) Succeeded() bool { return r != nil && r.Status == 1 }

// ChainClient is the blockchain capability. Errors are *ChainError so callers
// can tell transient failures from reverts. Endpoint failover is internal.
type ChainClient interface {
	TokenMetadata(ctx context.Context, token common.Address) (*TokenMetadata, error)
	PairAddress(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error)
	Reserves(ctx context.Context, pair common.Address) (*PairReserves, error)
	Bytecode(ctx context.Context, addr common.Address) ([]byte, error)
	QuoteAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	NextNonce(ctx context.Context, wallet common.Address) (uint64, error)
	SignAndSend(ctx context.Context, tx *TxRequest) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*Receipt, error)
	EstimateGas(ctx context.Context, call CallRequest) (uint64, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	RevertReason(ctx context.Context, hash common.Hash) (string, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PairCreatedLogs(ctx context.Context, fromBlock, toBlock uint64) ([]PairCreatedEvent, error)
}

// SellHistoryProvider counts outgoing token transfers from an address.
// It returns ErrExplorerDisabled or ErrExplorerUnavailable when it cannot answer.
type SellHistoryProvider interface {
	CountOutgoingTransfers(ctx context.Context, from, token common.Address) (int, error)
}

type BlacklistRepository interface {
	IsBlacklisted(ctx context.Context, token common.Address) (bool, error)
	UpsertBlacklist(ctx context.Context, entry *BlacklistEntry) error
	ListBlacklist(ctx context.Context) ([]*BlacklistEntry, error)
	RemoveBlacklist(ctx context.Context, token common.Address) error
}

type PositionRepository interface {
	InsertPosition(ctx context.Context, entry *PositionEntry) (int64, error)
	GetPosition(ctx context.Context, id int64) (*PositionEntry, error)
	// UpdatePositionStatus moves an active position to status and returns
	// ErrPositionNotActive if it was already closed.
	UpdatePositionStatus(ctx context.Context, id int64, status PositionStatus) error
	// UpdatePositionAmount sets the remaining tokens and the cost basis that
	// goes with them in one write.
	UpdatePositionAmount(ctx context.Context, id int64, amount *big.Int, investment decimal.Decimal) error
	ListActivePositions(ctx context.Context) ([]*PositionEntry, error)
}

type TransactionRepository interface {
	InsertTransaction(ctx context.Context, tx *Transaction) error
	ListTransactions(ctx context.Context, limit int) ([]*Transaction, error)
	TotalRealizedProfit(ctx context.Context) (decimal.Decimal, error)
	InsertFailedTransaction(ctx context.Context, tx *FailedTransaction) error
	ListFailedTransactions(ctx context.Context, limit int) ([]*FailedTransaction, error)
}

type SellQueueRepository interface {
	InsertSellScheduleEntry(ctx context.Context, entry *SellScheduleEntry) (int64, error)
	ListDueSellEntries(ctx context.Context, now time.Time) ([]*SellScheduleEntry, error)
	ListSellEntries(ctx context.Context) ([]*SellScheduleEntry, error)
	RescheduleSellEntry(ctx context.Context, id int64, at time.Time, attempts int) error
	DeleteSellEntry(ctx context.Context, id int64) error
	HasQueuedSell(ctx context.Context, token common.Address) (bool, error)
}

// Store is the full persistence capability.
type Store interface {
	BlacklistRepository
	PositionRepository
	TransactionRepository
	SellQueueRepository
}
