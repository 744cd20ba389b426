package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TokenMetadata is the ERC-20 identity of a token as read from chain.
type TokenMetadata struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}

// TokenCandidate is a token under screening. It is re-fetched on every run.
type TokenCandidate struct {
	Address     common.Address  `json:"address"`
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	Decimals    uint8           `json:"decimals"`
	TotalSupply *big.Int        `json:"total_supply,omitempty"`
	PairAddress common.Address  `json:"pair_address"`
	Liquidity   decimal.Decimal `json:"liquidity_base"`
}

type ReasonCode string

const (
	ReasonPassed                  ReasonCode = "PASSED"
	ReasonAlreadyBlacklisted      ReasonCode = "ALREADY_BLACKLISTED"
	ReasonBlacklistUnavailable    ReasonCode = "BLACKLIST_UNAVAILABLE"
	ReasonMetadataUnavailable     ReasonCode = "METADATA_UNAVAILABLE"
	ReasonBlacklistedPattern      ReasonCode = "BLACKLISTED_PATTERN"
	ReasonNoPair                  ReasonCode = "NO_PAIR"
	ReasonLiquidityUnavailable    ReasonCode = "LIQUIDITY_UNAVAILABLE"
	ReasonInsufficientLiquidity   ReasonCode = "INSUFFICIENT_LIQUIDITY"
	ReasonSuspiciousBytecode      ReasonCode = "SUSPICIOUS_BYTECODE"
	ReasonBytecodeUnanalyzable    ReasonCode = "BYTECODE_UNANALYZABLE"
	ReasonInsufficientSellHistory ReasonCode = "INSUFFICIENT_SELL_HISTORY"
	ReasonHoneypot                ReasonCode = "HONEYPOT"
)

// SecurityVerdict is the immutable result of one screening run.
type SecurityVerdict struct {
	Candidate      TokenCandidate `json:"candidate"`
	Passed         bool           `json:"passed"`
	Reason         ReasonCode     `json:"reason"`
	Detail         string         `json:"detail,omitempty"`
	MatchedPattern string         `json:"matched_pattern,omitempty"`
	Blacklisted    bool           `json:"blacklisted"`
	CheckedAt      time.Time      `json:"checked_at"`
}

// BlacklistEntry is keyed by token address; writes replace.
type BlacklistEntry struct {
	TokenAddress common.Address `json:"token_address"`
	Symbol       string         `json:"symbol"`
	Reason       string         `json:"reason"`
	CreatedAt    time.Time      `json:"created_at"`
}

// PairReserves holds the pooled amounts of a pair ordered by token0/token1.
type PairReserves struct {
	Token0   common.Address
	Token1   common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// ReserveOf returns the pooled amount of token, or nil if the pair does not hold it.
func (r *PairReserves) ReserveOf(token common.Address) *big.Int {
	switch token {
	case r.Token0:
		return r.Reserve0
	case r.Token1:
		return r.Reserve1
	}
	return nil
}

// PairCreatedEvent is a factory PairCreated log.
type PairCreatedEvent struct {
	Token0      common.Address `json:"token0"`
	Token1      common.Address `json:"token1"`
	Pair        common.Address `json:"pair"`
	BlockNumber uint64         `json:"block_number"`
	TxHash      common.Hash    `json:"tx_hash"`
}

// Counterpart returns the token paired with base, or false if base is not in the pair.
func (e PairCreatedEvent) Counterpart(base common.Address) (common.Address, bool) {
	switch base {
	case e.Token0:
		return e.Token1, true
	case e.Token1:
		return e.Token0, true
	}
	return common.Address{}, false
}
