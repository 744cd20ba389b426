package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Failure hints appended to an attempt history. Raw node messages are kept
// alongside them so that substring rules see both.
const (
	HintAlwaysFailing     = "ALWAYS_FAILING"
	HintExecutionReverted = "EXECUTION_REVERTED"
	HintExceededMaximum   = "EXCEEDED_MAXIMUM"
	HintOutOfGas          = "OUT_OF_GAS"
	HintApprovalFailed    = "APPROVAL_FAILED"
	HintEstimationFailed  = "ESTIMATION_FAILED"
	HintSlippage          = "SLIPPAGE"
	HintTimeout           = "TIMEOUT"
	HintSendFailed        = "SEND_FAILED"
	HintDust              = "DUST_AMOUNT"
	HintInFlight          = "SELL_IN_PROGRESS"
	HintNoBalance         = "NO_BALANCE"
	HintThresholdNotMet   = "PROFIT_THRESHOLD_NOT_MET"
)

// TradeAttempt is one rung of an execution ladder.
type TradeAttempt struct {
	Number          int           `json:"number"`
	Direction       Direction     `json:"direction"`
	RequestedAmount *big.Int      `json:"requested_amount"`
	MinAcceptable   *big.Int      `json:"min_acceptable"`
	GasPrice        *big.Int      `json:"gas_price"`
	GasLimit        uint64        `json:"gas_limit"`
	SlippagePct     float64       `json:"slippage_pct"`
	Outcome         OutcomeStatus `json:"outcome"`
	FailureReasons  []string      `json:"failure_reasons,omitempty"`
}

// TradeOutcome is the terminal result of ExecuteBuy or ExecuteSell.
type TradeOutcome struct {
	CallID     string         `json:"call_id"`
	Direction  Direction      `json:"direction"`
	Token      common.Address `json:"token"`
	Status     OutcomeStatus  `json:"status"`
	TxHash     common.Hash    `json:"tx_hash,omitempty"`
	AmountIn   *big.Int       `json:"amount_in,omitempty"`
	AmountOut  *big.Int       `json:"amount_out,omitempty"`
	Reasons    []string       `json:"reasons,omitempty"`
	PositionID int64          `json:"position_id,omitempty"`
	Attempts   []TradeAttempt `json:"attempts,omitempty"`
	// Deferred is set when the remaining balance was handed to the gradual-sell queue.
	Deferred bool `json:"deferred,omitempty"`
}

func (o *TradeOutcome) Succeeded() bool { return o != nil && o.Status == OutcomeSuccess }

// BuyRequest spends Amount of the base asset on Token.
type BuyRequest struct {
	Token  common.Address
	Symbol string
	Amount decimal.Decimal
	// Probe buys never create positions and never blacklist on failure.
	Probe bool
}

// SellRequest sells Amount of Token, or the whole wallet balance when Amount is nil.
type SellRequest struct {
	Token      common.Address
	Symbol     string
	Decimals   uint8
	Amount     *big.Int
	PositionID int64
	// CloseStatus is applied to the position when the sell covers its full amount.
	CloseStatus PositionStatus
	// NoFallback disables the gradual-sell hand-off on exhaustion.
	NoFallback bool
	Probe      bool
}

type TxType string

const (
	TxTypeBuy     TxType = "buy"
	TxTypeTestBuy TxType = "test_buy"
	TxTypeSell    TxType = "sell"
)

// Transaction is a confirmed trade in the transaction log.
type Transaction struct {
	ID            int64           `json:"id"`
	TokenAddress  common.Address  `json:"token_address"`
	Symbol        string          `json:"symbol"`
	Type          TxType          `json:"type"`
	AmountBase    decimal.Decimal `json:"amount_base"`
	AmountTokens  decimal.Decimal `json:"amount_tokens"`
	PricePerToken decimal.Decimal `json:"price_per_token"`
	TxHash        string          `json:"tx_hash"`
	GasUsed       uint64          `json:"gas_used"`
	ProfitLoss    decimal.Decimal `json:"profit_loss"`
	PositionID    int64           `json:"position_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// FailedTransaction records one failed attempt.
type FailedTransaction struct {
	ID           int64          `json:"id"`
	TokenAddress common.Address `json:"token_address"`
	Symbol       string         `json:"symbol"`
	Direction    Direction      `json:"direction"`
	Attempt      int            `json:"attempt"`
	Reason       string         `json:"reason"`
	TxHash       string         `json:"tx_hash,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
