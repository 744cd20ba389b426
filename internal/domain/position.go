package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type PositionStatus string

const (
	PositionActive PositionStatus = "active"
	PositionSold   PositionStatus = "sold"
	PositionLoss   PositionStatus = "loss"
)

// PositionEntry is an open or closed holding created by a successful buy.
type PositionEntry struct {
	ID            int64           `json:"id"`
	TokenAddress  common.Address  `json:"token_address"`
	Symbol        string          `json:"symbol"`
	Decimals      uint8           `json:"decimals"`
	AmountTokens  *big.Int        `json:"amount_tokens"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	Investment    decimal.Decimal `json:"investment"`
	PurchaseTime  time.Time       `json:"purchase_time"`
	TakeProfitPct float64         `json:"take_profit_pct"`
	StopLossPct   float64         `json:"stop_loss_pct"`
	Status        PositionStatus  `json:"status"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// SellScheduleEntry is one deferred slice of a gradual sell.
type SellScheduleEntry struct {
	ID            int64          `json:"id"`
	TokenAddress  common.Address `json:"token_address"`
	Symbol        string         `json:"symbol"`
	Decimals      uint8          `json:"decimals"`
	Amount        *big.Int       `json:"amount"`
	ScheduledTime time.Time      `json:"scheduled_time"`
	Attempts      int            `json:"attempts"`
	// PositionID ties the slice to the position it drains; zero for manual sells.
	PositionID int64     `json:"position_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PositionValuation is a position priced at the current quote.
type PositionValuation struct {
	Position     *PositionEntry  `json:"position"`
	CurrentValue decimal.Decimal `json:"current_value"`
	ProfitLoss   decimal.Decimal `json:"profit_loss"`
	ProfitPct    decimal.Decimal `json:"profit_pct"`
	Err          string          `json:"error,omitempty"`
}

// PortfolioSummary aggregates active positions.
type PortfolioSummary struct {
	Positions       []PositionValuation `json:"positions"`
	TotalInvested   decimal.Decimal     `json:"total_invested"`
	TotalValue      decimal.Decimal     `json:"total_value"`
	UnrealizedPnL   decimal.Decimal     `json:"unrealized_pnl"`
	RealizedPnL     decimal.Decimal     `json:"realized_pnl"`
	ActivePositions int                 `json:"active_positions"`
}
