package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/vitos/token_sniper/internal/domain"
)

// MaxUint256 is the unlimited approval amount.
var MaxUint256 = new(big.Int).Set(math.MaxBig256)

// PairCreatedTopic is topic[0] of the factory PairCreated event.
var PairCreatedTopic = Factory.Events["PairCreated"].ID

func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20.Pack("approve", spender, amount)
}

func PackSwapExactETHForTokens(minOut *big.Int, path []common.Address, to common.Address, deadline int64) ([]byte, error) {
	return Router.Pack("swapExactETHForTokensSupportingFeeOnTransferTokens", minOut, path, to, big.NewInt(deadline))
}

func PackSwapExactTokensForETH(amountIn, minOut *big.Int, path []common.Address, to common.Address, deadline int64) ([]byte, error) {
	return Router.Pack("swapExactTokensForETHSupportingFeeOnTransferTokens", amountIn, minOut, path, to, big.NewInt(deadline))
}

// DecodePairCreated parses a PairCreated log emitted by the factory.
func DecodePairCreated(lg types.Log) (domain.PairCreatedEvent, error) {
	if len(lg.Topics) < 3 || lg.Topics[0] != PairCreatedTopic {
		return domain.PairCreatedEvent{}, fmt.Errorf("not a PairCreated log")
	}
	values, err := Factory.Unpack("PairCreated", lg.Data)
	if err != nil {
		return domain.PairCreatedEvent{}, fmt.Errorf("unpack PairCreated: %w", err)
	}
	pair, ok := values[0].(common.Address)
	if !ok {
		return domain.PairCreatedEvent{}, fmt.Errorf("unexpected pair type %T", values[0])
	}
	return domain.PairCreatedEvent{
		Token0:      common.BytesToAddress(lg.Topics[1].Bytes()),
		Token1:      common.BytesToAddress(lg.Topics[2].Bytes()),
		Pair:        pair,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
	}, nil
}
