package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vitos/token_sniper/internal/contracts"
	"github.com/vitos/token_sniper/internal/domain"
	"go.uber.org/zap"
)

type Options struct {
	Endpoints    []string
	ChainID      int64
	PrivateKey   string
	Factory      common.Address
	Router       common.Address
	CallTimeout  time.Duration
	PollInterval time.Duration
}

// Client implements domain.ChainClient over an ordered list of JSON-RPC
// endpoints. A transient failure moves to the next endpoint and re-issues the
// call once.
type Client struct {
	opts    Options
	chainID *big.Int
	key     *ecdsa.PrivateKey
	logger  *zap.Logger

	mu     sync.RWMutex
	eth    *ethclient.Client
	active int
}

var _ domain.ChainClient = (*Client)(nil)

func NewClient(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	if len(opts.Endpoints) == 0 {
		return nil, errors.New("no rpc endpoints configured")
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	c := &Client{
		opts:    opts,
		chainID: big.NewInt(opts.ChainID),
		logger:  logger,
		active:  -1,
	}
	if opts.PrivateKey != "" {
		key, err := crypto.HexToECDSA(opts.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		c.key = key
	}
	if err := c.rotate(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Address is the wallet derived from the signing key.
func (c *Client) Address() common.Address {
	if c.key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
	}
}

// rotate connects to the next endpoint after the active one.
func (c *Client) rotate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for i := 1; i <= len(c.opts.Endpoints); i++ {
		idx := (c.active + i) % len(c.opts.Endpoints)
		url := c.opts.Endpoints[idx]
		eth, err := ethclient.DialContext(ctx, url)
		if err != nil {
			lastErr = err
			c.logger.Warn("RPC endpoint unavailable", zap.String("endpoint", url), zap.Error(err))
			continue
		}
		if c.eth != nil {
			c.eth.Close()
		}
		c.eth = eth
		c.active = idx
		c.logger.Info("Connected to RPC endpoint", zap.String("endpoint", url))
		return nil
	}
	return fmt.Errorf("all rpc endpoints failed: %w", lastErr)
}

func (c *Client) attempt(ctx context.Context, fn func(ctx context.Context, eth *ethclient.Client) error) error {
	cctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	c.mu.RLock()
	eth := c.eth
	c.mu.RUnlock()
	return fn(cctx, eth)
}

func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context, eth *ethclient.Client) error) error {
	err := c.attempt(ctx, fn)
	if err == nil {
		return nil
	}
	if classify(err) == domain.KindTransient && ctx.Err() == nil {
		c.logger.Warn("RPC call failed, switching endpoint", zap.String("op", op), zap.Error(err))
		if rerr := c.rotate(ctx); rerr == nil {
			err = c.attempt(ctx, fn)
		}
	}
	return wrap(op, err)
}

func (c *Client) callContract(ctx context.Context, op string, to common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	var out []byte
	err = c.do(ctx, op, func(ctx context.Context, eth *ethclient.Client) error {
		var e error
		out, e = eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return e
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &domain.ChainError{Op: op, Kind: domain.KindRevert, Err: fmt.Errorf("%s returned no data", method)}
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, &domain.ChainError{Op: op, Kind: domain.KindRevert, Err: fmt.Errorf("unpack %s: %w", method, err)}
	}
	return values, nil
}

func (c *Client) TokenMetadata(ctx context.Context, token common.Address) (*domain.TokenMetadata, error) {
	name, err := c.callContract(ctx, "name", token, contracts.ERC20, "name")
	if err != nil {
		return nil, err
	}
	symbol, err := c.callContract(ctx, "symbol", token, contracts.ERC20, "symbol")
	if err != nil {
		return nil, err
	}
	decimals, err := c.callContract(ctx, "decimals", token, contracts.ERC20, "decimals")
	if err != nil {
		return nil, err
	}
	supply, err := c.callContract(ctx, "totalSupply", token, contracts.ERC20, "totalSupply")
	if err != nil {
		return nil, err
	}

	meta := &domain.TokenMetadata{}
	meta.Name, _ = name[0].(string)
	meta.Symbol, _ = symbol[0].(string)
	meta.Decimals, _ = decimals[0].(uint8)
	meta.TotalSupply, _ = supply[0].(*big.Int)
	return meta, nil
}

func (c *Client) PairAddress(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	out, err := c.callContract(ctx, "getPair", c.opts.Factory, contracts.Factory, "getPair", tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}
	pair, _ := out[0].(common.Address)
	return pair, nil
}

func (c *Client) Reserves(ctx context.Context, pair common.Address) (*domain.PairReserves, error) {
	reserves, err := c.callContract(ctx, "getReserves", pair, contracts.Pair, "getReserves")
	if err != nil {
		return nil, err
	}
	token0, err := c.callContract(ctx, "token0", pair, contracts.Pair, "token0")
	if err != nil {
		return nil, err
	}
	token1, err := c.callContract(ctx, "token1", pair, contracts.Pair, "token1")
	if err != nil {
		return nil, err
	}

	r := &domain.PairReserves{}
	r.Reserve0, _ = reserves[0].(*big.Int)
	r.Reserve1, _ = reserves[1].(*big.Int)
	r.Token0, _ = token0[0].(common.Address)
	r.Token1, _ = token1[0].(common.Address)
	return r, nil
}

func (c *Client) Bytecode(ctx context.Context, addr common.Address) ([]byte, error) {
	var code []byte
	err := c.do(ctx, "getCode", func(ctx context.Context, eth *ethclient.Client) error {
		var e error
		code, e = eth.CodeAt(ctx, addr, nil)
		return e
	})
	return code, err
}

func (c *Client) QuoteAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	out, err := c.callContract(ctx, "getAmountsOut", c.opts.Router, contracts.Router, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	amounts, _ := out[0].([]*big.Int)
	return amounts, nil
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.do(ctx, "gasPrice", func(ctx context.Context, eth *ethclient.Client) error {
		var e error
		price, e = eth.SuggestGasPrice(ctx)
		return e
	})
	return price, err
}

func (c *Client) NextNonce(ctx context.Context, wallet common.Address) (uint64, error) {
	var nonce uint64
	err := c.do(ctx, "nonce", func(ctx context.Context, eth *ethclient.Client) error {
		var e error
		nonce, e = eth.PendingNonceAt(ctx, wallet)
		return e
	})
	return nonce, err
}

func (c *Client) SignAndSend(ctx context.Context, req *domain.TxRequest) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, &domain.ChainError{Op: "send", Kind: domain.KindRevert, Err: errors.New("no signing key configured")}
	}
	to := req.To
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    req.Nonce,
		GasPrice: req.GasPrice,
		Gas:      req.GasLimit,
		To:       &to,
		Value:    value,
		Data:     req.Data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}

	err = c.do(ctx, "send", func(ctx context.Context, eth *ethclient.Client) error {
		e := eth.SendTransaction(ctx, signed)
		if e != nil && isAlreadyKnown(e) {
			return nil
		}
		return e
	})
	if err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

// WaitForReceipt polls until the receipt is mined or timeout elapses.
// A timeout is reported as a transient ChainError wrapping ErrReceiptTimeout.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*domain.Receipt, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		var receipt *types.Receipt
		err := c.do(ctx, "receipt", func(ctx context.Context, eth *ethclient.Client) error {
			r, e := eth.TransactionReceipt(ctx, hash)
			if errors.Is(e, ethereum.NotFound) {
				return nil
			}
			receipt = r
			return e
		})
		if err != nil {
			c.logger.Debug("Receipt poll failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}
		if receipt != nil {
			return &domain.Receipt{
				TxHash:      receipt.TxHash,
				Status:      receipt.Status,
				GasUsed:     receipt.GasUsed,
				BlockNumber: receipt.BlockNumber.Uint64(),
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, &domain.ChainError{Op: "receipt", Kind: domain.KindTransient, Err: ctx.Err()}
		case <-deadline.C:
			return nil, &domain.ChainError{Op: "receipt", Kind: domain.KindTransient, Err: domain.ErrReceiptTimeout}
		case <-ticker.C:
		}
	}
}

func (c *Client) EstimateGas(ctx context.Context, call domain.CallRequest) (uint64, error) {
	to := call.To
	msg := ethereum.CallMsg{From: call.From, To: &to, Value: call.Value, Data: call.Data}
	var gas uint64
	err := c.do(ctx, "estimateGas", func(ctx context.Context, eth *ethclient.Client) error {
		var e error
		gas, e = eth.EstimateGas(ctx, msg)
		return e
	})
	return gas, err
}

func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := c.callContract(ctx, "balanceOf", token, contracts.ERC20, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	bal, _ := out[0].(*big.Int)
	return bal, nil
}

func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := c.callContract(ctx, "allowance", token, contracts.ERC20, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	allowance, _ := out[0].(*big.Int)
	return allowance, nil
}

// RevertReason replays a mined transaction against the state before its
// block and returns the node's error message, or "" if the replay succeeds.
func (c *Client) RevertReason(ctx context.Context, hash common.Hash) (string, error) {
	var (
		tx      *types.Transaction
		receipt *types.Receipt
	)
	err := c.do(ctx, "revertReason", func(ctx context.Context, eth *ethclient.Client) error {
		var e error
		if tx, _, e = eth.TransactionByHash(ctx, hash); e != nil {
			return e
		}
		receipt, e = eth.TransactionReceipt(ctx, hash)
		return e
	})
	if err != nil {
		return "", err
	}

	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return "", fmt.Errorf("recover sender: %w", err)
	}
	msg := ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	block := new(big.Int).Sub(receipt.BlockNumber, big.NewInt(1))

	var replayErr error
	_ = c.attempt(ctx, func(ctx context.Context, eth *ethclient.Client) error {
		_, replayErr = eth.CallContract(ctx, msg, block)
		return nil
	})
	if replayErr == nil {
		return "", nil
	}
	return replayErr.Error(), nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.do(ctx, "blockNumber", func(ctx context.Context, eth *ethclient.Client) error {
		var e error
		n, e = eth.BlockNumber(ctx)
		return e
	})
	return n, err
}

func (c *Client) PairCreatedLogs(ctx context.Context, fromBlock, toBlock uint64) ([]domain.PairCreatedEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.opts.Factory},
		Topics:    [][]common.Hash{{contracts.PairCreatedTopic}},
	}
	var logs []types.Log
	err := c.do(ctx, "filterLogs", func(ctx context.Context, eth *ethclient.Client) error {
		var e error
		logs, e = eth.FilterLogs(ctx, query)
		return e
	})
	if err != nil {
		return nil, err
	}

	events := make([]domain.PairCreatedEvent, 0, len(logs))
	for _, lg := range logs {
		ev, err := contracts.DecodePairCreated(lg)
		if err != nil {
			c.logger.Debug("Skipping undecodable PairCreated log", zap.Uint64("block", lg.BlockNumber), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
