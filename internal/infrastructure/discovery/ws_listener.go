package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"
	"github.com/vitos/token_sniper/internal/contracts"
	"github.com/vitos/token_sniper/internal/domain"
	"go.uber.org/zap"
)

// Listener streams factory PairCreated logs over an eth_subscribe websocket.
type Listener struct {
	url     string
	factory common.Address
	dialer  *websocket.Dialer
	logger  *zap.Logger

	// MaxReconnectInterval caps the delay between reconnect attempts.
	MaxReconnectInterval time.Duration
}

func NewListener(url string, factory common.Address, logger *zap.Logger) *Listener {
	return &Listener{
		url:                  url,
		factory:              factory,
		dialer:               &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:               logger,
		MaxReconnectInterval: time.Minute,
	}
}

type subscriptionMessage struct {
	ID     *int   `json:"id"`
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Method string `json:"method"`
	Params struct {
		Subscription string `json:"subscription"`
		Result       wsLog  `json:"result"`
	} `json:"params"`
}

type wsLog struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TransactionHash string   `json:"transactionHash"`
	Removed         bool     `json:"removed"`
}

func (l wsLog) toLog() (types.Log, error) {
	data, err := hexutil.Decode(l.Data)
	if err != nil {
		return types.Log{}, fmt.Errorf("log data: %w", err)
	}
	block, err := hexutil.DecodeUint64(l.BlockNumber)
	if err != nil {
		return types.Log{}, fmt.Errorf("log block: %w", err)
	}
	topics := make([]common.Hash, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = common.HexToHash(t)
	}
	return types.Log{
		Address:     common.HexToAddress(l.Address),
		Topics:      topics,
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash(l.TransactionHash),
		Removed:     l.Removed,
	}, nil
}

// Run keeps a subscription open until ctx is cancelled, reconnecting with
// exponential backoff. handle is called synchronously for each new pair.
func (l *Listener) Run(ctx context.Context, handle func(domain.PairCreatedEvent)) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = l.MaxReconnectInterval
	bo.MaxElapsedTime = 0

	for {
		started := time.Now()
		err := l.listen(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > bo.MaxInterval {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		l.logger.Warn("PairCreated subscription dropped, reconnecting", zap.Error(err), zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (l *Listener) listen(ctx context.Context, handle func(domain.PairCreatedEvent)) error {
	conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.url, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	sub := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"eth_subscribe","params":["logs",{"address":"%s","topics":["%s"]}]}`,
		l.factory.Hex(), contracts.PairCreatedTopic.Hex())
	if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	l.logger.Info("Subscribed to PairCreated", zap.String("factory", l.factory.Hex()))

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg subscriptionMessage
		if err := sonnet.Unmarshal(payload, &msg); err != nil {
			l.logger.Debug("Ignoring undecodable ws message", zap.Error(err))
			continue
		}
		if msg.Error != nil {
			return errors.New(msg.Error.Message)
		}
		if msg.Method != "eth_subscription" || msg.Params.Result.Removed {
			continue
		}

		lg, err := msg.Params.Result.toLog()
		if err != nil {
			l.logger.Debug("Ignoring malformed log", zap.Error(err))
			continue
		}
		ev, err := contracts.DecodePairCreated(lg)
		if err != nil {
			l.logger.Debug("Ignoring non PairCreated log", zap.Error(err))
			continue
		}
		handle(ev)
	}
}
