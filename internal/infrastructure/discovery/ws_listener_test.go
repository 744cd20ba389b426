package discovery

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/token_sniper/internal/contracts"
	"github.com/vitos/token_sniper/internal/domain"
	"go.uber.org/zap"
)

func TestListener_DeliversPairCreated(t *testing.T) {
	factory := common.HexToAddress("0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73")
	token0 := common.HexToAddress("0x1111111111111111111111111111111111111111")
	token1 := common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	pair := common.HexToAddress("0x2222222222222222222222222222222222222222")

	data, err := contracts.Factory.Events["PairCreated"].Inputs.NonIndexed().Pack(pair, big.NewInt(1))
	require.NoError(t, err)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, sub, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(sub), "eth_subscribe")
		assert.Contains(t, string(sub), contracts.PairCreatedTopic.Hex())

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"result":"0xsub"}`))
		note := fmt.Sprintf(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xsub","result":{
			"address":"%s","topics":["%s","%s","%s"],"data":"%s","blockNumber":"0x2a","transactionHash":"0x%064x","removed":false}}}`,
			factory.Hex(), contracts.PairCreatedTopic.Hex(),
			common.BytesToHash(token0.Bytes()).Hex(), common.BytesToHash(token1.Bytes()).Hex(),
			hexutil.Encode(data), 1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(note))

		// hold the connection until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	l := NewListener("ws"+strings.TrimPrefix(srv.URL, "http"), factory, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := make(chan domain.PairCreatedEvent, 1)
	go func() {
		_ = l.Run(ctx, func(ev domain.PairCreatedEvent) {
			events <- ev
			cancel()
		})
	}()

	select {
	case ev := <-events:
		assert.Equal(t, token0, ev.Token0)
		assert.Equal(t, token1, ev.Token1)
		assert.Equal(t, pair, ev.Pair)
		assert.Equal(t, uint64(42), ev.BlockNumber)
	case <-time.After(5 * time.Second):
		t.Fatal("no PairCreated event delivered")
	}
}
