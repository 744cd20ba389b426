package explorer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sugawarayuuta/sonnet"
	"github.com/vitos/token_sniper/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BscScanClient counts token transfers through the BscScan account API.
type BscScanClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ domain.SellHistoryProvider = (*BscScanClient)(nil)

func NewBscScanClient(baseURL, apiKey string, requestsPerSecond float64, timeout time.Duration, logger *zap.Logger) *BscScanClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 4
	}
	return &BscScanClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:  logger,
	}
}

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type tokenTransfer struct {
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	ContractAddress string `json:"contractAddress"`
}

type transfersResponse struct {
	Result []tokenTransfer `json:"result"`
}

// CountOutgoingTransfers counts token transfers sent from `from`.
func (c *BscScanClient) CountOutgoingTransfers(ctx context.Context, from, token common.Address) (int, error) {
	if c.apiKey == "" {
		return 0, domain.ErrExplorerDisabled
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrExplorerUnavailable, err)
	}

	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "tokentx")
	q.Set("address", from.Hex())
	q.Set("sort", "desc")
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrExplorerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", domain.ErrExplorerUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrExplorerUnavailable, err)
	}

	var env envelope
	if err := sonnet.Unmarshal(body, &env); err != nil {
		return 0, fmt.Errorf("%w: decode: %v", domain.ErrExplorerUnavailable, err)
	}
	if env.Status != "1" {
		if strings.Contains(strings.ToLower(env.Message), "no transactions found") {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %s", domain.ErrExplorerUnavailable, env.Message)
	}

	var transfers transfersResponse
	if err := sonnet.Unmarshal(body, &transfers); err != nil {
		return 0, fmt.Errorf("%w: decode result: %v", domain.ErrExplorerUnavailable, err)
	}

	count := 0
	for _, t := range transfers.Result {
		if strings.EqualFold(t.From, from.Hex()) && strings.EqualFold(t.ContractAddress, token.Hex()) {
			count++
		}
	}
	c.logger.Debug("Explorer sell history",
		zap.String("pair", from.Hex()),
		zap.String("token", token.Hex()),
		zap.Int("transfers", len(transfers.Result)),
		zap.Int("outgoing", count))
	return count, nil
}
