// Package fpg is the HTTP client for the Floating Point Group trading
// endpoint.
package fpg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/davidmag854/fpg-trading/broker"
)

const (
	// TestingURL is FPG's testing environment.
	TestingURL = "https://testing.api.floating.group/v0"

	// TradeStyleActive submits orders as a market taker.
	TradeStyleActive = "active"
)

// Client represents an FPG API client.
type Client struct {
	baseURL    string
	publicKey  string
	privateKey string
	httpClient *http.Client
}

// NewClient creates a new FPG client. A zero timeout means 30 seconds.
func NewClient(baseURL, publicKey, privateKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = TestingURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		publicKey:  publicKey,
		privateKey: privateKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type auth struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

type pairRequest struct {
	CurrencyPair string `json:"currency_pair"`
	auth
}

type balanceRequest struct {
	Coins []string `json:"coins"`
	auth
}

type tradeInfo struct {
	Action     string  `json:"action"`
	Amount     float64 `json:"amount"`
	Pair       string  `json:"ebq"`
	OrderPrice float64 `json:"order_price"`
	Leverage   int     `json:"leverage"`
}

type tradeRequest struct {
	TradeInfo  tradeInfo `json:"trade_info"`
	TradeID    string    `json:"trade_id"`
	TradeStyle string    `json:"trade_style"`
	auth
}

type tradeResponse struct {
	Succeeded bool    `json:"succeeded"`
	Price     float64 `json:"price,omitempty"`
}

type priceResponse struct {
	Mid float64 `json:"mid"`
}

type bookResponse struct {
	Bids [][2]float64 `json:"bids"`
	Asks [][2]float64 `json:"asks"`
}

func (c *Client) keys() auth {
	return auth{PublicKey: c.publicKey, PrivateKey: c.privateKey}
}

// do sends body as JSON and decodes the JSON response into out. The fetch
// endpoints take their arguments as a JSON body on a GET.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// FetchPrice returns the current mid price of pair.
func (c *Client) FetchPrice(ctx context.Context, pair string) (float64, error) {
	var out priceResponse
	if err := c.do(ctx, http.MethodGet, "/fetch_price", pairRequest{CurrencyPair: pair, auth: c.keys()}, &out); err != nil {
		return 0, fmt.Errorf("fetch price %s: %w", pair, err)
	}
	return out.Mid, nil
}

// FetchOrderbook returns the consolidated level 2 book for pair.
func (c *Client) FetchOrderbook(ctx context.Context, pair string) (broker.Orderbook, error) {
	var out bookResponse
	if err := c.do(ctx, http.MethodGet, "/fetch_l2_book", pairRequest{CurrencyPair: pair, auth: c.keys()}, &out); err != nil {
		return broker.Orderbook{}, fmt.Errorf("fetch orderbook %s: %w", pair, err)
	}
	return broker.Orderbook{Bids: levels(out.Bids), Asks: levels(out.Asks)}, nil
}

func levels(raw [][2]float64) []broker.Level {
	out := make([]broker.Level, len(raw))
	for i, l := range raw {
		out[i] = broker.Level{Price: l[0], Amount: l[1]}
	}
	return out
}

// FetchBalance returns the account balance of each coin.
func (c *Client) FetchBalance(ctx context.Context, coins []string) (map[string]float64, error) {
	var raw map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/fetch_balance", balanceRequest{Coins: coins, auth: c.keys()}, &raw); err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}

	out := make(map[string]float64, len(raw))
	for coin, v := range raw {
		if coin == "succeeded" {
			continue
		}
		var amt float64
		if err := json.Unmarshal(v, &amt); err != nil {
			return nil, fmt.Errorf("fetch balance: coin %s: %w", coin, err)
		}
		out[coin] = amt
	}
	return out, nil
}

// ExecuteTrade submits one order. Succeeded is false when the endpoint did
// not confirm it; the caller decides whether to resubmit.
func (c *Client) ExecuteTrade(ctx context.Context, req broker.TradeRequest) (broker.Execution, error) {
	body := tradeRequest{
		TradeInfo: tradeInfo{
			Action:     string(req.Side),
			Amount:     req.Amount,
			Pair:       req.Pair,
			OrderPrice: req.LimitPrice,
			Leverage:   req.Leverage,
		},
		TradeID:    req.TradeID,
		TradeStyle: TradeStyleActive,
		auth:       c.keys(),
	}

	var out tradeResponse
	if err := c.do(ctx, http.MethodPost, "/execute_trade", body, &out); err != nil {
		return broker.Execution{}, fmt.Errorf("execute trade %s: %w", req.TradeID, err)
	}
	return broker.Execution{TradeID: req.TradeID, ExecutedPrice: out.Price, Succeeded: out.Succeeded}, nil
}
