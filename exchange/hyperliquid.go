// Package exchange talks to Hyperliquid and exposes a uniform order
// interface over paper and live trading.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"perp-agent/logger"
)

const (
	HyperliquidMainnetURL = "https://api.hyperliquid.xyz"
	HyperliquidTestnetURL = "https://api.hyperliquid-testnet.xyz"
)

// Client talks to the Hyperliquid HTTP API. Market data and account
// reads go through the unauthenticated /info endpoint; order flow goes
// through /exchange with an EIP-712 signature (see sign.go).
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	log        zerolog.Logger

	mu     sync.RWMutex
	assets map[string]AssetMeta // native coin -> universe entry
	index  map[string]int       // native coin -> asset index
}

// AssetMeta is one tradeable perp from the meta universe.
type AssetMeta struct {
	Name         string `json:"name"`
	SzDecimals   int    `json:"szDecimals"`
	MaxLeverage  int    `json:"maxLeverage"`
	OnlyIsolated bool   `json:"onlyIsolated"`
}

type Meta struct {
	Universe []AssetMeta `json:"universe"`
}

// AssetCtx is the rolling market context the venue publishes per asset.
// midPx is absent for assets with an empty book.
type AssetCtx struct {
	Funding      float64  `json:"funding,string"`
	OpenInterest float64  `json:"openInterest,string"`
	MarkPx       float64  `json:"markPx,string"`
	MidPx        *float64 `json:"midPx,string"`
	OraclePx     float64  `json:"oraclePx,string"`
	DayNtlVlm    float64  `json:"dayNtlVlm,string"`
	PrevDayPx    float64  `json:"prevDayPx,string"`
}

type Candle struct {
	OpenTime  int64   `json:"t"`
	CloseTime int64   `json:"T"`
	Coin      string  `json:"s"`
	Interval  string  `json:"i"`
	Open      float64 `json:"o,string"`
	Close     float64 `json:"c,string"`
	High      float64 `json:"h,string"`
	Low       float64 `json:"l,string"`
	Volume    float64 `json:"v,string"`
	Trades    int     `json:"n"`
}

type MarginSummary struct {
	AccountValue    float64 `json:"accountValue,string"`
	TotalNtlPos     float64 `json:"totalNtlPos,string"`
	TotalRawUsd     float64 `json:"totalRawUsd,string"`
	TotalMarginUsed float64 `json:"totalMarginUsed,string"`
}

type PositionLeverage struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

// PositionInfo is one open position as the clearinghouse reports it.
// Szi is signed: positive long, negative short. liquidationPx is null
// for positions that cannot be liquidated at current margin.
type PositionInfo struct {
	Coin           string           `json:"coin"`
	Szi            float64          `json:"szi,string"`
	EntryPx        float64          `json:"entryPx,string"`
	PositionValue  float64          `json:"positionValue,string"`
	UnrealizedPnl  float64          `json:"unrealizedPnl,string"`
	ReturnOnEquity float64          `json:"returnOnEquity,string"`
	LiquidationPx  *float64         `json:"liquidationPx,string"`
	MarginUsed     float64          `json:"marginUsed,string"`
	Leverage       PositionLeverage `json:"leverage"`
}

type AssetPosition struct {
	Type     string       `json:"type"`
	Position PositionInfo `json:"position"`
}

type ClearinghouseState struct {
	MarginSummary      MarginSummary   `json:"marginSummary"`
	CrossMarginSummary MarginSummary   `json:"crossMarginSummary"`
	Withdrawable       float64         `json:"withdrawable,string"`
	AssetPositions     []AssetPosition `json:"assetPositions"`
	Time               int64           `json:"time"`
}

// OpenOrder is one resting order as the venue reports it.
type OpenOrder struct {
	Coin      string  `json:"coin"`
	Oid       int64   `json:"oid"`
	Side      string  `json:"side"`
	LimitPx   float64 `json:"limitPx,string"`
	Sz        float64 `json:"sz,string"`
	Timestamp int64   `json:"timestamp"`
}

type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

type candleRequest struct {
	Type string          `json:"type"`
	Req  candleSnapshotQ `json:"req"`
}

type candleSnapshotQ struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// NewClient builds a client for mainnet or testnet. privateKeyHex may
// be empty for read-only use; order flow requires it.
func NewClient(privateKeyHex string, testnet bool) (*Client, error) {
	baseURL := HyperliquidMainnetURL
	if testnet {
		baseURL = HyperliquidTestnetURL
	}

	var signer *Signer
	if privateKeyHex != "" {
		s, err := NewSigner(privateKeyHex, !testnet)
		if err != nil {
			return nil, err
		}
		signer = s
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer: signer,
		log:    logger.Component("exchange"),
		assets: make(map[string]AssetMeta),
		index:  make(map[string]int),
	}, nil
}

// Signer returns the configured signing identity, nil in read-only mode.
func (c *Client) Signer() *Signer {
	return c.signer
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Meta fetches the perp universe and refreshes the asset cache.
func (c *Client) Meta(ctx context.Context) (*Meta, error) {
	var meta Meta
	if err := c.post(ctx, "/info", infoRequest{Type: "meta"}, &meta); err != nil {
		return nil, err
	}
	c.cacheMeta(&meta)
	return &meta, nil
}

// MetaAndAssetCtxs returns the universe plus per-asset market context.
// The venue responds with a two element array [meta, ctxs].
func (c *Client) MetaAndAssetCtxs(ctx context.Context) (*Meta, []AssetCtx, error) {
	var raw []json.RawMessage
	if err := c.post(ctx, "/info", infoRequest{Type: "metaAndAssetCtxs"}, &raw); err != nil {
		return nil, nil, err
	}
	if len(raw) != 2 {
		return nil, nil, fmt.Errorf("unexpected metaAndAssetCtxs shape: %d elements", len(raw))
	}

	var meta Meta
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, nil, fmt.Errorf("failed to parse meta: %w", err)
	}
	var ctxs []AssetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return nil, nil, fmt.Errorf("failed to parse asset contexts: %w", err)
	}

	c.cacheMeta(&meta)
	return &meta, ctxs, nil
}

// AllMids returns current mid prices keyed by native coin. Synthetic
// book entries such as "@1" are skipped.
func (c *Client) AllMids(ctx context.Context) (map[string]float64, error) {
	var raw map[string]string
	if err := c.post(ctx, "/info", infoRequest{Type: "allMids"}, &raw); err != nil {
		return nil, err
	}

	mids := make(map[string]float64, len(raw))
	for coin, s := range raw {
		if strings.HasPrefix(coin, "@") {
			continue
		}
		px, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		mids[coin] = px
	}
	return mids, nil
}

// Candles returns up to limit most recent candles for a native coin.
func (c *Client) Candles(ctx context.Context, coin, interval string, limit int) ([]Candle, error) {
	step, err := intervalDuration(interval)
	if err != nil {
		return nil, err
	}

	end := time.Now()
	start := end.Add(-time.Duration(limit) * step)
	payload := candleRequest{
		Type: "candleSnapshot",
		Req: candleSnapshotQ{
			Coin:      coin,
			Interval:  interval,
			StartTime: start.UnixMilli(),
			EndTime:   end.UnixMilli(),
		},
	}

	var candles []Candle
	if err := c.post(ctx, "/info", payload, &candles); err != nil {
		return nil, err
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// ClearinghouseState returns margin and position state for a wallet.
func (c *Client) ClearinghouseState(ctx context.Context, address string) (*ClearinghouseState, error) {
	var state ClearinghouseState
	if err := c.post(ctx, "/info", infoRequest{Type: "clearinghouseState", User: address}, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// OpenOrders returns the wallet's resting orders.
func (c *Client) OpenOrders(ctx context.Context, address string) ([]OpenOrder, error) {
	var orders []OpenOrder
	if err := c.post(ctx, "/info", infoRequest{Type: "openOrders", User: address}, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) cacheMeta(meta *Meta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, a := range meta.Universe {
		c.assets[a.Name] = a
		c.index[a.Name] = i
	}
}

// Asset returns universe metadata for a native coin, fetching meta on
// first use.
func (c *Client) Asset(ctx context.Context, coin string) (AssetMeta, error) {
	c.mu.RLock()
	meta, ok := c.assets[coin]
	c.mu.RUnlock()
	if ok {
		return meta, nil
	}

	if _, err := c.Meta(ctx); err != nil {
		return AssetMeta{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok = c.assets[coin]
	if !ok {
		return AssetMeta{}, fmt.Errorf("unknown asset %s", coin)
	}
	return meta, nil
}

// AssetIndex resolves a native coin to its universe index.
func (c *Client) AssetIndex(ctx context.Context, coin string) (int, error) {
	c.mu.RLock()
	idx, ok := c.index[coin]
	c.mu.RUnlock()
	if ok {
		return idx, nil
	}

	if _, err := c.Meta(ctx); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok = c.index[coin]
	if !ok {
		return 0, fmt.Errorf("unknown asset %s", coin)
	}
	return idx, nil
}

func intervalDuration(interval string) (time.Duration, error) {
	switch interval {
	case "1m":
		return time.Minute, nil
	case "3m":
		return 3 * time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "2h":
		return 2 * time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "8h":
		return 8 * time.Hour, nil
	case "12h":
		return 12 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unsupported interval %s", interval)
}
