// Package market assembles the per-coin picture the model trades on:
// recent candles with derived technical indicators, the current mid
// price, and the venue's funding and open-interest context.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"perp-agent/cache"
	"perp-agent/exchange"
	"perp-agent/logger"
)

// Candle sampling. The intraday series drives the decision; the 4-hour
// series gives the model longer-term context.
const (
	intradayInterval = "3m"
	contextInterval  = "4h"
	candleLimit      = 100
)

// Series holds one coin's indicator history for a single timeframe,
// oldest to newest. Slices differ in length; warmup rows are absent.
type Series struct {
	Prices      []float64
	EMA20       []float64
	EMA50       []float64
	RSI7        []float64
	RSI14       []float64
	MACD        []float64
	MACDSignal  []float64
	MACDHist    []float64
	ATR3        []float64
	ATR14       []float64
	Volume      []float64
	VolumeSMA20 []float64
}

// Data is the full market picture for one coin.
type Data struct {
	Coin         string
	CurrentPrice float64
	FundingRate  *float64
	OpenInterest *float64
	Intraday     Series
	// LongerTerm is nil when the 4-hour fetch failed; the intraday
	// view alone is still usable.
	LongerTerm *Series
	FetchedAt  time.Time
}

// venue is the slice of the exchange client the provider reads from.
type venue interface {
	Candles(ctx context.Context, coin, interval string, limit int) ([]exchange.Candle, error)
	AllMids(ctx context.Context) (map[string]float64, error)
	MetaAndAssetCtxs(ctx context.Context) (*exchange.Meta, []exchange.AssetCtx, error)
}

// Provider fetches candles and venue context and turns them into
// indicator series. Mid prices go through the cache so repeated lookups
// within a cycle do not hit the API again.
type Provider struct {
	venue venue
	cache *cache.Cache
	log   zerolog.Logger
}

func NewProvider(client *exchange.Client, c *cache.Cache) *Provider {
	return &Provider{
		venue: client,
		cache: c,
		log:   logger.Component("market"),
	}
}

// cachedPrice is the JSON shape stored under price:{coin}.
type cachedPrice struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Fetch builds the market picture for one coin (canonical form). The
// intraday candles are required; mid price falls back to the last close
// and funding, open interest, and the 4-hour context degrade to absent.
func (p *Provider) Fetch(ctx context.Context, coin string) (*Data, error) {
	native := exchange.NativeSymbol(coin)

	candles, err := p.venue.Candles(ctx, native, intradayInterval, candleLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to get candles for %s: %w", coin, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candle data for %s", coin)
	}

	d := &Data{
		Coin:      coin,
		Intraday:  computeSeries(candles),
		FetchedAt: time.Now().UTC(),
	}

	price, err := p.Price(ctx, coin)
	if err != nil {
		p.log.Warn().Err(err).Str("coin", coin).Msg("mid price unavailable, using last close")
		price = candles[len(candles)-1].Close
	}
	d.CurrentPrice = price

	longer, err := p.venue.Candles(ctx, native, contextInterval, candleLimit)
	if err != nil || len(longer) == 0 {
		p.log.Warn().Err(err).Str("coin", coin).Msg("longer-term candles unavailable")
	} else {
		s := computeSeries(longer)
		d.LongerTerm = &s
	}

	p.fillAssetCtx(ctx, native, d)
	return d, nil
}

// Price returns the current mid price for one coin, serving from the
// cache when a fresh value exists.
func (p *Provider) Price(ctx context.Context, coin string) (float64, error) {
	key := cache.PriceKey(coin)
	var entry cachedPrice
	if p.cache.Get(ctx, key, &entry) {
		return entry.Price, nil
	}

	mids, err := p.venue.AllMids(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get mids: %w", err)
	}
	mid, ok := mids[exchange.NativeSymbol(coin)]
	if !ok {
		return 0, fmt.Errorf("no mid price for %s", coin)
	}

	p.cache.Set(ctx, key, cachedPrice{Price: mid, Timestamp: time.Now().UTC()}, cache.PriceTTL)
	return mid, nil
}

// Mids returns mid prices for the given coins (canonical form) with one
// venue call, refreshing the cache as a side effect. Coins the venue
// does not list are simply absent from the result.
func (p *Provider) Mids(ctx context.Context, coins []string) (map[string]float64, error) {
	mids, err := p.venue.AllMids(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get mids: %w", err)
	}

	out := make(map[string]float64, len(coins))
	now := time.Now().UTC()
	for _, coin := range coins {
		mid, ok := mids[exchange.NativeSymbol(coin)]
		if !ok {
			continue
		}
		out[coin] = mid
		p.cache.Set(ctx, cache.PriceKey(coin), cachedPrice{Price: mid, Timestamp: now}, cache.PriceTTL)
	}
	return out, nil
}

// fillAssetCtx attaches funding and open interest from the venue's asset
// contexts. Both stay nil when the call fails or the coin is unlisted.
func (p *Provider) fillAssetCtx(ctx context.Context, native string, d *Data) {
	meta, ctxs, err := p.venue.MetaAndAssetCtxs(ctx)
	if err != nil {
		p.log.Debug().Err(err).Str("coin", native).Msg("asset context unavailable")
		return
	}
	for i, asset := range meta.Universe {
		if asset.Name == native && i < len(ctxs) {
			funding := ctxs[i].Funding
			oi := ctxs[i].OpenInterest
			d.FundingRate = &funding
			d.OpenInterest = &oi
			return
		}
	}
}
