package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perp-agent/logger"
	"perp-agent/store"
)

// LiveAdapter executes real orders on Hyperliquid. Leverage is set on
// the venue before every entry and the order is abandoned if that
// fails, so a fill can never carry more leverage than requested.
type LiveAdapter struct {
	client  *Client
	address string
	log     zerolog.Logger
}

// NewLiveAdapter wires a signed client to a trading account.
// accountAddress defaults to the signing wallet; pass it explicitly
// when trading through an agent key.
func NewLiveAdapter(client *Client, accountAddress string) (*LiveAdapter, error) {
	if client.Signer() == nil {
		return nil, fmt.Errorf("live trading requires a signing key")
	}
	if accountAddress == "" {
		accountAddress = client.Signer().Address().Hex()
	}
	return &LiveAdapter{
		client:  client,
		address: accountAddress,
		log:     logger.Component("live"),
	}, nil
}

func (a *LiveAdapter) Mode() string { return "live" }

func (a *LiveAdapter) AccountState(ctx context.Context, marks map[string]float64) (*AccountState, error) {
	st, err := a.client.ClearinghouseState(ctx, a.address)
	if err != nil {
		return nil, err
	}

	state := &AccountState{
		Balance:    st.Withdrawable,
		Equity:     st.MarginSummary.AccountValue,
		MarginUsed: st.MarginSummary.TotalMarginUsed,
	}
	for _, ap := range st.AssetPositions {
		p := ap.Position
		if p.Szi == 0 {
			continue
		}

		side := store.SideShort
		size := -p.Szi
		if p.Szi > 0 {
			side = store.SideLong
			size = p.Szi
		}
		liq := 0.0
		if p.LiquidationPx != nil {
			liq = *p.LiquidationPx
		}

		state.UnrealizedPnL += p.UnrealizedPnl
		state.Positions = append(state.Positions, PositionState{
			Coin:             CanonicalSymbol(p.Coin),
			Side:             side,
			Size:             size,
			EntryPrice:       p.EntryPx,
			QuantityUSD:      p.MarginUsed,
			Leverage:         p.Leverage.Value,
			UnrealizedPnL:    p.UnrealizedPnl,
			LiquidationPrice: liq,
		})
	}
	return state, nil
}

func (a *LiveAdapter) Open(ctx context.Context, req OpenRequest) (*Fill, error) {
	if req.Price <= 0 {
		return nil, fmt.Errorf("no mark price for %s", req.Coin)
	}

	coin := NativeSymbol(req.Coin)
	meta, err := a.client.Asset(ctx, coin)
	if err != nil {
		return nil, err
	}
	asset, err := a.client.AssetIndex(ctx, coin)
	if err != nil {
		return nil, err
	}

	leverage := clampLeverage(req.Leverage, meta.MaxLeverage)
	size := usdToSize(req.QuantityUSD, float64(leverage), req.Price, meta.SzDecimals)
	sz, _ := size.Float64()
	if sz*req.Price < MinOrderNotionalUSD {
		return nil, fmt.Errorf("order notional $%.2f below minimum $%.2f", sz*req.Price, MinOrderNotionalUSD)
	}

	if err := a.client.UpdateLeverage(ctx, asset, leverage); err != nil {
		return nil, fmt.Errorf("failed to set leverage: %w", err)
	}

	slippage := req.Slippage
	if slippage <= 0 {
		slippage = DefaultSlippage
	}
	px := slippagePrice(req.Price, req.IsBuy, slippage)

	a.log.Info().
		Str("coin", req.Coin).
		Bool("buy", req.IsBuy).
		Str("size", size.String()).
		Int("leverage", leverage).
		Float64("margin_usd", req.QuantityUSD).
		Msg("submitting entry order")

	result, err := a.client.PlaceOrder(ctx, asset, req.IsBuy, px, size.String(), false)
	if err != nil {
		return nil, err
	}
	if result.Resting {
		return nil, fmt.Errorf("order did not fill immediately")
	}

	side := store.SideShort
	if req.IsBuy {
		side = store.SideLong
	}
	return &Fill{
		Coin:    req.Coin,
		Side:    side,
		Size:    result.FilledSz,
		Price:   result.AvgPrice,
		OrderID: result.OrderID,
	}, nil
}

// Close flattens the coin's entire position with a reduce-only order.
func (a *LiveAdapter) Close(ctx context.Context, coin string, price float64) (*Fill, error) {
	st, err := a.client.ClearinghouseState(ctx, a.address)
	if err != nil {
		return nil, err
	}

	native := NativeSymbol(coin)
	var pos *PositionInfo
	for i := range st.AssetPositions {
		p := &st.AssetPositions[i].Position
		if p.Coin == native && p.Szi != 0 {
			pos = p
			break
		}
	}
	if pos == nil {
		return nil, fmt.Errorf("no open position for %s", coin)
	}

	asset, err := a.client.AssetIndex(ctx, native)
	if err != nil {
		return nil, err
	}
	meta, err := a.client.Asset(ctx, native)
	if err != nil {
		return nil, err
	}

	ref := price
	if ref <= 0 {
		mids, err := a.client.AllMids(ctx)
		if err != nil {
			return nil, fmt.Errorf("no reference price for %s: %w", coin, err)
		}
		ref = mids[native]
		if ref <= 0 {
			return nil, fmt.Errorf("no reference price for %s", coin)
		}
	}

	isBuy := pos.Szi < 0 // closing a short buys it back
	size := decimal.NewFromFloat(math.Abs(pos.Szi)).Round(int32(meta.SzDecimals))
	px := slippagePrice(ref, isBuy, DefaultSlippage)

	a.log.Info().
		Str("coin", coin).
		Str("size", size.String()).
		Bool("buy", isBuy).
		Msg("submitting close order")

	result, err := a.client.PlaceOrder(ctx, asset, isBuy, px, size.String(), true)
	if err != nil {
		return nil, err
	}
	if result.Resting {
		return nil, fmt.Errorf("close order did not fill immediately")
	}

	side := store.SideLong
	if pos.Szi < 0 {
		side = store.SideShort
	}
	return &Fill{
		Coin:    coin,
		Side:    side,
		Size:    result.FilledSz,
		Price:   result.AvgPrice,
		OrderID: result.OrderID,
	}, nil
}

// CloseAllPositions flattens every open position with reduce-only
// orders, cancelling resting orders first. Emergency use only; it
// keeps going past per-coin failures and reports them joined.
func (a *LiveAdapter) CloseAllPositions(ctx context.Context) ([]*Fill, error) {
	if _, err := a.client.CancelAll(ctx, a.address); err != nil {
		return nil, fmt.Errorf("failed to cancel open orders: %w", err)
	}

	st, err := a.client.ClearinghouseState(ctx, a.address)
	if err != nil {
		return nil, err
	}

	var (
		fills []*Fill
		errs  []error
	)
	for _, ap := range st.AssetPositions {
		if ap.Position.Szi == 0 {
			continue
		}
		coin := CanonicalSymbol(ap.Position.Coin)
		a.log.Warn().Str("coin", coin).Float64("size", ap.Position.Szi).Msg("emergency close")

		fill, err := a.Close(ctx, coin, 0)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", coin, err))
			continue
		}
		fills = append(fills, fill)
	}
	return fills, errors.Join(errs...)
}

func (a *LiveAdapter) MaxLeverage(ctx context.Context, coin string) (int, error) {
	meta, err := a.client.Asset(ctx, NativeSymbol(coin))
	if err != nil {
		return 0, err
	}
	return meta.MaxLeverage, nil
}

func (a *LiveAdapter) SizeDecimals(ctx context.Context, coin string) (int, error) {
	meta, err := a.client.Asset(ctx, NativeSymbol(coin))
	if err != nil {
		return 0, err
	}
	return meta.SzDecimals, nil
}

// clampLeverage bounds requested leverage by the venue maximum and the
// hard live cap. The venue only accepts whole number leverage.
func clampLeverage(requested float64, venueMax int) int {
	lev := int(requested)
	if lev < 1 {
		lev = 1
	}
	if venueMax > 0 && lev > venueMax {
		lev = venueMax
	}
	if lev > LiveLeverageCap {
		lev = LiveLeverageCap
	}
	return lev
}

// usdToSize converts a USD margin amount into coin units rounded to the
// venue's size decimals.
func usdToSize(quantityUSD, leverage, price float64, szDecimals int) decimal.Decimal {
	notional := decimal.NewFromFloat(quantityUSD).Mul(decimal.NewFromFloat(leverage))
	return notional.Div(decimal.NewFromFloat(price)).Round(int32(szDecimals))
}

// slippagePrice pads the reference price in the direction of the order
// and rounds to the venue limit of five significant figures and six
// decimals.
func slippagePrice(price float64, isBuy bool, slippage float64) string {
	adjusted := price * (1 - slippage)
	if isBuy {
		adjusted = price * (1 + slippage)
	}

	rounded, err := strconv.ParseFloat(strconv.FormatFloat(adjusted, 'g', 5, 64), 64)
	if err != nil {
		rounded = adjusted
	}
	return decimal.NewFromFloat(rounded).Round(6).String()
}
