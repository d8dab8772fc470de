package exchange

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"perp-agent/ledger"
	"perp-agent/logger"
	"perp-agent/store"
)

// PaperAdapter simulates fills against the ledger at observed marks.
// Asset metadata still comes from the venue's public info endpoint so
// paper sizing and leverage limits match what live trading would see.
type PaperAdapter struct {
	ledger *ledger.Ledger
	client *Client
	log    zerolog.Logger
}

func NewPaperAdapter(l *ledger.Ledger, client *Client) *PaperAdapter {
	return &PaperAdapter{
		ledger: l,
		client: client,
		log:    logger.Component("paper"),
	}
}

func (a *PaperAdapter) Mode() string { return "paper" }

func (a *PaperAdapter) AccountState(ctx context.Context, marks map[string]float64) (*AccountState, error) {
	summary := a.ledger.Summary(marks)

	state := &AccountState{
		Balance:       summary.Balance,
		Equity:        summary.Equity,
		UnrealizedPnL: summary.UnrealizedPnL,
		RealizedPnL:   summary.RealizedPnL,
		Positions:     make([]PositionState, 0, len(summary.Positions)),
	}
	for _, p := range summary.Positions {
		state.MarginUsed += p.QuantityUSD
		state.Positions = append(state.Positions, PositionState{
			Coin:             p.Coin,
			Side:             p.Side,
			Size:             positionUnits(p.QuantityUSD, p.Leverage, p.EntryPrice),
			EntryPrice:       p.EntryPrice,
			QuantityUSD:      p.QuantityUSD,
			Leverage:         p.Leverage,
			UnrealizedPnL:    p.UnrealizedPnL,
			LiquidationPrice: p.LiquidationPrice,
			EntryTime:        p.EntryTime,
			PositionID:       p.PositionID,
			DecisionID:       p.DecisionID,
		})
	}
	return state, nil
}

func (a *PaperAdapter) Open(ctx context.Context, req OpenRequest) (*Fill, error) {
	if req.Price <= 0 {
		return nil, fmt.Errorf("no mark price for %s", req.Coin)
	}

	side := store.SideShort
	if req.IsBuy {
		side = store.SideLong
	}

	pos, err := a.ledger.Open(req.Coin, side, req.Price, req.QuantityUSD, req.Leverage, req.DecisionID)
	if err != nil {
		return nil, err
	}

	return &Fill{
		Coin:       req.Coin,
		Side:       side,
		Size:       positionUnits(req.QuantityUSD, req.Leverage, req.Price),
		Price:      req.Price,
		PositionID: pos.PositionID,
	}, nil
}

func (a *PaperAdapter) Close(ctx context.Context, coin string, price float64) (*Fill, error) {
	if price <= 0 {
		return nil, fmt.Errorf("no mark price for %s", coin)
	}

	pos, ok := a.ledger.Position(coin)
	if !ok {
		return nil, fmt.Errorf("%w for %s", ledger.ErrNoPosition, coin)
	}

	pnl, err := a.ledger.Close(coin, price)
	if err != nil {
		return nil, err
	}

	return &Fill{
		Coin:        coin,
		Side:        pos.Side,
		Size:        positionUnits(pos.QuantityUSD, pos.Leverage, pos.EntryPrice),
		Price:       price,
		PositionID:  pos.PositionID,
		RealizedPnL: &pnl,
	}, nil
}

func (a *PaperAdapter) MaxLeverage(ctx context.Context, coin string) (int, error) {
	meta, err := a.client.Asset(ctx, NativeSymbol(coin))
	if err != nil {
		return 0, err
	}
	return meta.MaxLeverage, nil
}

func (a *PaperAdapter) SizeDecimals(ctx context.Context, coin string) (int, error) {
	meta, err := a.client.Asset(ctx, NativeSymbol(coin))
	if err != nil {
		return 0, err
	}
	return meta.SzDecimals, nil
}

func positionUnits(quantityUSD, leverage, entryPrice float64) float64 {
	if entryPrice <= 0 {
		return 0
	}
	return quantityUSD * leverage / entryPrice
}
