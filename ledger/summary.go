package ledger

import (
	"sort"
	"time"

	"perp-agent/risk"
)

// PositionSummary is one open position priced for display.
type PositionSummary struct {
	PositionID       string    `json:"position_id"`
	Coin             string    `json:"coin"`
	Side             string    `json:"side"`
	EntryPrice       float64   `json:"entry_price"`
	EntryTime        time.Time `json:"entry_time"`
	CurrentPrice     float64   `json:"current_price"`
	QuantityUSD      float64   `json:"quantity_usd"`
	Leverage         float64   `json:"leverage"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	LiquidationPrice float64   `json:"liquidation_price"`
	DecisionID       *int64    `json:"decision_id,omitempty"`
}

// Summary is the account view served by the API and fed to prompts.
type Summary struct {
	Balance        float64           `json:"balance"`
	Equity         float64           `json:"equity"`
	UnrealizedPnL  float64           `json:"unrealized_pnl"`
	RealizedPnL    float64           `json:"realized_pnl"`
	TotalPnL       float64           `json:"total_pnl"`
	TotalReturnPct float64           `json:"total_return_pct"`
	NumPositions   int               `json:"num_positions"`
	Positions      []PositionSummary `json:"positions"`
}

// Summary prices the account at the given prices. Positions without a
// quoted price fall back to their entry price, which shows them flat
// rather than hiding them.
func (l *Ledger) Summary(prices map[string]float64) Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := Summary{
		Balance:      l.balance,
		RealizedPnL:  l.realizedPnL,
		NumPositions: len(l.positions),
		Positions:    make([]PositionSummary, 0, len(l.positions)),
	}

	for _, p := range l.positions {
		price, ok := prices[p.Coin]
		if !ok {
			price = p.EntryPrice
		}
		pnl := PositionPnL(p, price)
		out.UnrealizedPnL += pnl

		liq, err := risk.LiquidationPrice(p.EntryPrice, p.Leverage, p.Side)
		if err != nil {
			liq = 0
		}

		out.Positions = append(out.Positions, PositionSummary{
			PositionID:       p.PositionID,
			Coin:             p.Coin,
			Side:             p.Side,
			EntryPrice:       p.EntryPrice,
			EntryTime:        p.EntryTime,
			CurrentPrice:     price,
			QuantityUSD:      p.QuantityUSD,
			Leverage:         p.Leverage,
			UnrealizedPnL:    pnl,
			LiquidationPrice: liq,
			DecisionID:       p.DecisionID,
		})
	}
	sort.Slice(out.Positions, func(i, j int) bool {
		return out.Positions[i].Coin < out.Positions[j].Coin
	})

	out.Equity = out.Balance + out.UnrealizedPnL
	out.TotalPnL = out.RealizedPnL + out.UnrealizedPnL
	if l.initialBalance > 0 {
		out.TotalReturnPct = out.TotalPnL / l.initialBalance * 100
	}
	return out
}
