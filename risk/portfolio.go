package risk

import "math"

// OpenPosition is the slice of an open position the portfolio helpers
// need. Callers map their own position types into it.
type OpenPosition struct {
	PositionID  string
	Coin        string
	Side        string
	EntryPrice  float64
	QuantityUSD float64
	Leverage    float64
}

// PortfolioExposure sums notional exposure, quantity times leverage,
// over the open positions.
func PortfolioExposure(positions []OpenPosition) float64 {
	var total float64
	for _, p := range positions {
		total += p.QuantityUSD * p.Leverage
	}
	return total
}

// AtRisk is one position inside the alert distance of its liquidation
// price.
type AtRisk struct {
	PositionID       string  `json:"position_id,omitempty"`
	Coin             string  `json:"coin"`
	Side             string  `json:"side"`
	EntryPrice       float64 `json:"entry_price"`
	CurrentPrice     float64 `json:"current_price"`
	LiquidationPrice float64 `json:"liquidation_price"`
	DistancePct      float64 `json:"distance_to_liq_pct"`
	Leverage         float64 `json:"leverage"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
}

// PositionsAtRisk returns every position within thresholdPct of its
// liquidation price at the given marks. Coins without a quote are
// skipped rather than priced at a guess.
func PositionsAtRisk(positions []OpenPosition, prices map[string]float64, thresholdPct float64) []AtRisk {
	var out []AtRisk
	for _, p := range positions {
		price, ok := prices[p.Coin]
		if !ok || price <= 0 {
			continue
		}
		if !ApproachingLiquidation(p.EntryPrice, p.Leverage, p.Side, price, thresholdPct) {
			continue
		}
		liq, err := LiquidationPrice(p.EntryPrice, p.Leverage, p.Side)
		if err != nil {
			continue
		}
		out = append(out, AtRisk{
			PositionID:       p.PositionID,
			Coin:             p.Coin,
			Side:             p.Side,
			EntryPrice:       p.EntryPrice,
			CurrentPrice:     price,
			LiquidationPrice: liq,
			DistancePct:      math.Abs(liq-price) / price * 100,
			Leverage:         p.Leverage,
			UnrealizedPnL:    positionPnL(p, price),
		})
	}
	return out
}

// positionPnL prices one position: units = quantity*leverage/entry,
// long gains as price rises, short the inverse.
func positionPnL(p OpenPosition, price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	units := p.QuantityUSD * p.Leverage / p.EntryPrice
	if p.Side == "long" {
		return (price - p.EntryPrice) * units
	}
	return (p.EntryPrice - price) * units
}
