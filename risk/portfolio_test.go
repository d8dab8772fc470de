package risk

import (
	"math"
	"testing"
)

func testPositions() []OpenPosition {
	return []OpenPosition{
		{PositionID: "BTC_1", Coin: "BTC/USDC:USDC", Side: "long", EntryPrice: 100000, QuantityUSD: 50, Leverage: 10},
		{PositionID: "ETH_1", Coin: "ETH/USDC:USDC", Side: "short", EntryPrice: 3000, QuantityUSD: 30, Leverage: 3},
	}
}

func TestPortfolioExposure(t *testing.T) {
	if got := PortfolioExposure(nil); got != 0 {
		t.Errorf("PortfolioExposure(nil) = %v, want 0", got)
	}
	// 50*10 + 30*3 = 590.
	if got := PortfolioExposure(testPositions()); math.Abs(got-590) > 1e-9 {
		t.Errorf("PortfolioExposure = %v, want 590", got)
	}
}

func TestPositionsAtRisk(t *testing.T) {
	positions := testPositions()

	// BTC liquidates at 90k; 91k is ~1.1% away. ETH short liquidates at
	// 4000; 3100 is 29% away and stays unflagged.
	prices := map[string]float64{
		"BTC/USDC:USDC": 91000,
		"ETH/USDC:USDC": 3100,
	}
	atRisk := PositionsAtRisk(positions, prices, DefaultLiquidationAlertPct)
	if len(atRisk) != 1 {
		t.Fatalf("at risk = %d positions, want 1", len(atRisk))
	}

	ar := atRisk[0]
	if ar.Coin != "BTC/USDC:USDC" || ar.PositionID != "BTC_1" {
		t.Errorf("flagged %s (%s), want BTC_1", ar.Coin, ar.PositionID)
	}
	if math.Abs(ar.LiquidationPrice-90000) > 1e-6 {
		t.Errorf("LiquidationPrice = %v, want 90000", ar.LiquidationPrice)
	}
	wantDist := math.Abs(90000-91000.0) / 91000 * 100
	if math.Abs(ar.DistancePct-wantDist) > 1e-9 {
		t.Errorf("DistancePct = %v, want %v", ar.DistancePct, wantDist)
	}
	// units = 50*10/100000 = 0.005; pnl = (91000-100000)*0.005 = -45.
	if math.Abs(ar.UnrealizedPnL-(-45)) > 1e-9 {
		t.Errorf("UnrealizedPnL = %v, want -45", ar.UnrealizedPnL)
	}
}

func TestPositionsAtRiskSkipsUnquotedCoins(t *testing.T) {
	// BTC is deep in the danger zone but has no quote this cycle.
	prices := map[string]float64{"ETH/USDC:USDC": 3950}
	atRisk := PositionsAtRisk(testPositions(), prices, DefaultLiquidationAlertPct)
	if len(atRisk) != 1 || atRisk[0].Coin != "ETH/USDC:USDC" {
		t.Fatalf("at risk = %+v, want only the quoted ETH short", atRisk)
	}
	if atRisk[0].Side != "short" {
		t.Errorf("Side = %s, want short", atRisk[0].Side)
	}
	// units = 30*3/3000 = 0.03; pnl = (3000-3950)*0.03 = -28.5.
	if math.Abs(atRisk[0].UnrealizedPnL-(-28.5)) > 1e-9 {
		t.Errorf("UnrealizedPnL = %v, want -28.5", atRisk[0].UnrealizedPnL)
	}
}

func TestPositionsAtRiskInvalidLeverage(t *testing.T) {
	positions := []OpenPosition{
		{Coin: "BTC/USDC:USDC", Side: "long", EntryPrice: 100, QuantityUSD: 10, Leverage: 0},
	}
	if atRisk := PositionsAtRisk(positions, map[string]float64{"BTC/USDC:USDC": 50}, 20); len(atRisk) != 0 {
		t.Errorf("at risk = %+v, want none for zero leverage", atRisk)
	}
}
