package risk

import (
	"errors"
	"math"
	"strings"
	"testing"

	"perp-agent/decision"
)

const testCoin = "BTC/USDC:USDC"

func testLimits() Limits {
	return Limits{
		MinMarginUSD:      10,
		MaxMarginUSD:      50,
		MaxLeverage:       20,
		DailyLossLimitUSD: 100,
		MaxOpenPositions:  3,
	}
}

func entry(quantity, leverage float64) *decision.Decision {
	return &decision.Decision{
		Coin:        testCoin,
		Signal:      decision.SignalBuyToEnter,
		QuantityUSD: quantity,
		Leverage:    leverage,
		Confidence:  0.8,
	}
}

func TestLiquidationPrice(t *testing.T) {
	tests := []struct {
		name     string
		entry    float64
		leverage float64
		side     string
		want     float64
	}{
		{"long 5x", 100, 5, "long", 80},
		{"long 10x", 100, 10, "long", 90},
		{"long 2x", 100, 2, "long", 50},
		{"short 5x", 100, 5, "short", 120},
		{"short 10x", 100, 10, "short", 110},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LiquidationPrice(tt.entry, tt.leverage, tt.side)
			if err != nil {
				t.Fatalf("LiquidationPrice: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("LiquidationPrice = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := LiquidationPrice(100, 0, "long"); !errors.Is(err, ErrInvalidLeverage) {
		t.Errorf("zero leverage err = %v, want ErrInvalidLeverage", err)
	}
	if _, err := LiquidationPrice(100, -3, "short"); !errors.Is(err, ErrInvalidLeverage) {
		t.Errorf("negative leverage err = %v, want ErrInvalidLeverage", err)
	}
}

func TestApproachingLiquidation(t *testing.T) {
	// Long 100 @ 5x liquidates at 80.
	if !ApproachingLiquidation(100, 5, "long", 82, DefaultLiquidationAlertPct) {
		t.Error("price 2.4% from liquidation not flagged")
	}
	if ApproachingLiquidation(100, 5, "long", 105, DefaultLiquidationAlertPct) {
		t.Error("price 23.8% from liquidation flagged")
	}
	if ApproachingLiquidation(100, 5, "long", 82, 2) {
		t.Error("tighter threshold still flagged")
	}
	if ApproachingLiquidation(100, 0, "long", 82, DefaultLiquidationAlertPct) {
		t.Error("invalid leverage flagged")
	}
	// Short 100 @ 10x liquidates at 110.
	if !ApproachingLiquidation(100, 10, "short", 105, DefaultLiquidationAlertPct) {
		t.Error("short near liquidation not flagged")
	}
	// Long 100k @ 10x liquidates at 90k. 91k is ~1.1% away, 115k is ~21.7%.
	if !ApproachingLiquidation(100000, 10, "long", 91000, DefaultLiquidationAlertPct) {
		t.Error("10x long at 91k not flagged")
	}
	if ApproachingLiquidation(100000, 10, "long", 115000, DefaultLiquidationAlertPct) {
		t.Error("10x long at 115k flagged")
	}
}

func TestValidateHold(t *testing.T) {
	d := &decision.Decision{Coin: testCoin, Signal: decision.SignalHold}
	// Hold must pass even when every entry rule would fail.
	v := Validate(d, 100, View{AvailableBalance: 0, DailyRealizedPnL: -500, OpenCount: 9}, testLimits())
	if !v.OK {
		t.Fatalf("hold rejected: %s", v.Reason)
	}
}

func TestValidateClose(t *testing.T) {
	d := &decision.Decision{Coin: testCoin, Signal: decision.SignalClose}

	v := Validate(d, 100, View{}, testLimits())
	if v.OK {
		t.Fatal("close without a position approved")
	}
	if want := "Cannot close BTC/USDC:USDC: no open position exists"; v.Reason != want {
		t.Errorf("Reason = %q, want %q", v.Reason, want)
	}

	v = Validate(d, 100, View{OpenCoins: map[string]bool{testCoin: true}, OpenCount: 1}, testLimits())
	if !v.OK {
		t.Errorf("close with a position rejected: %s", v.Reason)
	}
}

func TestValidateEntry(t *testing.T) {
	openView := View{AvailableBalance: 100}

	tests := []struct {
		name       string
		d          *decision.Decision
		view       View
		limits     Limits
		wantOK     bool
		wantReason string
	}{
		{
			name:   "valid entry",
			d:      entry(30, 3),
			view:   openView,
			limits: testLimits(),
			wantOK: true,
		},
		{
			name:       "oversized",
			d:          entry(60, 3),
			view:       openView,
			limits:     testLimits(),
			wantReason: "Position size $60.00 exceeds maximum $50.00",
		},
		{
			name:       "undersized",
			d:          entry(5, 3),
			view:       openView,
			limits:     testLimits(),
			wantReason: "Position size $5.00 too small (minimum $10.00)",
		},
		{
			name:       "zero leverage",
			d:          entry(30, 0),
			view:       openView,
			limits:     testLimits(),
			wantReason: "Leverage must be positive",
		},
		{
			name:       "excess leverage",
			d:          entry(30, 25),
			view:       openView,
			limits:     testLimits(),
			wantReason: "Leverage 25x exceeds maximum 20x",
		},
		{
			name:       "insufficient balance",
			d:          entry(40, 3),
			view:       View{AvailableBalance: 30},
			limits:     testLimits(),
			wantReason: "Insufficient balance: need $40.00, available $30.00",
		},
		{
			name:       "duplicate coin",
			d:          entry(30, 3),
			view:       View{AvailableBalance: 100, OpenCoins: map[string]bool{testCoin: true}, OpenCount: 1},
			limits:     testLimits(),
			wantReason: "Position already open for BTC/USDC:USDC. Close existing position before opening new one.",
		},
		{
			name:       "daily loss limit hit",
			d:          entry(30, 3),
			view:       View{AvailableBalance: 100, DailyRealizedPnL: -120},
			limits:     testLimits(),
			wantReason: "Daily loss limit exceeded: $120.00 lost today (limit: $100.00). Trading halted until next day.",
		},
		{
			name:   "daily loss exactly at limit",
			d:      entry(30, 3),
			view:   View{AvailableBalance: 100, DailyRealizedPnL: -100},
			limits: testLimits(),
			wantOK: true,
		},
		{
			name:       "at position cap",
			d:          entry(30, 3),
			view:       View{AvailableBalance: 100, OpenCoins: map[string]bool{"ETH/USDC:USDC": true}, OpenCount: 3},
			limits:     testLimits(),
			wantReason: "Maximum open positions reached (3 of 3). Close a position before opening new one.",
		},
		{
			name:   "cap disabled when zero",
			d:      entry(30, 3),
			view:   View{AvailableBalance: 100, OpenCount: 7},
			limits: Limits{MinMarginUSD: 10, MaxMarginUSD: 50, MaxLeverage: 20, DailyLossLimitUSD: 100},
			wantOK: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(tt.d, 100, tt.view, tt.limits)
			if v.OK != tt.wantOK {
				t.Fatalf("OK = %v (reason %q), want %v", v.OK, v.Reason, tt.wantOK)
			}
			if tt.wantReason != "" && v.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", v.Reason, tt.wantReason)
			}
		})
	}
}

func TestEntryWarnings(t *testing.T) {
	limits := testLimits()
	view := View{AvailableBalance: 100}

	// 15x long liquidates 6.7% below entry.
	v := Validate(entry(30, 15), 100, view, limits)
	if !v.OK {
		t.Fatalf("high-leverage entry rejected: %s", v.Reason)
	}
	if len(v.Warnings) != 1 || !strings.Contains(v.Warnings[0], "HIGH LIQUIDATION RISK") {
		t.Errorf("Warnings = %v, want liquidation warning", v.Warnings)
	}

	// 6% stop at 10x burns 60% of margin.
	stop := 94.0
	d := entry(30, 10)
	d.ExitPlan.StopLoss = &stop
	v = Validate(d, 100, view, limits)
	if !v.OK {
		t.Fatalf("entry rejected: %s", v.Reason)
	}
	var found bool
	for _, w := range v.Warnings {
		if strings.Contains(w, "DANGEROUS STOP-LOSS") {
			found = true
		}
	}
	if !found {
		t.Errorf("Warnings = %v, want stop-loss warning", v.Warnings)
	}

	// 2x with a tight stop raises nothing.
	safeStop := 98.0
	d = entry(30, 2)
	d.ExitPlan.StopLoss = &safeStop
	v = Validate(d, 100, view, limits)
	if len(v.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", v.Warnings)
	}
}

func TestStopLossDistancePct(t *testing.T) {
	if got := StopLossDistancePct(100, 95, "long"); got != 5 {
		t.Errorf("long distance = %v, want 5", got)
	}
	if got := StopLossDistancePct(100, 105, "short"); got != 5 {
		t.Errorf("short distance = %v, want 5", got)
	}
	if got := StopLossDistancePct(100, 105, "long"); got != 5 {
		t.Errorf("inverted long distance = %v, want 5", got)
	}
	if got := StopLossDistancePct(0, 95, "long"); got != 0 {
		t.Errorf("zero entry distance = %v, want 0", got)
	}
}
