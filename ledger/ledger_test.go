package ledger

import (
	"errors"
	"math"
	"strings"
	"testing"

	"perp-agent/store"
)

const (
	btc = "BTC/USDC:USDC"
	eth = "ETH/USDC:USDC"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir(), "paper")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestOpenDeductsMargin(t *testing.T) {
	l := New(newTestStore(t), 1000)

	p, err := l.Open(btc, store.SideLong, 100000, 50, 5, 7)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !strings.HasPrefix(p.PositionID, "BTC_") {
		t.Errorf("PositionID = %q, want BTC_ prefix", p.PositionID)
	}
	if p.DecisionID == nil || *p.DecisionID != 7 {
		t.Errorf("DecisionID = %v, want 7", p.DecisionID)
	}
	if got := l.AvailableBalance(); !almostEqual(got, 950) {
		t.Errorf("balance = %v, want 950", got)
	}
	if l.OpenCount() != 1 || !l.OpenCoins()[btc] {
		t.Error("position not tracked in memory")
	}

	open, err := l.store.OpenPositions()
	if err != nil {
		t.Fatalf("OpenPositions: %v", err)
	}
	if len(open) != 1 || open[0].Coin != btc {
		t.Errorf("store open positions = %v", open)
	}
}

func TestCloseReturnsMarginPlusPnL(t *testing.T) {
	l := New(newTestStore(t), 1000)
	if _, err := l.Open(btc, store.SideLong, 100000, 50, 5, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// units = 50*5/100000 = 0.0025; +2000 move earns $5.
	pnl, err := l.Close(btc, 102000)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !almostEqual(pnl, 5) {
		t.Errorf("pnl = %v, want 5", pnl)
	}
	if got := l.AvailableBalance(); !almostEqual(got, 1005) {
		t.Errorf("balance = %v, want 1005", got)
	}
	if got := l.RealizedPnL(); !almostEqual(got, 5) {
		t.Errorf("realized = %v, want 5", got)
	}
	if l.OpenCount() != 0 {
		t.Error("position still tracked after close")
	}

	closed, err := l.store.ClosedPositions(10)
	if err != nil {
		t.Fatalf("ClosedPositions: %v", err)
	}
	if len(closed) != 1 || closed[0].RealizedPnL == nil || !almostEqual(*closed[0].RealizedPnL, 5) {
		t.Errorf("store closed positions = %+v", closed)
	}
}

func TestShortPnL(t *testing.T) {
	l := New(newTestStore(t), 1000)
	if _, err := l.Open(eth, store.SideShort, 100, 30, 10, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// units = 30*10/100 = 3; price falling 1 earns $3.
	pnl, err := l.Close(eth, 99)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !almostEqual(pnl, 3) {
		t.Errorf("pnl = %v, want 3", pnl)
	}
	if got := l.AvailableBalance(); !almostEqual(got, 1003) {
		t.Errorf("balance = %v, want 1003", got)
	}
}

func TestOpenDuplicateCoin(t *testing.T) {
	l := New(newTestStore(t), 1000)
	if _, err := l.Open(btc, store.SideLong, 100, 20, 2, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.Open(btc, store.SideShort, 100, 20, 2, 0); !errors.Is(err, ErrPositionAlreadyOpen) {
		t.Errorf("err = %v, want ErrPositionAlreadyOpen", err)
	}
}

func TestOpenInsufficientBalance(t *testing.T) {
	l := New(newTestStore(t), 40)
	_, err := l.Open(btc, store.SideLong, 100, 50, 2, 0)
	if err == nil || !strings.Contains(err.Error(), "insufficient balance") {
		t.Errorf("err = %v, want insufficient balance", err)
	}
	if got := l.AvailableBalance(); got != 40 {
		t.Errorf("balance = %v, want untouched 40", got)
	}
}

func TestCloseNoPosition(t *testing.T) {
	l := New(newTestStore(t), 1000)
	if _, err := l.Close(btc, 100); !errors.Is(err, ErrNoPosition) {
		t.Errorf("err = %v, want ErrNoPosition", err)
	}
}

func TestBalanceConservation(t *testing.T) {
	l := New(newTestStore(t), 1000)

	if _, err := l.Open(btc, store.SideLong, 100000, 50, 5, 0); err != nil {
		t.Fatalf("Open btc: %v", err)
	}
	if _, err := l.Close(btc, 101000); err != nil {
		t.Fatalf("Close btc: %v", err)
	}
	if _, err := l.Open(eth, store.SideShort, 2500, 40, 8, 0); err != nil {
		t.Fatalf("Open eth: %v", err)
	}
	if _, err := l.Close(eth, 2550); err != nil {
		t.Fatalf("Close eth: %v", err)
	}

	// With everything closed, balance must reconcile with realized P&L.
	want := 1000 + l.RealizedPnL()
	if got := l.AvailableBalance(); !almostEqual(got, want) {
		t.Errorf("balance = %v, want %v", got, want)
	}
}

func TestRestoreFromStore(t *testing.T) {
	st := newTestStore(t)

	first := New(st, 1000)
	if _, err := first.Open(btc, store.SideLong, 100000, 50, 5, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := first.SaveState(map[string]float64{btc: 100000}); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	second := New(st, 1000)
	if got := second.AvailableBalance(); !almostEqual(got, 950) {
		t.Errorf("restored balance = %v, want 950", got)
	}
	p, ok := second.Position(btc)
	if !ok {
		t.Fatal("restored ledger lost the open position")
	}
	if p.EntryPrice != 100000 || p.Leverage != 5 {
		t.Errorf("restored position = %+v", p)
	}
}

func TestCheckLiquidationLong(t *testing.T) {
	l := New(newTestStore(t), 1000)
	p, err := l.Open(btc, store.SideLong, 100, 20, 5, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Liquidates at 80. Price above it leaves the position alone.
	if ids := l.CheckLiquidation(map[string]float64{btc: 81}); len(ids) != 0 {
		t.Fatalf("liquidated above threshold: %v", ids)
	}

	ids := l.CheckLiquidation(map[string]float64{btc: 79})
	if len(ids) != 1 || ids[0] != p.PositionID {
		t.Fatalf("liquidated = %v, want [%s]", ids, p.PositionID)
	}
	// Settled at the liquidation price, so the loss is the full margin.
	if got := l.RealizedPnL(); !almostEqual(got, -20) {
		t.Errorf("realized = %v, want -20", got)
	}
	if got := l.AvailableBalance(); !almostEqual(got, 980) {
		t.Errorf("balance = %v, want 980", got)
	}
	if l.OpenCount() != 0 {
		t.Error("position survived liquidation")
	}
}

func TestCheckLiquidationShort(t *testing.T) {
	l := New(newTestStore(t), 1000)
	if _, err := l.Open(eth, store.SideShort, 100, 25, 4, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Liquidates at 125.
	if ids := l.CheckLiquidation(map[string]float64{eth: 124}); len(ids) != 0 {
		t.Fatalf("liquidated below threshold: %v", ids)
	}
	if ids := l.CheckLiquidation(map[string]float64{eth: 126}); len(ids) != 1 {
		t.Fatal("short not liquidated past threshold")
	}
	if got := l.RealizedPnL(); !almostEqual(got, -25) {
		t.Errorf("realized = %v, want -25", got)
	}
}

func TestUnrealizedAndEquity(t *testing.T) {
	l := New(newTestStore(t), 1000)
	if _, err := l.Open(btc, store.SideLong, 100, 20, 5, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}

	prices := map[string]float64{btc: 110}
	if got := l.UnrealizedPnL(prices); !almostEqual(got, 10) {
		t.Errorf("unrealized = %v, want 10", got)
	}
	if got := l.Equity(prices); !almostEqual(got, 990) {
		t.Errorf("equity = %v, want 990", got)
	}

	// A coin missing from the price map contributes nothing.
	if got := l.UnrealizedPnL(map[string]float64{}); got != 0 {
		t.Errorf("unrealized with no prices = %v, want 0", got)
	}
	if got := l.Equity(map[string]float64{}); !almostEqual(got, 980) {
		t.Errorf("equity with no prices = %v, want 980", got)
	}
}

func TestCanOpen(t *testing.T) {
	l := New(newTestStore(t), 100)

	if ok, reason := l.CanOpen(50, 5); !ok {
		t.Errorf("CanOpen(50, 5) rejected: %s", reason)
	}
	if ok, _ := l.CanOpen(50, 0); ok {
		t.Error("zero leverage accepted")
	}
	ok, reason := l.CanOpen(150, 5)
	if ok || !strings.Contains(reason, "insufficient balance") {
		t.Errorf("CanOpen(150) = %v, %q", ok, reason)
	}
}

func TestSummary(t *testing.T) {
	l := New(newTestStore(t), 1000)
	if _, err := l.Open(btc, store.SideLong, 100, 20, 5, 0); err != nil {
		t.Fatalf("Open btc: %v", err)
	}
	if _, err := l.Open(eth, store.SideShort, 2500, 30, 4, 0); err != nil {
		t.Fatalf("Open eth: %v", err)
	}

	s := l.Summary(map[string]float64{btc: 110})
	if s.NumPositions != 2 || len(s.Positions) != 2 {
		t.Fatalf("positions = %d/%d, want 2", s.NumPositions, len(s.Positions))
	}
	// Sorted by coin, BTC first.
	if s.Positions[0].Coin != btc || s.Positions[1].Coin != eth {
		t.Errorf("position order = %s, %s", s.Positions[0].Coin, s.Positions[1].Coin)
	}
	if !almostEqual(s.Positions[0].UnrealizedPnL, 10) {
		t.Errorf("btc pnl = %v, want 10", s.Positions[0].UnrealizedPnL)
	}
	if !almostEqual(s.Positions[0].LiquidationPrice, 80) {
		t.Errorf("btc liq = %v, want 80", s.Positions[0].LiquidationPrice)
	}
	// ETH has no quote, so it prices at entry and shows flat.
	if s.Positions[1].CurrentPrice != 2500 || s.Positions[1].UnrealizedPnL != 0 {
		t.Errorf("eth priced at %v with pnl %v", s.Positions[1].CurrentPrice, s.Positions[1].UnrealizedPnL)
	}

	if !almostEqual(s.Balance, 950) {
		t.Errorf("balance = %v, want 950", s.Balance)
	}
	if !almostEqual(s.Equity, 960) {
		t.Errorf("equity = %v, want 960", s.Equity)
	}
	if !almostEqual(s.TotalReturnPct, 1.0) {
		t.Errorf("total return = %v%%, want 1%%", s.TotalReturnPct)
	}
}

func TestSharpeNeedsTwoTrades(t *testing.T) {
	l := New(newTestStore(t), 1000)

	if l.Sharpe() != nil {
		t.Error("sharpe with no trades should be nil")
	}

	if _, err := l.Open(btc, store.SideLong, 100, 20, 5, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.Close(btc, 105); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if l.Sharpe() != nil {
		t.Error("sharpe with one trade should be nil")
	}

	if _, err := l.Open(eth, store.SideShort, 100, 20, 5, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.Close(eth, 99); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if l.Sharpe() == nil {
		t.Error("sharpe with two differing trades should be set")
	}
}

func TestDailyRealizedPnL(t *testing.T) {
	l := New(newTestStore(t), 1000)
	if _, err := l.Open(btc, store.SideLong, 100, 20, 5, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.Close(btc, 95); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// units = 1, -5 move loses $5, closed just now (today).
	if got := l.DailyRealizedPnL(); !almostEqual(got, -5) {
		t.Errorf("daily pnl = %v, want -5", got)
	}
}
