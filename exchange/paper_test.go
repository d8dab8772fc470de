package exchange

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"perp-agent/ledger"
	"perp-agent/store"
)

const (
	btcSymbol = "BTC/USDC:USDC"
	ethSymbol = "ETH/USDC:USDC"
)

func newTestPaper(t *testing.T, balance float64) (*PaperAdapter, *ledger.Ledger) {
	t.Helper()

	st, err := store.Open(t.TempDir(), "paper")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	l := ledger.New(st, balance)

	client, err := NewClient("", false)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.cacheMeta(&Meta{Universe: []AssetMeta{
		{Name: "BTC", SzDecimals: 5, MaxLeverage: 40},
		{Name: "ETH", SzDecimals: 4, MaxLeverage: 25},
	}})

	return NewPaperAdapter(l, client), l
}

func TestPaperOpenClose(t *testing.T) {
	adapter, l := newTestPaper(t, 1000)
	ctx := context.Background()

	fill, err := adapter.Open(ctx, OpenRequest{
		Coin:        btcSymbol,
		IsBuy:       true,
		QuantityUSD: 50,
		Leverage:    2,
		Price:       100000,
		DecisionID:  3,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if fill.Side != "long" || fill.Price != 100000 {
		t.Errorf("fill = %+v", fill)
	}
	if math.Abs(fill.Size-0.001) > 1e-12 {
		t.Errorf("Size = %v, want 0.001", fill.Size)
	}
	if !strings.HasPrefix(fill.PositionID, "BTC_") {
		t.Errorf("PositionID = %q, want BTC_ prefix", fill.PositionID)
	}
	if l.AvailableBalance() != 950 {
		t.Errorf("balance = %v, want 950", l.AvailableBalance())
	}

	state, err := adapter.AccountState(ctx, map[string]float64{btcSymbol: 101000})
	if err != nil {
		t.Fatalf("AccountState: %v", err)
	}
	if math.Abs(state.UnrealizedPnL-1) > 1e-9 || math.Abs(state.Equity-951) > 1e-9 {
		t.Errorf("state = %+v", state)
	}
	if state.MarginUsed != 50 {
		t.Errorf("MarginUsed = %v, want 50", state.MarginUsed)
	}
	if len(state.Positions) != 1 {
		t.Fatalf("len(Positions) = %d, want 1", len(state.Positions))
	}
	pos := state.Positions[0]
	if pos.DecisionID == nil || *pos.DecisionID != 3 {
		t.Errorf("DecisionID = %v, want 3", pos.DecisionID)
	}
	if math.Abs(pos.Size-0.001) > 1e-12 {
		t.Errorf("position size = %v, want 0.001", pos.Size)
	}
	if pos.EntryTime.IsZero() {
		t.Error("paper positions should carry an entry time")
	}

	closeFill, err := adapter.Close(ctx, btcSymbol, 102000)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closeFill.RealizedPnL == nil || math.Abs(*closeFill.RealizedPnL-2) > 1e-9 {
		t.Errorf("RealizedPnL = %v, want 2", closeFill.RealizedPnL)
	}
	if closeFill.Side != "long" {
		t.Errorf("Side = %q, want long", closeFill.Side)
	}
	if math.Abs(l.AvailableBalance()-1002) > 1e-9 {
		t.Errorf("balance = %v, want 1002", l.AvailableBalance())
	}
}

func TestPaperShortClose(t *testing.T) {
	adapter, l := newTestPaper(t, 1000)
	ctx := context.Background()

	_, err := adapter.Open(ctx, OpenRequest{
		Coin:        ethSymbol,
		IsBuy:       false,
		QuantityUSD: 30,
		Leverage:    3,
		Price:       3000,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	fill, err := adapter.Close(ctx, ethSymbol, 2900)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fill.Side != "short" {
		t.Errorf("Side = %q, want short", fill.Side)
	}
	if fill.RealizedPnL == nil || math.Abs(*fill.RealizedPnL-3) > 1e-9 {
		t.Errorf("RealizedPnL = %v, want 3", fill.RealizedPnL)
	}
	if math.Abs(fill.Size-0.03) > 1e-12 {
		t.Errorf("Size = %v, want 0.03", fill.Size)
	}
	if math.Abs(l.AvailableBalance()-1003) > 1e-9 {
		t.Errorf("balance = %v, want 1003", l.AvailableBalance())
	}
}

func TestPaperOpenErrors(t *testing.T) {
	adapter, _ := newTestPaper(t, 40)
	ctx := context.Background()

	if _, err := adapter.Open(ctx, OpenRequest{Coin: btcSymbol, IsBuy: true, QuantityUSD: 50, Leverage: 2}); err == nil {
		t.Error("expected error for missing mark price")
	}

	_, err := adapter.Open(ctx, OpenRequest{Coin: btcSymbol, IsBuy: true, QuantityUSD: 50, Leverage: 2, Price: 100000})
	if err == nil || !strings.Contains(err.Error(), "insufficient balance") {
		t.Errorf("error = %v, want insufficient balance", err)
	}
}

func TestPaperDuplicateOpen(t *testing.T) {
	adapter, _ := newTestPaper(t, 1000)
	ctx := context.Background()

	req := OpenRequest{Coin: btcSymbol, IsBuy: true, QuantityUSD: 50, Leverage: 2, Price: 100000}
	if _, err := adapter.Open(ctx, req); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	_, err := adapter.Open(ctx, req)
	if !errors.Is(err, ledger.ErrPositionAlreadyOpen) {
		t.Errorf("error = %v, want ErrPositionAlreadyOpen", err)
	}
}

func TestPaperCloseNoPosition(t *testing.T) {
	adapter, _ := newTestPaper(t, 1000)

	_, err := adapter.Close(context.Background(), btcSymbol, 100000)
	if !errors.Is(err, ledger.ErrNoPosition) {
		t.Errorf("error = %v, want ErrNoPosition", err)
	}
}

func TestPaperAssetMeta(t *testing.T) {
	adapter, _ := newTestPaper(t, 1000)
	ctx := context.Background()

	if adapter.Mode() != "paper" {
		t.Errorf("Mode = %q, want paper", adapter.Mode())
	}

	lev, err := adapter.MaxLeverage(ctx, btcSymbol)
	if err != nil {
		t.Fatalf("MaxLeverage: %v", err)
	}
	if lev != 40 {
		t.Errorf("MaxLeverage = %d, want 40", lev)
	}

	dec, err := adapter.SizeDecimals(ctx, ethSymbol)
	if err != nil {
		t.Fatalf("SizeDecimals: %v", err)
	}
	if dec != 4 {
		t.Errorf("SizeDecimals = %d, want 4", dec)
	}
}
