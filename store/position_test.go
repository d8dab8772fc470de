package store

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func seedClosedPosition(t *testing.T, s *Store, coin string, margin, pnl float64, exitTime time.Time) {
	t.Helper()

	pos := &Position{
		PositionID: coin + "_" + exitTime.Format("20060102_150405"),
		Coin:       coin, Side: SideLong,
		EntryTime:  exitTime.Add(-time.Hour),
		EntryPrice: 100, QuantityUSD: margin, Leverage: 2,
	}
	if _, err := s.AppendPositionEntry(pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}
	// Exit price is irrelevant to these tests; realized pnl drives them.
	if err := s.ClosePosition(pos.PositionID, 110, pnl); err != nil {
		t.Fatalf("seed close: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE positions SET exit_time = ? WHERE position_id = ?`, exitTime, pos.PositionID); err != nil {
		t.Fatalf("backdate exit: %v", err)
	}
}

func TestPositionLifecycle(t *testing.T) {
	s := newTestStore(t)

	pos := &Position{
		PositionID: "BTC_20250601_100000", Coin: "BTC", Side: SideLong,
		EntryPrice: 100000, QuantityUSD: 50, Leverage: 2,
	}
	if _, err := s.AppendPositionEntry(pos); err != nil {
		t.Fatalf("append: %v", err)
	}
	if pos.Status != PositionOpen {
		t.Errorf("status = %q, want open", pos.Status)
	}

	open, err := s.OpenPositions()
	if err != nil {
		t.Fatalf("open positions: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open count = %d, want 1", len(open))
	}

	byCoin, err := s.OpenPositionByCoin("BTC")
	if err != nil {
		t.Fatalf("by coin: %v", err)
	}
	if byCoin.PositionID != pos.PositionID {
		t.Errorf("by coin id = %q, want %q", byCoin.PositionID, pos.PositionID)
	}

	if _, err := s.OpenPositionByCoin("ETH"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing coin error = %v, want ErrNotFound", err)
	}

	if err := s.ClosePosition(pos.PositionID, 102000, 2); err != nil {
		t.Fatalf("close: %v", err)
	}

	closed, err := s.ClosedPositions(10)
	if err != nil {
		t.Fatalf("closed positions: %v", err)
	}
	if len(closed) != 1 {
		t.Fatalf("closed count = %d, want 1", len(closed))
	}
	got := closed[0]
	if got.ExitPrice == nil || *got.ExitPrice != 102000 {
		t.Errorf("exit price = %v, want 102000", got.ExitPrice)
	}
	if got.RealizedPnL == nil || *got.RealizedPnL != 2 {
		t.Errorf("realized pnl = %v, want 2", got.RealizedPnL)
	}
	if got.ExitTime == nil {
		t.Error("exit time missing")
	}

	// Closed rows are immutable.
	err = s.ClosePosition(pos.PositionID, 103000, 3)
	if err == nil {
		t.Fatal("double close should fail")
	}
	if !strings.Contains(err.Error(), "already") {
		t.Errorf("double close error = %q, want mention of already closed", err)
	}

	if err := s.ClosePosition("missing", 1, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("close missing error = %v, want ErrNotFound", err)
	}
}

func TestCountOpenPositions(t *testing.T) {
	s := newTestStore(t)

	for i, coin := range []string{"BTC", "ETH"} {
		pos := &Position{
			PositionID: coin + "_p", Coin: coin, Side: SideLong,
			EntryPrice: float64(1000 * (i + 1)), QuantityUSD: 10, Leverage: 1,
		}
		if _, err := s.AppendPositionEntry(pos); err != nil {
			t.Fatalf("append %s: %v", coin, err)
		}
	}

	n, err := s.CountOpenPositions()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("open count = %d, want 2", n)
	}
}

func TestRealizedPnLBetween(t *testing.T) {
	s := newTestStore(t)

	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	seedClosedPosition(t, s, "BTC", 50, 5, day.Add(2*time.Hour))
	seedClosedPosition(t, s, "ETH", 50, -3, day.Add(20*time.Hour))
	// Previous day, outside the window.
	seedClosedPosition(t, s, "SOL", 50, 100, day.Add(-2*time.Hour))

	got, err := s.RealizedPnLBetween(day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("pnl between: %v", err)
	}
	if got != 2 {
		t.Errorf("daily pnl = %v, want 2", got)
	}

	total, err := s.TotalRealizedPnL()
	if err != nil {
		t.Fatalf("total pnl: %v", err)
	}
	if total != 102 {
		t.Errorf("total pnl = %v, want 102", total)
	}
}

func TestSharpeRatio(t *testing.T) {
	t.Run("insufficient samples", func(t *testing.T) {
		s := newTestStore(t)
		seedClosedPosition(t, s, "BTC", 50, 2, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

		sharpe, err := s.SharpeRatio()
		if err != nil {
			t.Fatalf("sharpe: %v", err)
		}
		if sharpe != nil {
			t.Errorf("sharpe with one trade = %v, want nil", *sharpe)
		}
	})

	t.Run("zero variance", func(t *testing.T) {
		s := newTestStore(t)
		base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		seedClosedPosition(t, s, "BTC", 50, 2, base)
		seedClosedPosition(t, s, "ETH", 50, 2, base.Add(time.Hour))

		sharpe, err := s.SharpeRatio()
		if err != nil {
			t.Fatalf("sharpe: %v", err)
		}
		if sharpe != nil {
			t.Errorf("sharpe with identical returns = %v, want nil", *sharpe)
		}
	})

	t.Run("known value", func(t *testing.T) {
		s := newTestStore(t)
		base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		// Returns on margin: +4% and -2%. Mean 1, sample stddev sqrt(18).
		seedClosedPosition(t, s, "BTC", 50, 2, base)
		seedClosedPosition(t, s, "ETH", 50, -1, base.Add(time.Hour))

		sharpe, err := s.SharpeRatio()
		if err != nil {
			t.Fatalf("sharpe: %v", err)
		}
		if sharpe == nil {
			t.Fatal("sharpe = nil, want value")
		}
		want := 1.0 / math.Sqrt(18)
		if math.Abs(*sharpe-want) > 1e-9 {
			t.Errorf("sharpe = %v, want %v", *sharpe, want)
		}
	})
}

func TestTradeStatsSummary(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seedClosedPosition(t, s, "BTC", 50, 10, base)
	seedClosedPosition(t, s, "ETH", 50, -5, base.Add(time.Hour))
	seedClosedPosition(t, s, "SOL", 50, 20, base.Add(2*time.Hour))

	stats, err := s.TradeStatsSummary(100)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalTrades != 3 {
		t.Errorf("total trades = %d, want 3", stats.TotalTrades)
	}
	if stats.WinTrades != 2 || stats.LossTrades != 1 {
		t.Errorf("win/loss = %d/%d, want 2/1", stats.WinTrades, stats.LossTrades)
	}
	if stats.TotalPnL != 25 {
		t.Errorf("total pnl = %v, want 25", stats.TotalPnL)
	}
	if math.Abs(stats.WinRate-200.0/3) > 1e-9 {
		t.Errorf("win rate = %v, want %v", stats.WinRate, 200.0/3)
	}
	if stats.ProfitFactor != 6 {
		t.Errorf("profit factor = %v, want 6", stats.ProfitFactor)
	}
}
