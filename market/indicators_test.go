package market

import (
	"math"
	"testing"

	"perp-agent/exchange"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func assertSeries(t *testing.T, name string, got, want []float64, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %d rows, want %d (%v)", name, len(got), len(want), got)
	}
	for i := range want {
		if !almostEqual(got[i], want[i], tol) {
			t.Errorf("%s[%d] = %v, want %v", name, i, got[i], want[i])
		}
	}
}

func TestEMASeries(t *testing.T) {
	got := emaSeries([]float64{1, 2, 3, 4, 5}, 3)
	assertSeries(t, "ema3", got, []float64{2, 3, 4}, 1e-12)

	if emaSeries([]float64{1, 2}, 3) != nil {
		t.Error("ema with too little data should be nil")
	}
	if emaSeries(nil, 3) != nil {
		t.Error("ema of nil should be nil")
	}
}

// On a straight ramp the SMA seed already carries the steady-state lag
// of (period-1)/2, so every EMA row is exactly t - (period-1)/2.
func TestEMASeriesRamp(t *testing.T) {
	values := make([]float64, 30)
	for i := range values {
		values[i] = float64(i)
	}

	got := emaSeries(values, 5)
	if len(got) != 26 {
		t.Fatalf("got %d rows, want 26", len(got))
	}
	for i, v := range got {
		want := float64(i+4) - 2
		if !almostEqual(v, want, 1e-9) {
			t.Errorf("ema5[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestSMASeries(t *testing.T) {
	got := smaSeries([]float64{1, 2, 3, 4}, 2)
	assertSeries(t, "sma2", got, []float64{1.5, 2.5, 3.5}, 1e-12)

	if smaSeries([]float64{1}, 2) != nil {
		t.Error("sma with too little data should be nil")
	}
}

func TestRSISeries(t *testing.T) {
	t.Run("all gains", func(t *testing.T) {
		got := rsiSeries([]float64{1, 2, 3, 4, 5}, 3)
		assertSeries(t, "rsi3", got, []float64{100, 100}, 1e-12)
	})

	t.Run("mixed", func(t *testing.T) {
		// Deltas +1 -1 +2 -1. Seed: avgGain 1, avgLoss 1/3 -> RSI 75.
		// Next: avgGain 2/3, avgLoss 5/9 -> RS 1.2 -> RSI 54.5454...
		got := rsiSeries([]float64{10, 11, 10, 12, 11}, 3)
		assertSeries(t, "rsi3", got, []float64{75, 54.54545454545455}, 1e-6)
	})

	t.Run("not enough data", func(t *testing.T) {
		if rsiSeries([]float64{1, 2, 3}, 3) != nil {
			t.Error("rsi needs period+1 values")
		}
	})
}

func TestMACDSeries(t *testing.T) {
	t.Run("not enough data", func(t *testing.T) {
		macd, sig, hist := macdSeries(make([]float64, 33), 12, 26, 9)
		if macd != nil || sig != nil || hist != nil {
			t.Error("macd below slow+signal-1 rows should be all nil")
		}
	})

	t.Run("ramp", func(t *testing.T) {
		// Ramp EMAs sit exactly lag (period-1)/2 behind, so the MACD
		// line is the constant lag difference 12.5-5.5 = 7.
		values := make([]float64, 40)
		for i := range values {
			values[i] = float64(i)
		}

		macd, sig, hist := macdSeries(values, 12, 26, 9)
		if len(macd) != 15 || len(sig) != 7 || len(hist) != 7 {
			t.Fatalf("lengths = %d/%d/%d, want 15/7/7", len(macd), len(sig), len(hist))
		}
		for i, v := range macd {
			if !almostEqual(v, 7, 1e-9) {
				t.Errorf("macd[%d] = %v, want 7", i, v)
			}
		}
		for i := range sig {
			if !almostEqual(sig[i], 7, 1e-9) {
				t.Errorf("signal[%d] = %v, want 7", i, sig[i])
			}
			if !almostEqual(hist[i], 0, 1e-9) {
				t.Errorf("hist[%d] = %v, want 0", i, hist[i])
			}
		}
	})
}

func TestATRSeries(t *testing.T) {
	highs := []float64{10, 11, 12, 13}
	lows := []float64{8, 9, 10, 10}
	closes := []float64{9, 10, 11, 12}

	// True ranges 2, 2, 3. Seed (2+2)/2 = 2, then (2+3)/2 = 2.5.
	got := atrSeries(highs, lows, closes, 2)
	assertSeries(t, "atr2", got, []float64{2, 2.5}, 1e-12)

	if atrSeries(highs[:3], lows[:3], closes[:3], 3) != nil {
		t.Error("atr needs period+1 candles")
	}
	if atrSeries(highs[:2], lows, closes, 2) != nil {
		t.Error("mismatched input lengths should be nil")
	}
}

// Forty candles is enough for everything except the 50-period EMA, and
// each indicator's tail length follows from its warmup need.
func TestComputeSeriesWarmup(t *testing.T) {
	candles := make([]exchange.Candle, 40)
	for i := range candles {
		c := 100 + float64(i)
		candles[i] = exchange.Candle{
			Open:   c - 1,
			Close:  c,
			High:   c + 2,
			Low:    c - 2,
			Volume: 10,
		}
	}

	s := computeSeries(candles)

	lengths := []struct {
		name string
		got  int
		want int
	}{
		{"prices", len(s.Prices), 40},
		{"volume", len(s.Volume), 40},
		{"ema20", len(s.EMA20), 21},
		{"ema50", len(s.EMA50), 0},
		{"rsi7", len(s.RSI7), 33},
		{"rsi14", len(s.RSI14), 26},
		{"macd", len(s.MACD), 15},
		{"macd_signal", len(s.MACDSignal), 7},
		{"macd_hist", len(s.MACDHist), 7},
		{"atr3", len(s.ATR3), 37},
		{"atr14", len(s.ATR14), 26},
		{"volume_sma20", len(s.VolumeSMA20), 21},
	}
	for _, l := range lengths {
		if l.got != l.want {
			t.Errorf("%s: %d rows, want %d", l.name, l.got, l.want)
		}
	}

	// Constant volume means the SMA is flat at the same value.
	for i, v := range s.VolumeSMA20 {
		if !almostEqual(v, 10, 1e-12) {
			t.Errorf("volume_sma20[%d] = %v, want 10", i, v)
		}
	}
}
