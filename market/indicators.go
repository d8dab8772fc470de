package market

import (
	"math"

	"perp-agent/exchange"
)

// Indicator periods.
const (
	emaShort = 20
	emaLong  = 50
	rsiShort = 7
	rsiLong  = 14
	macdFast = 12
	macdSlow = 26
	macdSig  = 9
	atrShort = 3
	atrLong  = 14
	volSMA   = 20
)

// emaSeries returns the SMA-seeded exponential moving average of values.
// The first output row is the SMA of the first period inputs, so the
// result has len(values)-period+1 rows. Returns nil when there is not
// enough data.
func emaSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	var sum float64
	for _, v := range values[:period] {
		sum += v
	}
	ema := sum / float64(period)

	out := make([]float64, 0, len(values)-period+1)
	out = append(out, ema)

	alpha := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		ema = alpha*v + (1-alpha)*ema
		out = append(out, ema)
	}
	return out
}

// rsiSeries returns the Wilder-smoothed RSI of values. Needs period+1
// inputs for the first row; the result has len(values)-period rows.
func rsiSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period+1 {
		return nil
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out := make([]float64, 0, len(values)-period)
	out = append(out, rsiValue(avgGain, avgLoss))

	for i := period + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		var gain, loss float64
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// macdSeries returns the MACD line, signal line, and histogram. The MACD
// line starts once the slow EMA exists and the signal line a further
// signal-1 rows later, so the slices differ in length. All three are nil
// below slow+signal-1 inputs.
func macdSeries(values []float64, fast, slow, signal int) (macd, signalLine, hist []float64) {
	if len(values) < slow+signal-1 {
		return nil, nil, nil
	}

	fastEMA := emaSeries(values, fast)
	slowEMA := emaSeries(values, slow)

	offset := len(fastEMA) - len(slowEMA)
	macd = make([]float64, len(slowEMA))
	for i := range slowEMA {
		macd[i] = fastEMA[i+offset] - slowEMA[i]
	}

	signalLine = emaSeries(macd, signal)

	hist = make([]float64, len(signalLine))
	off := len(macd) - len(signalLine)
	for i := range signalLine {
		hist[i] = macd[i+off] - signalLine[i]
	}
	return macd, signalLine, hist
}

// atrSeries returns the Wilder-smoothed average true range. True range
// needs the previous close, so the first row requires period+1 candles
// and the result has len(closes)-period rows.
func atrSeries(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return nil
	}

	tr := make([]float64, n-1)
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i-1] = math.Max(hl, math.Max(hc, lc))
	}

	var sum float64
	for _, v := range tr[:period] {
		sum += v
	}
	atr := sum / float64(period)

	out := make([]float64, 0, len(tr)-period+1)
	out = append(out, atr)
	for _, v := range tr[period:] {
		atr = (atr*float64(period-1) + v) / float64(period)
		out = append(out, atr)
	}
	return out
}

// smaSeries returns the simple moving average, one row per full window.
func smaSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	out := make([]float64, 0, len(values)-period+1)
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

// computeSeries derives the full indicator set from raw candles. Any
// indicator without enough candles behind it stays empty.
func computeSeries(candles []exchange.Candle) Series {
	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, k := range candles {
		closes[i] = k.Close
		highs[i] = k.High
		lows[i] = k.Low
		volumes[i] = k.Volume
	}

	s := Series{
		Prices:      closes,
		EMA20:       emaSeries(closes, emaShort),
		EMA50:       emaSeries(closes, emaLong),
		RSI7:        rsiSeries(closes, rsiShort),
		RSI14:       rsiSeries(closes, rsiLong),
		ATR3:        atrSeries(highs, lows, closes, atrShort),
		ATR14:       atrSeries(highs, lows, closes, atrLong),
		Volume:      volumes,
		VolumeSMA20: smaSeries(volumes, volSMA),
	}
	s.MACD, s.MACDSignal, s.MACDHist = macdSeries(closes, macdFast, macdSlow, macdSig)
	return s
}
