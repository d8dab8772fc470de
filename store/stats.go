package store

import "math"

// sharpeWindow bounds how many closed trades feed the Sharpe ratio.
const sharpeWindow = 500

// TradeStats summarizes closed-trade performance for the account view.
type TradeStats struct {
	TotalTrades  int      `json:"total_trades"`
	WinTrades    int      `json:"win_trades"`
	LossTrades   int      `json:"loss_trades"`
	WinRate      float64  `json:"win_rate"`
	TotalPnL     float64  `json:"total_pnl"`
	AvgWin       float64  `json:"avg_win"`
	AvgLoss      float64  `json:"avg_loss"`
	ProfitFactor float64  `json:"profit_factor"`
	SharpeRatio  *float64 `json:"sharpe_ratio,omitempty"`
}

// SharpeRatio computes the per-trade Sharpe over recent closed trades.
// Each sample is the percent return on committed margin; the figure is
// not time-weighted, so it should not be compared across very different
// holding-period mixes. Returns nil with fewer than two samples or zero
// variance.
func (s *Store) SharpeRatio() (*float64, error) {
	closed, err := s.ClosedPositions(sharpeWindow)
	if err != nil {
		return nil, err
	}
	return sharpeOf(tradeReturns(closed)), nil
}

// TradeStatsSummary aggregates closed positions into performance stats.
func (s *Store) TradeStatsSummary(limit int) (*TradeStats, error) {
	closed, err := s.ClosedPositions(limit)
	if err != nil {
		return nil, err
	}

	stats := &TradeStats{}
	var totalWin, totalLoss float64
	for _, p := range closed {
		if p.RealizedPnL == nil {
			continue
		}
		pnl := *p.RealizedPnL
		stats.TotalTrades++
		stats.TotalPnL += pnl
		if pnl > 0 {
			stats.WinTrades++
			totalWin += pnl
		} else {
			stats.LossTrades++
			totalLoss += math.Abs(pnl)
		}
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinTrades) / float64(stats.TotalTrades) * 100
	}
	if totalLoss > 0 {
		stats.ProfitFactor = totalWin / totalLoss
	}
	if stats.WinTrades > 0 {
		stats.AvgWin = totalWin / float64(stats.WinTrades)
	}
	if stats.LossTrades > 0 {
		stats.AvgLoss = totalLoss / float64(stats.LossTrades)
	}
	stats.SharpeRatio = sharpeOf(tradeReturns(closed))

	return stats, nil
}

// tradeReturns converts closed positions to percent returns on margin.
func tradeReturns(closed []Position) []float64 {
	var returns []float64
	for _, p := range closed {
		if p.RealizedPnL == nil || p.QuantityUSD <= 0 {
			continue
		}
		returns = append(returns, *p.RealizedPnL/p.QuantityUSD*100)
	}
	return returns
}

func sharpeOf(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	stdDev := math.Sqrt(variance)

	if stdDev == 0 {
		return nil
	}
	sharpe := mean / stdDev
	return &sharpe
}
