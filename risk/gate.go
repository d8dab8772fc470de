// Package risk validates proposed trades against account limits before
// execution. Everything here is pure: callers pass a snapshot of the
// account and the active limits, and get back a verdict.
package risk

import (
	"errors"
	"fmt"
	"math"

	"perp-agent/decision"
)

// Soft-warning thresholds. Neither blocks a trade.
const (
	// liquidationWarnPct flags entries whose liquidation price sits
	// within this percentage of the entry price.
	liquidationWarnPct = 10.0

	// stopLossWarnPct flags stop losses that would burn more than this
	// percentage of the position's margin once leverage is applied.
	stopLossWarnPct = 50.0

	// DefaultLiquidationAlertPct is the distance at which an already
	// open position counts as approaching liquidation.
	DefaultLiquidationAlertPct = 20.0
)

// ErrInvalidLeverage is returned by LiquidationPrice for leverage <= 0.
var ErrInvalidLeverage = errors.New("leverage must be positive")

// View is the slice of account state the gate needs. The caller builds
// it from the ledger (paper) or the exchange (live) at decision time.
type View struct {
	AvailableBalance float64
	OpenCoins        map[string]bool
	OpenCount        int
	// DailyRealizedPnL sums realized_pnl over positions closed in the
	// current UTC day. Negative means a net loss.
	DailyRealizedPnL float64
}

// Limits are the operational bounds in force for this decision.
// MaxLeverage is the effective cap for the decision's coin, already
// reduced to the exchange's per-coin limit where that is lower.
type Limits struct {
	MinMarginUSD      float64
	MaxMarginUSD      float64
	MaxLeverage       float64
	DailyLossLimitUSD float64
	MaxOpenPositions  int
}

// Verdict is the outcome of validating one decision. Warnings are
// advisory only and may accompany an approved trade.
type Verdict struct {
	OK       bool
	Reason   string
	Warnings []string
}

func reject(format string, args ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks a decision against all trading limits. Hold passes
// unconditionally, close requires an open position, and entries run the
// full rule set in a fixed order so rejection reasons are stable.
func Validate(d *decision.Decision, currentPrice float64, view View, limits Limits) Verdict {
	switch {
	case d.Signal == decision.SignalHold:
		return Verdict{OK: true}

	case d.Signal == decision.SignalClose:
		if !view.OpenCoins[d.Coin] {
			return reject("Cannot close %s: no open position exists", d.Coin)
		}
		return Verdict{OK: true}

	case d.Signal.IsEntry():
		return validateEntry(d, currentPrice, view, limits)
	}

	return reject("Unknown signal type %q", d.Signal)
}

func validateEntry(d *decision.Decision, currentPrice float64, view View, limits Limits) Verdict {
	if d.QuantityUSD > limits.MaxMarginUSD {
		return reject("Position size $%.2f exceeds maximum $%.2f", d.QuantityUSD, limits.MaxMarginUSD)
	}
	if d.QuantityUSD < limits.MinMarginUSD {
		return reject("Position size $%.2f too small (minimum $%.2f)", d.QuantityUSD, limits.MinMarginUSD)
	}
	if d.Leverage <= 0 {
		return reject("Leverage must be positive")
	}
	if d.Leverage > limits.MaxLeverage {
		return reject("Leverage %gx exceeds maximum %gx", d.Leverage, limits.MaxLeverage)
	}
	if d.QuantityUSD > view.AvailableBalance {
		return reject("Insufficient balance: need $%.2f, available $%.2f", d.QuantityUSD, view.AvailableBalance)
	}
	if view.OpenCoins[d.Coin] {
		return reject("Position already open for %s. Close existing position before opening new one.", d.Coin)
	}
	if view.DailyRealizedPnL < -limits.DailyLossLimitUSD {
		return reject("Daily loss limit exceeded: $%.2f lost today (limit: $%.2f). Trading halted until next day.",
			math.Abs(view.DailyRealizedPnL), limits.DailyLossLimitUSD)
	}
	if limits.MaxOpenPositions > 0 && view.OpenCount >= limits.MaxOpenPositions {
		return reject("Maximum open positions reached (%d of %d). Close a position before opening new one.",
			view.OpenCount, limits.MaxOpenPositions)
	}

	return Verdict{OK: true, Warnings: entryWarnings(d, currentPrice)}
}

// entryWarnings collects the advisory checks for an approved entry.
func entryWarnings(d *decision.Decision, currentPrice float64) []string {
	var warnings []string
	side := d.Signal.Side()

	if liq, err := LiquidationPrice(currentPrice, d.Leverage, side); err == nil && currentPrice > 0 {
		distancePct := math.Abs(liq-currentPrice) / currentPrice * 100
		if distancePct < liquidationWarnPct {
			warnings = append(warnings, fmt.Sprintf(
				"HIGH LIQUIDATION RISK: %s %s %gx will liquidate at $%.2f (%.1f%% from entry)",
				d.Coin, side, d.Leverage, liq, distancePct))
		}
	}

	if sl := d.ExitPlan.StopLoss; sl != nil && currentPrice > 0 {
		lossPct := StopLossDistancePct(currentPrice, *sl, side) * d.Leverage
		if lossPct > stopLossWarnPct {
			warnings = append(warnings, fmt.Sprintf(
				"DANGEROUS STOP-LOSS: %s stop at $%.2f could lose %.1f%% of position capital",
				d.Coin, *sl, lossPct))
		}
	}

	return warnings
}

// LiquidationPrice is where a position's loss reaches 100% of its
// margin. With leverage L that is a 1/L move against the entry: long
// entry*(1 - 1/L), short entry*(1 + 1/L).
func LiquidationPrice(entryPrice, leverage float64, side string) (float64, error) {
	if leverage <= 0 {
		return 0, ErrInvalidLeverage
	}
	threshold := 1.0 / leverage
	if side == "long" {
		return entryPrice * (1 - threshold), nil
	}
	return entryPrice * (1 + threshold), nil
}

// ApproachingLiquidation reports whether the current price is within
// thresholdPct of the position's liquidation price. Pass
// DefaultLiquidationAlertPct unless a tighter alert is wanted.
func ApproachingLiquidation(entryPrice, leverage float64, side string, currentPrice, thresholdPct float64) bool {
	liq, err := LiquidationPrice(entryPrice, leverage, side)
	if err != nil || currentPrice <= 0 {
		return false
	}
	distancePct := math.Abs(liq-currentPrice) / currentPrice * 100
	return distancePct < thresholdPct
}

// StopLossDistancePct is the distance from entry to stop as a positive
// percentage of the entry price.
func StopLossDistancePct(entryPrice, stopLoss float64, side string) float64 {
	if entryPrice == 0 {
		return 0
	}
	var distancePct float64
	if side == "long" {
		distancePct = (entryPrice - stopLoss) / entryPrice * 100
	} else {
		distancePct = (stopLoss - entryPrice) / entryPrice * 100
	}
	return math.Abs(distancePct)
}
