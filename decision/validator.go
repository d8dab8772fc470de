package decision

import (
	"fmt"
	"strings"
)

const minJustificationLen = 10

// Validate enforces the response-schema invariants on a parsed decision.
// Per-coin leverage caps are checked separately by CheckLeverageCap so
// the caller can decide when the cap table is available.
func Validate(d *Decision) error {
	if len(d.Coin) < 3 {
		return fmt.Errorf("invalid coin symbol %q", d.Coin)
	}

	if d.QuantityUSD < 0 {
		return fmt.Errorf("quantity_usd %.2f is negative", d.QuantityUSD)
	}
	if d.QuantityUSD > MaxQuantityUSD {
		return fmt.Errorf("quantity_usd %.2f exceeds hard cap %.0f", d.QuantityUSD, MaxQuantityUSD)
	}

	if d.Leverage < 0 || d.Leverage > LeverageHardCap {
		return fmt.Errorf("leverage %gx outside [0, %g]", d.Leverage, LeverageHardCap)
	}
	if d.Signal.IsEntry() && d.Leverage <= 0 {
		return fmt.Errorf("leverage must be greater than 0 for entry signals")
	}

	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %g outside [0, 1]", d.Confidence)
	}

	if len(strings.TrimSpace(d.Justification)) < minJustificationLen {
		return fmt.Errorf("justification too short (minimum %d chars)", minJustificationLen)
	}

	if pt := d.ExitPlan.ProfitTarget; pt != nil && *pt < 0 {
		return fmt.Errorf("profit_target %.2f is negative", *pt)
	}
	if sl := d.ExitPlan.StopLoss; sl != nil && *sl < 0 {
		return fmt.Errorf("stop_loss %.2f is negative", *sl)
	}

	// Exit targets must sit on the correct side of each other.
	if pt, sl := d.ExitPlan.ProfitTarget, d.ExitPlan.StopLoss; pt != nil && sl != nil {
		switch d.Signal {
		case SignalBuyToEnter:
			if *sl >= *pt {
				return fmt.Errorf("stop loss %.2f is above profit target %.2f for long position", *sl, *pt)
			}
		case SignalSellToEnter:
			if *sl <= *pt {
				return fmt.Errorf("stop loss %.2f is below profit target %.2f for short position", *sl, *pt)
			}
		}
	}

	return nil
}

// CheckLeverageCap rejects decisions whose leverage exceeds the per-coin
// exchange cap. Coins missing from the table are not constrained here.
func CheckLeverageCap(d *Decision, limits map[string]float64) error {
	if !d.Signal.IsEntry() || limits == nil {
		return nil
	}
	limit, ok := limits[d.Coin]
	if !ok {
		return nil
	}
	if d.Leverage > limit {
		return fmt.Errorf("%w: %s allows %gx, decision wants %gx", ErrLeverageExceedsCap, d.Coin, limit, d.Leverage)
	}
	return nil
}
