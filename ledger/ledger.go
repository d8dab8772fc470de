// Package ledger tracks the paper account: cash balance, open
// positions, and realized P&L. Every mutation writes through the store
// first so a crash never leaves the database behind the in-memory
// state.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"perp-agent/logger"
	"perp-agent/risk"
	"perp-agent/store"
)

var (
	ErrNoPosition          = errors.New("no open position")
	ErrPositionAlreadyOpen = errors.New("position already open")
)

// Ledger is the in-memory mirror of the paper account. Safe for
// concurrent use; the cycle engine mutates it while the HTTP layer
// reads summaries.
type Ledger struct {
	mu    sync.RWMutex
	store *store.Store
	log   zerolog.Logger

	initialBalance float64
	balance        float64
	realizedPnL    float64
	positions      map[string]*store.Position
}

// New creates a ledger with the given starting balance, then restores
// the latest persisted balance and any open positions. A fresh or
// unreadable database starts the account at initialBalance.
func New(st *store.Store, initialBalance float64) *Ledger {
	l := &Ledger{
		store:          st,
		log:            logger.Component("ledger"),
		initialBalance: initialBalance,
		balance:        initialBalance,
		positions:      make(map[string]*store.Position),
	}
	l.restore()
	return l
}

func (l *Ledger) restore() {
	snap, err := l.store.LatestAccountSnapshot()
	if err != nil {
		l.log.Warn().Err(err).Msg("could not load account state, starting fresh")
	} else if snap != nil {
		l.balance = snap.BalanceUSD
		l.realizedPnL = snap.RealizedPnL
	}

	open, err := l.store.OpenPositions()
	if err != nil {
		l.log.Warn().Err(err).Msg("could not load open positions")
		return
	}
	for i := range open {
		p := open[i]
		l.positions[p.Coin] = &p
	}

	if snap != nil || len(open) > 0 {
		l.log.Info().
			Float64("balance", l.balance).
			Float64("realized_pnl", l.realizedPnL).
			Int("open_positions", len(l.positions)).
			Msg("restored account state")
	}
}

// PositionPnL is the unrealized P&L of a position at the given price.
// Notional units are fixed at entry: units = margin * leverage / entry.
func PositionPnL(p *store.Position, currentPrice float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	units := (p.QuantityUSD * p.Leverage) / p.EntryPrice
	if p.Side == store.SideShort {
		return (p.EntryPrice - currentPrice) * units
	}
	return (currentPrice - p.EntryPrice) * units
}

// AvailableBalance is the cash not committed as margin.
func (l *Ledger) AvailableBalance() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance
}

// InitialBalance is the configured starting balance.
func (l *Ledger) InitialBalance() float64 {
	return l.initialBalance
}

// RealizedPnL is the running total from closed positions this session,
// including restored state.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.realizedPnL
}

// UnrealizedPnL sums open-position P&L at the given prices. Positions
// whose coin is missing from prices contribute zero.
func (l *Ledger) UnrealizedPnL(prices map[string]float64) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.unrealizedLocked(prices)
}

func (l *Ledger) unrealizedLocked(prices map[string]float64) float64 {
	var total float64
	for coin, p := range l.positions {
		if price, ok := prices[coin]; ok {
			total += PositionPnL(p, price)
		}
	}
	return total
}

// Equity is balance plus unrealized P&L.
func (l *Ledger) Equity(prices map[string]float64) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance + l.unrealizedLocked(prices)
}

// CanOpen reports whether a position of the given margin can be opened
// right now, with a reason when it cannot.
func (l *Ledger) CanOpen(quantityUSD, leverage float64) (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if leverage <= 0 {
		return false, "leverage must be positive"
	}
	if quantityUSD > l.balance {
		return false, fmt.Sprintf("insufficient balance: need $%.2f, available $%.2f", quantityUSD, l.balance)
	}
	return true, ""
}

// Open commits quantityUSD margin to a new position. The position is
// persisted before the balance moves; a storage error leaves the
// account untouched.
func (l *Ledger) Open(coin, side string, entryPrice, quantityUSD, leverage float64, decisionID int64) (*store.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.positions[coin]; exists {
		return nil, fmt.Errorf("%w for %s", ErrPositionAlreadyOpen, coin)
	}
	if quantityUSD > l.balance {
		return nil, fmt.Errorf("insufficient balance: need $%.2f, available $%.2f", quantityUSD, l.balance)
	}

	now := time.Now().UTC()
	p := &store.Position{
		PositionID:  positionID(coin, now),
		Coin:        coin,
		Side:        side,
		EntryTime:   now,
		EntryPrice:  entryPrice,
		QuantityUSD: quantityUSD,
		Leverage:    leverage,
		Status:      store.PositionOpen,
	}
	if decisionID > 0 {
		p.DecisionID = &decisionID
	}

	if _, err := l.store.AppendPositionEntry(p); err != nil {
		return nil, fmt.Errorf("persist position: %w", err)
	}

	l.balance -= quantityUSD
	l.positions[coin] = p

	l.log.Info().
		Str("coin", coin).
		Str("side", side).
		Float64("entry_price", entryPrice).
		Float64("margin", quantityUSD).
		Float64("leverage", leverage).
		Float64("balance", l.balance).
		Msg("opened position")

	return p, nil
}

// positionID builds the durable identifier, e.g. BTC_20250601_120003.
func positionID(coin string, t time.Time) string {
	base := coin
	if i := strings.IndexByte(coin, '/'); i > 0 {
		base = coin[:i]
	}
	return fmt.Sprintf("%s_%s", base, t.Format("20060102_150405"))
}

// Close exits the open position for coin at exitPrice and returns the
// realized P&L. Margin plus P&L flows back to the balance.
func (l *Ledger) Close(coin string, exitPrice float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked(coin, exitPrice)
}

func (l *Ledger) closeLocked(coin string, exitPrice float64) (float64, error) {
	p, exists := l.positions[coin]
	if !exists {
		return 0, fmt.Errorf("%w for %s", ErrNoPosition, coin)
	}

	pnl := PositionPnL(p, exitPrice)
	if err := l.store.ClosePosition(p.PositionID, exitPrice, pnl); err != nil {
		return 0, fmt.Errorf("persist close: %w", err)
	}

	l.balance += p.QuantityUSD + pnl
	l.realizedPnL += pnl
	delete(l.positions, coin)

	l.log.Info().
		Str("coin", coin).
		Str("side", p.Side).
		Float64("exit_price", exitPrice).
		Float64("realized_pnl", pnl).
		Float64("balance", l.balance).
		Msg("closed position")

	return pnl, nil
}

// CheckLiquidation force-closes every open position whose price has
// crossed its liquidation level, settling at exactly that level so the
// loss equals the committed margin. Returns the closed position IDs.
func (l *Ledger) CheckLiquidation(prices map[string]float64) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var liquidated []string
	for coin, p := range l.positions {
		price, ok := prices[coin]
		if !ok {
			continue
		}
		liq, err := risk.LiquidationPrice(p.EntryPrice, p.Leverage, p.Side)
		if err != nil {
			continue
		}

		crossed := (p.Side == store.SideLong && price <= liq) ||
			(p.Side == store.SideShort && price >= liq)
		if !crossed {
			continue
		}

		id := p.PositionID
		l.log.Warn().
			Str("coin", coin).
			Str("side", p.Side).
			Float64("price", price).
			Float64("liquidation_price", liq).
			Msg("position liquidated")

		if _, err := l.closeLocked(coin, liq); err != nil {
			l.log.Error().Err(err).Str("coin", coin).Msg("liquidation close failed")
			continue
		}
		liquidated = append(liquidated, id)
	}
	return liquidated
}

// Sharpe is the per-trade Sharpe ratio over closed positions, nil with
// fewer than two samples or zero variance.
func (l *Ledger) Sharpe() *float64 {
	sharpe, err := l.store.SharpeRatio()
	if err != nil {
		l.log.Warn().Err(err).Msg("sharpe calculation failed")
		return nil
	}
	return sharpe
}

// DailyRealizedPnL sums realized P&L of positions closed in the current
// UTC day. Errors degrade to zero so a storage hiccup never halts
// trading by itself.
func (l *Ledger) DailyRealizedPnL() float64 {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	pnl, err := l.store.RealizedPnLBetween(start, start.Add(24*time.Hour))
	if err != nil {
		l.log.Warn().Err(err).Msg("daily pnl query failed")
		return 0
	}
	return pnl
}

// SaveState appends an account snapshot at the given prices.
func (l *Ledger) SaveState(prices map[string]float64) error {
	l.mu.RLock()
	snap := &store.AccountSnapshot{
		Timestamp:     time.Now().UTC(),
		BalanceUSD:    l.balance,
		EquityUSD:     l.balance + l.unrealizedLocked(prices),
		UnrealizedPnL: l.unrealizedLocked(prices),
		RealizedPnL:   l.realizedPnL,
		NumPositions:  len(l.positions),
	}
	l.mu.RUnlock()

	snap.SharpeRatio = l.Sharpe()
	return l.store.AppendAccountSnapshot(snap)
}

// Position returns a copy of the open position for coin.
func (l *Ledger) Position(coin string) (store.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[coin]
	if !ok {
		return store.Position{}, false
	}
	return *p, true
}

// Positions returns copies of all open positions.
func (l *Ledger) Positions() []store.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]store.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// OpenCoins is the set of coins with an open position.
func (l *Ledger) OpenCoins() map[string]bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	coins := make(map[string]bool, len(l.positions))
	for coin := range l.positions {
		coins[coin] = true
	}
	return coins
}

// OpenCount is the number of open positions.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}
