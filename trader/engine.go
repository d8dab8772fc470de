// Package trader drives the trading loop: one decision cycle at a time,
// scheduled by an on-disk control token the operator flips through the
// control plane or Telegram.
package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"perp-agent/ai"
	"perp-agent/cache"
	"perp-agent/config"
	"perp-agent/decision"
	"perp-agent/events"
	"perp-agent/exchange"
	"perp-agent/ledger"
	"perp-agent/logger"
	"perp-agent/market"
	"perp-agent/metrics"
	"perp-agent/notify"
	"perp-agent/risk"
	"perp-agent/store"
)

const (
	// Token polls: 1s chunks while sleeping, 100ms for the final
	// fraction, 1s while paused.
	sleepChunk    = time.Second
	pollInterval  = 100 * time.Millisecond
	pauseInterval = time.Second

	// cycleTimeout bounds one full cycle including model retries.
	cycleTimeout = 15 * time.Minute

	fetchRetryWait = 2 * time.Second

	recentTradesLimit    = 10
	recentDecisionsLimit = 5
)

// MarketSource is the slice of the market provider the engine consumes.
type MarketSource interface {
	Fetch(ctx context.Context, coin string) (*market.Data, error)
	Mids(ctx context.Context, coins []string) (map[string]float64, error)
}

// Decider produces one validated decision from a prompt context.
type Decider interface {
	MakeDecision(ctx context.Context, pb *decision.PromptBuilder, pctx *decision.Context) (*decision.Decision, error)
}

// Deps bundles the engine's collaborators. Ledger is nil in live mode;
// Cache, Hub and Notifier may be nil or disabled.
type Deps struct {
	Config   *config.Config
	Store    *store.Store
	Ledger   *ledger.Ledger
	Adapter  exchange.Adapter
	Market   MarketSource
	Decider  Decider
	AI       ai.Client
	Cache    *cache.Cache
	Hub      *events.Hub
	Notifier *notify.Notifier
	Control  *Control
}

// Engine executes trading cycles. It is single-threaded: exactly one
// cycle runs at a time, and control-token transitions are only observed
// between cycles.
type Engine struct {
	cfg      *config.Config
	st       *store.Store
	ledger   *ledger.Ledger
	adapter  exchange.Adapter
	provider MarketSource
	decider  Decider
	ai       ai.Client
	cache    *cache.Cache
	hub      *events.Hub
	notifier *notify.Notifier
	control  *Control
	log      zerolog.Logger

	mu        sync.RWMutex
	running   bool
	startTime time.Time
	settings  store.BotSettings
	nextCycle time.Time
}

func NewEngine(deps Deps) *Engine {
	return &Engine{
		cfg:       deps.Config,
		st:        deps.Store,
		ledger:    deps.Ledger,
		adapter:   deps.Adapter,
		provider:  deps.Market,
		decider:   deps.Decider,
		ai:        deps.AI,
		cache:     deps.Cache,
		hub:       deps.Hub,
		notifier:  deps.Notifier,
		control:   deps.Control,
		log:       logger.Component("trader"),
		startTime: time.Now(),
		settings:  store.DefaultBotSettings(deps.Config.MaxPositionSizeUSD, deps.Config.IntervalSeconds),
	}
}

// SetNotifier attaches the Telegram notifier. The notifier is built
// after the manager (its commands call back into it), so it cannot be
// part of Deps. Call before Run.
func (e *Engine) SetNotifier(n *notify.Notifier) {
	e.notifier = n
}

// IsRunning reports whether the loop goroutine is inside Run.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Run drives the trading loop until the control token reads stopped or
// the context is cancelled. It may be called again after it returns.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	e.running = true
	e.startTime = time.Now()
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	e.log.Info().
		Str("mode", e.adapter.Mode()).
		Strs("assets", e.cfg.TradingAssets).
		Msg("trading loop started")

	wasPaused := false
	for {
		select {
		case <-ctx.Done():
			e.recordStatus(store.StatusStopped, "process shutting down", "")
			return ctx.Err()
		default:
		}

		switch e.control.State() {
		case StateStopped:
			e.recordStatus(store.StatusStopped, "stopped by operator", "")
			e.log.Info().Msg("trading loop stopped")
			return nil

		case StatePaused:
			if !wasPaused {
				e.recordStatus(store.StatusPaused, "paused by operator", "")
				e.notifier.Paused()
				wasPaused = true
			}
			select {
			case <-ctx.Done():
			case <-e.control.Signal():
			case <-time.After(pauseInterval):
			}

		case StateRunning:
			if wasPaused {
				e.recordStatus(store.StatusRunning, "resumed by operator", "")
				e.notifier.Resumed()
				wasPaused = false
			}
			e.RunCycle(ctx)
			e.sleepUntil(ctx, e.nextCycleAt())
		}
	}
}

// sleepUntil waits for the next cycle in token-checking chunks: 1s
// while more than a second remains, then 100ms. Returns early when the
// token leaves running or the context ends; the caller's state machine
// picks the transition up.
func (e *Engine) sleepUntil(ctx context.Context, next time.Time) {
	for {
		if e.control.State() != StateRunning {
			return
		}
		remaining := time.Until(next)
		if remaining <= 0 {
			return
		}

		step := sleepChunk
		if remaining < sleepChunk {
			step = pollInterval
			if remaining < step {
				step = remaining
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-e.control.Signal():
		case <-time.After(step):
		}
	}
}

// RunCycle executes one full cycle and schedules the next. Every return
// path advances next_cycle_time so the dashboard countdown never goes
// stale, and leaves at least one status row behind.
func (e *Engine) RunCycle(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	start := time.Now()
	err := e.cycle(cctx)
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CycleErrors.Inc()
		e.log.Error().Err(err).Msg("cycle failed")
		e.notifier.CycleError(err)
	} else {
		metrics.CyclesTotal.Inc()
	}

	next := time.Now().Add(e.cycleInterval())
	if serr := e.st.SetNextCycleTime(next); serr != nil {
		e.log.Error().Err(serr).Msg("persist next cycle time")
	}
	e.mu.Lock()
	e.nextCycle = next
	e.mu.Unlock()

	return err
}

func (e *Engine) cycle(ctx context.Context) error {
	cycleStart := time.Now()
	e.log.Info().Msg("cycle started")

	// 1. Settings may have been changed from the dashboard since the
	// last cycle; reload every time.
	settings, err := e.st.BotSettings(e.defaultSettings())
	if err != nil {
		return e.cycleError("load settings", err)
	}
	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()

	// 2. Account state and the coin set: configured assets plus every
	// coin holding an open position, so positions are never orphaned.
	state, err := e.adapter.AccountState(ctx, nil)
	if err != nil {
		return e.cycleError("account state", err)
	}
	coins := e.coinSet(state)

	// 3. Market snapshot per coin.
	data := make(map[string]*market.Data, len(coins))
	prices := make(map[string]float64, len(coins))
	for _, coin := range coins {
		d, err := e.fetchMarket(ctx, coin)
		if err != nil {
			return e.cycleError(fmt.Sprintf("market data for %s", coin), err)
		}
		data[coin] = d
		prices[coin] = d.CurrentPrice
	}

	// 4. Pre-flight: a drained account with nothing open cannot trade,
	// so skip the model call entirely.
	if state.Balance < settings.MinBalanceUSD && len(state.Positions) == 0 {
		msg := fmt.Sprintf("insufficient balance: $%.2f below threshold $%.2f",
			state.Balance, settings.MinBalanceUSD)
		e.recordStatus(store.StatusPaused, msg, "")
		e.log.Warn().Float64("balance", state.Balance).Msg("cycle skipped, balance below threshold")
		return nil
	}

	// 5. Paper positions crossing their liquidation price settle before
	// anything else sees the account.
	if e.ledger != nil {
		open := e.ledger.Positions()
		for _, id := range e.ledger.CheckLiquidation(prices) {
			e.noteLiquidation(open, id)
		}
	}
	state, err = e.adapter.AccountState(ctx, prices)
	if err != nil {
		return e.cycleError("account state", err)
	}

	// 6-8. History, operator guidance, leverage caps, prompts.
	caps := e.leverageTable(ctx, coins)
	pctx, err := e.buildContext(state, data, prices, caps)
	if err != nil {
		return e.cycleError("build prompt context", err)
	}

	pb := decision.NewPromptBuilder(settings.PromptPreset, e.constraints(settings))

	// 9-10. Model call and parse. Parse failures leave only a status
	// row; no decision is recorded.
	llmStart := time.Now()
	d, err := e.decider.MakeDecision(ctx, pb, pctx)
	metrics.LLMDuration.Observe(time.Since(llmStart).Seconds())
	if err != nil {
		if errors.Is(err, decision.ErrModelUnavailable) {
			metrics.LLMErrors.Inc()
		}
		return e.cycleError("decision", err)
	}

	// 11. Hold against an open position displays that position's size.
	if d.Signal == decision.SignalHold {
		if pos := findPosition(state, d.Coin); pos != nil {
			d.QuantityUSD = pos.QuantityUSD
			d.Leverage = pos.Leverage
		}
	}

	// 12. The decision row is inserted before execution begins; its
	// execution_status is finalized exactly once afterwards.
	decisionID, err := e.st.AppendDecision(toStoreDecision(d))
	if err != nil {
		return e.cycleError("persist decision", err)
	}
	e.log.Info().
		Int64("decision_id", decisionID).
		Str("coin", d.Coin).
		Str("signal", string(d.Signal)).
		Float64("confidence", d.Confidence).
		Msg(decision.Summary(d))

	// 13. Risk gate. A decision for a coin outside the analyzed set has
	// no trustworthy price and is skipped the same way.
	price := prices[d.Coin]
	verdict := e.validate(d, price, state, settings, caps)
	if price == 0 && d.Signal != decision.SignalHold {
		verdict = risk.Verdict{Reason: fmt.Sprintf("no market data for %s", d.Coin)}
	}
	if !verdict.OK {
		metrics.RiskRejections.Inc()
		metrics.DecisionsTotal.WithLabelValues(string(d.Signal), store.ExecSkipped).Inc()
		if err := e.st.SetDecisionExecution(decisionID, store.ExecSkipped, verdict.Reason); err != nil {
			e.log.Error().Err(err).Int64("decision_id", decisionID).Msg("mark decision skipped")
		}
		e.recordStatus(store.StatusRunning, fmt.Sprintf("skipped %s: %s", decision.Summary(d), verdict.Reason), "")
		e.publishDecision(d, decisionID, store.ExecSkipped, verdict.Reason)
		e.log.Warn().Str("reason", verdict.Reason).Msg("decision rejected by risk gate")
		return nil
	}
	for _, w := range verdict.Warnings {
		e.log.Warn().Str("coin", d.Coin).Msg(w)
	}

	// 14. Execute and finalize.
	execStatus, execErr := e.execute(ctx, d, decisionID, price)
	if err := e.st.SetDecisionExecution(decisionID, execStatus, execErr); err != nil {
		e.log.Error().Err(err).Int64("decision_id", decisionID).Msg("finalize decision")
	}
	metrics.DecisionsTotal.WithLabelValues(string(d.Signal), execStatus).Inc()
	e.publishDecision(d, decisionID, execStatus, execErr)

	// 15. Snapshot and status.
	state, err = e.adapter.AccountState(ctx, prices)
	if err != nil {
		return e.cycleError("account state", err)
	}
	if err := e.snapshot(ctx, state, prices); err != nil {
		return e.cycleError("account snapshot", err)
	}

	if execStatus == store.ExecFailed {
		e.recordStatus(store.StatusError, fmt.Sprintf("execution failed: %s", decision.Summary(d)), execErr)
	} else {
		e.recordStatus(store.StatusRunning, fmt.Sprintf("executed %s", decision.Summary(d)), "")
	}

	// Positions near liquidation get surfaced every cycle until they
	// close or recover.
	open := openRiskPositions(state)
	for _, ar := range risk.PositionsAtRisk(open, prices, risk.DefaultLiquidationAlertPct) {
		e.log.Warn().
			Str("coin", ar.Coin).
			Str("side", ar.Side).
			Float64("liquidation_price", ar.LiquidationPrice).
			Float64("distance_pct", ar.DistancePct).
			Float64("unrealized_pnl", ar.UnrealizedPnL).
			Msg("position approaching liquidation")
	}

	e.log.Info().
		Dur("elapsed", time.Since(cycleStart)).
		Str("execution_status", execStatus).
		Float64("exposure_usd", risk.PortfolioExposure(open)).
		Msg("cycle complete")
	return nil
}

func openRiskPositions(state *exchange.AccountState) []risk.OpenPosition {
	out := make([]risk.OpenPosition, 0, len(state.Positions))
	for _, p := range state.Positions {
		out = append(out, risk.OpenPosition{
			PositionID:  p.PositionID,
			Coin:        p.Coin,
			Side:        p.Side,
			EntryPrice:  p.EntryPrice,
			QuantityUSD: p.QuantityUSD,
			Leverage:    p.Leverage,
		})
	}
	return out
}

// execute performs the decision's trade and reports the execution
// status plus provider error. Hold executes trivially.
func (e *Engine) execute(ctx context.Context, d *decision.Decision, decisionID int64, price float64) (string, string) {
	switch d.Signal {
	case decision.SignalHold:
		return store.ExecSuccess, ""

	case decision.SignalClose:
		fill, err := e.adapter.Close(ctx, d.Coin, price)
		if err != nil {
			return store.ExecFailed, err.Error()
		}
		pnl := e.settleClose(d.Coin, fill)
		e.notifier.TradeClosed(d.Coin, fill.Price, pnl)
		e.publish(events.Event{Type: events.TypeTrade, Coin: d.Coin, Message: "position closed", Data: fill})
		return store.ExecSuccess, ""

	default:
		fill, err := e.adapter.Open(ctx, exchange.OpenRequest{
			Coin:        d.Coin,
			IsBuy:       d.Signal == decision.SignalBuyToEnter,
			QuantityUSD: d.QuantityUSD,
			Leverage:    d.Leverage,
			Price:       price,
			Slippage:    exchange.DefaultSlippage,
			DecisionID:  decisionID,
		})
		if err != nil {
			return store.ExecFailed, err.Error()
		}
		e.recordLiveEntry(d, decisionID, fill)
		e.notifier.TradeOpened(d.Coin, fill.Side, d.QuantityUSD, d.Leverage, fill.Price)
		e.publish(events.Event{Type: events.TypeTrade, Coin: d.Coin, Message: "position opened", Data: fill})
		return store.ExecSuccess, ""
	}
}

// settleClose resolves the realized pnl of a close fill. Paper fills
// carry it; live fills settle the store's recorded entry at the fill
// price. Exchange-native positions we never recorded stay untracked
// rather than being synthesized with a made-up entry time.
func (e *Engine) settleClose(coin string, fill *exchange.Fill) float64 {
	if fill.RealizedPnL != nil {
		return *fill.RealizedPnL
	}

	pos, err := e.st.OpenPositionByCoin(coin)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.log.Error().Err(err).Str("coin", coin).Msg("look up closing position")
		}
		return 0
	}
	pnl := ledger.PositionPnL(pos, fill.Price)
	if err := e.st.ClosePosition(pos.PositionID, fill.Price, pnl); err != nil {
		e.log.Error().Err(err).Str("position_id", pos.PositionID).Msg("close recorded position")
	}
	return pnl
}

// recordLiveEntry persists a live fill as a fresh position row. Paper
// entries are already written through the ledger.
func (e *Engine) recordLiveEntry(d *decision.Decision, decisionID int64, fill *exchange.Fill) {
	if e.ledger != nil {
		return
	}
	p := &store.Position{
		PositionID:  fmt.Sprintf("%s_%s", exchange.NativeSymbol(d.Coin), uuid.NewString()[:8]),
		Coin:        d.Coin,
		Side:        fill.Side,
		EntryTime:   time.Now().UTC(),
		EntryPrice:  fill.Price,
		QuantityUSD: d.QuantityUSD,
		Leverage:    d.Leverage,
		DecisionID:  &decisionID,
	}
	if _, err := e.st.AppendPositionEntry(p); err != nil {
		e.log.Error().Err(err).Str("coin", d.Coin).Msg("record live entry")
	}
}

func (e *Engine) noteLiquidation(open []store.Position, positionID string) {
	for _, p := range open {
		if p.PositionID != positionID {
			continue
		}
		loss := -p.QuantityUSD
		e.log.Warn().
			Str("coin", p.Coin).
			Str("position_id", positionID).
			Float64("realized_pnl", loss).
			Msg("position liquidated")
		e.notifier.Liquidated(p.Coin, loss)
		e.publish(events.Event{Type: events.TypeTrade, Coin: p.Coin, Message: "position liquidated", Data: p})
		return
	}
}

// snapshot persists the post-cycle account state and refreshes gauges,
// the Redis mirror the dashboard reads, and the SSE stream.
func (e *Engine) snapshot(ctx context.Context, state *exchange.AccountState, prices map[string]float64) error {
	if e.ledger != nil {
		if err := e.ledger.SaveState(prices); err != nil {
			return err
		}
	} else {
		realized, err := e.st.TotalRealizedPnL()
		if err != nil {
			return err
		}
		sharpe, err := e.st.SharpeRatio()
		if err != nil {
			e.log.Error().Err(err).Msg("sharpe ratio")
		}
		snap := &store.AccountSnapshot{
			BalanceUSD:    state.Balance,
			EquityUSD:     state.Equity,
			UnrealizedPnL: state.UnrealizedPnL,
			RealizedPnL:   realized,
			TotalPnL:      state.UnrealizedPnL + realized,
			SharpeRatio:   sharpe,
			NumPositions:  len(state.Positions),
		}
		if err := e.st.AppendAccountSnapshot(snap); err != nil {
			return err
		}
	}

	metrics.Balance.Set(state.Balance)
	metrics.Equity.Set(state.Equity)
	metrics.OpenPositions.Set(float64(len(state.Positions)))

	if e.cache != nil {
		e.cache.Set(ctx, cache.AccountStateKey, state, cache.AccountStateTTL)
	}
	e.publish(events.Event{Type: events.TypeAccount, Data: state})
	return nil
}

// buildContext assembles the point-in-time prompt context: market
// snapshots, account view, trade history, operator guidance, and the
// per-coin leverage table.
func (e *Engine) buildContext(state *exchange.AccountState, data map[string]*market.Data, prices map[string]float64, caps map[string]float64) (*decision.Context, error) {
	closed, err := e.st.ClosedPositions(recentTradesLimit)
	if err != nil {
		return nil, fmt.Errorf("closed positions: %w", err)
	}
	recent, err := e.st.RecentDecisions(recentDecisionsLimit)
	if err != nil {
		return nil, fmt.Errorf("recent decisions: %w", err)
	}

	snapshots := make(map[string]*decision.MarketSnapshot, len(data))
	for coin, d := range data {
		snapshots[coin] = toSnapshot(d)
	}

	return &decision.Context{
		Now:               time.Now().UTC(),
		MinutesSinceStart: int(time.Since(e.startedAt()).Minutes()),
		OperatorGuidance:  e.operatorGuidance(),
		LeverageLimits:    caps,
		Market:            snapshots,
		Account:           e.accountView(state, prices),
		RecentTrades:      toClosedTrades(closed),
		RecentDecisions:   toDecisionSummaries(recent),
	}, nil
}

func (e *Engine) accountView(state *exchange.AccountState, prices map[string]float64) decision.AccountView {
	view := decision.AccountView{
		AvailableBalance: state.Balance,
		Equity:           state.Equity,
	}

	if e.ledger != nil {
		view.SharpeRatio = e.ledger.Sharpe()
		if initial := e.ledger.InitialBalance(); initial > 0 {
			view.TotalReturnPct = (state.Equity - initial) / initial * 100
		}
	} else {
		if sharpe, err := e.st.SharpeRatio(); err == nil {
			view.SharpeRatio = sharpe
		}
		// No fixed starting balance on live accounts; return is
		// relative to equity net of accumulated pnl.
		realized, err := e.st.TotalRealizedPnL()
		if err == nil {
			total := realized + state.UnrealizedPnL
			if basis := state.Equity - total; basis > 0 {
				view.TotalReturnPct = total / basis * 100
			}
		}
	}

	for _, p := range state.Positions {
		current := prices[p.Coin]
		if current == 0 {
			current = p.EntryPrice
		}
		view.Positions = append(view.Positions, decision.PositionView{
			Coin:          p.Coin,
			Side:          p.Side,
			EntryPrice:    p.EntryPrice,
			CurrentPrice:  current,
			QuantityUSD:   p.QuantityUSD,
			Leverage:      p.Leverage,
			UnrealizedPnL: p.UnrealizedPnL,
			OpenedAt:      p.EntryTime,
			ExitPlan:      e.exitPlanFor(p),
		})
	}
	return view
}

// exitPlanFor recovers the exit plan stated when the position was
// opened, so the model is reminded of its own strategy.
func (e *Engine) exitPlanFor(p exchange.PositionState) *decision.ExitPlan {
	if p.DecisionID == nil {
		return nil
	}
	rec, err := e.st.DecisionByID(*p.DecisionID)
	if err != nil {
		return nil
	}
	if rec.ProfitTarget == nil && rec.StopLoss == nil && rec.InvalidationCondition == "" {
		return nil
	}
	return &decision.ExitPlan{
		ProfitTarget:          rec.ProfitTarget,
		StopLoss:              rec.StopLoss,
		InvalidationCondition: rec.InvalidationCondition,
	}
}

// operatorGuidance returns the active cycle-type operator message, if
// any. It stays active (and keeps appearing in prompts) until replaced
// or archived.
func (e *Engine) operatorGuidance() string {
	input, err := e.st.ActiveOperatorInput()
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.log.Error().Err(err).Msg("active operator input")
		}
		return ""
	}
	if input.MessageType != store.InputCycle {
		return ""
	}
	return input.Message
}

// leverageTable fetches each coin's venue leverage cap once per cycle.
// The client caches venue metadata, so this is cheap after the first
// call.
func (e *Engine) leverageTable(ctx context.Context, coins []string) map[string]float64 {
	table := make(map[string]float64, len(coins))
	for _, coin := range coins {
		lev, err := e.adapter.MaxLeverage(ctx, coin)
		if err != nil {
			e.log.Warn().Err(err).Str("coin", coin).Msg("max leverage unavailable")
			continue
		}
		table[coin] = float64(lev)
	}
	return table
}

func (e *Engine) validate(d *decision.Decision, price float64, state *exchange.AccountState, settings store.BotSettings, caps map[string]float64) risk.Verdict {
	view := risk.View{
		AvailableBalance: state.Balance,
		OpenCoins:        make(map[string]bool, len(state.Positions)),
		OpenCount:        len(state.Positions),
		DailyRealizedPnL: e.dailyRealizedPnL(),
	}
	for _, p := range state.Positions {
		view.OpenCoins[p.Coin] = true
	}

	maxLev := float64(e.cfg.MaxLeverage)
	if venueCap, ok := caps[d.Coin]; ok && venueCap < maxLev {
		maxLev = venueCap
	}

	return risk.Validate(d, price, view, risk.Limits{
		MinMarginUSD:      settings.MinMarginUSD,
		MaxMarginUSD:      settings.MaxMarginUSD,
		MaxLeverage:       maxLev,
		DailyLossLimitUSD: e.cfg.DailyLossLimitUSD,
		MaxOpenPositions:  settings.MaxOpenPositions,
	})
}

func (e *Engine) dailyRealizedPnL() float64 {
	if e.ledger != nil {
		return e.ledger.DailyRealizedPnL()
	}
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	pnl, err := e.st.RealizedPnLBetween(dayStart, now)
	if err != nil {
		e.log.Error().Err(err).Msg("daily realized pnl")
		return 0
	}
	return pnl
}

// coinSet is the union of configured assets and open-position coins,
// configured assets first, order stable.
func (e *Engine) coinSet(state *exchange.AccountState) []string {
	seen := make(map[string]bool, len(e.cfg.TradingAssets)+len(state.Positions))
	coins := make([]string, 0, len(e.cfg.TradingAssets)+len(state.Positions))
	for _, c := range e.cfg.TradingAssets {
		if !seen[c] {
			seen[c] = true
			coins = append(coins, c)
		}
	}
	for _, p := range state.Positions {
		if !seen[p.Coin] {
			seen[p.Coin] = true
			coins = append(coins, p.Coin)
		}
	}
	return coins
}

// fetchMarket retries once after a short pause; candle endpoints drop
// requests often enough that one retry avoids losing a whole cycle.
func (e *Engine) fetchMarket(ctx context.Context, coin string) (*market.Data, error) {
	d, err := e.provider.Fetch(ctx, coin)
	if err == nil {
		return d, nil
	}
	e.log.Warn().Err(err).Str("coin", coin).Msg("market fetch failed, retrying")

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(fetchRetryWait):
	}
	return e.provider.Fetch(ctx, coin)
}

// DirectQuery answers an interrupt-type operator message out of band:
// no decision row, no order, no cadence change. Only a status row marks
// that the query happened.
func (e *Engine) DirectQuery(ctx context.Context, message string) (string, error) {
	system := "You are the operator interface of an autonomous perpetual-futures trading agent. " +
		"Answer the operator's question directly and concisely using the provided account state. " +
		"You cannot place or modify orders from this conversation."

	var user string
	state, err := e.adapter.AccountState(ctx, e.queryMarks(ctx))
	if err != nil {
		e.log.Warn().Err(err).Msg("direct query without account state")
		user = fmt.Sprintf("OPERATOR QUESTION:\n%s\n\n(account state unavailable: %v)", message, err)
	} else {
		stateJSON, _ := json.MarshalIndent(state, "", "  ")
		user = fmt.Sprintf("OPERATOR QUESTION:\n%s\n\nCURRENT ACCOUNT STATE (%s mode):\n%s",
			message, e.adapter.Mode(), stateJSON)
	}

	start := time.Now()
	reply, err := e.ai.Message(ctx, system, user)
	metrics.LLMDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMErrors.Inc()
		return "", fmt.Errorf("direct query: %w", err)
	}

	e.recordStatus(string(e.control.State()), "direct_query: "+truncate(message, 120), "")
	return reply, nil
}

// queryMarks prices an out-of-band account view at current mids. Best
// effort: on any failure positions just show at their entry price.
func (e *Engine) queryMarks(ctx context.Context) map[string]float64 {
	state, err := e.adapter.AccountState(ctx, nil)
	if err != nil {
		return nil
	}
	mids, err := e.provider.Mids(ctx, e.coinSet(state))
	if err != nil {
		e.log.Warn().Err(err).Msg("mids unavailable for direct query")
		return nil
	}
	return mids
}

func (e *Engine) cycleError(stage string, err error) error {
	wrapped := fmt.Errorf("%s: %w", stage, err)
	e.recordStatus(store.StatusError, stage+" failed", wrapped.Error())
	return wrapped
}

// recordStatus appends a status row and mirrors it to the SSE stream.
func (e *Engine) recordStatus(status, message, errMsg string) {
	if err := e.st.AppendStatus(status, message, errMsg); err != nil {
		e.log.Error().Err(err).Str("status", status).Msg("append status")
	}
	e.publish(events.Event{
		Type:    events.TypeStatus,
		Message: message,
		Data:    map[string]string{"status": status, "error": errMsg},
	})
}

func (e *Engine) publish(evt events.Event) {
	if e.hub != nil {
		e.hub.Broadcast(evt)
	}
}

func (e *Engine) publishDecision(d *decision.Decision, id int64, status, execErr string) {
	e.publish(events.Event{
		Type:    events.TypeDecision,
		Coin:    d.Coin,
		Message: decision.Summary(d),
		Data: map[string]interface{}{
			"decision_id":      id,
			"signal":           d.Signal,
			"confidence":       d.Confidence,
			"execution_status": status,
			"execution_error":  execErr,
		},
	})
}

func (e *Engine) defaultSettings() store.BotSettings {
	return store.DefaultBotSettings(e.cfg.MaxPositionSizeUSD, e.cfg.IntervalSeconds)
}

func (e *Engine) constraints(settings store.BotSettings) decision.Constraints {
	return decision.Constraints{
		MinMarginUSD:     settings.MinMarginUSD,
		MaxMarginUSD:     settings.MaxMarginUSD,
		MaxLeverage:      float64(e.cfg.MaxLeverage),
		MaxOpenPositions: settings.MaxOpenPositions,
		IntervalSeconds:  settings.IntervalSeconds,
	}
}

func (e *Engine) cycleInterval() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	secs := e.settings.IntervalSeconds
	if secs <= 0 {
		secs = e.cfg.IntervalSeconds
	}
	if secs <= 0 {
		secs = 180
	}
	return time.Duration(secs) * time.Second
}

func (e *Engine) nextCycleAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nextCycle
}

func (e *Engine) startedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.startTime
}

func findPosition(state *exchange.AccountState, coin string) *exchange.PositionState {
	for i := range state.Positions {
		if state.Positions[i].Coin == coin {
			return &state.Positions[i]
		}
	}
	return nil
}

func toStoreDecision(d *decision.Decision) *store.Decision {
	return &store.Decision{
		Coin:                  d.Coin,
		Signal:                string(d.Signal),
		QuantityUSD:           d.QuantityUSD,
		Leverage:              d.Leverage,
		Confidence:            d.Confidence,
		ProfitTarget:          d.ExitPlan.ProfitTarget,
		StopLoss:              d.ExitPlan.StopLoss,
		InvalidationCondition: d.ExitPlan.InvalidationCondition,
		Justification:         d.Justification,
		RawResponse:           d.RawResponse,
		SystemPrompt:          d.SystemPrompt,
		UserPrompt:            d.UserPrompt,
	}
}

func toSnapshot(d *market.Data) *decision.MarketSnapshot {
	s := &decision.MarketSnapshot{
		Coin:         d.Coin,
		CurrentPrice: d.CurrentPrice,
		FundingRate:  d.FundingRate,
		OpenInterest: d.OpenInterest,
		Intraday:     toIndicatorSeries(d.Intraday),
		Latest:       latestSnapshot(d.Intraday),
	}
	if d.LongerTerm != nil {
		longer := latestSnapshot(*d.LongerTerm)
		s.LongerTerm = &longer
	}
	return s
}

func toIndicatorSeries(s market.Series) decision.IndicatorSeries {
	return decision.IndicatorSeries{
		Prices:      s.Prices,
		EMA20:       s.EMA20,
		EMA50:       s.EMA50,
		RSI7:        s.RSI7,
		RSI14:       s.RSI14,
		MACD:        s.MACD,
		MACDSignal:  s.MACDSignal,
		MACDHist:    s.MACDHist,
		ATR3:        s.ATR3,
		ATR14:       s.ATR14,
		Volume:      s.Volume,
		VolumeSMA20: s.VolumeSMA20,
	}
}

func latestSnapshot(s market.Series) decision.IndicatorSnapshot {
	return decision.IndicatorSnapshot{
		EMA20:       last(s.EMA20),
		EMA50:       last(s.EMA50),
		RSI7:        last(s.RSI7),
		RSI14:       last(s.RSI14),
		MACD:        last(s.MACD),
		MACDSignal:  last(s.MACDSignal),
		MACDHist:    last(s.MACDHist),
		ATR3:        last(s.ATR3),
		ATR14:       last(s.ATR14),
		Volume:      last(s.Volume),
		VolumeSMA20: last(s.VolumeSMA20),
	}
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

func toClosedTrades(closed []store.Position) []decision.ClosedTrade {
	trades := make([]decision.ClosedTrade, 0, len(closed))
	for _, p := range closed {
		t := decision.ClosedTrade{
			Coin:        p.Coin,
			Side:        p.Side,
			EntryPrice:  p.EntryPrice,
			QuantityUSD: p.QuantityUSD,
			Leverage:    p.Leverage,
		}
		if p.ExitPrice != nil {
			t.ExitPrice = *p.ExitPrice
		}
		if p.RealizedPnL != nil {
			t.RealizedPnL = *p.RealizedPnL
		}
		if p.ExitTime != nil {
			t.ExitTime = *p.ExitTime
		}
		trades = append(trades, t)
	}
	return trades
}

func toDecisionSummaries(recent []store.DecisionWithOutcome) []decision.DecisionSummary {
	summaries := make([]decision.DecisionSummary, 0, len(recent))
	for _, d := range recent {
		summaries = append(summaries, decision.DecisionSummary{
			Timestamp:     d.Timestamp,
			Coin:          d.Coin,
			Signal:        decision.Signal(d.Signal),
			Confidence:    d.Confidence,
			Justification: d.Justification,
		})
	}
	return summaries
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
