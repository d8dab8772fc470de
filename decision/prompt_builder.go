package decision

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Preset keys accepted by the prompt_preset setting.
const (
	PresetAggressiveSmallAccount = "aggressive_small_account"
	PresetStandard               = "standard"
	PresetConservative           = "conservative"
)

// seriesRows is how many trailing rows of each indicator series are
// shown per coin.
const seriesRows = 10

// Preset is a named trading strategy layered onto the base system
// prompt. Key is the stable identifier stored in settings.
type Preset struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`

	strategy string
	sizing   string
	risk     string
	exits    string
}

var presetOrder = []string{PresetAggressiveSmallAccount, PresetStandard, PresetConservative}

var presets = map[string]Preset{
	PresetAggressiveSmallAccount: {
		Key:         PresetAggressiveSmallAccount,
		Name:        "Aggressive Small Account (<$20)",
		Description: "High-risk, all-or-nothing strategy for accounts under $20. Uses maximum leverage on high-conviction setups.",
		strategy: `## Strategy: Aggressive Small Account (All-or-Nothing)

**Philosophy:** With a small account (<$20), we use HIGH LEVERAGE to turn small capital into meaningful positions. This is a high-risk, high-reward approach designed to grow small accounts quickly.

**Key Principles:**
- SMALL POSITIONS ARE VALID: $1-2 positions with 15-20x leverage = $15-40 exposure
- Use cross-margin: Account acts as collateral, enabling multiple small trades
- Focus on HIGH CONVICTION setups only (>70% confidence)
- Accept that we may lose the account, but the upside is 5-10x growth
- Take DECISIVE action - don't sit on the sidelines with such a small account`,
		sizing: `## Position Sizing for Small Accounts

**Capital Allocation:**
- Balance < $5: Use 80-100% per trade (all-in on best setup)
- Balance $5-$10: Use 50-80% per trade
- Balance $10-$20: Use 30-50% per trade
- Minimum position: $1 (with leverage, this is $10-20 exposure)

**Leverage Strategy:**
- High conviction (>80%): Use 15-20x leverage
- Medium conviction (60-80%): Use 10-15x leverage
- Lower conviction (<60%): Skip or use 5-10x leverage

**Example Trades:**
- $2 position @ 20x = $40 notional exposure
- $1 position @ 15x = $15 notional exposure
- Goal: 10+ trades to find the winner that 3-5x's the account`,
		risk: `## Risk Management (Aggressive)

**Stop Losses:**
- Use TIGHT stops (5-10% from entry) to preserve capital for next trades
- Expect to get stopped out frequently - this is normal
- Re-enter if thesis remains valid after stop out

**Position Management:**
- ONE position at a time (all-in mentality)
- No hedging, no portfolio theory - pure directional bets
- If a trade is working, HOLD until clear reversal (not just a wick)

**Daily Limits:**
- Max 3 losing trades per day before reassessing
- If account drops below $1, stop trading for the day`,
		exits: `## Exit Strategy (Let Winners Run)

**Profit Taking:**
- First target: 2-3R (risk-reward ratio)
- Scale out: Take 50% at first target, let rest run
- Trail stop on remaining 50% using EMA-20 or key support/resistance

**Stop Loss Hits:**
- Accept the loss immediately, no averaging down
- Wait 15-30 minutes before next trade (avoid revenge trading)
- If stopped out 3 times on same coin, switch to different asset

**When to Close Early:**
1. Market structure clearly broken (e.g., lower low in uptrend)
2. Major news event that invalidates thesis
3. Hard stop loss hit
4. Otherwise: DIAMOND HANDS - hold through volatility`,
	},

	PresetStandard: {
		Key:         PresetStandard,
		Name:        "Standard Balanced",
		Description: "Balanced risk/reward for accounts $20-$100. Moderate leverage with proper risk management.",
		strategy: `## Strategy: Balanced Trading

**Philosophy:** Balance growth with capital preservation. Use moderate leverage on quality setups.

**Key Principles:**
- Risk 2-5% of account per trade
- Use 5-10x leverage on high conviction setups
- Maintain 2-3 positions maximum
- Focus on risk-adjusted returns, not just absolute returns`,
		sizing: `## Position Sizing (Balanced)

**Capital Allocation:**
- Per trade: 20-30% of account value
- Maximum 3 concurrent positions
- Minimum position: $10

**Leverage Strategy:**
- High conviction (>80%): 8-10x leverage
- Medium conviction (60-80%): 5-7x leverage
- Low conviction (<60%): 2-3x leverage or skip`,
		risk: `## Risk Management (Balanced)

**Stop Losses:**
- Always use stops: 2-5% from entry
- Never risk more than 5% of account on one trade
- Use position sizing to control risk

**Position Management:**
- Max 3 positions across different assets
- Correlation check: Don't hold 3 positions in same direction
- Rebalance if any position grows >40% of portfolio`,
		exits: `## Exit Strategy (Balanced)

**Profit Taking:**
- Take 30% at 1.5R
- Take 30% at 2.5R
- Trail stop on remaining 40%

**Stop Loss Management:**
- Move to breakeven after 1R gain
- Trail with EMA-20 or swing lows/highs`,
	},

	PresetConservative: {
		Key:         PresetConservative,
		Name:        "Conservative Capital Preservation",
		Description: "Low-risk strategy for larger accounts ($100+). Focus on capital preservation with limited leverage.",
		strategy: `## Strategy: Conservative Capital Preservation

**Philosophy:** Protect capital first, grow second. Use minimal leverage and strict risk controls.

**Key Principles:**
- Risk only 1-2% per trade
- Use 2-5x leverage maximum
- Focus on high-probability setups only (>75% confidence)
- Never hold more than 3 positions`,
		sizing: `## Position Sizing (Conservative)

**Capital Allocation:**
- Per trade: 10-20% of account value
- Maximum 3 concurrent positions
- Minimum position: $20

**Leverage Strategy:**
- High conviction (>85%): 4-5x leverage
- Medium conviction (75-85%): 2-3x leverage
- Low conviction: Skip trade`,
		risk: `## Risk Management (Conservative)

**Stop Losses:**
- Always use stops: 1-2% account risk
- Wide stops to avoid noise (3-5% from entry)
- Never move stops against position

**Position Management:**
- Max 3 positions, diversified assets
- If 2 positions losing, don't open third
- Close all positions if account drops 5% in a day`,
		exits: `## Exit Strategy (Conservative)

**Profit Taking:**
- Take 50% at 1.5R
- Take 30% at 2R
- Trail stop on final 20%

**Stop Loss Management:**
- Move to breakeven after 1R
- Use time stops: Close if no progress in 4 hours`,
	},
}

// PresetByKey returns the named preset. Unknown keys fall back to the
// aggressive small-account preset.
func PresetByKey(key string) Preset {
	if p, ok := presets[key]; ok {
		return p
	}
	return presets[PresetAggressiveSmallAccount]
}

// Presets lists all presets in a stable order.
func Presets() []Preset {
	out := make([]Preset, 0, len(presetOrder))
	for _, key := range presetOrder {
		out = append(out, presets[key])
	}
	return out
}

// ValidPreset reports whether key names a known preset.
func ValidPreset(key string) bool {
	_, ok := presets[key]
	return ok
}

// Constraints are the operational limits echoed into every prompt so
// the model does not propose trades the risk gate would reject.
type Constraints struct {
	MinMarginUSD     float64
	MaxMarginUSD     float64
	MaxLeverage      float64
	MaxOpenPositions int
	IntervalSeconds  int
}

// PromptBuilder assembles the system and user prompts for one cycle.
type PromptBuilder struct {
	preset      Preset
	constraints Constraints
}

// NewPromptBuilder creates a builder for the given preset key.
func NewPromptBuilder(presetKey string, c Constraints) *PromptBuilder {
	return &PromptBuilder{preset: PresetByKey(presetKey), constraints: c}
}

// Preset returns the active preset.
func (pb *PromptBuilder) Preset() Preset {
	return pb.preset
}

// BuildSystemPrompt renders the base agent instructions plus the
// active preset's strategy, sizing, risk, and exit sections.
func (pb *PromptBuilder) BuildSystemPrompt() string {
	c := pb.constraints
	var sb strings.Builder

	sb.WriteString(`You are an autonomous cryptocurrency trading agent operating on Hyperliquid perpetual futures.

Your goal is to maximize profit and loss (PnL) while managing risk appropriately. You have been given real capital to trade and your performance is measured by both absolute returns and risk-adjusted returns (Sharpe ratio).
`)
	sb.WriteString(fmt.Sprintf("\nYou are invoked on a fixed cadence (every %s). Each response must contain exactly one decision for one coin.\n", formatInterval(c.IntervalSeconds)))

	sb.WriteString(`
## Your Capabilities
- Analyze technical indicators (EMA, RSI, MACD, ATR) across multiple timeframes
- Open long or short positions with leverage on perpetual futures
- Set profit targets, stop losses, and invalidation conditions
- Manage multiple positions across different cryptocurrencies

## Trading Rules
`)
	sb.WriteString(fmt.Sprintf("1. ALWAYS follow position sizing limits: margin between $%s and $%s per position\n", trimFloat(c.MinMarginUSD), trimFloat(c.MaxMarginUSD)))
	sb.WriteString(fmt.Sprintf("2. NEVER exceed %sx leverage; per-coin caps in the market data override this downward\n", trimFloat(c.MaxLeverage)))
	sb.WriteString(fmt.Sprintf("3. Hold at most %d concurrent positions\n", c.MaxOpenPositions))
	sb.WriteString(`4. Set clear exit plans for every position (profit target, stop loss, invalidation)
5. Be explicit about confidence levels (0.0 to 1.0)
6. Provide clear justification for every decision
7. Consider market context: funding rates, open interest, volume

## Risk Management
- Higher leverage means higher risk and should carry tighter stops
- Consider liquidation prices when sizing positions
- Monitor the Sharpe ratio to maintain risk-adjusted performance
- Respect daily loss limits to preserve capital
`)

	sb.WriteString("\n" + pb.preset.strategy + "\n")
	sb.WriteString("\n" + pb.preset.sizing + "\n")
	sb.WriteString("\n" + pb.preset.risk + "\n")
	sb.WriteString("\n" + pb.preset.exits + "\n")

	sb.WriteString(`
## Output Format
Return valid JSON with these exact fields:
{
    "coin": "BTC/USDC:USDC",
    "signal": "buy_to_enter|sell_to_enter|hold|close",
    "quantity_usd": 50.0,
    "leverage": 2.0,
    "confidence": 0.75,
    "exit_plan": {
        "profit_target": 111000.0,
        "stop_loss": 106361.0,
        "invalidation_condition": "4H RSI breaks below 40"
    },
    "justification": "Clear technical analysis reasoning"
}

IMPORTANT: Data is ordered OLDEST → NEWEST in all series.`)

	return sb.String()
}

// BuildUserPrompt renders the market, account, and history context for
// one cycle. Sections appear in a fixed order; coins are sorted so the
// output is deterministic for a given context.
func (pb *PromptBuilder) BuildUserPrompt(ctx *Context) string {
	c := pb.constraints
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("It has been %d minutes since you started trading.\n\n", ctx.MinutesSinceStart))
	sb.WriteString("Below, we are providing you with a variety of state data, price data, and predictive signals so you can discover alpha. Below that is your current account information, value, performance, positions, etc.\n\n")
	sb.WriteString("**ALL OF THE PRICE OR SIGNAL DATA BELOW IS ORDERED: OLDEST → NEWEST**\n\n")
	sb.WriteString("**Timeframes note:** Unless stated otherwise in a section title, intraday series are provided at **3-minute intervals**. If a coin uses a different interval, it is explicitly stated in that coin's section.\n\n")
	sb.WriteString(fmt.Sprintf("**Operational constraints:** margin between $%s and $%s per position, leverage up to %sx, at most %d concurrent positions.\n\n",
		trimFloat(c.MinMarginUSD), trimFloat(c.MaxMarginUSD), trimFloat(c.MaxLeverage), c.MaxOpenPositions))

	if g := strings.TrimSpace(ctx.OperatorGuidance); g != "" {
		sb.WriteString("### OPERATOR GUIDANCE (HIGH PRIORITY)\n\n")
		sb.WriteString("Your operator left the following instruction for this cycle. Weigh it above the default strategy when they conflict:\n\n")
		sb.WriteString(g + "\n\n")
	}

	if len(ctx.LeverageLimits) > 0 {
		coins := make([]string, 0, len(ctx.LeverageLimits))
		for coin := range ctx.LeverageLimits {
			coins = append(coins, coin)
		}
		sort.Strings(coins)

		sb.WriteString("### PER-COIN LEVERAGE LIMITS\n\n")
		for _, coin := range coins {
			sb.WriteString(fmt.Sprintf("- %s: up to %sx\n", coin, trimFloat(ctx.LeverageLimits[coin])))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("---\n\n")
	sb.WriteString("### CURRENT MARKET STATE FOR ALL COINS\n\n")

	coins := make([]string, 0, len(ctx.Market))
	for coin := range ctx.Market {
		coins = append(coins, coin)
	}
	sort.Strings(coins)
	for _, coin := range coins {
		sb.WriteString(formatMarketSection(ctx.Market[coin]))
	}

	sb.WriteString(formatAccountSection(ctx.Account, ctx.Now))
	sb.WriteString(formatTradeHistory(ctx.RecentTrades))
	sb.WriteString(formatRecentDecisions(ctx.RecentDecisions))
	sb.WriteString(formatCapacityGuidance(len(ctx.Account.Positions), c.MaxOpenPositions))

	sb.WriteString("---\n\n")
	sb.WriteString("Based on this data, make your trading decision. Return valid JSON only.")

	return sb.String()
}

func formatMarketSection(m *MarketSnapshot) string {
	var sb strings.Builder
	l := m.Latest

	sb.WriteString(fmt.Sprintf("### %s DATA\n\n", m.Coin))
	sb.WriteString(fmt.Sprintf("current_price = %.2f, current_ema20 = %.2f, current_macd = %.3f, current_rsi (7 period) = %.3f\n\n",
		m.CurrentPrice, l.EMA20, l.MACD, l.RSI7))

	if m.OpenInterest != nil || m.FundingRate != nil {
		sb.WriteString("Open Interest & Funding Rate:\n")
		if m.OpenInterest != nil {
			sb.WriteString(fmt.Sprintf("Open Interest: Latest: %.2f\n", *m.OpenInterest))
		}
		if m.FundingRate != nil {
			sb.WriteString(fmt.Sprintf("Funding Rate: %g\n", *m.FundingRate))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Latest indicator snapshot:\n")
	sb.WriteString(fmt.Sprintf("EMA20 = %.2f, EMA50 = %.2f, RSI7 = %.3f, RSI14 = %.3f, MACD = %.3f, MACD_signal = %.3f, MACD_hist = %.3f, ATR3 = %.2f, ATR14 = %.2f, volume = %.2f, volume_sma20 = %.2f\n\n",
		l.EMA20, l.EMA50, l.RSI7, l.RSI14, l.MACD, l.MACDSignal, l.MACDHist, l.ATR3, l.ATR14, l.Volume, l.VolumeSMA20))

	sb.WriteString("**Intraday series (3-minute intervals, oldest → latest):**\n\n")
	writeSeries(&sb, "Mid prices", m.Intraday.Prices, 2)
	writeSeries(&sb, "EMA indicators (20-period)", m.Intraday.EMA20, 2)
	writeSeries(&sb, "EMA indicators (50-period)", m.Intraday.EMA50, 2)
	writeSeries(&sb, "MACD indicators", m.Intraday.MACD, 3)
	writeSeries(&sb, "MACD signal", m.Intraday.MACDSignal, 3)
	writeSeries(&sb, "MACD histogram", m.Intraday.MACDHist, 3)
	writeSeries(&sb, "RSI indicators (7-Period)", m.Intraday.RSI7, 3)
	writeSeries(&sb, "RSI indicators (14-Period)", m.Intraday.RSI14, 3)
	writeSeries(&sb, "ATR (3-period)", m.Intraday.ATR3, 2)
	writeSeries(&sb, "ATR (14-period)", m.Intraday.ATR14, 2)
	writeSeries(&sb, "Volume", m.Intraday.Volume, 2)
	writeSeries(&sb, "Volume SMA (20-period)", m.Intraday.VolumeSMA20, 2)

	if lt := m.LongerTerm; lt != nil {
		sb.WriteString("**Longer-term context (4-hour timeframe):**\n\n")
		sb.WriteString(fmt.Sprintf("20-Period EMA: %.2f vs. 50-Period EMA: %.2f\n\n", lt.EMA20, lt.EMA50))
		sb.WriteString(fmt.Sprintf("3-Period ATR: %.2f vs. 14-Period ATR: %.2f\n\n", lt.ATR3, lt.ATR14))
		sb.WriteString(fmt.Sprintf("Current Volume: %.2f vs. Average Volume: %.2f\n\n", lt.Volume, lt.VolumeSMA20))
	}

	sb.WriteString("---\n\n")
	return sb.String()
}

// writeSeries prints the trailing rows of one indicator series.
// Series with no data are omitted entirely.
func writeSeries(sb *strings.Builder, label string, vals []float64, prec int) {
	if len(vals) == 0 {
		return
	}
	sb.WriteString(fmt.Sprintf("%s: %s\n\n", label, formatSeries(lastN(vals, seriesRows), prec)))
}

func formatAccountSection(a AccountView, now time.Time) string {
	var sb strings.Builder

	sb.WriteString("### HERE IS YOUR ACCOUNT INFORMATION & PERFORMANCE\n\n")
	sb.WriteString(fmt.Sprintf("Current Total Return (percent): %.2f%%\n\n", a.TotalReturnPct))
	sb.WriteString(fmt.Sprintf("Available Cash: %.2f\n\n", a.AvailableBalance))
	sb.WriteString(fmt.Sprintf("**Current Account Value:** %.2f\n\n", a.Equity))

	if len(a.Positions) > 0 {
		sb.WriteString("Current live positions & performance:\n")
		for _, p := range a.Positions {
			sb.WriteString(fmt.Sprintf("- %s %s: entry %.2f, current %.2f, size $%.2f @ %sx, unrealized PnL $%.2f, open %s\n",
				p.Coin, p.Side, p.EntryPrice, p.CurrentPrice, p.QuantityUSD, trimFloat(p.Leverage), p.UnrealizedPnL, formatHoldTime(now.Sub(p.OpenedAt))))
			sb.WriteString("  exit plan: " + formatExitPlan(p.ExitPlan) + "\n")
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("Current live positions: None\n\n")
	}

	if a.SharpeRatio != nil {
		sb.WriteString(fmt.Sprintf("Sharpe Ratio: %.3f\n\n", *a.SharpeRatio))
	} else {
		sb.WriteString("Sharpe Ratio: N/A (fewer than 2 closed trades)\n\n")
	}

	return sb.String()
}

func formatTradeHistory(trades []ClosedTrade) string {
	var sb strings.Builder

	sb.WriteString("### RECENT CLOSED TRADES\n\n")
	if len(trades) == 0 {
		sb.WriteString("No closed trades yet.\n\n")
		return sb.String()
	}
	for _, t := range trades {
		sb.WriteString(fmt.Sprintf("- %s %s: entry %.2f -> exit %.2f, size $%.2f @ %sx, realized PnL $%.2f (closed %s UTC)\n",
			t.Coin, t.Side, t.EntryPrice, t.ExitPrice, t.QuantityUSD, trimFloat(t.Leverage), t.RealizedPnL, t.ExitTime.UTC().Format("2006-01-02 15:04")))
	}
	sb.WriteString("\n")
	return sb.String()
}

func formatRecentDecisions(decisions []DecisionSummary) string {
	var sb strings.Builder

	sb.WriteString("### YOUR RECENT DECISIONS\n\n")
	if len(decisions) == 0 {
		sb.WriteString("No prior decisions this session.\n\n")
		return sb.String()
	}
	for _, d := range decisions {
		sb.WriteString(fmt.Sprintf("- %s UTC %s %s (confidence %.2f): %s\n",
			d.Timestamp.UTC().Format("2006-01-02 15:04"), d.Coin, d.Signal, d.Confidence, truncate(d.Justification, 120)))
	}
	sb.WriteString("\n")
	return sb.String()
}

func formatCapacityGuidance(open, limit int) string {
	var sb strings.Builder

	sb.WriteString("### POSITION CAPACITY\n\n")
	if limit > 0 && open >= limit {
		sb.WriteString(fmt.Sprintf("You hold %d of %d allowed positions. Capacity is FULL: do NOT open a new position this cycle. Your options are hold or close.\n\n", open, limit))
	} else {
		sb.WriteString(fmt.Sprintf("You hold %d of %d allowed positions. You may open a new position; prefer diversifying across uncorrelated assets.\n\n", open, limit))
	}
	return sb.String()
}

func formatExitPlan(ep *ExitPlan) string {
	if ep == nil {
		return "none recorded"
	}
	var parts []string
	if ep.ProfitTarget != nil {
		parts = append(parts, fmt.Sprintf("profit target %.2f", *ep.ProfitTarget))
	}
	if ep.StopLoss != nil {
		parts = append(parts, fmt.Sprintf("stop loss %.2f", *ep.StopLoss))
	}
	if ep.InvalidationCondition != "" {
		parts = append(parts, "invalidation: "+ep.InvalidationCondition)
	}
	if len(parts) == 0 {
		return "none recorded"
	}
	return strings.Join(parts, ", ")
}

func formatSeries(vals []float64, prec int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'f', prec, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func lastN(vals []float64, n int) []float64 {
	if len(vals) <= n {
		return vals
	}
	return vals[len(vals)-n:]
}

func formatHoldTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

// trimFloat renders a float without trailing zeros ("5" not "5.00").
func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatInterval(seconds int) string {
	if seconds > 0 && seconds%60 == 0 {
		m := seconds / 60
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return fmt.Sprintf("%d seconds", seconds)
}

// SampleContext returns a canned context the dashboard uses to preview
// what a user prompt looks like without running a cycle.
func SampleContext() *Context {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	funding := 0.0000125
	oi := 25000.0
	sharpe := 0.812
	target := 2650.0
	stop := 2450.0

	return &Context{
		Now:               now,
		MinutesSinceStart: 120,
		OperatorGuidance:  "Focus on BTC this cycle; skip altcoins.",
		LeverageLimits: map[string]float64{
			"BTC/USDC:USDC": 40,
			"ETH/USDC:USDC": 25,
		},
		Market: map[string]*MarketSnapshot{
			"BTC/USDC:USDC": {
				Coin:         "BTC/USDC:USDC",
				CurrentPrice: 108450,
				FundingRate:  &funding,
				OpenInterest: &oi,
				Intraday: IndicatorSeries{
					Prices:      []float64{107900, 108010, 108120, 108050, 108180, 108240, 108310, 108280, 108390, 108450},
					EMA20:       []float64{107850, 107910, 107980, 108020, 108080, 108140, 108190, 108230, 108280, 108330},
					EMA50:       []float64{107600, 107650, 107700, 107740, 107790, 107840, 107890, 107930, 107980, 108020},
					RSI7:        []float64{48.2, 52.1, 56.4, 53.8, 58.9, 61.2, 63.5, 60.7, 64.1, 66.3},
					RSI14:       []float64{49.5, 51.2, 53.6, 52.4, 55.1, 56.8, 58.2, 57.1, 59.4, 60.8},
					MACD:        []float64{-12.4, -4.2, 6.8, 3.1, 14.5, 22.3, 29.8, 25.6, 33.2, 38.7},
					MACDSignal:  []float64{-18.1, -15.3, -10.9, -8.1, -3.6, 1.6, 7.2, 10.9, 15.4, 20.1},
					MACDHist:    []float64{5.7, 11.1, 17.7, 11.2, 18.1, 20.7, 22.6, 14.7, 17.8, 18.6},
					ATR3:        []float64{95.2, 102.4, 110.1, 98.6, 105.3, 112.8, 108.4, 101.9, 107.5, 113.2},
					ATR14:       []float64{118.4, 119.2, 120.8, 119.6, 121.3, 122.9, 123.4, 122.1, 123.8, 125.0},
					Volume:      []float64{820, 940, 1110, 870, 1230, 1340, 1480, 1150, 1390, 1520},
					VolumeSMA20: []float64{980, 990, 1005, 1000, 1020, 1040, 1065, 1070, 1090, 1110},
				},
				Latest: IndicatorSnapshot{
					EMA20: 108330, EMA50: 108020,
					RSI7: 66.3, RSI14: 60.8,
					MACD: 38.7, MACDSignal: 20.1, MACDHist: 18.6,
					ATR3: 113.2, ATR14: 125.0,
					Volume: 1520, VolumeSMA20: 1110,
				},
				LongerTerm: &IndicatorSnapshot{
					EMA20: 107200, EMA50: 105800,
					RSI7: 58.4, RSI14: 55.9,
					MACD: 420.5, MACDSignal: 380.2, MACDHist: 40.3,
					ATR3: 890.4, ATR14: 1010.7,
					Volume: 15400, VolumeSMA20: 12800,
				},
			},
		},
		Account: AccountView{
			AvailableBalance: 42.50,
			Equity:           55.10,
			TotalReturnPct:   10.2,
			SharpeRatio:      &sharpe,
			Positions: []PositionView{
				{
					Coin:          "ETH/USDC:USDC",
					Side:          "long",
					EntryPrice:    2510.0,
					CurrentPrice:  2542.0,
					QuantityUSD:   12.0,
					Leverage:      5,
					UnrealizedPnL: 0.76,
					OpenedAt:      now.Add(-150 * time.Minute),
					ExitPlan: &ExitPlan{
						ProfitTarget:          &target,
						StopLoss:              &stop,
						InvalidationCondition: "4H RSI breaks below 40",
					},
				},
			},
		},
		RecentTrades: []ClosedTrade{
			{
				Coin:        "BTC/USDC:USDC",
				Side:        "long",
				EntryPrice:  106200,
				ExitPrice:   107900,
				QuantityUSD: 10,
				Leverage:    10,
				RealizedPnL: 1.60,
				ExitTime:    now.Add(-6 * time.Hour),
			},
			{
				Coin:        "SOL/USDC:USDC",
				Side:        "short",
				EntryPrice:  151.2,
				ExitPrice:   153.4,
				QuantityUSD: 8,
				Leverage:    5,
				RealizedPnL: -0.58,
				ExitTime:    now.Add(-3 * time.Hour),
			},
		},
		RecentDecisions: []DecisionSummary{
			{
				Timestamp:     now.Add(-10 * time.Minute),
				Coin:          "BTC/USDC:USDC",
				Signal:        SignalHold,
				Confidence:    0.55,
				Justification: "Momentum building but MACD histogram still below prior peak; waiting for confirmation.",
			},
		},
	}
}
