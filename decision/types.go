package decision

import (
	"errors"
	"fmt"
	"time"
)

// Signal is the validated trading intent of a decision.
type Signal string

const (
	SignalBuyToEnter  Signal = "buy_to_enter"
	SignalSellToEnter Signal = "sell_to_enter"
	SignalHold        Signal = "hold"
	SignalClose       Signal = "close"
)

// Hard limits applied to every parsed decision, independent of settings.
const (
	MaxQuantityUSD  = 1_000_000.0
	LeverageHardCap = 20.0
)

// Typed parse failures the engine distinguishes from transport errors.
var (
	ErrNoJSONFound        = errors.New("no JSON object found in response")
	ErrLeverageExceedsCap = errors.New("leverage exceeds per-coin cap")
)

// ParseSignal converts raw model output into a Signal.
func ParseSignal(s string) (Signal, error) {
	switch Signal(s) {
	case SignalBuyToEnter, SignalSellToEnter, SignalHold, SignalClose:
		return Signal(s), nil
	}
	return "", fmt.Errorf("invalid signal %q", s)
}

// IsEntry reports whether the signal opens a new position.
func (s Signal) IsEntry() bool {
	return s == SignalBuyToEnter || s == SignalSellToEnter
}

// Side maps an entry signal to its position side.
func (s Signal) Side() string {
	if s == SignalSellToEnter {
		return "short"
	}
	return "long"
}

// ExitPlan is the model's stated exit strategy. Targets may be omitted.
type ExitPlan struct {
	ProfitTarget          *float64 `json:"profit_target"`
	StopLoss              *float64 `json:"stop_loss"`
	InvalidationCondition string   `json:"invalidation_condition,omitempty"`
}

// Decision is one validated trading decision parsed from model output.
// The prompt and raw-response fields are filled by the engine after a
// successful parse; they never come from the model itself.
type Decision struct {
	Coin          string   `json:"coin"`
	Signal        Signal   `json:"signal"`
	QuantityUSD   float64  `json:"quantity_usd"`
	Leverage      float64  `json:"leverage"`
	Confidence    float64  `json:"confidence"`
	ExitPlan      ExitPlan `json:"exit_plan"`
	Justification string   `json:"justification"`

	RawResponse  string `json:"-"`
	SystemPrompt string `json:"-"`
	UserPrompt   string `json:"-"`
}

// IndicatorSnapshot is the most recent value of every tracked indicator.
type IndicatorSnapshot struct {
	EMA20       float64 `json:"ema_20"`
	EMA50       float64 `json:"ema_50"`
	RSI7        float64 `json:"rsi_7"`
	RSI14       float64 `json:"rsi_14"`
	MACD        float64 `json:"macd"`
	MACDSignal  float64 `json:"macd_signal"`
	MACDHist    float64 `json:"macd_hist"`
	ATR3        float64 `json:"atr_3"`
	ATR14       float64 `json:"atr_14"`
	Volume      float64 `json:"volume"`
	VolumeSMA20 float64 `json:"volume_sma_20"`
}

// IndicatorSeries holds one coin's indicator history, oldest to newest.
// Slices may differ in length; warmup rows are simply absent.
type IndicatorSeries struct {
	Prices      []float64 `json:"prices"`
	EMA20       []float64 `json:"ema_20"`
	EMA50       []float64 `json:"ema_50"`
	RSI7        []float64 `json:"rsi_7"`
	RSI14       []float64 `json:"rsi_14"`
	MACD        []float64 `json:"macd"`
	MACDSignal  []float64 `json:"macd_signal"`
	MACDHist    []float64 `json:"macd_hist"`
	ATR3        []float64 `json:"atr_3"`
	ATR14       []float64 `json:"atr_14"`
	Volume      []float64 `json:"volume"`
	VolumeSMA20 []float64 `json:"volume_sma_20"`
}

// MarketSnapshot is one coin's market view at prompt-build time.
type MarketSnapshot struct {
	Coin         string            `json:"coin"`
	CurrentPrice float64           `json:"current_price"`
	FundingRate  *float64          `json:"funding_rate,omitempty"`
	OpenInterest *float64          `json:"open_interest,omitempty"`
	Intraday     IndicatorSeries   `json:"intraday"`
	Latest       IndicatorSnapshot `json:"latest"`
	// LongerTerm is the latest 4-hour indicator row, nil when the
	// longer timeframe could not be fetched.
	LongerTerm *IndicatorSnapshot `json:"longer_term,omitempty"`
}

// PositionView is an open position as presented to the model.
type PositionView struct {
	Coin          string    `json:"coin"`
	Side          string    `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	CurrentPrice  float64   `json:"current_price"`
	QuantityUSD   float64   `json:"quantity_usd"`
	Leverage      float64   `json:"leverage"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	OpenedAt      time.Time `json:"opened_at"`
	ExitPlan      *ExitPlan `json:"exit_plan,omitempty"`
}

// AccountView is the account state as presented to the model.
type AccountView struct {
	AvailableBalance float64        `json:"available_balance"`
	Equity           float64        `json:"equity"`
	TotalReturnPct   float64        `json:"total_return_pct"`
	SharpeRatio      *float64       `json:"sharpe_ratio,omitempty"`
	Positions        []PositionView `json:"positions"`
}

// ClosedTrade summarizes one closed position for the history section.
type ClosedTrade struct {
	Coin        string    `json:"coin"`
	Side        string    `json:"side"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	QuantityUSD float64   `json:"quantity_usd"`
	Leverage    float64   `json:"leverage"`
	RealizedPnL float64   `json:"realized_pnl"`
	ExitTime    time.Time `json:"exit_time"`
}

// DecisionSummary is a prior decision echoed back for context.
type DecisionSummary struct {
	Timestamp     time.Time `json:"timestamp"`
	Coin          string    `json:"coin"`
	Signal        Signal    `json:"signal"`
	Confidence    float64   `json:"confidence"`
	Justification string    `json:"justification"`
}

// Context carries everything one prompt is assembled from. All series
// run oldest to newest and the whole struct is a point-in-time
// snapshot: building a prompt from it has no side effects.
type Context struct {
	Now               time.Time                   `json:"now"`
	MinutesSinceStart int                         `json:"minutes_since_start"`
	OperatorGuidance  string                      `json:"operator_guidance,omitempty"`
	LeverageLimits    map[string]float64          `json:"leverage_limits,omitempty"`
	Market            map[string]*MarketSnapshot  `json:"market"`
	Account           AccountView                 `json:"account"`
	RecentTrades      []ClosedTrade               `json:"recent_trades,omitempty"`
	RecentDecisions   []DecisionSummary           `json:"recent_decisions,omitempty"`
}
