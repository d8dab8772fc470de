package exchange

import (
	"context"
	"time"
)

const (
	// DefaultSlippage bounds how far an emulated market order may fill
	// from the reference price.
	DefaultSlippage = 0.05

	// LiveLeverageCap is the hard ceiling on real orders no matter what
	// the caller asks for.
	LiveLeverageCap = 20

	// MinOrderNotionalUSD rejects dust orders before they reach the
	// venue.
	MinOrderNotionalUSD = 1.0
)

// AccountState is the normalized account view shared by both modes.
// RealizedPnL is only tracked for paper accounts; live realized PnL
// lives in the store.
type AccountState struct {
	Balance       float64         `json:"balance"`
	Equity        float64         `json:"equity"`
	MarginUsed    float64         `json:"margin_used"`
	UnrealizedPnL float64         `json:"unrealized_pnl"`
	RealizedPnL   float64         `json:"realized_pnl"`
	Positions     []PositionState `json:"positions"`
}

// PositionState describes one open position in canonical terms.
// EntryTime and PositionID are zero for live positions, where the venue
// does not report them.
type PositionState struct {
	Coin             string    `json:"coin"`
	Side             string    `json:"side"`
	Size             float64   `json:"size"`
	EntryPrice       float64   `json:"entry_price"`
	QuantityUSD      float64   `json:"quantity_usd"`
	Leverage         float64   `json:"leverage"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	LiquidationPrice float64   `json:"liquidation_price"`
	EntryTime        time.Time `json:"entry_time"`
	PositionID       string    `json:"position_id,omitempty"`
	DecisionID       *int64    `json:"decision_id,omitempty"`
}

// OpenRequest describes an entry order in USD margin terms.
type OpenRequest struct {
	Coin        string
	IsBuy       bool
	QuantityUSD float64
	Leverage    float64
	Price       float64 // current mark, the fill reference
	Slippage    float64 // 0 means DefaultSlippage
	DecisionID  int64   // 0 means unlinked
}

// Fill reports an executed open or close.
type Fill struct {
	Coin        string   `json:"coin"`
	Side        string   `json:"side"`
	Size        float64  `json:"size"`
	Price       float64  `json:"price"`
	PositionID  string   `json:"position_id,omitempty"`  // paper fills only
	OrderID     int64    `json:"order_id,omitempty"`     // live fills only
	RealizedPnL *float64 `json:"realized_pnl,omitempty"` // close fills only
}

// Adapter is the uniform order and state interface over paper and live
// trading. Marks are the caller's current prices keyed by canonical
// symbol; the live variant ignores them and asks the venue instead.
type Adapter interface {
	Mode() string
	AccountState(ctx context.Context, marks map[string]float64) (*AccountState, error)
	Open(ctx context.Context, req OpenRequest) (*Fill, error)
	Close(ctx context.Context, coin string, price float64) (*Fill, error)
	MaxLeverage(ctx context.Context, coin string) (int, error)
	SizeDecimals(ctx context.Context, coin string) (int, error)
}
