package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Action wire types for the signed /exchange endpoint. Field order
// matters: the signature commits to the msgpack encoding, which follows
// struct declaration order.

type orderWire struct {
	Asset      int           `json:"a" msgpack:"a"`
	IsBuy      bool          `json:"b" msgpack:"b"`
	LimitPx    string        `json:"p" msgpack:"p"`
	Sz         string        `json:"s" msgpack:"s"`
	ReduceOnly bool          `json:"r" msgpack:"r"`
	Type       orderTypeWire `json:"t" msgpack:"t"`
}

type orderTypeWire struct {
	Limit limitOrderWire `json:"limit" msgpack:"limit"`
}

type limitOrderWire struct {
	Tif string `json:"tif" msgpack:"tif"`
}

type orderAction struct {
	Type     string      `json:"type" msgpack:"type"`
	Orders   []orderWire `json:"orders" msgpack:"orders"`
	Grouping string      `json:"grouping" msgpack:"grouping"`
}

type leverageAction struct {
	Type     string `json:"type" msgpack:"type"`
	Asset    int    `json:"asset" msgpack:"asset"`
	IsCross  bool   `json:"isCross" msgpack:"isCross"`
	Leverage int    `json:"leverage" msgpack:"leverage"`
}

type cancelWire struct {
	Asset int   `json:"a" msgpack:"a"`
	Oid   int64 `json:"o" msgpack:"o"`
}

type cancelAction struct {
	Type    string       `json:"type" msgpack:"type"`
	Cancels []cancelWire `json:"cancels" msgpack:"cancels"`
}

type exchangeRequest struct {
	Action    any        `json:"action"`
	Nonce     int64      `json:"nonce"`
	Signature *Signature `json:"signature"`
}

// exchangeResponse is the venue's outer envelope. Response is a string
// on top-level rejection and a typed object on success.
type exchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type exchangeResponseData struct {
	Type string `json:"type"`
	Data struct {
		Statuses []orderStatus `json:"statuses"`
	} `json:"data"`
}

type orderStatus struct {
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting"`
	Filled *struct {
		Oid     int64   `json:"oid"`
		TotalSz float64 `json:"totalSz,string"`
		AvgPx   float64 `json:"avgPx,string"`
	} `json:"filled"`
	Error string `json:"error"`
}

// OrderResult is the parsed outcome of a single submitted order.
type OrderResult struct {
	OrderID  int64
	FilledSz float64
	AvgPrice float64
	Resting  bool
}

func (c *Client) sendAction(ctx context.Context, action any) (*exchangeResponse, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("no signing key configured")
	}

	nonce := time.Now().UnixMilli()
	sig, err := c.signer.SignAction(action, nonce)
	if err != nil {
		return nil, err
	}

	var resp exchangeResponse
	if err := c.post(ctx, "/exchange", exchangeRequest{Action: action, Nonce: nonce, Signature: sig}, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("exchange rejected action: %s", strings.Trim(string(resp.Response), `" `))
	}
	return &resp, nil
}

// PlaceOrder submits a single IOC limit order. Market orders are
// expressed as aggressively priced IOC limits, matching the venue's own
// SDK behavior. Price and size are pre-rounded wire strings.
func (c *Client) PlaceOrder(ctx context.Context, asset int, isBuy bool, price, size string, reduceOnly bool) (*OrderResult, error) {
	action := orderAction{
		Type: "order",
		Orders: []orderWire{{
			Asset:      asset,
			IsBuy:      isBuy,
			LimitPx:    price,
			Sz:         size,
			ReduceOnly: reduceOnly,
			Type:       orderTypeWire{Limit: limitOrderWire{Tif: "Ioc"}},
		}},
		Grouping: "na",
	}

	c.log.Info().
		Int("asset", asset).
		Bool("buy", isBuy).
		Str("size", size).
		Str("price", price).
		Bool("reduce_only", reduceOnly).
		Msg("placing order")

	resp, err := c.sendAction(ctx, action)
	if err != nil {
		c.log.Error().Err(err).Int("asset", asset).Msg("order failed")
		return nil, err
	}

	var data exchangeResponseData
	if err := json.Unmarshal(resp.Response, &data); err != nil {
		return nil, fmt.Errorf("failed to parse order response: %w", err)
	}
	if len(data.Data.Statuses) == 0 {
		return nil, fmt.Errorf("order response carried no statuses")
	}

	st := data.Data.Statuses[0]
	switch {
	case st.Error != "":
		return nil, fmt.Errorf("order rejected: %s", st.Error)
	case st.Filled != nil:
		c.log.Info().
			Int64("oid", st.Filled.Oid).
			Float64("size", st.Filled.TotalSz).
			Float64("avg_price", st.Filled.AvgPx).
			Msg("order filled")
		return &OrderResult{OrderID: st.Filled.Oid, FilledSz: st.Filled.TotalSz, AvgPrice: st.Filled.AvgPx}, nil
	case st.Resting != nil:
		return &OrderResult{OrderID: st.Resting.Oid, Resting: true}, nil
	}
	return nil, fmt.Errorf("order response had no fill status")
}

// UpdateLeverage sets cross leverage for an asset. Must succeed before
// any order that relies on it.
func (c *Client) UpdateLeverage(ctx context.Context, asset, leverage int) error {
	action := leverageAction{
		Type:     "updateLeverage",
		Asset:    asset,
		IsCross:  true,
		Leverage: leverage,
	}
	_, err := c.sendAction(ctx, action)
	return err
}

// CancelAll cancels every resting order for the account in one batch
// and returns how many were cancelled. Run before an emergency flatten
// so stale entries cannot fill against the closes.
func (c *Client) CancelAll(ctx context.Context, address string) (int, error) {
	orders, err := c.OpenOrders(ctx, address)
	if err != nil {
		return 0, err
	}
	if len(orders) == 0 {
		return 0, nil
	}

	cancels := make([]cancelWire, 0, len(orders))
	for _, o := range orders {
		asset, err := c.AssetIndex(ctx, o.Coin)
		if err != nil {
			return 0, err
		}
		cancels = append(cancels, cancelWire{Asset: asset, Oid: o.Oid})
	}

	c.log.Warn().Int("orders", len(cancels)).Msg("cancelling all open orders")
	if _, err := c.sendAction(ctx, cancelAction{Type: "cancel", Cancels: cancels}); err != nil {
		return 0, err
	}
	return len(cancels), nil
}
