package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient("", false)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.baseURL = server.URL
	return client
}

func TestAllMids(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			t.Errorf("path = %s, want /info", r.URL.Path)
		}
		var req infoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Type != "allMids" {
			t.Errorf("type = %s, want allMids", req.Type)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"BTC": "109573.0",
			"ETH": "4475.25",
			"@1":  "12.5",
			"BAD": "not-a-number",
		})
	}))

	mids, err := client.AllMids(context.Background())
	if err != nil {
		t.Fatalf("AllMids: %v", err)
	}
	if len(mids) != 2 {
		t.Errorf("len(mids) = %d, want 2", len(mids))
	}
	if mids["BTC"] != 109573.0 {
		t.Errorf("BTC mid = %v, want 109573.0", mids["BTC"])
	}
	if _, ok := mids["@1"]; ok {
		t.Error("synthetic book entries should be skipped")
	}
}

func TestCandles(t *testing.T) {
	var captured candleRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(`[
			{"t":1,"T":2,"s":"BTC","i":"3m","o":"100.5","c":"101.0","h":"102.0","l":"99.5","v":"1200.5","n":42},
			{"t":2,"T":3,"s":"BTC","i":"3m","o":"101.0","c":"100.0","h":"101.5","l":"99.0","v":"900.0","n":17},
			{"t":3,"T":4,"s":"BTC","i":"3m","o":"100.0","c":"103.0","h":"103.5","l":"100.0","v":"1500.0","n":61}
		]`))
	}))

	candles, err := client.Candles(context.Background(), "BTC", "3m", 2)
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}

	if captured.Type != "candleSnapshot" {
		t.Errorf("request type = %s, want candleSnapshot", captured.Type)
	}
	if captured.Req.Coin != "BTC" || captured.Req.Interval != "3m" {
		t.Errorf("request coin/interval = %s/%s, want BTC/3m", captured.Req.Coin, captured.Req.Interval)
	}
	if window := captured.Req.EndTime - captured.Req.StartTime; window != 2*3*60*1000 {
		t.Errorf("window = %dms, want %dms", window, 2*3*60*1000)
	}

	// Rows beyond the limit are trimmed from the front, keeping the
	// most recent candles.
	if len(candles) != 2 {
		t.Fatalf("len(candles) = %d, want 2", len(candles))
	}
	if candles[0].Open != 101.0 || candles[1].Close != 103.0 {
		t.Errorf("unexpected candle values: %+v", candles)
	}
	if candles[1].Volume != 1500.0 {
		t.Errorf("Volume = %v, want 1500.0", candles[1].Volume)
	}
}

func TestCandlesUnsupportedInterval(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be sent for an unsupported interval")
	}))

	if _, err := client.Candles(context.Background(), "BTC", "7m", 10); err == nil {
		t.Error("expected error for unsupported interval")
	}
}

const testClearinghouseJSON = `{
	"marginSummary": {"accountValue":"1182.31","totalNtlPos":"400.5","totalRawUsd":"781.81","totalMarginUsed":"81.2"},
	"crossMarginSummary": {"accountValue":"1182.31","totalNtlPos":"400.5","totalRawUsd":"781.81","totalMarginUsed":"81.2"},
	"withdrawable": "1101.11",
	"assetPositions": [
		{"type":"oneWay","position":{"coin":"BTC","szi":"0.002","entryPx":"108000.0","positionValue":"219.1","unrealizedPnl":"3.1","returnOnEquity":"0.28","liquidationPx":"54542.5","marginUsed":"54.8","leverage":{"type":"cross","value":4}}},
		{"type":"oneWay","position":{"coin":"ETH","szi":"-0.05","entryPx":"4400.0","positionValue":"223.8","unrealizedPnl":"-1.2","returnOnEquity":"-0.05","liquidationPx":null,"marginUsed":"26.4","leverage":{"type":"cross","value":8}}}
	],
	"time": 1756080000000
}`

func TestClearinghouseState(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req infoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Type != "clearinghouseState" {
			t.Errorf("type = %s, want clearinghouseState", req.Type)
		}
		if req.User != "0xabc" {
			t.Errorf("user = %s, want 0xabc", req.User)
		}
		w.Write([]byte(testClearinghouseJSON))
	}))

	state, err := client.ClearinghouseState(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("ClearinghouseState: %v", err)
	}

	if state.Withdrawable != 1101.11 {
		t.Errorf("Withdrawable = %v, want 1101.11", state.Withdrawable)
	}
	if state.MarginSummary.AccountValue != 1182.31 {
		t.Errorf("AccountValue = %v, want 1182.31", state.MarginSummary.AccountValue)
	}
	if len(state.AssetPositions) != 2 {
		t.Fatalf("len(AssetPositions) = %d, want 2", len(state.AssetPositions))
	}

	btc := state.AssetPositions[0].Position
	if btc.Coin != "BTC" || btc.Szi != 0.002 || btc.EntryPx != 108000.0 {
		t.Errorf("unexpected BTC position: %+v", btc)
	}
	if btc.LiquidationPx == nil || *btc.LiquidationPx != 54542.5 {
		t.Errorf("BTC LiquidationPx = %v, want 54542.5", btc.LiquidationPx)
	}
	if btc.Leverage.Value != 4 {
		t.Errorf("BTC leverage = %v, want 4", btc.Leverage.Value)
	}

	eth := state.AssetPositions[1].Position
	if eth.Szi != -0.05 {
		t.Errorf("ETH szi = %v, want -0.05", eth.Szi)
	}
	if eth.LiquidationPx != nil {
		t.Errorf("ETH LiquidationPx = %v, want nil", eth.LiquidationPx)
	}
}

const testMetaJSON = `{"universe":[
	{"name":"BTC","szDecimals":5,"maxLeverage":40,"onlyIsolated":false},
	{"name":"ETH","szDecimals":4,"maxLeverage":25,"onlyIsolated":false}
]}`

func TestMetaCaching(t *testing.T) {
	hits := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(testMetaJSON))
	}))

	ctx := context.Background()
	meta, err := client.Asset(ctx, "BTC")
	if err != nil {
		t.Fatalf("Asset: %v", err)
	}
	if meta.SzDecimals != 5 || meta.MaxLeverage != 40 {
		t.Errorf("BTC meta = %+v", meta)
	}

	idx, err := client.AssetIndex(ctx, "ETH")
	if err != nil {
		t.Fatalf("AssetIndex: %v", err)
	}
	if idx != 1 {
		t.Errorf("ETH index = %d, want 1", idx)
	}

	if _, err := client.Asset(ctx, "ETH"); err != nil {
		t.Fatalf("cached Asset: %v", err)
	}
	if hits != 1 {
		t.Errorf("meta fetched %d times, want 1", hits)
	}

	if _, err := client.Asset(ctx, "DOGE"); err == nil {
		t.Error("expected error for coin outside the universe")
	}
}

func TestMetaAndAssetCtxs(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[` + testMetaJSON + `,[
			{"funding":"0.0000125","openInterest":"8123.4","markPx":"109600.0","midPx":"109601.5","oraclePx":"109590.0","dayNtlVlm":"123456789.0","prevDayPx":"108900.0"},
			{"funding":"-0.0000052","openInterest":"91000.2","markPx":"4475.5","midPx":null,"oraclePx":"4474.8","dayNtlVlm":"98765432.0","prevDayPx":"4500.1"}
		]]`))
	}))

	meta, ctxs, err := client.MetaAndAssetCtxs(context.Background())
	if err != nil {
		t.Fatalf("MetaAndAssetCtxs: %v", err)
	}
	if len(meta.Universe) != 2 || len(ctxs) != 2 {
		t.Fatalf("universe/ctxs = %d/%d, want 2/2", len(meta.Universe), len(ctxs))
	}
	if ctxs[0].Funding != 0.0000125 || ctxs[0].OpenInterest != 8123.4 {
		t.Errorf("unexpected BTC ctx: %+v", ctxs[0])
	}
	if ctxs[0].MidPx == nil || *ctxs[0].MidPx != 109601.5 {
		t.Errorf("BTC midPx = %v, want 109601.5", ctxs[0].MidPx)
	}
	if ctxs[1].MidPx != nil {
		t.Errorf("ETH midPx = %v, want nil", ctxs[1].MidPx)
	}
}

func TestAPIErrorSurfacesBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))

	_, err := client.AllMids(context.Background())
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if got := err.Error(); !strings.Contains(got, "status 429") || !strings.Contains(got, "rate limited") {
		t.Errorf("error = %q, want status and body", got)
	}
}
