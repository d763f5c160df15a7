package cn

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeTushare is an in-process stand-in for the Tushare endpoint. It serves
// deterministic data for trade_cal, stock_basic, daily and daily_basic and
// records every request it receives.
type fakeTushare struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	requests []apiRequest

	openDays []string            // served by trade_cal, in this order
	stocks   map[string][]string // exchange -> ts_codes
	override func(req apiRequest) (any, bool)
}

func newFakeTushare(t *testing.T) *fakeTushare {
	t.Helper()
	f := &fakeTushare{
		t:        t,
		openDays: []string{"20210909", "20210907", "20210910", "20210908"},
		stocks: map[string][]string{
			"SSE":  codes("SH", 600000, 13),
			"SZSE": codes("SZ", 1, 10),
		},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

// codes returns n exchange-qualified codes starting at first.
func codes(suffix string, first, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%06d.%s", first+i, suffix)
	}
	return out
}

func (f *fakeTushare) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(ClientOptions{URL: f.srv.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func (f *fakeTushare) calls(apiName string) []apiRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiRequest
	for _, r := range f.requests {
		if r.APIName == apiName {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeTushare) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req apiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	override := f.override
	f.mu.Unlock()

	if req.Token != "test-token" {
		writeJSON(w, map[string]any{"code": 40101, "request_id": "bad-token", "msg": "token invalid"})
		return
	}
	if override != nil {
		if body, ok := override(req); ok {
			writeJSON(w, body)
			return
		}
	}

	fields := strings.Split(req.Fields, ",")
	var items [][]any
	switch req.APIName {
	case "trade_cal":
		for _, d := range f.openDays {
			items = append(items, []any{req.Params["exchange"], d, 1})
		}
	case "stock_basic":
		for _, code := range f.stocks[req.Params["exchange"]] {
			items = append(items, instrumentItem(code, req.Params["exchange"]))
		}
	case "daily":
		for _, code := range strings.Split(req.Params["ts_code"], ",") {
			for _, d := range []string{"20210910", "20210909"} {
				items = append(items, []any{code, d, 10.0, 10.5, 9.8, 10.2, 10.0, 0.2, 2.0, 12345.0, 67890.5})
			}
		}
	case "daily_basic":
		for _, code := range strings.Split(req.Params["ts_code"], ",") {
			items = append(items, []any{
				code, "20210910", 10.2, 0.8, nil, 1.1, 12.5, nil, 1.3, nil, nil, nil, nil,
				1000.0, 800.0, 600.0, 10200.0, 8160.0, nil,
			})
		}
	default:
		writeJSON(w, map[string]any{"code": 40203, "request_id": "unknown", "msg": "unknown api"})
		return
	}

	writeJSON(w, map[string]any{
		"code":       0,
		"request_id": "req-" + req.APIName,
		"msg":        "",
		"data":       map[string]any{"fields": fields, "items": items, "has_more": false},
	})
}

func instrumentItem(code, exchange string) []any {
	symbol, _, _ := strings.Cut(code, ".")
	return []any{
		code, symbol, "name " + symbol, "上海", "银行", "full " + symbol, nil, "xx",
		"主板", exchange, "CNY", "L", "20000101", nil, "N",
	}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
