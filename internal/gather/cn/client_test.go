package cn

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"tsdata/internal/domain"
)

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(ClientOptions{URL: "http://localhost"}); !errors.Is(err, ErrMissingToken) {
		t.Errorf("NewClient without token = %v, want ErrMissingToken", err)
	}
}

func TestCallSendsEnvelope(t *testing.T) {
	f := newFakeTushare(t)
	c := f.client(t)

	if _, err := c.FetchStocks(context.Background(), "SSE", "主板"); err != nil {
		t.Fatalf("FetchStocks: %v", err)
	}
	reqs := f.calls("stock_basic")
	if len(reqs) != 1 {
		t.Fatalf("stock_basic calls = %d, want 1", len(reqs))
	}
	req := reqs[0]
	if req.Token != "test-token" {
		t.Errorf("token = %q, want %q", req.Token, "test-token")
	}
	if req.Fields != strings.Join(domain.InstrumentColumns, ",") {
		t.Errorf("fields = %q", req.Fields)
	}
	if req.Params["list_status"] != "L" || req.Params["exchange"] != "SSE" || req.Params["market"] != "主板" {
		t.Errorf("params = %v", req.Params)
	}
}

func TestResolveBounds(t *testing.T) {
	f := newFakeTushare(t)
	c := f.client(t)

	earliest, latest, err := c.ResolveBounds(context.Background(), "20210905", "20210912")
	if err != nil {
		t.Fatalf("ResolveBounds: %v", err)
	}
	if earliest != "20210907" || latest != "20210910" {
		t.Errorf("ResolveBounds = (%q, %q), want (%q, %q)", earliest, latest, "20210907", "20210910")
	}

	req := f.calls("trade_cal")[0]
	if req.Params["exchange"] != "SSE" || req.Params["is_open"] != "1" {
		t.Errorf("trade_cal params = %v", req.Params)
	}
}

func TestResolveBoundsNoTradingDays(t *testing.T) {
	f := newFakeTushare(t)
	f.openDays = nil
	c := f.client(t)

	_, _, err := c.ResolveBounds(context.Background(), "20211001", "20211003")
	if !errors.Is(err, ErrNoTradingDays) {
		t.Errorf("ResolveBounds on holiday range = %v, want ErrNoTradingDays", err)
	}
}

func TestBoundsDropsNothing(t *testing.T) {
	days := []domain.CalendarDay{{CalDate: "20210102"}, {CalDate: "20201231"}, {CalDate: "20210104"}}
	earliest, latest, err := Bounds(days)
	if err != nil {
		t.Fatalf("Bounds: %v", err)
	}
	if earliest != "20201231" || latest != "20210104" {
		t.Errorf("Bounds = (%q, %q)", earliest, latest)
	}
}

func TestFetchStocksDecodesNulls(t *testing.T) {
	f := newFakeTushare(t)
	c := f.client(t)

	stocks, err := c.FetchStocks(context.Background(), "SZSE", "主板")
	if err != nil {
		t.Fatalf("FetchStocks: %v", err)
	}
	if len(stocks) != 10 {
		t.Fatalf("FetchStocks returned %d rows, want 10", len(stocks))
	}
	s := stocks[0]
	if s.TSCode != "000001.SZ" || s.Symbol != "000001" || s.Exchange != "SZSE" {
		t.Errorf("first stock = %+v", s)
	}
	if s.DelistDate.Valid {
		t.Errorf("DelistDate = %q, want absent", s.DelistDate.String)
	}
	if s.EnName != "" {
		t.Errorf("EnName = %q, want empty for null", s.EnName)
	}
}

func TestFetchDailyBarsJoinsCodes(t *testing.T) {
	f := newFakeTushare(t)
	c := f.client(t)

	group := []string{"600000.SH", "600001.SH", "600002.SH"}
	bars, err := c.FetchDailyBars(context.Background(), group, "20210909", "20210910")
	if err != nil {
		t.Fatalf("FetchDailyBars: %v", err)
	}
	if len(bars) != 6 {
		t.Errorf("FetchDailyBars returned %d bars, want 6", len(bars))
	}
	req := f.calls("daily")[0]
	if req.Params["ts_code"] != "600000.SH,600001.SH,600002.SH" {
		t.Errorf("ts_code = %q", req.Params["ts_code"])
	}
	if req.Params["start_date"] != "20210909" || req.Params["end_date"] != "20210910" {
		t.Errorf("date params = %v", req.Params)
	}

	if got, err := c.FetchDailyBars(context.Background(), nil, "20210909", "20210910"); err != nil || got != nil {
		t.Errorf("FetchDailyBars(nil) = %v, %v; want nil, nil", got, err)
	}
	if n := len(f.calls("daily")); n != 1 {
		t.Errorf("daily calls = %d, want 1 (empty group sends nothing)", n)
	}
}

func TestFetchDailyValuationsNulls(t *testing.T) {
	f := newFakeTushare(t)
	c := f.client(t)

	rows, err := c.FetchDailyValuations(context.Background(), []string{"000001.SZ"}, "20210910", "20210910")
	if err != nil {
		t.Fatalf("FetchDailyValuations: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("FetchDailyValuations returned %d rows, want 1", len(rows))
	}
	v := rows[0]
	if v.TurnoverRateF.Valid || v.PETTM.Valid || v.LimitStatus.Valid {
		t.Errorf("null metrics decoded as present: %+v", v)
	}
	if !v.PE.Valid || v.PE.Float64 != 12.5 {
		t.Errorf("PE = %+v, want 12.5", v.PE)
	}
	if v.TotalMV != 10200 {
		t.Errorf("TotalMV = %v, want 10200", v.TotalMV)
	}
}

// allFetches maps each provider API to a call that exercises it.
func allFetches(c *Client) map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"trade_cal": func(ctx context.Context) error {
			_, _, err := c.ResolveBounds(ctx, "20210901", "20210910")
			return err
		},
		"stock_basic": func(ctx context.Context) error {
			_, err := c.FetchStocks(ctx, "SSE", "主板")
			return err
		},
		"daily": func(ctx context.Context) error {
			_, err := c.FetchDailyBars(ctx, []string{"600000.SH"}, "20210901", "20210910")
			return err
		},
		"daily_basic": func(ctx context.Context) error {
			_, err := c.FetchDailyValuations(ctx, []string{"600000.SH"}, "20210901", "20210910")
			return err
		},
	}
}

func TestEnvelopeErrors(t *testing.T) {
	f := newFakeTushare(t)
	f.override = func(req apiRequest) (any, bool) {
		return map[string]any{"code": 40203, "request_id": "rid-1", "msg": "抱歉，您每分钟最多访问该接口500次"}, true
	}
	c := f.client(t)

	for name, fetch := range allFetches(c) {
		err := fetch(context.Background())
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Errorf("%s: err = %v, want *APIError", name, err)
			continue
		}
		if apiErr.Code != 40203 || apiErr.RequestID != "rid-1" || apiErr.APIName != name {
			t.Errorf("%s: APIError = %+v", name, apiErr)
		}
	}
}

func TestPaginationIsFatal(t *testing.T) {
	f := newFakeTushare(t)
	f.override = func(req apiRequest) (any, bool) {
		return map[string]any{
			"code": 0,
			"data": map[string]any{"fields": []string{}, "items": [][]any{}, "has_more": true},
		}, true
	}
	c := f.client(t)

	for name, fetch := range allFetches(c) {
		if err := fetch(context.Background()); !errors.Is(err, ErrPagination) {
			t.Errorf("%s: err = %v, want ErrPagination", name, err)
		}
	}
}

func TestMalformedResponses(t *testing.T) {
	cases := []struct {
		name string
		body any
	}{
		{"no data", map[string]any{"code": 0}},
		{"short row", map[string]any{"code": 0, "data": map[string]any{"items": [][]any{{"600000.SH"}}}}},
		{"null mandatory number", map[string]any{"code": 0, "data": map[string]any{"items": [][]any{
			{"600000.SH", "20210910", nil, 1, 1, 1, 1, 1, 1, 1, 1},
		}}}},
		{"null trade date", map[string]any{"code": 0, "data": map[string]any{"items": [][]any{
			{"600000.SH", nil, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		}}}},
		{"bad trade date", map[string]any{"code": 0, "data": map[string]any{"items": [][]any{
			{"600000.SH", "2021-09-10", 1, 1, 1, 1, 1, 1, 1, 1, 1},
		}}}},
		{"code with path", map[string]any{"code": 0, "data": map[string]any{"items": [][]any{
			{"../stocks_list", "20210910", 1, 1, 1, 1, 1, 1, 1, 1, 1},
		}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeTushare(t)
			f.override = func(apiRequest) (any, bool) { return tc.body, true }
			_, err := f.client(t).FetchDailyBars(context.Background(), []string{"600000.SH"}, "20210910", "20210910")
			var protoErr *ProtocolError
			if !errors.As(err, &protoErr) {
				t.Errorf("err = %v, want *ProtocolError", err)
			}
		})
	}
}

func TestNullCalendarDateRejected(t *testing.T) {
	f := newFakeTushare(t)
	f.override = func(req apiRequest) (any, bool) {
		return map[string]any{"code": 0, "data": map[string]any{"items": [][]any{{"SSE", nil, 1}}}}, true
	}
	_, _, err := f.client(t).ResolveBounds(context.Background(), "20210901", "20210912")
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Errorf("ResolveBounds = %v, want *ProtocolError", err)
	}
}

func TestStockCodeWithSeparatorRejected(t *testing.T) {
	f := newFakeTushare(t)
	f.stocks["SSE"] = []string{"600000.SH", "../600001.SH"}
	_, err := f.client(t).FetchStocks(context.Background(), "SSE", "主板")
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Errorf("FetchStocks = %v, want *ProtocolError", err)
	}
}

func TestFractionalLimitStatusRejected(t *testing.T) {
	f := newFakeTushare(t)
	f.override = func(req apiRequest) (any, bool) {
		return map[string]any{"code": 0, "data": map[string]any{"items": [][]any{{
			"600000.SH", "20210910", 10.2, 0.8, nil, 1.1, 12.5, nil, 1.3, nil, nil, nil, nil,
			1000.0, 800.0, 600.0, 10200.0, 8160.0, 1.5,
		}}}}, true
	}
	_, err := f.client(t).FetchDailyValuations(context.Background(), []string{"600000.SH"}, "20210910", "20210910")
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Errorf("FetchDailyValuations = %v, want *ProtocolError", err)
	}
}

func TestInvalidJSON(t *testing.T) {
	f := newFakeTushare(t)
	f.srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>gateway</html>"))
	})
	_, err := f.client(t).FetchStocks(context.Background(), "SSE", "")
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Errorf("err = %v, want *ProtocolError", err)
	}
}

func TestHTTPStatusIsTransportError(t *testing.T) {
	f := newFakeTushare(t)
	f.srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "busy", http.StatusBadGateway)
	})
	_, err := f.client(t).FetchStocks(context.Background(), "SSE", "")
	var trErr *TransportError
	if !errors.As(err, &trErr) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if trErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want %d", trErr.StatusCode, http.StatusBadGateway)
	}
}

func TestUnreachableIsTransportError(t *testing.T) {
	f := newFakeTushare(t)
	c := f.client(t)
	f.srv.Close()

	_, err := c.FetchStocks(context.Background(), "SSE", "")
	var trErr *TransportError
	if !errors.As(err, &trErr) {
		t.Errorf("err = %v, want *TransportError", err)
	}
}
