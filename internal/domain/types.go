// Package domain holds the record types shared by the gatherers, the
// snapshot store and the readiness check.
package domain

import (
	"fmt"
	"strings"

	"github.com/guregu/null/v6"
)

// Market identifies the market a gatherer targets.
type Market string

const (
	MarketCN Market = "cn"
)

// Exchange codes accepted by the provider.
const (
	ExchangeSSE  = "SSE"
	ExchangeSZSE = "SZSE"
)

// ListStatusListed selects instruments that are currently trading.
const ListStatusListed = "L"

// Instrument is one row of the stock catalog.
type Instrument struct {
	TSCode     string      // exchange-qualified code, e.g. "600000.SH"
	Symbol     string      // bare code, e.g. "600000"
	Name       string
	Area       string
	Industry   string
	FullName   string
	EnName     string
	CnSpell    string
	Market     string
	Exchange   string
	CurrType   string
	ListStatus string
	ListDate   string
	DelistDate null.String // absent while the instrument is listed
	IsHS       string      // cross-border trading flag: N, H or S
}

// ValidateCode checks that code can name a per-instrument file: it must be
// non-empty, must not be "." or "..", and must hold no path separator.
func ValidateCode(code string) error {
	if code == "" || code == "." || code == ".." || strings.ContainsAny(code, "/\\\x00") {
		return fmt.Errorf("invalid ts_code %q", code)
	}
	return nil
}

// DailyBar is one unadjusted daily price bar.
type DailyBar struct {
	TSCode    string
	TradeDate string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	PreClose  float64
	Change    float64
	PctChg    float64
	Vol       float64 // lots
	Amount    float64 // thousand CNY
}

// DailyValuation holds the daily valuation metrics of one instrument. The
// nullable fields are legitimately missing for new listings, suspended
// instruments and loss-making companies.
type DailyValuation struct {
	TSCode        string
	TradeDate     string
	Close         float64
	TurnoverRate  float64
	TurnoverRateF null.Float
	VolumeRatio   null.Float
	PE            null.Float
	PETTM         null.Float
	PB            null.Float
	PS            null.Float
	PSTTM         null.Float
	DVRatio       null.Float
	DVTTM         null.Float
	TotalShare    float64
	FloatShare    float64
	FreeShare     float64
	TotalMV       float64
	CircMV        float64
	LimitStatus   null.Int
}

// CalendarDay is one entry of the exchange trading calendar.
type CalendarDay struct {
	Exchange string
	CalDate  string // YYYYMMDD
	IsOpen   bool
}

// DownloadKind selects which daily data sets a run materializes.
type DownloadKind string

const (
	DownloadAll        DownloadKind = "all"
	DownloadDaily      DownloadKind = "daily"
	DownloadDailyBasic DownloadKind = "daily_basic"
)

// Data set names as they appear in the completion marker.
const (
	KindDaily      = "daily"
	KindDailyBasic = "daily_basic"
)

// ParseDownloadKind converts a config or flag value into a DownloadKind.
func ParseDownloadKind(s string) (DownloadKind, error) {
	switch DownloadKind(s) {
	case DownloadAll, DownloadDaily, DownloadDailyBasic:
		return DownloadKind(s), nil
	}
	return "", fmt.Errorf("unknown download type %q (want all, daily or daily_basic)", s)
}

// Kinds returns the data set names the download kind materializes, in
// completion-marker order.
func (k DownloadKind) Kinds() []string {
	switch k {
	case DownloadAll:
		return []string{KindDaily, KindDailyBasic}
	case DownloadDaily:
		return []string{KindDaily}
	case DownloadDailyBasic:
		return []string{KindDailyBasic}
	}
	return nil
}

// WantsDaily reports whether daily bars are part of the download.
func (k DownloadKind) WantsDaily() bool {
	return k == DownloadAll || k == DownloadDaily
}

// WantsDailyBasic reports whether valuation metrics are part of the download.
func (k DownloadKind) WantsDailyBasic() bool {
	return k == DownloadAll || k == DownloadDailyBasic
}

// Column orders shared by the provider field projections and the snapshot
// file headers.
var (
	InstrumentColumns = []string{
		"ts_code", "symbol", "name", "area", "industry", "fullname", "enname", "cnspell",
		"market", "exchange", "curr_type", "list_status", "list_date", "delist_date", "is_hs",
	}
	DailyBarColumns = []string{
		"ts_code", "trade_date", "open", "high", "low", "close", "pre_close",
		"change", "pct_chg", "vol", "amount",
	}
	DailyValuationColumns = []string{
		"ts_code", "trade_date", "close", "turnover_rate", "turnover_rate_f", "volume_ratio",
		"pe", "pe_ttm", "pb", "ps", "ps_ttm", "dv_ratio", "dv_ttm",
		"total_share", "float_share", "free_share", "total_mv", "circ_mv", "limit_status",
	}
	CalendarColumns = []string{"exchange", "cal_date", "is_open"}
)
