package util

import (
	"fmt"
	"time"
)

// TradeDateLayout is the provider's fixed-width date format. Because every
// value is eight digits, lexicographic order equals chronological order.
const TradeDateLayout = "20060102"

// ChinaStandardTime is the exchange time zone (UTC+8, no daylight saving).
var ChinaStandardTime = time.FixedZone("CST", 8*60*60)

// ParseTradeDate parses a YYYYMMDD string.
func ParseTradeDate(s string) (time.Time, error) {
	if len(s) != len(TradeDateLayout) {
		return time.Time{}, fmt.Errorf("trade date %q: want YYYYMMDD", s)
	}
	t, err := time.ParseInLocation(TradeDateLayout, s, ChinaStandardTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("trade date %q: %w", s, err)
	}
	return t, nil
}

// FormatTradeDate formats t as YYYYMMDD in exchange time.
func FormatTradeDate(t time.Time) string {
	return t.In(ChinaStandardTime).Format(TradeDateLayout)
}

// Today returns the current exchange-local date as YYYYMMDD.
func Today() string {
	return FormatTradeDate(time.Now())
}
