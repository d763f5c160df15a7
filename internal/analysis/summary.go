package analysis

import (
	"fmt"
	"strings"

	"tsdata/internal/domain"
	"tsdata/internal/store"
)

// Summary describes the last trade date of a finished snapshot.
type Summary struct {
	TradeDate string
	Bars      int     // daily rows across the whole range
	Amount    float64 // turnover on TradeDate, thousand CNY
	Advancers int
	Decliners int
	Unchanged int
	Missing   int // instruments without a bar on TradeDate, e.g. suspended
}

// Summarize reads every daily_data file of a finished snapshot.
func Summarize(snap *store.Snapshot) (*Summary, error) {
	if !snap.IsComplete() {
		return nil, store.ErrIncompleteSnapshot
	}
	codes, err := snap.ListCodes(domain.KindDaily)
	if err != nil {
		return nil, err
	}

	s := &Summary{TradeDate: snap.TradeDate}
	for _, code := range codes {
		bars, err := snap.ReadDailyBars(code)
		if err != nil {
			return nil, err
		}
		s.Bars += len(bars)

		var last *domain.DailyBar
		for i := range bars {
			if bars[i].TradeDate == snap.TradeDate {
				last = &bars[i]
				break
			}
		}
		switch {
		case last == nil:
			s.Missing++
		case last.Change > 0:
			s.Advancers++
		case last.Change < 0:
			s.Decliners++
		default:
			s.Unchanged++
		}
		if last != nil {
			s.Amount += last.Amount
		}
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) > 3 {
		var b strings.Builder
		start := len(s) % 3
		if start > 0 {
			b.WriteString(s[:start])
		}
		for i := start; i < len(s); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(s[i : i+3])
		}
		s = b.String()
	}
	if neg {
		return "-" + s
	}
	return s
}

// FormatAmount formats a turnover given in thousand CNY using the 亿 (1e8)
// and 万 (1e4) units.
func FormatAmount(thousands float64) string {
	v := thousands * 1e3
	switch {
	case v >= 1e8:
		return fmt.Sprintf("%.2f亿", v/1e8)
	case v >= 1e4:
		return fmt.Sprintf("%.1f万", v/1e4)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}

// String renders the summary on one line.
func (s *Summary) String() string {
	return fmt.Sprintf("%s: %s bars, turnover %s, up %s / down %s / flat %s, no bar %s",
		s.TradeDate, FormatInt(s.Bars), FormatAmount(s.Amount),
		FormatInt(s.Advancers), FormatInt(s.Decliners), FormatInt(s.Unchanged), FormatInt(s.Missing))
}
