package cn

import (
	"context"
	"fmt"

	"tsdata/internal/domain"
)

// TradeCalendar returns the open trading days of exchange within
// [start, end]. Closed days are dropped.
func (c *Client) TradeCalendar(ctx context.Context, exchange, start, end string) ([]domain.CalendarDay, error) {
	params := map[string]string{
		"exchange":   exchange,
		"start_date": start,
		"end_date":   end,
		"is_open":    "1",
	}
	rows, err := c.Call(ctx, "trade_cal", params, domain.CalendarColumns)
	if err != nil {
		return nil, err
	}
	days, err := decodeRows("trade_cal", rows, decodeCalendarDay)
	if err != nil {
		return nil, err
	}

	open := days[:0]
	for _, d := range days {
		if d.IsOpen {
			open = append(open, d)
		}
	}
	return open, nil
}

// ResolveBounds returns the earliest and latest SSE open trading days within
// [start, end].
func (c *Client) ResolveBounds(ctx context.Context, start, end string) (earliest, latest string, err error) {
	days, err := c.TradeCalendar(ctx, domain.ExchangeSSE, start, end)
	if err != nil {
		return "", "", err
	}
	earliest, latest, err = Bounds(days)
	if err != nil {
		return "", "", fmt.Errorf("%s..%s: %w", start, end, err)
	}
	return earliest, latest, nil
}

// Bounds reduces calendar days to their minimum and maximum date. Dates are
// fixed-width YYYYMMDD strings, so string order is chronological order.
func Bounds(days []domain.CalendarDay) (earliest, latest string, err error) {
	if len(days) == 0 {
		return "", "", ErrNoTradingDays
	}
	earliest, latest = days[0].CalDate, days[0].CalDate
	for _, d := range days[1:] {
		earliest = min(earliest, d.CalDate)
		latest = max(latest, d.CalDate)
	}
	return earliest, latest, nil
}
