package cn

import (
	"context"
	"strings"

	"tsdata/internal/domain"
)

// The provider allows 500 calls a minute and 5000 rows a call. Callers split
// codes with gather.Partition before calling the batch fetchers, so a group
// of ten codes covers about 23 months of daily rows in a single page.

func groupParams(codes []string, start, end string) map[string]string {
	return map[string]string{
		"ts_code":    strings.Join(codes, ","),
		"start_date": start,
		"end_date":   end,
	}
}

// FetchDailyBars returns the daily bars of one group of codes between start
// and end inclusive, in one request.
func (c *Client) FetchDailyBars(ctx context.Context, codes []string, start, end string) ([]domain.DailyBar, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	rows, err := c.Call(ctx, "daily", groupParams(codes, start, end), domain.DailyBarColumns)
	if err != nil {
		return nil, err
	}
	return decodeRows("daily", rows, decodeDailyBar)
}

// FetchDailyValuations returns the daily valuation metrics of one group of
// codes between start and end inclusive, in one request.
func (c *Client) FetchDailyValuations(ctx context.Context, codes []string, start, end string) ([]domain.DailyValuation, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	rows, err := c.Call(ctx, "daily_basic", groupParams(codes, start, end), domain.DailyValuationColumns)
	if err != nil {
		return nil, err
	}
	return decodeRows("daily_basic", rows, decodeDailyValuation)
}
