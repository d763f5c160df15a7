package cn

import (
	"context"

	"tsdata/internal/domain"
)

// FetchStocks returns the currently listed instruments of one exchange and
// board (market), e.g. ("SSE", "主板"). An empty market selects every board.
// Results of different exchanges are not deduplicated against each other.
func (c *Client) FetchStocks(ctx context.Context, exchange, market string) ([]domain.Instrument, error) {
	params := map[string]string{
		"exchange":    exchange,
		"list_status": domain.ListStatusListed,
	}
	if market != "" {
		params["market"] = market
	}

	rows, err := c.Call(ctx, "stock_basic", params, domain.InstrumentColumns)
	if err != nil {
		return nil, err
	}
	stocks, err := decodeRows("stock_basic", rows, decodeInstrument)
	if err != nil {
		return nil, err
	}

	c.log.Debug("fetched stocks", "exchange", exchange, "market", market, "count", len(stocks))
	return stocks, nil
}
