// Package cn gathers China A-share reference and daily data from the Tushare
// Pro HTTP API and persists it as date-stamped snapshots.
package cn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"tsdata/internal/util"
)

// Client issues requests against the single Tushare Pro endpoint. Every
// request is a POST of {api_name, token, params, fields}; the response is a
// common envelope whose data.items rows are positional arrays ordered like
// the requested fields.
type Client struct {
	http    *resty.Client
	url     string
	token   string
	limiter *util.RateLimiter
	log     *slog.Logger
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	URL             string
	Token           string
	Timeout         time.Duration
	RateLimitPerMin int // zero disables client-side limiting
	Logger          *slog.Logger
}

// NewClient creates a Client. It fails with ErrMissingToken when no token is
// configured.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Token == "" {
		return nil, ErrMissingToken
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hc := resty.New()
	hc.SetHeader("Content-Type", "application/json")
	if opts.Timeout > 0 {
		hc.SetTimeout(opts.Timeout)
	}

	return &Client{
		http:    hc,
		url:     opts.URL,
		token:   opts.Token,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		log:     logger.With("component", "tushare"),
	}, nil
}

type apiRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

type apiResponse struct {
	Code      int      `json:"code"`
	RequestID string   `json:"request_id"`
	Msg       string   `json:"msg"`
	Data      *apiData `json:"data"`
}

type apiData struct {
	Fields  []string            `json:"fields"`
	Items   [][]json.RawMessage `json:"items"`
	HasMore bool                `json:"has_more"`
}

// Call sends one request and returns the envelope's data.items. Each row has
// exactly len(fields) positions.
func (c *Client) Call(ctx context.Context, apiName string, params map[string]string, fields []string) ([][]json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := apiRequest{
		APIName: apiName,
		Token:   c.token,
		Params:  params,
		Fields:  strings.Join(fields, ","),
	}
	c.log.Debug("tushare request", "api", apiName, "params", params)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post(c.url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{APIName: apiName, Err: err}
	}
	if !resp.IsSuccess() {
		return nil, &TransportError{APIName: apiName, StatusCode: resp.StatusCode()}
	}

	var env apiResponse
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, &ProtocolError{APIName: apiName, Err: err}
	}
	if env.Code != 0 {
		return nil, &APIError{APIName: apiName, Code: env.Code, RequestID: env.RequestID, Msg: env.Msg}
	}
	if env.Data == nil {
		return nil, &ProtocolError{APIName: apiName, Err: errors.New("envelope has no data")}
	}
	if env.Data.HasMore {
		return nil, fmt.Errorf("%s: %w", apiName, ErrPagination)
	}

	for i, row := range env.Data.Items {
		if len(row) != len(fields) {
			return nil, &ProtocolError{
				APIName: apiName,
				Err:     fmt.Errorf("row %d has %d columns, want %d", i, len(row), len(fields)),
			}
		}
	}

	c.log.Debug("tushare response", "api", apiName, "request_id", env.RequestID, "rows", len(env.Data.Items))
	return env.Data.Items, nil
}
