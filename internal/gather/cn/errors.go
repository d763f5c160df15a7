package cn

import (
	"errors"
	"fmt"
)

var (
	// ErrPagination is returned when the provider reports has_more. Calls are
	// expected to fit in one page; narrow the date range or the batch size.
	ErrPagination = errors.New("result spans more than one page")

	// ErrNoTradingDays is returned when the calendar has no open day in the
	// requested range.
	ErrNoTradingDays = errors.New("no open trading days in range")

	// ErrMissingToken is returned by NewClient for an empty API token.
	ErrMissingToken = errors.New("tushare token is empty")
)

// TransportError reports a failed HTTP exchange: the request never completed
// or the server answered with a non-2xx status.
type TransportError struct {
	APIName    string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http status %d", e.APIName, e.StatusCode)
	}
	return fmt.Sprintf("%s: transport: %v", e.APIName, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a response body that is not the expected envelope.
type ProtocolError struct {
	APIName string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.APIName, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// APIError carries the provider's own rejection of a request.
type APIError struct {
	APIName   string
	Code      int
	RequestID string
	Msg       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: api code %d (request_id %s): %s", e.APIName, e.Code, e.RequestID, e.Msg)
}
