// Package analysis decides whether a crawled snapshot may be used by
// downstream analysis and summarizes snapshots for display.
package analysis

import (
	"errors"
	"fmt"
	"slices"

	"tsdata/internal/store"
)

// Result is the readiness verdict for one snapshot.
type Result struct {
	TradeDate string
	Dir       string

	// Finish is true when the _SUCCESS marker exists. Without it the
	// snapshot is untrustworthy whatever else the directory holds.
	Finish bool

	// Good is true when the snapshot is finished, lists every required kind
	// and holds one file per catalog entry for each listed kind.
	Good bool

	Kinds       []string // kinds named by _SUCCESS
	Instruments int      // catalog size, zero when unreadable
	Problems    []string // why Good is false
}

// Evaluate checks the snapshot of one trade date. required lists the kinds
// downstream consumers need; nil accepts whatever the marker lists. Only a
// malformed tradeDate and filesystem failures are returned as errors;
// everything else is reported in the Result.
func Evaluate(snapshots *store.SnapshotStore, tradeDate string, required []string) (*Result, error) {
	snap, err := snapshots.Open(tradeDate)
	if err != nil {
		return nil, err
	}
	res := &Result{TradeDate: tradeDate, Dir: snap.Dir}

	kinds, err := snap.ReadSuccess()
	if errors.Is(err, store.ErrIncompleteSnapshot) {
		res.Problems = append(res.Problems, "missing _SUCCESS marker")
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.Finish = true
	res.Kinds = kinds

	for _, k := range required {
		if !slices.Contains(kinds, k) {
			res.Problems = append(res.Problems, fmt.Sprintf("kind %s not materialized", k))
		}
	}

	stocks, err := snap.ReadStocks()
	if err != nil {
		res.Problems = append(res.Problems, fmt.Sprintf("stocks_list unreadable: %v", err))
	} else {
		res.Instruments = len(stocks)
		for _, k := range kinds {
			codes, err := snap.ListCodes(k)
			if err != nil {
				res.Problems = append(res.Problems, fmt.Sprintf("kind %s: %v", k, err))
				continue
			}
			if len(codes) != len(stocks) {
				res.Problems = append(res.Problems,
					fmt.Sprintf("kind %s has %d files for %d instruments", k, len(codes), len(stocks)))
			}
		}
	}

	res.Good = len(res.Problems) == 0
	return res, nil
}

// EvaluateLatest evaluates the newest snapshot that carries a _SUCCESS
// marker. It returns store.ErrNoSnapshot when there is none.
func EvaluateLatest(snapshots *store.SnapshotStore, required []string) (*Result, error) {
	snap, err := snapshots.LatestComplete()
	if err != nil {
		return nil, err
	}
	return Evaluate(snapshots, snap.TradeDate, required)
}
