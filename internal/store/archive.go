package store

import (
	"context"
	"fmt"
	"slices"

	"tsdata/internal/domain"
)

// ArchiveStats counts what Archive folded into the long-term stores.
type ArchiveStats struct {
	TradeDate  string
	Bars       int
	Valuations int
	Codes      int
}

// Archive copies every instrument file of a completed snapshot into the
// long-term stores. Only kinds listed in the _SUCCESS marker are read; an
// incomplete snapshot is rejected with ErrIncompleteSnapshot.
func Archive(ctx context.Context, snap *Snapshot, bars BarStore, valuations ValuationStore) (ArchiveStats, error) {
	stats := ArchiveStats{TradeDate: snap.TradeDate}

	kinds, err := snap.ReadSuccess()
	if err != nil {
		return stats, err
	}

	seen := make(map[string]struct{})
	if slices.Contains(kinds, domain.KindDaily) {
		codes, err := snap.ListCodes(domain.KindDaily)
		if err != nil {
			return stats, err
		}
		for _, code := range codes {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			rows, err := snap.ReadDailyBars(code)
			if err != nil {
				return stats, err
			}
			if err := bars.WriteDailyBars(ctx, rows); err != nil {
				return stats, fmt.Errorf("archiving %s bars: %w", code, err)
			}
			stats.Bars += len(rows)
			seen[code] = struct{}{}
		}
	}

	if slices.Contains(kinds, domain.KindDailyBasic) {
		codes, err := snap.ListCodes(domain.KindDailyBasic)
		if err != nil {
			return stats, err
		}
		for _, code := range codes {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			rows, err := snap.ReadDailyValuations(code)
			if err != nil {
				return stats, err
			}
			if err := valuations.WriteDailyValuations(ctx, rows); err != nil {
				return stats, fmt.Errorf("archiving %s valuations: %w", code, err)
			}
			stats.Valuations += len(rows)
			seen[code] = struct{}{}
		}
	}

	stats.Codes = len(seen)
	return stats, nil
}
