// Package gather defines the contract shared by data gatherers and the
// batching helper they use to stay inside provider limits.
package gather

import (
	"context"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one complete gathering pass. It returns when the pass
	// finishes, fails, or ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange is an inclusive range of YYYYMMDD trade dates.
type DateRange struct {
	Start string
	End   string
}

// Partition splits items into consecutive groups of at most size elements,
// preserving order. Every group but the last holds exactly size elements.
// A non-positive size yields a single group.
func Partition[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}
	groups := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		groups = append(groups, items[i:end:end])
	}
	return groups
}
