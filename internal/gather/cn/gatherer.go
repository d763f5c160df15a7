package cn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tsdata/internal/domain"
	"tsdata/internal/gather"
	"tsdata/internal/store"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ gather.Gatherer = (*DailyGatherer)(nil)
var _ Provider = (*Client)(nil)

// Provider is the subset of the Tushare API the daily pipeline needs.
type Provider interface {
	ResolveBounds(ctx context.Context, start, end string) (earliest, latest string, err error)
	FetchStocks(ctx context.Context, exchange, market string) ([]domain.Instrument, error)
	FetchDailyBars(ctx context.Context, codes []string, start, end string) ([]domain.DailyBar, error)
	FetchDailyValuations(ctx context.Context, codes []string, start, end string) ([]domain.DailyValuation, error)
}

// Board is one exchange/board pair whose listed instruments are crawled.
type Board struct {
	Exchange string
	Market   string
}

// DefaultBoards are the Shanghai and Shenzhen main boards.
var DefaultBoards = []Board{
	{Exchange: domain.ExchangeSSE, Market: "主板"},
	{Exchange: domain.ExchangeSZSE, Market: "主板"},
}

// DailyOptions configures a DailyGatherer.
type DailyOptions struct {
	Range     gather.DateRange
	Kind      domain.DownloadKind
	BatchSize int     // codes per provider call, 10 when zero
	Boards    []Board // DefaultBoards when empty
}

// RunResult summarizes one completed pass.
type RunResult struct {
	RunID       string
	TradeDate   string // latest open trade date, names the snapshot
	Earliest    string
	Latest      string
	Instruments int
	Groups      int
	Kinds       []string
	Dir         string
	Elapsed     time.Duration
}

// ---------------------------------------------------------------------------
// DailyGatherer
// ---------------------------------------------------------------------------

// DailyGatherer crawls one A-share snapshot: calendar bounds, the instrument
// catalog, daily bars and daily valuations for every listed code, then the
// _SUCCESS marker. Every step is fatal on error and nothing is retried; a
// failed run leaves a snapshot without _SUCCESS behind.
type DailyGatherer struct {
	provider  Provider
	snapshots *store.SnapshotStore
	journal   store.RunJournal // optional
	opts      DailyOptions
	log       *slog.Logger
}

// NewDailyGatherer creates a DailyGatherer writing snapshots into snapshots.
// journal may be nil.
func NewDailyGatherer(p Provider, snapshots *store.SnapshotStore, journal store.RunJournal, opts DailyOptions) *DailyGatherer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if len(opts.Boards) == 0 {
		opts.Boards = DefaultBoards
	}
	if opts.Kind == "" {
		opts.Kind = domain.DownloadAll
	}
	return &DailyGatherer{
		provider:  p,
		snapshots: snapshots,
		journal:   journal,
		opts:      opts,
		log:       slog.Default().With("gatherer", "cn-daily"),
	}
}

// WithLogger replaces the gatherer's logger.
func (g *DailyGatherer) WithLogger(l *slog.Logger) *DailyGatherer {
	g.log = l.With("gatherer", "cn-daily")
	return g
}

// Name returns the gatherer identifier.
func (g *DailyGatherer) Name() string { return "cn-daily" }

// Run performs one complete crawl.
func (g *DailyGatherer) Run(ctx context.Context) error {
	_, err := g.RunOnce(ctx)
	return err
}

// RunOnce performs one complete crawl and reports what it produced. When a
// journal is configured the run is recorded there; journal failures are
// logged and never fail the crawl.
func (g *DailyGatherer) RunOnce(ctx context.Context) (*RunResult, error) {
	began := time.Now()
	run := &store.Run{
		ID:           uuid.NewString(),
		StartDate:    g.opts.Range.Start,
		EndDate:      g.opts.Range.End,
		DownloadType: string(g.opts.Kind),
		StartedAt:    began,
	}
	log := g.log.With("run", run.ID)
	g.startRun(ctx, log, run)

	res, err := g.crawl(ctx, log, run.ID)
	if res != nil {
		res.Elapsed = time.Since(began)
		run.TradeDate = res.TradeDate
		run.Instruments = res.Instruments
	}
	if err != nil {
		run.Status = store.RunFailed
		run.Error = err.Error()
		g.finishRun(ctx, log, run)
		log.Error("cn-daily failed", "error", err)
		return nil, err
	}

	run.Status = store.RunSucceeded
	run.Kinds = res.Kinds
	g.finishRun(ctx, log, run)
	log.Info("cn-daily complete",
		"tradeDate", res.TradeDate,
		"instruments", res.Instruments,
		"groups", res.Groups,
		"kinds", res.Kinds,
		"elapsed", res.Elapsed.Round(time.Millisecond),
	)
	return res, nil
}

// crawl walks the linear pipeline. The partial result it returns on error
// carries whatever was resolved before the failure.
func (g *DailyGatherer) crawl(ctx context.Context, log *slog.Logger, runID string) (*RunResult, error) {
	res := &RunResult{RunID: runID}

	// 1. Resolve the open-day bounds of the requested range.
	earliest, latest, err := g.provider.ResolveBounds(ctx, g.opts.Range.Start, g.opts.Range.End)
	if err != nil {
		return res, fmt.Errorf("resolving trade calendar: %w", err)
	}
	res.Earliest, res.Latest, res.TradeDate = earliest, latest, latest
	log.Info("resolved trade calendar", "earliest", earliest, "latest", latest)

	// 2. Start a fresh snapshot for the latest trade date.
	snap, err := g.snapshots.InitLayout(latest)
	if err != nil {
		return res, err
	}
	res.Dir = snap.Dir

	// 3. Fetch and persist the catalog of every board.
	var stocks []domain.Instrument
	for _, b := range g.opts.Boards {
		batch, err := g.provider.FetchStocks(ctx, b.Exchange, b.Market)
		if err != nil {
			return res, fmt.Errorf("fetching stocks %s/%s: %w", b.Exchange, b.Market, err)
		}
		stocks = append(stocks, batch...)
	}
	if err := snap.WriteStocks(stocks); err != nil {
		return res, err
	}

	// 4. Batch from what was persisted, not from memory.
	stocks, err = snap.ReadStocks()
	if err != nil {
		return res, fmt.Errorf("reading back stocks: %w", err)
	}
	codes := make([]string, len(stocks))
	for i, s := range stocks {
		codes[i] = s.TSCode
	}
	groups := gather.Partition(codes, g.opts.BatchSize)
	res.Instruments, res.Groups = len(codes), len(groups)
	log.Info("stocks persisted", "count", len(codes), "groups", len(groups))

	// 5. Daily bars.
	if g.opts.Kind.WantsDaily() {
		for i, group := range groups {
			bars, err := g.provider.FetchDailyBars(ctx, group, earliest, latest)
			if err != nil {
				return res, fmt.Errorf("fetching daily group %d/%d: %w", i+1, len(groups), err)
			}
			for _, code := range group {
				if err := snap.WriteDailyBars(code, bars); err != nil {
					return res, err
				}
			}
			log.Debug("daily group written", "group", i+1, "of", len(groups), "rows", len(bars))
		}
		log.Info("daily bars written", "instruments", len(codes))
	}

	// 6. Daily valuation metrics.
	if g.opts.Kind.WantsDailyBasic() {
		for i, group := range groups {
			rows, err := g.provider.FetchDailyValuations(ctx, group, earliest, latest)
			if err != nil {
				return res, fmt.Errorf("fetching daily_basic group %d/%d: %w", i+1, len(groups), err)
			}
			for _, code := range group {
				if err := snap.WriteDailyValuations(code, rows); err != nil {
					return res, err
				}
			}
			log.Debug("daily_basic group written", "group", i+1, "of", len(groups), "rows", len(rows))
		}
		log.Info("daily valuations written", "instruments", len(codes))
	}

	// 7. Mark the snapshot complete. Nothing may be written after this.
	res.Kinds = g.opts.Kind.Kinds()
	if err := snap.WriteSuccess(res.Kinds); err != nil {
		return res, err
	}
	return res, nil
}

func (g *DailyGatherer) startRun(ctx context.Context, log *slog.Logger, run *store.Run) {
	if g.journal == nil {
		return
	}
	if err := g.journal.StartRun(ctx, run); err != nil {
		log.Warn("journal start failed", "error", err)
	}
}

func (g *DailyGatherer) finishRun(ctx context.Context, log *slog.Logger, run *store.Run) {
	if g.journal == nil {
		return
	}
	// The crawl context may already be cancelled; the final state is still
	// worth recording.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := g.journal.FinishRun(ctx, run); err != nil {
		log.Warn("journal finish failed", "error", err)
	}
}
