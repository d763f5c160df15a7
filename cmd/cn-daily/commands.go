package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"tsdata/internal/analysis"
	"tsdata/internal/cnapi"
	"tsdata/internal/config"
	"tsdata/internal/domain"
	"tsdata/internal/gather"
	"tsdata/internal/gather/cn"
	"tsdata/internal/store"
	"tsdata/internal/util"
)

// app carries state shared by all subcommands once the root command has
// loaded the configuration.
type app struct {
	cfgPath  string
	logLevel string
	cfg      *config.Config
	log      *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	defaultCfg := "config/tsdata.yaml"
	if p := os.Getenv("TSDATA_CONFIG"); p != "" {
		defaultCfg = p
	}

	root := &cobra.Command{
		Use:           "cn-daily",
		Short:         "Crawl A-share daily data from Tushare Pro",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", defaultCfg, "configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		a.newRunCmd(),
		a.newCheckCmd(),
		a.newScheduleCmd(),
		a.newArchiveCmd(),
		a.newHistoryCmd(),
		a.newServeCmd(),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg
	a.log = util.NewLogger(util.LogOptions{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	util.SetDefault(a.log)
	return nil
}

// openJournal opens the run journal when storage.sqlite_path is set. The
// returned close function is never nil.
func (a *app) openJournal() (store.RunJournal, func(), error) {
	path := a.cfg.Storage.SQLitePath
	if path == "" {
		return nil, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening run journal: %w", err)
	}
	return s, func() {
		if err := s.Close(); err != nil {
			a.log.Warn("closing run journal", "error", err)
		}
	}, nil
}

// newGatherer builds a DailyGatherer from the current configuration.
func (a *app) newGatherer(journal store.RunJournal) (*cn.DailyGatherer, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	daily := a.cfg.Gather.CNDaily
	kind, err := domain.ParseDownloadKind(daily.DownloadType)
	if err != nil {
		return nil, err
	}

	client, err := cn.NewClient(cn.ClientOptions{
		URL:             a.cfg.Tushare.URL,
		Token:           a.cfg.Tushare.Token,
		Timeout:         a.cfg.Tushare.Timeout,
		RateLimitPerMin: a.cfg.Tushare.RateLimitPerMin,
		Logger:          a.log,
	})
	if err != nil {
		return nil, err
	}

	boards := make([]cn.Board, len(daily.Markets))
	for i, m := range daily.Markets {
		boards[i] = cn.Board{Exchange: m.Exchange, Market: m.Market}
	}

	g := cn.NewDailyGatherer(client, store.NewSnapshotStore(a.cfg.Storage.DataDir), journal, cn.DailyOptions{
		Range:     gather.DateRange{Start: daily.StartDate, End: daily.EndDateOrToday()},
		Kind:      kind,
		BatchSize: daily.BatchSize,
		Boards:    boards,
	})
	return g.WithLogger(a.log), nil
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func (a *app) newRunCmd() *cobra.Command {
	var start, end, kind string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl one snapshot and exit",
		Long: `Resolve the open trade days of [start, end], then write the stock list,
daily bars and daily valuations under <data_dir>/<latest trade date>/ and
finish with a _SUCCESS marker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			daily := &a.cfg.Gather.CNDaily
			if start != "" {
				daily.StartDate = start
			}
			if end != "" {
				daily.EndDate = end
			}
			if kind != "" {
				daily.DownloadType = kind
			}

			journal, closeJournal, err := a.openJournal()
			if err != nil {
				return err
			}
			defer closeJournal()

			g, err := a.newGatherer(journal)
			if err != nil {
				return err
			}
			res, err := g.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s instruments, %s written to %s\n",
				res.TradeDate, analysis.FormatInt(res.Instruments), strings.Join(res.Kinds, "+"), res.Dir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&start, "start", "s", "", "start date YYYYMMDD (>= 20200101)")
	cmd.Flags().StringVarP(&end, "end", "e", "", "end date YYYYMMDD (default today)")
	cmd.Flags().StringVarP(&kind, "type", "t", "", "download type: all, daily or daily_basic")
	return cmd
}

// ---------------------------------------------------------------------------
// check
// ---------------------------------------------------------------------------

func (a *app) newCheckCmd() *cobra.Command {
	var require string
	cmd := &cobra.Command{
		Use:   "check [YYYYMMDD]",
		Short: "Report whether a snapshot is ready for analysis",
		Long: `Check the snapshot of the given trade date, or the newest finished one.
Exits non-zero when the snapshot is missing its _SUCCESS marker or is
otherwise unusable.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Storage.DataDir == "" {
				return errors.New("data dir is empty (set storage.data_dir or DATA_DIR)")
			}
			kind, err := domain.ParseDownloadKind(require)
			if err != nil {
				return err
			}
			snapshots := store.NewSnapshotStore(a.cfg.Storage.DataDir)

			var res *analysis.Result
			if len(args) == 1 {
				if _, err := util.ParseTradeDate(args[0]); err != nil {
					return err
				}
				res, err = analysis.Evaluate(snapshots, args[0], kind.Kinds())
			} else {
				res, err = analysis.EvaluateLatest(snapshots, kind.Kinds())
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s finish=%t good=%t kinds=%s instruments=%s\n",
				res.TradeDate, res.Finish, res.Good, strings.Join(res.Kinds, ","), analysis.FormatInt(res.Instruments))
			for _, p := range res.Problems {
				fmt.Fprintf(out, "  - %s\n", p)
			}
			if !res.Good {
				return fmt.Errorf("snapshot %s is not ready", res.TradeDate)
			}
			if slices.Contains(res.Kinds, domain.KindDaily) {
				if snap, err := snapshots.Open(res.TradeDate); err == nil {
					if s, err := analysis.Summarize(snap); err == nil {
						fmt.Fprintln(out, s)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&require, "require", string(domain.DownloadAll), "kinds the snapshot must hold: all, daily or daily_basic")
	return cmd
}

// ---------------------------------------------------------------------------
// schedule
// ---------------------------------------------------------------------------

func (a *app) newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the crawl on the configured cron schedule",
		Long: `Run in the foreground and crawl on schedule.cron (seconds field first,
default "0 30 18 * * 1-5" exchange time). A tick that fires while the
previous crawl is still running is skipped. Each tick crawls up to today
unless gather.cn_daily.end_date is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			expr := a.cfg.Schedule.Cron

			journal, closeJournal, err := a.openJournal()
			if err != nil {
				return err
			}
			defer closeJournal()

			// Validate once up front so a bad config fails the command.
			if _, err := a.newGatherer(journal); err != nil {
				return err
			}

			logger := cronLogger{log: a.log.With("component", "schedule")}
			c := cron.New(
				cron.WithSeconds(),
				cron.WithLocation(util.ChinaStandardTime),
				cron.WithLogger(logger),
				cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
			)
			_, err = c.AddFunc(expr, func() {
				g, err := a.newGatherer(journal)
				if err != nil {
					a.log.Error("scheduled crawl not started", "error", err)
					return
				}
				// Errors are logged by the gatherer and recorded in the journal.
				_ = g.Run(ctx)
			})
			if err != nil {
				return fmt.Errorf("parsing schedule %q: %w", expr, err)
			}

			c.Start()
			a.log.Info("scheduler started", "cron", expr)
			<-ctx.Done()

			a.log.Info("scheduler stopping, waiting for a running crawl")
			<-c.Stop().Done()
			return nil
		},
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}

// ---------------------------------------------------------------------------
// archive
// ---------------------------------------------------------------------------

func (a *app) newArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive [YYYYMMDD]",
		Short: "Fold a finished snapshot into the Parquet archive",
		Long: `Copy every instrument file of a finished snapshot (the given trade date,
or the newest finished one) into <parquet_dir>/cn/<kind>/<TS_CODE>/<YYYY>.parquet.
Rows already archived for the same trade date are replaced.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Storage.DataDir == "" || a.cfg.Storage.ParquetDir == "" {
				return errors.New("archive needs storage.data_dir and storage.parquet_dir")
			}
			snapshots := store.NewSnapshotStore(a.cfg.Storage.DataDir)

			var (
				snap *store.Snapshot
				err  error
			)
			if len(args) == 1 {
				snap, err = snapshots.Open(args[0])
			} else {
				snap, err = snapshots.LatestComplete()
			}
			if err != nil {
				return err
			}

			began := time.Now()
			pq := store.NewParquetStore(a.cfg.Storage.ParquetDir)
			stats, err := store.Archive(cmd.Context(), snap, pq, pq)
			if err != nil {
				return fmt.Errorf("archiving %s: %w", snap.TradeDate, err)
			}
			a.log.Info("archive complete",
				"tradeDate", stats.TradeDate,
				"codes", stats.Codes,
				"bars", stats.Bars,
				"valuations", stats.Valuations,
				"elapsed", time.Since(began).Round(time.Millisecond),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: archived %s bars and %s valuations for %s codes\n",
				stats.TradeDate, analysis.FormatInt(stats.Bars), analysis.FormatInt(stats.Valuations), analysis.FormatInt(stats.Codes))
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// history
// ---------------------------------------------------------------------------

func (a *app) newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent crawl runs from the run journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, closeJournal, err := a.openJournal()
			if err != nil {
				return err
			}
			defer closeJournal()
			if journal == nil {
				return errors.New("no run journal configured (set storage.sqlite_path or SQLITE_PATH)")
			}

			runs, err := journal.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range runs {
				took := "-"
				if !r.FinishedAt.IsZero() {
					took = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				fmt.Fprintf(out, "%s  %-9s  %-8s  %s..%s  %-11s  %6s  %s  %s\n",
					r.StartedAt.In(util.ChinaStandardTime).Format("2006-01-02 15:04:05"),
					r.Status, orDash(r.TradeDate), r.StartDate, r.EndDate, r.DownloadType,
					analysis.FormatInt(r.Instruments), took, r.Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

func (a *app) newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve snapshots and the Parquet archive over a read-only JSON API",
		Long: `Serve GET /api/cn/dates, /api/cn/snapshots/{date|latest},
/api/cn/summary and, when storage.parquet_dir is set, /api/cn/symbols and
/api/cn/symbol-history/{code}.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Storage.DataDir == "" {
				return errors.New("data dir is empty (set storage.data_dir or DATA_DIR)")
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			var pq *store.ParquetStore
			if dir := a.cfg.Storage.ParquetDir; dir != "" {
				pq = store.NewParquetStore(dir)
			}
			srv := cnapi.NewServer(store.NewSnapshotStore(a.cfg.Storage.DataDir), pq, a.log)

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				a.log.Info("CN server listening", "addr", httpServer.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
			}
			a.log.Info("shutting down CN server")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutting down: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}
