// Package cnapi serves crawled A-share snapshots and the Parquet archive
// over a read-only JSON API.
package cnapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tsdata/internal/analysis"
	"tsdata/internal/domain"
	"tsdata/internal/store"
	"tsdata/internal/util"
)

const (
	defaultHistoryDays = 120
	maxHistoryDays     = 500
)

// Server serves the CN snapshot API.
type Server struct {
	snapshots *store.SnapshotStore
	archive   *store.ParquetStore // nil disables the archive routes
	log       *slog.Logger
	cache     sync.Map // trade date → cachedSummary
}

// cachedSummary is valid while the _SUCCESS marker keeps its mtime. A
// rerun for the same trade date rewrites the marker.
type cachedSummary struct {
	marker time.Time
	resp   *SummaryResponse
}

// NewServer creates a server over snapshots and, when archive is non-nil,
// the Parquet archive.
func NewServer(snapshots *store.SnapshotStore, archive *store.ParquetStore, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		snapshots: snapshots,
		archive:   archive,
		log:       log.With("component", "cnapi"),
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/cn/dates", s.handleDates)
	mux.HandleFunc("GET /api/cn/snapshots/{date}", s.handleReadiness)
	mux.HandleFunc("GET /api/cn/summary", s.handleSummary)
	mux.HandleFunc("GET /api/cn/symbols", s.handleSymbols)
	mux.HandleFunc("GET /api/cn/symbol-history/{code}", s.handleSymbolHistory)
	return corsMiddleware(mux)
}

func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	dates, err := s.snapshots.ListDates()
	if err != nil {
		s.log.Error("listing snapshot dates", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := DatesResponse{Dates: make([]SnapshotDate, len(dates))}
	for i, d := range dates {
		snap, err := s.snapshots.Open(d)
		finish := err == nil && snap.IsComplete()
		resp.Dates[i] = SnapshotDate{Date: d, Finish: finish}
		if finish {
			resp.Latest = d
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	var required []string
	if q := r.URL.Query().Get("require"); q != "" {
		kind, err := domain.ParseDownloadKind(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		required = kind.Kinds()
	}

	var (
		res *analysis.Result
		err error
	)
	date := r.PathValue("date")
	if date == "latest" {
		res, err = analysis.EvaluateLatest(s.snapshots, required)
	} else {
		if _, perr := util.ParseTradeDate(date); perr != nil {
			http.Error(w, perr.Error(), http.StatusBadRequest)
			return
		}
		res, err = analysis.Evaluate(s.snapshots, date, required)
	}
	if errors.Is(err, store.ErrNoSnapshot) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("evaluating snapshot", "date", date, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, ReadinessResponse{
		Date:        res.TradeDate,
		Finish:      res.Finish,
		Good:        res.Good,
		Kinds:       nonNil(res.Kinds),
		Instruments: res.Instruments,
		Problems:    nonNil(res.Problems),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var snap *store.Snapshot
	if date := r.URL.Query().Get("date"); date != "" {
		var err error
		if snap, err = s.snapshots.Open(date); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		var err error
		if snap, err = s.snapshots.LatestComplete(); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
	}

	info, err := os.Stat(snap.SuccessPath())
	if err != nil {
		http.Error(w, store.ErrIncompleteSnapshot.Error(), http.StatusConflict)
		return
	}
	if v, ok := s.cache.Load(snap.TradeDate); ok {
		if c := v.(cachedSummary); c.marker.Equal(info.ModTime()) {
			writeJSON(w, c.resp)
			return
		}
	}

	sum, err := analysis.Summarize(snap)
	if errors.Is(err, store.ErrIncompleteSnapshot) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		s.log.Error("summarizing snapshot", "date", snap.TradeDate, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := &SummaryResponse{
		Date:      sum.TradeDate,
		Bars:      sum.Bars,
		Amount:    sum.Amount,
		Advancers: sum.Advancers,
		Decliners: sum.Decliners,
		Unchanged: sum.Unchanged,
		Missing:   sum.Missing,
		Text:      sum.String(),
	}
	s.cache.Store(snap.TradeDate, cachedSummary{marker: info.ModTime(), resp: resp})
	writeJSON(w, resp)
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "archive not configured", http.StatusNotFound)
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = domain.KindDaily
	}
	if kind != domain.KindDaily && kind != domain.KindDailyBasic {
		http.Error(w, "kind must be daily or daily_basic", http.StatusBadRequest)
		return
	}

	codes, err := s.archive.ListSymbols(r.Context(), kind)
	if err != nil {
		s.log.Error("listing archived symbols", "kind", kind, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, SymbolsResponse{Kind: kind, Codes: nonNil(codes)})
}

func (s *Server) handleSymbolHistory(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "archive not configured", http.StatusNotFound)
		return
	}
	code := strings.ToUpper(r.PathValue("code"))
	if !validCode(code) {
		http.Error(w, "invalid code", http.StatusBadRequest)
		return
	}

	days := defaultHistoryDays
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 1 {
			http.Error(w, "invalid days parameter", http.StatusBadRequest)
			return
		}
		days = min(n, maxHistoryDays)
	}

	// End defaults to the newest finished snapshot, else today.
	endDate := r.URL.Query().Get("end")
	if endDate == "" {
		if snap, err := s.snapshots.LatestComplete(); err == nil {
			endDate = snap.TradeDate
		} else {
			endDate = util.Today()
		}
	}
	end, err := util.ParseTradeDate(endDate)
	if err != nil {
		http.Error(w, "invalid end date", http.StatusBadRequest)
		return
	}

	// Go back enough calendar days to cover trading days.
	startDate := util.FormatTradeDate(end.AddDate(0, 0, -days*2))

	var (
		bars []domain.DailyBar
		vals []domain.DailyValuation
	)
	g, gctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		bars, err = s.archive.ReadDailyBars(gctx, code, startDate, endDate)
		return err
	})
	g.Go(func() error {
		var err error
		vals, err = s.archive.ReadDailyValuations(gctx, code, startDate, endDate)
		return err
	})
	if err := g.Wait(); err != nil {
		s.log.Error("reading symbol history", "code", code, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(bars) == 0 {
		http.Error(w, "no archived bars for "+code, http.StatusNotFound)
		return
	}

	// Keep only the last N trading days.
	if len(bars) > days {
		bars = bars[len(bars)-days:]
	}

	byDate := make(map[string]domain.DailyValuation, len(vals))
	for _, v := range vals {
		byDate[v.TradeDate] = v
	}

	result := make([]SymbolDay, len(bars))
	for i, b := range bars {
		day := SymbolDay{
			Date:   b.TradeDate,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			PctChg: b.PctChg,
			Vol:    b.Vol,
			Amount: b.Amount,
		}
		if v, ok := byDate[b.TradeDate]; ok {
			day.TurnoverRate = &v.TurnoverRate
			day.PETTM = v.PETTM.Ptr()
			day.PB = v.PB.Ptr()
			day.TotalMV = &v.TotalMV
		}
		result[i] = day
	}

	writeJSON(w, SymbolHistoryResponse{Code: code, Days: result})
}

// validCode accepts exchange-qualified codes such as 600000.SH.
func validCode(code string) bool {
	sym, exch, ok := strings.Cut(code, ".")
	if !ok || sym == "" || len(exch) != 2 {
		return false
	}
	for _, c := range sym {
		if c < '0' || c > '9' {
			return false
		}
	}
	return exch[0] >= 'A' && exch[0] <= 'Z' && exch[1] >= 'A' && exch[1] <= 'Z'
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writing JSON response", "error", err)
	}
}
