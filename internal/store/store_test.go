package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guregu/null/v6"

	"tsdata/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	got := ps.path(domain.KindDaily, "600000.sh", 2021)
	want := filepath.Join("/data", "cn", "daily", "600000.SH", "2021.parquet")
	if got != want {
		t.Errorf("path mismatch:\n  got  %s\n  want %s", got, want)
	}

	got = ps.path(domain.KindDailyBasic, "000001.SZ", 2020)
	want = filepath.Join("/data", "cn", "daily_basic", "000001.SZ", "2020.parquet")
	if got != want {
		t.Errorf("path mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	bars := []domain.DailyBar{
		{TSCode: "600000.SH", TradeDate: "20210910", Open: 8.9, High: 9.1, Low: 8.85, Close: 9.05, PreClose: 8.9, Change: 0.15, PctChg: 1.6854, Vol: 612345.5, Amount: 552001.2},
		{TSCode: "600000.SH", TradeDate: "20210909", Open: 8.8, High: 8.95, Low: 8.75, Close: 8.9, PreClose: 8.8, Change: 0.1, PctChg: 1.1364, Vol: 500000, Amount: 444000},
		{TSCode: "600000.SH", TradeDate: "20201231", Open: 10.1, High: 10.2, Low: 10.0, Close: 10.15, Vol: 1, Amount: 1},
	}
	if err := ps.WriteDailyBars(ctx, bars); err != nil {
		t.Fatalf("WriteDailyBars: %v", err)
	}

	got, err := ps.ReadDailyBars(ctx, "600000.SH", "20210101", "20211231")
	if err != nil {
		t.Fatalf("ReadDailyBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadDailyBars returned %d bars, want 2", len(got))
	}
	if got[0].TradeDate != "20210909" || got[1].TradeDate != "20210910" {
		t.Errorf("trade dates = %s, %s, want sorted 20210909, 20210910", got[0].TradeDate, got[1].TradeDate)
	}
	if got[1] != bars[0] {
		t.Errorf("bar = %+v, want %+v", got[1], bars[0])
	}

	// Spanning two year files.
	got, err = ps.ReadDailyBars(ctx, "600000.SH", "20201201", "20210909")
	if err != nil {
		t.Fatalf("ReadDailyBars: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ReadDailyBars across years returned %d bars, want 2", len(got))
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	first := []domain.DailyBar{
		{TSCode: "000001.SZ", TradeDate: "20210301", Close: 20.0},
		{TSCode: "000001.SZ", TradeDate: "20210302", Close: 20.5},
	}
	if err := ps.WriteDailyBars(ctx, first); err != nil {
		t.Fatalf("WriteDailyBars (first): %v", err)
	}

	// Same code and year: merges, and the restated day replaces the old row.
	second := []domain.DailyBar{
		{TSCode: "000001.SZ", TradeDate: "20210302", Close: 21.0},
		{TSCode: "000001.SZ", TradeDate: "20210303", Close: 21.5},
	}
	if err := ps.WriteDailyBars(ctx, second); err != nil {
		t.Fatalf("WriteDailyBars (second): %v", err)
	}

	got, err := ps.ReadDailyBars(ctx, "000001.SZ", "20210101", "20211231")
	if err != nil {
		t.Fatalf("ReadDailyBars: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadDailyBars returned %d bars after merge, want 3", len(got))
	}
	if got[1].Close != 21.0 {
		t.Errorf("restated Close = %v, want 21.0", got[1].Close)
	}
}

func TestParquetStoreValuationsKeepNulls(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	rows := []domain.DailyValuation{
		{
			TSCode: "600000.SH", TradeDate: "20210910", Close: 9.05, TurnoverRate: 0.21,
			TurnoverRateF: null.FloatFrom(0.4), PE: null.FloatFrom(4.9), PB: null.FloatFrom(0.45),
			TotalShare: 2935208.04, FloatShare: 2810376.39, FreeShare: 1293123.1,
			TotalMV: 26563632.76, CircMV: 25433906.3, LimitStatus: null.IntFrom(0),
		},
	}
	if err := ps.WriteDailyValuations(ctx, rows); err != nil {
		t.Fatalf("WriteDailyValuations: %v", err)
	}

	got, err := ps.ReadDailyValuations(ctx, "600000.SH", "20210910", "20210910")
	if err != nil {
		t.Fatalf("ReadDailyValuations: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ReadDailyValuations returned %d rows, want 1", len(got))
	}
	if got[0] != rows[0] {
		t.Errorf("row = %+v, want %+v", got[0], rows[0])
	}
	if got[0].VolumeRatio.Valid || got[0].DVTTM.Valid {
		t.Error("absent metrics should stay absent")
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	bars := []domain.DailyBar{
		{TSCode: "600000.SH", TradeDate: "20210910", Close: 9.05},
		{TSCode: "000001.SZ", TradeDate: "20210910", Close: 18.2},
	}
	if err := ps.WriteDailyBars(ctx, bars); err != nil {
		t.Fatalf("WriteDailyBars: %v", err)
	}

	codes, err := ps.ListSymbols(ctx, domain.KindDaily)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(codes) != 2 || codes[0] != "000001.SZ" || codes[1] != "600000.SH" {
		t.Errorf("ListSymbols = %v, want [000001.SZ 600000.SH]", codes)
	}

	codes, err = ps.ListSymbols(ctx, domain.KindDailyBasic)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(codes) != 0 {
		t.Errorf("ListSymbols(daily_basic) = %v, want empty", codes)
	}
}

func TestParquetStoreRejectsBadDate(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	err := ps.WriteDailyBars(context.Background(), []domain.DailyBar{{TSCode: "600000.SH", TradeDate: "2021-09"}})
	if err == nil {
		t.Fatal("WriteDailyBars with malformed trade date should fail")
	}
}

func TestParquetStoreRejectsBadCode(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	err := ps.WriteDailyBars(context.Background(), []domain.DailyBar{{TSCode: "../600000.SH", TradeDate: "20210910"}})
	if err == nil {
		t.Fatal("WriteDailyBars with a path in ts_code should fail")
	}
}

func TestParquetStoreKeepsCorruptFile(t *testing.T) {
	ctx := context.Background()
	ps := NewParquetStore(t.TempDir())
	path := ps.path(domain.KindDaily, "600000.SH", 2021)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	garbage := []byte("not a parquet file")
	if err := os.WriteFile(path, garbage, 0o644); err != nil {
		t.Fatal(err)
	}

	err := ps.WriteDailyBars(ctx, []domain.DailyBar{{TSCode: "600000.SH", TradeDate: "20210910", Close: 10}})
	if err == nil {
		t.Fatal("WriteDailyBars over a corrupt year file should fail")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(garbage) {
		t.Error("corrupt year file was overwritten")
	}

	if _, err := ps.ReadDailyBars(ctx, "600000.SH", "20210101", "20211231"); err == nil {
		t.Error("ReadDailyBars over a corrupt year file should fail")
	}
}

func openJournal(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openJournal(t)
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
}

func TestSQLiteStoreRunLifecycle(t *testing.T) {
	s := openJournal(t)
	ctx := context.Background()

	base := time.Date(2021, 9, 10, 18, 30, 0, 0, time.UTC)
	ok := &Run{ID: "run-1", StartDate: "20210101", EndDate: "20210910", DownloadType: "all", StartedAt: base}
	if err := s.StartRun(ctx, ok); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if ok.Status != RunRunning {
		t.Errorf("Status after StartRun = %q, want %q", ok.Status, RunRunning)
	}

	ok.TradeDate = "20210910"
	ok.Status = RunSucceeded
	ok.Kinds = []string{"daily", "daily_basic"}
	ok.Instruments = 23
	ok.FinishedAt = base.Add(5 * time.Minute)
	if err := s.FinishRun(ctx, ok); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	failed := &Run{ID: "run-2", StartDate: "20210101", EndDate: "20210911", DownloadType: "daily", StartedAt: base.Add(time.Hour)}
	if err := s.StartRun(ctx, failed); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	failed.Status = RunFailed
	failed.Error = "daily: api error 40203"
	if err := s.FinishRun(ctx, failed); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns returned %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run-2" || runs[0].Status != RunFailed || runs[0].Error == "" {
		t.Errorf("newest run = %+v, want failed run-2", runs[0])
	}
	got := runs[1]
	if got.Status != RunSucceeded || got.TradeDate != "20210910" || got.Instruments != 23 {
		t.Errorf("oldest run = %+v, want succeeded run-1", got)
	}
	if len(got.Kinds) != 2 || got.Kinds[1] != "daily_basic" {
		t.Errorf("Kinds = %v, want [daily daily_basic]", got.Kinds)
	}
	if !got.StartedAt.Equal(base) || !got.FinishedAt.Equal(base.Add(5*time.Minute)) {
		t.Errorf("times = %v..%v, want %v..%v", got.StartedAt, got.FinishedAt, base, base.Add(5*time.Minute))
	}

	runs, err = s.ListRuns(ctx, 1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("ListRuns(1) returned %d runs", len(runs))
	}
}

func TestSQLiteStoreFinishUnknownRun(t *testing.T) {
	s := openJournal(t)
	if err := s.FinishRun(context.Background(), &Run{ID: "missing", Status: RunFailed}); err == nil {
		t.Error("FinishRun on unknown run should fail")
	}
}
