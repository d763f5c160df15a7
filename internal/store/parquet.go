package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/guregu/null/v6"
	"github.com/parquet-go/parquet-go"

	"tsdata/internal/domain"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)
var _ ValuationStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore and ValuationStore using Parquet files on
// disk. It is the long-term archive that completed snapshots are folded into.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// DailyBarRecord is the Parquet schema for daily bars.
type DailyBarRecord struct {
	TSCode    string  `parquet:"ts_code"`
	TradeDate string  `parquet:"trade_date"`
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	PreClose  float64 `parquet:"pre_close"`
	Change    float64 `parquet:"change"`
	PctChg    float64 `parquet:"pct_chg"`
	Vol       float64 `parquet:"vol"`
	Amount    float64 `parquet:"amount"`
}

// DailyValuationRecord is the Parquet schema for daily valuation metrics.
// Pointer fields are optional columns; nil is stored as null.
type DailyValuationRecord struct {
	TSCode        string   `parquet:"ts_code"`
	TradeDate     string   `parquet:"trade_date"`
	Close         float64  `parquet:"close"`
	TurnoverRate  float64  `parquet:"turnover_rate"`
	TurnoverRateF *float64 `parquet:"turnover_rate_f,optional"`
	VolumeRatio   *float64 `parquet:"volume_ratio,optional"`
	PE            *float64 `parquet:"pe,optional"`
	PETTM         *float64 `parquet:"pe_ttm,optional"`
	PB            *float64 `parquet:"pb,optional"`
	PS            *float64 `parquet:"ps,optional"`
	PSTTM         *float64 `parquet:"ps_ttm,optional"`
	DVRatio       *float64 `parquet:"dv_ratio,optional"`
	DVTTM         *float64 `parquet:"dv_ttm,optional"`
	TotalShare    float64  `parquet:"total_share"`
	FloatShare    float64  `parquet:"float_share"`
	FreeShare     float64  `parquet:"free_share"`
	TotalMV       float64  `parquet:"total_mv"`
	CircMV        float64  `parquet:"circ_mv"`
	LimitStatus   *int64   `parquet:"limit_status,optional"`
}

func barRecord(b domain.DailyBar) DailyBarRecord {
	return DailyBarRecord{
		TSCode: b.TSCode, TradeDate: b.TradeDate,
		Open: b.Open, High: b.High, Low: b.Low, Close: b.Close,
		PreClose: b.PreClose, Change: b.Change, PctChg: b.PctChg,
		Vol: b.Vol, Amount: b.Amount,
	}
}

func (r DailyBarRecord) bar() domain.DailyBar {
	return domain.DailyBar{
		TSCode: r.TSCode, TradeDate: r.TradeDate,
		Open: r.Open, High: r.High, Low: r.Low, Close: r.Close,
		PreClose: r.PreClose, Change: r.Change, PctChg: r.PctChg,
		Vol: r.Vol, Amount: r.Amount,
	}
}

func valuationRecord(v domain.DailyValuation) DailyValuationRecord {
	return DailyValuationRecord{
		TSCode:        v.TSCode,
		TradeDate:     v.TradeDate,
		Close:         v.Close,
		TurnoverRate:  v.TurnoverRate,
		TurnoverRateF: v.TurnoverRateF.Ptr(),
		VolumeRatio:   v.VolumeRatio.Ptr(),
		PE:            v.PE.Ptr(),
		PETTM:         v.PETTM.Ptr(),
		PB:            v.PB.Ptr(),
		PS:            v.PS.Ptr(),
		PSTTM:         v.PSTTM.Ptr(),
		DVRatio:       v.DVRatio.Ptr(),
		DVTTM:         v.DVTTM.Ptr(),
		TotalShare:    v.TotalShare,
		FloatShare:    v.FloatShare,
		FreeShare:     v.FreeShare,
		TotalMV:       v.TotalMV,
		CircMV:        v.CircMV,
		LimitStatus:   v.LimitStatus.Ptr(),
	}
}

func (r DailyValuationRecord) valuation() domain.DailyValuation {
	return domain.DailyValuation{
		TSCode:        r.TSCode,
		TradeDate:     r.TradeDate,
		Close:         r.Close,
		TurnoverRate:  r.TurnoverRate,
		TurnoverRateF: null.FloatFromPtr(r.TurnoverRateF),
		VolumeRatio:   null.FloatFromPtr(r.VolumeRatio),
		PE:            null.FloatFromPtr(r.PE),
		PETTM:         null.FloatFromPtr(r.PETTM),
		PB:            null.FloatFromPtr(r.PB),
		PS:            null.FloatFromPtr(r.PS),
		PSTTM:         null.FloatFromPtr(r.PSTTM),
		DVRatio:       null.FloatFromPtr(r.DVRatio),
		DVTTM:         null.FloatFromPtr(r.DVTTM),
		TotalShare:    r.TotalShare,
		FloatShare:    r.FloatShare,
		FreeShare:     r.FreeShare,
		TotalMV:       r.TotalMV,
		CircMV:        r.CircMV,
		LimitStatus:   null.IntFromPtr(r.LimitStatus),
	}
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteDailyBars writes bars to Parquet files organized by code and year.
// Each code+year combination produces a separate file at:
//
//	<DataDir>/cn/daily/<TS_CODE>/<YYYY>.parquet
//
// Rows already on disk are merged, with incoming rows winning on the same
// trade date.
func (s *ParquetStore) WriteDailyBars(_ context.Context, bars []domain.DailyBar) error {
	groups := make(map[fileKey][]DailyBarRecord)
	for _, b := range bars {
		k, err := keyFor(b.TSCode, b.TradeDate)
		if err != nil {
			return err
		}
		groups[k] = append(groups[k], barRecord(b))
	}

	for k, records := range groups {
		path := s.path(domain.KindDaily, k.code, k.year)
		existing, err := readExisting[DailyBarRecord](path)
		if err != nil {
			return err
		}
		merged := mergeByTradeDate(existing, records, func(r DailyBarRecord) string { return r.TradeDate })
		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.code, k.year, err)
		}
	}
	return nil
}

// ReadDailyBars reads bars for code with start <= trade_date <= end.
func (s *ParquetStore) ReadDailyBars(_ context.Context, code, start, end string) ([]domain.DailyBar, error) {
	records, err := readRange[DailyBarRecord](s, domain.KindDaily, code, start, end,
		func(r DailyBarRecord) string { return r.TradeDate })
	if err != nil {
		return nil, err
	}
	bars := make([]domain.DailyBar, len(records))
	for i, r := range records {
		bars[i] = r.bar()
	}
	return bars, nil
}

// ---------------------------------------------------------------------------
// ValuationStore implementation
// ---------------------------------------------------------------------------

// WriteDailyValuations writes rows under <DataDir>/cn/daily_basic/<TS_CODE>/<YYYY>.parquet.
func (s *ParquetStore) WriteDailyValuations(_ context.Context, rows []domain.DailyValuation) error {
	groups := make(map[fileKey][]DailyValuationRecord)
	for _, v := range rows {
		k, err := keyFor(v.TSCode, v.TradeDate)
		if err != nil {
			return err
		}
		groups[k] = append(groups[k], valuationRecord(v))
	}

	for k, records := range groups {
		path := s.path(domain.KindDailyBasic, k.code, k.year)
		existing, err := readExisting[DailyValuationRecord](path)
		if err != nil {
			return err
		}
		merged := mergeByTradeDate(existing, records, func(r DailyValuationRecord) string { return r.TradeDate })
		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing valuations for %s/%d: %w", k.code, k.year, err)
		}
	}
	return nil
}

// ReadDailyValuations reads rows for code with start <= trade_date <= end.
func (s *ParquetStore) ReadDailyValuations(_ context.Context, code, start, end string) ([]domain.DailyValuation, error) {
	records, err := readRange[DailyValuationRecord](s, domain.KindDailyBasic, code, start, end,
		func(r DailyValuationRecord) string { return r.TradeDate })
	if err != nil {
		return nil, err
	}
	out := make([]domain.DailyValuation, len(records))
	for i, r := range records {
		out[i] = r.valuation()
	}
	return out, nil
}

// ListSymbols lists all codes that have archived data of the given kind.
func (s *ParquetStore) ListSymbols(_ context.Context, kind string) ([]string, error) {
	dir := filepath.Join(s.DataDir, string(domain.MarketCN), kind)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var codes []string
	for _, e := range entries {
		if e.IsDir() {
			codes = append(codes, e.Name())
		}
	}
	sort.Strings(codes)
	return codes, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

type fileKey struct {
	code string
	year int
}

func keyFor(code, tradeDate string) (fileKey, error) {
	if err := domain.ValidateCode(code); err != nil {
		return fileKey{}, err
	}
	if len(tradeDate) != 8 {
		return fileKey{}, fmt.Errorf("%s: bad trade date %q", code, tradeDate)
	}
	year, err := strconv.Atoi(tradeDate[:4])
	if err != nil {
		return fileKey{}, fmt.Errorf("%s: bad trade date %q", code, tradeDate)
	}
	return fileKey{code: code, year: year}, nil
}

// path returns the filesystem path for one archive file.
// Layout: <dataDir>/cn/<kind>/<TS_CODE>/<YYYY>.parquet
func (s *ParquetStore) path(kind, code string, year int) string {
	return filepath.Join(s.DataDir, string(domain.MarketCN), kind, strings.ToUpper(code), strconv.Itoa(year)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// readExisting reads an archive file about to be merged into. A missing file
// is empty; any other failure is returned so a damaged file is not replaced
// by the incoming rows alone.
func readExisting[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	records, err := readParquetFile[T](path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return records, nil
}

// readRange reads the year files covering [start, end] and keeps rows whose
// trade date falls inside the range. Missing year files are skipped.
func readRange[T any](s *ParquetStore, kind, code, start, end string, date func(T) string) ([]T, error) {
	from, err := keyFor(code, start)
	if err != nil {
		return nil, err
	}
	to, err := keyFor(code, end)
	if err != nil {
		return nil, err
	}

	var out []T
	for year := from.year; year <= to.year; year++ {
		records, err := readExisting[T](s.path(kind, code, year))
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if d := date(r); d >= start && d <= end {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// mergeByTradeDate deduplicates records by trade date, preferring incoming
// records over existing ones. Results are sorted by trade date.
func mergeByTradeDate[T any](existing, incoming []T, date func(T) string) []T {
	seen := make(map[string]T, len(existing)+len(incoming))
	for _, r := range existing {
		seen[date(r)] = r
	}
	for _, r := range incoming {
		seen[date(r)] = r
	}

	merged := make([]T, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return date(merged[i]) < date(merged[j])
	})
	return merged
}
