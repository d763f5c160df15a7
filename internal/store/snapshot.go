package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tsdata/internal/domain"
	"tsdata/internal/util"
)

// Snapshot file and directory names.
const (
	StocksFile       = "stocks_list"
	DailyDir         = "daily_data"
	DailyBasicDir    = "daily_basic_data"
	SuccessFile      = "_SUCCESS"
	snapshotDirPerms = 0o755
)

// SnapshotStore manages the date-stamped snapshot directories under DataDir.
// Each crawl owns exactly one directory, named after the latest open trade
// date of its range:
//
//	<DataDir>/<YYYYMMDD>/stocks_list
//	<DataDir>/<YYYYMMDD>/daily_data/<TS_CODE>
//	<DataDir>/<YYYYMMDD>/daily_basic_data/<TS_CODE>
//	<DataDir>/<YYYYMMDD>/_SUCCESS
//
// Two runs for the same trade date must not execute concurrently.
type SnapshotStore struct {
	DataDir string
}

// NewSnapshotStore creates a SnapshotStore rooted at dataDir.
func NewSnapshotStore(dataDir string) *SnapshotStore {
	return &SnapshotStore{DataDir: dataDir}
}

// Dir returns the snapshot directory for tradeDate.
func (s *SnapshotStore) Dir(tradeDate string) string {
	return filepath.Join(s.DataDir, tradeDate)
}

// InitLayout removes any previous snapshot for tradeDate and recreates an
// empty one with its two data sub-directories. tradeDate must be YYYYMMDD.
func (s *SnapshotStore) InitLayout(tradeDate string) (*Snapshot, error) {
	snap, err := s.Open(tradeDate)
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(snap.Dir); err != nil {
		return nil, fsError("remove", snap.Dir, err)
	}
	for _, dir := range []string{snap.DailyDir(), snap.DailyBasicDir()} {
		if err := os.MkdirAll(dir, snapshotDirPerms); err != nil {
			return nil, fsError("mkdir", dir, err)
		}
	}
	return snap, nil
}

// Open returns a handle on the snapshot for tradeDate without touching disk.
// It fails when tradeDate is not YYYYMMDD.
func (s *SnapshotStore) Open(tradeDate string) (*Snapshot, error) {
	if _, err := util.ParseTradeDate(tradeDate); err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	return s.open(tradeDate), nil
}

func (s *SnapshotStore) open(tradeDate string) *Snapshot {
	return &Snapshot{Dir: s.Dir(tradeDate), TradeDate: tradeDate}
}

// ListDates returns the trade dates that have a snapshot directory, oldest
// first. Entries that are not YYYYMMDD directories are ignored.
func (s *SnapshotStore) ListDates() ([]string, error) {
	entries, err := os.ReadDir(s.DataDir)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, fsError("readdir", s.DataDir, err)
	}

	var dates []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := util.ParseTradeDate(e.Name()); err != nil {
			continue
		}
		dates = append(dates, e.Name())
	}
	sort.Strings(dates)
	return dates, nil
}

// LatestComplete returns the newest snapshot carrying a _SUCCESS marker, or
// ErrNoSnapshot.
func (s *SnapshotStore) LatestComplete() (*Snapshot, error) {
	dates, err := s.ListDates()
	if err != nil {
		return nil, err
	}
	for i := len(dates) - 1; i >= 0; i-- {
		snap := s.open(dates[i])
		if snap.IsComplete() {
			return snap, nil
		}
	}
	return nil, ErrNoSnapshot
}

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

// Snapshot is one date-stamped snapshot directory.
type Snapshot struct {
	Dir       string
	TradeDate string
}

func (s *Snapshot) StocksPath() string    { return filepath.Join(s.Dir, StocksFile) }
func (s *Snapshot) DailyDir() string      { return filepath.Join(s.Dir, DailyDir) }
func (s *Snapshot) DailyBasicDir() string { return filepath.Join(s.Dir, DailyBasicDir) }
func (s *Snapshot) SuccessPath() string   { return filepath.Join(s.Dir, SuccessFile) }

// codePath returns dir/<code>, refusing codes that would leave dir.
func codePath(dir, code string) (string, error) {
	if err := domain.ValidateCode(code); err != nil {
		return "", fsError("open", dir, err)
	}
	return filepath.Join(dir, code), nil
}

// WriteStocks writes the instrument catalog in input order.
func (s *Snapshot) WriteStocks(stocks []domain.Instrument) error {
	return WriteStocksFile(s.StocksPath(), stocks)
}

// ReadStocks reads the catalog back in file order.
func (s *Snapshot) ReadStocks() ([]domain.Instrument, error) {
	return ReadStocksFile(s.StocksPath())
}

// WriteDailyBars writes the rows of batch that belong to code into
// daily_data/<code>, replacing any previous file. A code without rows still
// gets a file holding only the header.
func (s *Snapshot) WriteDailyBars(code string, batch []domain.DailyBar) error {
	var rows []domain.DailyBar
	for _, b := range batch {
		if b.TSCode == code {
			rows = append(rows, b)
		}
	}
	path, err := codePath(s.DailyDir(), code)
	if err != nil {
		return err
	}
	return WriteDailyBarsFile(path, rows)
}

// ReadDailyBars reads daily_data/<code>.
func (s *Snapshot) ReadDailyBars(code string) ([]domain.DailyBar, error) {
	path, err := codePath(s.DailyDir(), code)
	if err != nil {
		return nil, err
	}
	return ReadDailyBarsFile(path)
}

// WriteDailyValuations writes the rows of batch that belong to code into
// daily_basic_data/<code>.
func (s *Snapshot) WriteDailyValuations(code string, batch []domain.DailyValuation) error {
	var rows []domain.DailyValuation
	for _, v := range batch {
		if v.TSCode == code {
			rows = append(rows, v)
		}
	}
	path, err := codePath(s.DailyBasicDir(), code)
	if err != nil {
		return err
	}
	return WriteDailyValuationsFile(path, rows)
}

// ReadDailyValuations reads daily_basic_data/<code>.
func (s *Snapshot) ReadDailyValuations(code string) ([]domain.DailyValuation, error) {
	path, err := codePath(s.DailyBasicDir(), code)
	if err != nil {
		return nil, err
	}
	return ReadDailyValuationsFile(path)
}

// ListCodes returns the instrument files present for a data set kind
// (domain.KindDaily or domain.KindDailyBasic), sorted.
func (s *Snapshot) ListCodes(kind string) ([]string, error) {
	dir := s.DailyDir()
	if kind == domain.KindDailyBasic {
		dir = s.DailyBasicDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fsError("readdir", dir, err)
	}
	codes := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			codes = append(codes, e.Name())
		}
	}
	sort.Strings(codes)
	return codes, nil
}

// WriteSuccess writes the _SUCCESS marker listing the materialized kinds,
// newline-joined with no trailing newline. It must be the last write of a
// run.
func (s *Snapshot) WriteSuccess(kinds []string) error {
	path := s.SuccessPath()
	if err := os.WriteFile(path, []byte(strings.Join(kinds, "\n")), 0o644); err != nil {
		return fsError("write", path, err)
	}
	return nil
}

// IsComplete reports whether the _SUCCESS marker exists.
func (s *Snapshot) IsComplete() bool {
	_, err := os.Stat(s.SuccessPath())
	return err == nil
}

// ReadSuccess returns the kinds listed in the _SUCCESS marker. It returns
// ErrIncompleteSnapshot when the marker is missing.
func (s *Snapshot) ReadSuccess() ([]string, error) {
	path := s.SuccessPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if isNotExist(err) {
			return nil, ErrIncompleteSnapshot
		}
		return nil, fsError("read", path, err)
	}

	var kinds []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			kinds = append(kinds, line)
		}
	}
	return kinds, nil
}
