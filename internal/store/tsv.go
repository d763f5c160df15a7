package store

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/guregu/null/v6"

	"tsdata/internal/domain"
)

// NullToken marks an absent optional value in snapshot files. A text field
// whose actual value is "none" therefore reads back as absent.
const NullToken = "none"

var fieldCleaner = strings.NewReplacer("\t", " ", "\r", " ", "\n", " ")

// ---------------------------------------------------------------------------
// Table I/O
// ---------------------------------------------------------------------------

// writeTable creates or truncates path and writes a tab-separated header line
// followed by one line per row. Tabs and line breaks inside values are
// replaced by spaces so every record stays on one line.
func writeTable(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fsError("create", path, err)
	}

	w := bufio.NewWriter(f)
	writeLine(w, header)
	for _, row := range rows {
		writeLine(w, row)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fsError("write", path, err)
	}
	if err := f.Close(); err != nil {
		return fsError("close", path, err)
	}
	return nil
}

func writeLine(w *bufio.Writer, fields []string) {
	for i, v := range fields {
		if i > 0 {
			w.WriteByte('\t')
		}
		w.WriteString(fieldCleaner.Replace(v))
	}
	w.WriteByte('\n')
}

// readTable reads a file written by writeTable. The header must match
// exactly and every row must have len(header) fields.
func readTable(path string, header []string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fsError("open", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fsError("read", path, err)
		}
		return nil, fmt.Errorf("%s: missing header", path)
	}
	if got := strings.TrimRight(sc.Text(), "\r"); got != strings.Join(header, "\t") {
		return nil, fmt.Errorf("%s: unexpected header %q", path, got)
	}

	var rows [][]string
	for line := 2; sc.Scan(); line++ {
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != len(header) {
			return nil, fmt.Errorf("%s line %d: %d fields, want %d", path, line, len(fields), len(header))
		}
		rows = append(rows, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, fsError("read", path, err)
	}
	return rows, nil
}

// ---------------------------------------------------------------------------
// Value encoding
// ---------------------------------------------------------------------------

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatNullFloat(f null.Float) string {
	if !f.Valid {
		return NullToken
	}
	return formatFloat(f.Float64)
}

func formatNullInt(i null.Int) string {
	if !i.Valid {
		return NullToken
	}
	return strconv.FormatInt(i.Int64, 10)
}

func formatNullString(s null.String) string {
	if !s.Valid {
		return NullToken
	}
	return s.String
}

// fieldReader decodes one table row field by field, keeping the first error.
type fieldReader struct {
	fields  []string
	columns []string
	pos     int
	err     error
}

func (r *fieldReader) next() string {
	v := r.fields[r.pos]
	r.pos++
	return v
}

func (r *fieldReader) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("column %s: %w", r.columns[r.pos-1], err)
	}
}

func (r *fieldReader) str() string { return r.next() }

func (r *fieldReader) nullStr() null.String {
	v := r.next()
	if v == NullToken {
		return null.String{}
	}
	return null.StringFrom(v)
}

func (r *fieldReader) float() float64 {
	f, err := strconv.ParseFloat(r.next(), 64)
	if err != nil {
		r.fail(err)
	}
	return f
}

func (r *fieldReader) nullFloat() null.Float {
	v := r.next()
	if v == NullToken {
		return null.Float{}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(err)
		return null.Float{}
	}
	return null.FloatFrom(f)
}

func (r *fieldReader) nullInt() null.Int {
	v := r.next()
	if v == NullToken {
		return null.Int{}
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.fail(err)
		return null.Int{}
	}
	return null.IntFrom(i)
}

// ---------------------------------------------------------------------------
// Instrument rows
// ---------------------------------------------------------------------------

func instrumentRow(i domain.Instrument) []string {
	return []string{
		i.TSCode, i.Symbol, i.Name, i.Area, i.Industry, i.FullName, i.EnName, i.CnSpell,
		i.Market, i.Exchange, i.CurrType, i.ListStatus, i.ListDate,
		formatNullString(i.DelistDate), i.IsHS,
	}
}

func parseInstrument(fields []string) (domain.Instrument, error) {
	r := &fieldReader{fields: fields, columns: domain.InstrumentColumns}
	inst := domain.Instrument{
		TSCode:     r.str(),
		Symbol:     r.str(),
		Name:       r.str(),
		Area:       r.str(),
		Industry:   r.str(),
		FullName:   r.str(),
		EnName:     r.str(),
		CnSpell:    r.str(),
		Market:     r.str(),
		Exchange:   r.str(),
		CurrType:   r.str(),
		ListStatus: r.str(),
		ListDate:   r.str(),
		DelistDate: r.nullStr(),
		IsHS:       r.str(),
	}
	return inst, r.err
}

// WriteStocksFile writes the instrument catalog to path.
func WriteStocksFile(path string, stocks []domain.Instrument) error {
	rows := make([][]string, len(stocks))
	for i, s := range stocks {
		rows[i] = instrumentRow(s)
	}
	return writeTable(path, domain.InstrumentColumns, rows)
}

// ReadStocksFile reads a catalog written by WriteStocksFile, in file order.
func ReadStocksFile(path string) ([]domain.Instrument, error) {
	return readRecords(path, domain.InstrumentColumns, parseInstrument)
}

// ---------------------------------------------------------------------------
// Daily bar rows
// ---------------------------------------------------------------------------

func dailyBarRow(b domain.DailyBar) []string {
	return []string{
		b.TSCode, b.TradeDate,
		formatFloat(b.Open), formatFloat(b.High), formatFloat(b.Low), formatFloat(b.Close),
		formatFloat(b.PreClose), formatFloat(b.Change), formatFloat(b.PctChg),
		formatFloat(b.Vol), formatFloat(b.Amount),
	}
}

func parseDailyBar(fields []string) (domain.DailyBar, error) {
	r := &fieldReader{fields: fields, columns: domain.DailyBarColumns}
	bar := domain.DailyBar{
		TSCode:    r.str(),
		TradeDate: r.str(),
		Open:      r.float(),
		High:      r.float(),
		Low:       r.float(),
		Close:     r.float(),
		PreClose:  r.float(),
		Change:    r.float(),
		PctChg:    r.float(),
		Vol:       r.float(),
		Amount:    r.float(),
	}
	return bar, r.err
}

// WriteDailyBarsFile writes bars to path.
func WriteDailyBarsFile(path string, bars []domain.DailyBar) error {
	rows := make([][]string, len(bars))
	for i, b := range bars {
		rows[i] = dailyBarRow(b)
	}
	return writeTable(path, domain.DailyBarColumns, rows)
}

// ReadDailyBarsFile reads bars written by WriteDailyBarsFile.
func ReadDailyBarsFile(path string) ([]domain.DailyBar, error) {
	return readRecords(path, domain.DailyBarColumns, parseDailyBar)
}

// ---------------------------------------------------------------------------
// Daily valuation rows
// ---------------------------------------------------------------------------

func dailyValuationRow(v domain.DailyValuation) []string {
	return []string{
		v.TSCode, v.TradeDate,
		formatFloat(v.Close), formatFloat(v.TurnoverRate),
		formatNullFloat(v.TurnoverRateF), formatNullFloat(v.VolumeRatio),
		formatNullFloat(v.PE), formatNullFloat(v.PETTM), formatNullFloat(v.PB),
		formatNullFloat(v.PS), formatNullFloat(v.PSTTM),
		formatNullFloat(v.DVRatio), formatNullFloat(v.DVTTM),
		formatFloat(v.TotalShare), formatFloat(v.FloatShare), formatFloat(v.FreeShare),
		formatFloat(v.TotalMV), formatFloat(v.CircMV),
		formatNullInt(v.LimitStatus),
	}
}

func parseDailyValuation(fields []string) (domain.DailyValuation, error) {
	r := &fieldReader{fields: fields, columns: domain.DailyValuationColumns}
	v := domain.DailyValuation{
		TSCode:        r.str(),
		TradeDate:     r.str(),
		Close:         r.float(),
		TurnoverRate:  r.float(),
		TurnoverRateF: r.nullFloat(),
		VolumeRatio:   r.nullFloat(),
		PE:            r.nullFloat(),
		PETTM:         r.nullFloat(),
		PB:            r.nullFloat(),
		PS:            r.nullFloat(),
		PSTTM:         r.nullFloat(),
		DVRatio:       r.nullFloat(),
		DVTTM:         r.nullFloat(),
		TotalShare:    r.float(),
		FloatShare:    r.float(),
		FreeShare:     r.float(),
		TotalMV:       r.float(),
		CircMV:        r.float(),
		LimitStatus:   r.nullInt(),
	}
	return v, r.err
}

// WriteDailyValuationsFile writes valuation rows to path.
func WriteDailyValuationsFile(path string, rows []domain.DailyValuation) error {
	out := make([][]string, len(rows))
	for i, v := range rows {
		out[i] = dailyValuationRow(v)
	}
	return writeTable(path, domain.DailyValuationColumns, out)
}

// ReadDailyValuationsFile reads rows written by WriteDailyValuationsFile.
func ReadDailyValuationsFile(path string) ([]domain.DailyValuation, error) {
	return readRecords(path, domain.DailyValuationColumns, parseDailyValuation)
}

func readRecords[T any](path string, header []string, parse func([]string) (T, error)) ([]T, error) {
	rows, err := readTable(path, header)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for i, row := range rows {
		rec, err := parse(row)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// isNotExist reports whether err wraps a missing-file error.
func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
