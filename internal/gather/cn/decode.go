package cn

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/guregu/null/v6"

	"tsdata/internal/domain"
	"tsdata/internal/util"
)

var jsonNull = []byte("null")

// rowDecoder walks one positional row. The first failure is kept in err and
// turns every later read into a no-op, so a record can be decoded field by
// field and checked once.
type rowDecoder struct {
	row     []json.RawMessage
	columns []string
	pos     int
	err     error
}

func newRowDecoder(row []json.RawMessage, columns []string) *rowDecoder {
	return &rowDecoder{row: row, columns: columns}
}

func (d *rowDecoder) next() (json.RawMessage, bool) {
	if d.err != nil {
		return nil, false
	}
	if d.pos >= len(d.row) {
		d.err = fmt.Errorf("missing column %d", d.pos)
		return nil, false
	}
	raw := d.row[d.pos]
	d.pos++
	return raw, true
}

func (d *rowDecoder) fail(err error) {
	col := "?"
	if d.pos-1 < len(d.columns) {
		col = d.columns[d.pos-1]
	}
	d.err = fmt.Errorf("column %s: %w", col, err)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), jsonNull)
}

// str reads a text column. The provider leaves some descriptive columns
// (area, industry, enname) null for a few instruments; those read as "".
func (d *rowDecoder) str() string {
	raw, ok := d.next()
	if !ok || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		d.fail(err)
	}
	return s
}

// date reads a mandatory YYYYMMDD column.
func (d *rowDecoder) date() string {
	raw, ok := d.next()
	if !ok {
		return ""
	}
	if isNull(raw) {
		d.fail(fmt.Errorf("unexpected null"))
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		d.fail(err)
		return ""
	}
	if _, err := util.ParseTradeDate(s); err != nil {
		d.fail(err)
		return ""
	}
	return s
}

// code reads a mandatory ts_code column that names snapshot files.
func (d *rowDecoder) code() string {
	raw, ok := d.next()
	if !ok {
		return ""
	}
	if isNull(raw) {
		d.fail(fmt.Errorf("unexpected null"))
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		d.fail(err)
		return ""
	}
	if err := domain.ValidateCode(s); err != nil {
		d.fail(err)
		return ""
	}
	return s
}

func (d *rowDecoder) nullStr() null.String {
	raw, ok := d.next()
	if !ok {
		return null.String{}
	}
	var s null.String
	if err := json.Unmarshal(raw, &s); err != nil {
		d.fail(err)
	}
	return s
}

// float reads a mandatory numeric column.
func (d *rowDecoder) float() float64 {
	raw, ok := d.next()
	if !ok {
		return 0
	}
	if isNull(raw) {
		d.fail(fmt.Errorf("unexpected null"))
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		d.fail(err)
	}
	return f
}

func (d *rowDecoder) nullFloat() null.Float {
	raw, ok := d.next()
	if !ok {
		return null.Float{}
	}
	var f null.Float
	if err := json.Unmarshal(raw, &f); err != nil {
		d.fail(err)
	}
	return f
}

func (d *rowDecoder) nullInt() null.Int {
	raw, ok := d.next()
	if !ok || isNull(raw) {
		return null.Int{}
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		d.fail(err)
		return null.Int{}
	}
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		d.fail(fmt.Errorf("non-integral value %s", raw))
		return null.Int{}
	}
	return null.IntFrom(int64(f))
}

// flag reads a 0/1 column that the provider sends as a number or a string.
func (d *rowDecoder) flag() bool {
	raw, ok := d.next()
	if !ok {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		d.fail(err)
		return false
	}
	switch x := v.(type) {
	case float64:
		return x != 0
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			d.fail(err)
		}
		return n != 0
	case bool:
		return x
	}
	d.fail(fmt.Errorf("unexpected flag value %s", raw))
	return false
}

// ---------------------------------------------------------------------------
// Record decoders
// ---------------------------------------------------------------------------

func decodeCalendarDay(row []json.RawMessage) (domain.CalendarDay, error) {
	d := newRowDecoder(row, domain.CalendarColumns)
	day := domain.CalendarDay{
		Exchange: d.str(),
		CalDate:  d.date(),
		IsOpen:   d.flag(),
	}
	return day, d.err
}

func decodeInstrument(row []json.RawMessage) (domain.Instrument, error) {
	d := newRowDecoder(row, domain.InstrumentColumns)
	inst := domain.Instrument{
		TSCode:     d.code(),
		Symbol:     d.str(),
		Name:       d.str(),
		Area:       d.str(),
		Industry:   d.str(),
		FullName:   d.str(),
		EnName:     d.str(),
		CnSpell:    d.str(),
		Market:     d.str(),
		Exchange:   d.str(),
		CurrType:   d.str(),
		ListStatus: d.str(),
		ListDate:   d.str(),
		DelistDate: d.nullStr(),
		IsHS:       d.str(),
	}
	return inst, d.err
}

func decodeDailyBar(row []json.RawMessage) (domain.DailyBar, error) {
	d := newRowDecoder(row, domain.DailyBarColumns)
	bar := domain.DailyBar{
		TSCode:    d.code(),
		TradeDate: d.date(),
		Open:      d.float(),
		High:      d.float(),
		Low:       d.float(),
		Close:     d.float(),
		PreClose:  d.float(),
		Change:    d.float(),
		PctChg:    d.float(),
		Vol:       d.float(),
		Amount:    d.float(),
	}
	return bar, d.err
}

func decodeDailyValuation(row []json.RawMessage) (domain.DailyValuation, error) {
	d := newRowDecoder(row, domain.DailyValuationColumns)
	v := domain.DailyValuation{
		TSCode:        d.code(),
		TradeDate:     d.date(),
		Close:         d.float(),
		TurnoverRate:  d.float(),
		TurnoverRateF: d.nullFloat(),
		VolumeRatio:   d.nullFloat(),
		PE:            d.nullFloat(),
		PETTM:         d.nullFloat(),
		PB:            d.nullFloat(),
		PS:            d.nullFloat(),
		PSTTM:         d.nullFloat(),
		DVRatio:       d.nullFloat(),
		DVTTM:         d.nullFloat(),
		TotalShare:    d.float(),
		FloatShare:    d.float(),
		FreeShare:     d.float(),
		TotalMV:       d.float(),
		CircMV:        d.float(),
		LimitStatus:   d.nullInt(),
	}
	return v, d.err
}

// decodeRows maps every row with fn, wrapping failures as protocol errors.
func decodeRows[T any](apiName string, rows [][]json.RawMessage, fn func([]json.RawMessage) (T, error)) ([]T, error) {
	out := make([]T, 0, len(rows))
	for i, row := range rows {
		rec, err := fn(row)
		if err != nil {
			return nil, &ProtocolError{APIName: apiName, Err: fmt.Errorf("row %d: %w", i, err)}
		}
		out = append(out, rec)
	}
	return out, nil
}
