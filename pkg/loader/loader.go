// Package loader parses exchange bhavcopy CSV files into raw trades.
package loader

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"fodb/pkg/model"
	"fodb/pkg/xlog"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
)

var logger = xlog.Named("loader")

// DateLayout is the date format of bhavcopy files, e.g. 26-Sep-2019
const DateLayout = "02-Jan-2006"

// Record is one line of a bhavcopy file. EXCHANGE is not part of the
// exchange files and falls back to the loader default when absent.
type Record struct {
	Exchange   string `csv:"EXCHANGE"`
	Instrument string `csv:"INSTRUMENT"`
	Symbol     string `csv:"SYMBOL"`
	ExpiryDt   string `csv:"EXPIRY_DT"`
	StrikePr   string `csv:"STRIKE_PR"`
	OptionTyp  string `csv:"OPTION_TYP"`
	Open       string `csv:"OPEN"`
	High       string `csv:"HIGH"`
	Low        string `csv:"LOW"`
	Close      string `csv:"CLOSE"`
	SettlePr   string `csv:"SETTLE_PR"`
	Contracts  string `csv:"CONTRACTS"`
	ValInLakh  string `csv:"VAL_INLAKH"`
	OpenInt    string `csv:"OPEN_INT"`
	ChgInOI    string `csv:"CHG_IN_OI"`
	Timestamp  string `csv:"TIMESTAMP"`
}

// Skipped is a line that could not be turned into a raw trade
type Skipped struct {
	Line int // 1 based, the header is line 1
	Err  error
}

func (s Skipped) Error() string {
	return fmt.Sprintf("line %d: %s", s.Line, s.Err)
}

type Loader struct {
	Exchange string // default exchange code
}

func New(exchange string) *Loader {
	return &Loader{Exchange: exchange}
}

// ReadFile parses a bhavcopy file
func (l *Loader) ReadFile(fpath string) (rows []model.RawTrade, skipped []Skipped, err error) {
	defer func() {
		if err != nil {
			logger.Errorf("ReadFile %s failed with err:%s", fpath, err)
		}
	}()

	file, err := os.Open(fpath)
	if err != nil {
		return
	}
	defer file.Close()

	rows, skipped, err = l.Parse(file)
	if err != nil {
		return
	}

	logger.Infof("%s parsed, %d rows, %d skipped", fpath, len(rows), len(skipped))
	return
}

// Parse reads every record of r. Lines with unparsable values are skipped
// and reported, empty numeric cells count as zero.
func (l *Loader) Parse(r io.Reader) (rows []model.RawTrade, skipped []Skipped, err error) {
	records := []*Record{}
	if err = gocsv.Unmarshal(r, &records); err != nil {
		return nil, nil, fmt.Errorf("%w: csv: %v", model.ErrConstraintViolation, err)
	}

	rows = make([]model.RawTrade, 0, len(records))
	for i, rec := range records {
		raw, cerr := l.convert(rec)
		if cerr != nil {
			skipped = append(skipped, Skipped{Line: i + 2, Err: cerr})
			continue
		}
		rows = append(rows, raw)
	}
	return rows, skipped, nil
}

func (l *Loader) convert(rec *Record) (raw model.RawTrade, err error) {
	raw.ExchangeCode = strings.TrimSpace(rec.Exchange)
	if raw.ExchangeCode == "" {
		raw.ExchangeCode = l.Exchange
	}
	raw.InstrumentType = strings.TrimSpace(rec.Instrument)
	raw.Symbol = strings.TrimSpace(rec.Symbol)
	raw.OptionType = strings.TrimSpace(rec.OptionTyp)

	if raw.ExpiryDate, err = parseDate("EXPIRY_DT", rec.ExpiryDt); err != nil {
		return
	}
	if raw.Timestamp, err = parseDate("TIMESTAMP", rec.Timestamp); err != nil {
		return
	}
	raw.TradeDate = model.Day(raw.Timestamp)

	money := []struct {
		name string
		s    string
		v    *decimal.Decimal
	}{
		{"STRIKE_PR", rec.StrikePr, &raw.StrikePrice},
		{"OPEN", rec.Open, &raw.Open},
		{"HIGH", rec.High, &raw.High},
		{"LOW", rec.Low, &raw.Low},
		{"CLOSE", rec.Close, &raw.Close},
		{"SETTLE_PR", rec.SettlePr, &raw.Settle},
		{"VAL_INLAKH", rec.ValInLakh, &raw.Value},
	}
	for _, m := range money {
		if *m.v, err = parseMoney(m.name, m.s); err != nil {
			return
		}
	}

	counts := []struct {
		name string
		s    string
		v    *int64
	}{
		{"CONTRACTS", rec.Contracts, &raw.Contracts},
		{"OPEN_INT", rec.OpenInt, &raw.OpenInterest},
		{"CHG_IN_OI", rec.ChgInOI, &raw.ChangeInOI},
	}
	for _, c := range counts {
		if *c.v, err = parseCount(c.name, c.s); err != nil {
			return
		}
	}
	return
}

func parseDate(name, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, model.Violation("empty %s", name)
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, model.Violation("%s %q", name, s)
	}
	return t, nil
}

// parseMoney rounds to the money scale like a decimal(12,2) column does
func parseMoney(name, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, model.Violation("%s %q", name, s)
	}
	return d.Round(model.MoneyScale), nil
}

func parseCount(name, s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsInteger() {
		return 0, model.Violation("%s %q", name, s)
	}
	return d.IntPart(), nil
}

// Batches hands rows to fn in slices of at most size rows, stopping at the
// first error or when ctx is done
func Batches(ctx context.Context, rows []model.RawTrade, size int, fn func(ctx context.Context, batch []model.RawTrade) error) error {
	if size <= 0 {
		size = len(rows)
	}
	for start := 0; start < len(rows); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		if err := fn(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}
