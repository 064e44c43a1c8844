package engine

import (
	"context"
	"fmt"
	"strings"

	"fodb/pkg/model"
	"fodb/pkg/registry"
)

// RowError is the failure of one input row
type RowError struct {
	Row int
	Err error
}

func (r RowError) Error() string {
	return fmt.Sprintf("row %d: %s", r.Row, r.Err)
}

func (r RowError) Unwrap() error {
	return r.Err
}

// LoadReport lists what a bulk load stored. Failed rows are not retried and
// the stored ones are never rolled back.
type LoadReport struct {
	Loaded int
	Failed []RowError
}

// Err returns the failure deciding the exit code of a load, storage errors
// first, nil when every row was stored
func (r LoadReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	for _, f := range r.Failed {
		if model.IsRetryable(f.Err) {
			return fmt.Errorf("%d rows failed, first storage failure %w", len(r.Failed), f)
		}
	}
	return fmt.Errorf("%d rows failed, first %w", len(r.Failed), r.Failed[0])
}

// Load resolves or creates the parents of every row and stores it. Rows
// are independent, a failing one is reported and the rest go on. It
// stops between rows when ctx is done.
func (e *Engine) Load(ctx context.Context, rows []model.RawTrade) (rep LoadReport, err error) {
	defer func() {
		e.Metrics.LoadBatches.Inc()
		e.gauges()
		if err != nil {
			logger.Errorf("Load failed with err:%s after %d rows", err, rep.Loaded+len(rep.Failed))
		}
	}()

	for i := range rows {
		if err = ctx.Err(); err != nil {
			return
		}

		_, rowErr := e.LoadOne(rows[i])
		if rowErr != nil {
			rep.Failed = append(rep.Failed, RowError{Row: i, Err: rowErr})
			logger.Debugf("Load row %d rejected: %s", i, rowErr)
			continue
		}
		rep.Loaded++
	}

	logger.Infof("Load stored %d rows, %d failed", rep.Loaded, len(rep.Failed))
	return
}

// LoadOne stores one raw row and returns the trade id
func (e *Engine) LoadOne(r model.RawTrade) (id int64, err error) {
	defer func() {
		if err != nil {
			e.Metrics.Reject(err)
		}
	}()

	tradeDate := r.TradeDate
	if tradeDate.IsZero() {
		tradeDate = r.Timestamp
	}
	t := model.Trade{
		TradeDate:    model.Day(tradeDate),
		Open:         r.Open,
		High:         r.High,
		Low:          r.Low,
		Close:        r.Close,
		Settle:       r.Settle,
		Contracts:    r.Contracts,
		Value:        r.Value,
		OpenInterest: r.OpenInterest,
		ChangeInOI:   r.ChangeInOI,
		Timestamp:    r.Timestamp,
	}

	// a rejected row leaves no instrument or contract behind
	err = e.precheck(r, &t)
	if err != nil {
		return
	}

	exchangeID, err := e.Catalog.ResolveOrCreateExchange(r.ExchangeCode)
	if err != nil {
		return
	}
	t.InstrumentID, err = e.Catalog.ResolveOrCreateInstrument(exchangeID, r.InstrumentType, r.Symbol, r.Series)
	if err != nil {
		return
	}
	t.ExpiryID, err = e.Registry.ResolveOrCreateExpiry(t.InstrumentID, r.ExpiryDate, r.StrikePrice, r.OptionType)
	if err != nil {
		return
	}

	id, err = e.Store.Insert(t)
	if err != nil {
		return
	}
	e.Metrics.InsertsTotal.Inc()
	return
}

// precheck runs every check of a row that needs no stored parent
func (e *Engine) precheck(r model.RawTrade, t *model.Trade) error {
	if _, err := model.ParseExchangeCode(r.ExchangeCode); err != nil {
		return err
	}
	it, err := model.ParseInstrumentType(r.InstrumentType)
	if err != nil {
		return err
	}
	symbol := strings.ToUpper(strings.TrimSpace(r.Symbol))
	if symbol == "" {
		return model.Violation("empty symbol")
	}
	instrument := model.Instrument{Type: it, Symbol: symbol, Series: it.Series()}
	if err = registry.CheckContract(instrument, r.ExpiryDate, r.StrikePrice, r.OptionType); err != nil {
		return err
	}
	return e.Store.CheckValues(*t)
}
