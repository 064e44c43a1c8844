package engine

import (
	"sort"
	"time"

	"fodb/pkg/model"
	"fodb/pkg/tradestore"

	"github.com/shopspring/decimal"
)

// ChainRow is one strike of an option chain. A side without a trade keeps
// zero values and its Has flag unset.
type ChainRow struct {
	Strike decimal.Decimal `json:"strike"`

	HasCall    bool            `json:"hasCall"`
	CallClose  decimal.Decimal `json:"callClose"`
	CallOI     int64           `json:"callOI"`
	CallVolume int64           `json:"callVolume"`

	HasPut    bool            `json:"hasPut"`
	PutClose  decimal.Decimal `json:"putClose"`
	PutOI     int64           `json:"putOI"`
	PutVolume int64           `json:"putVolume"`
}

// chainSide accumulates one option type of one strike
type chainSide struct {
	close  decimal.Decimal
	oi     int64
	volume int64
	n      int64
}

func (c *chainSide) add(t *model.Trade) {
	c.close = c.close.Add(t.Close)
	c.oi += t.OpenInterest
	c.volume += t.Contracts
	c.n++
}

type chainStrike struct {
	strike    decimal.Decimal
	call, put chainSide
}

// chainBuilder groups the trades of a set of option contracts by strike
type chainBuilder struct {
	expiries map[int64]model.Expiry
	strikes  map[string]*chainStrike
}

func newChainBuilder() *chainBuilder {
	return &chainBuilder{
		expiries: map[int64]model.Expiry{},
		strikes:  map[string]*chainStrike{},
	}
}

func (b *chainBuilder) add(t *model.Trade) {
	ex, ok := b.expiries[t.ExpiryID]
	if !ok {
		return
	}
	k := ex.StrikePrice.String()
	s, ok := b.strikes[k]
	if !ok {
		s = &chainStrike{strike: ex.StrikePrice}
		b.strikes[k] = s
	}
	if ex.OptionType == model.Call {
		s.call.add(t)
	} else {
		s.put.add(t)
	}
}

func (b *chainBuilder) sorted() []*chainStrike {
	ss := make([]*chainStrike, 0, len(b.strikes))
	for _, s := range b.strikes {
		ss = append(ss, s)
	}
	sort.Slice(ss, func(i, j int) bool { return ss[i].strike.LessThan(ss[j].strike) })
	return ss
}

// optionInstruments lists the option instruments of a symbol on every exchange
func (e *Engine) optionInstruments(symbol string) []model.Instrument {
	var is []model.Instrument
	for _, i := range e.Catalog.InstrumentsBySymbol(symbol) {
		if i.Type.IsOption() {
			is = append(is, i)
		}
	}
	return is
}

// collect scans the trades of b's contracts, one instrument at a time
func (e *Engine) collect(b *chainBuilder, instruments []model.Instrument, dates model.DateRange) error {
	for _, i := range instruments {
		_, err := e.scan(tradestore.Filter{Dates: dates, InstrumentID: i.ID}, b.add)
		if err != nil {
			return err
		}
	}
	return nil
}

// OptionChain pivots the calls and puts of symbol expiring on expiry, as
// traded on tradeDate, into one row per strike. When the symbol trades on
// several exchanges volumes and open interest add up and closes average.
func (e *Engine) OptionChain(symbol string, expiry, tradeDate time.Time) (rows []ChainRow, err error) {
	defer e.Metrics.Since("option_chain", time.Now())
	defer func() {
		if err != nil {
			logger.Errorf("OptionChain %s failed with err:%s", symbol, err)
		}
	}()

	b := newChainBuilder()
	instruments := e.optionInstruments(symbol)
	for _, i := range instruments {
		for _, ex := range e.Registry.LookupExpiries(i.ID, expiry) {
			b.expiries[ex.ID] = ex
		}
	}
	if len(b.expiries) == 0 {
		return nil, nil
	}

	err = e.collect(b, instruments, model.NewDateRange(tradeDate, tradeDate))
	if err != nil {
		return
	}

	for _, s := range b.sorted() {
		row := ChainRow{Strike: s.strike}
		if s.call.n > 0 {
			row.HasCall = true
			row.CallClose = avg(s.call.close, s.call.n).Round(model.MoneyScale)
			row.CallOI = s.call.oi
			row.CallVolume = s.call.volume
		}
		if s.put.n > 0 {
			row.HasPut = true
			row.PutClose = avg(s.put.close, s.put.n).Round(model.MoneyScale)
			row.PutOI = s.put.oi
			row.PutVolume = s.put.volume
		}
		rows = append(rows, row)
	}
	return
}

// ChainSummaryRow is one strike of the nearest expiry over all its trade days
type ChainSummaryRow struct {
	Expiry    time.Time       `json:"expiry"`
	Strike    decimal.Decimal `json:"strike"`
	CEVolume  int64           `json:"ceVolume"`
	PEVolume  int64           `json:"peVolume"`
	CEOI      int64           `json:"ceOI"`
	PEOI      int64           `json:"peOI"`
	CEPremium decimal.Decimal `json:"cePremium"`
	PEPremium decimal.Decimal `json:"pePremium"`
}

// OptionChainSummary takes the first expiry of symbol on or after a day and
// sums volume and open interest per strike over every trade day, with the
// average close as premium
func (e *Engine) OptionChainSummary(symbol string, onOrAfter time.Time, limit int) (rows []ChainSummaryRow, err error) {
	defer e.Metrics.Since("option_chain_summary", time.Now())

	instruments := e.optionInstruments(symbol)

	var expiry time.Time
	for _, i := range instruments {
		day, ok := e.Registry.NearestExpiry(i.ID, onOrAfter)
		if ok && (expiry.IsZero() || day.Before(expiry)) {
			expiry = day
		}
	}
	if expiry.IsZero() {
		return nil, nil
	}

	b := newChainBuilder()
	for _, i := range instruments {
		for _, ex := range e.Registry.LookupExpiries(i.ID, expiry) {
			b.expiries[ex.ID] = ex
		}
	}

	err = e.collect(b, instruments, model.AllDates())
	if err != nil {
		return
	}

	for _, s := range b.sorted() {
		rows = append(rows, ChainSummaryRow{
			Expiry:    expiry,
			Strike:    s.strike,
			CEVolume:  s.call.volume,
			PEVolume:  s.put.volume,
			CEOI:      s.call.oi,
			PEOI:      s.put.oi,
			CEPremium: avg(s.call.close, s.call.n).Round(2),
			PEPremium: avg(s.put.close, s.put.n).Round(2),
		})
	}
	return head(rows, limit), nil
}
