package engine

import (
	"sort"
	"time"

	"fodb/pkg/model"

	"github.com/shopspring/decimal"
)

// Params are the arguments of a named query, dates are 2006-01-02 strings
// so they travel as is over the wire
type Params struct {
	Symbol     string `json:"symbol,omitempty"`
	Expiry     string `json:"expiry,omitempty"`
	Date       string `json:"date,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Window     int    `json:"window,omitempty"`
	MinPct     string `json:"minPct,omitempty"`
	Instrument int64  `json:"instrument,omitempty"`
}

func (p Params) day(name, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, model.Violation("empty %s", name)
	}
	t, err := model.ParseDay(s)
	if err != nil {
		return time.Time{}, model.Violation("%s: %s", name, err)
	}
	return t, nil
}

// Dates is From..To, an empty end stays open
func (p Params) Dates() (r model.DateRange, err error) {
	if p.From != "" {
		if r.From, err = p.day("from", p.From); err != nil {
			return
		}
	}
	if p.To != "" {
		if r.To, err = p.day("to", p.To); err != nil {
			return
		}
	}
	if !r.Valid() {
		return r, model.Violation("from %s is after to %s", p.From, p.To)
	}
	return
}

// TopVolumeResult carries the access path next to the rows
type TopVolumeResult struct {
	Trades []model.Trade `json:"trades"`
	Index  string        `json:"index"`
	Pruned int           `json:"pruned"`
}

// AggregateResult is a daily aggregate and whether it reflects every write
type AggregateResult struct {
	model.DailyAggregate
	Fresh bool `json:"fresh"`
}

var queries = map[string]func(e *Engine, p Params) (interface{}, error){
	"top_oi_change": func(e *Engine, p Params) (interface{}, error) {
		since, err := p.day("from", p.From)
		if err != nil {
			return nil, err
		}
		return e.TopOIChange(since, p.Limit)
	},
	"volatility": func(e *Engine, p Params) (interface{}, error) {
		since, err := p.day("from", p.From)
		if err != nil {
			return nil, err
		}
		return e.RollingVolatility(since, p.Window, p.Limit)
	},
	"cross_exchange": func(e *Engine, p Params) (interface{}, error) {
		r, err := p.Dates()
		if err != nil {
			return nil, err
		}
		return e.CrossExchangeVolume(r)
	},
	"top_volume_days": func(e *Engine, p Params) (interface{}, error) {
		r, err := p.Dates()
		if err != nil {
			return nil, err
		}
		return e.TopVolumeDays(r, p.Limit)
	},
	"top_volume": func(e *Engine, p Params) (interface{}, error) {
		r, err := p.Dates()
		if err != nil {
			return nil, err
		}
		ts, plan, err := e.TopVolume(r, p.Limit)
		if err != nil {
			return nil, err
		}
		return TopVolumeResult{Trades: ts, Index: plan.Index, Pruned: plan.PartitionsPruned}, nil
	},
	"intraday_range": func(e *Engine, p Params) (interface{}, error) {
		r, err := p.Dates()
		if err != nil {
			return nil, err
		}
		minPct := decimal.Zero
		if p.MinPct != "" {
			if minPct, err = decimal.NewFromString(p.MinPct); err != nil {
				return nil, model.Violation("min pct %q", p.MinPct)
			}
		}
		return e.IntradayRange(r, minPct, p.Limit)
	},
	"active_expiries": func(e *Engine, p Params) (interface{}, error) {
		r, err := p.Dates()
		if err != nil {
			return nil, err
		}
		return e.ActiveExpiries(r, p.Limit)
	},
	"option_chain": func(e *Engine, p Params) (interface{}, error) {
		expiry, err := p.day("expiry", p.Expiry)
		if err != nil {
			return nil, err
		}
		tradeDate, err := p.day("date", p.Date)
		if err != nil {
			return nil, err
		}
		return e.OptionChain(p.Symbol, expiry, tradeDate)
	},
	"chain_summary": func(e *Engine, p Params) (interface{}, error) {
		onOrAfter, err := p.day("date", p.Date)
		if err != nil {
			return nil, err
		}
		return e.OptionChainSummary(p.Symbol, onOrAfter, p.Limit)
	},
	"daily_aggregate": func(e *Engine, p Params) (interface{}, error) {
		d, err := p.day("date", p.Date)
		if err != nil {
			return nil, err
		}
		agg, fresh, err := e.DailyAggregate(p.Instrument, d)
		if err != nil {
			return nil, err
		}
		return AggregateResult{DailyAggregate: agg, Fresh: fresh}, nil
	},
	"stats": func(e *Engine, p Params) (interface{}, error) {
		return e.Stats()
	},
}

// QueryNames lists the queries Query knows, sorted
func QueryNames() []string {
	names := make([]string, 0, len(queries))
	for name := range queries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Query runs the query called name
func (e *Engine) Query(name string, p Params) (v interface{}, err error) {
	q, ok := queries[name]
	if !ok {
		return nil, model.Violation("unknown query %q", name)
	}
	return q(e, p)
}
