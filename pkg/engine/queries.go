package engine

import (
	"math"
	"sort"
	"time"

	"fodb/pkg/model"
	"fodb/pkg/tradestore"

	"github.com/shopspring/decimal"
)

// divScale is the precision intermediate averages keep before rounding
const divScale = 8

type point struct {
	day   time.Time
	close decimal.Decimal
}

func avg(sum decimal.Decimal, n int64) decimal.Decimal {
	if n == 0 {
		return decimal.Zero
	}
	return sum.DivRound(decimal.NewFromInt(n), divScale)
}

func avgInt(sum int64, n int64) decimal.Decimal {
	return avg(decimal.NewFromInt(sum), n)
}

// scan runs f over one snapshot of the store and records the access path
func (e *Engine) scan(f tradestore.Filter, fn func(t *model.Trade)) (plan tradestore.Plan, err error) {
	c, err := e.Store.Scan(f)
	if err != nil {
		return
	}
	for c.Next() {
		t := c.Trade()
		fn(&t)
	}
	if err = c.Err(); err != nil {
		return
	}

	plan = c.Plan()
	e.Metrics.ScansTotal.WithLabelValues(plan.Index).Inc()
	e.Metrics.PrunedTotal.Add(float64(plan.PartitionsPruned))
	e.Metrics.ScanRows.Observe(float64(c.Count()))
	return
}

// joiner resolves instruments and their exchange codes once per query
type joiner struct {
	e           *Engine
	instruments map[int64]model.Instrument
	exchanges   map[int64]model.ExchangeCode
	expiries    map[int64]model.Expiry
}

func (e *Engine) joiner() *joiner {
	return &joiner{
		e:           e,
		instruments: map[int64]model.Instrument{},
		exchanges:   map[int64]model.ExchangeCode{},
		expiries:    map[int64]model.Expiry{},
	}
}

func (j *joiner) instrument(id int64) model.Instrument {
	i, ok := j.instruments[id]
	if !ok {
		i, _ = j.e.Catalog.Instrument(id)
		j.instruments[id] = i
	}
	return i
}

func (j *joiner) exchange(instrumentID int64) model.ExchangeCode {
	code, ok := j.exchanges[instrumentID]
	if !ok {
		ex, _ := j.e.Catalog.Exchange(j.instrument(instrumentID).ExchangeID)
		code = ex.Code
		j.exchanges[instrumentID] = code
	}
	return code
}

func (j *joiner) expiry(id int64) model.Expiry {
	ex, ok := j.expiries[id]
	if !ok {
		ex, _ = j.e.Registry.Expiry(id)
		j.expiries[id] = ex
	}
	return ex
}

// OIChangeRow is one (symbol, exchange) of TopOIChange
type OIChangeRow struct {
	Symbol           string             `json:"symbol"`
	Exchange         model.ExchangeCode `json:"exchange"`
	NetOIChange      int64              `json:"netOIChange"`
	AvgOpenInterest  decimal.Decimal    `json:"avgOpenInterest"`
	CumulativeVolume int64              `json:"cumulativeVolume"`
	TradingDays      int                `json:"tradingDays"`
}

// TopOIChange ranks (symbol, exchange) by the absolute net change in open
// interest since a day
func (e *Engine) TopOIChange(since time.Time, limit int) (rows []OIChangeRow, err error) {
	defer e.Metrics.Since("top_oi_change", time.Now())

	type acc struct {
		row     OIChangeRow
		oi, n   int64
		tradeOn map[time.Time]struct{}
	}
	type groupKey struct {
		symbol   string
		exchange model.ExchangeCode
	}
	groups := map[groupKey]*acc{}

	j := e.joiner()
	_, err = e.scan(tradestore.Filter{Dates: model.Since(since)}, func(t *model.Trade) {
		k := groupKey{j.instrument(t.InstrumentID).Symbol, j.exchange(t.InstrumentID)}
		a, ok := groups[k]
		if !ok {
			a = &acc{row: OIChangeRow{Symbol: k.symbol, Exchange: k.exchange}, tradeOn: map[time.Time]struct{}{}}
			groups[k] = a
		}
		a.row.NetOIChange += t.ChangeInOI
		a.row.CumulativeVolume += t.Contracts
		a.oi += t.OpenInterest
		a.n++
		a.tradeOn[t.TradeDate] = struct{}{}
	})
	if err != nil {
		return
	}

	rows = make([]OIChangeRow, 0, len(groups))
	for _, a := range groups {
		a.row.AvgOpenInterest = avgInt(a.oi, a.n).Round(0)
		a.row.TradingDays = len(a.tradeOn)
		rows = append(rows, a.row)
	}
	sort.Slice(rows, func(x, y int) bool {
		ax, ay := abs(rows[x].NetOIChange), abs(rows[y].NetOIChange)
		if ax != ay {
			return ax > ay
		}
		if rows[x].Symbol != rows[y].Symbol {
			return rows[x].Symbol < rows[y].Symbol
		}
		return rows[x].Exchange < rows[y].Exchange
	})
	return head(rows, limit), nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func head[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

// VolatilityRow summarizes the rolling volatility of one symbol
type VolatilityRow struct {
	Symbol        string          `json:"symbol"`
	LatestDate    time.Time       `json:"latestDate"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	AvgVolatility decimal.Decimal `json:"avgVolatility"`
	MinVolatility decimal.Decimal `json:"minVolatility"`
	MaxVolatility decimal.Decimal `json:"maxVolatility"`
}

// RollingVolatility averages the close of every symbol per day, takes the
// sample standard deviation over the last window days and summarizes it.
// The first day of a symbol has no deviation and is left out.
func (e *Engine) RollingVolatility(since time.Time, window, limit int) (rows []VolatilityRow, err error) {
	defer e.Metrics.Since("rolling_volatility", time.Now())

	if window < 2 {
		return nil, model.Violation("volatility window %d below 2", window)
	}

	type daily struct {
		sum decimal.Decimal
		n   int64
	}
	type dayKey struct {
		symbol string
		day    time.Time
	}
	days := map[dayKey]*daily{}

	j := e.joiner()
	_, err = e.scan(tradestore.Filter{Dates: model.Since(since)}, func(t *model.Trade) {
		k := dayKey{j.instrument(t.InstrumentID).Symbol, t.TradeDate}
		d, ok := days[k]
		if !ok {
			d = &daily{}
			days[k] = d
		}
		d.sum = d.sum.Add(t.Close)
		d.n++
	})
	if err != nil {
		return
	}

	series := map[string][]point{}
	for k, d := range days {
		series[k.symbol] = append(series[k.symbol], point{k.day, avg(d.sum, d.n)})
	}

	for symbol, ps := range series {
		sort.Slice(ps, func(x, y int) bool { return ps[x].day.Before(ps[y].day) })
		if len(ps) < 2 {
			continue
		}

		row := VolatilityRow{Symbol: symbol}
		var sumClose, sumVol decimal.Decimal
		var n int64
		for i := 1; i < len(ps); i++ {
			from := i - window + 1
			if from < 0 {
				from = 0
			}
			vol := stddev(ps[from : i+1])
			if n == 0 || vol.LessThan(row.MinVolatility) {
				row.MinVolatility = vol
			}
			if n == 0 || vol.GreaterThan(row.MaxVolatility) {
				row.MaxVolatility = vol
			}
			sumVol = sumVol.Add(vol)
			sumClose = sumClose.Add(ps[i].close)
			n++
		}
		row.LatestDate = ps[len(ps)-1].day
		row.AvgPrice = avg(sumClose, n).Round(2)
		row.AvgVolatility = avg(sumVol, n).Round(2)
		row.MinVolatility = row.MinVolatility.Round(2)
		row.MaxVolatility = row.MaxVolatility.Round(2)
		rows = append(rows, row)
	}

	sort.Slice(rows, func(x, y int) bool {
		if !rows[x].AvgVolatility.Equal(rows[y].AvgVolatility) {
			return rows[x].AvgVolatility.GreaterThan(rows[y].AvgVolatility)
		}
		return rows[x].Symbol < rows[y].Symbol
	})
	return head(rows, limit), nil
}

// stddev is the sample standard deviation of at least two closes, only the
// square root goes through float64
func stddev(ps []point) decimal.Decimal {
	n := int64(len(ps))
	sum := decimal.Zero
	for _, p := range ps {
		sum = sum.Add(p.close)
	}
	mean := sum.DivRound(decimal.NewFromInt(n), 2*divScale)

	sq := decimal.Zero
	for _, p := range ps {
		d := p.close.Sub(mean)
		sq = sq.Add(d.Mul(d))
	}
	variance := sq.DivRound(decimal.NewFromInt(n-1), 2*divScale)
	return decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
}

// ExchangeVolumeRow is one (exchange, instrument type) of CrossExchangeVolume
type ExchangeVolumeRow struct {
	Exchange       model.ExchangeCode   `json:"exchange"`
	InstrumentType model.InstrumentType `json:"instrumentType"`
	Symbols        int                  `json:"symbols"`
	TotalVolume    int64                `json:"totalVolume"`
	TotalValue     decimal.Decimal      `json:"totalValue"`
	AvgClose       decimal.Decimal      `json:"avgClose"`
}

// CrossExchangeVolume compares volume and value per exchange and instrument type
func (e *Engine) CrossExchangeVolume(dates model.DateRange) (rows []ExchangeVolumeRow, err error) {
	defer e.Metrics.Since("cross_exchange_volume", time.Now())

	type acc struct {
		row     ExchangeVolumeRow
		close   decimal.Decimal
		n       int64
		symbols map[string]struct{}
	}
	type groupKey struct {
		exchange model.ExchangeCode
		typ      model.InstrumentType
	}
	groups := map[groupKey]*acc{}

	j := e.joiner()
	_, err = e.scan(tradestore.Filter{Dates: dates}, func(t *model.Trade) {
		i := j.instrument(t.InstrumentID)
		k := groupKey{j.exchange(t.InstrumentID), i.Type}
		a, ok := groups[k]
		if !ok {
			a = &acc{row: ExchangeVolumeRow{Exchange: k.exchange, InstrumentType: k.typ}, symbols: map[string]struct{}{}}
			groups[k] = a
		}
		a.symbols[i.Symbol] = struct{}{}
		a.row.TotalVolume += t.Contracts
		a.row.TotalValue = a.row.TotalValue.Add(t.Value)
		a.close = a.close.Add(t.Close)
		a.n++
	})
	if err != nil {
		return
	}

	rows = make([]ExchangeVolumeRow, 0, len(groups))
	for _, a := range groups {
		a.row.Symbols = len(a.symbols)
		a.row.TotalValue = a.row.TotalValue.Round(2)
		a.row.AvgClose = avg(a.close, a.n).Round(2)
		rows = append(rows, a.row)
	}
	sort.Slice(rows, func(x, y int) bool {
		if rows[x].TotalVolume != rows[y].TotalVolume {
			return rows[x].TotalVolume > rows[y].TotalVolume
		}
		if rows[x].Exchange != rows[y].Exchange {
			return rows[x].Exchange < rows[y].Exchange
		}
		return rows[x].InstrumentType < rows[y].InstrumentType
	})
	return rows, nil
}

// VolumeDayRow is the busiest day of one symbol
type VolumeDayRow struct {
	Symbol      string    `json:"symbol"`
	TradeDate   time.Time `json:"tradeDate"`
	DailyVolume int64     `json:"dailyVolume"`
}

// TopVolumeDays finds the busiest day of every symbol and ranks those days
// by volume. A symbol whose best days tie keeps the earliest.
func (e *Engine) TopVolumeDays(dates model.DateRange, limit int) (rows []VolumeDayRow, err error) {
	defer e.Metrics.Since("top_volume_days", time.Now())

	type dayKey struct {
		symbol string
		day    time.Time
	}
	volumes := map[dayKey]int64{}

	j := e.joiner()
	_, err = e.scan(tradestore.Filter{Dates: dates, MinContracts: 1}, func(t *model.Trade) {
		volumes[dayKey{j.instrument(t.InstrumentID).Symbol, t.TradeDate}] += t.Contracts
	})
	if err != nil {
		return
	}

	best := map[string]VolumeDayRow{}
	for k, v := range volumes {
		cur, ok := best[k.symbol]
		if !ok || v > cur.DailyVolume || (v == cur.DailyVolume && k.day.Before(cur.TradeDate)) {
			best[k.symbol] = VolumeDayRow{Symbol: k.symbol, TradeDate: k.day, DailyVolume: v}
		}
	}

	rows = make([]VolumeDayRow, 0, len(best))
	for _, r := range best {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(x, y int) bool {
		if rows[x].DailyVolume != rows[y].DailyVolume {
			return rows[x].DailyVolume > rows[y].DailyVolume
		}
		return rows[x].Symbol < rows[y].Symbol
	})
	return head(rows, limit), nil
}

// TopVolume returns the n trades with the highest volume inside dates, read
// from the volume index of every partition
func (e *Engine) TopVolume(dates model.DateRange, n int) (ts []model.Trade, plan tradestore.Plan, err error) {
	defer e.Metrics.Since("top_volume", time.Now())

	ts, plan, err = e.Store.TopByVolume(dates, n)
	if err != nil {
		return
	}
	e.Metrics.ScansTotal.WithLabelValues(plan.Index).Inc()
	e.Metrics.PrunedTotal.Add(float64(plan.PartitionsPruned))
	return
}

// RangeRow is the intraday range of one symbol and day
type RangeRow struct {
	Symbol      string          `json:"symbol"`
	TradeDate   time.Time       `json:"tradeDate"`
	AvgRange    decimal.Decimal `json:"avgRange"`
	AvgRangePct decimal.Decimal `json:"avgRangePct"`
	MaxRange    decimal.Decimal `json:"maxRange"`
	Contracts   int             `json:"contracts"` // rows averaged
}

// IntradayRange ranks (symbol, day) by the average high-low range in percent
// of the close, keeping those above minPct. Rows without a range or a close
// are ignored.
func (e *Engine) IntradayRange(dates model.DateRange, minPct decimal.Decimal, limit int) (rows []RangeRow, err error) {
	defer e.Metrics.Since("intraday_range", time.Now())

	type acc struct {
		row      RangeRow
		rng, pct decimal.Decimal
	}
	type dayKey struct {
		symbol string
		day    time.Time
	}
	groups := map[dayKey]*acc{}

	j := e.joiner()
	_, err = e.scan(tradestore.Filter{Dates: dates}, func(t *model.Trade) {
		r := t.Range()
		if !r.IsPositive() || !t.Close.IsPositive() {
			return
		}
		k := dayKey{j.instrument(t.InstrumentID).Symbol, t.TradeDate}
		a, ok := groups[k]
		if !ok {
			a = &acc{row: RangeRow{Symbol: k.symbol, TradeDate: k.day, MaxRange: r}}
			groups[k] = a
		}
		if r.GreaterThan(a.row.MaxRange) {
			a.row.MaxRange = r
		}
		a.rng = a.rng.Add(r)
		a.pct = a.pct.Add(r.Mul(hundred).DivRound(t.Close, divScale))
		a.row.Contracts++
	})
	if err != nil {
		return
	}

	for _, a := range groups {
		n := int64(a.row.Contracts)
		a.row.AvgRange = avg(a.rng, n).Round(2)
		a.row.AvgRangePct = avg(a.pct, n).Round(2)
		if a.row.AvgRangePct.GreaterThan(minPct) {
			rows = append(rows, a.row)
		}
	}
	sort.Slice(rows, func(x, y int) bool {
		if !rows[x].AvgRangePct.Equal(rows[y].AvgRangePct) {
			return rows[x].AvgRangePct.GreaterThan(rows[y].AvgRangePct)
		}
		if rows[x].Symbol != rows[y].Symbol {
			return rows[x].Symbol < rows[y].Symbol
		}
		return rows[x].TradeDate.Before(rows[y].TradeDate)
	})
	return head(rows, limit), nil
}

var hundred = decimal.NewFromInt(100)

// ActiveExpiryRow is one option expiry of a symbol
type ActiveExpiryRow struct {
	Symbol      string          `json:"symbol"`
	ExpiryDate  time.Time       `json:"expiryDate"`
	Strikes     int             `json:"strikes"`
	TotalVolume int64           `json:"totalVolume"`
	TotalValue  decimal.Decimal `json:"totalValue"`
	AvgOI       decimal.Decimal `json:"avgOI"`
}

// ActiveExpiries ranks the option expiries of every symbol by volume
func (e *Engine) ActiveExpiries(dates model.DateRange, limit int) (rows []ActiveExpiryRow, err error) {
	defer e.Metrics.Since("active_expiries", time.Now())

	type acc struct {
		row     ActiveExpiryRow
		oi, n   int64
		strikes map[string]struct{}
	}
	type groupKey struct {
		symbol string
		expiry time.Time
	}
	groups := map[groupKey]*acc{}

	j := e.joiner()
	_, err = e.scan(tradestore.Filter{Dates: dates}, func(t *model.Trade) {
		ex := j.expiry(t.ExpiryID)
		if !ex.OptionType.IsOption() {
			return
		}
		k := groupKey{j.instrument(t.InstrumentID).Symbol, ex.ExpiryDate}
		a, ok := groups[k]
		if !ok {
			a = &acc{row: ActiveExpiryRow{Symbol: k.symbol, ExpiryDate: k.expiry}, strikes: map[string]struct{}{}}
			groups[k] = a
		}
		a.strikes[ex.StrikePrice.String()] = struct{}{}
		a.row.TotalVolume += t.Contracts
		a.row.TotalValue = a.row.TotalValue.Add(t.Value)
		a.oi += t.OpenInterest
		a.n++
	})
	if err != nil {
		return
	}

	rows = make([]ActiveExpiryRow, 0, len(groups))
	for _, a := range groups {
		a.row.Strikes = len(a.strikes)
		a.row.TotalValue = a.row.TotalValue.Round(2)
		a.row.AvgOI = avgInt(a.oi, a.n).Round(0)
		rows = append(rows, a.row)
	}
	sort.Slice(rows, func(x, y int) bool {
		if rows[x].TotalVolume != rows[y].TotalVolume {
			return rows[x].TotalVolume > rows[y].TotalVolume
		}
		if rows[x].Symbol != rows[y].Symbol {
			return rows[x].Symbol < rows[y].Symbol
		}
		return rows[x].ExpiryDate.Before(rows[y].ExpiryDate)
	})
	return head(rows, limit), nil
}
