// Package aggview maintains the daily aggregate view. A key (instrument,
// day) is stale from the moment a write touches it until an explicit
// Refresh recomputes it, lookups never refresh.
package aggview

import (
	"context"
	"sort"
	"sync"
	"time"

	"fodb/pkg/model"
	"fodb/pkg/tradestore"
	"fodb/pkg/xlog"

	"github.com/shopspring/decimal"
)

var logger = xlog.Named("aggview")

// AvgScale is the number of fractional digits of averaged closes
const AvgScale = 4

// Source is where aggregates are computed from
type Source interface {
	Scan(f tradestore.Filter) (*tradestore.Cursor, error)
}

// Publisher receives the rows of every refresh
type Publisher interface {
	Publish(ctx context.Context, rows []model.DailyAggregate) error
}

type key struct {
	instrumentID int64
	day          int64
}

func (k key) time() time.Time {
	return time.Unix(k.day, 0).UTC()
}

type View struct {
	mu sync.Mutex

	source    Source
	publisher Publisher

	rows  map[key]model.DailyAggregate
	dirty map[key]uint64 // generation of the latest write
	gen   uint64
}

type Option func(*View)

func WithPublisher(p Publisher) Option {
	return func(v *View) {
		v.publisher = p
	}
}

func New(source Source, opts ...Option) *View {
	v := &View{
		source: source,
		rows:   map[key]model.DailyAggregate{},
		dirty:  map[key]uint64{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// MarkDirty makes a key stale, called for every write the store applies
func (v *View) MarkDirty(instrumentID int64, day time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.gen++
	v.dirty[key{instrumentID, model.Day(day).Unix()}] = v.gen
}

type RefreshResult struct {
	Refreshed int // keys recomputed and fresh again
	Removed   int // keys without rows left
	Raced     int // keys written while recomputed, still stale
}

// Refresh recomputes the stale keys inside dates. A key written while it is
// recomputed stays stale, so refreshing again picks the write up.
func (v *View) Refresh(ctx context.Context, dates model.DateRange) (res RefreshResult, err error) {
	defer func() {
		if err != nil {
			logger.Errorf("Refresh %s failed with err:%s", dates, err)
		}
	}()

	v.mu.Lock()
	keys := make([]key, 0)
	gens := map[key]uint64{}
	for k, g := range v.dirty {
		if dates.Contains(k.time()) {
			keys = append(keys, k)
			gens[k] = g
		}
	}
	v.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })

	published := make([]model.DailyAggregate, 0, len(keys))
	for _, k := range keys {
		if err = ctx.Err(); err != nil {
			return
		}

		var agg model.DailyAggregate
		agg, err = v.Compute(k.instrumentID, k.time())
		if err != nil {
			return
		}

		v.mu.Lock()
		if v.dirty[k] != gens[k] {
			res.Raced++
		} else {
			delete(v.dirty, k)
			if agg.Rows == 0 {
				delete(v.rows, k)
				res.Removed++
			} else {
				v.rows[k] = agg
				res.Refreshed++
				published = append(published, agg)
			}
		}
		v.mu.Unlock()
	}

	if v.publisher != nil && len(published) > 0 {
		err = v.publisher.Publish(ctx, published)
		if err != nil {
			return
		}
	}

	logger.Debugf("Refresh %s refreshed:%d removed:%d raced:%d", dates, res.Refreshed, res.Removed, res.Raced)
	return
}

// Lookup returns the cached aggregate, fresh is false for stale or unknown keys
func (v *View) Lookup(instrumentID int64, day time.Time) (agg model.DailyAggregate, fresh bool) {
	k := key{instrumentID, model.Day(day).Unix()}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.dirty[k]; ok {
		return model.DailyAggregate{}, false
	}
	agg, fresh = v.rows[k]
	return
}

// Rows returns the fresh rows inside dates ordered by (instrument, day)
func (v *View) Rows(dates model.DateRange) []model.DailyAggregate {
	v.mu.Lock()
	keys := make([]key, 0, len(v.rows))
	for k := range v.rows {
		if _, ok := v.dirty[k]; !ok && dates.Contains(k.time()) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })

	rows := make([]model.DailyAggregate, len(keys))
	for i, k := range keys {
		rows[i] = v.rows[k]
	}
	v.mu.Unlock()

	return rows
}

// Stale returns the number of stale keys
func (v *View) Stale() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return len(v.dirty)
}

// Compute aggregates the rows of one instrument and day straight from the source
func (v *View) Compute(instrumentID int64, day time.Time) (agg model.DailyAggregate, err error) {
	day = model.Day(day)
	c, err := v.source.Scan(tradestore.Filter{
		Dates:        model.NewDateRange(day, day),
		InstrumentID: instrumentID,
	})
	if err != nil {
		return
	}

	agg = model.DailyAggregate{InstrumentID: instrumentID, TradeDate: day}
	sum := decimal.Zero
	for c.Next() {
		t := c.Trade()
		if agg.Rows == 0 || t.Close.GreaterThan(agg.HighClose) {
			agg.HighClose = t.Close
		}
		if agg.Rows == 0 || t.Close.LessThan(agg.LowClose) {
			agg.LowClose = t.Close
		}
		agg.Rows++
		agg.Volume += t.Contracts
		agg.Value = agg.Value.Add(t.Value)
		agg.TotalOI += t.OpenInterest
		agg.NetOIChange += t.ChangeInOI
		sum = sum.Add(t.Close)
	}
	if err = c.Err(); err != nil {
		return
	}

	if agg.Rows > 0 {
		agg.AvgClose = sum.DivRound(decimal.NewFromInt(agg.Rows), AvgScale)
	}
	return
}

func keyLess(a, b key) bool {
	if a.instrumentID != b.instrumentID {
		return a.instrumentID < b.instrumentID
	}
	return a.day < b.day
}
