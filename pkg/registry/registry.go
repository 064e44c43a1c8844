// Package registry is the contract registry: one expiry row per real-world
// contract specification (instrument, expiry date, strike, option type).
package registry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fodb/pkg/filedb"
	"fodb/pkg/model"
	"fodb/pkg/xlog"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

var logger = xlog.Named("registry")

const OpExpiry = "expiry"

// InstrumentSource resolves the parent instruments of new expiries
type InstrumentSource interface {
	Instrument(id int64) (model.Instrument, bool)
}

type expiryKey struct {
	instrumentID int64
	expiryDate   int64  // unix seconds of the day
	strike       string // normalized decimal
	optionType   model.OptionType
}

func keyOf(e *model.Expiry) expiryKey {
	return expiryKey{e.InstrumentID, e.ExpiryDate.Unix(), e.StrikePrice.String(), e.OptionType}
}

// chainItem orders the expiries of one instrument by date, strike, CE before PE, id
type chainItem struct {
	InstrumentID int64
	ExpiryDate   time.Time
	Strike       decimal.Decimal
	OptionType   model.OptionType
	ID           int64
}

func (a chainItem) Less(item btree.Item) bool {
	b, _ := item.(chainItem)

	if a.InstrumentID != b.InstrumentID {
		return a.InstrumentID < b.InstrumentID
	}
	if !a.ExpiryDate.Equal(b.ExpiryDate) {
		return a.ExpiryDate.Before(b.ExpiryDate)
	}
	if f := a.Strike.Cmp(b.Strike); f != 0 {
		return f < 0
	}
	if a.OptionType != b.OptionType {
		return optionRank(a.OptionType) < optionRank(b.OptionType)
	}
	return a.ID < b.ID
}

func optionRank(o model.OptionType) int {
	switch o {
	case model.Call:
		return 0
	case model.Put:
		return 1
	}
	return 2
}

// below every real strike, used as the pivot of range walks
var minStrike = decimal.NewFromInt(-1)

type Registry struct {
	mu sync.RWMutex

	instruments InstrumentSource

	expiries map[int64]*model.Expiry
	byKey    map[expiryKey]int64
	chain    *btree.BTree

	nextID int64
	LogID  int64 // ID of the latest log

	fdb *filedb.Filedb
}

type Option func(*Registry)

// WithLog persists every created or changed expiry to fdb, and replays it in New
func WithLog(fdb *filedb.Filedb) Option {
	return func(r *Registry) {
		r.fdb = fdb
	}
}

func New(instruments InstrumentSource, opts ...Option) (r *Registry, err error) {
	r = &Registry{
		instruments: instruments,
		expiries:    map[int64]*model.Expiry{},
		byKey:       map[expiryKey]int64{},
		chain:       btree.New(16),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.fdb != nil {
		err = r.replay()
		if err != nil {
			return nil, err
		}
	}
	return
}

func (r *Registry) replay() (err error) {
	defer func() {
		if err != nil {
			logger.Errorf("replay %s failed with err:%s", r.fdb.FilePath, err)
		}
	}()

	return r.fdb.Replay(func(s string) error {
		line, err := filedb.ParseLine(s)
		if err != nil {
			return err
		}
		if line.Op != OpExpiry {
			return fmt.Errorf("unknown registry op %q", line.Op)
		}
		r.LogID = line.LogID

		e := &model.Expiry{}
		if err := json.Unmarshal(line.Data, e); err != nil {
			return err
		}
		e.ExpiryDate = model.Day(e.ExpiryDate)
		if _, ok := r.expiries[e.ID]; ok {
			r.expiries[e.ID] = e
		} else {
			r.put(e)
		}
		if e.ID > r.nextID {
			r.nextID = e.ID
		}
		return nil
	})
}

func (r *Registry) persist(e *model.Expiry) error {
	if r.fdb == nil {
		return nil
	}
	err := r.fdb.Append(r.LogID+1, OpExpiry, e)
	if err != nil {
		return model.Unavailable("registry log", err)
	}
	r.LogID++
	return nil
}

func (r *Registry) put(e *model.Expiry) {
	r.expiries[e.ID] = e
	r.byKey[keyOf(e)] = e.ID
	r.chain.ReplaceOrInsert(chainItem{e.InstrumentID, e.ExpiryDate, e.StrikePrice, e.OptionType, e.ID})
}

// validate checks an expiry against its instrument's series
func validate(instrument model.Instrument, e *model.Expiry) error {
	if e.ExpiryDate.IsZero() {
		return model.Violation("empty expiry date")
	}
	if e.StrikePrice.IsNegative() {
		return model.Violation("negative strike %s", e.StrikePrice)
	}
	if !model.HasMoneyScale(e.StrikePrice) {
		return model.Violation("strike %s has more than %d decimals", e.StrikePrice, model.MoneyScale)
	}

	switch instrument.Series {
	case model.SeriesOption:
		if !e.OptionType.IsOption() {
			return model.Violation("option type %s on option instrument %s", e.OptionType, instrument.Symbol)
		}
	default:
		if e.OptionType != model.NoneOption {
			return model.Violation("option type %s on future instrument %s", e.OptionType, instrument.Symbol)
		}
		if !e.StrikePrice.IsZero() {
			return model.Violation("strike %s on future instrument %s", e.StrikePrice, instrument.Symbol)
		}
	}
	return nil
}

// CheckContract runs the checks ResolveOrCreateExpiry makes before creating
// a contract of instrument, nothing is stored
func CheckContract(instrument model.Instrument, expiryDate time.Time, strike decimal.Decimal, optionType string) error {
	ot, err := model.ParseOptionType(optionType)
	if err != nil {
		return err
	}
	return validate(instrument, &model.Expiry{
		ExpiryDate:  model.Day(expiryDate),
		StrikePrice: strike,
		OptionType:  ot,
	})
}

// ResolveOrCreateExpiry is idempotent on (instrument, expiry date, strike, option type)
func (r *Registry) ResolveOrCreateExpiry(instrumentID int64, expiryDate time.Time, strike decimal.Decimal, optionType string) (id int64, err error) {
	ot, err := model.ParseOptionType(optionType)
	if err != nil {
		return
	}

	e := &model.Expiry{
		InstrumentID: instrumentID,
		ExpiryDate:   model.Day(expiryDate),
		StrikePrice:  strike,
		OptionType:   ot,
		Active:       true,
	}
	key := keyOf(e)

	r.mu.RLock()
	id, ok := r.byKey[key]
	r.mu.RUnlock()
	if ok {
		return
	}

	instrument, ok := r.instruments.Instrument(instrumentID)
	if !ok {
		return 0, fmt.Errorf("%w: instrument %d", model.ErrReferenceNotFound, instrumentID)
	}
	err = validate(instrument, e)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok = r.byKey[key]; ok {
		return
	}

	e.ID = r.nextID + 1
	err = r.persist(e)
	if err != nil {
		return 0, err
	}
	r.nextID = e.ID
	r.put(e)

	logger.Tracef("expiry %d created %s %s %s %s", e.ID, instrument.Symbol, e.ExpiryDate.Format(model.DayLayout), e.StrikePrice, e.OptionType)
	return e.ID, nil
}

func (r *Registry) Expiry(id int64) (model.Expiry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.expiries[id]
	if !ok {
		return model.Expiry{}, false
	}
	return *e, true
}

// ExpiryInstrument returns the instrument owning an expiry
func (r *Registry) ExpiryInstrument(id int64) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.expiries[id]
	if !ok {
		return 0, false
	}
	return e.InstrumentID, true
}

// LookupExpiries returns the chain of one expiry date sorted by strike, CE before PE
func (r *Registry) LookupExpiries(instrumentID int64, expiryDate time.Time) []model.Expiry {
	expiryDate = model.Day(expiryDate)

	r.mu.RLock()
	defer r.mu.RUnlock()

	es := []model.Expiry{}
	pivot := chainItem{InstrumentID: instrumentID, ExpiryDate: expiryDate, Strike: minStrike}
	r.chain.AscendGreaterOrEqual(pivot, func(item btree.Item) bool {
		c := item.(chainItem)
		if c.InstrumentID != instrumentID || !c.ExpiryDate.Equal(expiryDate) {
			return false
		}
		es = append(es, *r.expiries[c.ID])
		return true
	})
	return es
}

// NearestExpiry returns the first expiry date of an instrument on or after a day
func (r *Registry) NearestExpiry(instrumentID int64, onOrAfter time.Time) (day time.Time, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pivot := chainItem{InstrumentID: instrumentID, ExpiryDate: model.Day(onOrAfter), Strike: minStrike}
	r.chain.AscendGreaterOrEqual(pivot, func(item btree.Item) bool {
		c := item.(chainItem)
		if c.InstrumentID == instrumentID {
			day, ok = c.ExpiryDate, true
		}
		return false
	})
	return
}

// ExpiryDates lists the distinct expiry dates of an instrument in order
func (r *Registry) ExpiryDates(instrumentID int64) []time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	days := []time.Time{}
	pivot := chainItem{InstrumentID: instrumentID, Strike: minStrike}
	r.chain.AscendGreaterOrEqual(pivot, func(item btree.Item) bool {
		c := item.(chainItem)
		if c.InstrumentID != instrumentID {
			return false
		}
		if n := len(days); n == 0 || !days[n-1].Equal(c.ExpiryDate) {
			days = append(days, c.ExpiryDate)
		}
		return true
	})
	return days
}

func (r *Registry) SetActive(id int64, active bool) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.expiries[id]
	if !ok {
		return fmt.Errorf("%w: expiry %d", model.ErrNotFound, id)
	}
	if e.Active == active {
		return nil
	}

	changed := *e
	changed.Active = active
	err = r.persist(&changed)
	if err != nil {
		return
	}
	r.expiries[id] = &changed
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.expiries)
}
