// Package catalog keeps the exchanges and the instruments listed on them.
package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"fodb/pkg/filedb"
	"fodb/pkg/model"
	"fodb/pkg/xlog"
)

var logger = xlog.Named("catalog")

const (
	OpExchange   = "exchange"
	OpInstrument = "instrument"
)

type instrumentKey struct {
	exchangeID int64
	typ        model.InstrumentType
	symbol     string
}

// Catalog is safe for concurrent use. Lookups take the read lock only, a
// miss escalates to the write lock and checks again before creating.
type Catalog struct {
	mu sync.RWMutex

	exchanges map[int64]*model.Exchange
	byCode    map[model.ExchangeCode]int64

	instruments map[int64]*model.Instrument
	byKey       map[instrumentKey]int64
	bySymbol    map[string][]int64

	nextExchangeID   int64
	nextInstrumentID int64
	LogID            int64 // ID of the latest log

	fdb *filedb.Filedb
}

type Option func(*Catalog)

// WithLog persists every created or changed row to fdb, and replays it in New
func WithLog(fdb *filedb.Filedb) Option {
	return func(c *Catalog) {
		c.fdb = fdb
	}
}

func New(opts ...Option) (c *Catalog, err error) {
	c = &Catalog{
		exchanges:   map[int64]*model.Exchange{},
		byCode:      map[model.ExchangeCode]int64{},
		instruments: map[int64]*model.Instrument{},
		byKey:       map[instrumentKey]int64{},
		bySymbol:    map[string][]int64{},
	}
	for _, opt := range opts {
		opt(c)
	}

	// seeds get the same ids on every start, so they are never logged
	for _, seed := range model.ExchangeSeeds {
		e := seed
		c.nextExchangeID++
		e.ID = c.nextExchangeID
		c.putExchange(&e)
	}

	if c.fdb != nil {
		err = c.replay()
		if err != nil {
			return nil, err
		}
	}

	logger.Debugf("catalog ready with %d exchanges and %d instruments", len(c.exchanges), len(c.instruments))
	return
}

func (c *Catalog) replay() (err error) {
	defer func() {
		if err != nil {
			logger.Errorf("replay %s failed with err:%s", c.fdb.FilePath, err)
		}
	}()

	return c.fdb.Replay(func(s string) error {
		line, err := filedb.ParseLine(s)
		if err != nil {
			return err
		}
		c.LogID = line.LogID

		switch line.Op {
		case OpExchange:
			e := &model.Exchange{}
			if err := json.Unmarshal(line.Data, e); err != nil {
				return err
			}
			c.putExchange(e)
			if e.ID > c.nextExchangeID {
				c.nextExchangeID = e.ID
			}
		case OpInstrument:
			i := &model.Instrument{}
			if err := json.Unmarshal(line.Data, i); err != nil {
				return err
			}
			if _, ok := c.instruments[i.ID]; !ok {
				c.putInstrument(i)
			}
			if i.ID > c.nextInstrumentID {
				c.nextInstrumentID = i.ID
			}
		default:
			return fmt.Errorf("unknown catalog op %q", line.Op)
		}
		return nil
	})
}

// persist must be called with the write lock held
func (c *Catalog) persist(op string, v interface{}) error {
	if c.fdb == nil {
		return nil
	}
	err := c.fdb.Append(c.LogID+1, op, v)
	if err != nil {
		return model.Unavailable("catalog log", err)
	}
	c.LogID++
	return nil
}

func (c *Catalog) putExchange(e *model.Exchange) {
	c.exchanges[e.ID] = e
	c.byCode[e.Code] = e.ID
}

func (c *Catalog) putInstrument(i *model.Instrument) {
	c.instruments[i.ID] = i
	c.byKey[instrumentKey{i.ExchangeID, i.Type, i.Symbol}] = i.ID
	c.bySymbol[i.Symbol] = append(c.bySymbol[i.Symbol], i.ID)
}

// ResolveOrCreateExchange returns the id of the exchange with the given code
func (c *Catalog) ResolveOrCreateExchange(code string) (id int64, err error) {
	ec, err := model.ParseExchangeCode(code)
	if err != nil {
		return
	}

	c.mu.RLock()
	id, ok := c.byCode[ec]
	c.mu.RUnlock()
	if ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok = c.byCode[ec]; ok {
		return
	}

	e := &model.Exchange{Code: ec, Name: string(ec), Active: true}
	for _, seed := range model.ExchangeSeeds {
		if seed.Code == ec {
			*e = seed
		}
	}
	e.ID = c.nextExchangeID + 1

	err = c.persist(OpExchange, e)
	if err != nil {
		return 0, err
	}
	c.nextExchangeID = e.ID
	c.putExchange(e)
	return e.ID, nil
}

// ResolveOrCreateInstrument is idempotent on (exchange, type, symbol). An
// empty series is derived from the type, a given one must agree with it.
func (c *Catalog) ResolveOrCreateInstrument(exchangeID int64, typ, symbol, series string) (id int64, err error) {
	it, err := model.ParseInstrumentType(typ)
	if err != nil {
		return
	}

	sr := it.Series()
	if strings.TrimSpace(series) != "" {
		sr, err = model.ParseSeries(series)
		if err != nil {
			return
		}
		if sr != it.Series() {
			return 0, model.Violation("series %s does not match instrument type %s", sr, it)
		}
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, model.Violation("empty symbol")
	}

	key := instrumentKey{exchangeID, it, symbol}

	c.mu.RLock()
	id, ok := c.byKey[key]
	_, exchangeOK := c.exchanges[exchangeID]
	c.mu.RUnlock()
	if ok {
		return
	}
	if !exchangeOK {
		return 0, fmt.Errorf("%w: exchange %d", model.ErrReferenceNotFound, exchangeID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok = c.byKey[key]; ok {
		return
	}

	i := &model.Instrument{
		ID:         c.nextInstrumentID + 1,
		ExchangeID: exchangeID,
		Type:       it,
		Symbol:     symbol,
		Series:     sr,
	}
	err = c.persist(OpInstrument, i)
	if err != nil {
		return 0, err
	}
	c.nextInstrumentID = i.ID
	c.putInstrument(i)

	logger.Tracef("instrument %d created %s %s", i.ID, i.Type, i.Symbol)
	return i.ID, nil
}

func (c *Catalog) SetExchangeActive(id int64, active bool) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.exchanges[id]
	if !ok {
		return fmt.Errorf("%w: exchange %d", model.ErrNotFound, id)
	}
	if e.Active == active {
		return nil
	}

	changed := *e
	changed.Active = active
	err = c.persist(OpExchange, &changed)
	if err != nil {
		return
	}
	c.exchanges[id] = &changed
	return nil
}

func (c *Catalog) Exchange(id int64) (model.Exchange, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.exchanges[id]
	if !ok {
		return model.Exchange{}, false
	}
	return *e, true
}

func (c *Catalog) ExchangeByCode(code model.ExchangeCode) (model.Exchange, bool) {
	c.mu.RLock()
	id, ok := c.byCode[code]
	c.mu.RUnlock()
	if !ok {
		return model.Exchange{}, false
	}
	return c.Exchange(id)
}

// Exchanges are sorted by id
func (c *Catalog) Exchanges() []model.Exchange {
	c.mu.RLock()
	defer c.mu.RUnlock()

	es := make([]model.Exchange, 0, len(c.exchanges))
	for _, e := range c.exchanges {
		es = append(es, *e)
	}
	sort.Slice(es, func(i, j int) bool { return es[i].ID < es[j].ID })
	return es
}

func (c *Catalog) Instrument(id int64) (model.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.instruments[id]
	if !ok {
		return model.Instrument{}, false
	}
	return *i, true
}

// Instruments are sorted by id
func (c *Catalog) Instruments() []model.Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()

	is := make([]model.Instrument, 0, len(c.instruments))
	for _, i := range c.instruments {
		is = append(is, *i)
	}
	sort.Slice(is, func(a, b int) bool { return is[a].ID < is[b].ID })
	return is
}

// InstrumentsBySymbol returns the instruments of a symbol on every exchange, by id
func (c *Catalog) InstrumentsBySymbol(symbol string) []model.Instrument {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.bySymbol[symbol]
	is := make([]model.Instrument, 0, len(ids))
	for _, id := range ids {
		is = append(is, *c.instruments[id])
	}
	sort.Slice(is, func(a, b int) bool { return is[a].ID < is[b].ID })
	return is
}

// Counts returns the number of exchanges and instruments
func (c *Catalog) Counts() (exchanges, instruments int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.exchanges), len(c.instruments)
}
