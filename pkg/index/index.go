// Package index holds the per partition indexes of the trade store and the
// value constraints every trade is checked against before it is stored.
//
// Entries point at row positions inside a partition, positions are assigned
// in insertion order and never reused.
package index

import (
	"math"
	"time"

	"fodb/pkg/model"

	"github.com/google/btree"
)

const (
	DefaultDegree    = 16
	DefaultBlockSize = 128
)

type Config struct {
	Degree    int // btree degree
	BlockSize int // rows per block of the timestamp summary
}

func (c Config) withDefaults() Config {
	if c.Degree <= 1 {
		c.Degree = DefaultDegree
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	return c
}

// Names of the access paths, reported by scan plans
const (
	ByDate       = "date"
	ByInstrument = "instrument_date"
	ByExpiry     = "expiry"
	ByVolume     = "volume"
	ByBlockRange = "block_range"
)

// Set is the index set of one partition. It is not safe for concurrent use,
// readers work on a Snapshot.
type Set struct {
	cfg Config

	date       *btree.BTree // (day, pos)
	instrument *btree.BTree // (instrument, day, pos)
	expiry     *btree.BTree // (expiry, day, pos)
	volume     *btree.BTree // contracts > 0 only: (contracts desc, instrument, day, pos)

	blocks *BlockRange
}

func NewSet(cfg Config) *Set {
	cfg = cfg.withDefaults()
	return &Set{
		cfg:        cfg,
		date:       btree.New(cfg.Degree),
		instrument: btree.New(cfg.Degree),
		expiry:     btree.New(cfg.Degree),
		volume:     btree.New(cfg.Degree),
		blocks:     NewBlockRange(cfg.BlockSize),
	}
}

// Add indexes the trade stored at pos, which must be the next position
func (s *Set) Add(pos int, t *model.Trade) {
	day := t.TradeDate.Unix()

	s.date.ReplaceOrInsert(dateItem{day, pos})
	s.instrument.ReplaceOrInsert(instrumentItem{t.InstrumentID, day, pos})
	s.expiry.ReplaceOrInsert(expiryItem{t.ExpiryID, day, pos})
	if t.Contracts > 0 {
		s.volume.ReplaceOrInsert(volumeItem{t.Contracts, t.InstrumentID, day, pos})
	}
	s.blocks.Add(pos, t.Timestamp)
}

// Snapshot returns a copy that later Adds do not affect. The btrees are
// cloned lazily, so this is cheap, but it must not race with Add.
func (s *Set) Snapshot() *Set {
	return &Set{
		cfg:        s.cfg,
		date:       s.date.Clone(),
		instrument: s.instrument.Clone(),
		expiry:     s.expiry.Clone(),
		volume:     s.volume.Clone(),
		blocks:     s.blocks.Snapshot(),
	}
}

func (s *Set) Len() int {
	return s.date.Len()
}

// VolumeLen is the number of rows with a non-zero volume
func (s *Set) VolumeLen() int {
	return s.volume.Len()
}

func (s *Set) Blocks() *BlockRange {
	return s.blocks
}

func (s *Set) BlockSize() int {
	return s.cfg.BlockSize
}

// bounds turns a date range into [lo, hi] unix seconds of days
func bounds(r model.DateRange) (lo, hi int64) {
	lo, hi = math.MinInt64, math.MaxInt64
	if !r.From.IsZero() {
		lo = r.From.Unix()
	}
	if !r.To.IsZero() {
		hi = r.To.Unix()
	}
	return
}

// ScanDate calls fn for the rows inside r ordered by (day, pos) until fn returns false
func (s *Set) ScanDate(r model.DateRange, fn func(pos int) bool) {
	lo, hi := bounds(r)
	s.date.AscendGreaterOrEqual(dateItem{lo, math.MinInt}, func(item btree.Item) bool {
		d := item.(dateItem)
		if d.Day > hi {
			return false
		}
		return fn(d.Pos)
	})
}

// ScanInstrument is ScanDate restricted to one instrument
func (s *Set) ScanInstrument(instrumentID int64, r model.DateRange, fn func(pos int) bool) {
	lo, hi := bounds(r)
	s.instrument.AscendGreaterOrEqual(instrumentItem{instrumentID, lo, math.MinInt}, func(item btree.Item) bool {
		d := item.(instrumentItem)
		if d.InstrumentID != instrumentID || d.Day > hi {
			return false
		}
		return fn(d.Pos)
	})
}

// ScanExpiry is ScanDate restricted to one expiry
func (s *Set) ScanExpiry(expiryID int64, r model.DateRange, fn func(pos int) bool) {
	lo, hi := bounds(r)
	s.expiry.AscendGreaterOrEqual(expiryItem{expiryID, lo, math.MinInt}, func(item btree.Item) bool {
		d := item.(expiryItem)
		if d.ExpiryID != expiryID || d.Day > hi {
			return false
		}
		return fn(d.Pos)
	})
}

// ScanVolume walks the non-zero volume rows inside r, highest volume first,
// ties by instrument then day
func (s *Set) ScanVolume(r model.DateRange, fn func(pos int) bool) {
	lo, hi := bounds(r)
	s.volume.Ascend(func(item btree.Item) bool {
		d := item.(volumeItem)
		if d.Day < lo || d.Day > hi {
			return true
		}
		return fn(d.Pos)
	})
}

// Day converts the day of an index entry back to a time
func Day(unix int64) time.Time {
	return time.Unix(unix, 0).UTC()
}

type dateItem struct {
	Day int64
	Pos int
}

func (a dateItem) Less(item btree.Item) bool {
	b, _ := item.(dateItem)
	if a.Day != b.Day {
		return a.Day < b.Day
	}
	return a.Pos < b.Pos
}

type instrumentItem struct {
	InstrumentID int64
	Day          int64
	Pos          int
}

func (a instrumentItem) Less(item btree.Item) bool {
	b, _ := item.(instrumentItem)
	if a.InstrumentID != b.InstrumentID {
		return a.InstrumentID < b.InstrumentID
	}
	if a.Day != b.Day {
		return a.Day < b.Day
	}
	return a.Pos < b.Pos
}

type expiryItem struct {
	ExpiryID int64
	Day      int64
	Pos      int
}

func (a expiryItem) Less(item btree.Item) bool {
	b, _ := item.(expiryItem)
	if a.ExpiryID != b.ExpiryID {
		return a.ExpiryID < b.ExpiryID
	}
	if a.Day != b.Day {
		return a.Day < b.Day
	}
	return a.Pos < b.Pos
}

type volumeItem struct {
	Contracts    int64
	InstrumentID int64
	Day          int64
	Pos          int
}

func (a volumeItem) Less(item btree.Item) bool {
	b, _ := item.(volumeItem)
	if a.Contracts != b.Contracts {
		// a.Contracts > b.Contracts
		return a.Contracts > b.Contracts
	}
	if a.InstrumentID != b.InstrumentID {
		return a.InstrumentID < b.InstrumentID
	}
	if a.Day != b.Day {
		return a.Day < b.Day
	}
	return a.Pos < b.Pos
}
