package tradestore

import (
	"sort"

	"fodb/pkg/index"
	"fodb/pkg/model"
)

// Filter selects the rows of a scan. Dates drives partition pruning, the
// other predicates are optional.
type Filter struct {
	Dates        model.DateRange
	InstrumentID int64
	ExpiryID     int64
	MinContracts int64           // rows with at least this volume, post filter
	Timestamps   model.TimeRange // block range summary when no point predicate is set
	MaxRows      int             // stop after this many rows and report truncation
}

func (f *Filter) match(t *model.Trade) bool {
	if !f.Dates.Contains(t.TradeDate) {
		return false
	}
	if f.InstrumentID > 0 && t.InstrumentID != f.InstrumentID {
		return false
	}
	if f.ExpiryID > 0 && t.ExpiryID != f.ExpiryID {
		return false
	}
	if f.MinContracts > 0 && t.Contracts < f.MinContracts {
		return false
	}
	return f.Timestamps.Contains(t.Timestamp)
}

// Plan tells how a scan reads the store. BlocksSkipped grows while the cursor advances.
type Plan struct {
	PartitionsTouched int
	PartitionsPruned  int
	Index             string
	BlocksSkipped     int
	RowsExamined      int
}

// Cursor walks the rows of a scan one partition at a time. It reads the
// snapshot taken by Scan, so Reset replays exactly the same rows.
type Cursor struct {
	filter Filter
	parts  []*partSnapshot

	plan      Plan
	pi        int   // next partition
	positions []int // matching rows of the current partition
	i         int
	cur       model.Trade
	count     int
	truncated bool
	examined  []bool // partitions whose blocks were already accounted in plan
}

// Scan returns a cursor over the rows matching f. Partitions outside
// f.Dates are never read.
func (s *Store) Scan(f Filter) (c *Cursor, err error) {
	if !f.Dates.Valid() {
		return nil, model.Violation("date range %s", f.Dates)
	}

	c = &Cursor{filter: f}
	for _, p := range s.snapshotPartitions() {
		if !f.Dates.Overlaps(p.key.Start, p.key.End) {
			c.plan.PartitionsPruned++
			continue
		}
		c.parts = append(c.parts, p.snapshot())
	}
	c.plan.PartitionsTouched = len(c.parts)
	c.plan.Index = c.access()
	c.examined = make([]bool, len(c.parts))

	logger.Tracef("scan %s touched:%d pruned:%d index:%s", f.Dates, c.plan.PartitionsTouched, c.plan.PartitionsPruned, c.plan.Index)
	return
}

func (c *Cursor) access() string {
	switch {
	case c.filter.ExpiryID > 0:
		return index.ByExpiry
	case c.filter.InstrumentID > 0:
		return index.ByInstrument
	case !c.filter.Timestamps.IsZero():
		return index.ByBlockRange
	}
	return index.ByDate
}

// load collects the matching positions of partition pi
func (c *Cursor) load(pi int) {
	p := c.parts[pi]
	f := &c.filter
	c.positions = c.positions[:0]
	c.i = 0

	collect := func(pos int) bool {
		if !c.examined[pi] {
			c.plan.RowsExamined++
		}
		if f.match(p.row(pos)) {
			c.positions = append(c.positions, pos)
		}
		return true
	}

	switch c.plan.Index {
	case index.ByExpiry:
		p.idx.ScanExpiry(f.ExpiryID, f.Dates, collect)
	case index.ByInstrument:
		p.idx.ScanInstrument(f.InstrumentID, f.Dates, collect)
	case index.ByBlockRange:
		blocks := p.idx.Blocks()
		for b := 0; b < blocks.Len(); b++ {
			if !blocks.MayContain(b, f.Timestamps) {
				if !c.examined[pi] {
					c.plan.BlocksSkipped++
				}
				continue
			}
			start, end := blocks.Span(b)
			for pos := start; pos < end; pos++ {
				collect(pos)
			}
		}
	default:
		p.idx.ScanDate(f.Dates, collect)
	}
	c.examined[pi] = true
}

// advance moves to the next matching row without counting it
func (c *Cursor) advance() bool {
	for {
		if c.i < len(c.positions) {
			p := c.parts[c.pi-1]
			c.cur = *p.row(c.positions[c.i])
			c.i++
			return true
		}
		if c.pi >= len(c.parts) {
			return false
		}
		c.load(c.pi)
		c.pi++
	}
}

// Next moves to the next row, false at the end or when MaxRows is reached
func (c *Cursor) Next() bool {
	if c.filter.MaxRows > 0 && c.count >= c.filter.MaxRows {
		if !c.truncated {
			cur := c.cur
			c.truncated = c.advance()
			c.cur = cur
		}
		return false
	}
	if !c.advance() {
		return false
	}
	c.count++
	return true
}

// Trade returns the current row
func (c *Cursor) Trade() model.Trade {
	return c.cur
}

// Err is always nil for in-memory partitions, kept so callers do not depend on that
func (c *Cursor) Err() error {
	return nil
}

// Truncated reports whether MaxRows stopped the scan before its end
func (c *Cursor) Truncated() bool {
	return c.truncated
}

func (c *Cursor) Plan() Plan {
	return c.plan
}

// Count is the number of rows returned so far
func (c *Cursor) Count() int {
	return c.count
}

// Reset rewinds the cursor to the first row of the same snapshot
func (c *Cursor) Reset() {
	c.pi = 0
	c.i = 0
	c.positions = c.positions[:0]
	c.count = 0
	c.truncated = false
	c.cur = model.Trade{}
}

// All drains the cursor
func (c *Cursor) All() []model.Trade {
	ts := []model.Trade{}
	for c.Next() {
		ts = append(ts, c.Trade())
	}
	return ts
}

// TopByVolume returns the n rows with the highest volume inside dates, zero
// volume rows excluded, ties by ascending instrument then trade date
func (s *Store) TopByVolume(dates model.DateRange, n int) (ts []model.Trade, plan Plan, err error) {
	if !dates.Valid() {
		return nil, plan, model.Violation("date range %s", dates)
	}
	plan.Index = index.ByVolume

	for _, p := range s.snapshotPartitions() {
		if !dates.Overlaps(p.key.Start, p.key.End) {
			plan.PartitionsPruned++
			continue
		}
		plan.PartitionsTouched++

		snap := p.snapshot()
		taken := 0
		snap.idx.ScanVolume(dates, func(pos int) bool {
			plan.RowsExamined++
			ts = append(ts, *snap.row(pos))
			taken++
			return n <= 0 || taken < n
		})
	}

	sort.Slice(ts, func(i, j int) bool { return volumeLess(&ts[i], &ts[j]) })
	if n > 0 && len(ts) > n {
		ts = ts[:n]
	}
	return
}

func volumeLess(a, b *model.Trade) bool {
	if a.Contracts != b.Contracts {
		return a.Contracts > b.Contracts
	}
	if a.InstrumentID != b.InstrumentID {
		return a.InstrumentID < b.InstrumentID
	}
	if !a.TradeDate.Equal(b.TradeDate) {
		return a.TradeDate.Before(b.TradeDate)
	}
	return a.ID < b.ID
}
