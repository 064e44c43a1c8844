package tradestore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fodb/pkg/filedb"
	"fodb/pkg/index"
	"fodb/pkg/model"
)

const (
	OpInsert = "insert"
	OpOI     = "oi"
)

// OIChange is the log record of UpdateOpenInterestDelta
type OIChange struct {
	ID         int64 `json:"id"`
	ChangeInOI int64 `json:"changeInOI"`
}

type naturalKey struct {
	expiryID int64
	day      int64
}

// partition owns the rows of one date range. Rows live in fixed size blocks,
// a block is only ever appended to or replaced by a modified copy, so a
// snapshot keeps reading the arrays it captured.
type partition struct {
	mu sync.Mutex

	key       PartitionKey
	blockSize int

	blocks  [][]model.Trade
	n       int
	byID    map[int64]int
	natural map[naturalKey][]int
	idx     *index.Set

	logID int64
	fdb   *filedb.Filedb
}

func newPartition(key PartitionKey, cfg index.Config, fdb *filedb.Filedb) *partition {
	p := &partition{
		key:     key,
		byID:    map[int64]int{},
		natural: map[naturalKey][]int{},
		idx:     index.NewSet(cfg),
		fdb:     fdb,
	}
	p.blockSize = p.idx.BlockSize()
	return p
}

func (p *partition) row(pos int) *model.Trade {
	return &p.blocks[pos/p.blockSize][pos%p.blockSize]
}

// find returns the row with the same natural key and values, must hold mu
func (p *partition) find(t *model.Trade) (int64, bool) {
	for _, pos := range p.natural[naturalKey{t.ExpiryID, t.TradeDate.Unix()}] {
		r := p.row(pos)
		if sameValues(r, t) {
			return r.ID, true
		}
	}
	return 0, false
}

// persist writes the log line of a change before it is applied, must hold mu
func (p *partition) persist(op string, v interface{}) error {
	if p.fdb == nil {
		return nil
	}
	err := p.fdb.Append(p.logID+1, op, v)
	if err != nil {
		return model.Unavailable("partition "+p.key.Name, err)
	}
	p.logID++
	return nil
}

// apply appends a checked trade, must hold mu
func (p *partition) apply(t model.Trade) {
	k := p.n / p.blockSize
	if k == len(p.blocks) {
		p.blocks = append(p.blocks, make([]model.Trade, 0, p.blockSize))
	}
	p.blocks[k] = append(p.blocks[k], t)

	pos := p.n
	p.n++
	p.byID[t.ID] = pos
	nk := naturalKey{t.ExpiryID, t.TradeDate.Unix()}
	p.natural[nk] = append(p.natural[nk], pos)
	p.idx.Add(pos, p.row(pos))
}

// applyOI replaces the block holding the row with an updated copy, must hold mu
func (p *partition) applyOI(pos int, change int64) {
	k := pos / p.blockSize
	b := make([]model.Trade, len(p.blocks[k]), p.blockSize)
	copy(b, p.blocks[k])
	b[pos%p.blockSize].ChangeInOI = change
	p.blocks[k] = b
}

func (p *partition) snapshot() *partSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	return &partSnapshot{
		key:       p.key,
		blockSize: p.blockSize,
		blocks:    append([][]model.Trade(nil), p.blocks...),
		n:         p.n,
		idx:       p.idx.Snapshot(),
	}
}

// replay applies one log line, used by Open before the store is shared
func (p *partition) replay(line filedb.Line) error {
	p.logID = line.LogID

	switch line.Op {
	case OpInsert:
		t := model.Trade{}
		if err := jsonTrade(line.Data, &t); err != nil {
			return err
		}
		if _, ok := p.byID[t.ID]; ok {
			return fmt.Errorf("duplicate trade %d in partition %s", t.ID, p.key.Name)
		}
		if !p.key.Contains(t.TradeDate) {
			return fmt.Errorf("trade %d of %s does not belong to partition %s",
				t.ID, t.TradeDate.Format(model.DayLayout), p.key.Name)
		}
		p.apply(t)
	case OpOI:
		c := OIChange{}
		if err := json.Unmarshal(line.Data, &c); err != nil {
			return err
		}
		pos, ok := p.byID[c.ID]
		if !ok {
			return fmt.Errorf("oi change of unknown trade %d in partition %s", c.ID, p.key.Name)
		}
		p.applyOI(pos, c.ChangeInOI)
	default:
		return fmt.Errorf("unknown partition op %q", line.Op)
	}
	return nil
}

// partSnapshot is an immutable view of a partition
type partSnapshot struct {
	key       PartitionKey
	blockSize int
	blocks    [][]model.Trade
	n         int
	idx       *index.Set
}

func (s *partSnapshot) row(pos int) *model.Trade {
	return &s.blocks[pos/s.blockSize][pos%s.blockSize]
}

// rows returns every row in insertion order
func (s *partSnapshot) rows() []model.Trade {
	ts := make([]model.Trade, 0, s.n)
	for _, b := range s.blocks {
		ts = append(ts, b...)
	}
	return ts
}

func jsonTrade(data json.RawMessage, t *model.Trade) error {
	if err := json.Unmarshal(data, t); err != nil {
		return err
	}
	normalize(t)
	return nil
}

// normalize brings the dates of a trade to their stored form
func normalize(t *model.Trade) {
	t.TradeDate = model.Day(t.TradeDate)
	if !t.Timestamp.IsZero() {
		t.Timestamp = t.Timestamp.UTC().Truncate(time.Microsecond)
	}
}

// sameValues compares everything but the id and the change in open
// interest, which is corrected after the insert
func sameValues(a, b *model.Trade) bool {
	return a.ExpiryID == b.ExpiryID &&
		a.InstrumentID == b.InstrumentID &&
		a.TradeDate.Equal(b.TradeDate) &&
		a.Open.Equal(b.Open) &&
		a.High.Equal(b.High) &&
		a.Low.Equal(b.Low) &&
		a.Close.Equal(b.Close) &&
		a.Settle.Equal(b.Settle) &&
		a.Contracts == b.Contracts &&
		a.Value.Equal(b.Value) &&
		a.OpenInterest == b.OpenInterest &&
		a.Timestamp.Equal(b.Timestamp)
}
