// Package tradestore is the partitioned trade store. Trades are routed to the
// partition whose date range holds their trade date, each partition has its
// own lock, indexes and log file, and scans read a snapshot of the
// partitions they touch.
package tradestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fodb/pkg/filedb"
	"fodb/pkg/index"
	"fodb/pkg/model"
	"fodb/pkg/xlog"
)

var logger = xlog.Named("tradestore")

// References resolves the parents of a trade
type References interface {
	Instrument(id int64) (model.Instrument, bool)
	ExpiryInstrument(expiryID int64) (int64, bool)
}

type Options struct {
	Dir         string // partition logs go to Dir/partitions, nothing is persisted when empty
	Partitioner Partitioner
	Index       index.Config
	Fsync       bool
}

type Store struct {
	mu         sync.RWMutex // guards the partition map only
	partitions map[string]*partition

	opts   Options
	refs   References
	nextID atomic.Int64

	onChange func(instrumentID int64, day time.Time)
}

// PartitionInfo describes one partition
type PartitionInfo struct {
	Name  string
	Start time.Time
	End   time.Time
	Rows  int
}

// New returns an empty store, see Open to load the logs of Options.Dir
func New(refs References, opts Options) *Store {
	if opts.Partitioner == nil {
		opts.Partitioner = Monthly{}
	}
	return &Store{
		partitions: map[string]*partition{},
		opts:       opts,
		refs:       refs,
	}
}

// Open returns a store with every partition log under Options.Dir replayed
func Open(refs References, opts Options) (s *Store, err error) {
	defer func() {
		if err != nil {
			logger.Errorf("Open %s failed with err:%s", opts.Dir, err)
		}
	}()

	s = New(refs, opts)
	if opts.Dir == "" {
		return
	}

	files, err := filepath.Glob(filepath.Join(s.partitionDir(), "trades_*.log"))
	if err != nil {
		return nil, model.Unavailable("list partitions", err)
	}
	sort.Strings(files)

	for _, fpath := range files {
		err = s.replay(fpath)
		if err != nil {
			return nil, err
		}
	}

	logger.Infof("store opened with %d partitions and %d trades", len(s.partitions), s.Len())
	return
}

func (s *Store) partitionDir() string {
	return filepath.Join(s.opts.Dir, "partitions")
}

func (s *Store) logPath(name string) string {
	return filepath.Join(s.partitionDir(), model.TradeTableName(name)+".log")
}

// LogPath returns the log file of a partition, empty when nothing is persisted
func (s *Store) LogPath(name string) string {
	if s.opts.Dir == "" {
		return ""
	}
	return s.logPath(name)
}

func (s *Store) replay(fpath string) (err error) {
	name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(fpath), "trades_"), ".log")

	fdb, err := filedb.New(fpath)
	if err != nil {
		return model.Unavailable("open "+fpath, err)
	}
	fdb.Fsync = s.opts.Fsync

	var p *partition
	err = fdb.Replay(func(txt string) error {
		line, err := filedb.ParseLine(txt)
		if err != nil {
			return err
		}
		if p == nil {
			if line.Op != OpInsert {
				return fmt.Errorf("partition log %s starts with %q", fpath, line.Op)
			}
			t := model.Trade{}
			if err := jsonTrade(line.Data, &t); err != nil {
				return err
			}
			key := s.opts.Partitioner.Key(t.TradeDate)
			if key.Name != name {
				return fmt.Errorf("partition log %s does not match the %s partitioner, expected %s",
					fpath, s.opts.Partitioner.Granularity(), key.Name)
			}
			p = newPartition(key, s.opts.Index, fdb)
		}
		return p.replay(line)
	})
	if err != nil {
		fdb.Close()
		return fmt.Errorf("replay %s: %w", fpath, err)
	}

	if p == nil {
		// nothing was ever written, the partition is created again on first insert
		return fdb.Remove()
	}

	s.partitions[p.key.Name] = p
	for id := range p.byID {
		if id > s.nextID.Load() {
			s.nextID.Store(id)
		}
	}
	return nil
}

// OnChange registers fn to be called with the (instrument, day) of every
// inserted or updated row, while the partition lock is held
func (s *Store) OnChange(fn func(instrumentID int64, day time.Time)) {
	s.onChange = fn
}

func (s *Store) changed(instrumentID int64, day time.Time) {
	if s.onChange != nil {
		s.onChange(instrumentID, day)
	}
}

// partition returns the partition of a day, creating it when absent
func (s *Store) partition(day time.Time) (p *partition, err error) {
	key := s.opts.Partitioner.Key(day)

	s.mu.RLock()
	p, ok := s.partitions[key.Name]
	s.mu.RUnlock()
	if ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok = s.partitions[key.Name]; ok {
		return
	}

	var fdb *filedb.Filedb
	if s.opts.Dir != "" {
		fdb, err = filedb.New(s.logPath(key.Name))
		if err != nil {
			return nil, model.Unavailable("create partition "+key.Name, err)
		}
		fdb.Fsync = s.opts.Fsync
	}

	p = newPartition(key, s.opts.Index, fdb)
	s.partitions[key.Name] = p

	logger.Infof("partition %s created [%s, %s)", key.Name, key.Start.Format(model.DayLayout), key.End.Format(model.DayLayout))
	return
}

// check normalizes t and enforces its value and reference constraints
func (s *Store) check(t *model.Trade) error {
	normalize(t)

	if s.refs != nil {
		owner, ok := s.refs.ExpiryInstrument(t.ExpiryID)
		if !ok {
			return fmt.Errorf("%w: expiry %d", model.ErrReferenceNotFound, t.ExpiryID)
		}
		if t.InstrumentID == 0 {
			t.InstrumentID = owner
		}
		if _, ok := s.refs.Instrument(t.InstrumentID); !ok {
			return fmt.Errorf("%w: instrument %d", model.ErrReferenceNotFound, t.InstrumentID)
		}
		if owner != t.InstrumentID {
			return model.Violation("instrument %d differs from instrument %d of expiry %d", t.InstrumentID, owner, t.ExpiryID)
		}
	}

	return index.CheckTrade(t)
}

// CheckValues tells whether t would pass the value constraints of Insert,
// its ids are not looked at
func (s *Store) CheckValues(t model.Trade) error {
	normalize(&t)
	return index.CheckValues(&t)
}

// Insert stores a trade and returns its id. Inserting a trade whose natural
// key (expiry, trade date) and values match a stored row returns that row's
// id, so a failed insert can be retried.
func (s *Store) Insert(t model.Trade) (id int64, err error) {
	err = s.check(&t)
	if err != nil {
		return
	}

	p, err := s.partition(t.TradeDate)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.find(&t); ok {
		return id, nil
	}

	t.ID = s.nextID.Add(1)
	err = p.persist(OpInsert, &t)
	if err != nil {
		return 0, err
	}
	p.apply(t)
	s.changed(t.InstrumentID, t.TradeDate)

	return t.ID, nil
}

// Import stores trades keeping their ids, used to restore archives
func (s *Store) Import(trades []model.Trade) (err error) {
	for i := range trades {
		t := trades[i]
		if t.ID <= 0 {
			return model.Violation("import of trade without id")
		}
		if _, ok := s.Trade(t.ID); ok {
			return model.Violation("trade %d already exists", t.ID)
		}

		err = s.check(&t)
		if err != nil {
			return fmt.Errorf("trade %d: %w", t.ID, err)
		}

		var p *partition
		p, err = s.partition(t.TradeDate)
		if err != nil {
			return
		}

		p.mu.Lock()
		err = p.persist(OpInsert, &t)
		if err == nil {
			p.apply(t)
			s.changed(t.InstrumentID, t.TradeDate)
		}
		p.mu.Unlock()
		if err != nil {
			return err
		}

		for {
			cur := s.nextID.Load()
			if t.ID <= cur || s.nextID.CompareAndSwap(cur, t.ID) {
				break
			}
		}
	}
	return nil
}

// UpdateOpenInterestDelta corrects the change in open interest of a trade,
// the only mutation a stored trade accepts
func (s *Store) UpdateOpenInterestDelta(tradeID int64, change int64) (err error) {
	for _, p := range s.snapshotPartitions() {
		p.mu.Lock()
		pos, ok := p.byID[tradeID]
		if !ok {
			p.mu.Unlock()
			continue
		}

		r := p.row(pos)
		if r.ChangeInOI != change {
			err = p.persist(OpOI, OIChange{ID: tradeID, ChangeInOI: change})
			if err == nil {
				p.applyOI(pos, change)
				s.changed(r.InstrumentID, r.TradeDate)
			}
		}
		p.mu.Unlock()
		return
	}
	return fmt.Errorf("%w: trade %d", model.ErrNotFound, tradeID)
}

// snapshotPartitions lists the partitions ordered by start date
func (s *Store) snapshotPartitions() []*partition {
	s.mu.RLock()
	ps := make([]*partition, 0, len(s.partitions))
	for _, p := range s.partitions {
		ps = append(ps, p)
	}
	s.mu.RUnlock()

	sort.Slice(ps, func(i, j int) bool { return ps[i].key.Start.Before(ps[j].key.Start) })
	return ps
}

// Trade returns a stored trade by id
func (s *Store) Trade(id int64) (model.Trade, bool) {
	for _, p := range s.snapshotPartitions() {
		p.mu.Lock()
		pos, ok := p.byID[id]
		var t model.Trade
		if ok {
			t = *p.row(pos)
		}
		p.mu.Unlock()
		if ok {
			return t, true
		}
	}
	return model.Trade{}, false
}

func (s *Store) Len() (n int) {
	for _, p := range s.snapshotPartitions() {
		p.mu.Lock()
		n += p.n
		p.mu.Unlock()
	}
	return
}

func (s *Store) Partitioner() Partitioner {
	return s.opts.Partitioner
}

func (s *Store) Partitions() []PartitionInfo {
	ps := s.snapshotPartitions()
	infos := make([]PartitionInfo, 0, len(ps))
	for _, p := range ps {
		p.mu.Lock()
		infos = append(infos, PartitionInfo{Name: p.key.Name, Start: p.key.Start, End: p.key.End, Rows: p.n})
		p.mu.Unlock()
	}
	return infos
}

func (s *Store) Partition(name string) (PartitionInfo, bool) {
	s.mu.RLock()
	p, ok := s.partitions[name]
	s.mu.RUnlock()
	if !ok {
		return PartitionInfo{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return PartitionInfo{Name: p.key.Name, Start: p.key.Start, End: p.key.End, Rows: p.n}, true
}

// PartitionRows returns the rows of a partition in insertion order
func (s *Store) PartitionRows(name string) ([]model.Trade, error) {
	s.mu.RLock()
	p, ok := s.partitions[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: partition %s", model.ErrNotFound, name)
	}
	return p.snapshot().rows(), nil
}

// DropPartition removes a partition and its log. Running scans keep reading
// their snapshot of it.
func (s *Store) DropPartition(name string) (err error) {
	s.mu.Lock()
	p, ok := s.partitions[name]
	if ok {
		delete(s.partitions, name)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: partition %s", model.ErrNotFound, name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fdb != nil {
		err = p.fdb.Remove()
		if err != nil && !os.IsNotExist(err) {
			return model.Unavailable("drop partition "+name, err)
		}
		err = nil
	}

	type dayKey struct{ instrumentID, day int64 }
	seen := map[dayKey]bool{}
	for pos := 0; pos < p.n; pos++ {
		r := p.row(pos)
		k := dayKey{r.InstrumentID, r.TradeDate.Unix()}
		if !seen[k] {
			seen[k] = true
			s.changed(r.InstrumentID, r.TradeDate)
		}
	}

	logger.Infof("partition %s dropped with %d trades", name, p.n)
	return nil
}

// Close closes every partition log
func (s *Store) Close() (err error) {
	for _, p := range s.snapshotPartitions() {
		p.mu.Lock()
		if p.fdb != nil {
			if e := p.fdb.Close(); e != nil && err == nil {
				err = e
			}
		}
		p.mu.Unlock()
	}
	return
}
