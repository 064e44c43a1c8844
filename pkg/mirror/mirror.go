// Package mirror copies the write-ahead logs of a store into sql tables, one
// trades_<partition> table per partition plus the shared catalog tables.
// Each log keeps a lastkv checkpoint so a restarted mirror resumes where it
// stopped.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"fodb/pkg/catalog"
	"fodb/pkg/filedb"
	"fodb/pkg/model"
	"fodb/pkg/registry"
	"fodb/pkg/tradestore"
	"fodb/pkg/xlog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var logger = xlog.Named("mirror")

const (
	catalogLog  = "catalog.log"
	registryLog = "registry.log"
)

type Mirror struct {
	db        *gorm.DB
	dir       string // data dir of the store
	batchSize int

	// Interval between two looks for new partitions in Run
	Interval time.Duration
}

// New migrates the shared tables and returns a mirror of the store under dataDir
func New(db *gorm.DB, dataDir string, batchSize int) (m *Mirror, err error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if err = model.Migrate(db); err != nil {
		return nil, model.Unavailable("migrate", err)
	}
	return &Mirror{
		db:        db,
		dir:       dataDir,
		batchSize: batchSize,
		Interval:  10 * time.Second,
	}, nil
}

func checkpointKey(log string) string {
	return model.LASTKV_K_SAVED_LOG_ID + strings.TrimSuffix(log, ".log")
}

// CheckoutLastKv returns the checkpoint row of key, creating it when missing
func (m *Mirror) CheckoutLastKv(key string) (kv model.Lastkv, err error) {
	kv = model.Lastkv{
		App: model.LASTKV_APP_MIRROR,
		Key: key,
	}
	err = m.db.Model(model.Lastkv{}).Where(kv).Limit(1).Find(&kv).Error
	if err != nil {
		return
	}
	if kv.ID > 0 {
		return
	}

	err = m.db.Model(model.Lastkv{}).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "app"}, {Name: "key"}},
			DoNothing: true,
		}).
		Create(&kv).Error
	return
}

// SavedLogID is the last log id of log written to the database
func (m *Mirror) SavedLogID(log string) (int64, error) {
	kv, err := m.CheckoutLastKv(checkpointKey(log))
	if err != nil {
		return 0, model.Unavailable("checkpoint", err)
	}
	return kv.Val, nil
}

func saveLogID(tx *gorm.DB, key string, logID int64) error {
	return tx.Model(model.Lastkv{}).
		Where(model.Lastkv{App: model.LASTKV_APP_MIRROR, Key: key}).
		Update("val", logID).Error
}

// applier writes a batch of parsed log lines inside tx
type applier func(tx *gorm.DB, lines []filedb.Line) error

// follower skips the lines already saved and writes the rest together with
// the checkpoint, one transaction per batch
type follower struct {
	m     *Mirror
	log   string
	key   string
	saved int64
	apply applier
}

func (m *Mirror) newFollower(log string, apply applier) (*follower, error) {
	saved, err := m.SavedLogID(log)
	if err != nil {
		return nil, err
	}
	return &follower{m: m, log: log, key: checkpointKey(log), saved: saved, apply: apply}, nil
}

// handle is the Drain handler of a follower
func (f *follower) handle(ss []string) (err error) {
	lines := make([]filedb.Line, 0, len(ss))
	for _, s := range ss {
		line, err := filedb.ParseLine(s)
		if err != nil {
			return fmt.Errorf("%s: %w", f.log, err)
		}
		if line.LogID <= f.saved {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil
	}

	last := lines[len(lines)-1].LogID
	err = f.m.db.Transaction(func(tx *gorm.DB) error {
		if err := f.apply(tx, lines); err != nil {
			return err
		}
		return saveLogID(tx, f.key, last)
	})
	if err != nil {
		return model.Unavailable("mirror "+f.log, err)
	}
	f.saved = last
	return nil
}

// replay writes what fpath holds right now, in batches
func (f *follower) replay(fpath string) (n int, err error) {
	batch := make([]string, 0, f.m.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		before := f.saved
		if err := f.handle(batch); err != nil {
			return err
		}
		if f.saved > before {
			n += int(f.saved - before)
		}
		batch = batch[:0]
		return nil
	}

	fdb := &filedb.Filedb{FilePath: fpath}
	err = fdb.Replay(func(s string) error {
		batch = append(batch, s)
		if len(batch) < f.m.batchSize {
			return nil
		}
		return flush()
	})
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return
	}
	err = flush()
	return
}

// SyncCatalog writes the exchanges, instruments and expiries logged since the
// last sync
func (m *Mirror) SyncCatalog() (err error) {
	defer func() {
		if err != nil {
			logger.Errorf("SyncCatalog failed with err:%s", err)
		}
	}()

	// seeds are never logged, their ids follow the seed order
	seeds := make([]model.Exchange, len(model.ExchangeSeeds))
	for i, seed := range model.ExchangeSeeds {
		seeds[i] = seed
		seeds[i].ID = int64(i + 1)
	}
	err = m.db.Scopes(model.ExchangeTable()).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seeds).Error
	if err != nil {
		return model.Unavailable("exchange seeds", err)
	}

	logs := []struct {
		name  string
		apply applier
	}{
		{catalogLog, applyCatalog},
		{registryLog, applyRegistry},
	}
	for _, l := range logs {
		f, err := m.newFollower(l.name, l.apply)
		if err != nil {
			return err
		}
		n, err := f.replay(filepath.Join(m.dir, l.name))
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Infof("%s synced %d lines up to %d", l.name, n, f.saved)
		}
	}
	return nil
}

func applyCatalog(tx *gorm.DB, lines []filedb.Line) error {
	for _, line := range lines {
		switch line.Op {
		case catalog.OpExchange:
			e := model.Exchange{}
			if err := json.Unmarshal(line.Data, &e); err != nil {
				return err
			}
			err := tx.Scopes(model.ExchangeTable()).
				Clauses(clause.OnConflict{UpdateAll: true}).
				Create(&e).Error
			if err != nil {
				return err
			}
		case catalog.OpInstrument:
			i := model.Instrument{}
			if err := json.Unmarshal(line.Data, &i); err != nil {
				return err
			}
			err := tx.Scopes(model.InstrumentTable()).
				Clauses(clause.OnConflict{UpdateAll: true}).
				Create(&i).Error
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown catalog op %q", line.Op)
		}
	}
	return nil
}

func applyRegistry(tx *gorm.DB, lines []filedb.Line) error {
	expiries := make([]model.Expiry, 0, len(lines))
	for _, line := range lines {
		if line.Op != registry.OpExpiry {
			return fmt.Errorf("unknown registry op %q", line.Op)
		}
		ex := model.Expiry{}
		if err := json.Unmarshal(line.Data, &ex); err != nil {
			return err
		}
		expiries = append(expiries, ex)
	}
	return tx.Scopes(model.ExpiryTable()).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&expiries).Error
}

// applyTrades returns the applier of one partition. Consecutive inserts go
// in one statement, an open interest change flushes them first so the
// update finds its row.
func applyTrades(partition string) applier {
	return func(tx *gorm.DB, lines []filedb.Line) error {
		var trades []model.Trade
		flush := func() error {
			if len(trades) == 0 {
				return nil
			}
			err := tx.Scopes(model.TradeTable(partition)).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&trades).Error
			trades = nil
			return err
		}

		for _, line := range lines {
			switch line.Op {
			case tradestore.OpInsert:
				t := model.Trade{}
				if err := json.Unmarshal(line.Data, &t); err != nil {
					return err
				}
				t.TradeDate = model.Day(t.TradeDate)
				trades = append(trades, t)
			case tradestore.OpOI:
				c := tradestore.OIChange{}
				if err := json.Unmarshal(line.Data, &c); err != nil {
					return err
				}
				if err := flush(); err != nil {
					return err
				}
				err := tx.Scopes(model.TradeTable(partition)).
					Where("id = ?", c.ID).
					Update("change_in_oi", c.ChangeInOI).Error
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown partition op %q", line.Op)
			}
		}
		return flush()
	}
}

func (m *Mirror) partitionLog(name string) string {
	return filepath.Join(m.dir, "partitions", model.TradeTableName(name)+".log")
}

// Partitions lists the partitions that have a log under the data dir
func (m *Mirror) Partitions() ([]string, error) {
	fpaths, err := filepath.Glob(filepath.Join(m.dir, "partitions", "trades_*.log"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(fpaths))
	for _, fpath := range fpaths {
		base := filepath.Base(fpath)
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(base, "trades_"), ".log"))
	}
	sort.Strings(names)
	return names, nil
}

// SyncPartition writes what the log of a partition holds right now
func (m *Mirror) SyncPartition(name string) (n int, err error) {
	defer func() {
		if err != nil {
			logger.Errorf("SyncPartition %s failed with err:%s", name, err)
		}
	}()

	if err = model.MigratePartition(m.db, name); err != nil {
		return 0, model.Unavailable("migrate "+name, err)
	}
	f, err := m.newFollower(filepath.Base(m.partitionLog(name)), applyTrades(name))
	if err != nil {
		return
	}
	n, err = f.replay(m.partitionLog(name))
	if err != nil {
		return
	}
	logger.Infof("partition %s synced %d lines up to %d", name, n, f.saved)
	return
}

// FollowPartition tails the log of a partition into its table until ctx is done
func (m *Mirror) FollowPartition(ctx context.Context, name string) (err error) {
	defer func() {
		if err != nil {
			logger.Errorf("FollowPartition %s failed with err:%s", name, err)
		}
	}()

	if err = model.MigratePartition(m.db, name); err != nil {
		return model.Unavailable("migrate "+name, err)
	}
	fpath := m.partitionLog(name)
	f, err := m.newFollower(filepath.Base(fpath), applyTrades(name))
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fdb := &filedb.Filedb{FilePath: fpath}
	ch := make(chan string, m.batchSize)
	tailErr := make(chan error, 1)
	go func() {
		defer close(ch)
		tailErr <- fdb.Tailf(ctx, ch)
	}()

	logger.Infof("following partition %s from log id %d", name, f.saved)
	err = fdb.Drain(ch, m.batchSize, f.handle)
	cancel()
	for range ch {
	}
	if terr := <-tailErr; err == nil && terr != nil {
		err = model.Unavailable("tail "+name, terr)
	}
	return
}

// Run syncs the catalog and follows every partition, picking up new
// partitions and catalog entries every Interval, until ctx is done or a
// follower fails
func (m *Mirror) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	errCh := make(chan error, 1)
	followed := map[string]bool{}

	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		if err = m.SyncCatalog(); err != nil {
			return
		}

		names, perr := m.Partitions()
		if perr != nil {
			return model.Unavailable("list partitions", perr)
		}
		for _, name := range names {
			if followed[name] {
				continue
			}
			followed[name] = true
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				if err := m.FollowPartition(ctx, name); err != nil {
					select {
					case errCh <- err:
					default:
					}
				}
			}(name)
		}

		select {
		case <-ctx.Done():
			return nil
		case err = <-errCh:
			return
		case <-ticker.C:
		}
	}
}
