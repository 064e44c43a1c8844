// Package engine wires the catalog, the contract registry, the trade store
// and the aggregate view into one store with a load path and the analytical
// query shapes.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"fodb/pkg/aggview"
	"fodb/pkg/archive"
	"fodb/pkg/catalog"
	"fodb/pkg/config"
	"fodb/pkg/filedb"
	"fodb/pkg/index"
	"fodb/pkg/metrics"
	"fodb/pkg/model"
	"fodb/pkg/registry"
	"fodb/pkg/tradestore"
	"fodb/pkg/xlog"

	"github.com/go-redis/redis/v8"
)

var logger = xlog.Named("engine")

// AggregateTTL is how long published aggregates live in redis
const AggregateTTL = 24 * time.Hour

type Engine struct {
	cfg *config.Config

	Catalog  *catalog.Catalog
	Registry *registry.Registry
	Store    *tradestore.Store
	View     *aggview.View
	Metrics  *metrics.Metrics

	logs  []*filedb.Filedb
	redis *redis.Client
}

// references resolves trade parents through the catalog and the registry
type references struct {
	catalog  *catalog.Catalog
	registry *registry.Registry
}

func (r references) Instrument(id int64) (model.Instrument, bool) {
	return r.catalog.Instrument(id)
}

func (r references) ExpiryInstrument(expiryID int64) (int64, bool) {
	return r.registry.ExpiryInstrument(expiryID)
}

// Open builds an engine from a config. With store.persist set every log
// under data_dir is replayed first.
func Open(cfg *config.Config) (e *Engine, err error) {
	defer func() {
		if err != nil {
			logger.Errorf("Open failed with err:%s", err)
			if e != nil {
				e.Close()
				e = nil
			}
		}
	}()

	partitioner, err := tradestore.NewPartitioner(cfg.Store.Partition)
	if err != nil {
		return
	}

	e = &Engine{cfg: cfg, Metrics: metrics.New()}

	var catalogOpts []catalog.Option
	var registryOpts []registry.Option
	dir := ""
	if cfg.Store.Persist {
		dir = cfg.DataDir

		var fdb *filedb.Filedb
		fdb, err = e.openLog("catalog.log")
		if err != nil {
			return
		}
		catalogOpts = append(catalogOpts, catalog.WithLog(fdb))

		fdb, err = e.openLog("registry.log")
		if err != nil {
			return
		}
		registryOpts = append(registryOpts, registry.WithLog(fdb))
	}

	e.Catalog, err = catalog.New(catalogOpts...)
	if err != nil {
		return
	}
	e.Registry, err = registry.New(e.Catalog, registryOpts...)
	if err != nil {
		return
	}

	e.Store, err = tradestore.Open(references{e.Catalog, e.Registry}, tradestore.Options{
		Dir:         dir,
		Partitioner: partitioner,
		Index:       index.Config{Degree: cfg.Store.BtreeDegree, BlockSize: cfg.Store.BlockSize},
	})
	if err != nil {
		return
	}

	var viewOpts []aggview.Option
	if cfg.Aggregate.PublishRedis && cfg.Redis.Main.Enabled {
		e.redis = model.OpenRedis(cfg.Redis.Main)
		viewOpts = append(viewOpts, aggview.WithPublisher(aggview.NewRedisPublisher(e.redis, AggregateTTL)))
	}
	e.View = aggview.New(e.Store, viewOpts...)

	// every row replayed from disk starts stale
	e.Store.OnChange(e.View.MarkDirty)
	for _, p := range e.Store.Partitions() {
		rows, _ := e.Store.PartitionRows(p.Name)
		for i := range rows {
			e.View.MarkDirty(rows[i].InstrumentID, rows[i].TradeDate)
		}
	}

	e.gauges()
	logger.Infof("engine opened, partitions:%s dir:%q", partitioner.Granularity(), dir)
	return
}

func (e *Engine) openLog(name string) (fdb *filedb.Filedb, err error) {
	fpath := filepath.Join(e.cfg.DataDir, name)
	fdb, err = filedb.New(fpath)
	if err != nil {
		return nil, model.Unavailable("open "+fpath, err)
	}
	e.logs = append(e.logs, fdb)
	return
}

func (e *Engine) gauges() {
	e.Metrics.Partitions.Set(float64(len(e.Store.Partitions())))
	e.Metrics.Trades.Set(float64(e.Store.Len()))
	e.Metrics.StaleKeys.Set(float64(e.View.Stale()))
}

// Health pings redis when aggregates are published
func (e *Engine) Health() error {
	if e.redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RedisTimeout())
	defer cancel()
	if err := e.redis.Ping(ctx).Err(); err != nil {
		return model.Unavailable("redis ping", err)
	}
	return nil
}

func (e *Engine) Close() (err error) {
	if e.Store != nil {
		err = e.Store.Close()
	}
	for _, fdb := range e.logs {
		if err2 := fdb.Close(); err == nil && err2 != nil {
			err = model.Unavailable("close "+fdb.FilePath, err2)
		}
	}
	if e.redis != nil {
		e.redis.Close()
	}
	return
}

// Insert stores one trade whose expiry already exists
func (e *Engine) Insert(t model.Trade) (id int64, err error) {
	id, err = e.Store.Insert(t)
	if err != nil {
		e.Metrics.Reject(err)
		return
	}
	e.Metrics.InsertsTotal.Inc()
	return
}

func (e *Engine) UpdateOpenInterestDelta(tradeID int64, change int64) (err error) {
	err = e.Store.UpdateOpenInterestDelta(tradeID, change)
	if err != nil {
		e.Metrics.Reject(err)
	}
	return
}

// Refresh recomputes the stale aggregates inside dates
func (e *Engine) Refresh(ctx context.Context, dates model.DateRange) (res aggview.RefreshResult, err error) {
	begin := time.Now()
	res, err = e.View.Refresh(ctx, dates)
	e.Metrics.RefreshDur.Observe(time.Since(begin).Seconds())
	e.Metrics.StaleKeys.Set(float64(e.View.Stale()))
	return
}

// DailyAggregate returns the view row of (instrument, day). A stale row is
// computed from the store and reported with fresh false, the view itself is
// left stale.
func (e *Engine) DailyAggregate(instrumentID int64, day time.Time) (agg model.DailyAggregate, fresh bool, err error) {
	if _, ok := e.Catalog.Instrument(instrumentID); !ok {
		return agg, false, fmt.Errorf("%w: instrument %d", model.ErrNotFound, instrumentID)
	}
	if agg, fresh = e.View.Lookup(instrumentID, day); fresh {
		return
	}
	agg, err = e.View.Compute(instrumentID, day)
	return
}

// ExportPartition writes one partition as a parquet file under dir
func (e *Engine) ExportPartition(name, dir string) (fpath string, err error) {
	fpath, err = archive.ExportPartition(e.Store, name, dir)
	if err == nil {
		e.Metrics.ArchivedTotal.WithLabelValues("export").Inc()
	}
	return
}

// ImportPartition restores a parquet archive written by ExportPartition
func (e *Engine) ImportPartition(fpath string) (snap archive.Snapshot, err error) {
	snap, err = archive.ImportPartition(e.Store, fpath)
	if err == nil {
		e.Metrics.ArchivedTotal.WithLabelValues("import").Inc()
		e.gauges()
	}
	return
}

// DropPartition removes a partition and its log
func (e *Engine) DropPartition(name string) (err error) {
	err = e.Store.DropPartition(name)
	if err == nil {
		e.gauges()
	}
	return
}
