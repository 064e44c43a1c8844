// Package archive exports partitions to self-describing parquet files and
// restores them. Columns follow the trade fields in order, money is stored
// as DECIMAL(18,2) so a round trip is lossless.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fodb/pkg/info"
	"fodb/pkg/model"
	"fodb/pkg/tradestore"
	"fodb/pkg/xlog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

var logger = xlog.Named("archive")

const (
	MetaVersion   = "fodb.version"
	MetaPartition = "fodb.partition"
	MetaRows      = "fodb.rows"
)

var ErrNewerVersion = errors.New("archive written by a newer version")

type record struct {
	ID           int64 `parquet:"name=id, type=INT64"`
	ExpiryID     int64 `parquet:"name=expiry_id, type=INT64"`
	InstrumentID int64 `parquet:"name=instrument_id, type=INT64"`
	TradeDate    int32 `parquet:"name=trade_date, type=INT32, convertedtype=DATE"`
	Open         int64 `parquet:"name=open, type=INT64, convertedtype=DECIMAL, scale=2, precision=18"`
	High         int64 `parquet:"name=high, type=INT64, convertedtype=DECIMAL, scale=2, precision=18"`
	Low          int64 `parquet:"name=low, type=INT64, convertedtype=DECIMAL, scale=2, precision=18"`
	Close        int64 `parquet:"name=close, type=INT64, convertedtype=DECIMAL, scale=2, precision=18"`
	Settle       int64 `parquet:"name=settle, type=INT64, convertedtype=DECIMAL, scale=2, precision=18"`
	Contracts    int64 `parquet:"name=contracts, type=INT64"`
	Value        int64 `parquet:"name=value, type=INT64, convertedtype=DECIMAL, scale=2, precision=18"`
	OpenInterest int64 `parquet:"name=open_interest, type=INT64"`
	ChangeInOI   int64 `parquet:"name=change_in_oi, type=INT64"`
	Timestamp    int64 `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MICROS"`
}

// Column is the name and parquet type of one archive column
type Column struct {
	Name string
	Type string
}

// Columns lists the archive columns in file order
func Columns() []Column {
	return []Column{
		{"id", "INT64"},
		{"expiry_id", "INT64"},
		{"instrument_id", "INT64"},
		{"trade_date", "DATE"},
		{"open", "DECIMAL(18,2)"},
		{"high", "DECIMAL(18,2)"},
		{"low", "DECIMAL(18,2)"},
		{"close", "DECIMAL(18,2)"},
		{"settle", "DECIMAL(18,2)"},
		{"contracts", "INT64"},
		{"value", "DECIMAL(18,2)"},
		{"open_interest", "INT64"},
		{"change_in_oi", "INT64"},
		{"timestamp", "TIMESTAMP_MICROS"},
	}
}

const secondsPerDay = 24 * 60 * 60

func toCents(d decimal.Decimal) int64 {
	return d.Shift(model.MoneyScale).IntPart()
}

func fromCents(v int64) decimal.Decimal {
	return decimal.New(v, -model.MoneyScale)
}

func toRecord(t *model.Trade) record {
	return record{
		ID:           t.ID,
		ExpiryID:     t.ExpiryID,
		InstrumentID: t.InstrumentID,
		TradeDate:    int32(t.TradeDate.Unix() / secondsPerDay),
		Open:         toCents(t.Open),
		High:         toCents(t.High),
		Low:          toCents(t.Low),
		Close:        toCents(t.Close),
		Settle:       toCents(t.Settle),
		Contracts:    t.Contracts,
		Value:        toCents(t.Value),
		OpenInterest: t.OpenInterest,
		ChangeInOI:   t.ChangeInOI,
		Timestamp:    t.Timestamp.UnixMicro(),
	}
}

func fromRecord(r *record) model.Trade {
	return model.Trade{
		ID:           r.ID,
		ExpiryID:     r.ExpiryID,
		InstrumentID: r.InstrumentID,
		TradeDate:    time.Unix(int64(r.TradeDate)*secondsPerDay, 0).UTC(),
		Open:         fromCents(r.Open),
		High:         fromCents(r.High),
		Low:          fromCents(r.Low),
		Close:        fromCents(r.Close),
		Settle:       fromCents(r.Settle),
		Contracts:    r.Contracts,
		Value:        fromCents(r.Value),
		OpenInterest: r.OpenInterest,
		ChangeInOI:   r.ChangeInOI,
		Timestamp:    time.UnixMicro(r.Timestamp).UTC(),
	}
}

// Snapshot is the content of one archive file
type Snapshot struct {
	Partition string
	Version   string
	Rows      []model.Trade
}

// Write stores rows of a partition at fpath
func Write(fpath string, partition string, rows []model.Trade) (err error) {
	defer func() {
		if err != nil {
			logger.Errorf("Write %s failed with err:%s", fpath, err)
		}
	}()

	fw, err := local.NewLocalFileWriter(fpath)
	if err != nil {
		return model.Unavailable("create "+fpath, err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(record), 1)
	if err != nil {
		return fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range rows {
		rec := toRecord(&rows[i])
		if err = pw.Write(rec); err != nil {
			pw.WriteStop()
			return model.Unavailable("write "+fpath, err)
		}
	}

	version, rowCount := info.Stamp(), fmt.Sprint(len(rows))
	pw.Footer.KeyValueMetadata = append(pw.Footer.KeyValueMetadata,
		&parquet.KeyValue{Key: MetaVersion, Value: &version},
		&parquet.KeyValue{Key: MetaPartition, Value: &partition},
		&parquet.KeyValue{Key: MetaRows, Value: &rowCount},
	)

	if err = pw.WriteStop(); err != nil {
		return model.Unavailable("finalize "+fpath, err)
	}
	return nil
}

// Read loads an archive, refusing files of a newer version than this build
func Read(fpath string) (snap Snapshot, err error) {
	defer func() {
		if err != nil {
			logger.Errorf("Read %s failed with err:%s", fpath, err)
		}
	}()

	fr, err := local.NewLocalFileReader(fpath)
	if err != nil {
		return snap, model.Unavailable("open "+fpath, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(record), 1)
	if err != nil {
		return snap, fmt.Errorf("new parquet reader %s: %w", fpath, err)
	}
	defer pr.ReadStop()

	for _, kv := range pr.Footer.KeyValueMetadata {
		if kv.Value == nil {
			continue
		}
		switch kv.Key {
		case MetaVersion:
			snap.Version = *kv.Value
		case MetaPartition:
			snap.Partition = *kv.Value
		}
	}

	err = checkVersion(snap.Version)
	if err != nil {
		return
	}

	n := int(pr.GetNumRows())
	recs := make([]record, n)
	if n > 0 {
		if err = pr.Read(&recs); err != nil {
			return snap, fmt.Errorf("read %s: %w", fpath, err)
		}
	}

	snap.Rows = make([]model.Trade, len(recs))
	for i := range recs {
		snap.Rows[i] = fromRecord(&recs[i])
	}
	return
}

func checkVersion(stamp string) error {
	ver, dist, err := info.SplitStamp(stamp)
	if err != nil {
		return fmt.Errorf("archive version %q: %w", stamp, err)
	}
	newer, err := info.IsNewerVersion(ver, dist, info.Version, info.Dist)
	if err != nil {
		return fmt.Errorf("archive version %q: %w", stamp, err)
	}
	if newer {
		return fmt.Errorf("%w: %s > %s", ErrNewerVersion, stamp, info.Stamp())
	}
	return nil
}

// ExportPartition writes a partition of the store into dir and returns the file path
func ExportPartition(s *tradestore.Store, name, dir string) (fpath string, err error) {
	rows, err := s.PartitionRows(name)
	if err != nil {
		return
	}

	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return "", model.Unavailable("archive dir", err)
	}

	fpath = filepath.Join(dir, fmt.Sprintf("%s-%s.parquet", model.TradeTableName(name), uuid.NewString()[:8]))
	err = Write(fpath, name, rows)
	if err != nil {
		return "", err
	}

	logger.Infof("partition %s exported to %s with %d trades", name, fpath, len(rows))
	return
}

// ImportPartition restores an archive into the store, keeping trade ids
func ImportPartition(s *tradestore.Store, fpath string) (snap Snapshot, err error) {
	snap, err = Read(fpath)
	if err != nil {
		return
	}

	err = s.Import(snap.Rows)
	if err != nil {
		return
	}

	logger.Infof("partition %s restored from %s with %d trades", snap.Partition, fpath, len(snap.Rows))
	return
}
