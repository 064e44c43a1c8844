package mirror_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"fodb/pkg/config"
	"fodb/pkg/engine"
	"fodb/pkg/mirror"
	"fodb/pkg/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func raw(strike, ot, day string, contracts int64) model.RawTrade {
	d := model.MustDay(day)
	c := decimal.RequireFromString("120.50")
	return model.RawTrade{
		ExchangeCode:   "NSE",
		InstrumentType: "OPTIDX",
		Symbol:         "NIFTY",
		ExpiryDate:     model.MustDay("2019-09-26"),
		StrikePrice:    decimal.RequireFromString(strike),
		OptionType:     ot,
		TradeDate:      d,
		Open:           c,
		High:           c,
		Low:            c,
		Close:          c,
		Settle:         c,
		Contracts:      contracts,
		Value:          decimal.RequireFromString("3.25"),
		OpenInterest:   1000,
		ChangeInOI:     10,
		Timestamp:      d.Add(15 * time.Hour),
	}
}

func rows(days int) []model.RawTrade {
	var rs []model.RawTrade
	for d := 1; d <= days; d++ {
		day := fmt.Sprintf("2019-09-%02d", d)
		rs = append(rs,
			raw("11000", "CE", day, 100),
			raw("11000", "PE", day, 200),
		)
	}
	return rs
}

func setup(t *testing.T) (*engine.Engine, *gorm.DB, *mirror.Mirror) {
	cfg := config.Default(t.TempDir())
	cfg.Store.Persist = true
	e, err := engine.Open(cfg)
	require.Nil(t, err)
	t.Cleanup(func() { e.Close() })

	db, err := model.OpenSQLite(filepath.Join(t.TempDir(), "mirror.db"), false)
	require.Nil(t, err)

	m, err := mirror.New(db, cfg.DataDir, 3)
	require.Nil(t, err)
	return e, db, m
}

func count(t *testing.T, db *gorm.DB, table string) int64 {
	var n int64
	require.Nil(t, db.Table(table).Count(&n).Error)
	return n
}

func TestSync(t *testing.T) {
	e, db, m := setup(t)

	rep, err := e.Load(context.Background(), rows(5))
	require.Nil(t, err)
	require.Nil(t, rep.Err())
	require.Nil(t, e.UpdateOpenInterestDelta(1, -40))

	require.Nil(t, m.SyncCatalog())
	require.Equal(t, int64(3), count(t, db, "exchanges"))
	require.Equal(t, int64(1), count(t, db, "instruments"))
	require.Equal(t, int64(2), count(t, db, "expiries"))

	names, err := m.Partitions()
	require.Nil(t, err)
	require.Equal(t, []string{"2019_09"}, names)

	n, err := m.SyncPartition("2019_09")
	require.Nil(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, int64(10), count(t, db, "trades_2019_09"))

	tr := model.Trade{}
	require.Nil(t, db.Scopes(model.TradeTable("2019_09")).Where("id = ?", 1).Take(&tr).Error)
	require.Equal(t, int64(-40), tr.ChangeInOI)
	require.Equal(t, int64(100), tr.Contracts)
	require.True(t, tr.Close.Equal(decimal.RequireFromString("120.50")))

	saved, err := m.SavedLogID("trades_2019_09.log")
	require.Nil(t, err)
	require.Equal(t, int64(11), saved)

	// a second sync only writes what was logged since
	n, err = m.SyncPartition("2019_09")
	require.Nil(t, err)
	require.Equal(t, 0, n)

	rep, err = e.Load(context.Background(), rows(6)[10:])
	require.Nil(t, err)
	require.Equal(t, 2, rep.Loaded)

	n, err = m.SyncPartition("2019_09")
	require.Nil(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, int64(12), count(t, db, "trades_2019_09"))
}

func TestSyncMissingLogs(t *testing.T) {
	_, db, m := setup(t)

	require.Nil(t, m.SyncCatalog())
	require.Equal(t, int64(3), count(t, db, "exchanges"))

	names, err := m.Partitions()
	require.Nil(t, err)
	require.Empty(t, names)
}

func TestFollowPartition(t *testing.T) {
	e, db, m := setup(t)

	rep, err := e.Load(context.Background(), rows(2))
	require.Nil(t, err)
	require.Equal(t, 4, rep.Loaded)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.FollowPartition(ctx, "2019_09") }()

	require.Eventually(t, func() bool {
		var n int64
		db.Table("trades_2019_09").Count(&n)
		return n == 4
	}, 5*time.Second, 50*time.Millisecond)

	rep, err = e.Load(context.Background(), rows(3)[4:])
	require.Nil(t, err)
	require.Equal(t, 2, rep.Loaded)

	require.Eventually(t, func() bool {
		var n int64
		db.Table("trades_2019_09").Count(&n)
		return n == 6
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.Nil(t, <-done)

	saved, err := m.SavedLogID("trades_2019_09.log")
	require.Nil(t, err)
	require.Equal(t, int64(6), saved)
}
