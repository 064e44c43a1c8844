package index_test

import (
	"errors"
	"testing"
	"time"

	"fodb/pkg/index"
	"fodb/pkg/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func trade(instrumentID, expiryID int64, day string, contracts int64) model.Trade {
	d := model.MustDay(day)
	return model.Trade{
		ExpiryID:     expiryID,
		InstrumentID: instrumentID,
		TradeDate:    d,
		Open:         decimal.NewFromInt(100),
		High:         decimal.NewFromInt(110),
		Low:          decimal.NewFromInt(90),
		Close:        decimal.NewFromInt(105),
		Settle:       decimal.NewFromInt(105),
		Contracts:    contracts,
		Value:        decimal.RequireFromString("12.50"),
		OpenInterest: 1000,
		Timestamp:    d.Add(15*time.Hour + 30*time.Minute),
	}
}

func collect(scan func(fn func(pos int) bool)) []int {
	ps := []int{}
	scan(func(pos int) bool {
		ps = append(ps, pos)
		return true
	})
	return ps
}

func TestScans(t *testing.T) {
	s := index.NewSet(index.Config{Degree: 2, BlockSize: 2})

	rows := []model.Trade{
		trade(1, 10, "2019-09-03", 50),
		trade(2, 20, "2019-09-02", 0),
		trade(1, 11, "2019-09-02", 70),
		trade(2, 20, "2019-09-03", 50),
		trade(1, 10, "2019-09-04", 50),
	}
	for pos := range rows {
		s.Add(pos, &rows[pos])
	}
	require.Equal(t, 5, s.Len())
	require.Equal(t, 4, s.VolumeLen())

	all := model.AllDates()
	require.Equal(t, []int{1, 2, 0, 3, 4}, collect(func(fn func(int) bool) { s.ScanDate(all, fn) }))

	sept3 := model.NewDateRange(model.MustDay("2019-09-03"), model.MustDay("2019-09-03"))
	require.Equal(t, []int{0, 3}, collect(func(fn func(int) bool) { s.ScanDate(sept3, fn) }))

	require.Equal(t, []int{2, 0, 4}, collect(func(fn func(int) bool) { s.ScanInstrument(1, all, fn) }))
	require.Equal(t, []int{0, 4}, collect(func(fn func(int) bool) { s.ScanExpiry(10, all, fn) }))
	require.Equal(t, []int{4}, collect(func(fn func(int) bool) {
		s.ScanExpiry(10, model.Since(model.MustDay("2019-09-04")), fn)
	}))

	// contracts desc, then instrument, then day
	require.Equal(t, []int{2, 0, 4, 3}, collect(func(fn func(int) bool) { s.ScanVolume(all, fn) }))
	require.Equal(t, []int{0, 3}, collect(func(fn func(int) bool) { s.ScanVolume(sept3, fn) }))
}

func TestSnapshot(t *testing.T) {
	s := index.NewSet(index.Config{})
	first := trade(1, 10, "2019-09-02", 5)
	s.Add(0, &first)

	snap := s.Snapshot()
	second := trade(1, 10, "2019-09-03", 5)
	s.Add(1, &second)

	require.Equal(t, 2, s.Len())
	require.Equal(t, 1, snap.Len())
	require.Equal(t, 1, snap.Blocks().Stat(0).Rows)
	require.Equal(t, 2, s.Blocks().Stat(0).Rows)
}

func TestBlockRange(t *testing.T) {
	b := index.NewBlockRange(2)
	base := time.Date(2019, 9, 2, 9, 15, 0, 0, time.UTC)
	for pos := 0; pos < 5; pos++ {
		b.Add(pos, base.Add(time.Duration(pos)*time.Hour))
	}
	require.Equal(t, 3, b.Len())

	start, end := b.Span(2)
	require.Equal(t, 4, start)
	require.Equal(t, 5, end)

	r := model.TimeRange{From: base.Add(2 * time.Hour), To: base.Add(3 * time.Hour)}
	require.False(t, b.MayContain(0, r))
	require.True(t, b.MayContain(1, r))
	require.False(t, b.MayContain(2, r))
	require.True(t, b.MayContain(2, model.TimeRange{}))
}

func TestCheckTrade(t *testing.T) {
	ok := trade(1, 10, "2019-09-02", 5)
	require.Nil(t, index.CheckTrade(&ok))

	bad := ok
	bad.Open, bad.High, bad.Low, bad.Close = decimal.NewFromInt(100), decimal.NewFromInt(90), decimal.NewFromInt(80), decimal.NewFromInt(95)
	err := index.CheckTrade(&bad)
	require.True(t, errors.Is(err, model.ErrConstraintViolation))

	bad = ok
	bad.Low = decimal.NewFromInt(101)
	require.True(t, errors.Is(index.CheckTrade(&bad), model.ErrConstraintViolation))

	bad = ok
	bad.Contracts = -1
	require.True(t, errors.Is(index.CheckTrade(&bad), model.ErrConstraintViolation))

	bad = ok
	bad.OpenInterest = -1
	require.True(t, errors.Is(index.CheckTrade(&bad), model.ErrConstraintViolation))

	bad = ok
	bad.Value = decimal.RequireFromString("-0.01")
	require.True(t, errors.Is(index.CheckTrade(&bad), model.ErrConstraintViolation))

	bad = ok
	bad.Close = decimal.RequireFromString("105.125")
	require.True(t, errors.Is(index.CheckTrade(&bad), model.ErrConstraintViolation))

	bad = ok
	bad.Timestamp = time.Time{}
	require.True(t, errors.Is(index.CheckTrade(&bad), model.ErrConstraintViolation))

	bad = ok
	bad.Timestamp = ok.TradeDate.Add(-time.Hour)
	require.True(t, errors.Is(index.CheckTrade(&bad), model.ErrConstraintViolation))

	// a negative change in open interest is fine
	neg := ok
	neg.ChangeInOI = -500
	require.Nil(t, index.CheckTrade(&neg))
}
