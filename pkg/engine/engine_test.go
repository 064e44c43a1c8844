package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fodb/pkg/config"
	"fodb/pkg/engine"
	"fodb/pkg/model"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func raw(exchange, typ, symbol, expiry, strike, ot, day, close string, contracts, oi, change int64) model.RawTrade {
	d := model.MustDay(day)
	c := dec(close)
	var ex time.Time
	if expiry != "" {
		ex = model.MustDay(expiry)
	}
	return model.RawTrade{
		ExchangeCode:   exchange,
		InstrumentType: typ,
		Symbol:         symbol,
		ExpiryDate:     ex,
		StrikePrice:    dec(strike),
		OptionType:     ot,
		TradeDate:      d,
		Open:           c,
		High:           c.Add(decimal.NewFromInt(5)),
		Low:            c.Sub(decimal.NewFromInt(5)),
		Close:          c,
		Settle:         c,
		Contracts:      contracts,
		Value:          dec("12.50"),
		OpenInterest:   oi,
		ChangeInOI:     change,
		Timestamp:      d.Add(15*time.Hour + 30*time.Minute),
	}
}

func open(t *testing.T, cfg *config.Config) *engine.Engine {
	if cfg == nil {
		cfg = config.Default(t.TempDir())
	}
	e, err := engine.Open(cfg)
	require.Nil(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func load(t *testing.T, e *engine.Engine, rows []model.RawTrade) {
	rep, err := e.Load(context.Background(), rows)
	require.Nil(t, err)
	require.Nil(t, rep.Err())
	require.Equal(t, len(rows), rep.Loaded)
}

var closes = map[string]string{
	"11000CE": "245.60",
	"11000PE": "156.80",
	"11500CE": "98.40",
	"11500PE": "410.25",
}

// universe is NIFTY options on three exchanges, two expiries, two strikes
// and both sides, 24 contracts traded for ten days with equal volume
func universe() []model.RawTrade {
	rows := make([]model.RawTrade, 0, 240)
	for d := 1; d <= 10; d++ {
		day := fmt.Sprintf("2019-09-%02d", d)
		for _, exchange := range []string{"NSE", "BSE", "MCX"} {
			for _, expiry := range []string{"2019-09-26", "2019-10-31"} {
				for _, strike := range []string{"11000", "11500"} {
					for _, ot := range []string{"CE", "PE"} {
						rows = append(rows, raw(exchange, "OPTIDX", "NIFTY", expiry, strike, ot, day, closes[strike+ot], 100, 1000, 10))
					}
				}
			}
		}
	}
	return rows
}

func TestOptionChain(t *testing.T) {
	e := open(t, nil)

	load(t, e, []model.RawTrade{
		raw("NSE", "OPTIDX", "NIFTY", "2019-09-26", "11000", "CE", "2019-09-20", "245.60", 1500, 234567, 100),
		raw("NSE", "OPTIDX", "NIFTY", "2019-09-26", "11000", "PE", "2019-09-20", "156.80", 900, 345678, -40),
		// other trade date and other expiry stay out of the chain
		raw("NSE", "OPTIDX", "NIFTY", "2019-09-26", "11000", "CE", "2019-09-19", "240.00", 10, 1, 0),
		raw("NSE", "OPTIDX", "NIFTY", "2019-10-31", "11000", "PE", "2019-09-20", "300.00", 10, 1, 0),
	})

	rows, err := e.OptionChain("nifty", model.MustDay("2019-09-26"), model.MustDay("2019-09-20"))
	require.Nil(t, err)
	require.Len(t, rows, 1)

	r := rows[0]
	require.True(t, r.Strike.Equal(dec("11000")))
	require.True(t, r.HasCall)
	require.True(t, r.HasPut)
	require.True(t, r.CallClose.Equal(dec("245.60")))
	require.Equal(t, int64(234567), r.CallOI)
	require.Equal(t, int64(1500), r.CallVolume)
	require.True(t, r.PutClose.Equal(dec("156.80")))
	require.Equal(t, int64(345678), r.PutOI)
	require.Equal(t, int64(900), r.PutVolume)

	rows, err = e.OptionChain("NIFTY", model.MustDay("2019-12-26"), model.MustDay("2019-09-20"))
	require.Nil(t, err)
	require.Len(t, rows, 0)
}

func TestUniverse(t *testing.T) {
	e := open(t, nil)
	load(t, e, universe())

	st, err := e.Stats()
	require.Nil(t, err)
	require.Equal(t, 240, st.Trades)
	require.Equal(t, 3, st.Instruments)
	require.Equal(t, 24, st.Expiries)
	require.Equal(t, 3, st.Exchanges)
	require.Equal(t, 1, st.Partitions)
	require.Equal(t, model.MustDay("2019-09-01"), st.From)
	require.Equal(t, model.MustDay("2019-09-10"), st.To)
	require.Equal(t, int64(24000), st.TotalVolume)
	require.True(t, st.TotalValue.Equal(dec("3000")))
	require.Equal(t, float64(240), testutil.ToFloat64(e.Metrics.InsertsTotal))

	// every row ties on volume, ranking falls back to instrument, day and id
	top, plan, err := e.TopVolume(model.AllDates(), 5)
	require.Nil(t, err)
	require.Equal(t, "volume", plan.Index)
	require.Len(t, top, 5)
	for i, tr := range top {
		require.Equal(t, int64(i+1), tr.ID)
		require.Equal(t, int64(1), tr.InstrumentID)
	}

	cross, err := e.CrossExchangeVolume(model.AllDates())
	require.Nil(t, err)
	require.Len(t, cross, 3)
	for i, code := range []model.ExchangeCode{model.ExchangeBSE, model.ExchangeMCX, model.ExchangeNSE} {
		require.Equal(t, code, cross[i].Exchange)
		require.Equal(t, model.IndexOption, cross[i].InstrumentType)
		require.Equal(t, 1, cross[i].Symbols)
		require.Equal(t, int64(8000), cross[i].TotalVolume)
		require.True(t, cross[i].TotalValue.Equal(dec("1000")))
	}

	oi, err := e.TopOIChange(model.MustDay("2019-09-01"), 10)
	require.Nil(t, err)
	require.Len(t, oi, 3)
	require.Equal(t, model.ExchangeBSE, oi[0].Exchange)
	require.Equal(t, int64(800), oi[0].NetOIChange)
	require.True(t, oi[0].AvgOpenInterest.Equal(dec("1000")))
	require.Equal(t, int64(8000), oi[0].CumulativeVolume)
	require.Equal(t, 10, oi[0].TradingDays)

	oi, err = e.TopOIChange(model.MustDay("2019-09-06"), 1)
	require.Nil(t, err)
	require.Len(t, oi, 1)
	require.Equal(t, 5, oi[0].TradingDays)

	// three exchanges add up, closes average to the same value
	chain, err := e.OptionChain("NIFTY", model.MustDay("2019-09-26"), model.MustDay("2019-09-05"))
	require.Nil(t, err)
	require.Len(t, chain, 2)
	require.True(t, chain[0].Strike.Equal(dec("11000")))
	require.True(t, chain[1].Strike.Equal(dec("11500")))
	require.Equal(t, int64(300), chain[0].CallVolume)
	require.Equal(t, int64(3000), chain[0].PutOI)
	require.True(t, chain[1].PutClose.Equal(dec("410.25")))

	summary, err := e.OptionChainSummary("NIFTY", model.MustDay("2019-09-27"), 15)
	require.Nil(t, err)
	require.Len(t, summary, 2)
	require.Equal(t, model.MustDay("2019-10-31"), summary[0].Expiry)
	require.Equal(t, int64(3000), summary[0].CEVolume)
	require.Equal(t, int64(30000), summary[0].PEOI)
	require.True(t, summary[0].CEPremium.Equal(dec("245.60")))
	require.True(t, summary[1].PEPremium.Equal(dec("410.25")))

	days, err := e.TopVolumeDays(model.AllDates(), 10)
	require.Nil(t, err)
	require.Len(t, days, 1)
	require.Equal(t, "NIFTY", days[0].Symbol)
	require.Equal(t, model.MustDay("2019-09-01"), days[0].TradeDate)
	require.Equal(t, int64(2400), days[0].DailyVolume)

	expiries, err := e.ActiveExpiries(model.AllDates(), 15)
	require.Nil(t, err)
	require.Len(t, expiries, 2)
	require.Equal(t, model.MustDay("2019-09-26"), expiries[0].ExpiryDate)
	require.Equal(t, 2, expiries[0].Strikes)
	require.Equal(t, int64(12000), expiries[0].TotalVolume)
	require.True(t, expiries[0].TotalValue.Equal(dec("1500")))
	require.True(t, expiries[0].AvgOI.Equal(dec("1000")))

	ranges, err := e.IntradayRange(model.NewDateRange(model.MustDay("2019-09-01"), model.MustDay("2019-09-03")), decimal.Zero, 10)
	require.Nil(t, err)
	require.Len(t, ranges, 3)
	require.True(t, ranges[0].AvgRange.Equal(dec("10")))
	require.True(t, ranges[0].MaxRange.Equal(dec("10")))
	require.Equal(t, 24, ranges[0].Contracts)

	ranges, err = e.IntradayRange(model.AllDates(), dec("100"), 10)
	require.Nil(t, err)
	require.Len(t, ranges, 0)
}

func TestRollingVolatility(t *testing.T) {
	e := open(t, nil)

	var rows []model.RawTrade
	for i, c := range []string{"100", "102", "104", "106"} {
		day := fmt.Sprintf("2019-09-%02d", i+2)
		rows = append(rows, raw("NSE", "FUTIDX", "BANKNIFTY", "2019-09-26", "0", "", day, c, 10, 100, 0))
	}
	// a single day has no deviation
	rows = append(rows, raw("NSE", "FUTSTK", "INFY", "2019-09-26", "0", "", "2019-09-02", "800", 10, 100, 0))
	load(t, e, rows)

	vol, err := e.RollingVolatility(model.MustDay("2019-09-01"), 3, 10)
	require.Nil(t, err)
	require.Len(t, vol, 1)

	v := vol[0]
	require.Equal(t, "BANKNIFTY", v.Symbol)
	require.Equal(t, model.MustDay("2019-09-05"), v.LatestDate)
	require.True(t, v.AvgPrice.Equal(dec("104")))
	require.True(t, v.AvgVolatility.Equal(dec("1.80")), v.AvgVolatility.String())
	require.True(t, v.MinVolatility.Equal(dec("1.41")), v.MinVolatility.String())
	require.True(t, v.MaxVolatility.Equal(dec("2")), v.MaxVolatility.String())

	_, err = e.RollingVolatility(model.MustDay("2019-09-01"), 1, 10)
	require.True(t, errors.Is(err, model.ErrConstraintViolation))
}

func TestPartialLoad(t *testing.T) {
	e := open(t, nil)

	bad := raw("NSE", "OPTIDX", "NIFTY", "2019-09-26", "11000", "CE", "2019-09-02", "100", 1, 1, 0)
	bad.High = dec("90")

	rep, err := e.Load(context.Background(), []model.RawTrade{
		raw("NSE", "OPTIDX", "NIFTY", "2019-09-26", "11000", "CE", "2019-09-02", "100", 1, 1, 0),
		raw("XYZ", "OPTIDX", "NIFTY", "2019-09-26", "11000", "CE", "2019-09-02", "100", 1, 1, 0),
		raw("NSE", "OPTIDX", "NIFTY", "2019-09-26", "-5", "CE", "2019-09-02", "100", 1, 1, 0),
		bad,
		raw("NSE", "FUTIDX", "NIFTY", "2019-09-26", "0", "CE", "2019-09-02", "100", 1, 1, 0),
		raw("NSE", "OPTIDX", "NIFTY", "2019-09-26", "11000", "PE", "2019-09-02", "100", 1, 1, 0),
	})
	require.Nil(t, err)
	require.Equal(t, 2, rep.Loaded)
	require.Len(t, rep.Failed, 4)

	failed := []int{}
	for _, f := range rep.Failed {
		failed = append(failed, f.Row)
		require.True(t, errors.Is(f, model.ErrConstraintViolation), f.Error())
	}
	require.Equal(t, []int{1, 2, 3, 4}, failed)
	require.True(t, errors.Is(rep.Failed[0].Err, model.ErrInvalidEnumeration))
	require.Equal(t, model.ExitConstraint, model.ExitCode(rep.Err()))

	require.Equal(t, 2, e.Store.Len())
	require.Equal(t, float64(4), testutil.ToFloat64(e.Metrics.RejectsTotal.WithLabelValues("constraint"))+
		testutil.ToFloat64(e.Metrics.RejectsTotal.WithLabelValues("invalid_enumeration")))

	// identical retry returns the stored id
	first := raw("NSE", "OPTIDX", "NIFTY", "2019-09-26", "11000", "CE", "2019-09-02", "100", 1, 1, 0)
	id, err := e.LoadOne(first)
	require.Nil(t, err)
	require.Equal(t, int64(1), id)
	require.Equal(t, 2, e.Store.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err = e.Load(ctx, []model.RawTrade{first})
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, 0, rep.Loaded)
}

func TestRejectedRowCreatesNothing(t *testing.T) {
	e := open(t, nil)

	bad := raw("BSE", "OPTSTK", "INFY", "2019-09-26", "700", "CE", "2019-09-02", "100", 1, 1, 0)
	bad.High = dec("90")
	future := raw("BSE", "FUTSTK", "INFY", "2019-09-26", "700", "", "2019-09-02", "100", 1, 1, 0)
	noTime := raw("BSE", "OPTSTK", "INFY", "2019-09-26", "700", "PE", "2019-09-02", "100", 1, 1, 0)
	noTime.Timestamp = time.Time{}

	for _, r := range []model.RawTrade{bad, future, noTime} {
		_, err := e.LoadOne(r)
		require.True(t, errors.Is(err, model.ErrConstraintViolation), err)
	}

	_, instruments := e.Catalog.Counts()
	require.Equal(t, 0, instruments)
	require.Equal(t, 0, e.Registry.Len())
	require.Equal(t, 0, e.Store.Len())

	bad.High = dec("105")
	_, err := e.LoadOne(bad)
	require.Nil(t, err)
	_, instruments = e.Catalog.Counts()
	require.Equal(t, 1, instruments)
	require.Equal(t, 1, e.Registry.Len())
}

func TestDailyAggregate(t *testing.T) {
	e := open(t, nil)
	load(t, e, universe())
	day := model.MustDay("2019-09-01")

	agg, fresh, err := e.DailyAggregate(1, day)
	require.Nil(t, err)
	require.False(t, fresh)
	require.Equal(t, int64(8), agg.Rows)
	require.Equal(t, int64(800), agg.Volume)

	res, err := e.Refresh(context.Background(), model.NewDateRange(day, day))
	require.Nil(t, err)
	require.Equal(t, 3, res.Refreshed)

	again, fresh, err := e.DailyAggregate(1, day)
	require.Nil(t, err)
	require.True(t, fresh)
	require.Equal(t, agg.Rows, again.Rows)
	require.True(t, agg.AvgClose.Equal(again.AvgClose))
	require.True(t, agg.Value.Equal(again.Value))

	// other days stay stale until refreshed
	_, fresh, err = e.DailyAggregate(1, model.MustDay("2019-09-02"))
	require.Nil(t, err)
	require.False(t, fresh)

	_, _, err = e.DailyAggregate(99, day)
	require.True(t, errors.Is(err, model.ErrNotFound))
}

func TestReopen(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Store.Persist = true
	cfg.Store.Partition = "week"

	e, err := engine.Open(cfg)
	require.Nil(t, err)
	load(t, e, universe())
	before, err := e.Stats()
	require.Nil(t, err)
	require.Nil(t, e.Close())

	e = open(t, cfg)
	after, err := e.Stats()
	require.Nil(t, err)
	require.Equal(t, before.Trades, after.Trades)
	require.Equal(t, before.Instruments, after.Instruments)
	require.Equal(t, before.Expiries, after.Expiries)
	require.Equal(t, before.Partitions, after.Partitions)
	require.True(t, before.TotalValue.Equal(after.TotalValue))
	require.Greater(t, after.StaleKeys, 0)

	// new rows continue the id sequences
	id, err := e.LoadOne(raw("NSE", "OPTIDX", "NIFTY", "2019-09-26", "12000", "CE", "2019-09-11", "50", 1, 1, 0))
	require.Nil(t, err)
	require.Equal(t, int64(241), id)
	require.Equal(t, 25, e.Registry.Len())
}

func TestArchive(t *testing.T) {
	e := open(t, nil)
	load(t, e, universe())

	fpath, err := e.ExportPartition("2019_09", t.TempDir())
	require.Nil(t, err)

	require.Nil(t, e.DropPartition("2019_09"))
	st, err := e.Stats()
	require.Nil(t, err)
	require.Equal(t, 0, st.Trades)

	snap, err := e.ImportPartition(fpath)
	require.Nil(t, err)
	require.Equal(t, "2019_09", snap.Partition)

	st, err = e.Stats()
	require.Nil(t, err)
	require.Equal(t, 240, st.Trades)
	require.Equal(t, float64(1), testutil.ToFloat64(e.Metrics.ArchivedTotal.WithLabelValues("import")))

	_, err = e.ExportPartition("2018_01", t.TempDir())
	require.True(t, errors.Is(err, model.ErrNotFound))
}

func TestQuery(t *testing.T) {
	e := open(t, nil)
	load(t, e, universe())

	v, err := e.Query("option_chain", engine.Params{Symbol: "NIFTY", Expiry: "2019-09-26", Date: "2019-09-05"})
	require.Nil(t, err)
	rows := v.([]engine.ChainRow)
	require.Len(t, rows, 2)
	require.True(t, rows[0].Strike.Equal(dec("11000")))
	require.Equal(t, int64(300), rows[0].CallVolume)
	require.Equal(t, int64(3000), rows[0].PutOI)
	require.True(t, rows[1].PutClose.Equal(dec("410.25")))

	v, err = e.Query("top_volume", engine.Params{From: "2019-09-01", To: "2019-09-30", Limit: 3})
	require.Nil(t, err)
	top := v.(engine.TopVolumeResult)
	require.Len(t, top.Trades, 3)

	_, err = e.Query("cross_exchange", engine.Params{From: "2019-09-30", To: "2019-09-01"})
	require.ErrorIs(t, err, model.ErrConstraintViolation)

	_, err = e.Query("intraday_range", engine.Params{MinPct: "five"})
	require.ErrorIs(t, err, model.ErrConstraintViolation)

	_, err = e.Query("chain_summary", engine.Params{Symbol: "NIFTY"})
	require.ErrorIs(t, err, model.ErrConstraintViolation)

	_, err = e.Query("nope", engine.Params{})
	require.ErrorIs(t, err, model.ErrConstraintViolation)
	require.Contains(t, engine.QueryNames(), "stats")
	require.Len(t, engine.QueryNames(), 11)
}
