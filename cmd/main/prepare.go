package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fodb/pkg/config"
	"fodb/pkg/ingress"
	"fodb/pkg/loader"
	"fodb/pkg/model"
	"fodb/pkg/xetcd"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
)

// startPrepare prepares a benchmark environment
//
//	Function 1: Write a synthetic bhavcopy of -days trade days to -file
//	Function 2: Create the nats stream and its durable consumer
//	Function 3: Announce the nats url in etcd
func startPrepare(ctx context.Context) (err error) {
	c := config.Shared

	fpath := fFile
	if fpath == "" {
		fpath = filepath.Join(c.DataDir, "bhav_synthetic.csv")
	}
	n, err := writeSynthetic(fpath, fDays, time.Now().UnixNano())
	if err != nil {
		return
	}
	fmt.Printf("prepare: wrote %d rows to %s\n", n, fpath)

	url := ingress.ResolveURL(c)
	nc, js, err := ingress.Connect(url)
	if err != nil {
		return
	}
	defer nc.Close()
	err = ingress.EnsureStream(js, c.Nats.Stream, c.Nats.Durable)
	if err != nil {
		return
	}
	fmt.Printf("prepare: stream %s ready on %s\n", c.Nats.Stream, url)

	if xetcd.SharedCli() != nil {
		err = xetcd.Put(xetcd.KeyNatsService(c.Nats.Stream), url)
		if err != nil {
			return model.Unavailable("etcd", err)
		}
	}
	return
}

var synthSymbols = []struct {
	symbol string
	spot   int64
	step   int64
}{
	{"NIFTY", 11000, 50},
	{"BANKNIFTY", 28000, 100},
	{"FINNIFTY", 12000, 50},
}

// thursday returns the first Thursday on or after day
func thursday(day time.Time) time.Time {
	for day.Weekday() != time.Thursday {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

func cell(d decimal.Decimal) string {
	return d.StringFixed(model.MoneyScale)
}

// synthetic builds futures and options rows for days weekdays starting
// 2019-09-02, prices walk randomly around the spot of each symbol
func synthetic(days int, seed int64) []*loader.Record {
	r := rand.New(rand.NewSource(seed))
	var recs []*loader.Record

	day := model.MustDay("2019-09-02")
	spots := map[string]int64{}
	for _, s := range synthSymbols {
		spots[s.symbol] = s.spot
	}

	for n := 0; n < days; day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		n++
		expiry := thursday(day)

		for _, s := range synthSymbols {
			spot := spots[s.symbol] + r.Int63n(2*s.step+1) - s.step
			spots[s.symbol] = spot

			row := func(instrument, strike, typ string, px decimal.Decimal) *loader.Record {
				open := px.Add(decimal.New(r.Int63n(200)-100, -2))
				high := decimal.Max(open, px).Add(decimal.New(r.Int63n(1000), -2))
				low := decimal.Min(open, px).Sub(decimal.New(r.Int63n(1000), -2))
				if low.IsNegative() {
					low = decimal.Zero
				}
				contracts := 1 + r.Int63n(5000)
				oi := 1000 + r.Int63n(500000)
				return &loader.Record{
					Instrument: instrument,
					Symbol:     s.symbol,
					ExpiryDt:   expiry.Format(loader.DateLayout),
					StrikePr:   strike,
					OptionTyp:  typ,
					Open:       cell(open),
					High:       cell(high),
					Low:        cell(low),
					Close:      cell(px),
					SettlePr:   cell(px),
					Contracts:  fmt.Sprint(contracts),
					ValInLakh:  cell(px.Mul(decimal.NewFromInt(contracts)).Div(decimal.NewFromInt(100000))),
					OpenInt:    fmt.Sprint(oi),
					ChgInOI:    fmt.Sprint(r.Int63n(20001) - 10000),
					Timestamp:  strings.ToUpper(day.Format(loader.DateLayout)),
				}
			}

			recs = append(recs, row("FUTIDX", "0", "XX", decimal.NewFromInt(spot)))
			atm := spot / s.step * s.step
			for k := int64(-2); k <= 2; k++ {
				strike := atm + k*s.step
				ce := decimal.NewFromInt(spot - strike)
				if ce.IsNegative() {
					ce = decimal.Zero
				}
				pe := decimal.NewFromInt(strike - spot)
				if pe.IsNegative() {
					pe = decimal.Zero
				}
				extrinsic := decimal.New(500+r.Int63n(5000), -2)
				recs = append(recs,
					row("OPTIDX", fmt.Sprint(strike), "CE", ce.Add(extrinsic)),
					row("OPTIDX", fmt.Sprint(strike), "PE", pe.Add(extrinsic)),
				)
			}
		}
	}
	return recs
}

func writeSynthetic(fpath string, days int, seed int64) (n int, err error) {
	if err = os.MkdirAll(filepath.Dir(fpath), 0755); err != nil {
		return
	}
	file, err := os.Create(fpath)
	if err != nil {
		return
	}
	defer file.Close()

	recs := synthetic(days, seed)
	if err = gocsv.MarshalFile(&recs, file); err != nil {
		return
	}
	return len(recs), nil
}
