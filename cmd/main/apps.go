package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"fodb/pkg/config"
	"fodb/pkg/engine"
	"fodb/pkg/ingress"
	"fodb/pkg/loader"
	"fodb/pkg/model"
	"fodb/pkg/xgrpc"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// params collects the query flags
func params() engine.Params {
	return engine.Params{
		Symbol:     fSymbol,
		Expiry:     fExpiry,
		Date:       fDate,
		From:       fFrom,
		To:         fTo,
		Limit:      fLimit,
		Window:     fWindow,
		MinPct:     fMinPct,
		Instrument: fInstr,
	}
}

func readCSV() (rows []model.RawTrade, err error) {
	if fFile == "" {
		return nil, model.Violation("empty -file")
	}
	exchange := fExchange
	if exchange == "" {
		exchange = config.Shared.Loader.Exchange
	}

	rows, skipped, err := loader.New(exchange).ReadFile(fFile)
	if err != nil {
		return
	}
	for _, s := range skipped {
		logger.Warningf("%s skipped %s", fFile, s)
	}
	return
}

// startLoad loads a bhavcopy file into the store
func startLoad(ctx context.Context) (err error) {
	rows, err := readCSV()
	if err != nil {
		return
	}

	e, err := engine.Open(config.Shared)
	if err != nil {
		return
	}
	defer e.Close()

	begin := time.Now()
	total := engine.LoadReport{}
	err = loader.Batches(ctx, rows, config.Shared.Loader.BatchSize, func(ctx context.Context, batch []model.RawTrade) error {
		rep, err := e.Load(ctx, batch)
		total.Loaded += rep.Loaded
		total.Failed = append(total.Failed, rep.Failed...)
		return err
	})

	for _, f := range total.Failed {
		logger.Warningf("%s rejected %s", fFile, f)
	}
	fmt.Printf("%s: loaded %d rows, %d failed in %s\n", fFile, total.Loaded, len(total.Failed), time.Since(begin))
	if err != nil {
		return
	}
	return total.Err()
}

// startPublish sends a bhavcopy file to the ingestion stream
func startPublish(ctx context.Context) (err error) {
	rows, err := readCSV()
	if err != nil {
		return
	}

	nc, js, err := ingress.Connect(ingress.ResolveURL(config.Shared))
	if err != nil {
		return
	}
	defer nc.Close()

	err = ingress.EnsureStream(js, config.Shared.Nats.Stream, config.Shared.Nats.Durable)
	if err != nil {
		return
	}

	p := ingress.NewPublisher(js, config.Shared.Nats.Stream)
	batches, err := p.Publish(ctx, fFile, rows, config.Shared.Loader.BatchSize)
	if err != nil {
		return
	}
	fmt.Printf("%s: published %d rows in %d batches\n", fFile, len(rows), batches)
	return
}

// startQuery runs one of the analytical queries and prints its result as
// json, against the local store or the grpc service of -remote
func startQuery(ctx context.Context) (err error) {
	if fRemote != "" {
		return remoteQuery(ctx)
	}

	e, err := engine.Open(config.Shared)
	if err != nil {
		return
	}
	defer e.Close()

	begin := time.Now()
	v, err := e.Query(fQuery, params())
	if err != nil {
		return
	}
	logger.Infof("query %s took %s", fQuery, time.Since(begin))
	return printJSON(v)
}

func remoteQuery(ctx context.Context) (err error) {
	c, err := xgrpc.Dial(fRemote)
	if err != nil {
		return
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	raw, err := c.Query(ctx, fQuery, params())
	if err != nil {
		return
	}
	var v interface{}
	if err = json.Unmarshal(raw, &v); err != nil {
		return
	}
	return printJSON(v)
}

// startRefresh recomputes the stale daily aggregates in -from..-to
func startRefresh(ctx context.Context) (err error) {
	r, err := params().Dates()
	if err != nil {
		return
	}

	e, err := engine.Open(config.Shared)
	if err != nil {
		return
	}
	defer e.Close()

	res, err := e.Refresh(ctx, r)
	if err != nil {
		return
	}
	return printJSON(res)
}

// startArchive writes a partition to a parquet snapshot, dropping it with -drop
func startArchive(ctx context.Context) (err error) {
	if fPartition == "" {
		return model.Violation("empty -partition")
	}
	dir := fDir
	if dir == "" {
		dir = config.Shared.DataDir
	}

	e, err := engine.Open(config.Shared)
	if err != nil {
		return
	}
	defer e.Close()

	fpath, err := e.ExportPartition(fPartition, dir)
	if err != nil {
		return
	}
	fmt.Printf("partition %s archived to %s\n", fPartition, fpath)

	if fDrop {
		if err = e.DropPartition(fPartition); err != nil {
			return
		}
		fmt.Printf("partition %s dropped\n", fPartition)
	}
	return
}

// startRestore imports a parquet snapshot back as a partition
func startRestore(ctx context.Context) (err error) {
	if fFile == "" {
		return model.Violation("empty -file")
	}

	e, err := engine.Open(config.Shared)
	if err != nil {
		return
	}
	defer e.Close()

	snap, err := e.ImportPartition(fFile)
	if err != nil {
		return
	}
	fmt.Printf("partition %s restored with %d trades (written by %s)\n", snap.Partition, len(snap.Rows), snap.Version)
	return
}
