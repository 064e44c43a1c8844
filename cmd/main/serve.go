package main

import (
	"context"
	"os"
	"time"

	"fodb/pkg/config"
	"fodb/pkg/engine"
	"fodb/pkg/info"
	"fodb/pkg/ingress"
	"fodb/pkg/metrics"
	"fodb/pkg/mirror"
	"fodb/pkg/model"
	"fodb/pkg/xetcd"
	"fodb/pkg/xgrpc"
)

// refreshEvery is how often serve recomputes stale daily aggregates
const refreshEvery = time.Minute

// startServe runs the engine as a service
//
//	Function 1: Load the batches published on the nats stream
//	Function 2: Expose /metrics and /healthz
//	Function 3: Refresh stale daily aggregates in the background
//	Function 4: Serve the analytical queries over grpc
func startServe(ctx context.Context) (err error) {
	c := config.Shared

	e, err := engine.Open(c)
	if err != nil {
		return
	}
	defer e.Close()

	if c.Metrics.Enabled {
		srv := metrics.NewServer(c.Metrics.Addr, e.Metrics, e.Health)
		srv.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Stop(sctx)
		}()

		if xetcd.SharedCli() != nil {
			host, _ := os.Hostname()
			err = xetcd.Put(xetcd.KeyMetricsService(host+"_"+info.InstanceID), c.Metrics.Addr)
			if err != nil {
				return model.Unavailable("etcd register", err)
			}
		}
	}

	if c.Grpc.Enabled {
		gs := xgrpc.NewServer(e)
		go func() {
			if err := gs.ListenAndServe(c.Grpc.Addr); err != nil {
				logger.Errorf("grpc server failed with err:%s", err)
			}
		}()
		defer gs.Stop()

		if xetcd.SharedCli() != nil {
			host, _ := os.Hostname()
			err = xetcd.Put(xetcd.KeyQueryService(host+"_"+info.InstanceID), c.Grpc.Addr)
			if err != nil {
				return model.Unavailable("etcd register", err)
			}
		}
	}

	go refreshLoop(ctx, e)

	url := ingress.ResolveURL(c)
	// Retry the connection, nats usually starts along with the engine
	var sub *ingress.Subscriber
	for i := 0; i < 100; i++ {
		sub, err = subscriber(url, c, e)
		if err == nil {
			break
		}
		logger.Errorf("nats %s not ready with err:%s", url, err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(100 * time.Millisecond):
		}
	}
	if err != nil {
		return
	}

	logger.Infof("serving stream %s as %s", c.Nats.Stream, c.Nats.Durable)
	return sub.Run(ctx)
}

func subscriber(url string, c *config.Config, e *engine.Engine) (sub *ingress.Subscriber, err error) {
	_, js, err := ingress.Connect(url)
	if err != nil {
		return
	}
	err = ingress.EnsureStream(js, c.Nats.Stream, c.Nats.Durable)
	if err != nil {
		return
	}
	return ingress.NewSubscriber(js, c.Nats.Stream, c.Nats.Durable, e), nil
}

func refreshLoop(ctx context.Context, e *engine.Engine) {
	ticker := time.NewTicker(refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		res, err := e.Refresh(ctx, model.AllDates())
		if err != nil {
			logger.Errorf("refresh failed with err:%s", err)
			continue
		}
		if res.Refreshed+res.Removed > 0 {
			logger.Infof("refreshed %d aggregates, removed %d, %d raced", res.Refreshed, res.Removed, res.Raced)
		}
	}
}

// startMirror follows the logs under data_dir into the configured sql database
func startMirror(ctx context.Context) (err error) {
	c := config.Shared

	db, err := model.OpenSQL(c)
	if err != nil {
		return model.Unavailable("sql", err)
	}

	m, err := mirror.New(db, c.DataDir, c.Loader.BatchSize)
	if err != nil {
		return
	}
	return m.Run(ctx)
}
