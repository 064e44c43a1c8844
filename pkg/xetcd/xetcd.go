// Package xetcd looks up and registers service endpoints in etcd.
package xetcd

import (
	"context"
	"errors"
	"strings"
	"time"

	"fodb/pkg/xlog"

	clientv3 "go.etcd.io/etcd/client/v3"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNotInitialized = errors.New("etcd client not initialized")
)

type Worker struct {
	Cli *clientv3.Client
}

var Shared *Worker
var logger = xlog.Named("xetcd")

func New(urls []string) (w *Worker, err error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   urls,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return
	}

	w = &Worker{
		Cli: cli,
	}

	return
}

func InitShared(urls []string) (err error) {
	Shared, err = New(urls)
	return
}

func SharedCli() *clientv3.Client {
	if Shared == nil {
		return nil
	}
	return Shared.Cli
}

func Close() error {
	if Shared == nil {
		return nil
	}
	err := Shared.Cli.Close()
	Shared = nil
	return err
}

func Get(k string) (v string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	defer func() {
		if err != nil {
			logger.Errorf("xetcd Get k:%s failed with err:%s", k, err)
		} else {
			logger.Debugf("xetcd Get k:%s, v:%s", k, v)
		}
		cancel()
	}()

	cli := SharedCli()
	if cli == nil {
		return "", ErrNotInitialized
	}
	r, err := cli.Get(ctx, k)
	if err != nil {
		return
	}
	if r.Kvs == nil || r.Count == 0 {
		err = ErrNotFound
		return
	}

	v = string(r.Kvs[0].Value)
	return
}

func Put(k string, v string) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	defer func() {
		if err != nil {
			logger.Errorf("xetcd Put k:%s, v:%s failed with err:%s", k, v, err)
		} else {
			logger.Debugf("xetcd Put k:%s, v:%s", k, v)
		}
		cancel()
	}()

	cli := SharedCli()
	if cli == nil {
		return ErrNotInitialized
	}
	_, err = cli.Put(ctx, k, v)
	return
}

// GetOr returns the value of k, or def when etcd is not in use or has no entry
func GetOr(k string, def string) string {
	if SharedCli() == nil {
		return def
	}
	v, err := Get(k)
	if err != nil {
		return def
	}
	return v
}

func KeyNatsService(stream string) string {
	return "fodb_nats_" + strings.ToLower(stream)
}

func KeyMetricsService(instance string) string {
	return "fodb_metrics_" + strings.ToLower(instance)
}

func KeyQueryService(instance string) string {
	return "fodb_query_" + strings.ToLower(instance)
}
