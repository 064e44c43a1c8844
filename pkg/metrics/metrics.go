// Package metrics exposes the prometheus collectors of the engine.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fodb/pkg/model"
	"fodb/pkg/xlog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var logger = xlog.Named("metrics")

// Metrics holds all prometheus metrics of one engine
type Metrics struct {
	Registry *prometheus.Registry

	InsertsTotal  prometheus.Counter
	RejectsTotal  *prometheus.CounterVec // labels: class
	Partitions    prometheus.Gauge
	Trades        prometheus.Gauge
	ScansTotal    *prometheus.CounterVec // labels: index
	PrunedTotal   prometheus.Counter
	ScanRows      prometheus.Histogram
	QueryDur      *prometheus.HistogramVec // labels: query
	RefreshDur    prometheus.Histogram
	StaleKeys     prometheus.Gauge
	LoadBatches   prometheus.Counter
	ArchivedTotal *prometheus.CounterVec // labels: direction=export|import
}

// New registers every collector on a fresh registry, so engines in one
// process do not collide
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		InsertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fodb_inserts_total",
			Help: "Total trades stored",
		}),
		RejectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fodb_rejects_total",
			Help: "Total rejected writes by error class",
		}, []string{"class"}),
		Partitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fodb_partitions",
			Help: "Number of partitions",
		}),
		Trades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fodb_trades",
			Help: "Number of stored trades",
		}),
		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fodb_scans_total",
			Help: "Total scans by access path",
		}, []string{"index"}),
		PrunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fodb_partitions_pruned_total",
			Help: "Total partitions skipped by date pruning",
		}),
		ScanRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fodb_scan_rows",
			Help:    "Rows returned per scan",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		QueryDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fodb_query_duration_seconds",
			Help:    "Duration of the query shapes",
			Buckets: prometheus.DefBuckets,
		}, []string{"query"}),
		RefreshDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fodb_refresh_duration_seconds",
			Help:    "Duration of aggregate refreshes",
			Buckets: prometheus.DefBuckets,
		}),
		StaleKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fodb_stale_aggregates",
			Help: "Aggregate keys waiting for a refresh",
		}),
		LoadBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fodb_load_batches_total",
			Help: "Total load batches handled",
		}),
		ArchivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fodb_archived_partitions_total",
			Help: "Total partitions exported or imported",
		}, []string{"direction"}),
	}

	m.Registry.MustRegister(
		m.InsertsTotal,
		m.RejectsTotal,
		m.Partitions,
		m.Trades,
		m.ScansTotal,
		m.PrunedTotal,
		m.ScanRows,
		m.QueryDur,
		m.RefreshDur,
		m.StaleKeys,
		m.LoadBatches,
		m.ArchivedTotal,
	)
	return m
}

// Class names the error class of a rejected write
func Class(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidEnumeration):
		return "invalid_enumeration"
	case errors.Is(err, model.ErrConstraintViolation):
		return "constraint"
	case errors.Is(err, model.ErrReferenceNotFound):
		return "reference"
	case errors.Is(err, model.ErrStorageUnavailable):
		return "storage"
	}
	return "other"
}

func (m *Metrics) Reject(err error) {
	m.RejectsTotal.WithLabelValues(Class(err)).Inc()
}

// Since observes the duration of a query started at begin
func (m *Metrics) Since(query string, begin time.Time) {
	m.QueryDur.WithLabelValues(query).Observe(time.Since(begin).Seconds())
}

// Server exposes /metrics and /healthz
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer serves the registry of m, health reports the engine state
func NewServer(addr string, m *Metrics, health func() error) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Write([]byte("ok"))
	})

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start launches the http server in a goroutine
func (s *Server) Start() {
	go func() {
		logger.Infof("metrics server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Errorf("metrics server failed with err:%s", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
