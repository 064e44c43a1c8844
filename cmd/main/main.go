package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"fodb/pkg/config"
	"fodb/pkg/engine"
	"fodb/pkg/info"
	"fodb/pkg/model"
	"fodb/pkg/xetcd"
	"fodb/pkg/xlog"
)

var logger = xlog.GetLogger()

var (
	fApp     string
	fLogDir  string
	fLogFile string

	fFile      string
	fExchange  string
	fQuery     string
	fSymbol    string
	fExpiry    string
	fDate      string
	fFrom      string
	fTo        string
	fLimit     int
	fWindow    int
	fMinPct    string
	fInstr     int64
	fPartition string
	fDir       string
	fDrop      bool
	fDays      int
	fRemote    string
)

var (
	apps = map[string]func(ctx context.Context) error{
		"load":    startLoad,
		"publish": startPublish,
		"query":   startQuery,
		"refresh": startRefresh,
		"archive": startArchive,
		"restore": startRestore,
		"serve":   startServe,
		"mirror":  startMirror,
		"prepare": startPrepare,
		"version": startVersion,
	}
)

func init() {
	flag.StringVar(&fApp, "app", "", "")
	flag.StringVar(&fLogDir, "logdir", "", "")
	flag.StringVar(&fLogFile, "logfile", "", "")

	flag.StringVar(&fFile, "file", "", "bhavcopy csv to load or publish, snapshot to restore, csv to write for prepare")
	flag.StringVar(&fExchange, "exchange", "", "exchange of csv rows without one")
	flag.StringVar(&fQuery, "query", "", "one of "+strings.Join(engine.QueryNames(), ", "))
	flag.StringVar(&fSymbol, "symbol", "", "")
	flag.StringVar(&fExpiry, "expiry", "", "expiry date, 2006-01-02")
	flag.StringVar(&fDate, "date", "", "trade date, 2006-01-02")
	flag.StringVar(&fFrom, "from", "", "first trade date, open when empty")
	flag.StringVar(&fTo, "to", "", "last trade date, open when empty")
	flag.IntVar(&fLimit, "limit", 10, "")
	flag.IntVar(&fWindow, "window", 7, "rolling volatility window in trade days")
	flag.StringVar(&fMinPct, "min_pct", "0", "minimum average range in percent")
	flag.Int64Var(&fInstr, "instrument", 0, "instrument id")
	flag.StringVar(&fPartition, "partition", "", "partition name, e.g. 2019_09")
	flag.StringVar(&fDir, "dir", "", "directory snapshots are written to")
	flag.BoolVar(&fDrop, "drop", false, "drop the partition once archived")
	flag.IntVar(&fDays, "days", 20, "trade days prepare generates")
	flag.StringVar(&fRemote, "remote", "", "grpc address of a serving engine to query")
}

func main() {
	flag.Parse()

	start, ok := apps[fApp]
	if !ok {
		names := make([]string, 0, len(apps))
		for k := range apps {
			names = append(names, k)
		}
		sort.Strings(names)
		fmt.Fprintf(os.Stderr, "invalid app, only (%s) available\n", strings.Join(names, ", "))
		os.Exit(model.ExitFailure)
	}
	if fApp == "version" {
		os.Exit(model.ExitCode(start(context.Background())))
	}

	// Initialize the Shared config
	config.EasyInit()

	// Initialize the logger
	if fLogDir == "" {
		fLogDir = filepath.Join(config.Shared.DataDir, "logs")
	}
	if fLogFile == "" {
		fLogFile = fApp + ".log"
	}
	logPath := filepath.Join(fLogDir, fLogFile)
	xlog.Init(fApp, logPath, nil)
	logger.Info(fApp + " started, " + info.String())
	logger.Infof("xlog in %s", logPath)

	// Handle signals
	go handleSignals()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, start)
	stop()

	code := model.ExitCode(err)
	if err != nil {
		logger.Errorf("%s failed with err:%s", fApp, err)
		fmt.Fprintf(os.Stderr, "%s: %s\n", fApp, err)
	}
	xlog.Sync()
	os.Exit(code)
}

func run(ctx context.Context, start func(ctx context.Context) error) (err error) {
	// Initialize the etcd instance, only apps talking to nats or announcing
	// themselves need it
	if config.Shared.Etcd.Main.Enable {
		err = xetcd.InitShared([]string{config.Shared.Etcd.Main.Url})
		if err != nil {
			return model.Unavailable("etcd", err)
		}
		defer xetcd.Close()
	}

	return start(ctx)
}

// handleSignals handles linux signals
//
//	Function 1: Change log level via SIGUSR1 signal
//		docker exec <container_id> sh -c 'export XLOG_LVL=TRACE && kill -SIGUSR1 1'
func handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGUSR1)

	for sig := range sigChan {
		if sig != syscall.SIGUSR1 {
			continue
		}
		// Read log level from environment variable
		level := os.Getenv("XLOG_LVL")
		if level == "" {
			continue
		}
		logger := xlog.GetLogger()
		logger.SetLevel(level)
		logger.Infof("Log level set to %s via signal", level)
	}
}

func startVersion(ctx context.Context) error {
	fmt.Println(info.String())
	return nil
}
