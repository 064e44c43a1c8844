// Package xgorm routes gorm logs into xlog, so mirror SQL shows up next to engine logs.
package xgorm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"fodb/pkg/xlog"

	gl "gorm.io/gorm/logger"
)

var ErrRecordNotFound = gl.ErrRecordNotFound

const (
	Silent = gl.Silent
	Error  = gl.Error
	Warn   = gl.Warn
	Info   = gl.Info
)

type LogLevel = gl.LogLevel

// Writer log writer interface
type Writer = gl.Writer

type Config = gl.Config

// Interface logger interface
type Interface = gl.Interface

var (
	Discard = New(log.New(io.Discard, "", log.LstdFlags), Config{})

	sqlLogger = xlog.Named("sql")
)

func New(writer Writer, config Config) Interface {
	var (
		infoStr      = "[info] "
		warnStr      = "[warn] "
		errStr       = "[error] "
		traceStr     = "[%.3fms] [rows:%v] %s"
		traceWarnStr = "%s [%.3fms] [rows:%v] %s"
		traceErrStr  = "%s [%.3fms] [rows:%v] %s"
	)

	return &logger{
		Writer:       writer,
		Config:       config,
		infoStr:      infoStr,
		warnStr:      warnStr,
		errStr:       errStr,
		traceStr:     traceStr,
		traceWarnStr: traceWarnStr,
		traceErrStr:  traceErrStr,
	}
}

type logger struct {
	Writer
	Config
	infoStr, warnStr, errStr            string
	traceStr, traceErrStr, traceWarnStr string
}

// LogMode log mode
func (l *logger) LogMode(level LogLevel) Interface {
	newlogger := *l
	newlogger.LogLevel = level
	return &newlogger
}

// Info print info
func (l logger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Info {
		sqlLogger.Infof(l.infoStr+msg, data...)
	}
}

// Warn print warn messages
func (l logger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Warn {
		sqlLogger.Warningf(l.warnStr+msg, data...)
	}
}

// Error print error messages
func (l logger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Error {
		sqlLogger.Errorf(l.errStr+msg, data...)
	}
}

// Trace print sql message
func (l logger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= Silent {
		return
	}

	elapsed := float64(time.Since(begin).Nanoseconds()) / 1e6
	switch {
	case err != nil && l.LogLevel >= Error && (!errors.Is(err, ErrRecordNotFound) || !l.IgnoreRecordNotFoundError):
		sql, rows := fc()
		sqlLogger.Errorf(l.traceErrStr, err, elapsed, rowsString(rows), sql)
	case l.SlowThreshold != 0 && time.Since(begin) > l.SlowThreshold && l.LogLevel >= Warn:
		sql, rows := fc()
		slowLog := fmt.Sprintf("SLOW SQL >= %v", l.SlowThreshold)
		sqlLogger.Warningf(l.traceWarnStr, slowLog, elapsed, rowsString(rows), sql)
	case l.LogLevel == Info:
		sql, rows := fc()
		sqlLogger.Debugf(l.traceStr, elapsed, rowsString(rows), sql)
	}
}

func rowsString(rows int64) string {
	if rows == -1 {
		return "-"
	}
	return fmt.Sprint(rows)
}
