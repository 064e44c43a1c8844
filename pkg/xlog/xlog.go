package xlog

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// Logger is a leveled logger writing through Zap. Named loggers share the
// level of the root logger, so SetLevel on any of them applies to all.
type Logger struct {
	level *atomic.Int32
	name  string
}

const (
	TRACE = iota
	DEBUG
	INFO
	WARNING
	ERROR
	FATAL
)

var levelNames = []string{
	"TRACE",
	"DEBUG",
	"INFO",
	"WARNING",
	"ERROR",
	"FATAL",
}

var _logger *Logger

func GetLogger() *Logger {
	if _logger != nil {
		return _logger
	}
	lvl := strings.ToUpper(os.Getenv("XLOG_LVL"))
	level := ParseLevel(lvl)
	_logger = &Logger{
		level: &atomic.Int32{},
	}
	_logger.level.Store(int32(level))
	zapLevel.SetLevel(toZapLevel(level))
	_logger.Debugf("using xlog with %s, XLOG_LVL:%s", levelNames[level], lvl)
	return _logger
}

// Named returns a logger of one component, its entries carry the name in
// the logger key
func Named(name string) *Logger {
	root := GetLogger()
	return &Logger{level: root.level, name: name}
}

// ParseLevel accepts full and abbreviated level names, INFO otherwise
func ParseLevel(lvl string) int {
	switch strings.ToUpper(lvl) {
	case "T", "TRC", "TRACE":
		return TRACE
	case "D", "DBG", "DEBUG":
		return DEBUG
	case "W", "WRN", "WARN", "WARNING":
		return WARNING
	case "E", "ERR", "ERROR":
		return ERROR
	case "F", "FTL", "FATAL":
		return FATAL
	}
	return INFO
}

func (s *Logger) SetLevel(level string) {
	for i, v := range levelNames {
		if v == level {
			s.SetLevelNum(i)
			s.Infof("set xlog level to %s", level)
			return
		}
	}

	s.Infof("set xlog level to %s failed", level)
}

func (s *Logger) SetLevelNum(num int) {
	s.level.Store(int32(num))
	zapLevel.SetLevel(toZapLevel(num))
}

func (s *Logger) GetLevel() int {
	return int(s.level.Load())
}

func (s *Logger) enabled(level int) bool {
	return level >= int(s.level.Load())
}

func (s *Logger) zap() *zap.Logger {
	if s.name == "" {
		return Zap
	}
	return Zap.Named(s.name)
}

func (s *Logger) format(tag string, msg string) string {
	return tag + " " + msg
}

func (s *Logger) Trace(args ...interface{}) {
	if s.enabled(TRACE) {
		s.zap().Debug(s.format("[TRC]", argsToString(args)), FileField())
	}
}

func (s *Logger) Tracef(format string, args ...interface{}) {
	if s.enabled(TRACE) {
		s.zap().Debug(s.format("[TRC]", fmt.Sprintf(format, args...)), FileField())
	}
}

func (s *Logger) Debug(args ...interface{}) {
	if s.enabled(DEBUG) {
		s.zap().Debug(s.format("[DBG]", argsToString(args)), FileField())
	}
}

func (s *Logger) Debugf(format string, args ...interface{}) {
	if s.enabled(DEBUG) {
		s.zap().Debug(s.format("[DBG]", fmt.Sprintf(format, args...)), FileField())
	}
}

func (s *Logger) Info(args ...interface{}) {
	if s.enabled(INFO) {
		s.zap().Info(s.format("[INF]", argsToString(args)), FileField())
	}
}

func (s *Logger) Infof(format string, args ...interface{}) {
	if s.enabled(INFO) {
		s.zap().Info(s.format("[INF]", fmt.Sprintf(format, args...)), FileField())
	}
}

func (s *Logger) Warning(args ...interface{}) {
	if s.enabled(WARNING) {
		s.zap().Warn(s.format("[WRN]", argsToString(args)), FileField())
	}
}

func (s *Logger) Warningf(format string, args ...interface{}) {
	if s.enabled(WARNING) {
		s.zap().Warn(s.format("[WRN]", fmt.Sprintf(format, args...)), FileField())
	}
}

func (s *Logger) Error(args ...interface{}) {
	if s.enabled(ERROR) {
		s.zap().Error(s.format("[ERR]", argsToString(args)), FileField())
	}
}

func (s *Logger) Errorf(format string, args ...interface{}) {
	if s.enabled(ERROR) {
		s.zap().Error(s.format("[ERR]", fmt.Sprintf(format, args...)), FileField())
	}
}

func (s *Logger) Fatal(args ...interface{}) {
	s.zap().Fatal(s.format("[FTL]", argsToString(args)), FileField())
	os.Exit(1)
}

func (s *Logger) Fatalf(format string, args ...interface{}) {
	s.zap().Fatal(s.format("[FTL]", fmt.Sprintf(format, args...)), FileField())
	os.Exit(1)
}

func (s *Logger) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	Zap.Info(string(p), FileField())
	return len(p), nil
}

func argsToString(args ...interface{}) string {
	s := fmt.Sprintf("%v", args...)
	if len(s) <= 2 {
		return s
	}
	return s[1 : len(s)-1]
}
