package xlog

import (
	"flag"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	Zap = zap.NewNop()

	EnvMode    = "development"
	EnvColor   = false
	EnvConsole = true

	// zapLevel follows the level of the xlog loggers, see SetLevel
	zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)

	appName    string
	serverHook func(p []byte)
)

func init() {
	if mode := os.Getenv("XLOG_MODE"); mode != "" {
		EnvMode = mode
	}

	color := os.Getenv("XLOG_COLOR")
	if color == "" && flag.Lookup("test.v") == nil {
		color = "true"
	}
	EnvColor = enabledEnv(color)
	EnvConsole = os.Getenv("XLOG_CONSOLE") == "" || enabledEnv(os.Getenv("XLOG_CONSOLE"))
}

func enabledEnv(v string) bool {
	return v != "" && v != "false" && v != "0"
}

// Init builds the shared zap logger: json lines into logPath, rotated by
// lumberjack, and a short line per entry on stdout. A release mode logger
// drops debug entries whatever the xlog level.
func Init(name string, logPath string, hook func(p []byte)) {
	if name == "" {
		name = "fodb"
	}
	if logPath == "" {
		logPath = path.Join("logs", name+".log")
	}
	appName = name
	serverHook = hook

	Zap = NewZap(logPath, EnvMode != "release")
	Zap.Info("zap init succeed", FileField())
}

// Sync flushes buffered entries, call it before exit
func Sync() {
	_ = Zap.Sync()
}

func NewZap(logPath string, debug bool) *zap.Logger {
	file := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    128, // MB
		MaxAge:     30,  // days
		MaxBackups: 30,
		Compress:   true,
	}
	console = consoleWriter{
		SendToStdout: EnvConsole,
		StdoutColor:  EnvColor,
		ServerHook:   serverHook,
	}

	var enabler zapcore.LevelEnabler = zapLevel
	if !debug {
		enabler = zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zap.InfoLevel && zapLevel.Enabled(l)
		})
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.NewMultiWriteSyncer(zapcore.AddSync(file), zapcore.AddSync(&console)),
		enabler,
	)
	return zap.New(core, zap.Fields(zap.String("app", appName)))
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		CallerKey:      "file",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(timeLayout),
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
}

// toZapLevel maps an xlog level on the zap level letting it through
func toZapLevel(level int) zapcore.Level {
	switch {
	case level <= DEBUG:
		return zap.DebugLevel
	case level == INFO:
		return zap.InfoLevel
	case level == WARNING:
		return zap.WarnLevel
	case level == ERROR:
		return zap.ErrorLevel
	}
	return zap.FatalLevel
}

func FileField() zap.Field {
	return zap.String("file", FileWithLineNum())
}

// FileWithLineNum returns dir/file.go:line of the first caller outside the
// logging packages
func FileWithLineNum() string {
	pcs := make([]uintptr, 16)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(2, pcs)])
	for {
		f, more := frames.Next()
		if !strings.Contains(f.File, "/pkg/xlog/") &&
			!strings.Contains(f.File, "/pkg/model/xgorm/") &&
			!strings.Contains(f.File, "gorm.io/gorm") {
			return filepath.Base(filepath.Dir(f.File)) + "/" + filepath.Base(f.File) + ":" + strconv.Itoa(f.Line)
		}
		if !more {
			return ""
		}
	}
}
