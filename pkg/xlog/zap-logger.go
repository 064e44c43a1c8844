package xlog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

const (
	colorReset   = "\033[0m"
	colorTrace   = "\033[0;36m"
	colorWarning = "\033[1;33m"
	colorError   = "\033[1;31m"
)

// consoleWriter receives the json entries zap produces and prints a short
// line with the component of named loggers, non-debug entries also go to
// the hook
type consoleWriter struct {
	SendToStdout bool
	StdoutColor  bool
	ServerHook   func(p []byte)
}

var console consoleWriter

func levelColor(level string) (string, string) {
	switch level {
	case "debug":
		return colorTrace, colorReset
	case "warn":
		return colorWarning, colorReset
	case "error", "dpanic", "panic", "fatal":
		return colorError, colorReset
	default:
		return "", ""
	}
}

func (l *consoleWriter) Write(p []byte) (n int, err error) {
	n = len(p)
	if !l.SendToStdout && l.ServerHook == nil {
		return
	}

	entry := map[string]interface{}{}
	if json.Unmarshal(p, &entry) != nil {
		return
	}
	level, _ := entry["level"].(string)

	if l.SendToStdout {
		extras := make([]string, 0)
		for k, v := range entry {
			if strings.HasPrefix(k, "x-") {
				extras = append(extras, k+":"+fmt.Sprint(v))
			}
		}
		sort.Strings(extras)
		tail := ""
		if len(extras) > 0 {
			tail = " { " + strings.Join(extras, " ") + " }"
		}

		pre, sub := "", ""
		if l.StdoutColor {
			pre, sub = levelColor(level)
		}
		tStr := fmt.Sprintf("%s", entry["time"])
		if t, err := time.Parse(timeLayout, tStr); err == nil {
			tStr = t.Format("2006/01/02 15:04:05")
		}
		if name, _ := entry["logger"].(string); name != "" {
			entry["msg"] = "[" + name + "] " + fmt.Sprint(entry["msg"])
		}

		fname, _ := entry["file"].(string)
		if len(fname) < 24 {
			fname = fname + strings.Repeat(" ", 24-len(fname))
		}
		if len(fname) > 24 {
			fname = fname[len(fname)-24:]
		}

		fmt.Printf(pre+"[%s] %s %s: %s%s"+sub+"\n", entry["app"], tStr, fname, entry["msg"], tail)
	}

	if l.ServerHook != nil && level != "debug" {
		l.ServerHook(p)
	}

	return
}
