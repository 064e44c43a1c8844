// Package filedb is a simple database based on files: every change is one
// JSON line appended to a log, and the log is the source of truth on restart.
package filedb

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fodb/pkg/xlog"

	"github.com/nxadm/tail"
)

var logger = xlog.Named("filedb")

var ErrClosed = errors.New("filedb closed")

// maxLine bounds a single log line when replaying
const maxLine = 4 << 20

type Filedb struct {
	File     *os.File
	FilePath string

	// Fsync every line, off by default like the write-ahead logs of the engine
	Fsync bool

	mu sync.Mutex
}

// Line is the envelope every log line is written in
type Line struct {
	LogID int64           `json:"logID"`
	Ts    int64           `json:"ts"` // unix micro of the write
	Op    string          `json:"op"`
	Data  json.RawMessage `json:"data"`
}

func New(filePath string) (fdb *Filedb, err error) {
	fdb = &Filedb{
		FilePath: filePath,
	}
	err = fdb.Open()

	return
}

func (f *Filedb) Open() (err error) {
	err = os.MkdirAll(filepath.Dir(f.FilePath), 0755)
	if err != nil {
		return
	}

	f.File, err = os.OpenFile(f.FilePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	return
}

func (f *Filedb) Close() (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.File == nil {
		return
	}

	err = f.File.Close()
	if err != nil {
		return
	}

	f.File = nil

	return
}

// Remove closes the file and deletes it
func (f *Filedb) Remove() (err error) {
	err = f.Close()
	if err != nil {
		return
	}
	err = os.Remove(f.FilePath)
	if os.IsNotExist(err) {
		err = nil
	}
	return
}

// WriteLine appends s, adding the line separator when missing
func (f *Filedb) WriteLine(s string) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.File == nil {
		return ErrClosed
	}

	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}

	_, err = f.File.WriteString(s)
	if err != nil {
		logger.Errorf("WriteLine %s err:%s", f.FilePath, err)
		return
	}

	if f.Fsync {
		err = f.File.Sync()
	}

	return
}

// Append writes v as the data of a Line
func (f *Filedb) Append(logID int64, op string, v interface{}) (err error) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	b, err := json.Marshal(Line{
		LogID: logID,
		Ts:    time.Now().UnixMicro(),
		Op:    op,
		Data:  data,
	})
	if err != nil {
		return
	}

	return f.WriteLine(string(b))
}

// ParseLine decodes one log line written by Append
func ParseLine(s string) (line Line, err error) {
	err = json.Unmarshal([]byte(s), &line)
	if err != nil {
		err = fmt.Errorf("parse line %q: %w", truncate(s, 64), err)
	}
	return
}

// ReadLastLine reads the last non-empty line of the file
func (f *Filedb) ReadLastLine() (s string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.File == nil {
		return "", ErrClosed
	}

	stat, err := f.File.Stat()
	if err != nil {
		return
	}

	// Since we don't know how many bytes the last line has, read backwards in
	// growing windows until a full line is inside one
	size := stat.Size()
	for window := int64(1024); ; window *= 4 {
		var off int64
		if size > window {
			off = size - window
		}

		b := make([]byte, size-off)
		_, err = f.File.ReadAt(b, off)
		if err != nil && err != io.EOF {
			return
		}
		err = nil

		txt := strings.TrimRight(string(b), " \n")
		i := strings.LastIndex(txt, "\n")
		if i >= 0 || off == 0 {
			s = txt[i+1:]
			return
		}
	}
}

// ReadFirstLine reads the first non-empty line of the file
func (f *Filedb) ReadFirstLine() (s string, err error) {
	err = f.Replay(func(line string) error {
		s = line
		return io.EOF
	})
	if err == io.EOF {
		return s, nil
	}
	if err == nil {
		err = io.EOF
	}
	return
}

// Replay calls fn for every non-empty line from the beginning of the file.
// An error from fn stops the replay and is returned as is.
func (f *Filedb) Replay(fn func(line string) error) (err error) {
	file, err := os.Open(f.FilePath)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err = fn(line); err != nil {
			return
		}
	}

	return scanner.Err()
}

// Tailf continuously monitors new data writes and passes them to the handler
// via chan, until ctx is done
func (f *Filedb) Tailf(ctx context.Context, ch chan<- string) (err error) {
	ta, err := tail.TailFile(f.FilePath, tail.Config{
		Follow:        true,
		ReOpen:        true,
		CompleteLines: true,
		Logger:        tail.DiscardingLogger,
	})
	if err != nil {
		return
	}
	defer ta.Cleanup()
	defer ta.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-ta.Lines:
			if !ok {
				return ta.Err()
			}
			if line.Err != nil {
				// Do not skip a broken line, the lines after it would be applied out of order
				err = line.Err
				return
			}
			if strings.TrimSpace(line.Text) == "" {
				continue
			}

			select {
			case ch <- line.Text:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

type PerformanceData struct {
	Name      string
	FirstTime time.Time
	LastTime  time.Time
	Size      int

	mu sync.Mutex
}

func (d *PerformanceData) add(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.FirstTime.IsZero() {
		d.FirstTime = time.Now()
	}
	d.LastTime = time.Now()
	d.Size += n
}

func (d *PerformanceData) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	rate := int64(0)
	if d.LastTime.Sub(d.FirstTime).Seconds() > 0 {
		rate = int64(float64(d.Size) / d.LastTime.Sub(d.FirstTime).Seconds())
	}

	return fmt.Sprintf("%s drained %d lines in %s at %s with rate %d/sec",
		d.Name, d.Size, d.LastTime.Sub(d.FirstTime), d.LastTime.Format(time.RFC3339), rate,
	)
}

func showPerformance(data *PerformanceData, ch chan struct{}) {
	for {
		select {
		case <-ch:
			return
		case <-time.After(30 * time.Second):
		}
		logger.Debugf("%s", data)
	}
}

// Drain reads lines from ch and hands them to handler in batches of at most
// batchSize, without waiting for a batch to fill. It returns when ch is
// closed or handler fails.
func (f *Filedb) Drain(ch <-chan string, batchSize int, handler func([]string) error) (err error) {
	logger.Debugf("Drain start with %s", f.FilePath)
	defer func() {
		if err != nil {
			logger.Errorf("Drain %s failed with err:%s", f.FilePath, err)
		} else {
			logger.Debugf("Drain end with %s", f.FilePath)
		}
	}()

	if batchSize <= 0 {
		batchSize = 100
	}

	perfData := &PerformanceData{
		Name: f.FilePath,
	}
	perfCh := make(chan struct{})
	defer close(perfCh)
	go showPerformance(perfData, perfCh)

	ss := make([]string, batchSize)

	for {
		size := 1
		if len(ch) > 1 {
			if len(ch) < len(ss) {
				size = len(ch)
			} else {
				size = len(ss)
			}
		}

		var ok bool
		for i := 0; i < size; i++ {
			ss[i], ok = <-ch
			if !ok {
				if i > 0 {
					err = handler(ss[:i])
				}
				return
			}
		}

		err = handler(ss[:size])
		if err != nil {
			return
		}

		perfData.add(size)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
