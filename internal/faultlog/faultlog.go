// File: internal/faultlog/faultlog.go

// Package faultlog maintains the append-only scrape error log. Each
// entry is an RFC3339 timestamp, a message, and a stack trace, with a
// blank line between entries. The file is the durable record of which
// scrape targets were skipped during a run; the console log is not.
package faultlog

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPath is where scrape failures land unless overridden.
const DefaultPath = "error_log.txt"

// Log appends failure entries to a single file.
type Log struct {
	path   string
	logger *zap.Logger

	mu sync.Mutex
}

// New creates a fault log writing to path. The file is created lazily
// on the first append.
func New(path string, logger *zap.Logger) *Log {
	if path == "" {
		path = DefaultPath
	}
	return &Log{
		path:   path,
		logger: logger.Named("faultlog"),
	}
}

// Append records one failure with the caller's stack. A write failure
// is logged to the console and otherwise swallowed; losing a fault
// entry must never take down the scrape batch it describes.
func (l *Log) Append(msg string, err error) {
	entry := fmt.Sprintf("%s\n%s: %v\n%s\n\n",
		time.Now().Format(time.RFC3339),
		msg,
		err,
		debug.Stack(),
	)

	l.mu.Lock()
	defer l.mu.Unlock()

	f, ferr := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if ferr != nil {
		l.logger.Error("Cannot open fault log file.", zap.String("path", l.path), zap.Error(ferr))
		return
	}
	defer f.Close()

	if _, werr := f.WriteString(entry); werr != nil {
		l.logger.Error("Cannot append to fault log file.", zap.String("path", l.path), zap.Error(werr))
	}
}

// Path returns the location of the log file.
func (l *Log) Path() string {
	return l.path
}
