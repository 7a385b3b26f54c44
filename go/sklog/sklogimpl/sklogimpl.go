// Package sklogimpl holds the pluggable logger used by the sklog package.
// It is separate from sklog so that logger implementations may depend on
// sklog without an import cycle.
package sklogimpl

import (
	"sync"
)

// Severity of a log line.
type Severity int

const (
	Debug Severity = iota
	Info
	Warning
	Error
	Fatal
)

// String returns the name of the severity.
func (s Severity) String() string {
	switch s {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	}
	return "UNKNOWN"
}

// Logger is implemented by the log backends.
type Logger interface {
	// Log writes a single log line. depth is the number of stack frames to
	// skip to find the caller. An empty format means args are joined like
	// fmt.Sprint.
	Log(depth int, severity Severity, format string, args ...interface{})

	// Flush any buffered lines.
	Flush()
}

var (
	mtx    sync.RWMutex
	logger Logger
)

// SetLogger replaces the active logger.
func SetLogger(l Logger) {
	mtx.Lock()
	defer mtx.Unlock()
	logger = l
}

// Log forwards to the active logger.
func Log(depth int, severity Severity, format string, args ...interface{}) {
	mtx.RLock()
	defer mtx.RUnlock()
	logger.Log(depth+1, severity, format, args...)
}

// Flush forwards to the active logger.
func Flush() {
	mtx.RLock()
	defer mtx.RUnlock()
	logger.Flush()
}
