// Package stdlogging implements sklogimpl.Logger on top of
// github.com/jcgregorio/logger, writing to a SyncWriter such as os.Stderr.
package stdlogging

import (
	logger "github.com/jcgregorio/logger"
	"go.chromium.org/chromite/go/sklog/sklogimpl"
)

type stdlog struct {
	logger  *logger.Logger
	verbose bool
}

// New returns a sklogimpl.Logger writing to dst. Debug lines are dropped
// unless verbose is set.
func New(dst logger.SyncWriter, verbose bool) sklogimpl.Logger {
	return &stdlog{
		logger: logger.NewFromOptions(&logger.Options{
			SyncWriter:   dst,
			DepthDelta:   3,
			IncludeDebug: verbose,
		}),
		verbose: verbose,
	}
}

// Log implements sklogimpl.Logger.
func (s *stdlog) Log(_ int, severity sklogimpl.Severity, format string, args ...interface{}) {
	if severity == sklogimpl.Debug && !s.verbose {
		return
	}
	plain, formatted := s.funcs(severity)
	if format == "" {
		plain(args...)
		return
	}
	formatted(format, args...)
}

// funcs picks the logger methods for severity. Unknown severities log as
// errors.
func (s *stdlog) funcs(severity sklogimpl.Severity) (func(...interface{}), func(string, ...interface{})) {
	switch severity {
	case sklogimpl.Debug:
		return s.logger.Debug, s.logger.Debugf
	case sklogimpl.Info:
		return s.logger.Info, s.logger.Infof
	case sklogimpl.Warning:
		return s.logger.Warning, s.logger.Warningf
	case sklogimpl.Fatal:
		return s.logger.Fatal, s.logger.Fatalf
	}
	return s.logger.Error, s.logger.Errorf
}

// Flush implements sklogimpl.Logger. Every line is synced as it is written.
func (s *stdlog) Flush() {}
