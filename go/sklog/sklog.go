// Package sklog is the logging front end shared by the toolchain packages.
// Lines are written to stderr; debug lines only when verbose logging has
// been requested.
package sklog

import (
	"os"

	"go.chromium.org/chromite/go/sklog/sklogimpl"
	"go.chromium.org/chromite/go/sklog/stdlogging"
)

// A logger must be installed before the first line is logged.
func init() {
	SetVerbose(false)
}

// SetVerbose installs a stderr logger, which keeps debug lines iff verbose.
func SetVerbose(verbose bool) {
	sklogimpl.SetLogger(stdlogging.New(os.Stderr, verbose))
}

// Debugf logs with fmt.Sprintf formatting. Dropped unless verbose.
func Debugf(format string, v ...interface{}) {
	sklogimpl.Log(1, sklogimpl.Debug, format, v...)
}

func Infof(format string, v ...interface{}) {
	sklogimpl.Log(1, sklogimpl.Info, format, v...)
}

func Warningf(format string, v ...interface{}) {
	sklogimpl.Log(1, sklogimpl.Warning, format, v...)
}

func Errorf(format string, v ...interface{}) {
	sklogimpl.Log(1, sklogimpl.Error, format, v...)
}

// ErrorfWithDepth reports the line as coming from depth frames above the
// caller.
func ErrorfWithDepth(depth int, format string, v ...interface{}) {
	sklogimpl.Log(1+depth, sklogimpl.Error, format, v...)
}

// Fatal logs msg like fmt.Sprint and exits the program.
func Fatal(msg ...interface{}) {
	sklogimpl.Log(1, sklogimpl.Fatal, "", msg...)
}
