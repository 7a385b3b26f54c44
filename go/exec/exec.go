/*
Package exec wraps os/exec so that the commands run by the toolchain packages
can be logged, bounded by a timeout and replaced in tests.

Compress a file to stdout:

	var out bytes.Buffer
	err := exec.Run(ctx, &exec.Command{
		Name:      "bzip2",
		Args:      []string{"-c", "--", file},
		Stdout:    &out,
		LogStderr: true,
	})

Inject a Run function for testing:

	mock := exec.CommandCollector{}
	ctx := exec.NewContext(context.Background(), mock.Run)
	CodeCallingRun(ctx)
	require.Equal(t, "bzip2 -c -- file", mock.DebugStrings()[0])
*/
package exec

import (
	"context"
	"io"
	osexec "os/exec"
	"time"

	"github.com/kballard/go-shellquote"
	"go.chromium.org/chromite/go/skerr"
	"go.chromium.org/chromite/go/sklog"
)

// WriteLog is an io.Writer which sends every write to LogFunc.
type WriteLog struct {
	LogFunc func(format string, args ...interface{})
}

func (wl WriteLog) Write(p []byte) (n int, err error) {
	wl.LogFunc("%s", string(p))
	return len(p), nil
}

// WriteWarningLog receives stderr of commands with LogStderr set.
var WriteWarningLog = WriteLog{LogFunc: sklog.Warningf}

type Command struct {
	// Name of the command, as passed to osexec.Command. Either a path or a
	// name found in PATH.
	Name string
	// Arguments of the command, not including Name.
	Args []string
	// See docs for osexec.Cmd.Stdin.
	Stdin io.Reader
	// Sends the stdout of the command to this Writer.
	Stdout io.Writer
	// If true, duplicates stderr of the command to WriteWarningLog.
	LogStderr bool
	// Sends the stderr of the command to this Writer.
	Stderr io.Writer
	// Time limit to wait for the command to finish. No limit if zero.
	Timeout time.Duration
	// Log the command line at info level rather than debug.
	Verbose bool
}

// DebugString returns the command line, shell-quoted, suitable for logging
// and for comparison in tests.
func DebugString(cmd *Command) string {
	return shellquote.Join(append([]string{cmd.Name}, cmd.Args...)...)
}

// squashWriters returns a writer which writes to every non-nil writer, or
// nil if there are none.
func squashWriters(writers ...io.Writer) io.Writer {
	nonNil := []io.Writer{}
	for _, writer := range writers {
		if writer != nil {
			nonNil = append(nonNil, writer)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return io.MultiWriter(nonNil...)
	}
}

func createCmd(ctx context.Context, command *Command) *osexec.Cmd {
	cmd := osexec.CommandContext(ctx, command.Name, command.Args...)
	cmd.Stdin = command.Stdin
	cmd.Stdout = command.Stdout
	var stderrLog io.Writer
	if command.LogStderr {
		stderrLog = WriteWarningLog
	}
	cmd.Stderr = squashWriters(stderrLog, command.Stderr)
	return cmd
}

// DefaultRun runs the command for real and waits for it to finish.
func DefaultRun(ctx context.Context, command *Command) error {
	if command.Timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, command.Timeout)
		defer cancel()
	}
	cmd := createCmd(ctx, command)
	if command.Verbose {
		sklog.Infof("Executing %s", DebugString(command))
	} else {
		sklog.Debugf("Executing %s", DebugString(command))
	}
	if err := cmd.Start(); err != nil {
		return skerr.Wrapf(err, "unable to start command %s", DebugString(command))
	}
	if err := cmd.Wait(); err != nil {
		if command.Timeout != 0 && ctx.Err() == context.DeadlineExceeded {
			return skerr.Fmt("Command killed since it took longer than %f secs: %s", command.Timeout.Seconds(), DebugString(command))
		}
		return skerr.Wrapf(err, "command failed: %s", DebugString(command))
	}
	return nil
}

type contextKeyType string

const contextKey contextKeyType = "chromiteExecContext"

type execContext struct {
	runFn func(context.Context, *Command) error
}

// NewContext returns a context.Context instance which uses the given function
// to run Commands.
func NewContext(ctx context.Context, runFn func(context.Context, *Command) error) context.Context {
	return context.WithValue(ctx, contextKey, &execContext{runFn: runFn})
}

func getCtx(ctx context.Context) *execContext {
	if v := ctx.Value(contextKey); v != nil {
		return v.(*execContext)
	}
	return &execContext{runFn: DefaultRun}
}

// Run runs command and waits for it to finish. If a timeout was specified,
// returns an error once the command has exceeded it.
func Run(ctx context.Context, command *Command) error {
	return getCtx(ctx).runFn(ctx, command)
}
