// Package skerr provides errors annotated with the stack trace of the
// location where they were created or wrapped.
package skerr

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// StackTrace identifies a single frame of a call stack.
type StackTrace struct {
	File string
	Line int
}

// String returns "<file>:<line>".
func (st *StackTrace) String() string {
	return fmt.Sprintf("%s:%d", st.File, st.Line)
}

// CallStack returns the call stack of the caller, skipping the given number
// of frames. At most height frames are returned.
func CallStack(height, skip int) []StackTrace {
	pcs := make([]uintptr, height)
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])
	rv := make([]StackTrace, 0, n)
	for {
		frame, more := frames.Next()
		dir, file := filepath.Split(frame.File)
		rv = append(rv, StackTrace{
			File: filepath.Join(filepath.Base(dir), file),
			Line: frame.Line,
		})
		if !more {
			break
		}
	}
	return rv
}

// ErrorWithContext is an error annotated with a stack trace and any number of
// context messages.
type ErrorWithContext struct {
	// Wrapped is the original error. Never nil.
	Wrapped error
	// CallStack captures the stack where Wrap was first called.
	CallStack []StackTrace
	// Context holds messages added by Wrapf, innermost last.
	Context []string
}

// Error implements the error interface.
func (err *ErrorWithContext) Error() string {
	var out strings.Builder
	for i := len(err.Context) - 1; i >= 0; i-- {
		out.WriteString(err.Context[i])
		out.WriteString(": ")
	}
	out.WriteString(err.Wrapped.Error())
	out.WriteString(". At")
	for _, st := range err.CallStack {
		out.WriteString(" ")
		out.WriteString(st.String())
	}
	return out.String()
}

// Unwrap allows errors.Is and errors.As to see the wrapped error.
func (err *ErrorWithContext) Unwrap() error {
	return err.Wrapped
}

// Wrap adds stack trace info to err, if not already present. The return
// value is nil iff err is nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var ewc *ErrorWithContext
	if errors.As(err, &ewc) {
		return err
	}
	return &ErrorWithContext{
		Wrapped:   err,
		CallStack: CallStack(5, 2),
	}
}

// Wrapf adds context and stack trace info to err. Existing stack trace info
// is preserved. The return value is nil iff err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	var ewc *ErrorWithContext
	if errors.As(err, &ewc) && ewc == err {
		return &ErrorWithContext{
			Wrapped:   ewc.Wrapped,
			CallStack: ewc.CallStack,
			Context:   append(append([]string{}, ewc.Context...), msg),
		}
	}
	return &ErrorWithContext{
		Wrapped:   err,
		CallStack: CallStack(5, 2),
		Context:   []string{msg},
	}
}

// Fmt is equivalent to Wrap(fmt.Errorf(...)).
func Fmt(format string, args ...interface{}) error {
	return &ErrorWithContext{
		Wrapped:   fmt.Errorf(format, args...),
		CallStack: CallStack(5, 2),
	}
}

// Unwrap returns the original error if err was wrapped by this package,
// otherwise err itself.
func Unwrap(err error) error {
	if ewc, ok := err.(*ErrorWithContext); ok {
		return ewc.Wrapped
	}
	return err
}
