// Package now returns the current time, which tests may pin through the
// context so that profile ages and date stamps are deterministic.
package now

import (
	"context"
	"time"
)

type contextKeyType string

const contextKey contextKeyType = "chromiteNow"

// Now returns the time stored by WithTime, or time.Now() if there is none.
func Now(ctx context.Context) time.Time {
	if ts, ok := ctx.Value(contextKey).(time.Time); ok {
		return ts
	}
	return time.Now()
}

// WithTime returns a context whose Now() is fixed at ts.
func WithTime(ctx context.Context, ts time.Time) context.Context {
	return context.WithValue(ctx, contextKey, ts)
}

// Since returns the time elapsed between t and Now(ctx).
func Since(ctx context.Context, t time.Time) time.Duration {
	return Now(ctx).Sub(t)
}
