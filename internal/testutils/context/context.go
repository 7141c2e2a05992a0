package context

import (
	"context"
	"testing"
	"time"
)

// WithTest bounds ctx by the deadline of the test.
//
// The deadline is 1 second before the one of the test, to leave time for
// clean-ups (temporary caches, servers).
func WithTest(ctx context.Context, t *testing.T) (context.Context, func()) {
	if deadline, ok := t.Deadline(); ok {
		return context.WithDeadline(ctx, deadline.Add(-time.Second))
	}
	return ctx, func() {}
}
