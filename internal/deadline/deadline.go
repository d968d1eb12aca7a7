// Package deadline bounds a single collaborator call.
package deadline

import (
	"context"
	"time"
)

// With derives a context limited to d. A non-positive d leaves ctx unbounded.
func With(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
