// ABOUTME: Task correlation IDs for tracking one unit of work through the system
// ABOUTME: Provides With/ID for propagating the ID via context and tagging loggers

package taskctx

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// taskIDKey is the key type for storing the task ID in context.Context.
type taskIDKey struct{}

// New generates a short task ID. Eight hex characters is enough to
// disentangle concurrent log lines without dominating them.
func New() string {
	return uuid.New().String()[:8]
}

// With returns a new context carrying a freshly generated task ID,
// along with the ID itself.
func With(ctx context.Context) (context.Context, string) {
	id := New()
	return WithID(ctx, id), id
}

// WithID returns a new context carrying the given task ID.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

// ID retrieves the task ID from the context, returning "" if not present.
func ID(ctx context.Context) string {
	val := ctx.Value(taskIDKey{})
	if val == nil {
		return ""
	}
	id, ok := val.(string)
	if !ok {
		return ""
	}
	return id
}

// Logger returns base with the context's task ID attached as an attribute.
// If the context carries no task ID, base is returned unchanged.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	id := ID(ctx)
	if id == "" {
		return base
	}
	return base.With("task_id", id)
}
