// ABOUTME: Operator identity propagation through request handlers
// ABOUTME: Provides WithSubject/SubjectFromContext for context plumbing

package auth

import (
	"context"
)

// subjectKey is the key type for storing the operator subject in context.Context.
type subjectKey struct{}

// WithSubject returns a new context with the authenticated operator attached.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext retrieves the authenticated operator from the context,
// returning "" if the request was not authenticated.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey{}).(string)
	return subject
}
