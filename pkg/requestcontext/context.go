// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// This package defines context keys and getter/setter functions for values that are
// typically set by middleware but consumed by services. By keeping this package free
// of net/http dependencies, services can import only what they need without pulling
// in HTTP-related code.
//
// Usage in services (read values):
//
//	subjectID := requestcontext.SubjectID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithSubjectID(ctx, subjectID)
//	ctx = requestcontext.WithRequestID(ctx, requestID)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "trustgate/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	subjectIDKey   struct{}
	reviewerIDKey  struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeySubjectID   = subjectIDKey{}
	ContextKeyReviewerID  = reviewerIDKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// SubjectID retrieves the authenticated subject ID from the context.
// Returns the zero value (nil UUID) if not set.
func SubjectID(ctx context.Context) id.SubjectID {
	if subjectID, ok := ctx.Value(ContextKeySubjectID).(id.SubjectID); ok {
		return subjectID
	}
	return id.SubjectID{}
}

// WithSubjectID injects a subject ID into the context.
func WithSubjectID(ctx context.Context, subjectID id.SubjectID) context.Context {
	return context.WithValue(ctx, ContextKeySubjectID, subjectID)
}

// ReviewerID retrieves the acting reviewer ID from the context.
// Returns the zero value (nil UUID) if not set.
func ReviewerID(ctx context.Context) id.ReviewerID {
	if reviewerID, ok := ctx.Value(ContextKeyReviewerID).(id.ReviewerID); ok {
		return reviewerID
	}
	return id.ReviewerID{}
}

// WithReviewerID injects a reviewer ID into the context.
func WithReviewerID(ctx context.Context, reviewerID id.ReviewerID) context.Context {
	return context.WithValue(ctx, ContextKeyReviewerID, reviewerID)
}

// RequestID retrieves the correlation ID assigned by middleware, or empty.
func RequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestID injects a correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now returns the request time from the context, falling back to the wall
// clock. Tests inject a fixed time with WithTime to make transitions
// deterministic.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a fixed request time into the context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
