package testutil

import (
	"context"
	"net/http"

	id "trustgate/pkg/domain"
	"trustgate/pkg/requestcontext"
)

// WithSubject adds a subject ID to the request context, simulating what the
// auth middleware does for authenticated requests. Invalid IDs are ignored.
func WithSubject(req *http.Request, subjectID string) *http.Request {
	if parsed, err := id.ParseSubjectID(subjectID); err == nil {
		return req.WithContext(requestcontext.WithSubjectID(req.Context(), parsed))
	}
	return req
}

// WithReviewer adds a reviewer ID to the request context, simulating the
// admin middleware. Invalid IDs are ignored.
func WithReviewer(req *http.Request, reviewerID string) *http.Request {
	if parsed, err := id.ParseReviewerID(reviewerID); err == nil {
		return req.WithContext(requestcontext.WithReviewerID(req.Context(), parsed))
	}
	return req
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
