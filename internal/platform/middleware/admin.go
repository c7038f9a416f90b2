package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	id "trustgate/pkg/domain"
	"trustgate/pkg/requestcontext"
)

// RequireReviewer guards the admin review surface. The shared admin token
// authenticates the console; the reviewer ID header identifies the acting
// reviewer for claims and the audit trail.
func RequireReviewer(adminToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Admin-Token")
			if adminToken == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(adminToken)) != 1 {
				w.WriteHeader(http.StatusForbidden)
				return
			}

			reviewerID, err := id.ParseReviewerID(r.Header.Get("X-Reviewer-ID"))
			if err != nil {
				logger.WarnContext(r.Context(), "missing or invalid reviewer id",
					"path", r.URL.Path,
					"error", err,
				)
				w.WriteHeader(http.StatusForbidden)
				return
			}

			ctx := requestcontext.WithReviewerID(r.Context(), reviewerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
