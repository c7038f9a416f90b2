package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	id "trustgate/pkg/domain"
	"trustgate/pkg/requestcontext"
)

// TokenValidator validates a bearer token and returns the subject it was
// issued to.
type TokenValidator interface {
	ValidateToken(tokenString string) (id.SubjectID, error)
}

// JWTValidator validates HMAC-signed subject tokens issued by the platform's
// auth service. Only the subject claim matters here; scopes and the rest of
// the session model live with the issuer.
type JWTValidator struct {
	signingKey []byte
}

func NewJWTValidator(signingKey string) *JWTValidator {
	return &JWTValidator{signingKey: []byte(signingKey)}
}

func (v *JWTValidator) ValidateToken(tokenString string) (id.SubjectID, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return id.SubjectID{}, err
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return id.SubjectID{}, err
	}
	return id.ParseSubjectID(sub)
}

// RequireSubjectAuth authenticates the subject from the Authorization header
// and injects the subject ID into the request context.
func RequireSubjectAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			subjectID, err := validator.ValidateToken(tokenString)
			if err != nil {
				logger.WarnContext(r.Context(), "rejected subject token",
					"path", r.URL.Path,
					"error", err,
				)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			ctx := requestcontext.WithSubjectID(r.Context(), subjectID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
