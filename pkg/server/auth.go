package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/raterudder/pvforecast/pkg/log"
)

var (
	errMissingAuth       = errors.New("missing authorization header")
	errInvalidAuthHeader = errors.New("invalid authorization header")
	errEmailNotAllowed   = errors.New("email not allowed")
)

func oidcEmailVerifier(v *oidc.IDTokenVerifier) tokenVerifier {
	return func(ctx context.Context, rawIDToken string) (string, error) {
		idToken, err := v.Verify(ctx, rawIDToken)
		if err != nil {
			return "", err
		}
		var claims struct {
			Email         string `json:"email"`
			EmailVerified bool   `json:"email_verified"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return "", fmt.Errorf("failed to parse claims: %w", err)
		}
		if !claims.EmailVerified {
			return "", fmt.Errorf("email %s is not verified", claims.Email)
		}
		return claims.Email, nil
	}
}

// authMiddleware tags the request logger and requires a valid ID token from
// an allowed email on every request that is not a read.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.Request(ctx, r)

		if r.Method == http.MethodGet || r.Method == http.MethodHead || s.bypassAuth {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		email, err := s.authenticate(ctx, r.Header.Get("Authorization"))
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "authentication failed", slog.Any("error", err))
			code := http.StatusUnauthorized
			if errors.Is(err, errEmailNotAllowed) {
				code = http.StatusForbidden
			}
			writeJSONError(w, err.Error(), code)
			return
		}
		log.Ctx(ctx).DebugContext(ctx, "authorized", slog.String("email", email))
		ctx = context.WithValue(ctx, emailContextKey, email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authenticate(ctx context.Context, authHeader string) (string, error) {
	if authHeader == "" {
		return "", errMissingAuth
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errInvalidAuthHeader
	}
	if s.verifyToken == nil {
		return "", errors.New("token verification is not configured")
	}
	email, err := s.verifyToken(ctx, strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	for _, allowed := range s.allowedEmails {
		if subtle.ConstantTimeCompare([]byte(email), []byte(allowed)) == 1 {
			return email, nil
		}
	}
	return "", fmt.Errorf("%w: %s", errEmailNotAllowed, email)
}
