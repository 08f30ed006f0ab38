// Package auth identifies the story owner from the auth provider's bearer
// token.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Owner is the authenticated user a request acts for.
type Owner struct {
	ID    string
	Email string
}

// Claims is the subset of the provider's access token the service reads.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	logger *slog.Logger
}

func NewVerifier(secret string, logger *slog.Logger) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret cannot be empty")
	}
	return &Verifier{secret: []byte(secret), logger: logger}, nil
}

// Verify checks the HS256 signature and expiry and returns the owner.
func (v *Verifier) Verify(tokenString string) (Owner, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Owner{}, ErrTokenExpired
		}
		return Owner{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Owner{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Owner{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	return Owner{ID: claims.Subject, Email: claims.Email}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// owner in the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := bearer(r)
		if !ok {
			writeUnauthorized(w, ErrMissingToken)
			return
		}
		owner, err := v.Verify(tok)
		if err != nil {
			v.logger.Debug("rejected token", "error", err, "path", r.URL.Path)
			if errors.Is(err, ErrTokenExpired) {
				writeUnauthorized(w, ErrTokenExpired)
				return
			}
			writeUnauthorized(w, ErrInvalidToken)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
	})
}

// RequireServiceToken guards operator endpoints with a static bearer token.
// An empty token disables the endpoints entirely.
func RequireServiceToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearer(r)
			if token == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeUnauthorized(w, ErrInvalidToken)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type ctxKey struct{}

func WithOwner(ctx context.Context, o Owner) context.Context {
	return context.WithValue(ctx, ctxKey{}, o)
}

// OwnerFrom returns the owner stored by Middleware.
func OwnerFrom(ctx context.Context) (Owner, bool) {
	o, ok := ctx.Value(ctxKey{}).(Owner)
	return o, ok && o.ID != ""
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
