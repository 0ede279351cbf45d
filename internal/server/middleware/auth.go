package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

type ctxKey int

const actorKey ctxKey = iota

// Actor returns the identity Auth attached to an authenticated request, or ""
// when auth is disabled. Handlers record it in the audit log.
func Actor(ctx context.Context) string {
	s, _ := ctx.Value(actorKey).(string)
	return s
}

// Auth guards the mutating endpoints with a static key passed either as a
// Bearer token or in X-API-Key. An empty apiKey disables the check.
// Authenticated requests carry "key:<fingerprint>" as their Actor, where the
// fingerprint is the first 8 hex digits of the key's SHA-256.
func Auth(apiKey string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	actor := "key:" + fingerprint(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			if err := checkToken(extractToken(r), want); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="fundingd"`)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
		})
	}
}

// checkToken compares token with want in constant time. Failures wrap
// domain.ErrUnauthorized.
func checkToken(token string, want []byte) error {
	if token == "" {
		return fmt.Errorf("missing authentication token: %w", domain.ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
		return fmt.Errorf("invalid authentication token: %w", domain.ErrUnauthorized)
	}
	return nil
}

func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

// extractToken reads "Authorization: Bearer <token>" or X-API-Key.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// writeError sends {"error": msg} with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
