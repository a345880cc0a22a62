// Package middleware contains HTTP middleware for the VetSphere backend.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const operatorKey contextKey = "operator"

const (
	authCookieName = "vetsphere_admin"
	authCookieTTL  = 24 * time.Hour
)

// AdminAuth guards operator routes with an HMAC-signed session cookie.
type AdminAuth struct {
	secretKey []byte
}

// NewAdminAuth creates an AdminAuth with the given signing secret. An empty
// secret is replaced with a random key, which invalidates sessions across
// restarts.
func NewAdminAuth(secret string) *AdminAuth {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("vetsphere-fallback-key")
		}
	}

	return &AdminAuth{
		secretKey: key,
	}
}

// Middleware rejects requests without a valid operator session cookie and
// records the operator name in the request context.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		operator, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), operatorKey, operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetSessionCookie establishes an operator session for the given name.
func (a *AdminAuth) SetSessionCookie(w http.ResponseWriter, operator string) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.sign(operator),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *AdminAuth) sign(operator string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(operator))
	return operator + "." + hex.EncodeToString(mac.Sum(nil))
}

func (a *AdminAuth) parseCookie(cookieValue string) (string, bool) {
	operator, signature, found := strings.Cut(cookieValue, ".")
	if !found || operator == "" {
		return "", false
	}

	expected := a.sign(operator)
	_, expectedSig, _ := strings.Cut(expected, ".")

	if !hmac.Equal([]byte(signature), []byte(expectedSig)) {
		return "", false
	}

	return operator, true
}

// GetOperatorFromContext extracts the operator name from the request context.
func GetOperatorFromContext(ctx context.Context) (string, bool) {
	operator, ok := ctx.Value(operatorKey).(string)
	return operator, ok
}
