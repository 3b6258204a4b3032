// Package auth gates routes on JWT bearer tokens. The literal token
// "guest-token" is accepted on guest-ok routes; it identifies a guest but
// authorizes nothing, same as sending no token at all.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// GuestToken is the literal clients send for anonymous sessions.
const GuestToken = "guest-token"

// Identity is what the middleware attaches to the request context.
type Identity struct {
	UserID string
	Guest  bool
}

type ctxKey struct{}

// FromContext returns the identity set by the middleware. The zero guest
// identity is returned for requests that never passed through it.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(ctxKey{}).(Identity); ok {
		return id
	}
	return Identity{Guest: true}
}

// Verifier validates HS256 bearer tokens. An empty secret disables
// verification entirely: every real token is rejected and only guest access
// works, so a missing TUNESTREAM_JWT_SECRET can never be forged against.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Enabled reports whether token verification is configured.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Parse returns the subject of a valid token.
func (v *Verifier) Parse(tokenString string) (string, error) {
	if !v.Enabled() {
		return "", fmt.Errorf("token verification disabled")
	}
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}

// GuestOK admits everyone: a valid bearer token yields an authenticated
// identity, the guest-token literal or no token yields a guest, and only an
// invalid real token is rejected.
func (v *Verifier) GuestOK(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" || raw == GuestToken || !v.Enabled() {
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), Identity{Guest: true})))
			return
		}
		sub, err := v.Parse(raw)
		if err != nil {
			writeAuthError(w, http.StatusForbidden, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), Identity{UserID: sub})))
	})
}

// Required admits only valid bearer tokens: 401 when missing (guest-token
// counts as missing) or when verification is disabled, 403 when invalid.
func (v *Verifier) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !v.Enabled() {
			writeAuthError(w, http.StatusUnauthorized, "Authentication is not enabled on this server")
			return
		}
		raw := bearerToken(r)
		if raw == "" || raw == GuestToken {
			writeAuthError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		sub, err := v.Parse(raw)
		if err != nil {
			writeAuthError(w, http.StatusForbidden, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), Identity{UserID: sub})))
	})
}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return strings.TrimSpace(h)
	}
	return strings.TrimSpace(h[len(prefix):])
}

func writeAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
