package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signed(t *testing.T, secret, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func echoIdentity(t *testing.T, got *Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func do(h http.Handler, authHeader string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	if authHeader != "" {
		r.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestGuestOK(t *testing.T) {
	v := NewVerifier(testSecret)
	valid := signed(t, testSecret, "alice", time.Now().Add(time.Hour))
	expired := signed(t, testSecret, "alice", time.Now().Add(-time.Hour))
	wrongKey := signed(t, "other-secret", "alice", time.Now().Add(time.Hour))

	tests := []struct {
		name      string
		header    string
		wantCode  int
		wantUser  string
		wantGuest bool
	}{
		{"no token", "", http.StatusOK, "", true},
		{"guest literal", "Bearer " + GuestToken, http.StatusOK, "", true},
		{"valid token", "Bearer " + valid, http.StatusOK, "alice", false},
		{"expired token", "Bearer " + expired, http.StatusForbidden, "", false},
		{"wrong key", "Bearer " + wrongKey, http.StatusForbidden, "", false},
	}
	for _, tt := range tests {
		var id Identity
		w := do(v.GuestOK(echoIdentity(t, &id)), tt.header)
		if w.Code != tt.wantCode {
			t.Errorf("%s: code = %d, want %d", tt.name, w.Code, tt.wantCode)
			continue
		}
		if w.Code == http.StatusOK && (id.UserID != tt.wantUser || id.Guest != tt.wantGuest) {
			t.Errorf("%s: identity = %+v", tt.name, id)
		}
	}
}

func TestRequired(t *testing.T) {
	v := NewVerifier(testSecret)
	valid := signed(t, testSecret, "bob", time.Now().Add(time.Hour))

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"guest literal is not authentication", "Bearer " + GuestToken, http.StatusUnauthorized},
		{"valid token", "Bearer " + valid, http.StatusOK},
		{"garbage", "Bearer not.a.jwt", http.StatusForbidden},
	}
	for _, tt := range tests {
		var id Identity
		w := do(v.Required(echoIdentity(t, &id)), tt.header)
		if w.Code != tt.wantCode {
			t.Errorf("%s: code = %d, want %d", tt.name, w.Code, tt.wantCode)
		}
		if tt.wantCode == http.StatusOK && id.UserID != "bob" {
			t.Errorf("%s: identity = %+v", tt.name, id)
		}
	}
}

func TestEmptySecretNeverAuthenticates(t *testing.T) {
	v := NewVerifier("")
	forged := signed(t, "", "victim", time.Now().Add(time.Hour))

	var id Identity
	w := do(v.Required(echoIdentity(t, &id)), "Bearer "+forged)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Required with empty secret: code = %d, want 401", w.Code)
	}

	id = Identity{}
	w = do(v.GuestOK(echoIdentity(t, &id)), "Bearer "+forged)
	if w.Code != http.StatusOK || !id.Guest || id.UserID != "" {
		t.Errorf("GuestOK with empty secret: code=%d identity=%+v, want guest", w.Code, id)
	}

	if _, err := v.Parse(forged); err == nil {
		t.Error("Parse with empty secret should fail")
	}
}

func TestTokenWithoutSubjectRejected(t *testing.T) {
	v := NewVerifier(testSecret)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Parse(s); err == nil {
		t.Error("token without subject should not parse")
	}
}
