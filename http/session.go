package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-secure-stdlib/base62"
	"golang.org/x/time/rate"
)

const (
	sessionCookie = "belfry_session"
	csrfCookie    = "belfry_csrf"
	csrfField     = "csrf_token"

	sessionMaxAge = 8 * time.Hour
)

// SessionManager owns admin authentication and CSRF protection. Admin
// sessions ride an HMAC-signed cookie; CSRF uses a double-submit cookie
// compared against a form field.
type SessionManager struct {
	secret   []byte
	username string
	password string
	limiter  *rate.Limiter
}

// NewSessionManager builds a manager for a single admin account. Login
// attempts are throttled to blunt password guessing.
func NewSessionManager(username, password, secret string) *SessionManager {
	return &SessionManager{
		secret:   []byte(secret),
		username: username,
		password: password,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// GenerateSecret returns a random cookie secret for deployments that do
// not configure one.
func GenerateSecret() (string, error) {
	return base62.Random(32)
}

func (s *SessionManager) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyLogin checks the supplied credentials. Throttled attempts fail
// closed without inspecting the credentials.
func (s *SessionManager) VerifyLogin(username, password string) bool {
	if !s.limiter.Allow() {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
	return userOK && passOK
}

// IssueSession sets the signed session cookie for the admin user.
func (s *SessionManager) IssueSession(w http.ResponseWriter, username string) {
	payload := fmt.Sprintf("%s|%d", username, time.Now().UTC().Add(sessionMaxAge).Unix())
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    encoded + "." + s.sign(payload),
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSession removes the session cookie.
func (s *SessionManager) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// CurrentUser returns the authenticated admin username, or false when
// the request carries no valid session.
func (s *SessionManager) CurrentUser(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", false
	}

	encoded, sig, found := strings.Cut(cookie.Value, ".")
	if !found {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	payload := string(raw)
	if subtle.ConstantTimeCompare([]byte(s.sign(payload)), []byte(sig)) != 1 {
		return "", false
	}

	username, expiry, found := strings.Cut(payload, "|")
	if !found || username != s.username {
		return "", false
	}
	var unix int64
	if _, err := fmt.Sscanf(expiry, "%d", &unix); err != nil {
		return "", false
	}
	if time.Now().UTC().After(time.Unix(unix, 0)) {
		return "", false
	}
	return username, true
}

// CSRFToken returns the request's CSRF token, minting and setting the
// cookie when the visitor does not have one yet.
func (s *SessionManager) CSRFToken(w http.ResponseWriter, r *http.Request) (string, error) {
	if cookie, err := r.Cookie(csrfCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	token, err := base62.Random(24)
	if err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// CheckCSRF compares the double-submitted token from the form against
// the visitor's cookie.
func (s *SessionManager) CheckCSRF(r *http.Request) bool {
	cookie, err := r.Cookie(csrfCookie)
	if err != nil || cookie.Value == "" {
		return false
	}
	field := r.PostFormValue(csrfField)
	if field == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(field)) == 1
}
