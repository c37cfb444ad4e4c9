package indieauth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// SessionCookieName is the owner's login cookie, gating the consent page
// per the supplemental Owner Credential mechanism (SPEC_FULL.md section 3).
const SessionCookieName = "owner_session"

// sessionTTL matches the ambient JWT session lifetime used elsewhere in
// the stack.
const sessionTTL = 24 * time.Hour

// bcryptCost mirrors the ambient API-key hashing cost.
const bcryptCost = 10

type sessionClaims struct {
	Me string `json:"me"`
	jwt.RegisteredClaims
}

// HashOwnerPassword bcrypt-hashes the owner's password for storage in
// OWNER_PASSWORD_HASH.
func HashOwnerPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("indieauth: hash owner password: %w", err)
	}
	return string(hash), nil
}

// VerifyOwnerPassword compares password against the configured bcrypt hash.
func VerifyOwnerPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// SessionManager issues and validates the owner's login cookie.
type SessionManager struct {
	secret []byte
	me     string
	secure bool
}

// NewSessionManager returns a SessionManager signing cookies with secret
// and asserting identity me (the site's own https:// URL).
func NewSessionManager(secret, me string, secure bool) *SessionManager {
	return &SessionManager{secret: []byte(secret), me: me, secure: secure}
}

// IssueCookie sets a signed session cookie on w, valid for sessionTTL.
func (s *SessionManager) IssueCookie(w http.ResponseWriter) error {
	now := time.Now()
	claims := sessionClaims{
		Me: s.me,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
			Issuer:    "federation-core",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return fmt.Errorf("indieauth: sign session cookie: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  now.Add(sessionTTL),
	})
	return nil
}

// ClearCookie expires the session cookie (logout).
func (s *SessionManager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// Authenticated reports whether r carries a valid, unexpired owner session
// cookie.
func (s *SessionManager) Authenticated(r *http.Request) bool {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	var claims sessionClaims
	_, err = jwt.ParseWithClaims(cookie.Value, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("indieauth: unexpected signing method")
		}
		return s.secret, nil
	})
	return err == nil && claims.Me == s.me
}
