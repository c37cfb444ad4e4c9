package indieauth

import (
	"net/http/httptest"
	"testing"
)

func TestHashAndVerifyOwnerPassword(t *testing.T) {
	hash, err := HashOwnerPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashOwnerPassword() error = %v", err)
	}
	if !VerifyOwnerPassword("correct horse battery staple", hash) {
		t.Error("expected matching password to verify")
	}
	if VerifyOwnerPassword("wrong password", hash) {
		t.Error("expected mismatched password to fail verification")
	}
}

func TestSessionManager_IssueAndAuthenticate(t *testing.T) {
	sm := NewSessionManager("a-session-signing-secret-32-bytes", "https://example.com/", false)

	rec := httptest.NewRecorder()
	if err := sm.IssueCookie(rec); err != nil {
		t.Fatalf("IssueCookie() error = %v", err)
	}

	req := httptest.NewRequest("GET", "/auth", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}

	if !sm.Authenticated(req) {
		t.Error("expected request carrying the issued cookie to be authenticated")
	}
}

func TestSessionManager_RejectsUnsignedOrForeignCookie(t *testing.T) {
	sm := NewSessionManager("a-session-signing-secret-32-bytes", "https://example.com/", false)
	other := NewSessionManager("a-different-signing-secret-32-by", "https://example.com/", false)

	rec := httptest.NewRecorder()
	_ = other.IssueCookie(rec)

	req := httptest.NewRequest("GET", "/auth", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}

	if sm.Authenticated(req) {
		t.Error("expected cookie signed by a different secret to fail authentication")
	}
}

func TestSessionManager_NoCookie(t *testing.T) {
	sm := NewSessionManager("a-session-signing-secret-32-bytes", "https://example.com/", false)
	req := httptest.NewRequest("GET", "/auth", nil)
	if sm.Authenticated(req) {
		t.Error("expected request without a cookie to be unauthenticated")
	}
}
