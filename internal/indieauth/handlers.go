package indieauth

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/robida/federation/internal/store"
)

var consentTemplate = template.Must(template.New("consent").Parse(`<!doctype html>
<html><head><title>Authorize {{.ClientName}}</title></head>
<body>
<h1>{{.ClientName}} wants to access your site</h1>
<p>Requested scopes: {{.Scope}}</p>
<a href="{{.ContinueURL}}">Continue</a>
</body></html>`))

var loginTemplate = template.Must(template.New("login").Parse(`<!doctype html>
<html><head><title>Sign in</title></head>
<body>
<form method="post" action="/auth/login">
<input type="hidden" name="return_to" value="{{.ReturnTo}}">
<label>Password <input type="password" name="password"></label>
<button type="submit">Sign in</button>
</form>
</body></html>`))

// AuthorizeHandler serves GET /auth: it requires an authenticated owner
// session, validates the request, persists an opaque code, and renders the
// consent page whose Continue link redirects to the client with the code
// (section 4.3).
func (s *Server) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Authenticated(r) {
		redirectToLogin(w, r)
		return
	}

	p := parseAuthorizeParams(r)
	code, info, err := s.Authorize(r.Context(), p)
	if err != nil {
		invalidRequest(w, err.Error())
		return
	}

	continueURL, err := url.Parse(p.RedirectURI)
	if err != nil {
		invalidRequest(w, "malformed redirect_uri")
		return
	}
	q := continueURL.Query()
	q.Set("code", code.Code)
	if p.State != "" {
		q.Set("state", p.State)
	}
	q.Set("iss", s.metadataIssuer())
	continueURL.RawQuery = q.Encode()

	clientName := info.Name
	if clientName == "" {
		clientName = p.ClientID
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = consentTemplate.Execute(w, map[string]string{
		"ClientName":  clientName,
		"Scope":       p.Scope,
		"ContinueURL": continueURL.String(),
	})
}

func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	loginURL := "/auth/login?return_to=" + url.QueryEscape(r.URL.String())
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// LoginHandler serves the owner's login form (GET) and verifies the
// submitted password against OWNER_PASSWORD_HASH (POST), issuing the
// session cookie on success.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = loginTemplate.Execute(w, map[string]string{"ReturnTo": r.URL.Query().Get("return_to")})
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			invalidRequest(w, "malformed form body")
			return
		}
		if !VerifyOwnerPassword(r.PostForm.Get("password"), s.cfg.OwnerPasswordHash) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		if err := s.sessions.IssueCookie(w); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		returnTo := r.PostForm.Get("return_to")
		if returnTo == "" {
			returnTo = "/"
		}
		http.Redirect(w, r, returnTo, http.StatusFound)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// TokenHandler serves POST /token, dispatching on grant_type (section 4.3).
func (s *Server) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		invalidRequest(w, "malformed form body")
		return
	}
	grantType := r.PostForm.Get("grant_type")

	switch grantType {
	case "":
		invalidRequest(w, "grant_type is required")
	case "authorization_code":
		result, err := s.ExchangeCode(r.Context(), r.PostForm.Get("client_id"), r.PostForm.Get("redirect_uri"),
			r.PostForm.Get("code"), r.PostForm.Get("code_verifier"))
		if err != nil {
			writeGrantError(w, err)
			return
		}
		writeJSON(w, result)
	case "refresh_token":
		result, err := s.RefreshToken(r.Context(), r.PostForm.Get("refresh_token"), r.PostForm.Get("scope"))
		if err != nil {
			writeGrantError(w, err)
			return
		}
		writeJSON(w, result)
	default:
		unsupportedGrantType(w, fmt.Sprintf("grant_type %q is not supported", grantType))
	}
}

func writeGrantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrCodeNotFound), errors.Is(err, store.ErrCodeUsed), errors.Is(err, store.ErrCodeExpired),
		errors.Is(err, store.ErrTokenNotFound), errors.Is(err, store.ErrTokenExpired), errors.Is(err, store.ErrScopeNotSubset):
		invalidGrant(w, err.Error())
	default:
		invalidGrant(w, err.Error())
	}
}

// IntrospectHandler serves POST /introspect (section 4.3).
func (s *Server) IntrospectHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		invalidRequest(w, "malformed form body")
		return
	}
	result := s.Introspect(r.Context(), r.PostForm.Get("token"))
	writeJSON(w, result)
}

// RevokeHandler serves POST /revoke and the legacy ?action=revoke query
// form (section 4.3).
func (s *Server) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	token := r.PostForm.Get("token")
	if token == "" && r.URL.Query().Get("action") == "revoke" {
		token = r.URL.Query().Get("token")
	}
	_ = s.Revoke(r.Context(), token)
	w.WriteHeader(http.StatusOK)
}

// UserinfoHandler serves GET /userinfo (section 4.3): requires a Bearer
// token whose scope includes profile.
func (s *Server) UserinfoHandler(w http.ResponseWriter, r *http.Request) {
	bearer, ok := bearerToken(r)
	if !ok {
		invalidToken(w, "missing bearer token")
		return
	}
	_, err := s.Authenticate(r.Context(), bearer, "profile")
	if err != nil {
		writeAuthenticateError(w, err)
		return
	}
	writeJSON(w, s.ownerProfile())
}

// MetadataHandler serves GET /.well-known/oauth-authorization-server
// (RFC 8414, referenced from section 4.3's `iss` value).
func (s *Server) MetadataHandler(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimRight(s.cfg.ServerName, "/")
	writeJSON(w, map[string]any{
		"issuer":                            s.metadataURL,
		"authorization_endpoint":            base + "/auth",
		"token_endpoint":                    base + "/token",
		"introspection_endpoint":            base + "/introspect",
		"revocation_endpoint":               base + "/revoke",
		"userinfo_endpoint":                 base + "/userinfo",
		"scopes_supported":                  scopeNames(),
		"response_types_supported":          []string{"code"},
		"grant_types_supported":             []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":  []string{"S256"},
		"authorization_response_iss_parameter_supported": true,
	})
}

func scopeNames() []string {
	names := make([]string, 0, len(ScopeCatalog))
	for s := range ScopeCatalog {
		names = append(names, s)
	}
	return names
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = writeJSONBody(w, v)
}
