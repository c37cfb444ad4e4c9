package indieauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/robida/federation/internal/config"
	"github.com/robida/federation/internal/store"
)

// errInvalidToken and errInsufficientScope are the scope-guard's two
// failure modes (section 4.3: "returning invalid_token (401) or
// insufficient_scope (403) on failure").
var (
	errInvalidToken      = errors.New("invalid_token")
	errInsufficientScope = errors.New("insufficient_scope")
)

// ScopeCatalog is the fixed set of recognized Micropub/Media scopes
// (section 4.3).
var ScopeCatalog = map[string]bool{
	"create": true, "draft": true, "update": true, "delete": true, "undelete": true,
	"media": true, "read": true, "follow": true, "mute": true, "block": true,
	"channels": true, "profile": true, "email": true,
}

// Server is the IndieAuth authorization/token/introspection/revocation
// service described in SPEC_FULL.md section 4.3.
type Server struct {
	cfg      *config.Config
	codes    *store.AuthorizationCodeRepository
	tokens   *store.TokenRepository
	httpc    *http.Client
	sessions *SessionManager
	metadataURL string
}

// NewServer wires the IndieAuth endpoints against the shared OAuth
// repositories and the owner session manager.
func NewServer(cfg *config.Config, codes *store.AuthorizationCodeRepository, tokens *store.TokenRepository, httpc *http.Client, sessions *SessionManager) *Server {
	return &Server{
		cfg: cfg, codes: codes, tokens: tokens, httpc: httpc, sessions: sessions,
		metadataURL: strings.TrimRight(cfg.ServerName, "/") + "/.well-known/oauth-authorization-server",
	}
}

// AuthorizeParams is the parsed authorization request (section 4.3 table).
type AuthorizeParams struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Scope               string
	Me                  string
}

func parseAuthorizeParams(r *http.Request) AuthorizeParams {
	q := r.URL.Query()
	method := q.Get("code_challenge_method")
	if method == "" {
		method = "plain"
	}
	return AuthorizeParams{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: method,
		Scope:               q.Get("scope"),
		Me:                  q.Get("me"),
	}
}

// validScopes reports whether every space-separated token in scope is in
// ScopeCatalog.
func validScopes(scope string) bool {
	for _, s := range strings.Fields(scope) {
		if !ScopeCatalog[s] {
			return false
		}
	}
	return true
}

// Authorize validates an authorization request, dereferences client_id,
// and, on success, allocates and persists an opaque code. The caller is
// responsible for gating this on an authenticated owner session and for
// rendering the resulting consent page.
func (s *Server) Authorize(ctx context.Context, p AuthorizeParams) (*store.AuthorizationCode, *ClientInfo, error) {
	if p.ResponseType != "code" {
		return nil, nil, fmt.Errorf("invalid_request: response_type must be code")
	}
	if p.ClientID == "" || p.RedirectURI == "" {
		return nil, nil, fmt.Errorf("invalid_request: client_id and redirect_uri are required")
	}
	if !SupportedChallengeMethods[p.CodeChallengeMethod] {
		return nil, nil, fmt.Errorf("invalid_request: unsupported code_challenge_method %q", p.CodeChallengeMethod)
	}
	if p.Scope != "" && !validScopes(p.Scope) {
		return nil, nil, fmt.Errorf("invalid_request: unrecognized scope in %q", p.Scope)
	}

	info, err := FetchClientInfo(ctx, s.httpc, p.ClientID)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid_request: %w", err)
	}
	if !info.AllowsRedirect(p.RedirectURI) {
		return nil, nil, fmt.Errorf("invalid_request: redirect_uri not allowed for this client")
	}

	code, err := s.codes.Create(ctx, p.ClientID, p.RedirectURI, p.Scope, p.CodeChallenge, p.CodeChallengeMethod, p.Me)
	if err != nil {
		return nil, nil, fmt.Errorf("indieauth: persist authorization code: %w", err)
	}
	return code, info, nil
}

// metadataIssuer returns the `iss` value every code-redemption redirect
// must carry: the server's own metadata URL (section 4.3).
func (s *Server) metadataIssuer() string {
	return s.metadataURL
}

// ExchangeResult is the token endpoint's JSON response shape.
type ExchangeResult struct {
	Me           string `json:"me"`
	AccessToken  string `json:"access_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Profile      *Profile `json:"profile,omitempty"`
}

// Profile is the owner's h-card subset returned when scope contains profile.
type Profile struct {
	Name  string `json:"name,omitempty"`
	Photo string `json:"photo,omitempty"`
	URL   string `json:"url,omitempty"`
	Email string `json:"email,omitempty"`
}

// ExchangeCode redeems an authorization_code grant (section 4.3).
func (s *Server) ExchangeCode(ctx context.Context, clientID, redirectURI, code, verifier string) (*ExchangeResult, error) {
	ac, err := s.codes.Consume(ctx, code)
	if err != nil {
		return nil, err
	}
	if ac.ClientID != clientID || ac.RedirectURI != redirectURI {
		return nil, store.ErrCodeNotFound
	}
	if !VerifyPKCE(ac.CodeChallengeMethod, verifier, ac.CodeChallenge) {
		return nil, fmt.Errorf("invalid_grant: PKCE verification failed")
	}

	if ac.Scope == "" {
		return &ExchangeResult{Me: ac.Me}, nil
	}

	tok, err := s.tokens.Issue(ctx, ac.ClientID, ac.Me, ac.Scope)
	if err != nil {
		return nil, fmt.Errorf("indieauth: issue token: %w", err)
	}
	result := &ExchangeResult{
		Me: ac.Me, AccessToken: tok.AccessToken, TokenType: tok.TokenType,
		Scope: tok.Scope, ExpiresIn: int64(store.TokenTTL.Seconds()), RefreshToken: tok.RefreshToken,
	}
	if strings.Contains(tok.Scope, "profile") {
		result.Profile = s.ownerProfile()
	}
	return result, nil
}

// RefreshToken redeems a refresh_token grant (section 4.3).
func (s *Server) RefreshToken(ctx context.Context, refresh, requestedScope string) (*ExchangeResult, error) {
	tok, err := s.tokens.Refresh(ctx, refresh, requestedScope)
	if err != nil {
		return nil, err
	}
	result := &ExchangeResult{
		Me: tok.Me, AccessToken: tok.AccessToken, TokenType: tok.TokenType,
		Scope: tok.Scope, ExpiresIn: int64(store.TokenTTL.Seconds()), RefreshToken: tok.RefreshToken,
	}
	if strings.Contains(tok.Scope, "profile") {
		result.Profile = s.ownerProfile()
	}
	return result, nil
}

func (s *Server) ownerProfile() *Profile {
	return &Profile{
		Name:  s.cfg.Owner.Name,
		Email: s.cfg.Owner.Email,
		URL:   s.cfg.ServerName,
	}
}

// Introspection is the response shape of the introspection endpoint
// (section 4.3).
type Introspection struct {
	Active   bool   `json:"active"`
	Me       string `json:"me,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
	Iat      int64  `json:"iat,omitempty"`
}

// Introspect reports the status of an access token.
func (s *Server) Introspect(ctx context.Context, token string) *Introspection {
	tok, err := s.tokens.GetByAccessToken(ctx, token)
	if err != nil || isExpired(tok) {
		return &Introspection{Active: false}
	}
	return &Introspection{
		Active: true, Me: tok.Me, ClientID: tok.ClientID, Scope: tok.Scope,
		Exp: tok.ExpiresAt.Unix(), Iat: tok.CreatedAt.Unix(),
	}
}

func isExpired(tok *store.Token) bool {
	return tok == nil || tok.ExpiresAt.Before(time.Now().UTC())
}

// Revoke invalidates token if it matches an access or refresh token.
// Unknown tokens are not an error (RFC 7009).
func (s *Server) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.tokens.Revoke(ctx, token)
}

// Authenticate validates a Bearer access token and confirms it carries
// scope. Returns invalid_token or insufficient_scope sentinel errors.
func (s *Server) Authenticate(ctx context.Context, bearer, requiredScope string) (*store.Token, error) {
	tok, err := s.tokens.GetByAccessToken(ctx, bearer)
	if err != nil || isExpired(tok) {
		return nil, errInvalidToken
	}
	if requiredScope != "" && !hasScope(tok.Scope, requiredScope) {
		return nil, errInsufficientScope
	}
	return tok, nil
}

func hasScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}
