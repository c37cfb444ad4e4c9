package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// AccessTokenPrefix and RefreshTokenPrefix are prepended to minted bearer
// tokens, per SPEC_FULL.md section 6 ("Access tokens prefixed ra_ ...
// refresh tokens prefixed rr_").
const (
	AccessTokenPrefix  = "ra_"
	RefreshTokenPrefix = "rr_"

	// AuthorizationCodeTTL is the single-use code's lifetime (section 3).
	AuthorizationCodeTTL = 10 * time.Minute
	// TokenTTL is an access token's lifetime (section 6: "Token expiry 3600s").
	TokenTTL = 1 * time.Hour
)

// hashToken deterministically hashes a bearer token/code for storage and
// lookup, the same SHA-256 idiom the refresh-token store uses: unlike
// bcrypt, it supports an indexed equality lookup, which opaque tokens
// looked up directly by value require.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// generateOpaqueToken returns prefix + 128 bits of crypto/rand randomness
// encoded as 32 lowercase hex characters.
func generateOpaqueToken(prefix string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate opaque token: %w", err)
	}
	return prefix + hex.EncodeToString(b), nil
}

// AuthorizationCode is a single-use OAuth2 authorization code (section 3).
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Me                  string
	Used                bool
	ExpiresAt           time.Time
	CreatedAt           time.Time
}

// AuthorizationCodeRepository persists codes issued by the authorization
// endpoint and consumed by the token endpoint (section 4.3).
type AuthorizationCodeRepository struct{ pool *Pool }

func NewAuthorizationCodeRepository(pool *Pool) *AuthorizationCodeRepository {
	return &AuthorizationCodeRepository{pool: pool}
}

// Create allocates a fresh opaque code and persists it with a 10-minute
// expiry (section 4.3: "On valid request: allocate a 128-bit opaque code").
func (r *AuthorizationCodeRepository) Create(ctx context.Context, clientID, redirectURI, scope, challenge, method, me string) (*AuthorizationCode, error) {
	code, err := generateOpaqueToken("")
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	ac := &AuthorizationCode{
		Code: code, ClientID: clientID, RedirectURI: redirectURI, Scope: scope,
		CodeChallenge: challenge, CodeChallengeMethod: method, Me: me,
		ExpiresAt: now.Add(AuthorizationCodeTTL), CreatedAt: now,
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO oauth_codes (code, client_id, redirect_uri, scope, code_challenge, code_challenge_method, me, used, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $9)`,
		ac.Code, ac.ClientID, ac.RedirectURI, ac.Scope, ac.CodeChallenge, ac.CodeChallengeMethod, ac.Me, ac.ExpiresAt, ac.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create authorization code: %w", err)
	}
	return ac, nil
}

// Consume looks up code, verifies it is unused and unexpired, and marks
// it used in the same statement (atomic single-use per section 3's
// invariant: "a second use MUST fail with invalid_grant").
func (r *AuthorizationCodeRepository) Consume(ctx context.Context, code string) (*AuthorizationCode, error) {
	var ac AuthorizationCode
	err := r.pool.QueryRow(ctx, `
		UPDATE oauth_codes SET used = true
		WHERE code = $1 AND used = false
		RETURNING code, client_id, redirect_uri, scope, code_challenge, code_challenge_method, me, used, expires_at, created_at`,
		code).Scan(&ac.Code, &ac.ClientID, &ac.RedirectURI, &ac.Scope, &ac.CodeChallenge, &ac.CodeChallengeMethod, &ac.Me, &ac.Used, &ac.ExpiresAt, &ac.CreatedAt)
	if err != nil {
		if isNoRowsError(err) {
			exists, existsErr := r.exists(ctx, code)
			if existsErr == nil && exists {
				return nil, ErrCodeUsed
			}
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}
	if time.Now().UTC().After(ac.ExpiresAt) {
		return nil, ErrCodeExpired
	}
	return &ac, nil
}

func (r *AuthorizationCodeRepository) exists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM oauth_codes WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

// Token is an access/refresh token pair, per section 3's OAuth Token entity.
type Token struct {
	AccessToken   string
	RefreshToken  string
	ClientID      string
	Me            string
	TokenType     string
	Scope         string
	ExpiresAt     time.Time
	LastRefreshAt time.Time
	CreatedAt     time.Time
}

// TokenRepository persists the access/refresh pair minted on code
// exchange and rotated on refresh (section 4.3).
type TokenRepository struct{ pool *Pool }

func NewTokenRepository(pool *Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

// Issue mints a fresh ra_/rr_ pair and persists it, hashed, keyed for
// lookup by either hash.
func (r *TokenRepository) Issue(ctx context.Context, clientID, me, scope string) (*Token, error) {
	access, err := generateOpaqueToken(AccessTokenPrefix)
	if err != nil {
		return nil, err
	}
	refresh, err := generateOpaqueToken(RefreshTokenPrefix)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	tok := &Token{
		AccessToken: access, RefreshToken: refresh, ClientID: clientID, Me: me,
		TokenType: "Bearer", Scope: scope,
		ExpiresAt: now.Add(TokenTTL), LastRefreshAt: now, CreatedAt: now,
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO oauth_tokens (access_token_hash, refresh_token_hash, client_id, me, token_type, scope, expires_at, last_refresh_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		hashToken(access), hashToken(refresh), clientID, me, tok.TokenType, scope, tok.ExpiresAt, tok.LastRefreshAt, tok.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return tok, nil
}

// GetByAccessToken looks up a row by access token hash, regardless of
// expiry (callers such as Introspect and Authenticate check expiry).
func (r *TokenRepository) GetByAccessToken(ctx context.Context, access string) (*Token, error) {
	return r.getBy(ctx, "access_token_hash", hashToken(access))
}

// GetByRefreshToken looks up a row by refresh token hash, regardless of
// expiry (the refresh grant itself checks expiry per section 4.3).
func (r *TokenRepository) GetByRefreshToken(ctx context.Context, refresh string) (*Token, error) {
	return r.getBy(ctx, "refresh_token_hash", hashToken(refresh))
}

func (r *TokenRepository) getBy(ctx context.Context, column, hash string) (*Token, error) {
	var t Token
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT access_token_hash, refresh_token_hash, client_id, me, token_type, scope, expires_at, last_refresh_at, created_at
		FROM oauth_tokens WHERE %s = $1`, column), hash)
	var accessHash, refreshHash string
	err := row.Scan(&accessHash, &refreshHash, &t.ClientID, &t.Me, &t.TokenType, &t.Scope, &t.ExpiresAt, &t.LastRefreshAt, &t.CreatedAt)
	if err != nil {
		if isNoRowsError(err) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return &t, nil
}

// Refresh looks up by refresh token, rejects an expired grant or a
// requested scope wider than the original, then atomically replaces both
// tokens, extends expiry, and preserves created_at (section 3 invariant
// and section 4.3's refresh_token grant dispatch).
func (r *TokenRepository) Refresh(ctx context.Context, refresh, requestedScope string) (*Token, error) {
	old, err := r.GetByRefreshToken(ctx, refresh)
	if err != nil {
		return nil, err
	}
	if time.Now().UTC().After(old.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	scope := old.Scope
	if requestedScope != "" {
		if !isScopeSubset(requestedScope, old.Scope) {
			return nil, ErrScopeNotSubset
		}
		scope = requestedScope
	}

	access, err := generateOpaqueToken(AccessTokenPrefix)
	if err != nil {
		return nil, err
	}
	newRefresh, err := generateOpaqueToken(RefreshTokenPrefix)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	newExpiresAt := now.Add(TokenTTL)
	if newExpiresAt.Before(old.ExpiresAt) {
		newExpiresAt = old.ExpiresAt
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE oauth_tokens SET
			access_token_hash = $2, refresh_token_hash = $3, scope = $4,
			expires_at = $5, last_refresh_at = $6
		WHERE refresh_token_hash = $1`,
		hashToken(refresh), hashToken(access), hashToken(newRefresh), scope, newExpiresAt, now)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrTokenNotFound
	}

	return &Token{
		AccessToken: access, RefreshToken: newRefresh, ClientID: old.ClientID, Me: old.Me,
		TokenType: "Bearer", Scope: scope, ExpiresAt: newExpiresAt, LastRefreshAt: now, CreatedAt: old.CreatedAt,
	}, nil
}

// Revoke sets expires_at = now for a matching access or refresh token.
// Section 4.3: "Unknown tokens return 200 (per RFC 7009)" is enforced by
// the caller treating a zero-rows update as success, not an error.
func (r *TokenRepository) Revoke(ctx context.Context, token string) error {
	hash := hashToken(token)
	_, err := r.pool.Exec(ctx, `
		UPDATE oauth_tokens SET expires_at = now()
		WHERE access_token_hash = $1 OR refresh_token_hash = $1`, hash)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// isScopeSubset reports whether every space-separated scope token in
// requested also appears in original.
func isScopeSubset(requested, original string) bool {
	have := map[string]bool{}
	for _, s := range strings.Fields(original) {
		have[s] = true
	}
	for _, s := range strings.Fields(requested) {
		if !have[s] {
			return false
		}
	}
	return true
}
