// Package indieauth implements the OAuth2 authorization-code-with-PKCE
// profile described in SPEC_FULL.md section 4.3: authorization, token,
// introspection, revocation, userinfo, and the owner's login session.
package indieauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// SupportedChallengeMethods is the server's advertised code_challenge_method
// set (section 4.3: "default: {S256}").
var SupportedChallengeMethods = map[string]bool{"S256": true}

// VerifyPKCE reports whether verifier satisfies challenge under method.
// S256 compares base64url(sha256(verifier)), padding stripped, against
// challenge; plain compares verifier directly against challenge.
func VerifyPKCE(method, verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	switch method {
	case "S256", "":
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
	case "plain":
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	default:
		return false
	}
}
