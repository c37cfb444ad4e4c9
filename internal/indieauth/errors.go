package indieauth

import (
	"encoding/json"
	"net/http"
)

// oauthError writes the OAuth2/IndieAuth error body {"error": code,
// "error_description": description} with the appropriate status code,
// mirroring the ambient auth stack's AuthError/writeAuthError idiom.
func oauthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func invalidRequest(w http.ResponseWriter, description string) {
	oauthError(w, http.StatusBadRequest, "invalid_request", description)
}

func invalidGrant(w http.ResponseWriter, description string) {
	oauthError(w, http.StatusBadRequest, "invalid_grant", description)
}

func unsupportedGrantType(w http.ResponseWriter, description string) {
	oauthError(w, http.StatusBadRequest, "unsupported_grant_type", description)
}

func invalidToken(w http.ResponseWriter, description string) {
	oauthError(w, http.StatusUnauthorized, "invalid_token", description)
}

func insufficientScope(w http.ResponseWriter, description string) {
	oauthError(w, http.StatusForbidden, "insufficient_scope", description)
}
