package mcp

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// APIKeyHeader is accepted as an alternative to a bearer token.
const APIKeyHeader = "X-API-Key"

// RequireAPIKey guards the MCP transport with a static key, sent either as
// "Authorization: Bearer <key>" or in the X-API-Key header. An empty apiKey
// disables the check.
func RequireAPIKey(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := sha256.Sum256([]byte(apiKey))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := credential(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="mcp"`)
			writeAuthError(w, http.StatusUnauthorized, "missing api key")
			return
		}
		if !keyMatches(want, token) {
			writeAuthError(w, http.StatusForbidden, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func credential(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			token = strings.TrimSpace(token)
			return token, token != ""
		}
		return "", false
	}
	key := r.Header.Get(APIKeyHeader)
	return key, key != ""
}

// keyMatches compares digests so neither content nor length of the
// configured key leaks through timing.
func keyMatches(want [sha256.Size]byte, token string) bool {
	got := sha256.Sum256([]byte(token))
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
