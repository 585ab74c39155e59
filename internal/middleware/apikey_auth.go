package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// APIKeyAuth authenticates requests by hashing the Bearer token (SHA-256)
// and matching it against the configured key hashes. Keys never touch the
// database; rotation is a config change.
func APIKeyAuth(keyHashes []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(keyHashes))
	for _, h := range keyHashes {
		allowed[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[hashKey(raw)]; !ok {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// HashKey returns the hex SHA-256 of a raw API key. Exported so operators can
// derive config values from issued keys.
func HashKey(raw string) string {
	return hashKey(raw)
}

func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
