package httpx

import (
	"encoding/json"
	"net/http"
	"strings"
)

// WriteJSON writes v as an uncacheable JSON response.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// NoCache marks the response no-store, as RFC 6749 requires for token
// responses.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// ParseSpaceDelimitedFields splits a scope style list. Blank input gives nil.
func ParseSpaceDelimitedFields(s string) []string {
	if fields := strings.Fields(s); len(fields) > 0 {
		return fields
	}
	return nil
}
