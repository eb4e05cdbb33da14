package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// parseIntQuery extracts an int parameter from query string with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// writeJSON writes a JSON body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requireChannelQuery extracts and normalizes ?channel=, writing a 400 when it
// is absent.
func requireChannelQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	channel := normalizePathChannel(r.URL.Query().Get("channel"))
	if channel == "" {
		http.Error(w, "missing channel", http.StatusBadRequest)
		return "", false
	}
	return channel, true
}

// channelFromPath extracts and normalizes the channel segment after prefix,
// writing a 400 when it is absent or the path has extra segments.
func channelFromPath(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	if rest == "" || strings.Contains(rest, "/") {
		http.Error(w, "missing channel", http.StatusBadRequest)
		return "", false
	}
	return normalizePathChannel(rest), true
}

// normalizePathChannel lowercases and trims a channel identity. Channel names
// are case-insensitive everywhere in the system.
func normalizePathChannel(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}
