package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// WriteJSON encodes v as the response body. Live data is never cacheable.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON", "status", status, "error", err)
	}
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"message": msg,
	})
}

// ParseLimit reads the optional "limit" query parameter. ok is false when the
// parameter is absent; otherwise n is in [1, max].
func ParseLimit(q url.Values, max int) (n int, ok bool, err error) {
	s := q.Get("limit")
	if s == "" {
		return 0, false, nil
	}
	n, err = strconv.Atoi(s)
	if err != nil {
		return 0, false, errors.New("invalid 'limit' (expected integer)")
	}
	if n <= 0 {
		return 0, false, errors.New("'limit' must be > 0")
	}
	if n > max {
		return 0, false, fmt.Errorf("'limit' must be <= %d", max)
	}
	return n, true, nil
}
