package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

const (
	defaultListLimit = 100

	// maxRequestBody caps JSON request bodies at 1 MiB.
	maxRequestBody = 1 << 20
)

// DecodeJSON reads the request body into dst, rejecting unknown fields,
// oversized bodies, and trailing content. On failure the 400 response has
// already been written and false is returned.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}
	if dec.More() {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_json",
			Err:     errors.New("request body must be a single JSON value"),
		})
		return false
	}
	return true
}

// WriteJSON encodes v into a buffer before touching the wire, so an encoding
// failure becomes a clean 500 rather than a truncated 200.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// A short write here means the client is gone; nothing left to do.
	_, _ = buf.WriteTo(w)
}

// ErrorParams describes one error response: the HTTP status, a stable
// machine-readable code, and the underlying cause.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// WriteError renders p in the standard {"error","message"} envelope.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, map[string]string{
		"error":   p.ErrCode,
		"message": p.Err.Error(),
	})
}

// parseIntQuery parses a non-negative integer query parameter, falling back
// on absence or garbage.
func parseIntQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
