// Package httpx carries the JSON response and decoding conventions shared
// by all HTTP handlers.
package httpx

import (
	"encoding/json"
	"io"
	"net/http"
)

// maxBodyBytes caps request bodies accepted by DecodeJSON. Ledger payloads
// are small; anything larger is a client error.
const maxBodyBytes = 1 << 20

// ProblemDetail is an RFC 7807 error body.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON writes data as a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, "application/json", data)
}

// Problem writes an RFC 7807 error response under its dedicated media type.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	write(w, status, "application/problem+json", ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func write(w http.ResponseWriter, status int, contentType string, data any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// DecodeJSON reads a JSON request body into target. Bodies beyond
// maxBodyBytes fail to decode.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(target)
}
