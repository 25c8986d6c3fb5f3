// Package problem renders RFC 7807 problem-details error responses.
package problem

import (
	"encoding/json"
	"net/http"
)

const (
	TypeValidation    = "https://hostwerk.io/problems/validation-error"
	TypeNotFound      = "https://hostwerk.io/problems/not-found"
	TypeConflict      = "https://hostwerk.io/problems/conflict"
	TypeQuotaExceeded = "https://hostwerk.io/problems/quota-exceeded"
	TypeInternal      = "https://hostwerk.io/problems/internal-error"
)

// Details is the wire form of an error response.
type Details struct {
	Type   string         `json:"type"`
	Title  string         `json:"title"`
	Detail string         `json:"detail,omitempty"`
	Status int            `json:"status"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// Write renders p with the problem+json media type.
func Write(w http.ResponseWriter, p Details) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// Validation renders a 400.
func Validation(w http.ResponseWriter, detail string) {
	Write(w, Details{Type: TypeValidation, Title: "Invalid request", Detail: detail, Status: http.StatusBadRequest})
}

// NotFound renders a 404.
func NotFound(w http.ResponseWriter, detail string) {
	Write(w, Details{Type: TypeNotFound, Title: "Not found", Detail: detail, Status: http.StatusNotFound})
}

// Conflict renders a 409.
func Conflict(w http.ResponseWriter, detail string) {
	Write(w, Details{Type: TypeConflict, Title: "Conflict", Detail: detail, Status: http.StatusConflict})
}

// Internal renders a 500 without leaking the underlying error.
func Internal(w http.ResponseWriter) {
	Write(w, Details{Type: TypeInternal, Title: "Internal error", Status: http.StatusInternalServerError})
}
