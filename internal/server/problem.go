package server

import (
	"encoding/json"
	"net/http"
)

const problemBase = "https://fleetpulse.dev/problems/"

// Problem types for RFC 7807 Problem Details responses.
const (
	ProblemTypeNotFound    = problemBase + "not-found"
	ProblemTypeBadRequest  = problemBase + "bad-request"
	ProblemTypeRateLimited = problemBase + "rate-limited"
	ProblemTypeUnavailable = problemBase + "unavailable"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// NewProblem builds a problem titled with the standard text for status.
func NewProblem(typ string, status int, detail, instance string) Problem {
	return Problem{
		Type:     typ,
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

// WriteProblem writes an RFC 7807 Problem Details JSON response.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NotFound writes a 404 problem response.
func NotFound(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, NewProblem(ProblemTypeNotFound, http.StatusNotFound, detail, instance))
}

// BadRequest writes a 400 problem response, used for missing query parameters.
func BadRequest(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, NewProblem(ProblemTypeBadRequest, http.StatusBadRequest, detail, instance))
}

// RateLimited writes a 429 problem response with a one second Retry-After.
func RateLimited(w http.ResponseWriter, detail, instance string) {
	w.Header().Set("Retry-After", "1")
	WriteProblem(w, NewProblem(ProblemTypeRateLimited, http.StatusTooManyRequests, detail, instance))
}

// ServiceUnavailable writes a 503 problem response.
func ServiceUnavailable(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, NewProblem(ProblemTypeUnavailable, http.StatusServiceUnavailable, detail, instance))
}
