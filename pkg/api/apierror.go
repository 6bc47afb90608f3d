// Package api — RFC 7807 Problem Detail error responses for the Conductor API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cleargrid-labs/conductor/pkg/budget"
	"github.com/cleargrid-labs/conductor/pkg/connector"
	"github.com/cleargrid-labs/conductor/pkg/guard"
	"github.com/cleargrid-labs/conductor/pkg/jobs"
	"github.com/cleargrid-labs/conductor/pkg/safety"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses must use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:   fmt.Sprintf("https://conductor.cleargrid.dev/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Command refused"
	}
	WriteError(w, http.StatusForbidden, "Forbidden", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteConflict writes a 409 error response.
func WriteConflict(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusConflict, "Conflict", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// WriteDomainError maps core error classes to their HTTP representation:
// safety denials are 403, budget breaches 429 (retriable with a fresh
// budget), guard overruns 504, upstream transport failures 502, unknown
// jobs 404, and duplicate terminal reports 409.
func WriteDomainError(w http.ResponseWriter, err error) {
	var transportErr *connector.TransportError

	switch {
	case errors.Is(err, safety.ErrDenied):
		WriteForbidden(w, err.Error())
	case errors.Is(err, budget.ErrExceeded):
		w.Header().Set("Retry-After", "1")
		WriteError(w, http.StatusTooManyRequests, "Budget Exceeded", err.Error())
	case errors.Is(err, guard.ErrTimeout):
		WriteError(w, http.StatusGatewayTimeout, "Gateway Timeout", err.Error())
	case errors.As(err, &transportErr):
		WriteError(w, http.StatusBadGateway, "Upstream Error",
			fmt.Sprintf("connector returned status %d", transportErr.Status))
	case errors.Is(err, jobs.ErrNotFound):
		WriteNotFound(w, err.Error())
	case errors.Is(err, jobs.ErrAlreadyTerminal):
		WriteConflict(w, err.Error())
	case errors.Is(err, connector.ErrNoActiveConnector):
		WriteError(w, http.StatusUnprocessableEntity, "No Active Connector", err.Error())
	case errors.Is(err, connector.ErrInvalidTransition):
		WriteConflict(w, err.Error())
	default:
		WriteInternal(w, err)
	}
}
