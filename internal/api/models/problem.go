package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 error response, written with Content-Type application/problem+json.
type Problem struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`

	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`

	// Status is the HTTP status code for this occurrence of the problem.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`

	// Instance is the request path.
	Instance string `json:"instance,omitempty"`

	// TraceID is the request ID for correlating with logs.
	TraceID string `json:"traceId"`

	// Errors contains structured field validation errors.
	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError is a validation error on one request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Problem types.
const (
	ProblemTypeValidation           = "https://voltmap.app/problems/validation-error"
	ProblemTypeNotFound             = "https://voltmap.app/problems/not-found"
	ProblemTypeMethodNotAllowed     = "https://voltmap.app/problems/method-not-allowed"
	ProblemTypeConflict             = "https://voltmap.app/problems/conflict"
	ProblemTypeUnprocessable        = "https://voltmap.app/problems/unprocessable"
	ProblemTypeUnsupportedMediaType = "https://voltmap.app/problems/unsupported-media-type"
	ProblemTypeTooManyRequests      = "https://voltmap.app/problems/too-many-requests"
	ProblemTypeInternal             = "https://voltmap.app/problems/internal-error"
	ProblemTypeUnavailable          = "https://voltmap.app/problems/service-unavailable"
)

// NewProblem creates a Problem.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return &Problem{
		Type:    problemType,
		Title:   title,
		Status:  status,
		TraceID: traceID,
	}
}

// WithDetail sets Detail.
func (p *Problem) WithDetail(detail string) *Problem {
	p.Detail = detail
	return p
}

// WithInstance sets Instance.
func (p *Problem) WithInstance(instance string) *Problem {
	p.Instance = instance
	return p
}

// WithErrors sets the field errors.
func (p *Problem) WithErrors(errors []FieldError) *Problem {
	p.Errors = errors
	return p
}

// Write writes the Problem as JSON.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func newProblem(problemType, title string, status int, traceID, detail string) *Problem {
	return NewProblem(problemType, title, status, traceID).WithDetail(detail)
}

// NewBadRequest creates a 400 problem.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	return newProblem(ProblemTypeValidation, "Validation error", http.StatusBadRequest, traceID, detail).
		WithErrors(errors)
}

// NewNotFound creates a 404 problem.
func NewNotFound(traceID, detail string) *Problem {
	return newProblem(ProblemTypeNotFound, "Not found", http.StatusNotFound, traceID, detail)
}

// NewMethodNotAllowed creates a 405 problem.
func NewMethodNotAllowed(traceID, detail string) *Problem {
	return newProblem(ProblemTypeMethodNotAllowed, "Method not allowed", http.StatusMethodNotAllowed, traceID, detail)
}

// NewConflict creates a 409 problem. The bridge uses it for actions the current view does not allow.
func NewConflict(traceID, detail string) *Problem {
	return newProblem(ProblemTypeConflict, "Conflict", http.StatusConflict, traceID, detail)
}

// NewUnprocessable creates a 422 problem for well-formed requests carrying unusable data,
// such as a rejected scan payload or an out-of-range coordinate.
func NewUnprocessable(traceID, detail string) *Problem {
	return newProblem(ProblemTypeUnprocessable, "Unprocessable entity", http.StatusUnprocessableEntity, traceID, detail)
}

// NewUnsupportedMediaType creates a 415 problem.
func NewUnsupportedMediaType(traceID, detail string) *Problem {
	return newProblem(ProblemTypeUnsupportedMediaType, "Unsupported media type", http.StatusUnsupportedMediaType, traceID, detail)
}

// NewTooManyRequests creates a 429 problem.
func NewTooManyRequests(traceID, detail string) *Problem {
	return newProblem(ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests, traceID, detail)
}

// NewInternalError creates a 500 problem.
func NewInternalError(traceID, detail string) *Problem {
	return newProblem(ProblemTypeInternal, "Internal server error", http.StatusInternalServerError, traceID, detail)
}

// NewServiceUnavailable creates a 503 problem.
func NewServiceUnavailable(traceID, detail string) *Problem {
	return newProblem(ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable, traceID, detail)
}
