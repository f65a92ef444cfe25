package middleware

import (
	"mime"
	"net/http"

	"github.com/voltmap/voltmap/internal/api/models"
)

// ContentTypeJSON defaults the response Content-Type to application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// RequireJSON rejects POST, PUT and PATCH bodies that are declared as anything but JSON.
// A missing Content-Type is allowed.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			if ct := r.Header.Get("Content-Type"); ct != "" {
				mediaType, _, err := mime.ParseMediaType(ct)
				if err != nil || mediaType != "application/json" {
					problem := models.NewUnsupportedMediaType(GetRequestID(r.Context()), "Content-Type must be application/json")
					problem.Instance = r.URL.Path
					problem.Write(w)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// NotFound writes a 404 problem for unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	problem := models.NewNotFound(GetRequestID(r.Context()), "no route for "+r.Method+" "+r.URL.Path)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// MethodNotAllowed writes a 405 problem.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := models.NewMethodNotAllowed(GetRequestID(r.Context()), r.Method+" is not supported on "+r.URL.Path)
	problem.Instance = r.URL.Path
	problem.Write(w)
}
