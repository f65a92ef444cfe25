package middleware

import (
	"net/http"
)

// ShellContentSecurityPolicy allows the shell to load nothing from the bridge except JSON
// and the scanner websocket on the same origin.
const ShellContentSecurityPolicy = "default-src 'none'; connect-src 'self'; frame-ancestors 'none'; base-uri 'none'"

// SecurityHeaders sets the response headers every bridge response carries.
// Headers set:
//   - X-Content-Type-Options: nosniff
//   - X-Frame-Options: DENY
//   - Content-Security-Policy: ShellContentSecurityPolicy
//   - Referrer-Policy: no-referrer
//   - Cache-Control: no-store
//   - Permissions-Policy: geolocation=(self), camera=(self), microphone=()
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", ShellContentSecurityPolicy)
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		// The map needs the device position and the scanner needs the camera.
		h.Set("Permissions-Policy", "geolocation=(self), camera=(self), microphone=()")

		next.ServeHTTP(w, r)
	})
}
