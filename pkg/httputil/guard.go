package httputil

import "net/http"

// Guard wraps a handler with an authorization check for one function and
// command of the permission matrix.
type Guard func(functionID, commandID string) func(http.Handler) http.Handler

// AllowAll is a Guard that lets every request through
func AllowAll(string, string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

// Protect applies guard to h, treating a nil guard as AllowAll
func Protect(guard Guard, functionID, commandID string, h http.HandlerFunc) http.Handler {
	if guard == nil {
		return h
	}
	return guard(functionID, commandID)(h)
}

// CommandForMethod maps an HTTP method to the matrix command it requires
func CommandForMethod(method string) string {
	switch method {
	case http.MethodPost:
		return "CREATE"
	case http.MethodPut, http.MethodPatch:
		return "UPDATE"
	case http.MethodDelete:
		return "DELETE"
	default:
		return "VIEW"
	}
}
