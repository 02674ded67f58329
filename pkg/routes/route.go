package routes

import "net/http"

// Route binds an HTTP method and pattern to a handler. Middleware wraps only
// this route and runs inside any group middleware.
type Route struct {
	Method     string
	Pattern    string
	Handler    http.HandlerFunc
	Middleware []func(http.Handler) http.Handler
}

func (r Route) pattern(prefix string) string {
	if r.Method == "" {
		return prefix + r.Pattern
	}
	return r.Method + " " + prefix + r.Pattern
}
