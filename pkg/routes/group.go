// Package routes declares HTTP routes as nested groups and registers them on
// a ServeMux.
package routes

import (
	"net/http"

	"github.com/JaimeStill/arbor/pkg/middleware"
)

// Group organizes routes under a common prefix. Middleware applies to every
// route in the group and its children, outermost first.
type Group struct {
	Prefix     string
	Routes     []Route
	Children   []Group
	Middleware []func(http.Handler) http.Handler
}

// Register adds all routes from the given groups to the mux.
func Register(mux *http.ServeMux, groups ...Group) {
	for _, group := range groups {
		registerGroup(mux, "", nil, group)
	}
}

func registerGroup(mux *http.ServeMux, parentPrefix string, inherited []func(http.Handler) http.Handler, group Group) {
	fullPrefix := parentPrefix + group.Prefix
	stack := append(inherited[:len(inherited):len(inherited)], group.Middleware...)

	for _, route := range group.Routes {
		chain := append(stack[:len(stack):len(stack)], route.Middleware...)
		mux.Handle(route.pattern(fullPrefix), middleware.Chain(chain...)(route.Handler))
	}
	for _, child := range group.Children {
		registerGroup(mux, fullPrefix, stack, child)
	}
}
