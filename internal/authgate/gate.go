// Package authgate decides whether a route may render for the current
// session or must redirect to sign-in.
package authgate

import (
	"path"
	"strings"
)

// SignInRoute is the redirect target for unauthenticated visitors.
const SignInRoute = "/signin"

// PublicRoutes are reachable without a token.
var PublicRoutes = []string{"/", "/signin", "/signup", "/product"}

// Redirect applies the default policy. It returns the sign-in route and true
// when token is empty and routePath is not public.
func Redirect(token, routePath string) (string, bool) {
	return defaultGate.Redirect(token, routePath)
}

var defaultGate = New(PublicRoutes, SignInRoute)

// Gate is a route policy with a configurable allow-list.
type Gate struct {
	public map[string]struct{}
	signIn string
}

// New builds a gate. The sign-in route is always added to the allow-list
// so a redirect never loops.
func New(public []string, signIn string) Gate {
	if strings.TrimSpace(signIn) == "" {
		signIn = SignInRoute
	}
	signIn = Clean(signIn)
	g := Gate{public: make(map[string]struct{}, len(public)+1), signIn: signIn}
	for _, p := range public {
		g.public[Clean(p)] = struct{}{}
	}
	g.public[signIn] = struct{}{}
	return g
}

// Redirect reports whether routePath must be redirected for token.
func (g Gate) Redirect(token, routePath string) (string, bool) {
	if token != "" {
		return "", false
	}
	if g.Public(routePath) {
		return "", false
	}
	return g.signIn, true
}

// Public reports whether routePath is on the allow-list.
func (g Gate) Public(routePath string) bool {
	_, ok := g.public[Clean(routePath)]
	return ok
}

// SignIn returns the redirect target.
func (g Gate) SignIn() string {
	return g.signIn
}

// Clean normalizes a route path: leading slash, no trailing slash, no
// query or fragment.
func Clean(routePath string) string {
	if idx := strings.IndexAny(routePath, "?#"); idx >= 0 {
		routePath = routePath[:idx]
	}
	routePath = strings.TrimSpace(routePath)
	if routePath == "" {
		return "/"
	}
	if !strings.HasPrefix(routePath, "/") {
		routePath = "/" + routePath
	}
	return path.Clean(routePath)
}
