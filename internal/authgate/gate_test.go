package authgate

import "testing"

func TestRedirectPolicy(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		path     string
		redirect bool
	}{
		{name: "chat unauthenticated", token: "", path: "/chat", redirect: true},
		{name: "product unauthenticated", token: "", path: "/product", redirect: false},
		{name: "root unauthenticated", token: "", path: "/", redirect: false},
		{name: "signin unauthenticated", token: "", path: "/signin", redirect: false},
		{name: "signup unauthenticated", token: "", path: "/signup", redirect: false},
		{name: "chat authenticated", token: "tok", path: "/chat", redirect: false},
		{name: "nested unauthenticated", token: "", path: "/account/settings", redirect: true},
		{name: "trailing slash", token: "", path: "/product/", redirect: false},
		{name: "query string", token: "", path: "/signup?ref=home", redirect: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, ok := Redirect(tt.token, tt.path)
			if ok != tt.redirect {
				t.Fatalf("expected redirect=%v, got %v", tt.redirect, ok)
			}
			if ok && target != "/signin" {
				t.Fatalf("expected /signin, got %q", target)
			}
			if !ok && target != "" {
				t.Fatalf("expected empty target, got %q", target)
			}
		})
	}
}

func TestRedirectTargetNeverRedirects(t *testing.T) {
	for _, p := range []string{"/chat", "/x", "/a/b/c", ""} {
		target, ok := Redirect("", p)
		if !ok {
			continue
		}
		if _, again := Redirect("", target); again {
			t.Fatalf("redirect target %q redirects again", target)
		}
	}
}

func TestCustomGateAddsSignInRoute(t *testing.T) {
	gate := New([]string{"/"}, "/login")
	target, ok := gate.Redirect("", "/chat")
	if !ok || target != "/login" {
		t.Fatalf("expected /login redirect, got %q %v", target, ok)
	}
	if !gate.Public("/login") {
		t.Fatalf("expected sign-in route to be public")
	}
	if gate.Public("/signup") {
		t.Fatalf("did not expect default routes on custom gate")
	}
}

func TestClean(t *testing.T) {
	tests := map[string]string{
		"":           "/",
		"chat":       "/chat",
		"/chat/":     "/chat",
		"/a/../chat": "/chat",
		"/chat?x=1":  "/chat",
		"/chat#frag": "/chat",
	}
	for in, want := range tests {
		if got := Clean(in); got != want {
			t.Fatalf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}
