package httpapi

import (
	"bytes"
	"fmt"
	"html"
	"strings"
)

// basePath is the URL prefix the front end is mounted under: empty, or a
// path with one leading slash and no trailing slash.
type basePath string

func parseBasePath(raw string) basePath {
	trimmed := strings.Trim(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return ""
	}
	return basePath("/" + trimmed)
}

// Join prefixes an absolute route.
func (b basePath) Join(route string) string {
	return string(b) + route
}

// Href is the value of the page's <base href>, always ending in a slash.
func (b basePath) Href() string {
	return string(b) + "/"
}

const (
	baseHrefPlaceholder = "<!-- BASE_HREF -->"
	routePlaceholder    = "PAGE_ROUTE"
)

// renderShell fills the page shell with the base href and the route the
// client script should show.
func renderShell(shell []byte, base basePath, route string) []byte {
	tag := fmt.Sprintf(`<base href="%s" />`, html.EscapeString(base.Href()))
	out := bytes.ReplaceAll(shell, []byte(baseHrefPlaceholder), []byte(tag))
	return bytes.ReplaceAll(out, []byte(routePlaceholder), []byte(html.EscapeString(route)))
}
