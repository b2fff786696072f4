// Package normalize canonicalizes page URLs and question text so that
// equivalent inputs produce equal lookup keys.
package normalize

import (
	"net/url"
	"strings"
)

// URL returns origin + path with a single trailing slash removed.
// Query strings and fragments are dropped. Input that does not parse
// as an absolute URL is stripped textually instead; URL never fails.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return stripFallback(raw)
	}
	return origin(u) + strings.TrimSuffix(u.EscapedPath(), "/")
}

// origin mirrors the browser notion: scheme://host[:port], with the
// default port for the scheme omitted.
func origin(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	switch {
	case port == "":
	case u.Scheme == "http" && port == "80":
		port = ""
	case u.Scheme == "https" && port == "443":
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	return u.Scheme + "://" + host
}

func stripFallback(raw string) string {
	s, _, _ := strings.Cut(raw, "?")
	s, _, _ = strings.Cut(s, "#")
	return strings.TrimSuffix(s, "/")
}

// Text trims, collapses whitespace runs to a single space and lowercases.
func Text(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}
