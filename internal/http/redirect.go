package http

import (
	"net/url"
	"strings"
)

// LocalRedirect returns target if it is a path on this site, fallback otherwise.
// Absolute URLs, scheme-relative URLs and backslash tricks are rejected so a
// "next" parameter cannot send the user to another origin.
func LocalRedirect(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") {
		return fallback
	}
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") || strings.ContainsAny(target, "\r\n") {
		return fallback
	}

	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return target
}

// LoginRedirect returns the login URL carrying requested as the post-login destination.
func LoginRedirect(loginPath, requested string) string {
	if requested == "" || requested == loginPath {
		return loginPath
	}
	return loginPath + "?" + url.Values{"next": {requested}}.Encode()
}
