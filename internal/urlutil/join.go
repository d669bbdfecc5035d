package urlutil

import (
	"net/url"
	"path"
	"strings"
)

// JoinPath joins URL paths onto base, handling trailing and leading slashes
func JoinPath(base string, paths ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	allPaths := append([]string{u.Path}, paths...)
	u.Path = path.Join(allPaths...)

	// Preserve trailing slash if the last path component had one
	if len(paths) > 0 && strings.HasSuffix(paths[len(paths)-1], "/") {
		u.Path += "/"
	}

	return u.String(), nil
}

// LocalPath reports whether target is a same-origin path that is safe to
// redirect a browser to after login: it must start with a single "/" and
// carry no scheme or host. "//evil.example" and "/\evil.example" are
// treated by browsers as protocol-relative and are rejected.
func LocalPath(target string) bool {
	if target == "" || target[0] != '/' {
		return false
	}
	if len(target) > 1 && (target[1] == '/' || target[1] == '\\') {
		return false
	}
	if strings.ContainsAny(target, "\r\n\t") {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}

// SafeReturnPath returns target if it is a LocalPath and fallback otherwise.
func SafeReturnPath(target, fallback string) string {
	if LocalPath(target) {
		return target
	}
	return fallback
}
