package invite

import (
	"regexp"
	"strings"
)

// Room identifiers arrive in a few shapes depending on the routing layer in
// front of us: a bare code ("ABC123"), a namespaced path ("games/ABC123"),
// or a colon-composite ("ns:ABC123"). The canonical invite code is the last
// colon-delimited token of the last slash-delimited segment.

var inviteCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Resolve maps a raw room identifier to its canonical invite code. It is
// total: unknown formats degrade to returning the whole string.
func Resolve(raw string) string {
	code := raw
	if i := strings.LastIndex(code, "/"); i >= 0 {
		code = code[i+1:]
	}
	if i := strings.LastIndex(code, ":"); i >= 0 {
		code = code[i+1:]
	}
	if code == "" {
		return raw
	}
	return code
}

// Normalize folds a user-typed code to the canonical form codes are
// generated in.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValid reports whether a resolved code is usable as a session key.
func IsValid(code string) bool {
	return inviteCodePattern.MatchString(code)
}
