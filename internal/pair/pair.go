// Package pair derives the canonical key that addresses a two-party
// conversation. The key names both the conversation's database file and its
// broadcast room, so it must never change for an existing pair.
package pair

import (
	"regexp"
	"strings"
)

// Separator joins the two identities of a key. Identities accepted by
// ValidIdentity never contain it.
const Separator = "_"

var identityPattern = regexp.MustCompile(`^[A-Za-z0-9.-]{3,32}$`)

// Key returns the pair key for a and b. Key(a, b) == Key(b, a).
func Key(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + Separator + b
}

// Split returns the two identities of a key in sorted order. It fails for
// keys that Key could not have produced from two valid identities.
func Split(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, Separator)
	if !ok || !ValidIdentity(a) || !ValidIdentity(b) || b < a {
		return "", "", false
	}
	return a, b, true
}

// Other returns the participant of key that is not me.
func Other(key, me string) (string, bool) {
	a, b, ok := Split(key)
	if !ok {
		return "", false
	}
	switch me {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

// Has reports whether user is one of the participants of key.
func Has(key, user string) bool {
	_, ok := Other(key, user)
	return ok
}

// ValidIdentity reports whether s may be registered as a user identity.
func ValidIdentity(s string) bool {
	return identityPattern.MatchString(s)
}
