package auth

import (
	"crypto/sha256"
	"crypto/subtle"
)

// TokenMatches compares a presented token with the expected one in constant
// time. Both are hashed first so their lengths do not leak.
func TokenMatches(presented, expected string) bool {
	if presented == "" || expected == "" {
		return false
	}

	p := sha256.Sum256([]byte(presented))
	e := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(p[:], e[:]) == 1
}
