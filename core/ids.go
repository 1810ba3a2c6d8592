package core

import (
	"strings"

	"github.com/google/uuid"
)

func randomHex(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// newBranch returns an RFC 3261 magic-cookie branch.
func newBranch() string {
	return "z9hG4bK" + randomHex(16)
}

func newTag() string {
	return randomHex(8)
}

func newCallID(host string) string {
	return randomHex(32) + "@" + host
}
