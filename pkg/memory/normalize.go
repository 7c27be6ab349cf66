package memory

import "strings"

// selfReferences are the pronouns that resolve to the scope owner rather
// than to an entity of their own.
var selfReferences = map[string]bool{
	"i":      true,
	"me":     true,
	"my":     true,
	"mine":   true,
	"myself": true,
	"user":   true,
}

// NormalizeToken produces the canonical key form used for every store
// lookup and uniqueness check: lowercase, internal spaces as underscores.
func NormalizeToken(token string) string {
	token = strings.ToLower(strings.TrimSpace(token))
	return strings.ReplaceAll(token, " ", "_")
}

// ResolveSelfReference maps first-person tokens to the owner identifier.
// The token must already be normalized.
func ResolveSelfReference(token, owner string) string {
	if selfReferences[token] {
		return NormalizeToken(owner)
	}
	return token
}
