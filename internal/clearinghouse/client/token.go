package client

import (
	"strings"
	"unicode"
)

const tokenScheme = "token"

// NormalizeToken trims whitespace and strips an optional "Token" scheme
// followed by whitespace, so values copied from the API docs do not produce
// "Token Token <t>" headers. A bare "Token" normalizes to the empty string.
func NormalizeToken(token string) string {
	token = strings.TrimSpace(token)
	if strings.EqualFold(token, tokenScheme) {
		return ""
	}
	if len(token) > len(tokenScheme) && strings.EqualFold(token[:len(tokenScheme)], tokenScheme) {
		rest := token[len(tokenScheme):]
		if r := rune(rest[0]); unicode.IsSpace(r) {
			return strings.TrimSpace(rest)
		}
	}
	return token
}
