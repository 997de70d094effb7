// Package idgen generates short, URL-safe session ids.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// SessionPrefix is prepended to session ids.
	SessionPrefix = "s-"

	alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	length   = 12
)

// NewSessionID returns a fresh session id.
func NewSessionID() (string, error) {
	return withPrefix(SessionPrefix)
}

func withPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
