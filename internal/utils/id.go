package utils

import "github.com/google/uuid"

// NewID returns a fresh identifier such as "note-0b6c...".
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
