package util

import "github.com/google/uuid"

// NewID returns a random UUID string used for event ids and object keys.
func NewID() string {
	return uuid.NewString()
}
