// Package uuid generates random identifiers.
package uuid

import "github.com/google/uuid"

// New returns a new random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}
