package uuidx

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// New returns a version 7 UUID. It panics if the clock or entropy source fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns New formatted as a string.
func NewString() string {
	return New().String()
}

// Short returns New as 32 hex digits without dashes, the form used for
// agent session ids.
func Short() string {
	u := New()
	return hex.EncodeToString(u[:])
}
