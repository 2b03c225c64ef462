package utils

import (
	"time"

	"github.com/google/uuid"
)

// GenerateID returns a new unique identifier string
func GenerateID() string {
	return uuid.New().String()
}

// ValidID reports whether id parses as a UUID
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Now returns the current UTC time at the millisecond precision persisted by the stores
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
