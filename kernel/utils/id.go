package utils

import "github.com/google/uuid"

// GenerateID returns a random identifier for sessions and subscribers.
func GenerateID() string {
	return uuid.NewString()
}

// ShortID truncates an identifier for log output.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
