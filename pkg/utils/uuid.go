package utils

import "github.com/google/uuid"

// UUID returns a new random (v4) UUID string, the shared id generator for
// every diff and notification the operational store mints.
func UUID() string {
	return uuid.NewString()
}
