package service

import (
	"time"
)

// GetExpiresAt turns an expires_in value in seconds into an absolute time.
func GetExpiresAt(expiresIn int) time.Time {
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}
