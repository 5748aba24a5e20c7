package model

import "time"

// TokenMetadata carries the verified access-token details from the auth
// middleware to the logout path, where the JTI is blacklisted until expiry.
type TokenMetadata struct {
	UserID    string
	JTI       string
	ExpiresAt time.Time
}
