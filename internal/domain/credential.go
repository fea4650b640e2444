package domain

import "time"

// Credential is a short-lived bearer token handed out by the session
// collaborator. It is replaced wholesale on refresh, never edited.
type Credential struct {
	Token string
	// Subject is the authenticated user id, when the token carries one.
	Subject string
	// Name is the display name claim, when the token carries one.
	Name      string
	ExpiresAt time.Time
}

// Valid reports whether the credential can still be attached to a request at now.
// A zero ExpiresAt never expires.
func (c Credential) Valid(now time.Time) bool {
	if c.Token == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// Header returns the Authorization header value for the credential.
func (c Credential) Header() string {
	return "Bearer " + c.Token
}
