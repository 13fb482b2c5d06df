package auth

import "time"

// Identity is the authenticated principal behind a session. Anonymous
// identities have no email and are never persisted as credentials.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
	Anonymous   bool
}

// Credential is a stored email/password login. It carries no JSON tags for
// the API; the docstore field names are set in the repository.
type Credential struct {
	UID          string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// Identity returns the principal a credential signs in as.
func (c Credential) Identity() Identity {
	return Identity{UID: c.UID, Email: c.Email, DisplayName: c.DisplayName}
}

// RegisterRequest contains staff registration data supplied by callers.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// LoginRequest contains email/password credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Claims is the verified content of a session token.
type Claims struct {
	Identity
	SessionID string
	ExpiresAt time.Time
}
