package model

import "time"

// Role is the portal access level of an account.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleAnalyst Role = "ANALYST"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleAnalyst
}

// User is a portal account row.
type User struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	Role          Role      `json:"role"`
	EmailVerified bool      `json:"email_verified"`
	FirstLogin    bool      `json:"first_login"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserDetail holds the extended profile captured when an admin creates an
// analyst account.
type UserDetail struct {
	UserID      int64  `json:"user_id"`
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number"`
	IDNumber    string `json:"id_number"`
}

// Analyst is the admin-facing listing row: account plus profile.
type Analyst struct {
	User
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number"`
	IDNumber    string `json:"id_number"`
}

// OTPChallenge is a pending email verification challenge. The secret is a
// per-challenge TOTP seed; the code itself is never stored.
type OTPChallenge struct {
	ID        int64
	UserID    int64
	Secret    string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// Session is the server-side session payload kept in Redis, keyed by the
// opaque token that also rides inside the auth cookie JWT.
type Session struct {
	Token     string    `json:"-"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}
